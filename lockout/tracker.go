// Package lockout counts failed authentication and biometric attempts and
// computes the temporary lockout window that blocks further attempts.
package lockout

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/meridianbank/mobilecore/securestore"
)

// Config holds lockout behavior settings
type Config struct {
	MaxFailures     int           // attempts before a lockout starts
	LockoutDuration time.Duration // how long the lockout lasts
}

// DefaultConfig returns the standard 5-strikes / 15-minute policy
func DefaultConfig() Config {
	return Config{
		MaxFailures:     5,
		LockoutDuration: 15 * time.Minute,
	}
}

// Tracker persists the failure count and lockout deadline in the secure
// store. Storage errors are swallowed and read as "not locked out" — fail
// open for availability, so a corrupt store never strands a legitimate user.
// The internal mutex makes the read-increment-write sequence atomic across
// call sites.
type Tracker struct {
	store  securestore.Store
	config Config
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewTracker creates a Tracker over the given store
func NewTracker(store securestore.Store, config Config, logger *slog.Logger) *Tracker {
	if config.MaxFailures <= 0 {
		config = DefaultConfig()
	}
	return &Tracker{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the tracker's clock, for tests
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// RecordFailedAttempt increments the persisted failure count and returns the
// new count. Reaching MaxFailures sets the lockout deadline.
func (t *Tracker) RecordFailedAttempt(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.failedAttemptsLocked(ctx) + 1
	if !t.store.Set(ctx, securestore.KeyFailedAttempts, strconv.Itoa(count)) {
		t.logger.Warn("failed to persist attempt count", slog.Int("count", count))
	}

	if count >= t.config.MaxFailures {
		until := t.now().Add(t.config.LockoutDuration)
		if !t.store.Set(ctx, securestore.KeyLockoutUntil, until.Format(time.RFC3339Nano)) {
			t.logger.Warn("failed to persist lockout deadline")
		}
		t.logger.Warn("account locked out",
			slog.Int("failed_attempts", count),
			slog.Time("locked_until", until))
	}

	return count
}

// ResetFailedAttempts clears both the failure count and the lockout deadline
func (t *Tracker) ResetFailedAttempts(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(ctx)
}

// IsLockedOut reports whether a lockout deadline exists in the future. An
// expired deadline is self-healing: the record is reset on read, no external
// clearing step is required.
func (t *Tracker) IsLockedOut(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.lockoutDeadlineLocked(ctx)
	if !ok {
		return false
	}
	if !t.now().Before(until) {
		t.resetLocked(ctx)
		return false
	}
	return true
}

// LockoutRemaining returns the remaining lockout time rounded up to whole
// seconds, or zero when not locked out
func (t *Tracker) LockoutRemaining(ctx context.Context) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.lockoutDeadlineLocked(ctx)
	if !ok {
		return 0
	}
	remaining := until.Sub(t.now())
	if remaining <= 0 {
		t.resetLocked(ctx)
		return 0
	}
	return time.Duration(math.Ceil(remaining.Seconds())) * time.Second
}

// FailedAttempts returns the current persisted failure count
func (t *Tracker) FailedAttempts(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedAttemptsLocked(ctx)
}

func (t *Tracker) failedAttemptsLocked(ctx context.Context) int {
	raw, ok := t.store.Get(ctx, securestore.KeyFailedAttempts)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		t.logger.Warn("invalid attempt count in secure store", slog.String("raw", raw))
		return 0
	}
	return count
}

func (t *Tracker) lockoutDeadlineLocked(ctx context.Context) (time.Time, bool) {
	raw, ok := t.store.Get(ctx, securestore.KeyLockoutUntil)
	if !ok {
		return time.Time{}, false
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.logger.Warn("invalid lockout deadline in secure store", slog.String("raw", raw))
		return time.Time{}, false
	}
	return until, true
}

func (t *Tracker) resetLocked(ctx context.Context) {
	if !t.store.Remove(ctx, securestore.KeyFailedAttempts) {
		t.logger.Warn("failed to clear attempt count")
	}
	if !t.store.Remove(ctx, securestore.KeyLockoutUntil) {
		t.logger.Warn("failed to clear lockout deadline")
	}
}

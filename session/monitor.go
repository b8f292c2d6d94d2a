package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig holds the lifecycle timeout settings
type MonitorConfig struct {
	SessionTimeout    time.Duration // max time backgrounded before forced re-auth
	InactivityTimeout time.Duration // max time without user interaction
	CheckInterval     time.Duration // how often the inactivity check runs
}

// DefaultMonitorConfig returns the standard 5m background / 10m inactivity
// policy with a 60s check interval
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SessionTimeout:    5 * time.Minute,
		InactivityTimeout: 10 * time.Minute,
		CheckInterval:     60 * time.Second,
	}
}

// Monitor enforces the two session lifecycle timers: the
// background/foreground timer that forces re-auth after the app has been
// backgrounded too long, and the inactivity timer that triggers a secure
// logout when no user interaction has been recorded. Both are wall-clock
// based; device clock changes are a documented limitation, not a guarded
// invariant.
type Monitor struct {
	config     MonitorConfig
	onTimeout  func() // backgrounded past SessionTimeout
	onInactive func() // no activity past InactivityTimeout
	logger     *slog.Logger

	mu             sync.Mutex
	backgroundedAt *time.Time
	lastActivity   time.Time
	now            func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMonitor creates a lifecycle monitor. onTimeout fires when the app
// returns to the foreground after exceeding the session timeout; onInactive
// fires when the inactivity threshold is exceeded. Both callbacks run on the
// monitor's goroutine (or the caller's, for foreground transitions) and must
// not block.
func NewMonitor(config MonitorConfig, onTimeout, onInactive func(), logger *slog.Logger) *Monitor {
	if config.SessionTimeout <= 0 || config.InactivityTimeout <= 0 || config.CheckInterval <= 0 {
		config = DefaultMonitorConfig()
	}
	m := &Monitor{
		config:     config,
		onTimeout:  onTimeout,
		onInactive: onInactive,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	m.lastActivity = m.now()
	return m
}

// SetClock overrides the monitor's clock, for tests
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.lastActivity = now()
}

// Start runs the periodic inactivity check until Stop is called or ctx is
// cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckInactivity()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Stop tears the monitor down. No callback fires after Stop returns; a
// monitor left running after its screen is gone would fire logout
// transitions spuriously.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// EnterBackground records the moment the app left the foreground
func (m *Monitor) EnterBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	m.backgroundedAt = &ts
}

// EnterForeground completes a background/foreground cycle. If the app was
// backgrounded longer than the session timeout, the timeout callback fires
// exactly once for the cycle, regardless of token expiry.
func (m *Monitor) EnterForeground() {
	m.mu.Lock()
	if m.backgroundedAt == nil {
		m.mu.Unlock()
		return
	}

	elapsed := m.now().Sub(*m.backgroundedAt)
	m.backgroundedAt = nil
	// Returning to the foreground counts as activity
	m.lastActivity = m.now()
	timedOut := elapsed > m.config.SessionTimeout
	m.mu.Unlock()

	if timedOut {
		m.logger.Info("session timed out in background",
			slog.Duration("elapsed", elapsed),
			slog.Duration("limit", m.config.SessionTimeout))
		if m.onTimeout != nil {
			m.onTimeout()
		}
	}
}

// RecordActivity stamps the last user interaction. UI surfaces call this
// from their interaction points.
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
}

// CheckInactivity fires the inactivity callback when the threshold has been
// exceeded. Exposed so tests can drive the check deterministically; the
// Start loop calls it on every tick.
func (m *Monitor) CheckInactivity() {
	m.mu.Lock()
	idle := m.now().Sub(m.lastActivity)
	inactive := idle > m.config.InactivityTimeout
	if inactive {
		// Restamp so a single idle period triggers one logout, not one per tick
		m.lastActivity = m.now()
	}
	m.mu.Unlock()

	if inactive {
		m.logger.Info("inactivity timeout exceeded",
			slog.Duration("idle", idle),
			slog.Duration("limit", m.config.InactivityTimeout))
		if m.onInactive != nil {
			m.onInactive()
		}
	}
}

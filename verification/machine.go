// Package verification drives the bounded-retry face-capture flow that must
// complete before a money transfer is finalized. Each transfer gets its own
// Machine; three failed attempts cancel the pending transfer.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/meridianbank/mobilecore/bankapi"
	"github.com/meridianbank/mobilecore/models"
	pkglogger "github.com/meridianbank/mobilecore/pkg/logger"
)

// MaxAttempts is the bound on face verification tries per transfer
const MaxAttempts = 3

// State is the verification flow state
type State int

const (
	StateAwaitingCapture State = iota
	StateVerifying
	StateVerified
	StateRetryableFailure
	StateExhaustedFailure
)

func (s State) String() string {
	switch s {
	case StateAwaitingCapture:
		return "awaiting_capture"
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	case StateRetryableFailure:
		return "retryable_failure"
	case StateExhaustedFailure:
		return "exhausted_failure"
	default:
		return "unknown"
	}
}

// FailureKind classifies a failed attempt to select the user-facing message
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureFaceNotRecognized
	FailureNetwork
	FailureSessionExpired
	FailureGeneric
)

// User-facing messages per failure kind
const (
	msgFaceNotRecognized = "face not recognized, please try again"
	msgNetwork           = "check your connection and try again"
	msgSessionExpired    = "your session has expired, please sign in again"
	msgGeneric           = "verification failed, please try again"
)

// Outcome reports the result of one capture submission
type Outcome struct {
	State             State
	Kind              FailureKind
	Message           string
	AttemptsRemaining int
}

// Verifier is the slice of the bank API the machine needs
type Verifier interface {
	VerifyFace(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error)
	CancelTransfer(ctx context.Context, transferID string) error
}

// Machine is the per-transfer verification state machine. Attempts increase
// by exactly one per failure; the remote cancel is issued exactly once, only
// on exhaustion; and a Verified outcome is only reachable from a live
// Verifying state. Abort bumps an internal generation counter so a late
// response from an abandoned flow cannot mutate state.
type Machine struct {
	transferID  string
	api         Verifier
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	maxAttempts int

	mu         sync.Mutex
	state      State
	attempts   int
	generation uint64
	aborted    bool
	cancelled  bool
}

// NewMachine creates a verification machine for one transfer. maxAttempts
// values below 1 fall back to the standard bound.
func NewMachine(transferID string, api Verifier, maxAttempts int, logger *slog.Logger, audit *pkglogger.AuditLogger) *Machine {
	if maxAttempts < 1 {
		maxAttempts = MaxAttempts
	}
	return &Machine{
		transferID:  transferID,
		api:         api,
		logger:      logger,
		audit:       audit,
		maxAttempts: maxAttempts,
		state:       StateAwaitingCapture,
	}
}

// State returns the current flow state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AttemptsRemaining returns how many capture attempts are left
func (m *Machine) AttemptsRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAttempts - m.attempts
}

// Abort abandons the flow, typically because the user navigated away. Any
// in-flight response is discarded when it lands; no remote cancel is issued.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	m.generation++
	if m.state == StateVerifying {
		m.state = StateAwaitingCapture
	}
}

// SubmitCapture sends a captured photo to the verification endpoint and
// advances the state machine with the result. On success the returned error
// is nil; a retryable failure returns ErrVerificationFailed and exhaustion
// returns ErrTransferCancelled after the pending transfer has been cancelled.
func (m *Machine) SubmitCapture(ctx context.Context, photo []byte) (Outcome, error) {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return Outcome{State: m.state}, models.ErrVerificationAborted
	}
	if m.state != StateAwaitingCapture {
		state := m.state
		m.mu.Unlock()
		return Outcome{State: state}, fmt.Errorf("capture not accepted in state %s: %w", state, models.ErrVerificationFailed)
	}
	if m.attempts >= m.maxAttempts {
		m.mu.Unlock()
		return Outcome{State: StateExhaustedFailure}, models.ErrTransferCancelled
	}

	gen := m.generation
	m.state = StateVerifying
	m.mu.Unlock()

	resp, err := m.api.VerifyFace(ctx, m.transferID, photo)

	m.mu.Lock()
	if gen != m.generation || m.state != StateVerifying {
		// Stale response: the flow was aborted while the request was in
		// flight. Drop it without touching state.
		m.mu.Unlock()
		m.logger.Info("stale verification response discarded",
			slog.String("transfer_id", m.transferID))
		return Outcome{State: m.State()}, models.ErrVerificationAborted
	}

	if err == nil && resp != nil && resp.Verified {
		m.state = StateVerified
		attempt := m.attempts + 1
		m.mu.Unlock()

		m.audit.LogVerificationEvent("verification_succeeded", m.transferID, attempt, nil)
		m.logger.Info("transfer identity verified",
			slog.String("transfer_id", m.transferID),
			slog.Int("attempt", attempt))
		return Outcome{State: StateVerified}, nil
	}

	kind, msg := classifyFailure(err, resp)
	m.attempts++
	attempt := m.attempts

	if m.attempts >= m.maxAttempts {
		m.state = StateExhaustedFailure
		alreadyCancelled := m.cancelled
		m.cancelled = true
		m.mu.Unlock()

		if !alreadyCancelled {
			if cancelErr := m.api.CancelTransfer(ctx, m.transferID); cancelErr != nil {
				// Best effort; the user still gets routed back
				m.logger.Warn("failed to cancel transfer after exhausted verification",
					slog.String("transfer_id", m.transferID),
					slog.Any("error", cancelErr))
			}
		}

		m.audit.LogVerificationEvent("verification_exhausted", m.transferID, attempt,
			map[string]string{"reason": msg})
		return Outcome{
			State:   StateExhaustedFailure,
			Kind:    kind,
			Message: msg,
		}, fmt.Errorf("%s: %w", msg, models.ErrTransferCancelled)
	}

	// Back to capture with the remaining-attempts count surfaced
	m.state = StateAwaitingCapture
	remaining := m.maxAttempts - m.attempts
	m.mu.Unlock()

	m.audit.LogVerificationEvent("verification_retry", m.transferID, attempt,
		map[string]string{"reason": msg})
	return Outcome{
		State:             StateRetryableFailure,
		Kind:              kind,
		Message:           msg,
		AttemptsRemaining: remaining,
	}, fmt.Errorf("%s: %w", msg, models.ErrVerificationFailed)
}

// classifyFailure buckets a failed attempt by error identity and message
// content, mirroring how the backend phrases its rejections
func classifyFailure(err error, resp *bankapi.VerifyFaceResponse) (FailureKind, string) {
	if err == nil {
		// Remote answered but did not match the face
		return FailureFaceNotRecognized, msgFaceNotRecognized
	}

	switch {
	case errors.Is(err, models.ErrSessionExpired):
		return FailureSessionExpired, msgSessionExpired
	case errors.Is(err, models.ErrNetwork):
		return FailureNetwork, msgNetwork
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "face") || strings.Contains(lower, "not recognized"):
		return FailureFaceNotRecognized, msgFaceNotRecognized
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "network"):
		return FailureNetwork, msgNetwork
	case strings.Contains(lower, "session") || strings.Contains(lower, "expired"):
		return FailureSessionExpired, msgSessionExpired
	default:
		return FailureGeneric, msgGeneric
	}
}

package verification_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/mobilecore/bankapi"
	"github.com/meridianbank/mobilecore/models"
	pkglogger "github.com/meridianbank/mobilecore/pkg/logger"
	"github.com/meridianbank/mobilecore/verification"
)

// mockVerifier implements verification.Verifier for testing
type mockVerifier struct {
	VerifyFaceFunc func(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error)
	cancelCalls    int
	cancelledIDs   []string
}

func (m *mockVerifier) VerifyFace(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error) {
	if m.VerifyFaceFunc != nil {
		return m.VerifyFaceFunc(ctx, transferID, photo)
	}
	return &bankapi.VerifyFaceResponse{Verified: false, Status: "pending"}, nil
}

func (m *mockVerifier) CancelTransfer(ctx context.Context, transferID string) error {
	m.cancelCalls++
	m.cancelledIDs = append(m.cancelledIDs, transferID)
	return nil
}

func newMachine(t *testing.T, api *mockVerifier) *verification.Machine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return verification.NewMachine("txn-42", api, verification.MaxAttempts, logger, pkglogger.NewAuditLogger(logger))
}

func TestThreeNoMatchesCancelTransferOnce(t *testing.T) {
	api := &mockVerifier{}
	machine := newMachine(t, api)
	ctx := context.Background()
	photo := []byte("jpeg-bytes")

	outcome, err := machine.SubmitCapture(ctx, photo)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
	assert.Equal(t, verification.StateRetryableFailure, outcome.State)
	assert.Equal(t, 2, outcome.AttemptsRemaining)
	assert.Equal(t, verification.StateAwaitingCapture, machine.State())

	outcome, err = machine.SubmitCapture(ctx, photo)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
	assert.Equal(t, 1, outcome.AttemptsRemaining)

	outcome, err = machine.SubmitCapture(ctx, photo)
	assert.ErrorIs(t, err, models.ErrTransferCancelled)
	assert.Equal(t, verification.StateExhaustedFailure, outcome.State)
	assert.Equal(t, verification.StateExhaustedFailure, machine.State())

	assert.Equal(t, 1, api.cancelCalls)
	assert.Equal(t, []string{"txn-42"}, api.cancelledIDs)

	// A further capture cannot resurrect the flow or cancel again
	_, err = machine.SubmitCapture(ctx, photo)
	assert.Error(t, err)
	assert.Equal(t, 1, api.cancelCalls)
}

func TestMatchOnSecondAttempt(t *testing.T) {
	calls := 0
	api := &mockVerifier{}
	api.VerifyFaceFunc = func(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error) {
		calls++
		if calls == 1 {
			return &bankapi.VerifyFaceResponse{Verified: false, Status: "no_match"}, nil
		}
		return &bankapi.VerifyFaceResponse{Verified: true, Status: "completed"}, nil
	}
	machine := newMachine(t, api)
	ctx := context.Background()

	_, err := machine.SubmitCapture(ctx, []byte("photo-1"))
	assert.ErrorIs(t, err, models.ErrVerificationFailed)

	outcome, err := machine.SubmitCapture(ctx, []byte("photo-2"))
	require.NoError(t, err)
	assert.Equal(t, verification.StateVerified, outcome.State)
	assert.Equal(t, verification.StateVerified, machine.State())
	assert.Equal(t, 0, api.cancelCalls)
}

func TestAttemptsIncreaseByOnePerFailure(t *testing.T) {
	api := &mockVerifier{}
	machine := newMachine(t, api)
	ctx := context.Background()

	assert.Equal(t, 3, machine.AttemptsRemaining())
	machine.SubmitCapture(ctx, []byte("p"))
	assert.Equal(t, 2, machine.AttemptsRemaining())
	machine.SubmitCapture(ctx, []byte("p"))
	assert.Equal(t, 1, machine.AttemptsRemaining())
}

func TestConfiguredAttemptLimitIsHonored(t *testing.T) {
	api := &mockVerifier{}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	machine := verification.NewMachine("txn-7", api, 2, logger, pkglogger.NewAuditLogger(logger))
	ctx := context.Background()

	assert.Equal(t, 2, machine.AttemptsRemaining())

	_, err := machine.SubmitCapture(ctx, []byte("p"))
	assert.ErrorIs(t, err, models.ErrVerificationFailed)

	outcome, err := machine.SubmitCapture(ctx, []byte("p"))
	assert.ErrorIs(t, err, models.ErrTransferCancelled)
	assert.Equal(t, verification.StateExhaustedFailure, outcome.State)
	assert.Equal(t, 1, api.cancelCalls)
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind verification.FailureKind
	}{
		{"network", fmt.Errorf("POST /transfer/txn-42/verify-face: %w", models.ErrNetwork), verification.FailureNetwork},
		{"session expired", fmt.Errorf("POST: %w", models.ErrSessionExpired), verification.FailureSessionExpired},
		{"face message", errors.New("face not recognized in frame"), verification.FailureFaceNotRecognized},
		{"timeout message", errors.New("request timeout exceeded"), verification.FailureNetwork},
		{"generic", errors.New("internal server error"), verification.FailureGeneric},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &mockVerifier{}
			api.VerifyFaceFunc = func(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error) {
				return nil, tc.err
			}
			machine := newMachine(t, api)

			outcome, err := machine.SubmitCapture(context.Background(), []byte("p"))
			assert.ErrorIs(t, err, models.ErrVerificationFailed)
			assert.Equal(t, tc.kind, outcome.Kind)
			assert.NotEmpty(t, outcome.Message)
		})
	}
}

func TestStaleResponseAfterAbortIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	api := &mockVerifier{}
	api.VerifyFaceFunc = func(ctx context.Context, transferID string, photo []byte) (*bankapi.VerifyFaceResponse, error) {
		<-release
		return &bankapi.VerifyFaceResponse{Verified: true, Status: "completed"}, nil
	}
	machine := newMachine(t, api)

	type result struct {
		outcome verification.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := machine.SubmitCapture(context.Background(), []byte("p"))
		done <- result{outcome, err}
	}()

	// Wait for the request to be in flight, then navigate away
	require.Eventually(t, func() bool {
		return machine.State() == verification.StateVerifying
	}, time.Second, 5*time.Millisecond)

	machine.Abort()
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, models.ErrVerificationAborted)

	// The late "verified" response must not have mutated state
	assert.NotEqual(t, verification.StateVerified, machine.State())
	assert.Equal(t, 3, machine.AttemptsRemaining())
	assert.Equal(t, 0, api.cancelCalls)
}

func TestSubmitAfterAbortIsRejected(t *testing.T) {
	api := &mockVerifier{}
	machine := newMachine(t, api)

	machine.Abort()

	_, err := machine.SubmitCapture(context.Background(), []byte("p"))
	assert.ErrorIs(t, err, models.ErrVerificationAborted)
	assert.Equal(t, 0, api.cancelCalls)
}

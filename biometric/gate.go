// Package biometric wraps the platform biometric capability behind a gate
// that guards the stored credential bundle used for fast re-login. A TOTP
// fallback covers devices without enrolled biometric hardware.
package biometric

import (
	"context"
	"log/slog"

	"github.com/meridianbank/mobilecore/lockout"
	"github.com/meridianbank/mobilecore/models"
	pkglogger "github.com/meridianbank/mobilecore/pkg/logger"
	"github.com/meridianbank/mobilecore/securestore"
)

// Authenticator is the platform biometric collaborator (Face ID, fingerprint).
// Authenticate returns false on user cancel or mismatch; an error means a
// hardware or platform fault, not a failed match.
type Authenticator interface {
	Available() bool
	Authenticate(ctx context.Context) (bool, error)
}

// Gate mediates access to the stored credential bundle. Every read of the
// bundle requires a fresh successful platform challenge, and failed
// challenges feed the lockout tracker.
type Gate struct {
	platform Authenticator
	store    securestore.Store
	lockout  *lockout.Tracker
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewGate creates a biometric gate over the given platform authenticator
func NewGate(platform Authenticator, store securestore.Store, tracker *lockout.Tracker, logger *slog.Logger, audit *pkglogger.AuditLogger) *Gate {
	return &Gate{
		platform: platform,
		store:    store,
		lockout:  tracker,
		logger:   logger,
		audit:    audit,
	}
}

// IsBiometricAvailable reports whether biometric hardware is present and enrolled
func (g *Gate) IsBiometricAvailable() bool {
	return g.platform != nil && g.platform.Available()
}

// Authenticate issues a platform biometric challenge. It resolves true only
// on a genuine successful match; cancel, mismatch, and platform faults all
// resolve false. Failed matches count toward lockout; a success resets it.
func (g *Gate) Authenticate(ctx context.Context) bool {
	if !g.IsBiometricAvailable() {
		return false
	}

	if g.lockout.IsLockedOut(ctx) {
		g.logger.Warn("biometric challenge blocked by lockout",
			slog.Duration("remaining", g.lockout.LockoutRemaining(ctx)))
		return false
	}

	ok, err := g.platform.Authenticate(ctx)
	if err != nil {
		g.logger.Error("biometric challenge failed", slog.Any("error", err))
		g.audit.LogBiometricEvent("biometric_challenge", false)
		return false
	}

	if !ok {
		count := g.lockout.RecordFailedAttempt(ctx)
		g.logger.Info("biometric challenge rejected", slog.Int("failed_attempts", count))
		g.audit.LogBiometricEvent("biometric_challenge", false)
		return false
	}

	g.lockout.ResetFailedAttempts(ctx)
	g.audit.LogBiometricEvent("biometric_challenge", true)
	return true
}

// EnableBiometric stores the credential bundle after a fresh successful
// challenge. On a failed challenge nothing is persisted.
func (g *Gate) EnableBiometric(ctx context.Context, username, password string) bool {
	if !g.Authenticate(ctx) {
		g.audit.LogBiometricEvent("biometric_enable", false)
		return false
	}

	bundle := models.BiometricCredentials{Username: username, Password: password}
	if !g.store.Set(ctx, securestore.KeyBiometricCredentials, bundle) {
		g.logger.Warn("failed to persist biometric credentials")
		g.audit.LogBiometricEvent("biometric_enable", false)
		return false
	}

	g.audit.LogBiometricEvent("biometric_enable", true)
	return true
}

// DisableBiometric deletes the stored credential bundle. Idempotent.
func (g *Gate) DisableBiometric(ctx context.Context) bool {
	if !g.store.Remove(ctx, securestore.KeyBiometricCredentials) {
		g.logger.Warn("failed to remove biometric credentials")
		return false
	}
	g.audit.LogBiometricEvent("biometric_disable", true)
	return true
}

// IsBiometricEnabled reports whether a credential bundle is stored. The flag
// is derived from bundle presence, never tracked separately, so it cannot
// diverge from the store.
func (g *Gate) IsBiometricEnabled(ctx context.Context) bool {
	_, ok := g.store.Get(ctx, securestore.KeyBiometricCredentials)
	return ok
}

// Credentials returns the stored bundle after a fresh successful challenge,
// for automatic re-login
func (g *Gate) Credentials(ctx context.Context) (*models.BiometricCredentials, error) {
	if !g.IsBiometricEnabled(ctx) {
		return nil, models.ErrBiometricUnavailable
	}
	if !g.Authenticate(ctx) {
		return nil, models.ErrBiometricFailed
	}

	var bundle models.BiometricCredentials
	if !g.store.GetJSON(ctx, securestore.KeyBiometricCredentials, &bundle) {
		return nil, models.ErrStorage
	}
	return &bundle, nil
}

// Package securestore provides the encrypted key-value persistence used for
// tokens, the user profile, biometric credential bundles, and lockout
// counters. The contract is deliberately non-throwing: callers receive a
// boolean/absent result and failures are logged, never propagated, so a
// corrupt store can never crash the UI layer.
package securestore

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Well-known store keys. Every value behind these keys is encrypted at rest.
const (
	KeyAuthToken            = "auth_token"
	KeyTokenExpiresAt       = "token_expires_at"
	KeyUserProfile          = "user_profile"
	KeyBiometricCredentials = "biometric_credentials"
	KeyTOTPSecret           = "totp_secret"
	KeyFailedAttempts       = "failed_attempts"
	KeyLockoutUntil         = "lockout_until"
	KeyDeviceInstallID      = "device_install_id"
)

// SessionKeys are the keys wiped on logout or forced expiry. The biometric
// bundle and lockout counters intentionally survive a logout.
var SessionKeys = []string{KeyAuthToken, KeyTokenExpiresAt, KeyUserProfile}

// Store is the process-wide secure key-value store. Implementations must
// serialize read-modify-write sequences internally; two concurrent failure
// counter increments must not lose an update.
type Store interface {
	// Get returns the raw string value for key, or ("", false) if the key is
	// absent or the read failed.
	Get(ctx context.Context, key string) (string, bool)
	// GetJSON decodes the value for key into dest. A value that is not valid
	// JSON is passed through unchanged when dest is a *string.
	GetJSON(ctx context.Context, key string, dest any) bool
	// Set stores value under key. Non-string values are JSON-encoded
	// transparently. Returns false if the write failed.
	Set(ctx context.Context, key string, value any) bool
	// Remove deletes key. Removing an absent key succeeds.
	Remove(ctx context.Context, key string) bool
	// ClearAll removes every listed key, reporting false if any removal failed.
	ClearAll(ctx context.Context, keys ...string) bool
}

// encodeValue renders a value for storage: strings pass through, everything
// else is JSON-encoded.
func encodeValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeValue decodes a stored string into dest, passing the raw string
// through when it is not JSON and dest is a *string.
func decodeValue(raw string, dest any, logger *slog.Logger) bool {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		if s, ok := dest.(*string); ok {
			*s = raw
			return true
		}
		logger.Warn("secure store value is not valid JSON", slog.Any("error", err))
		return false
	}
	return true
}

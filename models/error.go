package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNetwork            = errors.New("network error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrLockedOut          = errors.New("account is temporarily locked")
	ErrStorage            = errors.New("secure storage error")
	ErrUnknown            = errors.New("unknown error")

	// Session manager errors
	ErrLoginInFlight    = errors.New("a login is already in progress")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Biometric errors
	ErrBiometricUnavailable = errors.New("biometric authentication unavailable")
	ErrBiometricFailed      = errors.New("biometric authentication failed")

	// Transfer verification errors
	ErrVerificationFailed  = errors.New("identity verification failed")
	ErrTransferCancelled   = errors.New("transfer cancelled")
	ErrVerificationAborted = errors.New("verification flow aborted")
)

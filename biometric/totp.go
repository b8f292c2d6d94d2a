package biometric

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/meridianbank/mobilecore/securestore"
)

// FallbackTOTP is the software second factor used when the device has no
// enrolled biometrics. The secret lives in the secure store; the provisioning
// QR is rendered once at enrollment for the settings screen.
type FallbackTOTP struct {
	store  securestore.Store
	issuer string
	logger *slog.Logger
	now    func() time.Time
}

// NewFallbackTOTP creates a TOTP fallback with the given issuer name
func NewFallbackTOTP(store securestore.Store, issuer string, logger *slog.Logger) *FallbackTOTP {
	return &FallbackTOTP{
		store:  store,
		issuer: issuer,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the clock, for tests
func (f *FallbackTOTP) SetClock(now func() time.Time) {
	f.now = now
}

// Enroll generates a new TOTP secret, persists it, and returns the secret
// plus a provisioning QR code as a PNG data URL
func (f *FallbackTOTP) Enroll(ctx context.Context, accountEmail string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      f.issuer,
		AccountName: accountEmail,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if !f.store.Set(ctx, securestore.KeyTOTPSecret, key.Secret()) {
		return "", "", fmt.Errorf("failed to persist TOTP secret")
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return "", "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)
	f.logger.Info("TOTP fallback enrolled")

	return key.Secret(), qrDataURL, nil
}

// Enrolled reports whether a TOTP secret is stored
func (f *FallbackTOTP) Enrolled(ctx context.Context) bool {
	_, ok := f.store.Get(ctx, securestore.KeyTOTPSecret)
	return ok
}

// Verify validates a TOTP code against the enrolled secret, allowing ±1 time
// step for clock drift
func (f *FallbackTOTP) Verify(ctx context.Context, code string) bool {
	secret, ok := f.store.Get(ctx, securestore.KeyTOTPSecret)
	if !ok {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, f.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		f.logger.Warn("TOTP validation failed", slog.Any("error", err))
		return false
	}
	return valid
}

// Unenroll removes the stored TOTP secret. Idempotent.
func (f *FallbackTOTP) Unenroll(ctx context.Context) bool {
	return f.store.Remove(ctx, securestore.KeyTOTPSecret)
}

// Package config loads the client core's settings from the environment, with
// defaults matching the bank's security policy.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/meridianbank/mobilecore/securestore"
)

type Config struct {
	API     APIConfig
	Auth    AuthConfig
	Session SessionConfig
	Storage StorageConfig
	Env     string `validate:"oneof=development staging production"`
}

type APIConfig struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

type AuthConfig struct {
	MaxFailedAttempts int           `validate:"gte=1"`
	LockoutDuration   time.Duration `validate:"gt=0"`
	MaxVerifyAttempts int           `validate:"gte=1"`
	TOTPIssuer        string        `validate:"required"`
}

type SessionConfig struct {
	SessionTimeout          time.Duration `validate:"gt=0"`
	InactivityTimeout       time.Duration `validate:"gt=0"`
	InactivityCheckInterval time.Duration `validate:"gt=0"`
}

type StorageConfig struct {
	Path string `validate:"required"`
}

var validate = validator.New()

// Load reads configuration from the environment (and a .env file when
// present), applies policy defaults, and validates the result
func Load() (*Config, error) {
	_ = godotenv.Load()

	baseURL := getEnv("BANK_API_BASE_URL", "")
	if baseURL == "" {
		return nil, fmt.Errorf("BANK_API_BASE_URL is required")
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: baseURL,
			Timeout: getEnvAsDuration("BANK_API_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			MaxFailedAttempts: getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			MaxVerifyAttempts: getEnvAsInt("MAX_VERIFY_ATTEMPTS", 3),
			TOTPIssuer:        getEnv("TOTP_ISSUER", "MeridianBank"),
		},
		Session: SessionConfig{
			SessionTimeout:          getEnvAsDuration("SESSION_TIMEOUT", 5*time.Minute),
			InactivityTimeout:       getEnvAsDuration("INACTIVITY_TIMEOUT", 10*time.Minute),
			InactivityCheckInterval: getEnvAsDuration("INACTIVITY_CHECK_INTERVAL", 60*time.Second),
		},
		Storage: StorageConfig{
			Path: getEnv("SECURE_STORE_PATH", "securestore.bin"),
		},
		Env: getEnv("ENV", "development"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// EnsureInstallID returns the device install identifier, generating and
// persisting one on first run. Used for audit correlation.
func EnsureInstallID(ctx context.Context, store securestore.Store) string {
	if id, ok := store.Get(ctx, securestore.KeyDeviceInstallID); ok && id != "" {
		return id
	}
	id := uuid.New().String()
	store.Set(ctx, securestore.KeyDeviceInstallID, id)
	return id
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// Package mobilecore assembles the device-side core of the mobile banking
// app: secure credential storage, lockout tracking, the biometric gate,
// session management, lifecycle monitoring, and the bank API client. The
// host app constructs one Core at startup and injects its platform
// collaborators.
package mobilecore

import (
	"context"
	"log/slog"

	"github.com/meridianbank/mobilecore/bankapi"
	"github.com/meridianbank/mobilecore/biometric"
	"github.com/meridianbank/mobilecore/config"
	"github.com/meridianbank/mobilecore/lockout"
	pkglogger "github.com/meridianbank/mobilecore/pkg/logger"
	"github.com/meridianbank/mobilecore/securestore"
	"github.com/meridianbank/mobilecore/session"
	"github.com/meridianbank/mobilecore/verification"
)

// Core is the assembled client core
type Core struct {
	Config     *config.Config
	Store      securestore.Store
	Lockout    *lockout.Tracker
	Biometrics *biometric.Gate
	TOTP       *biometric.FallbackTOTP
	API        *bankapi.Client
	Sessions   *session.Manager
	Monitor    *session.Monitor

	InstallID string

	logger *slog.Logger
	audit  *pkglogger.AuditLogger
	cancel context.CancelFunc
}

// New wires the core together. platform is the device biometric capability
// (may be nil on devices without one); keystoreSecret is the platform
// keystore secret protecting the store file.
func New(cfg *config.Config, platform biometric.Authenticator, keystoreSecret []byte, logger *slog.Logger) (*Core, error) {
	store, err := securestore.NewFileStore(cfg.Storage.Path, keystoreSecret, logger)
	if err != nil {
		return nil, err
	}
	return newCore(cfg, platform, store, logger), nil
}

// NewWithStore wires the core over an existing store, for hosts that bridge
// directly to a hardware-backed keystore
func NewWithStore(cfg *config.Config, platform biometric.Authenticator, store securestore.Store, logger *slog.Logger) *Core {
	return newCore(cfg, platform, store, logger)
}

func newCore(cfg *config.Config, platform biometric.Authenticator, store securestore.Store, logger *slog.Logger) *Core {
	audit := pkglogger.NewAuditLogger(logger)

	tracker := lockout.NewTracker(store, lockout.Config{
		MaxFailures:     cfg.Auth.MaxFailedAttempts,
		LockoutDuration: cfg.Auth.LockoutDuration,
	}, logger)

	client := bankapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout, nil, logger)
	gate := biometric.NewGate(platform, store, tracker, logger, audit)
	totp := biometric.NewFallbackTOTP(store, cfg.Auth.TOTPIssuer, logger)

	manager := session.NewManager(client, store, tracker, gate, logger, audit)
	client.SetTokenSource(manager.AccessToken)

	ctx := context.Background()
	installID := config.EnsureInstallID(ctx, store)

	monitor := session.NewMonitor(session.MonitorConfig{
		SessionTimeout:    cfg.Session.SessionTimeout,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		CheckInterval:     cfg.Session.InactivityCheckInterval,
	}, func() {
		manager.ForceExpire(context.Background(), "background timeout")
	}, func() {
		manager.ForceExpire(context.Background(), "inactivity timeout")
	}, logger)

	return &Core{
		Config:     cfg,
		Store:      store,
		Lockout:    tracker,
		Biometrics: gate,
		TOTP:       totp,
		API:        client,
		Sessions:   manager,
		Monitor:    monitor,
		InstallID:  installID,
		logger:     logger,
		audit:      audit,
	}
}

// Start restores any persisted session and begins lifecycle monitoring
func (c *Core) Start(ctx context.Context) session.State {
	state := c.Sessions.Restore(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.Monitor.Start(runCtx)

	c.logger.Info("mobile core started",
		slog.String("state", state.String()),
		slog.String("install_id", c.InstallID))
	return state
}

// Close tears down the lifecycle monitor. Must be called before the host
// discards the core or stale timers would fire against destroyed screens.
func (c *Core) Close() {
	c.Monitor.Stop()
	if c.cancel != nil {
		c.cancel()
	}
}

// NewTransferVerification starts the face verification flow for a pending
// transfer
func (c *Core) NewTransferVerification(transferID string) *verification.Machine {
	return verification.NewMachine(transferID, c.API, c.Config.Auth.MaxVerifyAttempts, c.logger, c.audit)
}

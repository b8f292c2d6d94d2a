package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a client-side security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	DeviceID      string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging for security-relevant transitions:
// logins, lockouts, biometric changes, forced expiries, and transfer
// verification outcomes
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogSessionEvent logs session lifecycle events (forced expiry, inactivity
// logout, background timeout)
func (al *AuditLogger) LogSessionEvent(eventType, userID, reason string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session"),
		slog.String("event_type", eventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// LogBiometricEvent logs biometric enable/disable and challenge outcomes
func (al *AuditLogger) LogBiometricEvent(eventType string, success bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "biometric"),
		slog.String("event_type", eventType),
		slog.Bool("success", success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogVerificationEvent logs transfer identity verification outcomes
func (al *AuditLogger) LogVerificationEvent(eventType, transferID string, attempt int, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "verification"),
		slog.String("event_type", eventType),
		slog.String("transfer_id", transferID),
		slog.Int("attempt", attempt),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

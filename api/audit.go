package api

import (
	"log/slog"
	"net/http"
)

// AuditEvent identifies the type of security-relevant action being
// logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditAutoConnect      AuditEvent = "auto_connect"
	AuditCSRFRejected     AuditEvent = "csrf_rejected"
	AuditPresetAdded      AuditEvent = "preset_added"
	AuditPresetRemoved    AuditEvent = "preset_removed"
	AuditBasicAuthChanged AuditEvent = "basic_auth_changed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Passwords and browser keys never reach it.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{logger: logger.With("component", "audit")}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", base...)
}

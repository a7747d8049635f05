package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAuthFailure        AuditEvent = "auth_failure"
	AuditTokenCreated       AuditEvent = "token_created"
	AuditCACreated          AuditEvent = "ca_created"
	AuditCertIssued         AuditEvent = "cert_issued"
	AuditCertRevoked        AuditEvent = "cert_revoked"
	AuditCertConfirmed      AuditEvent = "cert_confirmed"
	AuditCRLFlushed         AuditEvent = "crl_flushed"
	AuditCRLConfigured      AuditEvent = "crl_configured"
	AuditPartitionSuspended AuditEvent = "partition_suspended"
	AuditPartitionResumed   AuditEvent = "partition_resumed"
	AuditGroupCreated       AuditEvent = "group_created"
	AuditGroupDeleted       AuditEvent = "group_deleted"
	AuditMemberAdded        AuditEvent = "member_added"
	AuditMemberRemoved      AuditEvent = "member_removed"
	AuditRuleChanged        AuditEvent = "rule_changed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logIdentity is a convenience for events attributed to an authenticated
// identity.
func (al *auditLogger) logIdentity(event AuditEvent, r *http.Request, identity string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("identity", identity),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string) {
	al.log(event, r, slog.String("reason", reason))
}

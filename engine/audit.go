package engine

import (
	"context"
	"database/sql"
	"log/slog"
)

const auditMigration = `
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    tenant INTEGER,
    actor INTEGER,
    action TEXT NOT NULL,
    subject_type TEXT NOT NULL,
    subject_id TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL DEFAULT 1,
    details TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE INDEX IF NOT EXISTS audit_log_tenant_created_idx ON audit_log (tenant, created);
CREATE INDEX IF NOT EXISTS audit_log_action_idx ON audit_log (action, success);
`

// AuditLogger provides centralized, append-only logging of administrative
// and booking actions. Every mutating handler is expected to record what it
// did here.
type AuditLogger struct {
	db *sql.DB
}

// NewAuditLogger creates an AuditLogger and applies the audit_log table migration.
func NewAuditLogger(db *sql.DB) *AuditLogger {
	MustMigrate(db, auditMigration)
	return &AuditLogger{db: db}
}

// Log inserts an audit entry. A zero tenant or actor is stored as NULL.
// Failures are logged and swallowed - auditing never fails the request.
func (a *AuditLogger) Log(ctx context.Context, tenantID, actorID int64, action, subjectType, subjectID string, success bool, details string) {
	if a == nil || a.db == nil {
		return
	}

	successInt := 0
	if success {
		successInt = 1
	}

	var tenantPtr any
	if tenantID > 0 {
		tenantPtr = tenantID
	}

	var actorPtr any
	if actorID > 0 {
		actorPtr = actorID
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (tenant, actor, action, subject_type, subject_id, success, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenantPtr, actorPtr, action, subjectType, subjectID, successInt, details)
	if err != nil {
		slog.Error("failed to write audit log entry", "error", err, "action", action, "subjectType", subjectType)
	}
}

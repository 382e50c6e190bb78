// Package audit exposes the audit_log table to tenant admins. Writing is
// done by the engine's AuditLogger; this module only reads.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

type Entry struct {
	ID          int64  `json:"id"`
	Created     int64  `json:"created"`
	Actor       *int64 `json:"actor,omitempty"`
	Action      string `json:"action"`
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	Success     bool   `json:"success"`
	Details     string `json:"details,omitempty"`
}

type Module struct {
	db *sql.DB
}

func New(db *sql.DB) *Module {
	return &Module{db: db}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /admin/audit", router.WithAdmin(m.handleList))
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	const limit = 50

	meta := auth.GetUserMeta(r.Context())

	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 0)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `
		SELECT id, created, actor, action, subject_type, subject_id, success, details
		FROM audit_log WHERE tenant = $1`
	args := []any{meta.TenantID}

	if action := r.URL.Query().Get("action"); action != "" {
		query += " AND action = $2"
		args = append(args, action)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := m.db.QueryContext(r.Context(), query, args...)
	if engine.HandleError(w, err) {
		return
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if engine.HandleError(w, rows.Scan(&e.ID, &e.Created, &e.Actor, &e.Action, &e.SubjectType, &e.SubjectID, &e.Success, &e.Details)) {
			return
		}
		entries = append(entries, e)
	}
	if engine.HandleError(w, rows.Err()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"page":    page,
		"hasMore": len(entries) == limit,
		"entries": entries,
	})
}

// Package tenants owns the organizations and their users. Every other
// table in the system hangs off of these two.
package tenants

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

const migration = `
CREATE TABLE IF NOT EXISTS tenants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE
) STRICT;

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    tenant INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    email TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
    confirmed INTEGER NOT NULL DEFAULT 0,
    UNIQUE (tenant, email)
) STRICT;

CREATE INDEX IF NOT EXISTS users_email_idx ON users (email);
`

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

type Tenant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Confirmed bool   `json:"confirmed"`
}

type Module struct {
	db *sql.DB
}

func New(db *sql.DB) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("POST /tenants", m.handleCreateTenant)
	router.HandleFunc("GET /tenants/self", router.WithAuthn(m.handleGetSelf))
	router.HandleFunc("GET /admin/users", router.WithAdmin(m.handleListUsers))
	router.HandleFunc("POST /admin/users", router.WithAdmin(m.handleInviteUser))
	router.HandleFunc("POST /admin/users/{id}/role", router.WithAdmin(m.handleSetRole))
	router.HandleFunc("POST /admin/users/{id}/delete", router.WithAdmin(m.handleDeleteUser))
}

// handleCreateTenant bootstraps a new organization with its first admin.
// The admin's email is unconfirmed until they complete a login.
func (m *Module) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	slug := strings.ToLower(strings.TrimSpace(r.FormValue("slug")))
	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	if name == "" || email == "" {
		engine.ClientError(w, "Invalid Input", "Name and email are required", http.StatusBadRequest)
		return
	}
	if !slugPattern.MatchString(slug) {
		engine.ClientError(w, "Invalid Input", "Slug must be lowercase letters, digits, and dashes", http.StatusBadRequest)
		return
	}

	tx, err := m.db.BeginTx(r.Context(), nil)
	if engine.HandleError(w, err) {
		return
	}
	defer tx.Rollback()

	var tenantID int64
	err = tx.QueryRowContext(r.Context(), "INSERT INTO tenants (name, slug) VALUES ($1, $2) RETURNING id", name, slug).Scan(&tenantID)
	if err != nil {
		engine.ClientError(w, "Conflict", "A tenant with that slug already exists", http.StatusConflict)
		return
	}

	_, err = tx.ExecContext(r.Context(), "INSERT INTO users (tenant, email, role) VALUES ($1, $2, 'admin')", tenantID, email)
	if engine.HandleError(w, err) {
		return
	}
	if engine.HandleError(w, tx.Commit()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&Tenant{ID: tenantID, Name: name, Slug: slug})
}

func (m *Module) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserMeta(r.Context())

	t := Tenant{}
	err := m.db.QueryRowContext(r.Context(), "SELECT id, name, slug FROM tenants WHERE id = $1", user.TenantID).Scan(&t.ID, &t.Name, &t.Slug)
	if engine.HandleError(w, err) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tenant": t, "user": user})
}

func (m *Module) handleListUsers(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())

	rows, err := m.db.QueryContext(r.Context(), "SELECT id, email, name, role, confirmed FROM users WHERE tenant = $1 ORDER BY email", meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if engine.HandleError(w, rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Confirmed)) {
			return
		}
		users = append(users, u)
	}
	if engine.HandleError(w, rows.Err()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

func (m *Module) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	if email == "" {
		engine.ClientError(w, "Invalid Input", "Email is required", http.StatusBadRequest)
		return
	}

	_, err := m.db.ExecContext(r.Context(),
		"INSERT INTO users (tenant, email, name) VALUES ($1, $2, $3) ON CONFLICT (tenant, email) DO NOTHING",
		meta.TenantID, email, strings.TrimSpace(r.FormValue("name")))
	if engine.HandleError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleSetRole(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "User ID must be a number", http.StatusBadRequest)
		return
	}

	role := r.FormValue("role")
	if role != "member" && role != "admin" {
		engine.ClientError(w, "Invalid Input", "Role must be member or admin", http.StatusBadRequest)
		return
	}

	// Scoped to the caller's tenant so admins can't reach across orgs.
	result, err := m.db.ExecContext(r.Context(), "UPDATE users SET role = $1 WHERE id = $2 AND tenant = $3", role, id, meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		engine.ClientError(w, "Not Found", "User not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "User ID must be a number", http.StatusBadRequest)
		return
	}
	if id == meta.ID {
		engine.ClientError(w, "Invalid Input", "You cannot remove yourself", http.StatusBadRequest)
		return
	}

	_, err = m.db.ExecContext(r.Context(), "DELETE FROM users WHERE id = $1 AND tenant = $2", id, meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}

// Package resources manages the bookable inventory of a tenant: rooms,
// equipment, anything with an hourly price and opening hours.
package resources

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

const migration = `
CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    tenant INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    price_cents_hour INTEGER NOT NULL DEFAULT 0,
    open_hour INTEGER NOT NULL DEFAULT 0 CHECK (open_hour >= 0 AND open_hour <= 23),
    close_hour INTEGER NOT NULL DEFAULT 24 CHECK (close_hour >= 1 AND close_hour <= 24),
    archived INTEGER NOT NULL DEFAULT 0,
    UNIQUE (tenant, name)
) STRICT;

CREATE INDEX IF NOT EXISTS resources_tenant_idx ON resources (tenant);
`

type Resource struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PriceCentsHour int64  `json:"priceCentsHour"`
	OpenHour       int    `json:"openHour"`
	CloseHour      int    `json:"closeHour"`
}

type Module struct {
	db *sql.DB
}

func New(db *sql.DB) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /resources", router.WithAuthn(m.handleList))
	router.HandleFunc("GET /resources/{id}", router.WithAuthn(m.handleGet))
	router.HandleFunc("POST /admin/resources", router.WithAdmin(m.handleCreate))
	router.HandleFunc("POST /admin/resources/{id}", router.WithAdmin(m.handleUpdate))
	router.HandleFunc("POST /admin/resources/{id}/delete", router.WithAdmin(m.handleArchive))
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())

	rows, err := m.db.QueryContext(r.Context(), `
		SELECT id, name, description, price_cents_hour, open_hour, close_hour
		FROM resources WHERE tenant = $1 AND archived = 0 ORDER BY name`, meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	defer rows.Close()

	resources := []Resource{}
	for rows.Next() {
		var res Resource
		if engine.HandleError(w, rows.Scan(&res.ID, &res.Name, &res.Description, &res.PriceCentsHour, &res.OpenHour, &res.CloseHour)) {
			return
		}
		resources = append(resources, res)
	}
	if engine.HandleError(w, rows.Err()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resources)
}

func (m *Module) handleGet(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "Resource ID must be a number", http.StatusBadRequest)
		return
	}

	var res Resource
	err = m.db.QueryRowContext(r.Context(), `
		SELECT id, name, description, price_cents_hour, open_hour, close_hour
		FROM resources WHERE id = $1 AND tenant = $2 AND archived = 0`, id, meta.TenantID).Scan(
		&res.ID, &res.Name, &res.Description, &res.PriceCentsHour, &res.OpenHour, &res.CloseHour)
	if err == sql.ErrNoRows {
		engine.ClientError(w, "Not Found", "Resource not found", http.StatusNotFound)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&res)
}

func (m *Module) handleCreate(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	res, err := parseResourceForm(r)
	if err != nil {
		engine.ClientError(w, "Invalid Input", err.Error(), http.StatusBadRequest)
		return
	}

	err = m.db.QueryRowContext(r.Context(), `
		INSERT INTO resources (tenant, name, description, price_cents_hour, open_hour, close_hour)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		meta.TenantID, res.Name, res.Description, res.PriceCentsHour, res.OpenHour, res.CloseHour).Scan(&res.ID)
	if err != nil {
		engine.ClientError(w, "Conflict", "A resource with that name already exists", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (m *Module) handleUpdate(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "Resource ID must be a number", http.StatusBadRequest)
		return
	}

	res, err := parseResourceForm(r)
	if err != nil {
		engine.ClientError(w, "Invalid Input", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := m.db.ExecContext(r.Context(), `
		UPDATE resources SET name = $1, description = $2, price_cents_hour = $3, open_hour = $4, close_hour = $5
		WHERE id = $6 AND tenant = $7 AND archived = 0`,
		res.Name, res.Description, res.PriceCentsHour, res.OpenHour, res.CloseHour, id, meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		engine.ClientError(w, "Not Found", "Resource not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchive soft-deletes so that existing bookings keep their
// resource reference.
func (m *Module) handleArchive(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "Resource ID must be a number", http.StatusBadRequest)
		return
	}

	_, err = m.db.ExecContext(r.Context(), "UPDATE resources SET archived = 1 WHERE id = $1 AND tenant = $2", id, meta.TenantID)
	if engine.HandleError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseResourceForm(r *http.Request) (*Resource, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	res := &Resource{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Description: strings.TrimSpace(r.FormValue("description")),
		OpenHour:    0,
		CloseHour:   24,
	}
	if res.Name == "" {
		return nil, errorf("Name is required")
	}

	if v := r.FormValue("price_cents_hour"); v != "" {
		price, err := strconv.ParseInt(v, 10, 64)
		if err != nil || price < 0 {
			return nil, errorf("Invalid price")
		}
		res.PriceCentsHour = price
	}
	if v := r.FormValue("open_hour"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 || h > 23 {
			return nil, errorf("Open hour must be between 0 and 23")
		}
		res.OpenHour = h
	}
	if v := r.FormValue("close_hour"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 1 || h > 24 {
			return nil, errorf("Close hour must be between 1 and 24")
		}
		res.CloseHour = h
	}
	if res.CloseHour <= res.OpenHour {
		return nil, errorf("Close hour must be after open hour")
	}
	return res, nil
}

type formError string

func (e formError) Error() string { return string(e) }

func errorf(format string, args ...any) error {
	return formError(fmt.Sprintf(format, args...))
}

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}

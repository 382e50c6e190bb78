// Package bookings owns booking persistence and lifecycle. It is also the
// booking-creation interface behind the drag scheduler: finalized drag
// intents land here and go through the same validation as direct requests.
package bookings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
	"github.com/xalatechnologies/roomery/modules/schedule"
)

const migration = `
CREATE TABLE IF NOT EXISTS bookings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    uuid TEXT NOT NULL UNIQUE,
    tenant INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    resource INTEGER NOT NULL REFERENCES resources(id),
    created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
    title TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'confirmed', 'cancelled', 'attended')),
    price_cents INTEGER NOT NULL DEFAULT 0,
    cancelled_at INTEGER
) STRICT;

CREATE INDEX IF NOT EXISTS bookings_resource_time_idx ON bookings (resource, start_time);
CREATE INDEX IF NOT EXISTS bookings_tenant_time_idx ON bookings (tenant, start_time);
`

// Booking is the wire representation of a booking row.
type Booking struct {
	UUID       string `json:"uuid"`
	ResourceID int64  `json:"resourceId"`
	Title      string `json:"title"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	Status     string `json:"status"`
	PriceCents int64  `json:"priceCents"`
	CreatedBy  *int64 `json:"createdBy,omitempty"`
}

type Module struct {
	db    *sql.DB
	audit *engine.AuditLogger
}

func New(db *sql.DB, audit *engine.AuditLogger) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db, audit: audit}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /bookings", router.WithAuthn(m.handleList))
	router.HandleFunc("GET /bookings/{uuid}", router.WithAuthn(m.handleGet))
	router.HandleFunc("POST /bookings", router.WithAuthn(m.handleCreate))
	router.HandleFunc("POST /bookings/{uuid}/cancel", router.WithAuthn(m.handleCancel))
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())

	// Default to a window spanning yesterday through 60 days out.
	now := time.Now()
	from := now.AddDate(0, 0, -1).Unix()
	to := now.AddDate(0, 0, 60).Unix()
	if v := r.URL.Query().Get("from"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = parsed
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = parsed
		}
	}

	rows, err := m.db.QueryContext(r.Context(), `
		SELECT uuid, resource, title, start_time, end_time, status, price_cents, created_by
		FROM bookings
		WHERE tenant = $1 AND start_time < $2 AND end_time > $3
		ORDER BY start_time`, meta.TenantID, to, from)
	if engine.HandleError(w, err) {
		return
	}
	defer rows.Close()

	bookings := []Booking{}
	for rows.Next() {
		var b Booking
		if engine.HandleError(w, rows.Scan(&b.UUID, &b.ResourceID, &b.Title, &b.StartTime, &b.EndTime, &b.Status, &b.PriceCents, &b.CreatedBy)) {
			return
		}
		bookings = append(bookings, b)
	}
	if engine.HandleError(w, rows.Err()) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bookings)
}

func (m *Module) handleGet(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())

	var b Booking
	err := m.db.QueryRowContext(r.Context(), `
		SELECT uuid, resource, title, start_time, end_time, status, price_cents, created_by
		FROM bookings WHERE uuid = $1 AND tenant = $2`, r.PathValue("uuid"), meta.TenantID).Scan(
		&b.UUID, &b.ResourceID, &b.Title, &b.StartTime, &b.EndTime, &b.Status, &b.PriceCents, &b.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		engine.ClientError(w, "Not Found", "Booking not found", http.StatusNotFound)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&b)
}

// handleCreate creates a booking from an explicit form request.
func (m *Module) handleCreate(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())

	req, err := parseBookingForm(r)
	if err != nil {
		engine.ClientError(w, "Invalid Input", err.Error(), http.StatusBadRequest)
		return
	}

	b, err := m.create(r.Context(), meta, req)
	if err != nil {
		var verr validationError
		if errors.As(err, &verr) {
			engine.ClientError(w, "Scheduling Conflict", err.Error(), http.StatusConflict)
			return
		}
		engine.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(b)
}

// CreateFromIntent satisfies the drag scheduler's creation interface.
func (m *Module) CreateFromIntent(ctx context.Context, user *auth.UserMetadata, intent schedule.CreationIntent) (string, error) {
	resourceID, err := strconv.ParseInt(intent.ResourceID, 10, 64)
	if err != nil {
		return "", validationError("unknown resource")
	}

	b, err := m.create(ctx, user, &createRequest{
		ResourceID: resourceID,
		Title:      "Reserved",
		StartTime:  intent.StartTime,
		EndTime:    intent.EndTime,
	})
	if err != nil {
		return "", err
	}
	return b.UUID, nil
}

type createRequest struct {
	ResourceID int64
	Title      string
	StartTime  time.Time
	EndTime    time.Time
}

// create runs the full validation pipeline shared by direct requests and
// drag intents: resource resolution, opening hours, conflict re-check,
// then insert, pricing, mail, and audit.
func (m *Module) create(ctx context.Context, user *auth.UserMetadata, req *createRequest) (*Booking, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, validationError("booking must end after it starts")
	}

	var priceCentsHour int64
	var openHour, closeHour int
	var resourceName string
	err := m.db.QueryRowContext(ctx, `
		SELECT name, price_cents_hour, open_hour, close_hour
		FROM resources WHERE id = $1 AND tenant = $2 AND archived = 0`,
		req.ResourceID, user.TenantID).Scan(&resourceName, &priceCentsHour, &openHour, &closeHour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, validationError("unknown resource")
	}
	if err != nil {
		return nil, err
	}

	if err := checkOpeningHours(req.StartTime, req.EndTime, openHour, closeHour); err != nil {
		return nil, err
	}
	if err := m.checkBookingOverlap(ctx, req.ResourceID, req.StartTime, req.EndTime, ""); err != nil {
		m.audit.Log(ctx, user.TenantID, user.ID, "booking.create", "resource", strconv.FormatInt(req.ResourceID, 10), false, err.Error())
		return nil, err
	}

	duration := req.EndTime.Sub(req.StartTime)
	priceCents := priceCentsHour * int64(duration.Minutes()) / 60

	status := "confirmed"
	if priceCents > 0 {
		status = "pending"
	}

	b := &Booking{
		UUID:       uuid.NewString(),
		ResourceID: req.ResourceID,
		Title:      req.Title,
		StartTime:  req.StartTime.Unix(),
		EndTime:    req.EndTime.Unix(),
		Status:     status,
		PriceCents: priceCents,
		CreatedBy:  &user.ID,
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO bookings (uuid, tenant, resource, created_by, title, start_time, end_time, status, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.UUID, user.TenantID, b.ResourceID, b.CreatedBy, b.Title, b.StartTime, b.EndTime, b.Status, b.PriceCents)
	if err != nil {
		return nil, err
	}

	m.db.ExecContext(ctx,
		"INSERT INTO outbound_mail (recipient, subject, body) VALUES ($1, $2, $3)",
		user.Email, "Booking received",
		fmt.Sprintf("Your booking of %s on %s is %s.", resourceName, req.StartTime.Format("Mon, Jan 2 at 3:04 PM"), status))

	m.audit.Log(ctx, user.TenantID, user.ID, "booking.create", "booking", b.UUID, true, "")
	return b, nil
}

func (m *Module) handleCancel(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id := r.PathValue("uuid")

	// Members can cancel their own bookings; admins anyone's in the tenant.
	query := `
		UPDATE bookings SET status = 'cancelled', cancelled_at = unixepoch()
		WHERE uuid = $1 AND tenant = $2 AND status != 'cancelled'`
	args := []any{id, meta.TenantID}
	if !meta.Admin {
		query += " AND created_by = $3"
		args = append(args, meta.ID)
	}

	result, err := m.db.ExecContext(r.Context(), query, args...)
	if engine.HandleError(w, err) {
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		engine.ClientError(w, "Not Found", "Booking not found", http.StatusNotFound)
		return
	}

	m.db.ExecContext(r.Context(),
		"INSERT INTO outbound_mail (recipient, subject, body) VALUES ($1, $2, $3)",
		meta.Email, "Booking cancelled", fmt.Sprintf("Booking %s has been cancelled.", id))

	m.audit.Log(r.Context(), meta.TenantID, meta.ID, "booking.cancel", "booking", id, true, "")
	w.WriteHeader(http.StatusNoContent)
}

// checkBookingOverlap re-validates a proposed interval against the active
// bookings of the same resource. The snapshot the client dragged over may
// be stale, so this is authoritative.
func (m *Module) checkBookingOverlap(ctx context.Context, resourceID int64, start, end time.Time, excludeUUID string) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT title, start_time, end_time FROM bookings
		WHERE resource = $1 AND status != 'cancelled' AND uuid != $2 AND start_time < $3 AND end_time > $4`,
		resourceID, excludeUUID, end.Unix(), start.Unix())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var title string
		var existingStart, existingEnd engine.LocalTime
		if err := rows.Scan(&title, &existingStart, &existingEnd); err != nil {
			return err
		}
		if schedule.Overlaps(start, end, existingStart.Time, existingEnd.Time) {
			return validationError(fmt.Sprintf(
				"This time overlaps with %q starting %s", title, existingStart.Time.Format("Mon, Jan 2 at 3:04 PM")))
		}
	}
	return rows.Err()
}

func checkOpeningHours(start, end time.Time, openHour, closeHour int) error {
	if openHour == 0 && closeHour == 24 {
		return nil // open around the clock, multi-day bookings included
	}

	// A resource that closes overnight can't host a booking that crosses
	// midnight, so anything ending past the start day's midnight is out.
	nextMidnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()).AddDate(0, 0, 1)
	if end.After(nextMidnight) {
		return validationError("Bookings must start and end on the same day")
	}

	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()
	if endMinutes == 0 && end.Day() != start.Day() {
		endMinutes = 24 * 60 // booking running to midnight
	}
	if startMinutes < openHour*60 || endMinutes > closeHour*60 || endMinutes <= startMinutes {
		return validationError(fmt.Sprintf("This resource can be booked between %02d:00 and %02d:00", openHour, closeHour))
	}
	return nil
}

func parseBookingForm(r *http.Request) (*createRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	resourceID, err := strconv.ParseInt(r.FormValue("resource"), 10, 64)
	if err != nil {
		return nil, validationError("Resource is required")
	}

	dateStr := r.FormValue("date")
	startStr := r.FormValue("start")
	endStr := r.FormValue("end")
	if dateStr == "" || startStr == "" || endStr == "" {
		return nil, validationError("Date, start, and end are required")
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", dateStr+" "+startStr, time.Local)
	if err != nil {
		return nil, validationError("Invalid start time")
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", dateStr+" "+endStr, time.Local)
	if err != nil {
		return nil, validationError("Invalid end time")
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = "Reserved"
	}

	return &createRequest{ResourceID: resourceID, Title: title, StartTime: start, EndTime: end}, nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}

// Package schedule implements the interactive scheduling calendar core:
// visible window derivation (ViewState), per-resource overlap detection
// (ConflictDetector), and pointer-drag booking creation (DragScheduler).
//
// The core itself is pure in-process computation; this module wraps it in
// a thin HTTP surface that feeds it snapshots from the bookings table and
// hands finalized creation intents to the booking layer.
package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

// BookingCreator is the external booking-creation interface drag intents
// are handed to. It owns persistence and server-side re-validation.
type BookingCreator interface {
	CreateFromIntent(ctx context.Context, user *auth.UserMetadata, intent CreationIntent) (string, error)
}

type Module struct {
	db      *sql.DB
	creator BookingCreator
}

func New(db *sql.DB, creator BookingCreator) *Module {
	return &Module{db: db, creator: creator}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /schedule/window", router.WithAuthn(m.handleWindow))
	router.HandleFunc("GET /schedule/conflicts", router.WithAuthn(m.handleConflicts))
	router.HandleFunc("POST /schedule/drag", router.WithAuthn(m.handleDrag))
}

func viewStateFromQuery(r *http.Request) *ViewState {
	anchor := time.Now()
	if a := r.URL.Query().Get("anchor"); a != "" {
		if parsed, err := time.ParseInLocation("2006-01-02", a, time.Local); err == nil {
			anchor = parsed
		}
	}
	v := NewViewState(anchor)
	v.SetView(ViewType(r.URL.Query().Get("view")))
	return v
}

type windowResponse struct {
	View   ViewType  `json:"view"`
	Anchor string    `json:"anchor"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Title  string    `json:"title"`
}

// handleWindow reports the visible date range and title for a view/anchor
// pair. The client uses this to know which events to request.
func (m *Module) handleWindow(w http.ResponseWriter, r *http.Request) {
	v := viewStateFromQuery(r)
	rng := v.DateRange()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&windowResponse{
		View:   v.View(),
		Anchor: v.Anchor().Format("2006-01-02"),
		Start:  rng.Start,
		End:    rng.End,
		Title:  v.ViewTitle(),
	})
}

type conflictReport struct {
	Enabled       bool                `json:"enabled"`
	ConflictCount int                 `json:"conflictCount"`
	EventIDs      []string            `json:"eventIds"`
	Conflicts     map[string][]string `json:"conflicts"`
}

// handleConflicts runs conflict detection over the bookings visible in the
// requested window, optionally scoped to one resource.
func (m *Module) handleConflicts(w http.ResponseWriter, r *http.Request) {
	v := viewStateFromQuery(r)
	rng := v.DateRange()

	enabled := r.URL.Query().Get("detect") != "false"
	user := auth.GetUserMeta(r.Context())

	events, err := m.querySnapshot(r.Context(), user.TenantID, r.URL.Query().Get("resource"), rng)
	if engine.HandleError(w, err) {
		return
	}

	set := DetectConflicts(events, enabled)

	report := &conflictReport{
		Enabled:       enabled,
		ConflictCount: set.ConflictCount(),
		EventIDs:      []string{},
		Conflicts:     map[string][]string{},
	}
	for id := range set.ConflictingEventIDs() {
		report.EventIDs = append(report.EventIDs, id)
		for _, e := range set.Conflicts(id).ConflictingEvents {
			report.Conflicts[id] = append(report.Conflicts[id], e.ID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// querySnapshot loads the window's bookings as ScheduledEvents. Rows with
// degenerate timestamps are passed through with zero times so the detector
// excludes them instead of failing the request.
func (m *Module) querySnapshot(ctx context.Context, tenantID int64, resource string, rng DateRange) ([]ScheduledEvent, error) {
	query := `
		SELECT uuid, resource, start_time, end_time, title, status
		FROM bookings
		WHERE tenant = $1 AND status != 'cancelled' AND start_time < $2 AND end_time > $3`
	args := []any{tenantID, rng.End.Unix(), rng.Start.Unix()}

	if resource != "" {
		rid, err := strconv.ParseInt(resource, 10, 64)
		if err == nil {
			query += " AND resource = $4"
			args = append(args, rid)
		}
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ScheduledEvent
	for rows.Next() {
		var e ScheduledEvent
		var resourceID, start, end int64
		if err := rows.Scan(&e.ID, &resourceID, &start, &end, &e.Title, &e.Status); err != nil {
			return nil, err
		}
		e.ResourceID = strconv.FormatInt(resourceID, 10)
		if start > 0 {
			e.StartTime = time.Unix(start, 0)
		}
		if end > 0 {
			e.EndTime = time.Unix(end, 0)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type pointerEvent struct {
	Type       string  `json:"type"` // down, move, up, leave
	ResourceID string  `json:"resourceId,omitempty"`
	Date       string  `json:"date,omitempty"`
	Y          float64 `json:"y"`
	// LeftContainer reports whether a leave event's target was the grid
	// container itself rather than a child element.
	LeftContainer bool `json:"leftContainer,omitempty"`
}

type dragRequest struct {
	Grid   *GridConfig    `json:"grid,omitempty"`
	Events []pointerEvent `json:"events"`
}

type dragResponse struct {
	BookingID string    `json:"bookingId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// handleDrag replays a recorded pointer interaction through the drag state
// machine. A finalized drag becomes a booking via the creation interface;
// a cancelled one is a 204.
func (m *Module) handleDrag(w http.ResponseWriter, r *http.Request) {
	req := &dragRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		engine.ClientError(w, "Invalid Input", err.Error(), http.StatusBadRequest)
		return
	}

	cfg := DefaultGridConfig()
	if req.Grid != nil {
		cfg = *req.Grid
	}

	var finalized *CreationIntent
	d := NewDragScheduler(cfg, func(i CreationIntent) { finalized = &i })

	for _, ev := range req.Events {
		switch ev.Type {
		case "down":
			d.PointerDown(CellContext{ResourceID: ev.ResourceID, Date: ev.Date}, ev.Y)
		case "move":
			d.PointerMove(ev.Y)
		case "up":
			d.PointerUp()
		case "leave":
			d.PointerLeave(ev.LeftContainer)
		}
	}

	if finalized == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	user := auth.GetUserMeta(r.Context())
	id, err := m.creator.CreateFromIntent(r.Context(), user, *finalized)
	if err != nil {
		engine.ClientError(w, "Booking Rejected", err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&dragResponse{
		BookingID: id,
		StartTime: finalized.StartTime,
		EndTime:   finalized.EndTime,
	})
}

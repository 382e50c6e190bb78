// Package ical exposes per-resource booking feeds. Feed URLs carry a
// signed resource reference so they can be pasted into external calendar
// apps without a session.
package ical

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

const feedTTL = time.Hour * 24 * 365

type feedRef struct {
	Tenant   int64 `json:"t"`
	Resource int64 `json:"r"`
}

type Module struct {
	db     *sql.DB
	self   *url.URL
	signer *engine.ValueSigner[feedRef]
}

func New(db *sql.DB, self *url.URL) *Module {
	return &Module{db: db, self: self, signer: engine.NewValueSigner[feedRef]()}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /resources/{id}/feed-url", router.WithAuthn(m.handleFeedURL))
	router.HandleFunc("GET /ical", m.handleFeed)
}

// handleFeedURL mints a shareable feed URL for one of the caller's
// resources. Signatures are held in memory, so minted URLs stop working
// when the server restarts and must be re-issued.
func (m *Module) handleFeedURL(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		engine.ClientError(w, "Invalid ID", "Resource ID must be a number", http.StatusBadRequest)
		return
	}

	var exists bool
	err = m.db.QueryRowContext(r.Context(),
		"SELECT COUNT(*) > 0 FROM resources WHERE id = $1 AND tenant = $2", id, meta.TenantID).Scan(&exists)
	if engine.HandleError(w, err) {
		return
	}
	if !exists {
		engine.ClientError(w, "Not Found", "Resource not found", http.StatusNotFound)
		return
	}

	token := m.signer.Sign(feedRef{Tenant: meta.TenantID, Resource: id}, feedTTL)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"url": m.self.String() + "/ical?feed=" + url.QueryEscape(token),
	})
}

func (m *Module) handleFeed(w http.ResponseWriter, r *http.Request) {
	ref, ok := m.signer.Verify(r.URL.Query().Get("feed"))
	if !ok {
		engine.ClientError(w, "Invalid Feed", "That feed link is invalid or expired", http.StatusUnauthorized)
		return
	}

	var resourceName string
	err := m.db.QueryRowContext(r.Context(),
		"SELECT name FROM resources WHERE id = $1 AND tenant = $2", ref.Resource, ref.Tenant).Scan(&resourceName)
	if engine.HandleError(w, err) {
		return
	}

	rows, err := m.db.QueryContext(r.Context(), `
		SELECT uuid, title, start_time, end_time, created
		FROM bookings
		WHERE resource = $1 AND tenant = $2 AND status != 'cancelled'
		ORDER BY start_time`, ref.Resource, ref.Tenant)
	if engine.HandleError(w, err) {
		return
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{Location: resourceName}
		var start, end, created engine.LocalTime
		if engine.HandleError(w, rows.Scan(&e.UUID, &e.Title, &start, &end, &created)) {
			return
		}
		e.StartTime, e.EndTime, e.Created = start.Time, end.Time, created.Time
		events = append(events, e)
	}
	if engine.HandleError(w, rows.Err()) {
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=bookings.ics")

	if err := WriteFeed(w, events, m.self.Host, resourceName+" Bookings"); err != nil {
		engine.HandleError(w, err)
	}
}

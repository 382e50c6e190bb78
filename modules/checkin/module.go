// Package checkin lets a booking holder present a short-lived QR code at
// the facility. Scanning it marks the booking attended.
package checkin

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

const qrTTL = time.Minute * 5 // length of time a signed QR code is valid

type Module struct {
	db     *sql.DB
	self   *url.URL
	issuer *engine.TokenIssuer
	audit  *engine.AuditLogger
}

func New(db *sql.DB, self *url.URL, issuer *engine.TokenIssuer, audit *engine.AuditLogger) *Module {
	return &Module{db: db, self: self, issuer: issuer, audit: audit}
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /bookings/{uuid}/qr", router.WithAuthn(m.handleQR))
	router.HandleFunc("GET /checkin", m.handleCheckin)
}

// handleQR serves a QR code image encoding a signed check-in URL for the
// caller's booking.
func (m *Module) handleQR(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id := r.PathValue("uuid")

	var exists bool
	err := m.db.QueryRowContext(r.Context(),
		"SELECT COUNT(*) > 0 FROM bookings WHERE uuid = $1 AND tenant = $2 AND status IN ('pending', 'confirmed')",
		id, meta.TenantID).Scan(&exists)
	if engine.HandleError(w, err) {
		return
	}
	if !exists {
		engine.ClientError(w, "Not Found", "Booking not found", http.StatusNotFound)
		return
	}

	tok, err := m.issuer.Sign(&jwt.RegisteredClaims{
		Subject:   id,
		Audience:  jwt.ClaimStrings{"checkin"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(qrTTL)),
	})
	if engine.HandleError(w, err) {
		return
	}

	checkinURL := fmt.Sprintf("%s/checkin?val=%s", m.self, url.QueryEscape(tok))
	png, err := qrcode.Encode(checkinURL, qrcode.Medium, 512)
	if engine.HandleError(w, err) {
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleCheckin resolves a scanned QR token and marks the booking
// attended. No session is required since the token itself proves intent.
func (m *Module) handleCheckin(w http.ResponseWriter, r *http.Request) {
	claims, err := m.issuer.Verify(r.URL.Query().Get("val"))
	if err != nil || len(claims.Audience) == 0 || claims.Audience[0] != "checkin" {
		engine.ClientError(w, "Invalid Code", "That check-in code is invalid or expired", http.StatusUnauthorized)
		return
	}

	var tenantID int64
	err = m.db.QueryRowContext(r.Context(), `
		UPDATE bookings SET status = 'attended'
		WHERE uuid = $1 AND status IN ('pending', 'confirmed') RETURNING tenant`, claims.Subject).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		engine.ClientError(w, "Not Found", "Booking is not awaiting check-in", http.StatusConflict)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	m.audit.Log(r.Context(), tenantID, 0, "booking.checkin", "booking", claims.Subject, true, "")
	fmt.Fprintln(w, "Checked in. Enjoy your booking!")
}

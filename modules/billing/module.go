// Package billing collects payment for priced bookings through Stripe
// Checkout. A pending booking becomes confirmed when its checkout session
// completes.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/webhook"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
)

const migration = `
CREATE TABLE IF NOT EXISTS stripe_config (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    api_key TEXT NOT NULL DEFAULT '',
    webhook_key TEXT NOT NULL DEFAULT ''
) STRICT;
`

// stripeConfig holds Stripe-related configuration.
type stripeConfig struct {
	apiKey     string
	webhookKey string
}

type Module struct {
	db    *sql.DB
	self  *url.URL
	audit *engine.AuditLogger
}

func New(db *sql.DB, self *url.URL, audit *engine.AuditLogger) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db, self: self, audit: audit}
}

// loadConfig loads Stripe configuration from the database.
func (m *Module) loadConfig(ctx context.Context) (*stripeConfig, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT api_key, webhook_key FROM stripe_config ORDER BY version DESC LIMIT 1`)

	cfg := &stripeConfig{}
	err := row.Scan(&cfg.apiKey, &cfg.webhookKey)
	if err == sql.ErrNoRows {
		return &stripeConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading stripe config: %w", err)
	}
	return cfg, nil
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("GET /bookings/{uuid}/checkout", router.WithAuthn(m.handleCheckout))
	router.HandleFunc("POST /webhooks/stripe", m.handleStripeWebhook)
	router.HandleFunc("POST /admin/billing/config", router.WithAdmin(m.handleSetConfig))
}

func (m *Module) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	_, err := m.db.ExecContext(r.Context(),
		"INSERT INTO stripe_config (api_key, webhook_key) VALUES ($1, $2)",
		r.FormValue("api_key"), r.FormValue("webhook_key"))
	if engine.HandleError(w, err) {
		return
	}
	m.audit.Log(r.Context(), meta.TenantID, meta.ID, "billing.configure", "stripe_config", "", true, "")
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckout redirects the user to a Stripe Checkout session for a
// pending booking they created.
func (m *Module) handleCheckout(w http.ResponseWriter, r *http.Request) {
	meta := auth.GetUserMeta(r.Context())
	id := r.PathValue("uuid")

	cfg, err := m.loadConfig(r.Context())
	if engine.HandleError(w, err) {
		return
	}
	if cfg.apiKey == "" {
		engine.ClientError(w, "Not Configured", "Payments are not configured", http.StatusConflict)
		return
	}
	stripe.Key = cfg.apiKey

	var title string
	var priceCents int64
	err = m.db.QueryRowContext(r.Context(), `
		SELECT title, price_cents FROM bookings
		WHERE uuid = $1 AND tenant = $2 AND created_by = $3 AND status = 'pending' AND price_cents > 0`,
		id, meta.TenantID, meta.ID).Scan(&title, &priceCents)
	if err == sql.ErrNoRows {
		engine.ClientError(w, "Not Found", "No pending payment for that booking", http.StatusNotFound)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	checkoutParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(m.self.String()),
		CancelURL:  stripe.String(m.self.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(priceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(title),
				},
			},
		}},
		CustomerEmail: &meta.Email,
		Metadata:      map[string]string{"booking": id},
	}
	checkoutParams.Context = r.Context()

	s, err := session.New(checkoutParams)
	if err != nil {
		m.audit.Log(r.Context(), meta.TenantID, meta.ID, "billing.checkout", "booking", id, false, err.Error())
		engine.SystemError(w, err.Error())
		return
	}

	m.audit.Log(r.Context(), meta.TenantID, meta.ID, "billing.checkout", "booking", id, true, "")
	http.Redirect(w, r, s.URL, http.StatusSeeOther)
}

func (m *Module) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	cfg, err := m.loadConfig(r.Context())
	if engine.HandleError(w, err) {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if engine.HandleError(w, err) {
		return
	}

	// Verify the signature of the request and parse it
	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), cfg.webhookKey)
	if err != nil {
		engine.ClientError(w, "Invalid Signature", err.Error(), http.StatusBadRequest)
		return
	}

	if event.Type != "checkout.session.completed" {
		slog.Debug("unhandled stripe webhook event", "type", event.Type)
		w.WriteHeader(204)
		return
	}

	metadata, _ := event.Data.Object["metadata"].(map[string]any)
	bookingID, _ := metadata["booking"].(string)
	if bookingID == "" {
		slog.Warn("stripe checkout completed without a booking reference", "event", event.ID)
		w.WriteHeader(204)
		return
	}

	var tenantID int64
	err = m.db.QueryRowContext(r.Context(),
		"UPDATE bookings SET status = 'confirmed' WHERE uuid = $1 AND status = 'pending' RETURNING tenant", bookingID).Scan(&tenantID)
	if err == sql.ErrNoRows {
		// Already confirmed or cancelled. Webhooks can be delivered twice.
		w.WriteHeader(204)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	m.audit.Log(r.Context(), tenantID, 0, "billing.payment", "booking", bookingID, true, "checkout completed")
	slog.Info("confirmed booking payment", "booking", bookingID)
	w.WriteHeader(204)
}

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}

package billing

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
	"github.com/xalatechnologies/roomery/modules/bookings"
	"github.com/xalatechnologies/roomery/modules/tenants"
)

func newTestServer(t *testing.T, user *auth.UserMetadata) (*httpexpect.Expect, *Module) {
	db := engine.OpenTestDB(t)
	tenants.New(db)
	audit := engine.NewAuditLogger(db)
	bookings.New(db, audit)

	self, _ := url.Parse("http://localhost:8080")
	m := New(db, self, audit)

	router := engine.NewRouter()
	router.Authenticator = &auth.StaticAuthenticator{User: user}
	m.AttachRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return httpexpect.Default(t, server.URL), m
}

func TestLoadConfig(t *testing.T) {
	_, m := newTestServer(t, &auth.UserMetadata{ID: 1, TenantID: 1, Admin: true})

	// Empty until configured
	cfg, err := m.loadConfig(t.Context())
	require.NoError(t, err)
	assert.Empty(t, cfg.apiKey)

	_, err = m.db.Exec("INSERT INTO stripe_config (api_key, webhook_key) VALUES ('sk_old', 'whsec_old')")
	require.NoError(t, err)
	_, err = m.db.Exec("INSERT INTO stripe_config (api_key, webhook_key) VALUES ('sk_new', 'whsec_new')")
	require.NoError(t, err)

	// The newest row wins
	cfg, err = m.loadConfig(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "sk_new", cfg.apiKey)
	assert.Equal(t, "whsec_new", cfg.webhookKey)
}

func TestSetConfig(t *testing.T) {
	e, m := newTestServer(t, &auth.UserMetadata{ID: 1, TenantID: 1, Admin: true})

	e.POST("/admin/billing/config").
		WithFormField("api_key", "sk_test_123").
		WithFormField("webhook_key", "whsec_123").
		Expect().
		Status(http.StatusNoContent)

	cfg, err := m.loadConfig(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "sk_test_123", cfg.apiKey)

	var audited int
	require.NoError(t, m.db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = 'billing.configure'").Scan(&audited))
	assert.Equal(t, 1, audited)
}

func TestCheckoutGuards(t *testing.T) {
	e, m := newTestServer(t, &auth.UserMetadata{ID: 1, TenantID: 1})

	// Payments not configured
	e.GET("/bookings/some-uuid/checkout").Expect().Status(http.StatusConflict)

	_, err := m.db.Exec("INSERT INTO stripe_config (api_key, webhook_key) VALUES ('sk_test', 'whsec_test')")
	require.NoError(t, err)

	// No pending priced booking with that id
	e.GET("/bookings/some-uuid/checkout").Expect().Status(http.StatusNotFound)
}

func TestWebhookSignature(t *testing.T) {
	e, _ := newTestServer(t, &auth.UserMetadata{ID: 1, TenantID: 1})

	// Unsigned payloads are rejected
	e.POST("/webhooks/stripe").
		WithBytes([]byte(`{"type":"checkout.session.completed"}`)).
		Expect().
		Status(http.StatusBadRequest)
}

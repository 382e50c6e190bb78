package bookings

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xalatechnologies/roomery/engine"
	"github.com/xalatechnologies/roomery/modules/auth"
	"github.com/xalatechnologies/roomery/modules/notify"
	"github.com/xalatechnologies/roomery/modules/resources"
	"github.com/xalatechnologies/roomery/modules/schedule"
	"github.com/xalatechnologies/roomery/modules/tenants"
)

func newTestModule(t *testing.T) (*sql.DB, *Module) {
	db := engine.OpenTestDB(t)
	tenants.New(db)
	resources.New(db)
	notify.New(db, nil)
	m := New(db, engine.NewAuditLogger(db))

	_, err := db.Exec("INSERT INTO tenants (name, slug) VALUES ('Acme', 'acme')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO users (tenant, email) VALUES (1, 'laura@acme.io'), (1, 'dale@acme.io')")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO resources (tenant, name, price_cents_hour, open_hour, close_hour)
		VALUES (1, 'Laser Cutter', 2500, 7, 22), (1, 'Lounge', 0, 0, 24)`)
	require.NoError(t, err)

	return db, m
}

func newTestServer(t *testing.T, m *Module, user *auth.UserMetadata) *httpexpect.Expect {
	router := engine.NewRouter()
	router.Authenticator = &auth.StaticAuthenticator{User: user}
	m.AttachRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return httpexpect.Default(t, server.URL)
}

func TestBookingCreateAndConflicts(t *testing.T) {
	db, m := newTestModule(t)
	laura := &auth.UserMetadata{ID: 1, Email: "laura@acme.io", TenantID: 1}
	e := newTestServer(t, m, laura)

	// Two hours on a priced resource
	obj := e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("title", "Sign making").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "09:00").
		WithFormField("end", "11:00").
		Expect().
		Status(http.StatusCreated).JSON().Object()
	obj.Value("priceCents").IsEqual(5000)
	obj.Value("status").IsEqual("pending")
	bookingID := obj.Value("uuid").String().NotEmpty().Raw()

	// Overlapping interval on the same resource is rejected
	e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "10:00").
		WithFormField("end", "12:00").
		Expect().
		Status(http.StatusConflict)

	// Sharing a boundary is fine
	e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "11:00").
		WithFormField("end", "12:00").
		Expect().
		Status(http.StatusCreated)

	// Same interval on another resource is fine, and free resources
	// confirm immediately
	e.POST("/bookings").
		WithFormField("resource", "2").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "09:00").
		WithFormField("end", "11:00").
		Expect().
		Status(http.StatusCreated).JSON().Object().Value("status").IsEqual("confirmed")

	// Outside opening hours
	e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("date", "2026-09-11").
		WithFormField("start", "06:00").
		WithFormField("end", "08:00").
		Expect().
		Status(http.StatusConflict)

	// Confirmation mail was queued for each booking
	var mails int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM outbound_mail").Scan(&mails))
	assert.Equal(t, 3, mails)

	// Audit trail includes the rejected attempt
	var failed int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = 'booking.create' AND success = 0").Scan(&failed))
	assert.Equal(t, 1, failed)

	e.GET("/bookings").
		WithQuery("from", time.Date(2026, 9, 10, 0, 0, 0, 0, time.Local).Unix()).
		WithQuery("to", time.Date(2026, 9, 11, 0, 0, 0, 0, time.Local).Unix()).
		Expect().
		Status(http.StatusOK).JSON().Array().Length().IsEqual(3)

	e.GET("/bookings/" + bookingID).Expect().Status(http.StatusOK).
		JSON().Object().Value("title").IsEqual("Sign making")
}

func TestBookingCancel(t *testing.T) {
	_, m := newTestModule(t)
	laura := &auth.UserMetadata{ID: 1, Email: "laura@acme.io", TenantID: 1}
	dale := &auth.UserMetadata{ID: 2, Email: "dale@acme.io", TenantID: 1}
	admin := &auth.UserMetadata{ID: 2, Email: "dale@acme.io", TenantID: 1, Admin: true}

	e := newTestServer(t, m, laura)
	id := e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "09:00").
		WithFormField("end", "10:00").
		Expect().
		Status(http.StatusCreated).JSON().Object().Value("uuid").String().Raw()

	// Another member can't cancel it
	newTestServer(t, m, dale).POST("/bookings/"+id+"/cancel").Expect().Status(http.StatusNotFound)

	// An admin can
	newTestServer(t, m, admin).POST("/bookings/"+id+"/cancel").Expect().Status(http.StatusNoContent)

	// Cancelling twice fails
	e.POST("/bookings/" + id + "/cancel").Expect().Status(http.StatusNotFound)

	// The slot is free again
	e.POST("/bookings").
		WithFormField("resource", "1").
		WithFormField("date", "2026-09-10").
		WithFormField("start", "09:00").
		WithFormField("end", "10:00").
		Expect().
		Status(http.StatusCreated)
}

func TestCreateFromIntent(t *testing.T) {
	db, m := newTestModule(t)
	laura := &auth.UserMetadata{ID: 1, Email: "laura@acme.io", TenantID: 1}

	start := time.Date(2026, 9, 10, 9, 0, 0, 0, time.Local)
	intent := schedule.CreationIntent{
		ResourceID: "1",
		Date:       "2026-09-10",
		StartTime:  start,
		EndTime:    start.Add(90 * time.Minute),
	}

	id, err := m.CreateFromIntent(t.Context(), laura, intent)
	require.NoError(t, err)

	var priceCents int64
	var status string
	require.NoError(t, db.QueryRow("SELECT price_cents, status FROM bookings WHERE uuid = $1", id).Scan(&priceCents, &status))
	assert.Equal(t, int64(3750), priceCents)
	assert.Equal(t, "pending", status)

	// Re-validation catches conflicts the drag snapshot missed
	_, err = m.CreateFromIntent(t.Context(), laura, intent)
	require.Error(t, err)

	// Unknown resources are rejected
	intent.ResourceID = "999"
	_, err = m.CreateFromIntent(t.Context(), laura, intent)
	require.Error(t, err)
}

func TestOvernightBookings(t *testing.T) {
	_, m := newTestModule(t)
	laura := &auth.UserMetadata{ID: 1, Email: "laura@acme.io", TenantID: 1}

	// 10:00 until 21:00 the next day. Both ends sit inside the laser
	// cutter's 7-22 window, but the booking crosses its overnight closure.
	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.Local)
	intent := schedule.CreationIntent{
		ResourceID: "1",
		Date:       "2026-09-10",
		StartTime:  start,
		EndTime:    start.AddDate(0, 0, 1).Add(11 * time.Hour),
	}
	_, err := m.CreateFromIntent(t.Context(), laura, intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same day")

	// The 24h lounge takes the same interval
	intent.ResourceID = "2"
	_, err = m.CreateFromIntent(t.Context(), laura, intent)
	require.NoError(t, err)

	// Ending exactly at midnight stays a same-day booking
	intent.ResourceID = "1"
	intent.StartTime = time.Date(2026, 9, 12, 21, 0, 0, 0, time.Local)
	intent.EndTime = time.Date(2026, 9, 13, 0, 0, 0, 0, time.Local)
	_, err = m.CreateFromIntent(t.Context(), laura, intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 07:00") // past the close, not multi-day
}

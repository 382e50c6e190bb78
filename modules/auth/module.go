// Package auth implements passwordless email login: a short-lived numeric
// code is mailed to the user, exchanged for a signed JWT session cookie.
package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xalatechnologies/roomery/engine"
)

const migration = `
CREATE TABLE IF NOT EXISTS logins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    user INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    code INTEGER NOT NULL UNIQUE
) STRICT;
`

const (
	audience   = "roomery"
	loginTTL   = 300 // seconds a login code stays valid
	sessionTTL = time.Hour * 24 * 30
)

type Module struct {
	db     *sql.DB
	issuer *engine.TokenIssuer
}

func New(db *sql.DB, issuer *engine.TokenIssuer) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db, issuer: issuer}
}

func (m *Module) AttachWorkers(mgr *engine.ProcMgr) {
	mgr.Add(engine.Poll(time.Minute, engine.Cleanup(m.db, "logins",
		"DELETE FROM logins WHERE created <= unixepoch() - ?", loginTTL)))
}

func (m *Module) AttachRoutes(router *engine.Router) {
	router.HandleFunc("POST /login", m.handleLogin)
	router.HandleFunc("POST /login/code", m.handleLoginCode)
	router.HandleFunc("GET /whoami", m.WithAuthn(m.handleWhoami))
	router.HandleFunc("GET /logout", m.handleLogout)
}

// handleLogin starts a login flow by mailing a one-time code to the user.
// The response doesn't reveal whether the email belongs to anyone.
func (m *Module) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	slug := strings.ToLower(strings.TrimSpace(r.FormValue("tenant")))
	if email == "" || slug == "" {
		engine.ClientError(w, "Invalid Input", "Email and tenant are required", http.StatusBadRequest)
		return
	}

	var userID int64
	err := m.db.QueryRowContext(r.Context(), `
		SELECT users.id FROM users
		JOIN tenants ON tenants.id = users.tenant
		WHERE users.email = $1 AND tenants.slug = $2`, email, slug).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	code := generateLoginCode()
	_, err = m.db.ExecContext(r.Context(), "INSERT INTO logins (user, code) VALUES ($1, $2)", userID, code)
	if engine.HandleError(w, err) {
		return
	}

	_, err = m.db.ExecContext(r.Context(),
		"INSERT INTO outbound_mail (recipient, subject, body) VALUES ($1, $2, $3)",
		email, "Your login code", fmt.Sprintf("Here is your login code:\n%d\n\nIt expires in a few minutes.", code))
	if engine.HandleError(w, err) {
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLoginCode exchanges a code for a session cookie. Codes are single
// use: the row is deleted in the same statement that resolves it.
func (m *Module) handleLoginCode(w http.ResponseWriter, r *http.Request) {
	code, _ := strconv.ParseInt(r.FormValue("code"), 10, 64)

	var userID int64
	err := m.db.QueryRowContext(r.Context(),
		"DELETE FROM logins WHERE code = $1 AND created > unixepoch() - $2 RETURNING user", code, loginTTL).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		engine.ClientError(w, "Invalid Code", "That code is unknown or expired", http.StatusUnauthorized)
		return
	}
	if engine.HandleError(w, err) {
		return
	}

	_, err = m.db.ExecContext(r.Context(), "UPDATE users SET confirmed = 1 WHERE id = $1 AND confirmed = 0", userID)
	if engine.HandleError(w, err) {
		return
	}

	exp := time.Now().Add(sessionTTL)
	token, err := m.issuer.Sign(&jwt.RegisteredClaims{
		Issuer:    audience,
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: &jwt.NumericDate{Time: exp},
	})
	if engine.HandleError(w, err) {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		HttpOnly: true,
		Expires:  exp,
	})

	if callback := r.FormValue("callback_uri"); callback != "" {
		http.Redirect(w, r, callback, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleWhoami(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetUserMeta(r.Context()))
}

func (m *Module) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "token", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// WithAuthn authenticates incoming requests and injects the user metadata
// into the request context.
func (m *Module) WithAuthn(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, err := m.authenticate(r)
		if err != nil {
			engine.ClientError(w, "Unauthorized", "Log in to continue", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(withUserMeta(r.Context(), meta)))
	}
}

// WithAdmin is WithAuthn plus a tenant-admin role check.
func (m *Module) WithAdmin(next http.HandlerFunc) http.HandlerFunc {
	return m.WithAuthn(func(w http.ResponseWriter, r *http.Request) {
		if !GetUserMeta(r.Context()).Admin {
			engine.ClientError(w, "Forbidden", "Admin access required", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func (m *Module) authenticate(r *http.Request) (*UserMetadata, error) {
	token, err := requestToken(r)
	if err != nil {
		return nil, err
	}

	claims, err := m.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != audience {
		return nil, errors.New("wrong token audience")
	}

	meta := &UserMetadata{}
	var role string
	err = m.db.QueryRowContext(r.Context(),
		"SELECT id, email, tenant, role FROM users WHERE id = $1", claims.Subject).Scan(
		&meta.ID, &meta.Email, &meta.TenantID, &role)
	if err != nil {
		return nil, err
	}
	meta.Admin = role == "admin"
	return meta, nil
}

// requestToken prefers a bearer token so API clients can authenticate with
// an Authorization header instead of the browser cookie.
func requestToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), nil
	}
	cook, err := r.Cookie("token")
	if err != nil {
		return "", err
	}
	return cook.Value, nil
}

// generateLoginCode generates a sufficiently random int that happens to be "6 digits"
func generateLoginCode() int64 {
	const max = 999998
	const min = 100001
	val, err := rand.Int(rand.Reader, big.NewInt(max-min))
	if err != nil {
		panic(fmt.Sprintf("generating random number for login code: %s", err))
	}
	return max - val.Int64()
}

func NewTestDB(t *testing.T) *sql.DB {
	d := engine.OpenTestDB(t)
	engine.MustMigrate(d, migration)
	return d
}

package auth

import "net/http"

// StaticAuthenticator satisfies engine.Authenticator with a fixed user
// instead of a session cookie. Used by tests and local development.
type StaticAuthenticator struct {
	User *UserMetadata
}

func (s *StaticAuthenticator) WithAuthn(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r.WithContext(withUserMeta(r.Context(), s.User)))
	}
}

func (s *StaticAuthenticator) WithAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.WithAuthn(func(w http.ResponseWriter, r *http.Request) {
		if !s.User.Admin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

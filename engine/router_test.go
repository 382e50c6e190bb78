package engine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRouter(t *testing.T) {
	router := NewRouter()
	assert.NotNil(t, router)
	assert.NotNil(t, router.router)
	assert.NotNil(t, router.Authenticator)
}

func TestRouterHandleFunc(t *testing.T) {
	router := NewRouter()

	router.HandleFunc("GET /test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	// Path parameters
	router.HandleFunc("GET /bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("id")))
	})

	req = httptest.NewRequest("GET", "/bookings/abc123", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Body.String())

	// Method mismatch
	req = httptest.NewRequest("POST", "/test", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, HandleError(w, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	assert.True(t, HandleError(w, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClientError(t *testing.T) {
	w := httptest.NewRecorder()
	ClientError(w, "Invalid Input", "title is required", http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid Input: title is required")
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/dbadmin/internal/config"
)

func newGateAPI(t *testing.T, ba *config.BasicAuth) *API {
	t.Helper()
	cfg := &config.Config{
		SessionTTL:    time.Minute,
		BruteForceMax: 10,
		BruteForceTTL: time.Minute,
		BasicAuth:     ba,
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
	}
	a := New(cfg)
	t.Cleanup(func() { a.Close() })
	return a
}

func gateStatus(a *API, target string, auth func(*http.Request)) int {
	h := a.BasicAuthGate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest("GET", target, nil)
	if auth != nil {
		auth(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestBasicAuthDisabledPassesThrough(t *testing.T) {
	a := newGateAPI(t, nil)
	assert.Equal(t, http.StatusOK, gateStatus(a, "/api/status", nil))
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	a := newGateAPI(t, &config.BasicAuth{Username: "admin", Password: "secret"})
	assert.Equal(t, http.StatusUnauthorized, gateStatus(a, "/api/status", nil))
}

func TestBasicAuthHealthExempt(t *testing.T) {
	a := newGateAPI(t, &config.BasicAuth{Username: "admin", Password: "secret"})
	assert.Equal(t, http.StatusOK, gateStatus(a, "/health", nil))
}

func TestBasicAuthPlainTextMatch(t *testing.T) {
	a := newGateAPI(t, &config.BasicAuth{Username: "admin", Password: "secret"})

	assert.Equal(t, http.StatusOK, gateStatus(a, "/api/status", func(r *http.Request) {
		r.SetBasicAuth("admin", "secret")
	}))
	assert.Equal(t, http.StatusUnauthorized, gateStatus(a, "/api/status", func(r *http.Request) {
		r.SetBasicAuth("admin", "wrong")
	}))
	assert.Equal(t, http.StatusUnauthorized, gateStatus(a, "/api/status", func(r *http.Request) {
		r.SetBasicAuth("other", "secret")
	}))
}

func TestBasicAuthBcryptMatch(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := newGateAPI(t, &config.BasicAuth{Username: "admin", Password: string(hash)})

	assert.Equal(t, http.StatusOK, gateStatus(a, "/api/status", func(r *http.Request) {
		r.SetBasicAuth("admin", "secret")
	}))
	assert.Equal(t, http.StatusUnauthorized, gateStatus(a, "/api/status", func(r *http.Request) {
		r.SetBasicAuth("admin", "wrong")
	}))
}

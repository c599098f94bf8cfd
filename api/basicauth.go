package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const basicAuthRealm = "dbadmin"

// BasicAuthGate optionally fences the whole server behind one
// username/password pair. /health stays open for container health
// checks. The stored password may be a bcrypt hash ($2a$/$2b$/$2y$
// prefix) or plain text; plain text is compared in constant time.
func (a *API) BasicAuthGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ba := a.cfg.BasicAuth
		if ba == nil || ba.Username == "" || ba.Password == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if ok && safeCompare(user, ba.Username) && passwordMatches(pass, ba.Password) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="`+basicAuthRealm+`", charset="UTF-8"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func passwordMatches(candidate, stored string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	}
	return safeCompare(candidate, stored)
}

// safeCompare hashes both sides before the constant-time compare so
// length differences do not leak.
func safeCompare(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jmcleod/dbadmin/driver"
	"github.com/jmcleod/dbadmin/internal/util"
)

type contextKey int

const (
	sessionCtxKey contextKey = iota
	connCtxKey
)

// requestSession is the per-request view of the session. Handlers
// mutate data in place; the middleware persists it after the handler
// unless the session was destroyed.
type requestSession struct {
	id        string
	data      *Session
	destroyed bool
}

func sessionFromContext(r *http.Request) *requestSession {
	rs, _ := r.Context().Value(sessionCtxKey).(*requestSession)
	return rs
}

// liveConn is the per-request database connection plus the credential
// it was reconstructed from.
type liveConn struct {
	conn driver.Conn
	cred Credential
}

func connFromContext(r *http.Request) (driver.Conn, Credential) {
	lc, _ := r.Context().Value(connCtxKey).(*liveConn)
	if lc == nil {
		return nil, Credential{}
	}
	return lc.conn, lc.cred
}

// SessionMiddleware resolves (or creates) the session from the signed
// cookie, slides its TTL, and re-issues the cookie on every response.
// The cookie is written before the handler runs so handlers are free to
// stream bodies.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := a.resolveSession(r)
		a.setSessionCookie(w, rs.id)

		ctx := context.WithValue(r.Context(), sessionCtxKey, rs)
		next.ServeHTTP(w, r.WithContext(ctx))

		if !rs.destroyed {
			a.sessions.Put(rs.id, rs.data)
		}
	})
}

func (a *API) resolveSession(r *http.Request) *requestSession {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if id, ok := a.signer.verify(c.Value); ok {
			if sess, ok := a.sessions.Get(id); ok {
				return &requestSession{id: id, data: sess}
			}
		}
	}

	id := newSessionID()
	seed, err := newCSRFSeed()
	if err != nil {
		seed = 0
	}
	sess := newSession(seed)
	a.sessions.Put(id, sess)
	return &requestSession{id: id, data: sess}
}

func newSessionID() string {
	return uuid.NewString()
}

func (a *API) destroySession(w http.ResponseWriter, rs *requestSession) {
	a.sessions.Delete(rs.id)
	rs.destroyed = true
	rs.data = newSession(0)
	clearSessionCookie(w)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// ConnMiddleware guards the authenticated API surface: it verifies the
// CSRF token on mutating verbs, decrypts the stored password with the
// browser key, opens a fresh driver connection for the request, and
// tears it down when the handler returns.
func (a *API) ConnMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := sessionFromContext(r)
		if rs == nil {
			writeCodedError(w, http.StatusUnauthorized, CodeNotAuthenticated, "not authenticated")
			return
		}
		cred, ok := rs.data.Current()
		if !ok {
			writeCodedError(w, http.StatusUnauthorized, CodeNotAuthenticated, "not authenticated")
			return
		}

		if isMutating(r.Method) {
			if !verifyCSRF(rs.data.Token, r.Header.Get("X-CSRF-Token")) {
				a.audit.log(AuditCSRFRejected, r, slog.String("path", r.URL.Path))
				writeCodedError(w, http.StatusForbidden, CodeCSRFMismatch, "invalid CSRF token")
				return
			}
		}

		key, ok := existingBrowserKey(r)
		if !ok {
			writeCodedError(w, http.StatusUnauthorized, CodeNotAuthenticated, "not authenticated")
			return
		}
		password, err := decryptPassword(cred.EncryptedPassword, key)
		if err != nil {
			writeCodedError(w, http.StatusUnauthorized, CodeNotAuthenticated, "not authenticated")
			return
		}

		conn, ok := driver.New(cred.Driver)
		if !ok {
			util.WipeBytes(password)
			writeCodedError(w, http.StatusServiceUnavailable, CodeDBUnavailable, "driver not available")
			return
		}
		err = conn.Connect(r.Context(), cred.Server, cred.Username, string(password))
		util.WipeBytes(password)
		if err != nil {
			writeCodedError(w, http.StatusServiceUnavailable, CodeDBUnavailable, err.Error())
			return
		}
		defer conn.Close()

		// Fresh connections start without a database; restore the one the
		// credential was bound to, or the per-request override.
		db := cred.DB
		if q := r.URL.Query().Get("db"); q != "" && conn.Has(driver.CapDatabases) {
			db = q
		}
		if db != "" {
			if err := conn.SelectDatabase(r.Context(), db); err != nil {
				writeCodedError(w, http.StatusServiceUnavailable, CodeDBUnavailable, err.Error())
				return
			}
			cred.DB = db
		}

		ctx := context.WithValue(r.Context(), connCtxKey, &liveConn{conn: conn, cred: cred})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// encryptPassword seals a password under the browser key and encodes the
// blob as standard base64.
func encryptPassword(password, key string) (string, error) {
	blob, err := util.EncryptAES([]byte(password), util.PadKey(key))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

func decryptPassword(stored, key string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, util.ErrDecryptFailed
	}
	return util.DecryptAES(blob, util.PadKey(key))
}

// Recoverer converts handler panics into a JSON 500 instead of a closed
// connection, and logs the stack.
func (a *API) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic serving request",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()))
				writeCodedError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

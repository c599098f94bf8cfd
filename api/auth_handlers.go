package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmcleod/dbadmin/driver"
	"github.com/jmcleod/dbadmin/internal/config"
)

type loginRequest struct {
	Driver   string `json:"driver"`
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type connSummary struct {
	Driver   string `json:"driver"`
	Server   string `json:"server"`
	Username string `json:"username"`
	DB       string `json:"db,omitempty"`
}

type loginResponse struct {
	CSRFToken    string          `json:"csrfToken"`
	Conn         connSummary     `json:"conn"`
	DriverConfig driver.Metadata `json:"driverConfig"`
	ServerInfo   map[string]any  `json:"serverInfo,omitempty"`
}

// Health reports liveness. It is exempt from basic auth so probes work
// unauthenticated.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": config.Version,
	})
}

// ListDrivers returns the compiled-in database drivers.
func (a *API) ListDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, driver.List())
}

// Status reports whether the session holds an active connection. It
// never opens one, so it stays cheap enough for the UI to poll.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version":       config.Version,
		"authenticated": false,
		"conn":          nil,
	}
	if rs := sessionFromContext(r); rs != nil {
		if cred, ok := rs.data.Current(); ok {
			resp["authenticated"] = true
			resp["conn"] = connSummary{
				Driver:   cred.Driver,
				Server:   cred.Server,
				Username: cred.Username,
				DB:       cred.DB,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Login validates the submitted credentials against the target server
// and, on success, stores them encrypted under the browser key.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Driver == "" {
		writeError(w, http.StatusBadRequest, "driver is required")
		return
	}
	resp, status, errResp := a.loginWithCredentials(w, r, req)
	if errResp != nil {
		writeJSON(w, status, errResp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// loginWithCredentials is the shared core of Login and ConnectPreset:
// brute-force gate, probe connection, credential sealing, and CSRF
// rotation. The probe connection is closed before returning; the
// authenticated surface reconstructs its own per request.
func (a *API) loginWithCredentials(w http.ResponseWriter, r *http.Request, req loginRequest) (*loginResponse, int, *ErrorResponse) {
	ip := clientIP(r)
	if blocked, retryAfter := a.guard.check(ip); blocked {
		a.audit.log(AuditLoginRateLimited, r, slog.String("driver", req.Driver))
		msg := fmt.Sprintf("too many failed attempts, retry in %d seconds", int(retryAfter.Seconds())+1)
		return nil, http.StatusTooManyRequests, &ErrorResponse{Error: msg, Code: CodeBruteForce}
	}

	conn, ok := driver.New(req.Driver)
	if !ok {
		return nil, http.StatusBadRequest, &ErrorResponse{Error: "unknown driver: " + req.Driver}
	}
	if err := conn.Connect(r.Context(), req.Server, req.Username, req.Password); err != nil {
		a.guard.recordFailure(ip)
		a.audit.log(AuditLoginFailure, r,
			slog.String("driver", req.Driver),
			slog.String("server", req.Server),
			slog.String("username", req.Username))
		return nil, http.StatusUnauthorized, &ErrorResponse{Error: "authentication failed: " + err.Error()}
	}
	defer conn.Close()
	a.guard.recordSuccess(ip)

	if req.DB != "" {
		if err := conn.SelectDatabase(r.Context(), req.DB); err != nil {
			return nil, http.StatusUnauthorized, &ErrorResponse{Error: "cannot open database: " + err.Error()}
		}
	}

	key, err := browserKey(w, r)
	if err != nil {
		return nil, http.StatusInternalServerError, &ErrorResponse{Error: "cannot issue browser key", Code: CodeInternalError}
	}
	sealed, err := encryptPassword(req.Password, key)
	if err != nil {
		return nil, http.StatusInternalServerError, &ErrorResponse{Error: "cannot store credentials", Code: CodeInternalError}
	}

	rs := sessionFromContext(r)
	cred := Credential{
		Driver:            req.Driver,
		Server:            req.Server,
		Username:          req.Username,
		EncryptedPassword: sealed,
		DB:                req.DB,
	}
	k := connKey(req.Driver, req.Server, req.Username)
	rs.data.Connections[k] = cred
	rs.data.CurrentConn = k

	seed, err := newCSRFSeed()
	if err != nil {
		return nil, http.StatusInternalServerError, &ErrorResponse{Error: "cannot issue CSRF token", Code: CodeInternalError}
	}
	rs.data.Token = seed
	token, err := issueCSRF(seed)
	if err != nil {
		return nil, http.StatusInternalServerError, &ErrorResponse{Error: "cannot issue CSRF token", Code: CodeInternalError}
	}

	info, err := conn.ServerInfo(r.Context())
	if err != nil {
		info = nil
	}

	a.audit.log(AuditLoginSuccess, r,
		slog.String("driver", req.Driver),
		slog.String("server", req.Server),
		slog.String("username", req.Username))

	return &loginResponse{
		CSRFToken:    token,
		Conn:         connSummary{Driver: req.Driver, Server: req.Server, Username: req.Username, DB: req.DB},
		DriverConfig: conn.Config(),
		ServerInfo:   info,
	}, http.StatusOK, nil
}

// Logout destroys the session. The browser key cookie survives so other
// tabs keep decrypting after a fresh login.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	rs := sessionFromContext(r)
	if rs != nil {
		a.destroySession(w, rs)
	}
	a.audit.log(AuditLogout, r)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

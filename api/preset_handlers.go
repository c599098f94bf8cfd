package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/dbadmin/internal/config"
	"github.com/jmcleod/dbadmin/internal/util"
)

// ListPresets returns the saved connections without passwords.
func (a *API) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.PresetSummaries())
}

// AddPreset saves a new connection preset to the config file. The id
// defaults to a slug of the label.
func (a *API) AddPreset(w http.ResponseWriter, r *http.Request) {
	// Preset marshals its password as json:"-", so the request body
	// needs its own shape.
	var req struct {
		ID       string `json:"id"`
		Label    string `json:"label"`
		Driver   string `json:"driver"`
		Server   string `json:"server"`
		Username string `json:"username"`
		Password string `json:"password"`
		DB       string `json:"db"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := config.Preset{
		ID:       req.ID,
		Label:    req.Label,
		Driver:   req.Driver,
		Server:   req.Server,
		Username: req.Username,
		Password: req.Password,
		DB:       req.DB,
	}
	if p.Driver == "" {
		writeError(w, http.StatusBadRequest, "driver is required")
		return
	}
	if p.ID == "" && p.Label != "" {
		p.ID = util.Slugify(p.Label)
	}
	if err := a.cfg.AddPreset(p); err != nil {
		writeCodedError(w, http.StatusBadRequest, CodeConfigError, err.Error())
		return
	}
	a.audit.log(AuditPresetAdded, r, slog.String("preset", p.ID))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": p.ID})
}

// RemovePreset deletes a saved connection by id.
func (a *API) RemovePreset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.cfg.RemovePreset(id); err != nil {
		writeCodedError(w, http.StatusNotFound, CodeConfigError, err.Error())
		return
	}
	a.audit.log(AuditPresetRemoved, r, slog.String("preset", id))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ConnectPreset logs in with the stored credentials of a saved
// connection, so the UI can offer one-click access.
func (a *API) ConnectPreset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := a.cfg.FindPreset(id)
	if p == nil {
		writeError(w, http.StatusNotFound, "unknown connection: "+id)
		return
	}
	a.audit.log(AuditAutoConnect, r, slog.String("preset", id))

	req := loginRequest{
		Driver:   p.Driver,
		Server:   p.Server,
		Username: p.Username,
		Password: p.Password,
		DB:       p.DB,
	}
	resp, status, errResp := a.loginWithCredentials(w, r, req)
	if errResp != nil {
		writeJSON(w, status, errResp)
		return
	}
	label := p.Label
	if label == "" {
		label = p.Server
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"label":        label,
		"csrfToken":    resp.CSRFToken,
		"conn":         resp.Conn,
		"driverConfig": resp.DriverConfig,
		"serverInfo":   resp.ServerInfo,
	})
}

type basicAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remove   bool   `json:"remove"`
}

// SetBasicAuth installs, replaces, or removes the server-wide basic
// auth gate and persists it to the config file.
func (a *API) SetBasicAuth(w http.ResponseWriter, r *http.Request) {
	var req basicAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Remove {
		if err := a.cfg.SetBasicAuth(nil); err != nil {
			writeCodedError(w, http.StatusInternalServerError, CodeConfigError, err.Error())
			return
		}
		a.audit.log(AuditBasicAuthChanged, r, slog.String("action", "removed"))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(req.Username) < 3 || len(req.Password) < 3 {
		writeCodedError(w, http.StatusBadRequest, CodeConfigError,
			"username and password must be at least 3 characters")
		return
	}
	if err := a.cfg.SetBasicAuth(&config.BasicAuth{Username: req.Username, Password: req.Password}); err != nil {
		writeCodedError(w, http.StatusInternalServerError, CodeConfigError, err.Error())
		return
	}
	a.audit.log(AuditBasicAuthChanged, r, slog.String("action", "set"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

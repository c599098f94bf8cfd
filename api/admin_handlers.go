package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/dbadmin/driver"
)

// ListIndexes returns the indexes of a table.
func (a *API) ListIndexes(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapIndexes) {
		return
	}
	idx, err := conn.Indexes(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexes": idx})
}

type alterIndexesRequest struct {
	Add  []driver.IndexDef `json:"add"`
	Drop []driver.IndexDef `json:"drop"`
}

// AlterIndexes adds and drops indexes on a table in one operation.
func (a *API) AlterIndexes(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapIndexes) {
		return
	}
	var req alterIndexesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Add) == 0 && len(req.Drop) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to alter")
		return
	}
	writeResult(w, conn.AlterIndexes(r.Context(), chi.URLParam(r, "table"), req.Add, req.Drop))
}

// ListForeignKeys returns the foreign keys of a table.
func (a *API) ListForeignKeys(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapForeignKeys) {
		return
	}
	fks, err := conn.ForeignKeys(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"foreignKeys": fks})
}

type alterForeignKeyRequest struct {
	Action     string             `json:"action"`
	Name       string             `json:"name"`
	ForeignKey *driver.ForeignKey `json:"foreignKey"`
}

// AlterForeignKeys adds or drops one foreign key constraint.
func (a *API) AlterForeignKeys(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapForeignKeys) {
		return
	}
	var req alterForeignKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	table := chi.URLParam(r, "table")
	switch req.Action {
	case "add":
		if req.ForeignKey == nil {
			writeError(w, http.StatusBadRequest, "foreignKey is required")
			return
		}
		writeResult(w, conn.AddForeignKey(r.Context(), table, *req.ForeignKey))
	case "drop":
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		writeResult(w, conn.DropForeignKey(r.Context(), table, req.Name))
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

// ListUsers returns the server's account list, when the engine exposes
// one and the connected user may read it.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapUsers) {
		return
	}
	users, err := conn.Users(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// ListVariables returns the server configuration variables.
func (a *API) ListVariables(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapVariables) {
		return
	}
	vars, err := conn.Variables(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": vars})
}

// ListProcesses returns the live process/connection list.
func (a *API) ListProcesses(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapProcessList) {
		return
	}
	procs, err := conn.Processes(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": procs})
}

// KillProcess terminates one server process by id.
func (a *API) KillProcess(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapKill) {
		return
	}
	writeResult(w, conn.KillProcess(r.Context(), chi.URLParam(r, "id")))
}

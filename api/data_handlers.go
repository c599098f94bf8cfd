package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/dbadmin/driver"
)

const maxSelectLimit = 1000

// parseSelectOptions reads browse parameters from the query string.
// where is a JSON-encoded condition array so operators and typed values
// survive the trip.
func parseSelectOptions(r *http.Request) (driver.SelectOptions, error) {
	q := r.URL.Query()
	opts := driver.SelectOptions{
		Order: q.Get("order"),
		Desc:  q.Get("desc") == "1" || q.Get("desc") == "true",
	}
	if cols := q.Get("columns"); cols != "" {
		opts.Columns = strings.Split(cols, ",")
	}
	if raw := q.Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Where); err != nil {
			return opts, err
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return opts, err
		}
		opts.Limit = n
	}
	if opts.Limit == 0 || opts.Limit > maxSelectLimit {
		opts.Limit = maxSelectLimit
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return opts, err
		}
		opts.Offset = n
	}
	return opts, nil
}

// SelectRows browses a table page. The response carries the page plus
// the unfiltered-by-limit total so the UI can paginate.
func (a *API) SelectRows(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	table := chi.URLParam(r, "table")
	opts, err := parseSelectOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid select parameters: "+err.Error())
		return
	}
	res := conn.Select(r.Context(), table, opts)
	if !res.OK() {
		writeSQLError(w, res.Error)
		return
	}
	resp := map[string]any{
		"rows":      res.Rows,
		"fields":    res.Fields,
		"elapsedMs": res.ElapsedMs,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	}
	if total, err := selectCount(r, conn, table, opts.Where); err == nil {
		resp["total"] = total
	}
	writeJSON(w, http.StatusOK, resp)
}

// rowCounter is satisfied by drivers that embed the shared SQL base.
type rowCounter interface {
	Count(ctx context.Context, table string, where []driver.Condition) (int64, error)
}

func selectCount(r *http.Request, conn driver.Conn, table string, where []driver.Condition) (int64, error) {
	c, ok := conn.(rowCounter)
	if !ok {
		return 0, errors.New("count not supported")
	}
	return c.Count(r.Context(), table, where)
}

type bulkActionRequest struct {
	Action     string `json:"action"`
	PrimaryKey string `json:"primaryKey"`
	Values     []any  `json:"values"`
}

// BulkAction applies an action to a set of rows identified by primary
// key values. Delete is the only action today.
func (a *API) BulkAction(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	table := chi.URLParam(r, "table")
	var req bulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrimaryKey == "" || len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "primaryKey and values are required")
		return
	}
	switch req.Action {
	case "delete":
		where := []driver.Condition{{Col: req.PrimaryKey, Op: "IN", Val: req.Values}}
		writeResult(w, conn.Delete(r.Context(), table, where))
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

// GetRow fetches a single row for the edit form.
func (a *API) GetRow(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	table := chi.URLParam(r, "table")
	opts, err := parseSelectOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid select parameters: "+err.Error())
		return
	}
	if len(opts.Where) == 0 {
		writeError(w, http.StatusBadRequest, "where is required")
		return
	}
	opts.Limit = 1
	res := conn.Select(r.Context(), table, opts)
	if !res.OK() {
		writeSQLError(w, res.Error)
		return
	}
	if len(res.Rows) == 0 {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"row": res.Rows[0], "fields": res.Fields})
}

type rowRequest struct {
	Data  map[string]any     `json:"data"`
	Where []driver.Condition `json:"where"`
}

// InsertRow inserts one row.
func (a *API) InsertRow(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	writeResult(w, conn.Insert(r.Context(), chi.URLParam(r, "table"), req.Data))
}

// UpdateRows updates rows matching the condition set. An empty
// condition set is refused by the driver layer.
func (a *API) UpdateRows(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	writeResult(w, conn.Update(r.Context(), chi.URLParam(r, "table"), req.Data, req.Where))
}

// DeleteRows deletes rows matching the condition set.
func (a *API) DeleteRows(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req rowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, conn.Delete(r.Context(), chi.URLParam(r, "table"), req.Where))
}

type upsertRequest struct {
	Rows         []map[string]any `json:"rows"`
	ConflictKeys []string         `json:"conflictKeys"`
}

// UpsertRows inserts rows, replacing existing ones that collide on the
// conflict keys.
func (a *API) UpsertRows(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows are required")
		return
	}
	writeResult(w, conn.Upsert(r.Context(), chi.URLParam(r, "table"), req.Rows, req.ConflictKeys))
}

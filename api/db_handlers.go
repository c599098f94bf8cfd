package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/dbadmin/driver"
)

// requireCap writes a DB_ERROR when the connected engine lacks the
// capability, and reports whether the handler may proceed.
func requireCap(w http.ResponseWriter, conn driver.Conn, c driver.Capability) bool {
	if !conn.Has(c) {
		writeCodedError(w, http.StatusBadRequest, CodeDBError,
			"not supported by this database engine")
		return false
	}
	return true
}

// writeResult maps a failed Result to a SQL_ERROR response and a
// successful one to 200.
func writeResult(w http.ResponseWriter, res *driver.Result) {
	if !res.OK() {
		writeSQLError(w, res.Error)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListDatabases returns the databases visible to the connection.
func (a *API) ListDatabases(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	dbs, err := conn.Databases(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

// CreateDatabase creates a database, optionally with a collation.
func (a *API) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapDatabases) {
		return
	}
	var req struct {
		Name      string `json:"name"`
		Collation string `json:"collation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	writeResult(w, conn.CreateDatabase(r.Context(), req.Name, req.Collation))
}

// DropDatabase drops a database by name.
func (a *API) DropDatabase(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapDatabases) {
		return
	}
	writeResult(w, conn.DropDatabase(r.Context(), chi.URLParam(r, "db")))
}

// ListTables lists the tables and views of the active database. The
// connection middleware has already applied the credential's database
// or the db query override.
func (a *API) ListTables(w http.ResponseWriter, r *http.Request) {
	conn, cred := connFromContext(r)
	db := cred.DB
	tables, err := conn.Tables(r.Context(), db)
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"db": db, "tables": tables})
}

type createTableRequest struct {
	Name    string           `json:"name"`
	Fields  []driver.FieldDef `json:"fields"`
	Indexes []driver.IndexDef `json:"indexes"`
}

// CreateTable creates a table from field and index definitions.
func (a *API) CreateTable(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "name and fields are required")
		return
	}
	writeResult(w, conn.CreateTable(r.Context(), req.Name, req.Fields, req.Indexes))
}

// TableStructure returns everything the table designer needs in one
// round trip: fields, indexes, foreign keys, triggers and status.
func (a *API) TableStructure(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	fields, err := conn.Fields(ctx, name)
	if err != nil {
		writeDBError(w, err)
		return
	}
	resp := map[string]any{
		"name":   name,
		"fields": fields,
	}
	if conn.Has(driver.CapIndexes) {
		if idx, err := conn.Indexes(ctx, name); err == nil {
			resp["indexes"] = idx
		}
	}
	if conn.Has(driver.CapForeignKeys) {
		if fks, err := conn.ForeignKeys(ctx, name); err == nil {
			resp["foreignKeys"] = fks
		}
	}
	if conn.Has(driver.CapTriggers) {
		if trg, err := conn.Triggers(ctx, name); err == nil {
			resp["triggers"] = trg
		}
	}
	if status, err := conn.TableStatus(ctx, name); err == nil {
		resp["status"] = status
	}
	writeJSON(w, http.StatusOK, resp)
}

// DropTable drops a table.
func (a *API) DropTable(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	writeResult(w, conn.DropTable(r.Context(), chi.URLParam(r, "name")))
}

// TruncateTable removes all rows from a table.
func (a *API) TruncateTable(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	writeResult(w, conn.TruncateTable(r.Context(), chi.URLParam(r, "name")))
}

// TableDDL returns the CREATE statement for a table.
func (a *API) TableDDL(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	ddl, err := conn.CreateSQL(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": ddl})
}

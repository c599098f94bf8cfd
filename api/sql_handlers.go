package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/dbadmin/driver"
)

const maxResultRows = 1000

type sqlRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// RunSQL executes a raw SQL script. Multiple statements run in order;
// execution stops at the first failing statement and its error comes
// back inside the last result.
func (a *API) RunSQL(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}

	results := conn.MultiQuery(r.Context(), req.Query)
	truncated := false
	for _, res := range results {
		if len(res.Rows) > limit {
			res.Rows = res.Rows[:limit]
			truncated = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"truncated": truncated,
	})
}

// ExplainSQL returns the engine's query plan for a single statement.
func (a *API) ExplainSQL(w http.ResponseWriter, r *http.Request) {
	conn, _ := connFromContext(r)
	if !requireCap(w, conn, driver.CapExplain) {
		return
	}
	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	plan, err := conn.Explain(r.Context(), req.Query)
	if err != nil {
		writeSQLError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

const dumpBatchSize = 500

// Dump streams an export of one or more tables as an SQL script or as
// CSV. Rows are paged through in batches so large tables never sit in
// memory whole.
func (a *API) Dump(w http.ResponseWriter, r *http.Request) {
	conn, cred := connFromContext(r)
	if !requireCap(w, conn, driver.CapDump) {
		return
	}
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "sql"
	}

	var tables []string
	if raw := q.Get("tables"); raw != "" {
		tables = strings.Split(raw, ",")
	} else {
		all, err := conn.Tables(r.Context(), cred.DB)
		if err != nil {
			writeDBError(w, err)
			return
		}
		for _, t := range all {
			if t.Type != "view" {
				tables = append(tables, t.Name)
			}
		}
	}
	if len(tables) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to dump")
		return
	}

	base := cred.DB
	if base == "" {
		base = "dump"
	}
	stamp := time.Now().Format("2006-01-02")

	switch format {
	case "sql":
		w.Header().Set("Content-Type", "application/sql")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", base+"_"+stamp+".sql"))
		a.dumpSQL(w, r, conn, cred.Driver, tables)
	case "csv":
		if len(tables) != 1 {
			writeError(w, http.StatusBadRequest, "csv export takes exactly one table")
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", base+"_"+stamp+".csv"))
		a.dumpCSV(w, r, conn, tables[0])
	default:
		writeError(w, http.StatusBadRequest, "unknown format: "+format)
	}
}

// dumpHeader is the preamble of an SQL export. String literals below
// escape only single quotes, so MySQL must be told not to treat
// backslashes as escape characters when replaying the script.
func dumpHeader(driverID string) string {
	h := fmt.Sprintf("-- dump %s\n", time.Now().Format(time.RFC3339))
	if driverID == "mysql" {
		h += "SET sql_mode = 'NO_BACKSLASH_ESCAPES';\n"
	}
	return h + "\n"
}

func (a *API) dumpSQL(w http.ResponseWriter, r *http.Request, conn driver.Conn, driverID string, tables []string) {
	ctx := r.Context()
	fmt.Fprint(w, dumpHeader(driverID))
	for _, table := range tables {
		ddl, err := conn.CreateSQL(ctx, table)
		if err != nil {
			fmt.Fprintf(w, "-- %s: %s\n\n", table, err)
			continue
		}
		fmt.Fprintf(w, "DROP TABLE IF EXISTS %s;\n%s;\n\n", conn.QuoteID(table), ddl)

		for offset := uint64(0); ; offset += dumpBatchSize {
			res := conn.Select(ctx, table, driver.SelectOptions{Limit: dumpBatchSize, Offset: offset})
			if !res.OK() {
				fmt.Fprintf(w, "-- %s: %s\n", table, res.Error)
				break
			}
			if len(res.Rows) == 0 {
				break
			}
			cols := make([]string, len(res.Fields))
			quoted := make([]string, len(res.Fields))
			for i, f := range res.Fields {
				cols[i] = f.Name
				quoted[i] = conn.QuoteID(f.Name)
			}
			for _, row := range res.Rows {
				vals := make([]string, len(cols))
				for i, c := range cols {
					vals[i] = sqlLiteral(row[c])
				}
				fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
					conn.QuoteID(table), strings.Join(quoted, ", "), strings.Join(vals, ", "))
			}
			if len(res.Rows) < dumpBatchSize {
				break
			}
		}
		fmt.Fprintln(w)
	}
}

func (a *API) dumpCSV(w http.ResponseWriter, r *http.Request, conn driver.Conn, table string) {
	ctx := r.Context()
	cw := csv.NewWriter(w)
	defer cw.Flush()

	wroteHeader := false
	var cols []string
	for offset := uint64(0); ; offset += dumpBatchSize {
		res := conn.Select(ctx, table, driver.SelectOptions{Limit: dumpBatchSize, Offset: offset})
		if !res.OK() || len(res.Rows) == 0 {
			return
		}
		if !wroteHeader {
			cols = make([]string, len(res.Fields))
			for i, f := range res.Fields {
				cols[i] = f.Name
			}
			if err := cw.Write(cols); err != nil {
				return
			}
			wroteHeader = true
		}
		record := make([]string, len(cols))
		for _, row := range res.Rows {
			for i, c := range cols {
				record[i] = csvCell(row[c])
			}
			if err := cw.Write(record); err != nil {
				return
			}
		}
		if len(res.Rows) < dumpBatchSize {
			return
		}
	}
}

// sqlLiteral renders a cell value as an SQL literal for export scripts.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}

func csvCell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

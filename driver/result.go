package driver

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ResultField describes one column of a result set.
type ResultField struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Result is the uniform outcome of any query-shaped operation. SQL
// errors are captured in Error instead of being returned, so handlers
// shape responses uniformly without unwinding.
type Result struct {
	Rows         []map[string]any `json:"rows"`
	Fields       []ResultField    `json:"fields"`
	RowsAffected int64            `json:"rowsAffected"`
	InsertID     *int64           `json:"insertId"`
	Error        string           `json:"error,omitempty"`
	ElapsedMs    int64            `json:"elapsedMs"`
}

func (r *Result) OK() bool { return r.Error == "" }

// SelectOptions parameterizes a table browse.
type SelectOptions struct {
	Columns []string
	Where   []Condition
	Order   string
	Desc    bool
	Limit   uint64
	Offset  uint64
}

// Condition is one WHERE clause term. Op must be one of the allowed
// operators; values always travel as bind parameters.
type Condition struct {
	Col string `json:"col"`
	Op  string `json:"op"`
	Val any    `json:"val"`
}

// EmptyResult returns a successful zero result, for operations that are
// accepted but have nothing to do on a given engine.
func EmptyResult() *Result { return newResult(time.Now()) }

// Errorf returns a failed result carrying a formatted error message.
func Errorf(format string, args ...any) *Result {
	return errorResult(time.Now(), fmt.Errorf(format, args...))
}

func newResult(start time.Time) *Result {
	return &Result{
		Rows:      []map[string]any{},
		Fields:    []ResultField{},
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

func errorResult(start time.Time, err error) *Result {
	r := newResult(start)
	r.Error = err.Error()
	return r
}

// ScanRows drains a *sql.Rows into generic row maps. []byte cells are
// converted to strings so results JSON-encode as text rather than
// base64.
func ScanRows(rows *sql.Rows) ([]map[string]any, []ResultField, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	fields := make([]ResultField, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			fields[i] = ResultField{Name: cols[i], Type: t.DatabaseTypeName()}
		}
	} else {
		for i, c := range cols {
			fields[i] = ResultField{Name: c}
		}
	}

	out := []map[string]any{}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := cells[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = cells[i]
			}
		}
		out = append(out, row)
	}
	return out, fields, rows.Err()
}

// QueryMaps is a convenience for introspection queries that want row
// maps and surface transport errors as errors.
func QueryMaps(ctx context.Context, db *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	maps, _, err := ScanRows(rows)
	return maps, err
}

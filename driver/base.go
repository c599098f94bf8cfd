package driver

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// validOps is the whitelist of WHERE operators accepted from clients.
// Operators are interpolated into SQL text, so anything outside this set
// is rejected before a statement is built.
var validOps = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
	"LIKE": true, "NOT LIKE": true, "ILIKE": true, "GLOB": true, "REGEXP": true,
	"IN": true, "NOT IN": true, "IS NULL": true, "IS NOT NULL": true,
}

// Base carries the shared database/sql plumbing every adapter embeds:
// statement execution with Result capture, and the squirrel-built data
// operations that only differ between engines in placeholder format and
// identifier quoting.
type Base struct {
	DB          *sql.DB
	Placeholder sq.PlaceholderFormat
	Quote       func(string) string
}

func (b *Base) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(b.Placeholder)
}

var readPrefixes = []string{"select", "show", "pragma", "explain", "describe", "desc", "with", "values", "table"}

func isReadStatement(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range readPrefixes {
		if strings.HasPrefix(q, p+" ") || q == p || strings.HasPrefix(q, p+"(") {
			return true
		}
	}
	return false
}

// Query executes a single statement. Row-returning statements are read
// with ScanRows; everything else goes through Exec to capture affected
// row counts and last-insert ids. SQL errors land in Result.Error.
func (b *Base) Query(ctx context.Context, query string, args ...any) *Result {
	start := time.Now()
	if b.DB == nil {
		return errorResult(start, fmt.Errorf("not connected"))
	}

	if isReadStatement(query) {
		rows, err := b.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return errorResult(start, err)
		}
		defer rows.Close()
		maps, fields, err := ScanRows(rows)
		if err != nil {
			return errorResult(start, err)
		}
		res := newResult(start)
		res.Rows = maps
		res.Fields = fields
		res.RowsAffected = int64(len(maps))
		return res
	}

	execRes, err := b.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return errorResult(start, err)
	}
	res := newResult(start)
	if n, err := execRes.RowsAffected(); err == nil {
		res.RowsAffected = n
	}
	if id, err := execRes.LastInsertId(); err == nil && id != 0 {
		res.InsertID = &id
	}
	return res
}

// SplitStatements is the statement splitter used by engines without
// native multi-statement support. It respects quoted strings and line
// comments; it does not attempt to parse procedure bodies.
func SplitStatements(script string) []string {
	var stmts []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				if i+1 < len(script) && script[i+1] == quote {
					cur.WriteByte(script[i+1])
					i++
				} else {
					quote = 0
				}
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			stmts = append(stmts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	stmts = append(stmts, cur.String())

	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MultiQuerySplit runs a script one statement at a time, collecting a
// Result per statement. Execution stops at the first failed statement,
// mirroring how an interactive console behaves.
func (b *Base) MultiQuerySplit(ctx context.Context, script string) []*Result {
	var results []*Result
	for _, stmt := range SplitStatements(script) {
		res := b.Query(ctx, stmt)
		results = append(results, res)
		if !res.OK() {
			break
		}
	}
	if results == nil {
		results = []*Result{newResult(time.Now())}
	}
	return results
}

func (b *Base) whereExprs(where []Condition) ([]sq.Sqlizer, error) {
	exprs := make([]sq.Sqlizer, 0, len(where))
	for _, w := range where {
		op := strings.ToUpper(strings.TrimSpace(w.Op))
		if op == "" {
			op = "="
		}
		if !validOps[op] {
			return nil, fmt.Errorf("unsupported operator %q", w.Op)
		}
		col := b.Quote(w.Col)
		switch op {
		case "IS NULL", "IS NOT NULL":
			exprs = append(exprs, sq.Expr(col+" "+op))
		case "IN", "NOT IN":
			vals, ok := w.Val.([]any)
			if !ok || len(vals) == 0 {
				return nil, fmt.Errorf("operator %s requires a non-empty list", op)
			}
			marks := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
			exprs = append(exprs, sq.Expr(col+" "+op+" ("+marks+")", vals...))
		default:
			exprs = append(exprs, sq.Expr(col+" "+op+" ?", w.Val))
		}
	}
	return exprs, nil
}

// Select builds and runs a browse query for one table.
func (b *Base) Select(ctx context.Context, table string, opts SelectOptions) *Result {
	start := time.Now()

	cols := []string{"*"}
	if len(opts.Columns) > 0 {
		cols = make([]string, len(opts.Columns))
		for i, c := range opts.Columns {
			if c == "*" {
				cols[i] = "*"
			} else {
				cols[i] = b.Quote(c)
			}
		}
	}

	q := b.builder().Select(cols...).From(b.Quote(table))
	exprs, err := b.whereExprs(opts.Where)
	if err != nil {
		return errorResult(start, err)
	}
	for _, e := range exprs {
		q = q.Where(e)
	}
	if opts.Order != "" {
		dir := " ASC"
		if opts.Desc {
			dir = " DESC"
		}
		q = q.OrderBy(b.Quote(opts.Order) + dir)
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	q = q.Limit(limit).Offset(opts.Offset)

	query, args, err := q.ToSql()
	if err != nil {
		return errorResult(start, err)
	}
	return b.Query(ctx, query, args...)
}

// Count returns the row count of a table under the same filter the
// browse query uses, for pagination.
func (b *Base) Count(ctx context.Context, table string, where []Condition) (int64, error) {
	q := b.builder().Select("COUNT(*)").From(b.Quote(table))
	exprs, err := b.whereExprs(where)
	if err != nil {
		return 0, err
	}
	for _, e := range exprs {
		q = q.Where(e)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	err = b.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Base) Insert(ctx context.Context, table string, data map[string]any) *Result {
	start := time.Now()
	if len(data) == 0 {
		return errorResult(start, fmt.Errorf("no values to insert"))
	}
	keys := sortedKeys(data)
	cols := make([]string, len(keys))
	vals := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = b.Quote(k)
		vals[i] = data[k]
	}
	query, args, err := b.builder().Insert(b.Quote(table)).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return errorResult(start, err)
	}
	return b.Query(ctx, query, args...)
}

func (b *Base) Update(ctx context.Context, table string, data map[string]any, where []Condition) *Result {
	start := time.Now()
	if len(data) == 0 {
		return errorResult(start, fmt.Errorf("no values to update"))
	}
	if len(where) == 0 {
		return errorResult(start, fmt.Errorf("refusing to update without a WHERE clause"))
	}
	q := b.builder().Update(b.Quote(table))
	for _, k := range sortedKeys(data) {
		q = q.Set(b.Quote(k), data[k])
	}
	exprs, err := b.whereExprs(where)
	if err != nil {
		return errorResult(start, err)
	}
	for _, e := range exprs {
		q = q.Where(e)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errorResult(start, err)
	}
	return b.Query(ctx, query, args...)
}

func (b *Base) Delete(ctx context.Context, table string, where []Condition) *Result {
	start := time.Now()
	if len(where) == 0 {
		return errorResult(start, fmt.Errorf("refusing to delete without a WHERE clause"))
	}
	q := b.builder().Delete(b.Quote(table))
	exprs, err := b.whereExprs(where)
	if err != nil {
		return errorResult(start, err)
	}
	for _, e := range exprs {
		q = q.Where(e)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errorResult(start, err)
	}
	return b.Query(ctx, query, args...)
}

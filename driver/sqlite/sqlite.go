// Package sqlite adapts embedded SQLite databases (via the pure-Go
// modernc.org driver) to the driver contract.
//
// Unlike the server engines, SQLite handles are cached process-wide and
// keyed by file path. Closing and reopening a :memory: database would
// lose all data between requests, and WAL-mode files behave best on a
// long-lived handle, so Close detaches from the cached handle instead of
// closing it; only the cache owns the real close.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/jmcleod/dbadmin/driver"
)

// MemoryPath is the reserved server value meaning a transient in-process
// memory database.
const MemoryPath = ":memory:"

var (
	cacheMu sync.Mutex
	cache   = map[string]*sql.DB{}
)

func openCached(path string) (*sql.DB, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if db, ok := cache[path]; ok {
		return db, nil
	}

	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A :memory: database exists per connection; pinning the pool to one
	// connection is what makes state survive across requests.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}
	cache[path] = db
	return db, nil
}

// CloseAll closes every cached handle. Only for process shutdown and
// tests.
func CloseAll() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	for path, db := range cache {
		db.Close()
		delete(cache, path)
	}
}

var capabilities = driver.Capabilities(
	driver.CapDatabases, driver.CapIndexes, driver.CapForeignKeys,
	driver.CapDropColumn, driver.CapDump, driver.CapMultiQuery,
	driver.CapExplain, driver.CapTriggers, driver.CapVariables,
)

type Conn struct {
	driver.Base
	path string
}

var _ driver.Conn = (*Conn)(nil)

func New() driver.Conn { return &Conn{} }

func init() {
	driver.Register("sqlite", "SQLite", New)
}

func (c *Conn) Connect(ctx context.Context, server, username, password string) error {
	path := server
	if path == "" {
		path = MemoryPath
	}
	db, err := openCached(path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	c.path = path
	c.Base = driver.Base{DB: db, Placeholder: sq.Question, Quote: QuoteID}
	return nil
}

// Close detaches from the cached handle; it never closes it.
func (c *Conn) Close() error {
	c.Base.DB = nil
	return nil
}

// SelectDatabase reattaches to a different file.
func (c *Conn) SelectDatabase(ctx context.Context, name string) error {
	c.Close()
	return c.Connect(ctx, name, "", "")
}

// Databases reports the single attached file.
func (c *Conn) Databases(ctx context.Context) ([]string, error) {
	if c.path == "" {
		return []string{MemoryPath}, nil
	}
	return []string{c.path}, nil
}

func (c *Conn) Tables(ctx context.Context, db string) ([]driver.Table, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Table, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Table{
			Name: fmt.Sprint(r["name"]),
			Type: fmt.Sprint(r["type"]),
		})
	}
	return out, nil
}

func (c *Conn) TableStatus(ctx context.Context, table string) (map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SELECT * FROM sqlite_master WHERE name = ?", table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}

func (c *Conn) Fields(ctx context.Context, table string) ([]driver.Field, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "PRAGMA table_info("+QuoteID(table)+")")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Field, 0, len(rows))
	for _, r := range rows {
		name := fmt.Sprint(r["name"])
		fullType := fmt.Sprint(r["type"])
		primary := asInt(r["pk"]) > 0
		raw := map[string]any{
			"name":     name,
			"type":     fullType,
			"fullType": fullType,
			"nullable": asInt(r["notnull"]) == 0,
			// Known imprecision inherited from SQLite: an integer primary
			// key is a rowid alias and is treated as auto-incrementing
			// whether or not AUTOINCREMENT was declared.
			"autoIncrement": primary && strings.Contains(strings.ToLower(fullType), "integer"),
			"primary":       primary,
		}
		if v := r["dflt_value"]; v != nil {
			raw["default"] = v
		}
		out = append(out, driver.NormalizeField(raw))
	}
	return out, nil
}

func (c *Conn) Indexes(ctx context.Context, table string) ([]driver.Index, error) {
	list, err := driver.QueryMaps(ctx, c.DB, "PRAGMA index_list("+QuoteID(table)+")")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Index, 0, len(list))
	for _, idx := range list {
		name := fmt.Sprint(idx["name"])
		cols, err := driver.QueryMaps(ctx, c.DB, "PRAGMA index_info("+QuoteID(name)+")")
		if err != nil {
			return nil, err
		}
		typ := "INDEX"
		if fmt.Sprint(idx["origin"]) == "pk" {
			typ = "PRIMARY"
		} else if asInt(idx["unique"]) == 1 {
			typ = "UNIQUE"
		}
		ix := driver.Index{Name: name, Type: typ, Columns: []string{}, Lengths: []string{}, Descs: []bool{}}
		for _, col := range cols {
			ix.Columns = append(ix.Columns, fmt.Sprint(col["name"]))
		}
		out = append(out, ix)
	}
	return out, nil
}

func (c *Conn) ForeignKeys(ctx context.Context, table string) ([]driver.ForeignKey, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "PRAGMA foreign_key_list("+QuoteID(table)+")")
	if err != nil {
		return nil, err
	}
	byID := map[int64]*driver.ForeignKey{}
	var order []int64
	for _, r := range rows {
		id := asInt(r["id"])
		fk, ok := byID[id]
		if !ok {
			fk = &driver.ForeignKey{
				Name:        fmt.Sprintf("fk_%s_%d", table, id),
				TargetTable: fmt.Sprint(r["table"]),
				OnDelete:    fmt.Sprint(r["on_delete"]),
				OnUpdate:    fmt.Sprint(r["on_update"]),
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.SourceColumns = append(fk.SourceColumns, fmt.Sprint(r["from"]))
		fk.TargetColumns = append(fk.TargetColumns, fmt.Sprint(r["to"]))
	}
	out := make([]driver.ForeignKey, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (c *Conn) Triggers(ctx context.Context, table string) ([]driver.Trigger, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT name, sql FROM sqlite_master WHERE type = 'trigger' AND tbl_name = ?", table)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Trigger, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Trigger{Name: fmt.Sprint(r["name"]), Statement: fmt.Sprint(r["sql"])})
	}
	return out, nil
}

func (c *Conn) Collations(ctx context.Context) ([]string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "PRAGMA collation_list")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["name"]))
	}
	return out, nil
}

func (c *Conn) MultiQuery(ctx context.Context, script string) []*driver.Result {
	return c.MultiQuerySplit(ctx, script)
}

func (c *Conn) Explain(ctx context.Context, query string) ([]map[string]any, error) {
	return driver.QueryMaps(ctx, c.DB, "EXPLAIN QUERY PLAN "+query)
}

// Upsert uses INSERT OR REPLACE row by row; conflictKeys are implied by
// the table's unique constraints on this engine.
func (c *Conn) Upsert(ctx context.Context, table string, rows []map[string]any, conflictKeys []string) *driver.Result {
	if len(rows) == 0 {
		return driver.EmptyResult()
	}
	var last *driver.Result
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cols := make([]string, len(keys))
		vals := make([]any, len(keys))
		for i, k := range keys {
			cols[i] = QuoteID(k)
			vals[i] = row[k]
		}
		query, args, err := sq.Insert(QuoteID(table)).Options("OR REPLACE").Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return driver.Errorf("building upsert: %v", err)
		}
		last = c.Query(ctx, query, args...)
		if !last.OK() {
			return last
		}
	}
	return last
}

// CreateDatabase has no meaning for a file engine; connecting to a new
// path creates the file.
func (c *Conn) CreateDatabase(ctx context.Context, name, collation string) *driver.Result {
	return driver.EmptyResult()
}

func (c *Conn) DropDatabase(ctx context.Context, name string) *driver.Result {
	return driver.EmptyResult()
}

func (c *Conn) CreateTable(ctx context.Context, name string, fields []driver.FieldDef, indexes []driver.IndexDef) *driver.Result {
	if len(fields) == 0 {
		return driver.Errorf("at least one column is required")
	}
	primaries := 0
	for _, f := range fields {
		if f.Primary {
			primaries++
		}
	}
	defs := make([]string, 0, len(fields)+len(indexes))
	for _, f := range fields {
		typ := f.FullType
		if typ == "" {
			typ = f.Type
		}
		s := QuoteID(f.Name) + " " + typ
		if f.Primary && primaries == 1 {
			s += " PRIMARY KEY"
			if f.AutoIncrement {
				s += " AUTOINCREMENT"
			}
		}
		if !f.Nullable {
			s += " NOT NULL"
		}
		if f.Default != nil && !f.AutoIncrement {
			s += " DEFAULT " + *f.Default
		}
		defs = append(defs, s)
	}
	if primaries > 1 {
		cols := make([]string, 0, primaries)
		for _, f := range fields {
			if f.Primary {
				cols = append(cols, QuoteID(f.Name))
			}
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	res := c.Query(ctx, "CREATE TABLE "+QuoteID(name)+" ("+strings.Join(defs, ", ")+")")
	if !res.OK() {
		return res
	}
	for _, idx := range indexes {
		if idx.Type == "PRIMARY" {
			continue
		}
		if r := c.createIndex(ctx, name, idx); !r.OK() {
			return r
		}
	}
	return res
}

func (c *Conn) createIndex(ctx context.Context, table string, idx driver.IndexDef) *driver.Result {
	unique := ""
	if idx.Type == "UNIQUE" {
		unique = "UNIQUE "
	}
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		cols[i] = QuoteID(col)
	}
	name := idx.Name
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", table, strings.Join(idx.Columns, "_"))
	}
	return c.Query(ctx, "CREATE "+unique+"INDEX "+QuoteID(name)+" ON "+QuoteID(table)+" ("+strings.Join(cols, ", ")+")")
}

func (c *Conn) DropTable(ctx context.Context, table string) *driver.Result {
	return c.Query(ctx, "DROP TABLE "+QuoteID(table))
}

// TruncateTable deletes all rows; SQLite has no TRUNCATE statement.
func (c *Conn) TruncateTable(ctx context.Context, table string) *driver.Result {
	return c.Query(ctx, "DELETE FROM "+QuoteID(table))
}

func (c *Conn) AlterIndexes(ctx context.Context, table string, add, drop []driver.IndexDef) *driver.Result {
	for _, idx := range drop {
		if res := c.Query(ctx, "DROP INDEX "+QuoteID(idx.Name)); !res.OK() {
			return res
		}
	}
	for _, idx := range add {
		if idx.Type == "PRIMARY" {
			return driver.Errorf("SQLite cannot add a primary key to an existing table")
		}
		if res := c.createIndex(ctx, table, idx); !res.OK() {
			return res
		}
	}
	return driver.EmptyResult()
}

func (c *Conn) AddForeignKey(ctx context.Context, table string, fk driver.ForeignKey) *driver.Result {
	return driver.Errorf("SQLite cannot add a foreign key to an existing table")
}

func (c *Conn) DropForeignKey(ctx context.Context, table, name string) *driver.Result {
	return driver.Errorf("SQLite cannot drop a foreign key from an existing table")
}

func (c *Conn) CreateSQL(ctx context.Context, table string) (string, error) {
	var ddl sql.NullString
	err := c.DB.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE name = ? AND type IN ('table','view')", table).Scan(&ddl)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ddl.String, nil
}

func (c *Conn) ServerInfo(ctx context.Context) (map[string]any, error) {
	var version string
	if err := c.DB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return nil, err
	}
	return map[string]any{"version": version, "user": "", "file": c.path}, nil
}

var pragmaVariables = []string{
	"cache_size", "foreign_keys", "journal_mode", "page_size",
	"synchronous", "temp_store", "wal_autocheckpoint",
}

func (c *Conn) Variables(ctx context.Context) ([]driver.Variable, error) {
	out := make([]driver.Variable, 0, len(pragmaVariables))
	for _, p := range pragmaVariables {
		rows, err := driver.QueryMaps(ctx, c.DB, "PRAGMA "+p)
		if err != nil || len(rows) == 0 {
			continue
		}
		var val string
		for _, v := range rows[0] {
			val = fmt.Sprint(v)
			break
		}
		out = append(out, driver.Variable{Name: p, Value: val})
	}
	return out, nil
}

func (c *Conn) Processes(ctx context.Context) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

func (c *Conn) KillProcess(ctx context.Context, id string) *driver.Result {
	return driver.Errorf("SQLite has no process list")
}

func (c *Conn) Users(ctx context.Context) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

func (c *Conn) Has(cap driver.Capability) bool { return capabilities.Has(cap) }

// QuoteID escapes an identifier with double quotes, doubling embedded
// quote characters.
func QuoteID(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *Conn) QuoteID(name string) string { return QuoteID(name) }

func (c *Conn) Config() driver.Metadata {
	return driver.Metadata{
		Jush: "sqlite",
		Types: map[string][]string{
			"Numeric": {"integer", "real", "numeric", "boolean"},
			"Text":    {"text", "char", "varchar", "clob"},
			"Binary":  {"blob"},
			"Date":    {"date", "datetime", "timestamp"},
		},
		Operators: []string{"=", "<", ">", "<=", ">=", "!=", "LIKE", "GLOB", "IS NULL", "IS NOT NULL", "IN", "NOT IN", "sql"},
		Functions: []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "GROUP_CONCAT", "TOTAL"},
		Grouping:  []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "GROUP_CONCAT"},
		EditFunctions: [][]string{
			{"datetime('now')", "strftime('%s','now')"},
			{"datetime('now')", "strftime('%s','now')", "original"},
		},
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	case []byte:
		var out int64
		fmt.Sscan(string(n), &out)
		return out
	default:
		return 0
	}
}

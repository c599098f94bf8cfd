// Package postgres adapts PostgreSQL servers to the driver contract,
// using the lib/pq wire driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/jmcleod/dbadmin/driver"
)

var capabilities = driver.Capabilities(
	driver.CapDatabases, driver.CapSchemes, driver.CapIndexes,
	driver.CapForeignKeys, driver.CapVariables, driver.CapProcessList,
	driver.CapUsers, driver.CapDropColumn, driver.CapComment,
	driver.CapDump, driver.CapMultiQuery, driver.CapExplain,
	driver.CapKill, driver.CapRoutines, driver.CapTriggers,
	driver.CapSequences,
)

type Conn struct {
	driver.Base
	server   string
	username string
	password string
	database string
}

var _ driver.Conn = (*Conn)(nil)

func New() driver.Conn { return &Conn{} }

func init() {
	driver.Register("pgsql", "PostgreSQL", New)
}

func dsn(host string, port int, user, password, database string) string {
	quote := func(v string) string {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	parts := []string{
		"host=" + quote(host),
		"port=" + strconv.Itoa(port),
		"user=" + quote(user),
		"dbname=" + quote(database),
		"sslmode=prefer",
		"connect_timeout=10",
	}
	if password != "" {
		parts = append(parts, "password="+quote(password))
	}
	return strings.Join(parts, " ")
}

func (c *Conn) open(ctx context.Context, database string) error {
	host, port := driver.ParseServer(c.server, 5432)
	user := c.username
	if user == "" {
		user = "postgres"
	}
	db, err := sql.Open("postgres", dsn(host, port, user, c.password, database))
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	c.database = database
	c.Base = driver.Base{DB: db, Placeholder: sq.Dollar, Quote: QuoteID}
	return nil
}

func (c *Conn) Connect(ctx context.Context, server, username, password string) error {
	c.server, c.username, c.password = server, username, password
	return c.open(ctx, "postgres")
}

func (c *Conn) Close() error {
	if c.DB == nil {
		return nil
	}
	err := c.DB.Close()
	c.Base.DB = nil
	return err
}

// SelectDatabase reconnects; a PostgreSQL session is bound to one
// database for its lifetime.
func (c *Conn) SelectDatabase(ctx context.Context, name string) error {
	c.Close()
	return c.open(ctx, name)
}

func (c *Conn) Databases(ctx context.Context) ([]string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["datname"]))
	}
	return out, nil
}

func (c *Conn) Tables(ctx context.Context, db string) ([]driver.Table, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Table, 0, len(rows))
	for _, r := range rows {
		t := driver.Table{Name: fmt.Sprint(r["table_name"]), Type: "table"}
		if fmt.Sprint(r["table_type"]) == "VIEW" {
			t.Type = "view"
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Conn) TableStatus(ctx context.Context, table string) (map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, `
		SELECT c.relname AS name, c.reltuples::bigint AS rows,
		       pg_total_relation_size(c.oid) AS data_length,
		       obj_description(c.oid) AS comment
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND n.nspname = current_schema()`, table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}

const fieldsQuery = `
SELECT c.column_name, c.data_type, c.udt_name, c.character_maximum_length,
       c.numeric_precision, c.numeric_scale, c.is_nullable, c.column_default,
       c.is_identity,
       pgd.description AS comment
FROM information_schema.columns c
LEFT JOIN pg_catalog.pg_statio_all_tables st ON st.relname = c.table_name AND st.schemaname = current_schema()
LEFT JOIN pg_catalog.pg_description pgd ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
WHERE c.table_name = $1 AND c.table_schema = current_schema()
ORDER BY c.ordinal_position`

const primaryKeysQuery = `
SELECT kcu.column_name FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = $1 AND tc.table_schema = current_schema()`

func (c *Conn) Fields(ctx context.Context, table string) ([]driver.Field, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, fieldsQuery, table)
	if err != nil {
		return nil, err
	}
	pkRows, err := driver.QueryMaps(ctx, c.DB, primaryKeysQuery, table)
	if err != nil {
		return nil, err
	}
	pks := map[string]bool{}
	for _, r := range pkRows {
		pks[fmt.Sprint(r["column_name"])] = true
	}

	out := make([]driver.Field, 0, len(rows))
	for _, r := range rows {
		name := fmt.Sprint(r["column_name"])
		typ := stringOr(r["udt_name"], fmt.Sprint(r["data_type"]))
		length := ""
		if v := r["character_maximum_length"]; v != nil {
			length = fmt.Sprint(v)
		} else if v := r["numeric_precision"]; v != nil {
			length = fmt.Sprint(v)
			if s := r["numeric_scale"]; s != nil && fmt.Sprint(s) != "0" {
				length += "," + fmt.Sprint(s)
			}
		}
		fullType := typ
		if length != "" {
			fullType = typ + "(" + length + ")"
		}
		colDefault := ""
		if v := r["column_default"]; v != nil {
			colDefault = fmt.Sprint(v)
		}
		raw := map[string]any{
			"name":          name,
			"type":          typ,
			"fullType":      fullType,
			"length":        length,
			"nullable":      fmt.Sprint(r["is_nullable"]) == "YES",
			"autoIncrement": fmt.Sprint(r["is_identity"]) == "YES" || strings.HasPrefix(strings.ToLower(colDefault), "nextval"),
			"primary":       pks[name],
		}
		if v := r["column_default"]; v != nil {
			raw["default"] = v
		}
		if v := r["comment"]; v != nil {
			raw["comment"] = v
		}
		out = append(out, driver.NormalizeField(raw))
	}
	return out, nil
}

const indexesQuery = `
SELECT i.relname AS index_name, ix.indisunique, ix.indisprimary,
       array_to_string(array_agg(a.attname ORDER BY k.pos), ',') AS columns
FROM pg_class t
JOIN pg_index ix ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN lateral unnest(ix.indkey) WITH ORDINALITY AS k(attnum, pos) ON TRUE
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE t.relname = $1 AND t.relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = current_schema())
GROUP BY i.relname, ix.indisunique, ix.indisprimary`

func (c *Conn) Indexes(ctx context.Context, table string) ([]driver.Index, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, indexesQuery, table)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Index, 0, len(rows))
	for _, r := range rows {
		typ := "INDEX"
		if asBool(r["indisprimary"]) {
			typ = "PRIMARY"
		} else if asBool(r["indisunique"]) {
			typ = "UNIQUE"
		}
		out = append(out, driver.Index{
			Name:    fmt.Sprint(r["index_name"]),
			Type:    typ,
			Columns: strings.Split(fmt.Sprint(r["columns"]), ","),
			Lengths: []string{},
			Descs:   []bool{},
		})
	}
	return out, nil
}

const foreignKeysQuery = `
SELECT tc.constraint_name, kcu.column_name, ccu.table_schema AS f_schema,
       ccu.table_name AS f_table, ccu.column_name AS f_column,
       rc.delete_rule, rc.update_rule
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.referential_constraints rc
  ON tc.constraint_name = rc.constraint_name AND tc.constraint_schema = rc.constraint_schema
JOIN information_schema.constraint_column_usage ccu
  ON rc.unique_constraint_name = ccu.constraint_name AND rc.unique_constraint_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1 AND tc.table_schema = current_schema()
ORDER BY tc.constraint_name, kcu.ordinal_position`

func (c *Conn) ForeignKeys(ctx context.Context, table string) ([]driver.ForeignKey, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, foreignKeysQuery, table)
	if err != nil {
		return nil, err
	}
	byName := map[string]*driver.ForeignKey{}
	var order []string
	for _, r := range rows {
		name := fmt.Sprint(r["constraint_name"])
		fk, ok := byName[name]
		if !ok {
			fk = &driver.ForeignKey{
				Name:        name,
				TargetDB:    fmt.Sprint(r["f_schema"]),
				TargetTable: fmt.Sprint(r["f_table"]),
				OnDelete:    fmt.Sprint(r["delete_rule"]),
				OnUpdate:    fmt.Sprint(r["update_rule"]),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.SourceColumns = append(fk.SourceColumns, fmt.Sprint(r["column_name"]))
		fk.TargetColumns = append(fk.TargetColumns, fmt.Sprint(r["f_column"]))
	}
	out := make([]driver.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (c *Conn) Triggers(ctx context.Context, table string) ([]driver.Trigger, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, `
		SELECT trigger_name, event_manipulation, action_timing, action_statement
		FROM information_schema.triggers
		WHERE event_object_table = $1 AND trigger_schema = current_schema()
		ORDER BY trigger_name`, table)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Trigger, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Trigger{
			Name:      fmt.Sprint(r["trigger_name"]),
			Event:     fmt.Sprint(r["event_manipulation"]),
			Timing:    fmt.Sprint(r["action_timing"]),
			Statement: fmt.Sprint(r["action_statement"]),
		})
	}
	return out, nil
}

func (c *Conn) Collations(ctx context.Context) ([]string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT collname FROM pg_collation ORDER BY collname LIMIT 200")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["collname"]))
	}
	return out, nil
}

func (c *Conn) MultiQuery(ctx context.Context, script string) []*driver.Result {
	return c.MultiQuerySplit(ctx, script)
}

func (c *Conn) Explain(ctx context.Context, query string) ([]map[string]any, error) {
	return driver.QueryMaps(ctx, c.DB, "EXPLAIN "+query)
}

// Upsert uses INSERT ... ON CONFLICT DO UPDATE per row. conflictKeys
// must name the unique columns; without them PostgreSQL cannot infer
// the conflict target.
func (c *Conn) Upsert(ctx context.Context, table string, rows []map[string]any, conflictKeys []string) *driver.Result {
	if len(rows) == 0 {
		return driver.EmptyResult()
	}
	if len(conflictKeys) == 0 {
		return driver.Errorf("conflict columns are required for upsert")
	}
	keySet := map[string]bool{}
	conflict := make([]string, len(conflictKeys))
	for i, k := range conflictKeys {
		keySet[k] = true
		conflict[i] = QuoteID(k)
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
		var updates []string
		for i, k := range keys {
			cols[i] = QuoteID(k)
			vals[i] = row[k]
			if !keySet[k] {
				updates = append(updates, QuoteID(k)+" = EXCLUDED."+QuoteID(k))
			}
		}
		action := "DO NOTHING"
		if len(updates) > 0 {
			action = "DO UPDATE SET " + strings.Join(updates, ", ")
		}
		query, args, err := sq.Insert(QuoteID(table)).
			Columns(cols...).Values(vals...).
			Suffix("ON CONFLICT (" + strings.Join(conflict, ", ") + ") " + action).
			PlaceholderFormat(sq.Dollar).ToSql()
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

func (c *Conn) CreateDatabase(ctx context.Context, name, collation string) *driver.Result {
	return c.Query(ctx, "CREATE DATABASE "+QuoteID(name))
}

func (c *Conn) DropDatabase(ctx context.Context, name string) *driver.Result {
	return c.Query(ctx, "DROP DATABASE "+QuoteID(name))
}

func (c *Conn) CreateTable(ctx context.Context, name string, fields []driver.FieldDef, indexes []driver.IndexDef) *driver.Result {
	if len(fields) == 0 {
		return driver.Errorf("at least one column is required")
	}
	defs := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		typ := f.FullType
		if typ == "" {
			typ = f.Type
		}
		if f.AutoIncrement {
			typ = serialFor(typ)
		}
		s := QuoteID(f.Name) + " " + typ
		if !f.Nullable {
			s += " NOT NULL"
		}
		if f.Default != nil && !f.AutoIncrement {
			s += " DEFAULT " + *f.Default
		}
		defs = append(defs, s)
	}
	var pk []string
	for _, f := range fields {
		if f.Primary {
			pk = append(pk, QuoteID(f.Name))
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	res := c.Query(ctx, "CREATE TABLE "+QuoteID(name)+" (\n  "+strings.Join(defs, ",\n  ")+"\n)")
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

func serialFor(typ string) string {
	switch strings.ToLower(typ) {
	case "smallint", "int2":
		return "smallserial"
	case "bigint", "int8":
		return "bigserial"
	default:
		return "serial"
	}
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

func (c *Conn) TruncateTable(ctx context.Context, table string) *driver.Result {
	return c.Query(ctx, "TRUNCATE TABLE "+QuoteID(table))
}

func (c *Conn) AlterIndexes(ctx context.Context, table string, add, drop []driver.IndexDef) *driver.Result {
	for _, idx := range drop {
		if res := c.Query(ctx, "DROP INDEX "+QuoteID(idx.Name)); !res.OK() {
			return res
		}
	}
	for _, idx := range add {
		if idx.Type == "PRIMARY" {
			cols := make([]string, len(idx.Columns))
			for i, col := range idx.Columns {
				cols[i] = QuoteID(col)
			}
			res := c.Query(ctx, "ALTER TABLE "+QuoteID(table)+" ADD PRIMARY KEY ("+strings.Join(cols, ", ")+")")
			if !res.OK() {
				return res
			}
			continue
		}
		if res := c.createIndex(ctx, table, idx); !res.OK() {
			return res
		}
	}
	return driver.EmptyResult()
}

func (c *Conn) AddForeignKey(ctx context.Context, table string, fk driver.ForeignKey) *driver.Result {
	src := make([]string, len(fk.SourceColumns))
	for i, col := range fk.SourceColumns {
		src[i] = QuoteID(col)
	}
	dst := make([]string, len(fk.TargetColumns))
	for i, col := range fk.TargetColumns {
		dst[i] = QuoteID(col)
	}
	query := "ALTER TABLE " + QuoteID(table) + " ADD CONSTRAINT " + QuoteID(fk.Name) +
		" FOREIGN KEY (" + strings.Join(src, ", ") + ") REFERENCES " + QuoteID(fk.TargetTable) +
		" (" + strings.Join(dst, ", ") + ")"
	return c.Query(ctx, query)
}

func (c *Conn) DropForeignKey(ctx context.Context, table, name string) *driver.Result {
	return c.Query(ctx, "ALTER TABLE "+QuoteID(table)+" DROP CONSTRAINT "+QuoteID(name))
}

// CreateSQL reconstructs approximate DDL from the catalogs; PostgreSQL
// has no SHOW CREATE TABLE.
func (c *Conn) CreateSQL(ctx context.Context, table string) (string, error) {
	fields, err := c.Fields(ctx, table)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", nil
	}
	indexes, err := c.Indexes(ctx, table)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		s := "  " + QuoteID(f.Name) + " " + f.FullType
		if !f.Nullable {
			s += " NOT NULL"
		}
		if f.Default != nil {
			s += " DEFAULT " + *f.Default
		}
		lines = append(lines, s)
	}
	for _, idx := range indexes {
		if idx.Type != "PRIMARY" {
			continue
		}
		cols := make([]string, len(idx.Columns))
		for i, col := range idx.Columns {
			cols[i] = QuoteID(col)
		}
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	return "CREATE TABLE " + QuoteID(table) + " (\n" + strings.Join(lines, ",\n") + "\n);", nil
}

func (c *Conn) ServerInfo(ctx context.Context) (map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT version() AS version, current_user AS user, current_database() AS db")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}

func (c *Conn) Variables(ctx context.Context) ([]driver.Variable, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT name, setting AS value FROM pg_settings ORDER BY name")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Variable, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Variable{
			Name:  fmt.Sprint(r["name"]),
			Value: fmt.Sprint(r["value"]),
		})
	}
	return out, nil
}

func (c *Conn) Processes(ctx context.Context) ([]map[string]any, error) {
	return driver.QueryMaps(ctx, c.DB,
		"SELECT pid, usename, application_name, state, query FROM pg_stat_activity WHERE pid <> pg_backend_pid()")
}

func (c *Conn) KillProcess(ctx context.Context, id string) *driver.Result {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return driver.Errorf("invalid process id %q", id)
	}
	return c.Query(ctx, "SELECT pg_terminate_backend($1)", n)
}

func (c *Conn) Users(ctx context.Context) ([]map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT rolname, rolsuper, rolinherit, rolcreaterole, rolcreatedb, rolcanlogin FROM pg_roles ORDER BY rolname")
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		r["user"] = r["rolname"]
		out = append(out, r)
	}
	return out, nil
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
		Jush: "pgsql",
		Types: map[string][]string{
			"Numbers":       {"smallint", "integer", "bigint", "decimal", "numeric", "real", "double precision", "smallserial", "serial", "bigserial"},
			"Date and time": {"date", "time", "timetz", "timestamp", "timestamptz", "interval"},
			"Strings":       {"char", "varchar", "text"},
			"Binary":        {"bytea"},
			"Other":         {"boolean", "json", "jsonb", "uuid", "xml", "point", "line", "polygon", "inet", "cidr", "macaddr"},
		},
		Operators: []string{"=", "<", ">", "<=", ">=", "!=", "LIKE", "ILIKE", "~", "IS NULL", "IS NOT NULL", "IN", "NOT IN", "sql"},
		Functions: []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "ARRAY_AGG", "STRING_AGG"},
		Grouping:  []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "ARRAY_AGG"},
		EditFunctions: [][]string{
			{"NOW()", "CURRENT_TIMESTAMP", "gen_random_uuid()"},
			{"NOW()", "CURRENT_TIMESTAMP", "gen_random_uuid()", "original"},
		},
	}
}

func stringOr(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	s := fmt.Sprint(v)
	if s == "" {
		return fallback
	}
	return s
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "t" || b == "true"
	case []byte:
		return string(b) == "t" || string(b) == "true"
	default:
		return false
	}
}

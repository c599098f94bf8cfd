// Package mysql adapts MySQL and MariaDB servers to the driver
// contract, using the go-sql-driver/mysql wire driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/jmcleod/dbadmin/driver"
)

var capabilities = driver.Capabilities(
	driver.CapDatabases, driver.CapRoutines, driver.CapTriggers,
	driver.CapProcessList, driver.CapUsers, driver.CapVariables,
	driver.CapIndexes, driver.CapForeignKeys, driver.CapDropColumn,
	driver.CapComment, driver.CapCollation, driver.CapUnsigned,
	driver.CapAutoIncr, driver.CapExplain, driver.CapDump,
	driver.CapMultiQuery, driver.CapKill,
)

type Conn struct {
	driver.Base
	database string
}

var _ driver.Conn = (*Conn)(nil)

func New() driver.Conn { return &Conn{} }

func init() {
	driver.Register("mysql", "MySQL / MariaDB", New)
}

func (c *Conn) Connect(ctx context.Context, server, username, password string) error {
	host, port := driver.ParseServer(server, 3306)
	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.User = username
	cfg.Passwd = password
	cfg.Collation = "utf8mb4_general_ci"
	cfg.Timeout = 10 * time.Second
	cfg.MultiStatements = true
	cfg.ParseTime = false

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	c.Base = driver.Base{DB: db, Placeholder: sq.Question, Quote: QuoteID}
	return nil
}

func (c *Conn) Close() error {
	if c.DB == nil {
		return nil
	}
	err := c.DB.Close()
	c.Base.DB = nil
	return err
}

func (c *Conn) SelectDatabase(ctx context.Context, name string) error {
	_, err := c.DB.ExecContext(ctx, "USE "+QuoteID(name))
	if err == nil {
		c.database = name
	}
	return err
}

func (c *Conn) Databases(ctx context.Context) ([]string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["Database"]))
	}
	return out, nil
}

func (c *Conn) Tables(ctx context.Context, db string) ([]driver.Table, error) {
	query := "SHOW FULL TABLES"
	if db != "" {
		query += " FROM " + QuoteID(db)
	}
	raw, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	// Column names depend on the active database, so go positional.
	var out []driver.Table
	for raw.Next() {
		var name, kind string
		if err := raw.Scan(&name, &kind); err != nil {
			return nil, err
		}
		t := driver.Table{Name: name, Type: "table"}
		if kind == "VIEW" {
			t.Type = "view"
		}
		out = append(out, t)
	}
	if out == nil {
		out = []driver.Table{}
	}
	return out, raw.Err()
}

func (c *Conn) TableStatus(ctx context.Context, table string) (map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW TABLE STATUS LIKE ?", table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}

func (c *Conn) Fields(ctx context.Context, table string) ([]driver.Field, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW FULL COLUMNS FROM "+QuoteID(table))
	if err != nil {
		return nil, err
	}
	out := make([]driver.Field, 0, len(rows))
	for _, r := range rows {
		f := driver.NormalizeField(r)
		if privs, ok := r["Privileges"]; ok {
			granted := strings.Split(strings.ToLower(fmt.Sprint(privs)), ",")
			set := map[string]bool{}
			for _, p := range granted {
				set[strings.TrimSpace(p)] = true
			}
			f.Privileges = map[string]bool{
				"select": set["select"], "insert": set["insert"],
				"update": set["update"], "references": set["references"],
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func (c *Conn) Indexes(ctx context.Context, table string) ([]driver.Index, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW INDEX FROM "+QuoteID(table))
	if err != nil {
		return nil, err
	}
	byName := map[string]*driver.Index{}
	var order []string
	for _, r := range rows {
		name := fmt.Sprint(r["Key_name"])
		idx, ok := byName[name]
		if !ok {
			typ := "INDEX"
			switch {
			case name == "PRIMARY":
				typ = "PRIMARY"
			case fmt.Sprint(r["Non_unique"]) == "0":
				typ = "UNIQUE"
			case fmt.Sprint(r["Index_type"]) == "FULLTEXT":
				typ = "FULLTEXT"
			}
			idx = &driver.Index{Name: name, Type: typ, Columns: []string{}, Lengths: []string{}, Descs: []bool{}}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, fmt.Sprint(r["Column_name"]))
		length := ""
		if v := r["Sub_part"]; v != nil {
			length = fmt.Sprint(v)
		}
		idx.Lengths = append(idx.Lengths, length)
		idx.Descs = append(idx.Descs, fmt.Sprint(r["Collation"]) == "D")
	}
	out := make([]driver.Index, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

const foreignKeysQuery = `
SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_SCHEMA,
       kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME,
       rc.DELETE_RULE, rc.UPDATE_RULE
FROM information_schema.KEY_COLUMN_USAGE kcu
JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
  ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
  AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
WHERE kcu.TABLE_NAME = ? AND kcu.TABLE_SCHEMA = DATABASE()
  AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

func (c *Conn) ForeignKeys(ctx context.Context, table string) ([]driver.ForeignKey, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, foreignKeysQuery, table)
	if err != nil {
		return nil, err
	}
	byName := map[string]*driver.ForeignKey{}
	var order []string
	for _, r := range rows {
		name := fmt.Sprint(r["CONSTRAINT_NAME"])
		fk, ok := byName[name]
		if !ok {
			fk = &driver.ForeignKey{
				Name:        name,
				TargetDB:    fmt.Sprint(r["REFERENCED_TABLE_SCHEMA"]),
				TargetTable: fmt.Sprint(r["REFERENCED_TABLE_NAME"]),
				OnDelete:    fmt.Sprint(r["DELETE_RULE"]),
				OnUpdate:    fmt.Sprint(r["UPDATE_RULE"]),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.SourceColumns = append(fk.SourceColumns, fmt.Sprint(r["COLUMN_NAME"]))
		fk.TargetColumns = append(fk.TargetColumns, fmt.Sprint(r["REFERENCED_COLUMN_NAME"]))
	}
	out := make([]driver.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (c *Conn) Triggers(ctx context.Context, table string) ([]driver.Trigger, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW TRIGGERS LIKE ?", table)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Trigger, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Trigger{
			Name:      fmt.Sprint(r["Trigger"]),
			Event:     fmt.Sprint(r["Event"]),
			Timing:    fmt.Sprint(r["Timing"]),
			Statement: fmt.Sprint(r["Statement"]),
		})
	}
	return out, nil
}

func (c *Conn) Collations(ctx context.Context) ([]string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW COLLATION")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["Collation"]))
	}
	return out, nil
}

// MultiQuery runs the whole script over the multi-statement connection
// and walks the result sets natively.
func (c *Conn) MultiQuery(ctx context.Context, script string) []*driver.Result {
	start := time.Now()
	rows, err := c.DB.QueryContext(ctx, script)
	if err != nil {
		return []*driver.Result{driver.Errorf("%v", err)}
	}
	defer rows.Close()

	var results []*driver.Result
	for {
		maps, fields, err := driver.ScanRows(rows)
		if err != nil {
			results = append(results, driver.Errorf("%v", err))
			break
		}
		res := driver.EmptyResult()
		res.Rows = maps
		res.Fields = fields
		res.RowsAffected = int64(len(maps))
		res.ElapsedMs = time.Since(start).Milliseconds()
		results = append(results, res)
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil && len(results) > 0 && results[len(results)-1].OK() {
		results = append(results, driver.Errorf("%v", err))
	}
	return results
}

func (c *Conn) Explain(ctx context.Context, query string) ([]map[string]any, error) {
	return driver.QueryMaps(ctx, c.DB, "EXPLAIN "+query)
}

// Upsert uses a multi-row INSERT ... ON DUPLICATE KEY UPDATE. Non-key
// columns are overwritten from the incoming values.
func (c *Conn) Upsert(ctx context.Context, table string, rows []map[string]any, conflictKeys []string) *driver.Result {
	if len(rows) == 0 {
		return driver.EmptyResult()
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keySet := map[string]bool{}
	for _, k := range conflictKeys {
		keySet[k] = true
	}
	var updates []string
	for _, k := range keys {
		if !keySet[k] {
			updates = append(updates, QuoteID(k)+" = VALUES("+QuoteID(k)+")")
		}
	}
	if len(updates) == 0 {
		// All columns are keys; update one so conflicts are still a no-op
		// success instead of a syntax error.
		updates = []string{QuoteID(keys[0]) + " = " + QuoteID(keys[0])}
	}

	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = QuoteID(k)
	}
	ins := sq.Insert(QuoteID(table)).Columns(cols...)
	for _, row := range rows {
		vals := make([]any, len(keys))
		for i, k := range keys {
			vals[i] = row[k]
		}
		ins = ins.Values(vals...)
	}
	query, args, err := ins.Suffix("ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")).ToSql()
	if err != nil {
		return driver.Errorf("building upsert: %v", err)
	}
	return c.Query(ctx, query, args...)
}

func (c *Conn) CreateDatabase(ctx context.Context, name, collation string) *driver.Result {
	query := "CREATE DATABASE " + QuoteID(name) + " CHARACTER SET utf8mb4"
	if collation != "" {
		query += " COLLATE " + quoteCollation(collation)
	}
	return c.Query(ctx, query)
}

func (c *Conn) DropDatabase(ctx context.Context, name string) *driver.Result {
	return c.Query(ctx, "DROP DATABASE "+QuoteID(name))
}

func (c *Conn) CreateTable(ctx context.Context, name string, fields []driver.FieldDef, indexes []driver.IndexDef) *driver.Result {
	if len(fields) == 0 {
		return driver.Errorf("at least one column is required")
	}
	defs := make([]string, 0, len(fields)+len(indexes))
	for _, f := range fields {
		defs = append(defs, columnDef(f))
	}
	for _, idx := range indexes {
		defs = append(defs, indexDef(idx))
	}
	query := "CREATE TABLE " + QuoteID(name) + " (\n  " + strings.Join(defs, ",\n  ") + "\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	return c.Query(ctx, query)
}

func columnDef(f driver.FieldDef) string {
	typ := f.FullType
	if typ == "" {
		typ = f.Type
	}
	s := QuoteID(f.Name) + " " + typ
	if f.Unsigned {
		s += " UNSIGNED"
	}
	if !f.Nullable {
		s += " NOT NULL"
	}
	if f.AutoIncrement {
		s += " AUTO_INCREMENT"
	} else if f.Default != nil {
		s += " DEFAULT " + quoteDefault(*f.Default, f.Type)
	}
	if f.Comment != "" {
		s += " COMMENT '" + strings.ReplaceAll(f.Comment, "'", "''") + "'"
	}
	return s
}

func indexDef(idx driver.IndexDef) string {
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		cols[i] = QuoteID(col)
		if i < len(idx.Lengths) && idx.Lengths[i] != "" {
			cols[i] += "(" + idx.Lengths[i] + ")"
		}
	}
	head := ""
	switch idx.Type {
	case "PRIMARY":
		head = "PRIMARY KEY"
	case "UNIQUE":
		head = "UNIQUE KEY " + QuoteID(idx.Name)
	default:
		head = "KEY " + QuoteID(idx.Name)
	}
	return head + " (" + strings.Join(cols, ", ") + ")"
}

var numericTypeRe = regexp.MustCompile(`(?i)^(int|tinyint|smallint|mediumint|bigint|float|double|decimal)`)

func quoteDefault(val, typ string) string {
	if val == "NULL" {
		return "NULL"
	}
	if numericTypeRe.MatchString(typ) {
		return val
	}
	return "'" + strings.ReplaceAll(val, "'", "''") + "'"
}

var collationRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func quoteCollation(c string) string {
	if collationRe.MatchString(c) {
		return c
	}
	return "utf8mb4_general_ci"
}

func (c *Conn) DropTable(ctx context.Context, table string) *driver.Result {
	return c.Query(ctx, "DROP TABLE "+QuoteID(table))
}

func (c *Conn) TruncateTable(ctx context.Context, table string) *driver.Result {
	return c.Query(ctx, "TRUNCATE TABLE "+QuoteID(table))
}

func (c *Conn) AlterIndexes(ctx context.Context, table string, add, drop []driver.IndexDef) *driver.Result {
	var parts []string
	for _, idx := range drop {
		if idx.Name == "PRIMARY" || idx.Type == "PRIMARY" {
			parts = append(parts, "DROP PRIMARY KEY")
		} else {
			parts = append(parts, "DROP INDEX "+QuoteID(idx.Name))
		}
	}
	for _, idx := range add {
		parts = append(parts, "ADD "+indexDef(idx))
	}
	if len(parts) == 0 {
		return driver.EmptyResult()
	}
	return c.Query(ctx, "ALTER TABLE "+QuoteID(table)+" "+strings.Join(parts, ", "))
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
	target := QuoteID(fk.TargetTable)
	if fk.TargetDB != "" {
		target = QuoteID(fk.TargetDB) + "." + target
	}
	query := "ALTER TABLE " + QuoteID(table) + " ADD CONSTRAINT " + QuoteID(fk.Name) +
		" FOREIGN KEY (" + strings.Join(src, ", ") + ") REFERENCES " + target +
		" (" + strings.Join(dst, ", ") + ")"
	if fk.OnDelete != "" {
		query += " ON DELETE " + referentialRule(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		query += " ON UPDATE " + referentialRule(fk.OnUpdate)
	}
	return c.Query(ctx, query)
}

var allowedRules = map[string]bool{
	"RESTRICT": true, "CASCADE": true, "SET NULL": true, "NO ACTION": true, "SET DEFAULT": true,
}

func referentialRule(rule string) string {
	r := strings.ToUpper(strings.TrimSpace(rule))
	if allowedRules[r] {
		return r
	}
	return "RESTRICT"
}

func (c *Conn) DropForeignKey(ctx context.Context, table, name string) *driver.Result {
	return c.Query(ctx, "ALTER TABLE "+QuoteID(table)+" DROP FOREIGN KEY "+QuoteID(name))
}

func (c *Conn) CreateSQL(ctx context.Context, table string) (string, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW CREATE TABLE "+QuoteID(table))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	if ddl, ok := rows[0]["Create Table"]; ok {
		return fmt.Sprint(ddl), nil
	}
	if ddl, ok := rows[0]["Create View"]; ok {
		return fmt.Sprint(ddl), nil
	}
	return "", nil
}

func (c *Conn) ServerInfo(ctx context.Context) (map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB,
		"SELECT VERSION() AS version, USER() AS user, @@character_set_server AS charset, @@collation_server AS collation")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}

func (c *Conn) Variables(ctx context.Context) ([]driver.Variable, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SHOW VARIABLES")
	if err != nil {
		return nil, err
	}
	out := make([]driver.Variable, 0, len(rows))
	for _, r := range rows {
		out = append(out, driver.Variable{
			Name:  fmt.Sprint(r["Variable_name"]),
			Value: fmt.Sprint(r["Value"]),
		})
	}
	return out, nil
}

func (c *Conn) Processes(ctx context.Context) ([]map[string]any, error) {
	return driver.QueryMaps(ctx, c.DB, "SHOW FULL PROCESSLIST")
}

func (c *Conn) KillProcess(ctx context.Context, id string) *driver.Result {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return driver.Errorf("invalid process id %q", id)
	}
	return c.Query(ctx, fmt.Sprintf("KILL %d", n))
}

func (c *Conn) Users(ctx context.Context) ([]map[string]any, error) {
	rows, err := driver.QueryMaps(ctx, c.DB, "SELECT User, Host FROM mysql.user ORDER BY User, Host")
	if err != nil {
		// Listing users needs a grant most accounts lack.
		return []map[string]any{}, nil
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]any{"user": r["User"], "host": r["Host"]})
	}
	return out, nil
}

func (c *Conn) Has(cap driver.Capability) bool { return capabilities.Has(cap) }

// QuoteID escapes an identifier with backticks, doubling embedded
// backticks.
func QuoteID(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *Conn) QuoteID(name string) string { return QuoteID(name) }

func (c *Conn) Config() driver.Metadata {
	return driver.Metadata{
		Jush: "sql",
		Types: map[string][]string{
			"Numbers":       {"tinyint", "smallint", "mediumint", "int", "bigint", "decimal", "float", "double"},
			"Date and time": {"date", "time", "datetime", "timestamp", "year"},
			"Strings":       {"char", "varchar", "tinytext", "text", "mediumtext", "longtext"},
			"Binary":        {"binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob"},
			"Lists":         {"enum", "set"},
			"Other":         {"json", "geometry", "point", "linestring", "polygon"},
		},
		Operators: []string{"=", "<", ">", "<=", ">=", "!=", "LIKE", "LIKE %%", "REGEXP", "IS NULL", "IS NOT NULL", "IN", "NOT IN", "BETWEEN", "sql"},
		Functions: []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "GROUP_CONCAT", "DISTINCT"},
		Grouping:  []string{"GROUP_CONCAT", "COUNT", "SUM", "AVG", "MIN", "MAX"},
		EditFunctions: [][]string{
			{"MD5", "SHA1", "PASSWORD", "NOW", "CURDATE", "CURTIME", "UNIX_TIMESTAMP", "UUID"},
			{"MD5", "SHA1", "PASSWORD", "NOW", "CURDATE", "CURTIME", "UNIX_TIMESTAMP", "UUID", "original"},
		},
	}
}

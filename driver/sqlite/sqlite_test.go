package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/dbadmin/driver"
)

func openTestConn(t *testing.T) (*Conn, context.Context) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c := &Conn{}
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, path, "", ""))
	t.Cleanup(CloseAll)
	return c, ctx
}

func strPtr(s string) *string { return &s }

func TestConnectCreatesFile(t *testing.T) {
	c, ctx := openTestConn(t)

	dbs, err := c.Databases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Contains(t, dbs[0], "test.db")
}

func TestCreateTableAndIntrospect(t *testing.T) {
	c, ctx := openTestConn(t)

	res := c.CreateTable(ctx, "books", []driver.FieldDef{
		{Name: "id", Type: "integer", Primary: true, AutoIncrement: true},
		{Name: "title", Type: "text", Nullable: false},
		{Name: "pages", Type: "integer", Nullable: true, Default: strPtr("0")},
	}, []driver.IndexDef{
		{Name: "idx_books_title", Type: "UNIQUE", Columns: []string{"title"}},
	})
	require.True(t, res.OK(), res.Error)

	tables, err := c.Tables(ctx, "")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "books", tables[0].Name)
	assert.Equal(t, "table", tables[0].Type)

	fields, err := c.Fields(ctx, "books")
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "id", fields[0].Name)
	assert.True(t, fields[0].Primary)
	assert.True(t, fields[0].AutoIncrement)
	assert.Equal(t, "title", fields[1].Name)
	assert.False(t, fields[1].Nullable)

	indexes, err := c.Indexes(ctx, "books")
	require.NoError(t, err)
	var unique *driver.Index
	for i := range indexes {
		if indexes[i].Name == "idx_books_title" {
			unique = &indexes[i]
		}
	}
	require.NotNil(t, unique)
	assert.Equal(t, "UNIQUE", unique.Type)
	assert.Equal(t, []string{"title"}, unique.Columns)

	ddl, err := c.CreateSQL(ctx, "books")
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE")
	assert.Contains(t, ddl, "books")
}

func TestCRUDRoundTrip(t *testing.T) {
	c, ctx := openTestConn(t)
	require.True(t, c.Query(ctx, `CREATE TABLE notes (id integer primary key, body text)`).OK())

	ins := c.Insert(ctx, "notes", map[string]any{"body": "first"})
	require.True(t, ins.OK(), ins.Error)
	require.NotNil(t, ins.InsertID)

	sel := c.Select(ctx, "notes", driver.SelectOptions{})
	require.True(t, sel.OK(), sel.Error)
	require.Len(t, sel.Rows, 1)
	assert.Equal(t, "first", sel.Rows[0]["body"])

	upd := c.Update(ctx, "notes", map[string]any{"body": "second"},
		[]driver.Condition{{Col: "id", Val: *ins.InsertID}})
	require.True(t, upd.OK(), upd.Error)
	assert.Equal(t, int64(1), upd.RowsAffected)

	del := c.Delete(ctx, "notes", []driver.Condition{{Col: "id", Val: *ins.InsertID}})
	require.True(t, del.OK(), del.Error)
	assert.Equal(t, int64(1), del.RowsAffected)

	sel = c.Select(ctx, "notes", driver.SelectOptions{})
	require.True(t, sel.OK())
	assert.Empty(t, sel.Rows)
}

func TestUpsertReplaces(t *testing.T) {
	c, ctx := openTestConn(t)
	require.True(t, c.Query(ctx, `CREATE TABLE kv (k text primary key, v text)`).OK())

	res := c.Upsert(ctx, "kv", []map[string]any{
		{"k": "a", "v": "1"},
		{"k": "b", "v": "2"},
	}, []string{"k"})
	require.True(t, res.OK(), res.Error)

	res = c.Upsert(ctx, "kv", []map[string]any{{"k": "a", "v": "updated"}}, []string{"k"})
	require.True(t, res.OK(), res.Error)

	sel := c.Select(ctx, "kv", driver.SelectOptions{
		Where: []driver.Condition{{Col: "k", Val: "a"}},
	})
	require.True(t, sel.OK())
	require.Len(t, sel.Rows, 1)
	assert.Equal(t, "updated", sel.Rows[0]["v"])
}

func TestMultiQueryStopsAtFirstError(t *testing.T) {
	c, ctx := openTestConn(t)

	results := c.MultiQuery(ctx, `
		CREATE TABLE a (id integer);
		INSERT INTO a VALUES (1);
		INSERT INTO no_such_table VALUES (2);
		INSERT INTO a VALUES (3);
	`)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.False(t, results[2].OK())

	sel := c.Select(ctx, "a", driver.SelectOptions{})
	require.True(t, sel.OK())
	assert.Len(t, sel.Rows, 1)
}

func TestForeignKeysReported(t *testing.T) {
	c, ctx := openTestConn(t)
	for _, stmt := range []string{
		`CREATE TABLE authors (id integer primary key)`,
		`CREATE TABLE posts (id integer primary key, author_id integer REFERENCES authors(id) ON DELETE CASCADE)`,
	} {
		require.True(t, c.Query(ctx, stmt).OK())
	}

	fks, err := c.ForeignKeys(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "authors", fks[0].TargetTable)
	assert.Equal(t, []string{"author_id"}, fks[0].SourceColumns)
	assert.Equal(t, "CASCADE", fks[0].OnDelete)
}

func TestTruncateDeletesRows(t *testing.T) {
	c, ctx := openTestConn(t)
	require.True(t, c.Query(ctx, `CREATE TABLE t (id integer)`).OK())
	require.True(t, c.Query(ctx, `INSERT INTO t VALUES (1), (2)`).OK())

	res := c.TruncateTable(ctx, "t")
	require.True(t, res.OK(), res.Error)

	n, err := c.Count(ctx, "t", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseDetaches(t *testing.T) {
	c, ctx := openTestConn(t)
	path := c.path
	require.True(t, c.Query(ctx, `CREATE TABLE persists (id integer)`).OK())
	require.NoError(t, c.Close())

	// A new logical connection to the same path sees the cached handle.
	c2 := &Conn{}
	require.NoError(t, c2.Connect(ctx, path, "", ""))
	tables, err := c2.Tables(ctx, "")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "persists", tables[0].Name)
}

func TestCapabilities(t *testing.T) {
	c := &Conn{}
	assert.True(t, c.Has(driver.CapExplain))
	assert.True(t, c.Has(driver.CapMultiQuery))
	assert.False(t, c.Has(driver.CapProcessList))
	assert.False(t, c.Has(driver.CapKill))
}

func TestQuoteID(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteID("plain"))
	assert.Equal(t, `"wei""rd"`, QuoteID(`wei"rd`))
}

func TestExplain(t *testing.T) {
	c, ctx := openTestConn(t)
	require.True(t, c.Query(ctx, `CREATE TABLE e (id integer primary key)`).OK())

	plan, err := c.Explain(ctx, "SELECT * FROM e WHERE id = 1")
	require.NoError(t, err)
	assert.NotEmpty(t, plan)
}

func TestServerInfoAndVariables(t *testing.T) {
	c, ctx := openTestConn(t)

	info, err := c.ServerInfo(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info["version"])

	vars, err := c.Variables(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, vars)
}

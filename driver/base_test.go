package driver

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteBacktick(name string) string { return "`" + name + "`" }

func newMockBase(t *testing.T) (*Base, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Base{DB: db, Placeholder: sq.Question, Quote: quoteBacktick}, mock
}

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements("SELECT 1; SELECT ';' ; -- trailing; comment\nSELECT 2;")
	require.Len(t, stmts, 3)
	assert.Equal(t, "SELECT 1", stmts[0])
	assert.Equal(t, "SELECT ';'", stmts[1])
	assert.Equal(t, "SELECT 2", stmts[2])
}

func TestSplitStatementsQuotedIdentifiers(t *testing.T) {
	stmts := SplitStatements("UPDATE `a;b` SET x = 'it''s; fine'; DELETE FROM t")
	require.Len(t, stmts, 2)
	assert.Equal(t, "UPDATE `a;b` SET x = 'it''s; fine'", stmts[0])
	assert.Equal(t, "DELETE FROM t", stmts[1])
}

func TestSplitStatementsEmpty(t *testing.T) {
	assert.Empty(t, SplitStatements("  ;\n;  "))
}

func TestIsReadStatement(t *testing.T) {
	assert.True(t, isReadStatement("SELECT * FROM t"))
	assert.True(t, isReadStatement("  show tables"))
	assert.True(t, isReadStatement("PRAGMA table_info(t)"))
	assert.True(t, isReadStatement("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.False(t, isReadStatement("INSERT INTO t VALUES (1)"))
	assert.False(t, isReadStatement("DROP TABLE t"))
}

func TestQueryRead(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectQuery("SELECT id, name FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "alpha").AddRow(2, "beta"))

	res := b.Query(context.Background(), "SELECT id, name FROM t")

	require.True(t, res.OK(), res.Error)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alpha", res.Rows[0]["name"])
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryExec(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectExec("UPDATE t SET x = 1").
		WillReturnResult(sqlmock.NewResult(7, 3))

	res := b.Query(context.Background(), "UPDATE t SET x = 1")

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, int64(3), res.RowsAffected)
	require.NotNil(t, res.InsertID)
	assert.Equal(t, int64(7), *res.InsertID)
}

func TestQueryCapturesSQLError(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectExec("DROP TABLE missing").
		WillReturnError(assert.AnError)

	res := b.Query(context.Background(), "DROP TABLE missing")

	assert.False(t, res.OK())
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Rows)
}

func TestQueryNotConnected(t *testing.T) {
	b := &Base{Placeholder: sq.Question, Quote: quoteBacktick}

	res := b.Query(context.Background(), "SELECT 1")

	assert.False(t, res.OK())
}

func TestSelectBuildsBrowseQuery(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectQuery("SELECT `id`, `name` FROM `t` WHERE `id` > ? ORDER BY `id` DESC LIMIT 10 OFFSET 20").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(6, "x"))

	res := b.Select(context.Background(), "t", SelectOptions{
		Columns: []string{"id", "name"},
		Where:   []Condition{{Col: "id", Op: ">", Val: 5}},
		Order:   "id",
		Desc:    true,
		Limit:   10,
		Offset:  20,
	})

	require.True(t, res.OK(), res.Error)
	assert.Len(t, res.Rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectDefaultLimit(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectQuery("SELECT * FROM `t` LIMIT 50 OFFSET 0").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res := b.Select(context.Background(), "t", SelectOptions{})

	require.True(t, res.OK(), res.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectRejectsUnknownOperator(t *testing.T) {
	b, _ := newMockBase(t)

	res := b.Select(context.Background(), "t", SelectOptions{
		Where: []Condition{{Col: "id", Op: "; DROP TABLE t --", Val: 1}},
	})

	assert.False(t, res.OK())
	assert.Contains(t, res.Error, "unsupported operator")
}

func TestSelectNullAndInOperators(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectQuery("SELECT * FROM `t` WHERE `deleted_at` IS NULL AND `id` IN (?,?) LIMIT 50 OFFSET 0").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	res := b.Select(context.Background(), "t", SelectOptions{
		Where: []Condition{
			{Col: "deleted_at", Op: "IS NULL"},
			{Col: "id", Op: "IN", Val: []any{1, 2}},
		},
	})

	require.True(t, res.OK(), res.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectExec("INSERT INTO `t` (`a`,`b`) VALUES (?,?)").
		WithArgs(1, "two").
		WillReturnResult(sqlmock.NewResult(3, 1))

	res := b.Insert(context.Background(), "t", map[string]any{"b": "two", "a": 1})

	require.True(t, res.OK(), res.Error)
	require.NotNil(t, res.InsertID)
	assert.Equal(t, int64(3), *res.InsertID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEmpty(t *testing.T) {
	b, _ := newMockBase(t)

	res := b.Insert(context.Background(), "t", map[string]any{})

	assert.False(t, res.OK())
}

func TestUpdateRefusesEmptyWhere(t *testing.T) {
	b, _ := newMockBase(t)

	res := b.Update(context.Background(), "t", map[string]any{"a": 1}, nil)

	assert.False(t, res.OK())
	assert.Contains(t, res.Error, "WHERE")
}

func TestDeleteRefusesEmptyWhere(t *testing.T) {
	b, _ := newMockBase(t)

	res := b.Delete(context.Background(), "t", nil)

	assert.False(t, res.OK())
	assert.Contains(t, res.Error, "WHERE")
}

func TestDelete(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectExec("DELETE FROM `t` WHERE `id` = ?").
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := b.Delete(context.Background(), "t", []Condition{{Col: "id", Val: 9}})

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestMultiQuerySplitStopsOnError(t *testing.T) {
	b, mock := newMockBase(t)
	mock.ExpectExec("INSERT INTO t VALUES (1)").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO missing VALUES (2)").WillReturnError(assert.AnError)

	results := b.MultiQuerySplit(context.Background(), "INSERT INTO t VALUES (1); INSERT INTO missing VALUES (2); INSERT INTO t VALUES (3)")

	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
}

func TestRegistry(t *testing.T) {
	Register("fake", "Fake Engine", func() Conn { return nil })

	_, ok := New("fake")
	assert.True(t, ok)
	_, ok = New("nope")
	assert.False(t, ok)

	var seen bool
	for _, info := range List() {
		if info.ID == "fake" {
			seen = true
			assert.Equal(t, "Fake Engine", info.Name)
		}
	}
	assert.True(t, seen)
}

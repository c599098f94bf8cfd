package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpHeaderDisablesMySQLBackslashEscapes(t *testing.T) {
	assert.Contains(t, dumpHeader("mysql"), "SET sql_mode = 'NO_BACKSLASH_ESCAPES';\n")
	assert.NotContains(t, dumpHeader("postgres"), "sql_mode")
	assert.NotContains(t, dumpHeader("sqlite"), "sql_mode")
}

func TestSQLLiteral(t *testing.T) {
	assert.Equal(t, "NULL", sqlLiteral(nil))
	assert.Equal(t, "1", sqlLiteral(true))
	assert.Equal(t, "42", sqlLiteral(int64(42)))
	assert.Equal(t, "'it''s'", sqlLiteral("it's"))
	// Backslashes pass through untouched; the dump header puts MySQL in
	// NO_BACKSLASH_ESCAPES mode so they replay verbatim.
	assert.Equal(t, `'C:\temp'`, sqlLiteral(`C:\temp`))
}

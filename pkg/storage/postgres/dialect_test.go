package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.UpsertSQL("t", []string{"a", "b", "c"}, []string{"a", "b"}, []string{"c"})
	assert.Equal(t, "INSERT INTO t (a, b, c) VALUES (:a, :b, :c) ON CONFLICT (a, b) DO UPDATE SET c = EXCLUDED.c", sql)
	assert.Equal(t, "CREATE TABLE x (t TIMESTAMP NOT NULL)", d.CreateTableSQL("CREATE TABLE x (t DATETIME NOT NULL)"))
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx ON t(a, b)", d.CreateIndexSQL("idx", "t", "a", "b"))
}

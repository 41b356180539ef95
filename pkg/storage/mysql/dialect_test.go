package mysql

import (
	"errors"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestMySQLDialect(t *testing.T) {
	d := NewMySQLDialect()

	sql := d.UpsertSQL("t", []string{"a", "b"}, []string{"a"}, []string{"b"})
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (:a, :b) ON DUPLICATE KEY UPDATE b = VALUES(b)", sql)

	ddl := d.CreateTableSQL("CREATE TABLE x (payload TEXT NOT NULL)")
	assert.Contains(t, ddl, "LONGTEXT NOT NULL")
	assert.Contains(t, ddl, "ENGINE=InnoDB")

	assert.True(t, d.IsIgnorableSchemaError(&mysqldriver.MySQLError{Number: 1061, Message: "Duplicate key name"}))
	assert.False(t, d.IsIgnorableSchemaError(&mysqldriver.MySQLError{Number: 1146}))
	assert.False(t, d.IsIgnorableSchemaError(errors.New("other")))
}

func TestNormalizeDSN(t *testing.T) {
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", normalizeDSN("u:p@tcp(h:3306)/db"))
	assert.Equal(t, "u:p@tcp(h:3306)/db?charset=utf8mb4&parseTime=true", normalizeDSN("u:p@tcp(h:3306)/db?charset=utf8mb4"))
	assert.Equal(t, "u@/db?parseTime=true", normalizeDSN("u@/db?parseTime=true"))
}

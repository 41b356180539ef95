package sqlite

import (
	"fmt"
	"strings"

	"github.com/LENAX/agent-flow/pkg/storage"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDialect SQLite方言实现（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言实例
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

// Name 返回方言名称
func (d *SQLiteDialect) Name() string {
	return "sqlite"
}

// DriverName 返回驱动名
func (d *SQLiteDialect) DriverName() string {
	return "sqlite3"
}

// UpsertSQL 返回SQLite的UPSERT语句（3.24+ 支持 ON CONFLICT）
func (d *SQLiteDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}
	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(conflictColumns, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 返回创建表的DDL（SQLite原样返回）
func (d *SQLiteDialect) CreateTableSQL(schema string) string {
	return schema
}

// CreateIndexSQL 返回创建索引的语句
func (d *SQLiteDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, tableName, strings.Join(columns, ", "))
}

// IsIgnorableSchemaError SQLite使用IF NOT EXISTS，无需忽略错误
func (d *SQLiteDialect) IsIgnorableSchemaError(err error) bool {
	return false
}

// ConfigureDB 返回SQLite配置SQL
func (d *SQLiteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// 确保实现接口
var _ storage.Dialect = (*SQLiteDialect)(nil)

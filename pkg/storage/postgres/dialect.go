package postgres

import (
	"fmt"
	"strings"

	"github.com/LENAX/agent-flow/pkg/storage"
	_ "github.com/lib/pq"
)

// PostgresDialect PostgreSQL方言实现（对外导出）
type PostgresDialect struct{}

// NewPostgresDialect 创建PostgreSQL方言实例
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

// Name 返回方言名称
func (d *PostgresDialect) Name() string {
	return "postgres"
}

// DriverName 返回驱动名
// sqlx根据驱动名把:name和?转换为$1, $2, ...
func (d *PostgresDialect) DriverName() string {
	return "postgres"
}

// UpsertSQL 返回PostgreSQL的UPSERT语句（使用ON CONFLICT DO UPDATE）
func (d *PostgresDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
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

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *PostgresDialect) CreateTableSQL(schema string) string {
	// 替换DATETIME为TIMESTAMP
	return strings.ReplaceAll(schema, "DATETIME", "TIMESTAMP")
}

// CreateIndexSQL 返回创建索引的语句
func (d *PostgresDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, tableName, strings.Join(columns, ", "))
}

// IsIgnorableSchemaError PostgreSQL使用IF NOT EXISTS，无需忽略错误
func (d *PostgresDialect) IsIgnorableSchemaError(err error) bool {
	return false
}

// ConfigureDB 返回PostgreSQL配置SQL
func (d *PostgresDialect) ConfigureDB() []string {
	return []string{
		"SET timezone = 'UTC';",
	}
}

// 确保实现接口
var _ storage.Dialect = (*PostgresDialect)(nil)

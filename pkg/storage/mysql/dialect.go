package mysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LENAX/agent-flow/pkg/storage"
	mysqldriver "github.com/go-sql-driver/mysql"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// DriverName 返回驱动名
func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// UpsertSQL 返回MySQL的UPSERT语句（使用ON DUPLICATE KEY UPDATE）
func (d *MySQLDialect) UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 转换DDL为MySQL兼容格式
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	// payload可能超过64KB
	result := strings.ReplaceAll(schema, "TEXT NOT NULL", "LONGTEXT NOT NULL")
	result = strings.TrimSpace(result)
	if !strings.Contains(result, "ENGINE=") {
		result += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	return result
}

// CreateIndexSQL MySQL不支持CREATE INDEX IF NOT EXISTS
func (d *MySQLDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", indexName, tableName, strings.Join(columns, ", "))
}

// IsIgnorableSchemaError 索引已存在（Error 1061）可忽略
func (d *MySQLDialect) IsIgnorableSchemaError(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1061
	}
	return false
}

// ConfigureDB 返回MySQL配置SQL
func (d *MySQLDialect) ConfigureDB() []string {
	return []string{
		"SET time_zone = '+00:00';",
	}
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)

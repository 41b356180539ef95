package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回database/sql驱动名
	DriverName() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（使用:name命名参数）
	// conflictColumns: 冲突判断列（主键）
	// updateColumns: 需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string

	// CreateTableSQL 将通用DDL转换为方言DDL
	CreateTableSQL(schema string) string

	// CreateIndexSQL 返回创建索引的语句
	CreateIndexSQL(indexName, tableName string, columns ...string) string

	// IsIgnorableSchemaError 建表/建索引时可忽略的错误（如索引已存在）
	IsIgnorableSchemaError(err error) bool

	// ConfigureDB 连接建立后需要执行的配置语句
	ConfigureDB() []string
}

package sqlite

import (
	"github.com/LENAX/agent-flow/pkg/storage/sqlstore"
)

// NewStoreFromDSN 通过DSN创建SQLite存储（对外导出）
// dsn通常为数据库文件路径
func NewStoreFromDSN(dsn string) (*sqlstore.Repo, error) {
	return sqlstore.Open(NewSQLiteDialect(), dsn)
}

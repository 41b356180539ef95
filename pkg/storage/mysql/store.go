package mysql

import (
	"strings"

	"github.com/LENAX/agent-flow/pkg/storage/sqlstore"
)

// NewStoreFromDSN 通过DSN创建MySQL存储（对外导出）
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func NewStoreFromDSN(dsn string) (*sqlstore.Repo, error) {
	return sqlstore.Open(NewMySQLDialect(), normalizeDSN(dsn))
}

// normalizeDSN 确保DSN包含parseTime=true
func normalizeDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=true") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

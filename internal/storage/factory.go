package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/LENAX/agent-flow/pkg/storage/mysql"
	"github.com/LENAX/agent-flow/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/agent-flow/pkg/storage/sqlite"
	"github.com/LENAX/agent-flow/pkg/storage/sqlstore"
	"github.com/rs/zerolog/log"
)

// NewStore 按配置创建存储（内部方法）
// 支持 sqlite / mysql / postgres(postgresql) / memory
func NewStore(cfg *config.FlowConfig) (storage.Store, error) {
	dbType := strings.ToLower(cfg.GetDatabaseType())
	dsn := cfg.GetDatabaseDSN()

	var (
		repo *sqlstore.Repo
		err  error
	)
	switch dbType {
	case "memory":
		log.Info().Msg("🗄️ 使用内存存储，进程退出后数据丢失")
		return storage.NewMemoryStore(), nil
	case "sqlite":
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		repo, err = pkgsqlite.NewStoreFromDSN(dsn)
	case "mysql":
		repo, err = mysql.NewStoreFromDSN(dsn)
	case "postgres", "postgresql":
		repo, err = postgres.NewStoreFromDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s store failed: %w", dbType, err)
	}

	db := cfg.AgentFlow.Storage.Database
	if db.MaxOpenConns > 0 {
		repo.DB().SetMaxOpenConns(db.MaxOpenConns)
	}
	if db.MaxIdleConns > 0 {
		repo.DB().SetMaxIdleConns(db.MaxIdleConns)
	}
	if db.ConnMaxLifetime > 0 {
		repo.DB().SetConnMaxLifetime(db.ConnMaxLifetime)
	}
	if db.ConnMaxIdleTime > 0 {
		repo.DB().SetConnMaxIdleTime(db.ConnMaxIdleTime)
	}
	log.Info().Str("type", dbType).Msg("🗄️ 存储已就绪")
	return repo, nil
}

// ensureSQLiteDir 文件型DSN需要先创建目录
func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建SQLite目录失败: %w", err)
	}
	return nil
}

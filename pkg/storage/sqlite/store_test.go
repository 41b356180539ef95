package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/LENAX/agent-flow/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent_flow.db")
	store, err := NewStoreFromDSN(dbPath)
	require.NoError(t, err)
	defer store.Close()

	storagetest.RunStoreSuite(t, store)
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewStoreFromDSN(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// 重复初始化表结构不应报错
	store, err = NewStoreFromDSN(dbPath)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestSQLiteDialect_UpsertSQL(t *testing.T) {
	sql := NewSQLiteDialect().UpsertSQL("t", []string{"a", "b", "c"}, []string{"a"}, []string{"b", "c"})
	assert.Equal(t, "INSERT INTO t (a, b, c) VALUES (:a, :b, :c) ON CONFLICT (a) DO UPDATE SET b = excluded.b, c = excluded.c", sql)
}

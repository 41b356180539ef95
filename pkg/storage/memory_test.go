package storage_test

import (
	"testing"

	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/LENAX/agent-flow/pkg/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.RunStoreSuite(t, storage.NewMemoryStore())
}

// Package storagetest 提供各Store实现共用的行为测试
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite 对Store实现执行通用行为测试
func RunStoreSuite(t *testing.T, store storage.Store) {
	t.Helper()
	t.Run("Records", func(t *testing.T) { testRecords(t, store) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, store) })
}

func testRecords(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	missing, err := store.LoadByID(ctx, storage.KindWorkflowState, "none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(ctx, storage.KindWorkflowState, "run-1", &storage.Record{
		OwnerID:    "wf-a",
		Status:     "running",
		Pending:    true,
		Payload:    []byte(`{"id":"run-1"}`),
		CreateTime: base,
		UpdateTime: base,
	}))
	require.NoError(t, store.Save(ctx, storage.KindWorkflowState, "run-2", &storage.Record{
		OwnerID:    "wf-b",
		Status:     "completed",
		Payload:    []byte(`{"id":"run-2"}`),
		CreateTime: base.Add(time.Minute),
		UpdateTime: base.Add(time.Minute),
	}))
	require.NoError(t, store.Save(ctx, storage.KindApprovalGate, "run-1_0", &storage.Record{
		OwnerID: "run-1",
		Status:  "pending",
		Pending: true,
		Payload: []byte(`{"id":"run-1_0"}`),
	}))

	rec, err := store.LoadByID(ctx, storage.KindWorkflowState, "run-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "wf-a", rec.OwnerID)
	assert.Equal(t, "running", rec.Status)
	assert.True(t, rec.Pending)
	assert.JSONEq(t, `{"id":"run-1"}`, string(rec.Payload))

	pending, err := store.LoadPending(ctx, storage.KindWorkflowState)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "run-1", pending[0].ID)

	all, err := store.ListByOwner(ctx, storage.KindWorkflowState, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID, "按创建时间倒序")

	byOwner, err := store.ListByOwner(ctx, storage.KindWorkflowState, "wf-a")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)

	// 覆盖保存：结束运行
	require.NoError(t, store.Save(ctx, storage.KindWorkflowState, "run-1", &storage.Record{
		OwnerID:    "wf-a",
		Status:     "failed",
		Payload:    []byte(`{"id":"run-1","status":"failed"}`),
		CreateTime: base,
		UpdateTime: base.Add(2 * time.Minute),
	}))
	pending, err = store.LoadPending(ctx, storage.KindWorkflowState)
	require.NoError(t, err)
	assert.Empty(t, pending)

	finished, err := store.ListFinishedBefore(ctx, storage.KindWorkflowState, base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "run-2", finished[0].ID)

	require.NoError(t, store.Delete(ctx, storage.KindWorkflowState, "run-2"))
	require.NoError(t, store.Delete(ctx, storage.KindWorkflowState, "run-2"))
	rec, err = store.LoadByID(ctx, storage.KindWorkflowState, "run-2")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// 不同类型互不影响
	gates, err := store.LoadPending(ctx, storage.KindApprovalGate)
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, "run-1", gates[0].OwnerID)
}

func testSnapshots(t *testing.T, store storage.Store) {
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.AppendSnapshot(ctx, &storage.SnapshotRecord{
			RunID:   "run-s",
			Seq:     i,
			Payload: []byte(`{"seq":1}`),
		}))
	}
	require.NoError(t, store.AppendSnapshot(ctx, &storage.SnapshotRecord{RunID: "other", Seq: 1, Payload: []byte(`{}`)}))

	snaps, err := store.ListSnapshots(ctx, "run-s")
	require.NoError(t, err)
	require.Len(t, snaps, 5)
	assert.Equal(t, int64(1), snaps[0].Seq)
	assert.Equal(t, int64(5), snaps[4].Seq)

	require.NoError(t, store.TrimSnapshots(ctx, "run-s", 3))
	snaps, err = store.ListSnapshots(ctx, "run-s")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, int64(3), snaps[0].Seq)

	// 数量不足时不裁剪
	require.NoError(t, store.TrimSnapshots(ctx, "run-s", 10))
	snaps, err = store.ListSnapshots(ctx, "run-s")
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	require.NoError(t, store.DeleteSnapshots(ctx, "run-s"))
	snaps, err = store.ListSnapshots(ctx, "run-s")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	others, err := store.ListSnapshots(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

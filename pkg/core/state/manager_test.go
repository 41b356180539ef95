package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/LENAX/agent-flow/pkg/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *workflow.Definition {
	return &workflow.Definition{
		Type: workflow.TypeSequential,
		Steps: []workflow.Step{
			{WorkerID: "writer"},
			{WorkerID: "reviewer", Input: workflow.StringPtr("review this")},
		},
	}
}

func stepResult(index int, success bool) workflow.StepResult {
	now := time.Now()
	r := workflow.StepResult{
		StepIndex: index,
		WorkerID:  "writer",
		Input:     "in",
		Output:    "out",
		Success:   success,
		StartTime: now,
		EndTime:   now,
	}
	if !success {
		r.Error = "boom"
	}
	return r
}

func TestManager_CreateAndMutate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store)

	st, err := m.CreateState(ctx, "wf-1", "first run", testDefinition(), "hello")
	require.NoError(t, err)
	assert.Contains(t, st.ID, "wf-1-")
	assert.Equal(t, workflow.StatusPending, st.Status)

	other, err := m.CreateState(ctx, "wf-1", "second run", testDefinition(), "hello")
	require.NoError(t, err)
	assert.NotEqual(t, st.ID, other.ID, "同一定义的多次运行互相独立")

	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	_, err = m.AddStepResult(ctx, st.ID, stepResult(0, true))
	require.NoError(t, err)
	_, err = m.UpdateContext(ctx, st.ID, map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	got, err := m.CompleteWorkflow(ctx, st.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, got.Status)
	assert.NotNil(t, got.EndTime)
	assert.Len(t, got.Steps, 1)
	assert.Equal(t, "go", got.Context["topic"])

	snaps, err := m.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 5, "创建加四次修改")
	assert.Equal(t, workflow.StatusPending, snaps[0].State.Status)
	assert.Equal(t, workflow.StatusCompleted, snaps[4].State.Status)
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Seq, snaps[i-1].Seq)
	}

	rec, err := store.LoadByID(ctx, storage.KindWorkflowState, st.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "completed", rec.Status)
	assert.False(t, rec.Pending)
	assert.Equal(t, "wf-1", rec.OwnerID)
}

func TestManager_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "x")
	require.NoError(t, err)

	st.Context["leak"] = true
	st.Definition.Steps[0].WorkerID = "mutated"

	fresh, err := m.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.NotContains(t, fresh.Context, "leak")
	assert.Equal(t, "writer", fresh.Definition.Steps[0].WorkerID)
}

func TestManager_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "")
	require.NoError(t, err)

	_, err = m.PauseWorkflow(ctx, st.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "pending不能直接暂停")

	_, err = m.ResumeWorkflow(ctx, st.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	paused, err := m.PauseWorkflow(ctx, st.ID)
	require.NoError(t, err)
	assert.NotNil(t, paused.PausedAt)

	resumed, err := m.ResumeWorkflow(ctx, st.ID)
	require.NoError(t, err)
	assert.NotNil(t, resumed.ResumedAt)

	_, err = m.FailWorkflow(ctx, st.ID, "Step 1 failed: boom")
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "终态不可再运行")

	_, err = m.GetState(ctx, "missing")
	assert.True(t, errors.Is(err, ErrStateNotFound))
}

func TestManager_SnapshotRingIsBounded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store)
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "")
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		_, err := m.UpdateContext(ctx, st.ID, map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	snaps, err := m.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, snaps, DefaultMaxSnapshots)
	assert.Equal(t, int64(12), snaps[0].Seq, "最旧的快照被淘汰")
	assert.Equal(t, int64(61), snaps[len(snaps)-1].Seq)

	persisted, err := store.ListSnapshots(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, DefaultMaxSnapshots)
}

func TestManager_RestoreFromSnapshotIsDeterministic(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "")
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	_, err = m.AddStepResult(ctx, st.ID, stepResult(0, true))
	require.NoError(t, err)
	_, err = m.UpdateContext(ctx, st.ID, map[string]interface{}{"nested": map[string]interface{}{"k": "v"}})
	require.NoError(t, err)

	snaps, err := m.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)

	first, err := m.RestoreFromSnapshot(ctx, st.ID, 2)
	require.NoError(t, err)
	second, err := m.RestoreFromSnapshot(ctx, st.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, snaps[2].State, first)
	assert.NotSame(t, first, second)

	// 修改返回值不影响快照
	first.Steps[0].Output = "changed"
	again, err := m.RestoreFromSnapshot(ctx, st.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "out", again.Steps[0].Output)

	// 恢复本身不产生新快照
	after, err := m.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(snaps))

	_, err = m.RestoreFromSnapshot(ctx, st.ID, 99)
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestManager_TruncateAndFinalizeRollback(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "")
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.AddStepResult(ctx, st.ID, stepResult(i, i < 2))
		require.NoError(t, err)
	}

	truncated, err := m.TruncateSteps(ctx, st.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, truncated.Steps, 2)
	assert.Equal(t, 2, truncated.NextStepIndex())

	_, err = m.FailWorkflow(ctx, st.ID, "failed")
	require.NoError(t, err)

	reopened, err := m.FinalizeRollback(ctx, st.ID, 0, truncated.Steps[:1])
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, reopened.Status)
	assert.Nil(t, reopened.EndTime)
	assert.Empty(t, reopened.Error)
	assert.Equal(t, 0, reopened.CurrentStepIndex)
	assert.Len(t, reopened.Steps, 1)

	_, err = m.FailWorkflow(ctx, st.ID, "failed again")
	require.NoError(t, err)
	again, err := m.ReopenWorkflow(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, again.Status)
	assert.Len(t, again.Steps, 1)
	assert.Empty(t, again.Error)
}

func TestManager_ReloadFromSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewStoreFromDSN(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(store)
	st, err := m.CreateState(ctx, "wf-sql", "persisted", testDefinition(), "input")
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	_, err = m.AddStepResult(ctx, st.ID, stepResult(0, true))
	require.NoError(t, err)
	_, err = m.UpdateContext(ctx, st.ID, map[string]interface{}{"retry_count_1": 2})
	require.NoError(t, err)

	// 新的管理器实例相当于进程重启
	restarted := NewManager(store)
	loaded, err := restarted.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, loaded.ID)
	assert.Equal(t, "persisted", loaded.RunName)
	assert.Equal(t, workflow.StatusRunning, loaded.Status)
	assert.Equal(t, "input", loaded.Input)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "out", loaded.Steps[0].Output)
	assert.EqualValues(t, 2, loaded.Context["retry_count_1"])
	assert.Equal(t, "review this", *loaded.Definition.Steps[1].Input)

	snaps, err := restarted.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 4)

	// 快照序号在重启后继续递增
	_, err = restarted.SetError(ctx, st.ID, "note")
	require.NoError(t, err)
	snaps, err = restarted.GetSnapshots(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snaps[len(snaps)-1].Seq)

	paused, err := restarted.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{st.ID}, paused)
	reloaded, err := restarted.GetState(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, reloaded.Status)
}

func TestManager_ListDeleteAndRetention(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store)

	a, err := m.CreateState(ctx, "wf-a", "", testDefinition(), "")
	require.NoError(t, err)
	b, err := m.CreateState(ctx, "wf-b", "", testDefinition(), "")
	require.NoError(t, err)
	_, err = m.FailWorkflow(ctx, b.ID, "fatal")
	require.NoError(t, err)

	all, err := m.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := m.ListRuns(ctx, "wf-a")
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, a.ID, onlyA[0].ID)

	finished, err := m.ListFinishedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, finished)

	require.NoError(t, m.DeleteState(ctx, b.ID))
	_, err = m.GetState(ctx, b.ID)
	assert.True(t, errors.Is(err, ErrStateNotFound))
	snaps, err := store.ListSnapshots(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestManager_EmitsStatusEvents(t *testing.T) {
	ctx := context.Background()
	var (
		mu       sync.Mutex
		statuses []workflow.Status
	)
	m := NewManager(storage.NewMemoryStore(), WithEmitter(events.EmitterFunc(func(ev *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Type == events.EventStatus {
			statuses = append(statuses, ev.Status)
		}
	})))

	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "")
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	_, err = m.UpdateContext(ctx, st.ID, map[string]interface{}{"k": 1})
	require.NoError(t, err)
	_, err = m.CompleteWorkflow(ctx, st.ID)
	require.NoError(t, err)

	assert.Equal(t, []workflow.Status{workflow.StatusRunning, workflow.StatusCompleted}, statuses)
}

func TestManager_StepResultsKeptInIndexOrder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())
	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "in")
	require.NoError(t, err)

	// 并行步骤按完成顺序到达
	for _, idx := range []int{2, 0, 1} {
		_, err = m.AddStepResult(ctx, st.ID, stepResult(idx, true))
		require.NoError(t, err)
	}

	got, err := m.GetState(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	for i, r := range got.Steps {
		assert.Equal(t, i, r.StepIndex)
	}
	assert.Equal(t, 2, got.CurrentStepIndex)
	assert.Equal(t, 3, got.NextStepIndex())
}

// flakyStore 按开关让写入失败
type flakyStore struct {
	*storage.MemoryStore
	failSave     bool
	failSnapshot bool
}

func (s *flakyStore) Save(ctx context.Context, kind storage.RecordKind, id string, rec *storage.Record) error {
	if s.failSave {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, kind, id, rec)
}

func (s *flakyStore) AppendSnapshot(ctx context.Context, snap *storage.SnapshotRecord) error {
	if s.failSnapshot {
		return errors.New("disk full")
	}
	return s.MemoryStore.AppendSnapshot(ctx, snap)
}

func TestManager_FailedPersistLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	m := NewManager(store)

	st, err := m.CreateState(ctx, "wf", "", testDefinition(), "in")
	require.NoError(t, err)
	_, err = m.AddStepResult(ctx, st.ID, stepResult(0, true))
	require.NoError(t, err)

	t.Run("快照写入失败", func(t *testing.T) {
		store.failSnapshot = true
		defer func() { store.failSnapshot = false }()

		_, err := m.AddStepResult(ctx, st.ID, stepResult(1, true))
		assert.ErrorContains(t, err, "disk full")

		got, err := m.GetState(ctx, st.ID)
		require.NoError(t, err)
		assert.Len(t, got.Steps, 1)
		snaps, err := m.GetSnapshots(ctx, st.ID)
		require.NoError(t, err)
		assert.Len(t, snaps, 2)

		// 存储中的记录同样未前进
		reloaded, err := NewManager(store).GetState(ctx, st.ID)
		require.NoError(t, err)
		assert.Len(t, reloaded.Steps, 1)
	})

	t.Run("状态写入失败", func(t *testing.T) {
		store.failSave = true
		defer func() { store.failSave = false }()

		_, err := m.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
		assert.Error(t, err)
		got, err := m.GetState(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusPending, got.Status)
	})

	t.Run("失败后继续写入使用连续序号", func(t *testing.T) {
		_, err := m.AddStepResult(ctx, st.ID, stepResult(1, true))
		require.NoError(t, err)
		snaps, err := m.GetSnapshots(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		assert.Equal(t, int64(3), snaps[2].Seq)
	})

	t.Run("创建失败不留下运行", func(t *testing.T) {
		store.failSnapshot = true
		defer func() { store.failSnapshot = false }()

		_, err := m.CreateState(ctx, "broken", "", testDefinition(), "in")
		assert.Error(t, err)
		runs, err := m.ListRuns(ctx, "broken")
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

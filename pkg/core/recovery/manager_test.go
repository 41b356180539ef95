package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/state"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sixStepDefinition() *workflow.Definition {
	def := &workflow.Definition{Type: workflow.TypeSequential}
	for i := 0; i < 6; i++ {
		def.Steps = append(def.Steps, workflow.Step{WorkerID: fmt.Sprintf("agent-%d", i)})
	}
	return def
}

func result(index int, success bool) workflow.StepResult {
	now := time.Now()
	r := workflow.StepResult{
		StepIndex:  index,
		WorkerID:   fmt.Sprintf("agent-%d", index),
		WorkerName: fmt.Sprintf("Agent %d", index),
		Input:      fmt.Sprintf("in-%d", index),
		Output:     fmt.Sprintf("out-%d", index),
		Success:    success,
		StartTime:  now,
		EndTime:    now,
	}
	if !success {
		r.Output = ""
		r.Error = "provider error"
	}
	return r
}

// newRunWithFailure 前failAt个步骤成功，第failAt步失败
func newRunWithFailure(t *testing.T, failAt int) (*state.Manager, *Manager, string) {
	t.Helper()
	ctx := context.Background()
	states := state.NewManager(storage.NewMemoryStore())
	st, err := states.CreateState(ctx, "wf", "recovery", sixStepDefinition(), "seed")
	require.NoError(t, err)
	_, err = states.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	for i := 0; i < failAt; i++ {
		_, err = states.AddStepResult(ctx, st.ID, result(i, true))
		require.NoError(t, err)
	}
	_, err = states.AddStepResult(ctx, st.ID, result(failAt, false))
	require.NoError(t, err)
	return states, NewManager(states), st.ID
}

func TestRecoverFromError_RollbackScenario(t *testing.T) {
	ctx := context.Background()
	states, mgr, runID := newRunWithFailure(t, 5)

	res, err := mgr.RecoverFromError(ctx, runID, result(5, false), Strategy{Type: StrategyRollback, RollbackSteps: 2})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, 4, res.NextStepIndex)

	st, err := states.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.CurrentStepIndex)
	assert.Len(t, st.Steps, 4)
	assert.Equal(t, workflow.StatusPaused, st.Status)
	assert.Equal(t, 4, st.NextStepIndex())
}

func TestRecoverFromError_RollbackDefaultsAndClamp(t *testing.T) {
	ctx := context.Background()
	_, mgr, runID := newRunWithFailure(t, 2)

	res, err := mgr.RecoverFromError(ctx, runID, result(2, false), Strategy{Type: StrategyRollback})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, 2, res.NextStepIndex, "默认回退1步")

	_, mgr, runID = newRunWithFailure(t, 1)
	res, err = mgr.RecoverFromError(ctx, runID, result(1, false), Strategy{Type: StrategyRollback, RollbackSteps: 10})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, 1, res.NextStepIndex, "目标不小于0")
}

func TestRecoverFromError_RollbackFailureNotRecovered(t *testing.T) {
	ctx := context.Background()
	states := state.NewManager(storage.NewMemoryStore())
	st, err := states.CreateState(ctx, "wf", "", sixStepDefinition(), "seed")
	require.NoError(t, err)

	// 没有任何步骤结果，回滚目标无效
	res, err := NewManager(states).RecoverFromError(ctx, st.ID, result(0, false), Strategy{Type: StrategyRollback})
	require.NoError(t, err)
	assert.False(t, res.Recovered)
	assert.ErrorIs(t, res.Cause, ErrRollbackTargetInvalid)
	assert.Contains(t, res.Message, "failed")
}

func TestRecoverFromError_RetryBound(t *testing.T) {
	ctx := context.Background()
	states, mgr, runID := newRunWithFailure(t, 2)

	var slept []time.Duration
	mgr.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	strategy := Strategy{Type: StrategyRetry, MaxRetries: 3, RetryDelay: 10 * time.Millisecond}

	for attempt := 1; attempt <= 3; attempt++ {
		res, err := mgr.RecoverFromError(ctx, runID, result(2, false), strategy)
		require.NoError(t, err)
		assert.True(t, res.Recovered)
		assert.Equal(t, 2, res.NextStepIndex)
		assert.Contains(t, res.Message, fmt.Sprintf("attempt %d/3", attempt))

		st, err := states.GetState(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, attempt, RetryCount(st, 2))
		assert.Len(t, st.Steps, 2, "失败结果被移除")
		assert.Equal(t, 2, st.NextStepIndex())

		// 重新执行仍然失败
		_, err = states.AddStepResult(ctx, runID, result(2, false))
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, slept, "第一次重试不等待")

	for i := 0; i < 2; i++ {
		res, err := mgr.RecoverFromError(ctx, runID, result(2, false), strategy)
		require.NoError(t, err)
		assert.False(t, res.Recovered)
		assert.Contains(t, res.Message, "retries exceeded")
		assert.ErrorIs(t, res.Cause, ErrMaxRetriesExceeded)
	}

	require.NoError(t, mgr.ClearRetryCounters(ctx, runID))
	st, err := states.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0, RetryCount(st, 2))

	res, err := mgr.RecoverFromError(ctx, runID, result(2, false), strategy)
	require.NoError(t, err)
	assert.True(t, res.Recovered)
}

func TestRecoverFromError_RetryDefaultMax(t *testing.T) {
	ctx := context.Background()
	_, mgr, runID := newRunWithFailure(t, 0)
	for i := 0; i < DefaultMaxRetries; i++ {
		res, err := mgr.RecoverFromError(ctx, runID, result(0, false), Strategy{Type: StrategyRetry})
		require.NoError(t, err)
		assert.True(t, res.Recovered)
	}
	res, err := mgr.RecoverFromError(ctx, runID, result(0, false), Strategy{Type: StrategyRetry})
	require.NoError(t, err)
	assert.False(t, res.Recovered)
}

func TestRecoverFromError_RetryDelayHonoursContext(t *testing.T) {
	_, mgr, runID := newRunWithFailure(t, 0)
	strategy := Strategy{Type: StrategyRetry, RetryDelay: time.Hour}

	_, err := mgr.RecoverFromError(context.Background(), runID, result(0, false), strategy)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.RecoverFromError(ctx, runID, result(0, false), strategy)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecoverFromError_Skip(t *testing.T) {
	ctx := context.Background()
	states, mgr, runID := newRunWithFailure(t, 2)

	res, err := mgr.RecoverFromError(ctx, runID, result(2, false), Strategy{Type: StrategySkip})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, 3, res.NextStepIndex)

	st, err := states.GetState(ctx, runID)
	require.NoError(t, err)
	assert.True(t, IsSkipped(st, 2))
	assert.False(t, IsSkipped(st, 1))
	assert.Len(t, st.Steps, 2)
	assert.True(t, workflow.AllSucceeded(st.Steps), "跳过的步骤不影响成功判定")
	assert.Equal(t, 3, st.NextStepIndex())
}

func TestRecoverFromError_ManualAndUnknown(t *testing.T) {
	ctx := context.Background()
	states, mgr, runID := newRunWithFailure(t, 1)

	res, err := mgr.RecoverFromError(ctx, runID, result(1, false), Strategy{Type: StrategyManual})
	require.NoError(t, err)
	assert.False(t, res.Recovered)
	assert.Equal(t, StrategyManual, res.Strategy)

	st, err := states.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, st.Steps, 2, "manual不修改状态")

	_, err = mgr.RecoverFromError(ctx, runID, result(1, false), Strategy{Type: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRollbackToStep_Truncation(t *testing.T) {
	ctx := context.Background()
	for k := 0; k <= 4; k++ {
		t.Run(fmt.Sprintf("target-%d", k), func(t *testing.T) {
			states, mgr, runID := newRunWithFailure(t, 5)
			st, err := mgr.RollbackToStep(ctx, runID, k)
			require.NoError(t, err)
			assert.Len(t, st.Steps, k+1)
			assert.Equal(t, k, st.CurrentStepIndex)
			assert.Equal(t, workflow.StatusPaused, st.Status)

			persisted, err := states.GetState(ctx, runID)
			require.NoError(t, err)
			assert.Len(t, persisted.Steps, k+1)
		})
	}
}

func TestRollbackToStep_InvalidTarget(t *testing.T) {
	ctx := context.Background()
	_, mgr, runID := newRunWithFailure(t, 2)

	_, err := mgr.RollbackToStep(ctx, runID, -1)
	assert.ErrorIs(t, err, ErrRollbackTargetInvalid)
	_, err = mgr.RollbackToStep(ctx, runID, 3)
	assert.ErrorIs(t, err, ErrRollbackTargetInvalid)
	_, err = mgr.RollbackToStep(ctx, "missing", 0)
	assert.ErrorIs(t, err, state.ErrStateNotFound)
}

func TestRollbackToStep_SnapshotNotFound(t *testing.T) {
	ctx := context.Background()
	// 只保留最近2个快照，都在步骤3之后
	states := state.NewManager(storage.NewMemoryStore(), state.WithMaxSnapshots(2))
	st, err := states.CreateState(ctx, "wf", "", sixStepDefinition(), "seed")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err = states.AddStepResult(ctx, st.ID, result(i, true))
		require.NoError(t, err)
	}

	_, err = NewManager(states).RollbackToStep(ctx, st.ID, 1)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRollbackToStep_ReopensTerminalRun(t *testing.T) {
	ctx := context.Background()
	states := state.NewManager(storage.NewMemoryStore())
	st, err := states.CreateState(ctx, "wf", "", sixStepDefinition(), "seed")
	require.NoError(t, err)
	_, err = states.UpdateStatus(ctx, st.ID, workflow.StatusRunning)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err = states.AddStepResult(ctx, st.ID, result(i, true))
		require.NoError(t, err)
	}
	_, err = states.CompleteWorkflow(ctx, st.ID)
	require.NoError(t, err)

	rolled, err := NewManager(states).RollbackToLastSuccess(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, rolled.Status)
	assert.Equal(t, 5, rolled.CurrentStepIndex)
	assert.Len(t, rolled.Steps, 6)
	assert.Nil(t, rolled.EndTime)
}

func TestRollbackToLastSuccess(t *testing.T) {
	ctx := context.Background()
	_, mgr, runID := newRunWithFailure(t, 3)

	st, err := mgr.RollbackToLastSuccess(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentStepIndex)
	assert.Len(t, st.Steps, 3)
	assert.True(t, workflow.AllSucceeded(st.Steps))

	_, mgr, runID = newRunWithFailure(t, 0)
	_, err = mgr.RollbackToLastSuccess(ctx, runID)
	assert.ErrorIs(t, err, ErrRollbackTargetInvalid)
}

func TestGetCompensationActions(t *testing.T) {
	ctx := context.Background()
	_, mgr, runID := newRunWithFailure(t, 4)

	actions, err := mgr.GetCompensationActions(ctx, runID, 4, 0)
	require.NoError(t, err)
	require.Len(t, actions, 3, "失败的步骤4与边界步骤0不补偿")
	assert.Equal(t, []int{3, 2, 1}, []int{actions[0].StepIndex, actions[1].StepIndex, actions[2].StepIndex})
	assert.Equal(t, "in-3", actions[0].Input)
	assert.Equal(t, "out-3", actions[0].Output)
	assert.Equal(t, "agent-3", actions[0].WorkerID)

	all, err := mgr.GetCompensationActions(ctx, runID, 3, -1)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	plan, err := mgr.PlanCompensation(ctx, runID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, PlanStateEmpty, plan.State)
	assert.Empty(t, plan.Actions)

	_, err = mgr.GetCompensationActions(ctx, runID, 0, 2)
	assert.ErrorIs(t, err, ErrRollbackTargetInvalid)
}

func TestContextInt(t *testing.T) {
	assert.Equal(t, 2, contextInt(float64(2)))
	assert.Equal(t, 3, contextInt(3))
	assert.Equal(t, 4, contextInt(int64(4)))
	assert.Equal(t, 0, contextInt("5"))
	assert.Equal(t, 0, contextInt(nil))
}

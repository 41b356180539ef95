// Package recovery 失败步骤的恢复策略与回滚
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/state"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries 默认最大重试次数
	DefaultMaxRetries = 3
	// DefaultRollbackSteps 默认回退步数
	DefaultRollbackSteps = 1

	retryCountPrefix  = "retry_count_"
	skippedStepPrefix = "skipped_step_"
)

var (
	// ErrSnapshotNotFound 没有可用的快照
	ErrSnapshotNotFound = state.ErrSnapshotNotFound
	// ErrRollbackTargetInvalid 回滚目标超出范围
	ErrRollbackTargetInvalid = errors.New("rollback target invalid")
	// ErrMaxRetriesExceeded 重试次数已用尽
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrUnknownStrategy 未知的恢复策略
	ErrUnknownStrategy = errors.New("unknown recovery strategy")
)

// StrategyType 恢复策略类型
type StrategyType string

const (
	StrategyRetry    StrategyType = "retry"
	StrategySkip     StrategyType = "skip"
	StrategyRollback StrategyType = "rollback"
	StrategyManual   StrategyType = "manual"
)

// IsValid 检查策略类型是否有效
func (t StrategyType) IsValid() bool {
	switch t {
	case StrategyRetry, StrategySkip, StrategyRollback, StrategyManual:
		return true
	default:
		return false
	}
}

// Strategy 恢复策略
// 零值字段使用默认值：MaxRetries=3，RollbackSteps=1，RetryDelay=0
type Strategy struct {
	Type          StrategyType  `json:"type" yaml:"type"`
	MaxRetries    int           `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay    time.Duration `json:"retryDelay,omitempty" yaml:"retry_delay,omitempty"`
	RollbackSteps int           `json:"rollbackSteps,omitempty" yaml:"rollback_steps,omitempty"`
}

// Result 恢复结果
type Result struct {
	Recovered     bool         `json:"recovered"`
	Strategy      StrategyType `json:"strategy"`
	NextStepIndex int          `json:"nextStepIndex"`
	Message       string       `json:"message"`
	// Cause 未恢复时的底层原因（重试用尽、回滚失败）
	Cause error `json:"-"`
}

// StateStore 恢复管理器依赖的状态操作
type StateStore interface {
	GetState(ctx context.Context, runID string) (*workflow.WorkflowState, error)
	GetSnapshots(ctx context.Context, runID string) ([]workflow.Snapshot, error)
	RestoreFromSnapshot(ctx context.Context, runID string, index int) (*workflow.WorkflowState, error)
	FinalizeRollback(ctx context.Context, runID string, targetIndex int, steps []workflow.StepResult) (*workflow.WorkflowState, error)
	UpdateContext(ctx context.Context, runID string, updates map[string]interface{}) (*workflow.WorkflowState, error)
	RemoveContextKeys(ctx context.Context, runID string, keys ...string) (*workflow.WorkflowState, error)
	TruncateSteps(ctx context.Context, runID string, beforeIndex, nextStepIndex int) (*workflow.WorkflowState, error)
}

// Manager 恢复管理器（对外导出）
type Manager struct {
	states StateStore
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewManager 创建恢复管理器
func NewManager(states StateStore) *Manager {
	return &Manager{
		states: states,
		logger: log.With().Str("component", "recovery").Logger(),
		sleep:  sleepContext,
	}
}

// RollbackToStep 回滚到目标步骤
// 选取CurrentStepIndex不超过目标的最新快照，步骤结果截断为targetIndex+1条，运行置为paused
func (m *Manager) RollbackToStep(ctx context.Context, runID string, targetIndex int) (*workflow.WorkflowState, error) {
	current, err := m.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if targetIndex < 0 || targetIndex >= len(current.Steps) {
		return nil, fmt.Errorf("%w: target=%d, steps=%d", ErrRollbackTargetInvalid, targetIndex, len(current.Steps))
	}

	snapshots, err := m.states.GetSnapshots(ctx, runID)
	if err != nil {
		return nil, err
	}
	chosen := -1
	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i].State.CurrentStepIndex <= targetIndex {
			chosen = i
			break
		}
	}
	if chosen < 0 {
		return nil, fmt.Errorf("%w: run=%s, target=%d", ErrSnapshotNotFound, runID, targetIndex)
	}

	restored, err := m.states.RestoreFromSnapshot(ctx, runID, chosen)
	if err != nil {
		return nil, err
	}

	// 快照中的结果不足时用回滚前的结果补齐
	steps := append([]workflow.StepResult{}, restored.Steps...)
	if len(steps) < targetIndex+1 {
		steps = append(steps, current.Steps[len(steps):targetIndex+1]...)
	}
	steps = steps[:targetIndex+1]

	st, err := m.states.FinalizeRollback(ctx, runID, targetIndex, steps)
	if err != nil {
		return nil, fmt.Errorf("确认回滚失败: %w", err)
	}
	m.logger.Info().Str("run_id", runID).Int("target", targetIndex).Int64("snapshot_seq", snapshots[chosen].Seq).
		Str("previous_status", string(current.Status)).Msg("⏪ 已回滚")
	return st, nil
}

// RollbackToLastSuccess 回滚到最后一个成功的步骤
func (m *Manager) RollbackToLastSuccess(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	current, err := m.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	target := -1
	for _, r := range current.Steps {
		if r.Success && r.StepIndex > target {
			target = r.StepIndex
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: 没有成功的步骤", ErrRollbackTargetInvalid)
	}
	return m.RollbackToStep(ctx, runID, target)
}

// RecoverFromError 按策略处理失败步骤并给出下一步位置
func (m *Manager) RecoverFromError(ctx context.Context, runID string, failed workflow.StepResult, strategy Strategy) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch strategy.Type {
	case StrategyRetry:
		res, err = m.retry(ctx, runID, failed, strategy)
	case StrategySkip:
		res, err = m.skip(ctx, runID, failed)
	case StrategyRollback:
		res = m.rollback(ctx, runID, failed, strategy)
	case StrategyManual:
		res = &Result{
			Strategy:      StrategyManual,
			NextStepIndex: failed.StepIndex,
			Message:       fmt.Sprintf("Step %d requires manual intervention", failed.StepIndex+1),
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy.Type)
	}
	if err != nil {
		return nil, err
	}

	ev := m.logger.Info()
	if !res.Recovered {
		ev = m.logger.Warn()
	}
	ev.Str("run_id", runID).Str("strategy", string(res.Strategy)).Int("failed_step", failed.StepIndex).
		Bool("recovered", res.Recovered).Int("next_step", res.NextStepIndex).Msg("🔧 " + res.Message)
	return res, nil
}

func (m *Manager) retry(ctx context.Context, runID string, failed workflow.StepResult, strategy Strategy) (*Result, error) {
	maxRetries := strategy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	st, err := m.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	key := retryCountKey(failed.StepIndex)
	count := contextInt(st.Context[key])
	if count >= maxRetries {
		return &Result{
			Strategy:      StrategyRetry,
			NextStepIndex: failed.StepIndex,
			Message:       fmt.Sprintf("Step %d retries exceeded (%d/%d)", failed.StepIndex+1, count, maxRetries),
			Cause:         fmt.Errorf("%w: step=%d", ErrMaxRetriesExceeded, failed.StepIndex),
		}, nil
	}

	attempt := count + 1
	if _, err := m.states.UpdateContext(ctx, runID, map[string]interface{}{key: attempt}); err != nil {
		return nil, err
	}
	if attempt > 1 && strategy.RetryDelay > 0 {
		if err := m.sleep(ctx, strategy.RetryDelay); err != nil {
			return nil, err
		}
	}
	// 去掉失败结果，下次从该步骤重新执行
	if _, err := m.states.TruncateSteps(ctx, runID, failed.StepIndex, failed.StepIndex); err != nil {
		return nil, err
	}
	return &Result{
		Recovered:     true,
		Strategy:      StrategyRetry,
		NextStepIndex: failed.StepIndex,
		Message:       fmt.Sprintf("Retrying step %d (attempt %d/%d)", failed.StepIndex+1, attempt, maxRetries),
	}, nil
}

func (m *Manager) skip(ctx context.Context, runID string, failed workflow.StepResult) (*Result, error) {
	key := skippedStepKey(failed.StepIndex)
	if _, err := m.states.UpdateContext(ctx, runID, map[string]interface{}{key: true}); err != nil {
		return nil, err
	}
	// 被跳过的步骤不出现在结果中
	if _, err := m.states.TruncateSteps(ctx, runID, failed.StepIndex, failed.StepIndex+1); err != nil {
		return nil, err
	}
	return &Result{
		Recovered:     true,
		Strategy:      StrategySkip,
		NextStepIndex: failed.StepIndex + 1,
		Message:       fmt.Sprintf("Skipped step %d", failed.StepIndex+1),
	}, nil
}

func (m *Manager) rollback(ctx context.Context, runID string, failed workflow.StepResult, strategy Strategy) *Result {
	steps := strategy.RollbackSteps
	if steps <= 0 {
		steps = DefaultRollbackSteps
	}
	target := failed.StepIndex - steps
	if target < 0 {
		target = 0
	}
	if _, err := m.RollbackToStep(ctx, runID, target); err != nil {
		return &Result{
			Strategy:      StrategyRollback,
			NextStepIndex: failed.StepIndex,
			Message:       fmt.Sprintf("Rollback to step %d failed: %s", target+1, err.Error()),
			Cause:         err,
		}
	}
	return &Result{
		Recovered:     true,
		Strategy:      StrategyRollback,
		NextStepIndex: target + 1,
		Message:       fmt.Sprintf("Rolled back to step %d", target+1),
	}
}

// ClearRetryCounters 清除该运行的所有重试计数
func (m *Manager) ClearRetryCounters(ctx context.Context, runID string) error {
	st, err := m.states.GetState(ctx, runID)
	if err != nil {
		return err
	}
	var keys []string
	for k := range st.Context {
		if strings.HasPrefix(k, retryCountPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = m.states.RemoveContextKeys(ctx, runID, keys...)
	return err
}

// RetryCount 读取某步骤的重试计数
func RetryCount(st *workflow.WorkflowState, stepIndex int) int {
	if st == nil {
		return 0
	}
	return contextInt(st.Context[retryCountKey(stepIndex)])
}

// IsSkipped 某步骤是否被跳过
func IsSkipped(st *workflow.WorkflowState, stepIndex int) bool {
	if st == nil {
		return false
	}
	v, _ := st.Context[skippedStepKey(stepIndex)].(bool)
	return v
}

func retryCountKey(stepIndex int) string {
	return fmt.Sprintf("%s%d", retryCountPrefix, stepIndex)
}

func skippedStepKey(stepIndex int) string {
	return fmt.Sprintf("%s%d", skippedStepPrefix, stepIndex)
}

// contextInt 上下文经过JSON往返后数字会变成float64
func contextInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

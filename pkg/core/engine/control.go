package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// PauseRun 暂停运行（对外导出）
// 执行中的运行在下一个步骤开始前挂起
func (e *Engine) PauseRun(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	if ar, ok := e.lookupActive(runID); ok {
		ar.requestPause()
		e.logger.Info().Str("run_id", runID).Msg("⏸️ 已请求暂停")
		return e.states.GetState(ctx, runID)
	}
	return e.states.PauseWorkflow(ctx, runID)
}

// ResumeRun 在后台继续执行已暂停的运行（对外导出）
func (e *Engine) ResumeRun(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	st, err := e.checkResumable(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := e.launch(runID); err != nil {
		return nil, err
	}
	e.logger.Info().Str("run_id", runID).Int("next_step", st.NextStepIndex()).Msg("▶️ 已恢复运行")
	return st, nil
}

// ResumeRunSync 同步继续执行已暂停的运行
func (e *Engine) ResumeRunSync(ctx context.Context, runID string) (*RunOutcome, error) {
	if _, err := e.checkResumable(ctx, runID); err != nil {
		return nil, err
	}
	return e.Continue(ctx, runID)
}

func (e *Engine) checkResumable(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	st, err := e.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRunFinished, runID, st.Status)
	}
	if failed, ok := workflow.FirstFailure(st.Steps); ok {
		return nil, fmt.Errorf("%w: step %d, 请先执行恢复或回滚", ErrUnresolvedFailure, failed.StepIndex)
	}
	return st, nil
}

// RollbackRun 回滚到目标步骤，运行置为paused（对外导出）
func (e *Engine) RollbackRun(ctx context.Context, runID string, targetIndex int) (*workflow.WorkflowState, error) {
	if _, ok := e.lookupActive(runID); ok {
		return nil, fmt.Errorf("%w: 请先暂停运行", ErrRunActive)
	}
	st, err := e.recovery.RollbackToStep(ctx, runID, targetIndex)
	if err != nil {
		return nil, err
	}
	e.invalidateResult(runID)
	return st, nil
}

// RollbackRunToLastSuccess 回滚到最后一个成功步骤
func (e *Engine) RollbackRunToLastSuccess(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	if _, ok := e.lookupActive(runID); ok {
		return nil, fmt.Errorf("%w: 请先暂停运行", ErrRunActive)
	}
	st, err := e.recovery.RollbackToLastSuccess(ctx, runID)
	if err != nil {
		return nil, err
	}
	e.invalidateResult(runID)
	return st, nil
}

// RecoverRun 对运行中第一个失败步骤应用恢复策略（对外导出）
// 恢复成功后运行处于paused，可通过ResumeRun继续
func (e *Engine) RecoverRun(ctx context.Context, runID string, strategy recovery.Strategy) (*recovery.Result, error) {
	if _, ok := e.lookupActive(runID); ok {
		return nil, fmt.Errorf("%w: 请先暂停运行", ErrRunActive)
	}
	if !strategy.Type.IsValid() {
		return nil, fmt.Errorf("%w: %s", recovery.ErrUnknownStrategy, strategy.Type)
	}
	st, err := e.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	failed, ok := workflow.FirstFailure(st.Steps)
	if !ok {
		return nil, fmt.Errorf("运行 %s 没有失败的步骤", runID)
	}

	// 终态运行先重新打开，恢复策略只修改paused状态
	terminal := st.Status.IsTerminal()
	if terminal {
		if _, err := e.states.ReopenWorkflow(ctx, runID); err != nil {
			return nil, err
		}
		e.invalidateResult(runID)
	}

	res, err := e.recovery.RecoverFromError(ctx, runID, failed, strategy)
	if terminal && (err != nil || !res.Recovered) {
		// 未恢复时回到原来的失败状态
		if _, ferr := e.states.FailWorkflow(ctx, runID, st.Error); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, err
	}
	if res.Recovered {
		e.invalidateResult(runID)
	}
	return res, nil
}

// TerminateRun 终止运行并标记为failed（对外导出）
func (e *Engine) TerminateRun(ctx context.Context, runID, reason string) (*workflow.WorkflowState, error) {
	if reason == "" {
		reason = "terminated"
	}
	if ar, ok := e.lookupActive(runID); ok {
		ar.requestTerminate()
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.approvals.ClearWorkflowApprovals(ctx, runID); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("⚠️ 清理审批门失败")
	}

	st, err := e.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status.IsTerminal() {
		return st, nil
	}
	st, err = e.states.FailWorkflow(ctx, runID, reason)
	if err != nil {
		return nil, err
	}
	e.invalidateResult(runID)
	e.logger.Warn().Str("run_id", runID).Str("reason", reason).Msg("🛑 运行已终止")
	return st, nil
}

// GetRun 获取运行状态
func (e *Engine) GetRun(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	return e.states.GetState(ctx, runID)
}

// ListRuns 列出运行，workflowID为空时列出全部
func (e *Engine) ListRuns(ctx context.Context, workflowID string) ([]*workflow.WorkflowState, error) {
	return e.states.ListRuns(ctx, workflowID)
}

// GetSnapshots 获取运行快照
func (e *Engine) GetSnapshots(ctx context.Context, runID string) ([]workflow.Snapshot, error) {
	return e.states.GetSnapshots(ctx, runID)
}

// GetResult 获取运行结果，缓存未命中时由状态重建
func (e *Engine) GetResult(ctx context.Context, runID string) (*workflow.ExecutionResult, error) {
	if e.results != nil {
		if res, ok := e.results.Get(runID); ok {
			return res, nil
		}
	}
	st, err := e.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	res := &workflow.ExecutionResult{
		Steps:     st.Steps,
		Success:   st.Status == workflow.StatusCompleted && workflow.AllSucceeded(st.Steps),
		StartTime: st.StartTime,
		Error:     st.Error,
	}
	if res.Steps == nil {
		res.Steps = []workflow.StepResult{}
	}
	if st.EndTime != nil {
		res.EndTime = *st.EndTime
		res.TotalDuration = st.EndTime.Sub(st.StartTime)
	}
	if st.Status.IsTerminal() {
		e.cacheResult(runID, res)
	}
	return res, nil
}

// GetCompensationActions 生成补偿动作
func (e *Engine) GetCompensationActions(ctx context.Context, runID string, fromIndex, toIndex int) ([]recovery.CompensationAction, error) {
	return e.recovery.GetCompensationActions(ctx, runID, fromIndex, toIndex)
}

// PlanCompensation 生成补偿计划
func (e *Engine) PlanCompensation(ctx context.Context, runID string, fromIndex, toIndex int) (*recovery.CompensationPlan, error) {
	return e.recovery.PlanCompensation(ctx, runID, fromIndex, toIndex)
}

// PendingApprovals 列出待审批门
func (e *Engine) PendingApprovals(runID string) []*approval.Gate {
	return e.approvals.GetPendingApprovals(runID)
}

// Decide 提交审批决定
func (e *Engine) Decide(ctx context.Context, gateID string, decision approval.Decision) (*approval.Gate, error) {
	return e.approvals.ProvideDecision(ctx, gateID, decision)
}

// Cleanup 删除在olderThan之前结束的运行及其快照和审批门
func (e *Engine) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := e.states.ListFinishedBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, runID := range ids {
		if _, ok := e.lookupActive(runID); ok {
			continue
		}
		if err := e.approvals.ClearWorkflowApprovals(ctx, runID); err != nil {
			return removed, err
		}
		if err := e.states.DeleteState(ctx, runID); err != nil {
			return removed, err
		}
		e.invalidateResult(runID)
		e.mu.Lock()
		delete(e.options, runID)
		e.mu.Unlock()
		removed++
	}
	if removed > 0 {
		e.logger.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("🧹 已清理结束的运行")
	}
	return removed, nil
}

func (e *Engine) invalidateResult(runID string) {
	if e.results != nil {
		e.results.Delete(runID)
	}
}

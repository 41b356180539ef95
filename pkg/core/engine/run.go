package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/executor"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

const (
	runOptionsKey       = "run_options"
	awaitingApprovalKey = "awaiting_approval_after"
)

// ApprovalPhase 审批检查点位置
type ApprovalPhase string

const (
	// PhaseBefore 步骤执行前审批
	PhaseBefore ApprovalPhase = "before"
	// PhaseAfter 步骤成功后审批
	PhaseAfter ApprovalPhase = "after"
)

// ApprovalPolicy 步骤审批策略，Timeout为0时使用配置的默认超时
type ApprovalPolicy struct {
	StepIndex int                    `json:"stepIndex" yaml:"step_index"`
	Phase     ApprovalPhase          `json:"phase" yaml:"phase"`
	Timeout   time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// RunRequest 运行请求
type RunRequest struct {
	WorkflowID  string
	RunName     string
	Definition  *workflow.Definition
	Input       string
	Params      map[string]interface{}
	Approvals   []ApprovalPolicy
	Recovery    *recovery.Strategy
	StepTimeout time.Duration
}

// RunOutcome 同步执行的结果
type RunOutcome struct {
	State      *workflow.WorkflowState   `json:"state"`
	Result     *workflow.ExecutionResult `json:"result"`
	Recoveries []*recovery.Result        `json:"recoveries,omitempty"`
}

// runOptions 随运行持久化的调用方选项
type runOptions struct {
	Params      map[string]interface{} `json:"params,omitempty"`
	Approvals   []ApprovalPolicy       `json:"approvals,omitempty"`
	Recovery    *recovery.Strategy     `json:"recovery,omitempty"`
	StepTimeout time.Duration          `json:"stepTimeout,omitempty"`
}

func (o *runOptions) policies(phase ApprovalPhase) map[int]ApprovalPolicy {
	out := make(map[int]ApprovalPolicy)
	for _, p := range o.Approvals {
		if p.Phase == phase {
			out[p.StepIndex] = p
		}
	}
	return out
}

func (o *runOptions) toContext() (map[string]interface{}, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRunOptions(v interface{}) *runOptions {
	opts := &runOptions{}
	if v == nil {
		return opts
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return opts
	}
	_ = json.Unmarshal(raw, opts)
	return opts
}

func validateRequest(req RunRequest) error {
	if req.Definition == nil {
		return fmt.Errorf("工作流定义不能为空")
	}
	if err := req.Definition.Validate(); err != nil {
		return err
	}
	for _, p := range req.Approvals {
		if p.StepIndex < 0 || p.StepIndex >= len(req.Definition.Steps) {
			return fmt.Errorf("审批策略的步骤索引越界: %d", p.StepIndex)
		}
		if p.Phase != PhaseBefore && p.Phase != PhaseAfter {
			return fmt.Errorf("审批策略的phase无效: %s", p.Phase)
		}
	}
	if req.Recovery != nil && !req.Recovery.Type.IsValid() {
		return fmt.Errorf("%w: %s", recovery.ErrUnknownStrategy, req.Recovery.Type)
	}
	return nil
}

// create 校验请求并创建运行状态
func (e *Engine) create(ctx context.Context, req RunRequest) (string, error) {
	if !e.IsRunning() {
		return "", ErrEngineStopped
	}
	if err := validateRequest(req); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if missing := workflow.UnresolvedPlaceholders(req.Definition, req.Params); len(missing) > 0 {
		return "", fmt.Errorf("%w: 未提供参数 %v", ErrInvalidRequest, missing)
	}
	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = "workflow"
	}

	st, err := e.states.CreateState(ctx, workflowID, req.RunName, req.Definition, req.Input)
	if err != nil {
		return "", err
	}
	opts := &runOptions{
		Params:      req.Params,
		Approvals:   req.Approvals,
		Recovery:    req.Recovery,
		StepTimeout: req.StepTimeout,
	}
	if err := e.saveOptions(ctx, st.ID, opts); err != nil {
		return "", err
	}
	return st.ID, nil
}

// Run 创建运行并同步执行，直到完成、失败或挂起
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	runID, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Continue(ctx, runID)
}

// Submit 创建运行并在后台执行，立即返回初始状态
func (e *Engine) Submit(ctx context.Context, req RunRequest) (*workflow.WorkflowState, error) {
	runID, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.launch(runID); err != nil {
		return nil, err
	}
	return e.states.GetState(ctx, runID)
}

// Continue 同步继续执行已暂停或尚未开始的运行
// 调用方ctx结束时运行被中断并置为paused
func (e *Engine) Continue(ctx context.Context, runID string) (*RunOutcome, error) {
	ar, runCtx, err := e.acquire(runID)
	if err != nil {
		return nil, err
	}
	defer e.release(ar)
	stop := context.AfterFunc(ctx, ar.cancel)
	defer stop()
	return e.drive(runCtx, ar)
}

// launch 在后台执行
func (e *Engine) launch(runID string) error {
	ar, runCtx, err := e.acquire(runID)
	if err != nil {
		return err
	}
	go func() {
		defer e.release(ar)
		if _, err := e.drive(runCtx, ar); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("❌ 后台执行失败")
		}
	}()
	return nil
}

// drive 执行循环：执行、按策略自动恢复、写入最终状态
func (e *Engine) drive(ctx context.Context, ar *activeRun) (*RunOutcome, error) {
	runID := ar.runID
	st, err := e.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case workflow.StatusPending, workflow.StatusPaused:
		if st, err = e.states.UpdateStatus(ctx, runID, workflow.StatusRunning); err != nil {
			return nil, err
		}
	case workflow.StatusRunning:
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrRunFinished, runID, st.Status)
	}

	opts := e.optionsFor(runID, st)
	emitter := events.WithWorkflowID(e.bus, st.WorkflowID)
	out := &RunOutcome{}
	rollbacks := 0

	for {
		// 上次因审批超时挂起的步骤后审批
		if idx, ok := awaitingApproval(st); ok && idx < len(st.Definition.Steps) {
			if hook := e.approvalHook(runID, opts, PhaseAfter); hook != nil {
				for _, pending := range pendingAfterApprovals(st, idx) {
					herr := hook(ctx, pending, st.Definition.Steps[pending])
					if herr == nil {
						continue
					}
					if errors.Is(herr, executor.ErrHalt) {
						return e.finishPaused(ctx, out, runID)
					}
					return e.finishFailed(ctx, out, runID, fmt.Sprintf("Step %d failed: %s", pending+1, herr.Error()))
				}
			}
			if st, err = e.states.RemoveContextKeys(ctx, runID, awaitingApprovalKey); err != nil {
				return nil, err
			}
		}

		result, err := e.executor.Execute(ctx, runID, st.RunName, st.Definition, st.Input,
			executor.WithStartIndex(st.NextStepIndex()),
			executor.WithPriorResults(st.Steps),
			executor.WithParams(opts.Params),
			executor.WithStepTimeout(opts.StepTimeout),
			executor.WithStepCallback(func(r workflow.StepResult) {
				// 被中断的步骤不记录，继续执行时重新运行
				if !r.Success && ctx.Err() != nil {
					e.logger.Debug().Str("run_id", runID).Int("step", r.StepIndex).Msg("步骤被中断，不记录结果")
					return
				}
				if _, err := e.states.AddStepResult(persistCtx(ctx), runID, r); err != nil {
					e.logger.Error().Err(err).Str("run_id", runID).Int("step", r.StepIndex).Msg("❌ 保存步骤结果失败")
				}
			}),
			executor.WithBeforeStep(e.approvalHook(runID, opts, PhaseBefore)),
			executor.WithAfterStep(e.approvalHook(runID, opts, PhaseAfter)),
			executor.WithPauseCheck(ar.pauseRequested),
			executor.WithEmitter(emitter),
		)
		out.Result = result
		if err != nil {
			return e.finishFailed(ctx, out, runID, err.Error())
		}

		switch {
		case ar.terminateRequested():
			// 终止方负责写入最终状态
			out.State, err = e.states.GetState(persistCtx(ctx), runID)
			return out, err
		case result.Halted, ctx.Err() != nil:
			return e.finishPaused(ctx, out, runID)
		case result.Success:
			return e.finishCompleted(ctx, out, runID)
		}

		failed, hasFailedStep := workflow.FirstFailure(result.Steps)
		strategy := e.recoveryStrategy(opts)
		if strategy == nil || !hasFailedStep {
			return e.finishFailed(ctx, out, runID, result.Error)
		}
		if strategy.Type == recovery.StrategyRollback {
			rollbacks++
			if rollbacks > maxOr(strategy.MaxRetries, recovery.DefaultMaxRetries) {
				return e.finishFailed(ctx, out, runID, result.Error+" (rollback attempts exhausted)")
			}
		}

		rr, rerr := e.recovery.RecoverFromError(ctx, runID, failed, *strategy)
		if rerr != nil {
			e.logger.Warn().Err(rerr).Str("run_id", runID).Msg("⚠️ 自动恢复出错")
			return e.finishFailed(ctx, out, runID, result.Error)
		}
		out.Recoveries = append(out.Recoveries, rr)
		if !rr.Recovered {
			if rr.Strategy == recovery.StrategyManual {
				if _, err := e.states.SetError(ctx, runID, result.Error); err != nil {
					return nil, err
				}
				return e.finishPaused(ctx, out, runID)
			}
			return e.finishFailed(ctx, out, runID, result.Error+": "+rr.Message)
		}

		if st, err = e.states.GetState(ctx, runID); err != nil {
			return nil, err
		}
		if st.Status == workflow.StatusPaused {
			if st, err = e.states.UpdateStatus(ctx, runID, workflow.StatusRunning); err != nil {
				return nil, err
			}
		}
	}
}

// approvalHook 把审批策略转换为执行钩子
// 超时和中断挂起执行，拒绝使执行失败
func (e *Engine) approvalHook(runID string, opts *runOptions, phase ApprovalPhase) executor.StepHook {
	policies := opts.policies(phase)
	if len(policies) == 0 {
		return nil
	}
	return func(ctx context.Context, stepIndex int, step workflow.Step) error {
		p, ok := policies[stepIndex]
		if !ok {
			return nil
		}
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = e.defaultApprovalTimeout()
		}
		data := workflow.CloneContext(p.Data)
		data["phase"] = string(phase)
		data["workerId"] = step.WorkerID

		_, err := e.approvals.RequestApproval(ctx, runID, approval.Request{StepIndex: stepIndex, Timeout: timeout, Data: data})
		if errors.Is(err, approval.ErrGatePending) {
			_, err = e.approvals.AwaitDecision(ctx, approval.GateID(runID, stepIndex), timeout)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, approval.ErrApprovalTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if phase == PhaseAfter {
				if _, uerr := e.states.UpdateContext(persistCtx(ctx), runID, map[string]interface{}{awaitingApprovalKey: stepIndex}); uerr != nil {
					e.logger.Warn().Err(uerr).Str("run_id", runID).Msg("⚠️ 记录待审批步骤失败")
				}
			}
			return fmt.Errorf("%w: %v", executor.ErrHalt, err)
		default:
			return err
		}
	}
}

func (e *Engine) recoveryStrategy(opts *runOptions) *recovery.Strategy {
	if opts.Recovery != nil {
		return opts.Recovery
	}
	rc := e.cfg.AgentFlow.Execution.Recovery
	if !rc.AutoRecover {
		return nil
	}
	return &recovery.Strategy{
		Type:          recovery.StrategyType(rc.Strategy),
		MaxRetries:    rc.MaxRetries,
		RetryDelay:    rc.RetryDelay,
		RollbackSteps: rc.RollbackSteps,
	}
}

func (e *Engine) finishPaused(ctx context.Context, out *RunOutcome, runID string) (*RunOutcome, error) {
	st, err := e.states.PauseWorkflow(persistCtx(ctx), runID)
	if err != nil {
		return nil, err
	}
	out.State = st
	e.logger.Info().Str("run_id", runID).Int("next_step", st.NextStepIndex()).Msg("⏸️ 运行已暂停")
	return out, nil
}

func (e *Engine) finishCompleted(ctx context.Context, out *RunOutcome, runID string) (*RunOutcome, error) {
	pctx := persistCtx(ctx)
	if err := e.recovery.ClearRetryCounters(pctx, runID); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("⚠️ 清除重试计数失败")
	}
	st, err := e.states.CompleteWorkflow(pctx, runID)
	if err != nil {
		return nil, err
	}
	out.State = st
	e.cacheResult(runID, out.Result)
	e.logger.Info().Str("run_id", runID).Int("steps", len(st.Steps)).Msg("✅ 运行已完成")
	return out, nil
}

func (e *Engine) finishFailed(ctx context.Context, out *RunOutcome, runID, message string) (*RunOutcome, error) {
	st, err := e.states.FailWorkflow(persistCtx(ctx), runID, message)
	if err != nil {
		return nil, err
	}
	out.State = st
	e.cacheResult(runID, out.Result)
	e.logger.Warn().Str("run_id", runID).Str("error", message).Msg("❌ 运行失败")
	return out, nil
}

func (e *Engine) cacheResult(runID string, result *workflow.ExecutionResult) {
	if e.results != nil && result != nil {
		e.results.Set(runID, result, 0)
	}
}

func (e *Engine) saveOptions(ctx context.Context, runID string, opts *runOptions) error {
	encoded, err := opts.toContext()
	if err != nil {
		return fmt.Errorf("序列化运行选项失败: %w", err)
	}
	if _, err := e.states.UpdateContext(ctx, runID, map[string]interface{}{runOptionsKey: encoded}); err != nil {
		return err
	}
	e.mu.Lock()
	e.options[runID] = opts
	e.mu.Unlock()
	return nil
}

func (e *Engine) optionsFor(runID string, st *workflow.WorkflowState) *runOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	if opts, ok := e.options[runID]; ok {
		return opts
	}
	opts := decodeRunOptions(st.Context[runOptionsKey])
	e.options[runID] = opts
	return opts
}

func awaitingApproval(st *workflow.WorkflowState) (int, bool) {
	switch v := st.Context[awaitingApprovalKey].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// pendingAfterApprovals 挂起位置起尚未完成的步骤后审批
// 并行批次的后审批在全部步骤结束后依次进行，挂起时其后的步骤也未审批
func pendingAfterApprovals(st *workflow.WorkflowState, idx int) []int {
	if st.Definition.Type != workflow.TypeParallel {
		return []int{idx}
	}
	pending := make([]int, 0, len(st.Definition.Steps)-idx)
	for i := idx; i < len(st.Definition.Steps); i++ {
		if _, ok := workflow.FindResult(st.Steps, i); ok {
			pending = append(pending, i)
		}
	}
	return pending
}

func maxOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

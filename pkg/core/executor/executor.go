// Package executor 按工作流类型驱动步骤执行
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultStepTimeout 默认步骤超时
	DefaultStepTimeout = 30 * time.Second
	// DefaultConcurrency 并行步骤默认并发上限
	DefaultConcurrency = 10
)

// ErrHalt 步骤钩子返回该错误（可包装）时执行挂起而不是失败
var ErrHalt = errors.New("execution halted")

// WorkerResolver 按ID查找Worker
type WorkerResolver interface {
	Get(id string) (worker.Worker, error)
}

// Executor 执行器（对外导出）
// 并行步骤共享同一个并发池
type Executor struct {
	resolver       WorkerResolver
	defaultTimeout time.Duration
	pool           *semaphore.Weighted
	strategies     map[workflow.Type]Strategy
	logger         zerolog.Logger
}

// Config 执行器配置
type Config struct {
	DefaultStepTimeout time.Duration
	Concurrency        int
}

// NewExecutor 创建执行器实例
func NewExecutor(resolver WorkerResolver, cfg Config) *Executor {
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = DefaultStepTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &Executor{
		resolver:       resolver,
		defaultTimeout: cfg.DefaultStepTimeout,
		pool:           semaphore.NewWeighted(int64(cfg.Concurrency)),
		strategies:     make(map[workflow.Type]Strategy),
		logger:         log.With().Str("component", "executor").Logger(),
	}
	for _, s := range []Strategy{sequentialStrategy{}, parallelStrategy{}, conditionalStrategy{}} {
		e.strategies[s.Type()] = s
	}
	return e
}

// Execute 执行工作流
// 返回的ExecutionResult总是非空；仅当定义本身不可执行（如未知类型）时返回error
func (e *Executor) Execute(ctx context.Context, runID, runName string, def *workflow.Definition, initialInput string, opts ...Option) (*workflow.ExecutionResult, error) {
	cfg := newRunConfig(e.defaultTimeout, opts...)
	startTime := time.Now()

	r := &run{
		exec:    e,
		runID:   runID,
		runName: runName,
		def:     def,
		input:   initialInput,
		cfg:     cfg,
		results: append([]workflow.StepResult(nil), cfg.prior...),
	}

	if def == nil {
		err := fmt.Errorf("工作流定义不能为空")
		return r.fatal(startTime, err), err
	}
	if err := def.Validate(); err != nil {
		return r.fatal(startTime, err), err
	}
	strategy, ok := e.strategies[def.Type]
	if !ok {
		err := fmt.Errorf("%w: %s", workflow.ErrUnknownWorkflowType, def.Type)
		return r.fatal(startTime, err), err
	}

	e.logger.Info().Str("run_id", runID).Str("run_name", runName).Str("type", string(def.Type)).
		Int("steps", len(def.Steps)).Int("start_index", cfg.startIndex).Msg("▶️ 开始执行工作流")

	out := strategy.Run(ctx, r)
	result := r.finish(startTime, out)

	switch {
	case result.Halted:
		e.logger.Info().Str("run_id", runID).Int("next_step", result.NextStepIndex).Msg("⏸️ 执行挂起")
	case result.Success:
		e.logger.Info().Str("run_id", runID).Dur("duration", result.TotalDuration).Msg("✅ 工作流执行成功")
	default:
		e.logger.Warn().Str("run_id", runID).Str("error", result.Error).Msg("❌ 工作流执行失败")
	}
	cfg.emitter.Emit(events.CompleteEvent(runID, result))
	return result, nil
}

// invokeStep 调用Worker并把任何失败转换为StepResult
func (e *Executor) invokeStep(ctx context.Context, timeout time.Duration, stepIndex int, step workflow.Step, input string) workflow.StepResult {
	start := time.Now()
	res := workflow.StepResult{
		StepIndex:  stepIndex,
		WorkerID:   step.WorkerID,
		WorkerName: step.WorkerID,
		Input:      input,
		StartTime:  start,
	}
	finish := func() workflow.StepResult {
		res.EndTime = time.Now()
		res.Duration = res.EndTime.Sub(start)
		return res
	}

	w, err := e.resolver.Get(step.WorkerID)
	if err != nil {
		res.Error = err.Error()
		return finish()
	}
	res.WorkerName = w.Name()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type invokeOutcome struct {
		output string
		err    error
	}
	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invokeOutcome{err: fmt.Errorf("%w: panic: %v", worker.ErrProvider, p)}
			}
		}()
		out, err := w.Invoke(stepCtx, input)
		done <- invokeOutcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			res.Error = e.describeError(ctx, stepCtx, o.err)
			return finish()
		}
		res.Output = o.output
		res.Success = true
		return finish()
	case <-stepCtx.Done():
		res.Error = e.describeError(ctx, stepCtx, stepCtx.Err())
		return finish()
	}
}

// failedResult 未能调用Worker时的失败结果
func failedResult(stepIndex int, step workflow.Step, input string, err error) workflow.StepResult {
	now := time.Now()
	return workflow.StepResult{
		StepIndex:  stepIndex,
		WorkerID:   step.WorkerID,
		WorkerName: step.WorkerID,
		Input:      input,
		Error:      err.Error(),
		StartTime:  now,
		EndTime:    now,
	}
}

// describeError 超时统一描述为"timeout"
func (e *Executor) describeError(parent, stepCtx context.Context, err error) string {
	if parent.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, worker.ErrStepTimeout)) {
		return worker.ErrStepTimeout.Error()
	}
	if errors.Is(err, worker.ErrStepTimeout) {
		return worker.ErrStepTimeout.Error()
	}
	return err.Error()
}

// run 单次执行的上下文（内部使用）
type run struct {
	exec    *Executor
	runID   string
	runName string
	def     *workflow.Definition
	input   string
	cfg     *runConfig
	results []workflow.StepResult
}

// outcome 策略执行结果
type outcome struct {
	err    string
	halted bool
	next   int
}

// record 记录结果并同步通知回调和事件
func (r *run) record(res workflow.StepResult) {
	r.results = append(r.results, res)
	if r.cfg.onStep != nil {
		r.cfg.onStep(res)
	}
	r.cfg.emitter.Emit(events.StepEvent(r.runID, &res))
	if !res.Success {
		r.exec.logger.Warn().Str("run_id", r.runID).Int("step", res.StepIndex).
			Str("worker_id", res.WorkerID).Str("error", res.Error).Msg("❌ 步骤执行失败")
	}
}

// stepInput 计算步骤输入，显式输入优先
func (r *run) stepInput(step workflow.Step, fallback string) string {
	return workflow.ResolveStepInput(step, fallback, r.cfg.params)
}

// hook 执行钩子，返回是否挂起以及错误描述
func (r *run) hook(ctx context.Context, h StepHook, stepIndex int, step workflow.Step) (halted bool, errMsg string) {
	if h == nil {
		return false, ""
	}
	if err := h(ctx, stepIndex, step); err != nil {
		if errors.Is(err, ErrHalt) {
			return true, ""
		}
		return false, fmt.Sprintf("Step %d failed: %s", stepIndex+1, err.Error())
	}
	return false, ""
}

// rollingInput 续跑时从已有结果恢复滚动输入
func (r *run) rollingInput() string {
	if last, ok := workflow.LastResult(r.results); ok && last.Success {
		return last.Output
	}
	return r.input
}

func (r *run) fatal(startTime time.Time, err error) *workflow.ExecutionResult {
	r.cfg.emitter.Emit(events.ErrorEvent(r.runID, err))
	r.exec.logger.Error().Err(err).Str("run_id", r.runID).Msg("❌ 工作流无法执行")
	end := time.Now()
	return &workflow.ExecutionResult{
		Steps:         r.results,
		Success:       false,
		StartTime:     startTime,
		EndTime:       end,
		TotalDuration: end.Sub(startTime),
		Error:         err.Error(),
	}
}

func (r *run) finish(startTime time.Time, out outcome) *workflow.ExecutionResult {
	end := time.Now()
	steps := r.results
	if steps == nil {
		steps = []workflow.StepResult{}
	}
	res := &workflow.ExecutionResult{
		Steps:         steps,
		StartTime:     startTime,
		EndTime:       end,
		TotalDuration: end.Sub(startTime),
		Error:         out.err,
		Halted:        out.halted,
	}
	if out.halted {
		res.NextStepIndex = out.next
	}
	res.Success = !out.halted && out.err == "" && workflow.AllSucceeded(steps)
	return res
}

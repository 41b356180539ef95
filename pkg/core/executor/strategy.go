package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// Strategy 执行模型，每种工作流类型一个实现
type Strategy interface {
	Type() workflow.Type
	Run(ctx context.Context, r *run) outcome
}

// sequentialStrategy 顺序执行，首个失败即终止
type sequentialStrategy struct{}

func (sequentialStrategy) Type() workflow.Type { return workflow.TypeSequential }

func (sequentialStrategy) Run(ctx context.Context, r *run) outcome {
	return runInOrder(ctx, r, false)
}

// conditionalStrategy 顺序执行并在每步前判断条件，不满足的步骤不留痕迹
type conditionalStrategy struct{}

func (conditionalStrategy) Type() workflow.Type { return workflow.TypeConditional }

func (conditionalStrategy) Run(ctx context.Context, r *run) outcome {
	return runInOrder(ctx, r, true)
}

func runInOrder(ctx context.Context, r *run, conditional bool) outcome {
	currentInput := r.rollingInput()

	for i := r.cfg.startIndex; i < len(r.def.Steps); i++ {
		step := r.def.Steps[i]

		if r.cfg.shouldPause != nil && r.cfg.shouldPause() {
			return outcome{halted: true, next: i}
		}
		if err := ctx.Err(); err != nil {
			return outcome{err: fmt.Sprintf("Step %d failed: %s", i+1, err.Error())}
		}
		if conditional && !step.Condition.Evaluate(r.results) {
			r.exec.logger.Debug().Str("run_id", r.runID).Int("step", i).Msg("条件不满足，跳过步骤")
			continue
		}

		if halted, errMsg := r.hook(ctx, r.cfg.before, i, step); halted || errMsg != "" {
			return outcome{halted: halted, next: i, err: errMsg}
		}

		res := r.exec.invokeStep(ctx, r.cfg.timeout, i, step, r.stepInput(step, currentInput))
		r.record(res)
		if !res.Success {
			return outcome{err: workflow.StepFailedMessage(res)}
		}
		currentInput = res.Output

		if halted, errMsg := r.hook(ctx, r.cfg.after, i, step); halted || errMsg != "" {
			return outcome{halted: halted, next: i + 1, err: errMsg}
		}
	}
	return outcome{}
}

// parallelStrategy 并发执行全部步骤，等待全部结束后按索引排序
type parallelStrategy struct{}

func (parallelStrategy) Type() workflow.Type { return workflow.TypeParallel }

func (parallelStrategy) Run(ctx context.Context, r *run) outcome {
	start := r.cfg.startIndex
	total := len(r.def.Steps)
	if start >= total {
		return outcome{}
	}

	if r.cfg.shouldPause != nil && r.cfg.shouldPause() {
		return outcome{halted: true, next: start}
	}
	for i := start; i < total; i++ {
		if halted, errMsg := r.hook(ctx, r.cfg.before, i, r.def.Steps[i]); halted || errMsg != "" {
			return outcome{halted: halted, next: start, err: errMsg}
		}
	}

	batch := make([]workflow.StepResult, total-start)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := start; i < total; i++ {
		wg.Add(1)
		go func(idx int, step workflow.Step) {
			defer wg.Done()
			input := r.stepInput(step, r.input)

			var res workflow.StepResult
			if err := r.exec.pool.Acquire(ctx, 1); err != nil {
				res = failedResult(idx, step, input, err)
			} else {
				res = r.exec.invokeStep(ctx, r.cfg.timeout, idx, step, input)
				r.exec.pool.Release(1)
			}
			batch[idx-start] = res

			// 回调按完成顺序同步触发
			mu.Lock()
			r.record(res)
			mu.Unlock()
		}(i, r.def.Steps[i])
	}
	wg.Wait()

	// 按索引顺序重建结果
	r.results = append(r.results[:len(r.results)-len(batch)], batch...)
	workflow.SortByIndex(r.results)

	failed := 0
	var first workflow.StepResult
	for _, res := range batch {
		if !res.Success {
			if failed == 0 {
				first = res
			}
			failed++
		}
	}
	if failed > 0 {
		return outcome{err: fmt.Sprintf("%d of %d parallel steps failed: %s", failed, len(batch), workflow.StepFailedMessage(first))}
	}

	for i := start; i < total; i++ {
		if halted, errMsg := r.hook(ctx, r.cfg.after, i, r.def.Steps[i]); halted || errMsg != "" {
			return outcome{halted: halted, next: total, err: errMsg}
		}
	}
	return outcome{}
}

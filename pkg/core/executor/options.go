package executor

import (
	"context"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// StepHook 步骤前后钩子，用于审批门等检查点
// 返回包装了ErrHalt的错误时执行挂起，其他错误使执行失败
type StepHook func(ctx context.Context, stepIndex int, step workflow.Step) error

// Option 执行选项
type Option func(*runConfig)

type runConfig struct {
	startIndex  int
	prior       []workflow.StepResult
	timeout     time.Duration
	onStep      func(workflow.StepResult)
	before      StepHook
	after       StepHook
	shouldPause func() bool
	params      map[string]interface{}
	emitter     events.Emitter
}

func newRunConfig(defaultTimeout time.Duration, opts ...Option) *runConfig {
	cfg := &runConfig{
		timeout: defaultTimeout,
		emitter: events.Nop,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.startIndex < 0 {
		cfg.startIndex = 0
	}
	return cfg
}

// WithStartIndex 从指定步骤开始执行（续跑、重试、跳过）
func WithStartIndex(index int) Option {
	return func(c *runConfig) { c.startIndex = index }
}

// WithPriorResults 续跑时已有的步骤结果，参与条件判断和滚动输入
func WithPriorResults(results []workflow.StepResult) Option {
	return func(c *runConfig) {
		c.prior = append([]workflow.StepResult(nil), results...)
	}
}

// WithStepTimeout 覆盖默认步骤超时
func WithStepTimeout(timeout time.Duration) Option {
	return func(c *runConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithStepCallback 每产生一个步骤结果时同步回调
func WithStepCallback(fn func(workflow.StepResult)) Option {
	return func(c *runConfig) { c.onStep = fn }
}

// WithBeforeStep 步骤执行前钩子
func WithBeforeStep(h StepHook) Option {
	return func(c *runConfig) { c.before = h }
}

// WithAfterStep 步骤执行后钩子（仅成功的步骤）
func WithAfterStep(h StepHook) Option {
	return func(c *runConfig) { c.after = h }
}

// WithPauseCheck 每个步骤开始前检查是否需要暂停
func WithPauseCheck(fn func() bool) Option {
	return func(c *runConfig) { c.shouldPause = fn }
}

// WithParams 步骤输入${name}占位符的参数
func WithParams(params map[string]interface{}) Option {
	return func(c *runConfig) { c.params = params }
}

// WithEmitter 执行事件发送方
func WithEmitter(em events.Emitter) Option {
	return func(c *runConfig) {
		if em != nil {
			c.emitter = em
		}
	}
}

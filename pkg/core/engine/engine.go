// Package engine 编排引擎：组合执行器、状态、审批、恢复与调度
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/cache"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/executor"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/state"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/plugin"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRunActive 运行已有执行循环
	ErrRunActive = errors.New("run is already active")
	// ErrRunFinished 运行已结束
	ErrRunFinished = errors.New("run already finished")
	// ErrUnresolvedFailure 存在未处理的失败步骤
	ErrUnresolvedFailure = errors.New("run has an unresolved failed step")
	// ErrEngineStopped 引擎未启动或已停止
	ErrEngineStopped = errors.New("engine is not running")
	// ErrInvalidRequest 运行请求校验失败
	ErrInvalidRequest = errors.New("invalid run request")
)

// Engine 编排引擎核心结构体（对外导出）
type Engine struct {
	cfg       *config.FlowConfig
	store     storage.Store
	ownsStore bool
	registry  *worker.Registry
	states    *state.Manager
	approvals *approval.Manager
	recovery  *recovery.Manager
	executor  *executor.Executor
	bus       *events.Bus
	results   cache.ResultCache
	scheduler *CronScheduler
	plugins   *plugin.Manager
	logger    zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	active  map[string]*activeRun
	options map[string]*runOptions
}

// activeRun 正在执行的运行（每个运行最多一个）
type activeRun struct {
	runID     string
	cancel    context.CancelFunc
	pauseReq  chan struct{}
	pauseOnce sync.Once
	terminate chan struct{}
	termOnce  sync.Once
	done      chan struct{}
}

func (a *activeRun) requestPause() {
	a.pauseOnce.Do(func() { close(a.pauseReq) })
}

func (a *activeRun) pauseRequested() bool {
	select {
	case <-a.pauseReq:
		return true
	default:
		return false
	}
}

func (a *activeRun) requestTerminate() {
	a.termOnce.Do(func() {
		close(a.terminate)
		a.cancel()
	})
}

func (a *activeRun) terminateRequested() bool {
	select {
	case <-a.terminate:
		return true
	default:
		return false
	}
}

// New 用已准备好的依赖创建引擎（对外导出）
// store由调用方负责关闭；通过EngineBuilder创建时由引擎关闭
func New(cfg *config.FlowConfig, store storage.Store, registry *worker.Registry) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if store == nil {
		return nil, fmt.Errorf("存储不能为空")
	}
	if registry == nil {
		registry = worker.NewRegistry()
	}

	bus := events.NewBus(0)
	eng := &Engine{
		cfg:      cfg,
		store:    store,
		registry: registry,
		bus:      bus,
		logger:   log.With().Str("component", "engine").Str("instance", cfg.AgentFlow.General.InstanceName).Logger(),
		active:   make(map[string]*activeRun),
		options:  make(map[string]*runOptions),
	}
	eng.states = state.NewManager(store,
		state.WithMaxSnapshots(cfg.GetMaxSnapshots()),
		state.WithEmitter(bus),
	)
	eng.approvals = approval.NewManager(store, bus)
	eng.recovery = recovery.NewManager(eng.states)
	eng.executor = executor.NewExecutor(registry, executor.Config{
		DefaultStepTimeout: cfg.GetDefaultStepTimeout(),
		Concurrency:        cfg.GetWorkerConcurrency(),
	})
	if cfg.AgentFlow.Storage.Cache.Enabled {
		eng.results = cache.NewMemoryResultCache(cfg.AgentFlow.Storage.Cache.DefaultTTL, cfg.AgentFlow.Storage.Cache.CleanInterval)
	}
	eng.scheduler = NewCronScheduler(eng)
	plugins, err := BuildPlugins(cfg.AgentFlow.Notifications)
	if err != nil {
		return nil, err
	}
	eng.plugins = plugins
	return eng, nil
}

// Start 启动引擎（对外导出）
// 恢复待审批门，把中断的运行置为paused，注册定时任务并启动调度器
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	e.running = true
	e.mu.Unlock()

	restored, err := e.approvals.Restore(ctx)
	if err != nil {
		return fmt.Errorf("恢复审批门失败: %w", err)
	}
	interrupted, err := e.states.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("恢复中断运行失败: %w", err)
	}

	for _, sc := range e.cfg.AgentFlow.Schedules {
		if err := e.scheduler.RegisterSchedule(sc); err != nil {
			return err
		}
	}
	retention := e.cfg.AgentFlow.Retention
	if retention.Enabled {
		if err := e.scheduler.RegisterFunc("retention", retention.Cron, func() {
			if _, err := e.Cleanup(e.baseCtx, retention.MaxAge); err != nil {
				e.logger.Warn().Err(err).Msg("⚠️ 定时清理失败")
			}
		}); err != nil {
			return err
		}
	}
	e.scheduler.Start()

	// 通知插件消费全部运行事件，Start之后注册的插件同样生效
	ch, err := e.bus.Subscribe(e.baseCtx, "")
	if err != nil {
		return fmt.Errorf("订阅通知事件失败: %w", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.plugins.Run(e.baseCtx, ch)
	}()

	e.logger.Info().Int("restored_approvals", restored).Int("interrupted_runs", len(interrupted)).Msg("✅ 编排引擎已启动")
	return nil
}

// Stop 停止引擎（对外导出）
// 进行中的运行被中断并置为paused，重启后可继续
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.scheduler.Stop()
	cancel()
	e.wg.Wait()

	if c, ok := e.results.(*cache.MemoryResultCache); ok {
		c.Close()
	}
	if err := e.bus.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("⚠️ 关闭事件总线失败")
	}
	e.closeOwnedStore()
	e.logger.Info().Msg("✅ 编排引擎已停止")
}

func (e *Engine) closeOwnedStore() {
	if !e.ownsStore {
		return
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("⚠️ 关闭存储失败")
	}
}

// IsRunning 引擎是否已启动
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Config 返回引擎配置
func (e *Engine) Config() *config.FlowConfig { return e.cfg }

// Registry 返回Worker注册中心
func (e *Engine) Registry() *worker.Registry { return e.registry }

// Approvals 返回审批门管理器
func (e *Engine) Approvals() *approval.Manager { return e.approvals }

// Events 返回事件总线
func (e *Engine) Events() *events.Bus { return e.bus }

// Plugins 返回通知插件管理器
func (e *Engine) Plugins() *plugin.Manager { return e.plugins }

// Scheduler 返回定时调度器
func (e *Engine) Scheduler() *CronScheduler { return e.scheduler }

// acquire 登记执行循环，同一运行只允许一个
func (e *Engine) acquire(runID string) (*activeRun, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil, nil, ErrEngineStopped
	}
	if _, exists := e.active[runID]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	ar := &activeRun{
		runID:     runID,
		cancel:    cancel,
		pauseReq:  make(chan struct{}),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.active[runID] = ar
	e.wg.Add(1)
	return ar, ctx, nil
}

func (e *Engine) release(ar *activeRun) {
	e.mu.Lock()
	if e.active[ar.runID] == ar {
		delete(e.active, ar.runID)
	}
	e.mu.Unlock()
	ar.cancel()
	close(ar.done)
	e.wg.Done()
}

func (e *Engine) lookupActive(runID string) (*activeRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ar, ok := e.active[runID]
	return ar, ok
}

// persistCtx 运行被中断后仍需写入最终状态
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (e *Engine) defaultApprovalTimeout() time.Duration {
	return e.cfg.AgentFlow.Execution.Approval.DefaultTimeout
}

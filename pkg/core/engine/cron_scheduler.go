package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// cronParser 6位cron表达式（含秒）
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronScheduler 定时调度器（对外导出）
// 按cron表达式提交工作流运行或执行维护任务
type CronScheduler struct {
	cron    *cron.Cron
	engine  *Engine
	entries map[string]cron.EntryID // name -> cron.EntryID映射
	specs   map[string]string       // name -> cron表达式
	mu      sync.RWMutex
	logger  zerolog.Logger
	started bool
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(eng *Engine) *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		engine:  eng,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		logger:  log.With().Str("component", "cron").Logger(),
	}
}

// RegisterSchedule 注册定时运行（对外导出）
// 定义文件在注册时加载并校验，每次触发使用定义的副本
func (cs *CronScheduler) RegisterSchedule(sc config.ScheduleConfig) error {
	if sc.Name == "" {
		return fmt.Errorf("定时任务名称不能为空")
	}
	def, err := workflow.LoadDefinitionFile(sc.DefinitionFile)
	if err != nil {
		return fmt.Errorf("定时任务 %s 加载定义失败: %w", sc.Name, err)
	}
	params := make(map[string]interface{}, len(sc.Params))
	for k, v := range sc.Params {
		params[k] = v
	}
	workflowID := sc.WorkflowID
	if workflowID == "" {
		workflowID = sc.Name
	}

	return cs.RegisterFunc(sc.Name, sc.Cron, func() {
		cs.logger.Info().Str("schedule", sc.Name).Str("workflow_id", workflowID).Msg("🕐 触发定时运行")
		st, err := cs.engine.Submit(context.Background(), RunRequest{
			WorkflowID: workflowID,
			RunName:    sc.Name,
			Definition: def.Clone(),
			Input:      sc.Input,
			Params:     params,
		})
		if err != nil {
			cs.logger.Error().Err(err).Str("schedule", sc.Name).Msg("❌ 提交定时运行失败")
			return
		}
		cs.logger.Info().Str("schedule", sc.Name).Str("run_id", st.ID).Msg("✅ 定时运行已提交")
	})
}

// RegisterFunc 注册定时函数（对外导出）
func (cs *CronScheduler) RegisterFunc(name, spec string, fn func()) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("定时任务 %s 的Cron表达式无效: %w", name, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.entries[name]; exists {
		return fmt.Errorf("定时任务 %s 已注册", name)
	}
	entryID, err := cs.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	cs.entries[name] = entryID
	cs.specs[name] = spec

	cs.logger.Info().Str("schedule", name).Str("cron", spec).Msg("✅ 已注册定时任务")
	return nil
}

// Unregister 取消注册定时任务（对外导出）
func (cs *CronScheduler) Unregister(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[name]
	if !exists {
		return fmt.Errorf("定时任务 %s 未注册", name)
	}
	cs.cron.Remove(entryID)
	delete(cs.entries, name)
	delete(cs.specs, name)

	cs.logger.Info().Str("schedule", name).Msg("✅ 已取消定时任务")
	return nil
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.started {
		return
	}
	cs.cron.Start()
	cs.started = true
	cs.logger.Info().Int("entries", len(cs.entries)).Msg("✅ 定时调度器已启动")
}

// Stop 停止定时调度器，等待执行中的任务结束（对外导出）
func (cs *CronScheduler) Stop() {
	cs.mu.Lock()
	if !cs.started {
		cs.mu.Unlock()
		return
	}
	cs.started = false
	cs.mu.Unlock()

	<-cs.cron.Stop().Done()
	cs.logger.Info().Msg("✅ 定时调度器已停止")
}

// GetRegisteredSchedules 获取已注册的定时任务及其表达式（对外导出）
func (cs *CronScheduler) GetRegisteredSchedules() map[string]string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]string, len(cs.specs))
	for k, v := range cs.specs {
		out[k] = v
	}
	return out
}

// ScheduleNames 已注册的定时任务名称（有序）
func (cs *CronScheduler) ScheduleNames() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	names := make([]string, 0, len(cs.entries))
	for name := range cs.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

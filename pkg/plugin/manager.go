// Package plugin 运行事件通知插件：订阅事件总线，按绑定规则触发插件
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/rs/zerolog"
)

// Plugin 通知插件（对外导出）
type Plugin interface {
	// Name 插件名称，在Manager内唯一
	Name() string
	// Init 按参数初始化
	Init(params map[string]string) error
	// Execute 处理一个运行事件
	Execute(ctx context.Context, ev *events.Event) error
}

// Binding 插件绑定规则（对外导出）
// Events为空时匹配所有事件；Statuses只约束status事件
type Binding struct {
	PluginName string
	Events     []events.EventType
	Statuses   []workflow.Status
	Condition  func(ev *events.Event) bool
}

func (b Binding) matches(ev *events.Event) bool {
	if len(b.Events) > 0 && !contains(b.Events, ev.Type) {
		return false
	}
	if ev.Type == events.EventStatus && len(b.Statuses) > 0 && !contains(b.Statuses, ev.Status) {
		return false
	}
	return b.Condition == nil || b.Condition(ev)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Manager 插件管理器（对外导出）
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	bindings []Binding
	logger   zerolog.Logger
}

// NewManager 创建插件管理器
func NewManager() *Manager {
	return &Manager{
		plugins: make(map[string]Plugin),
		logger:  logger.Component("plugin"),
	}
}

// Register 注册插件
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	m.plugins[name] = p
	return nil
}

// RegisterWithInit 初始化并注册插件，初始化失败时不注册
func (m *Manager) RegisterWithInit(p Plugin, params map[string]string) error {
	if p == nil {
		return fmt.Errorf("插件不能为空")
	}
	if err := p.Init(params); err != nil {
		return fmt.Errorf("插件 %s 初始化失败: %w", p.Name(), err)
	}
	return m.Register(p)
}

// Bind 绑定插件到事件
func (m *Manager) Bind(b Binding) error {
	if b.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[b.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", b.PluginName)
	}
	m.bindings = append(m.bindings, b)
	return nil
}

// Trigger 把事件分发给匹配的插件，返回所有插件错误的合并
func (m *Manager) Trigger(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return nil
	}
	m.mu.RLock()
	var targets []Plugin
	for _, b := range m.bindings {
		if !b.matches(ev) {
			continue
		}
		if p, ok := m.plugins[b.PluginName]; ok {
			targets = append(targets, p)
		}
	}
	m.mu.RUnlock()

	var errs []error
	for _, p := range targets {
		if err := p.Execute(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run 消费事件直到ctx结束或通道关闭，插件错误只记录日志
func (m *Manager) Run(ctx context.Context, ch <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := m.Trigger(ctx, ev); err != nil {
				m.logger.Warn().Err(err).Str("run_id", ev.RunID).Str("type", string(ev.Type)).Msg("⚠️ 通知插件执行失败")
			}
		}
	}
}

// GetPlugin 获取已注册的插件
func (m *Manager) GetPlugin(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// ListPlugins 按名称排序列出插件
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件并移除其绑定
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}
	delete(m.plugins, name)

	filtered := m.bindings[:0]
	for _, b := range m.bindings {
		if b.PluginName != name {
			filtered = append(filtered, b)
		}
	}
	m.bindings = filtered
	return nil
}

// New 按类型创建插件：email / log
func New(pluginType, name string) (Plugin, error) {
	switch pluginType {
	case "email":
		return NewEmailPlugin(name), nil
	case "log":
		return NewLogPlugin(name), nil
	default:
		return nil, fmt.Errorf("不支持的插件类型: %s", pluginType)
	}
}

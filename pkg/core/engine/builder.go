package engine

import (
	"errors"
	"fmt"

	internalstorage "github.com/LENAX/agent-flow/internal/storage"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/LENAX/agent-flow/pkg/plugin"
	"github.com/LENAX/agent-flow/pkg/storage"
)

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	configPath string
	cfg        *config.FlowConfig
	store      storage.Store
	workers    []worker.Worker
	plugins    []pluginBinding
	initLogger bool
	err        error
}

// NewEngineBuilder 创建引擎构建器（入口）
// configPath为空或文件不存在时使用默认配置
func NewEngineBuilder(configPath string) *EngineBuilder {
	return &EngineBuilder{configPath: configPath}
}

// WithConfig 直接使用已加载的配置（链式）
func (b *EngineBuilder) WithConfig(cfg *config.FlowConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithStore 使用外部存储（链式），由调用方负责关闭
func (b *EngineBuilder) WithStore(store storage.Store) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if store == nil {
		b.err = errors.New("store cannot be nil")
		return b
	}
	b.store = store
	return b
}

// WithWorker 注册代码中定义的Worker（链式）
func (b *EngineBuilder) WithWorker(w worker.Worker) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if w == nil || w.ID() == "" {
		b.err = errors.New("worker or worker id is empty")
		return b
	}
	b.workers = append(b.workers, w)
	return b
}

type pluginBinding struct {
	plugin  plugin.Plugin
	binding plugin.Binding
}

// WithPlugin 注册代码中创建的通知插件（链式）
// 插件需已完成Init；binding.PluginName为空时取插件名称
func (b *EngineBuilder) WithPlugin(p plugin.Plugin, binding plugin.Binding) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if p == nil {
		b.err = errors.New("plugin cannot be nil")
		return b
	}
	if binding.PluginName == "" {
		binding.PluginName = p.Name()
	}
	b.plugins = append(b.plugins, pluginBinding{plugin: p, binding: binding})
	return b
}

// WithLogger 按配置初始化全局日志（链式）
func (b *EngineBuilder) WithLogger() *EngineBuilder {
	b.initLogger = true
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, b.err
	}

	// 1. 加载配置
	cfg := b.cfg
	if cfg == nil {
		loaded, err := config.Load(b.configPath)
		if err != nil {
			return nil, fmt.Errorf("load engine config failed: %w", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("validate engine config failed: %w", err)
		}
	}
	if b.initLogger {
		if err := logger.Init(cfg.AgentFlow.General.LogLevel, cfg.AgentFlow.General.Env); err != nil {
			return nil, err
		}
	}

	// 2. 注册Worker：配置声明的在前，代码注册的在后
	registry, err := BuildRegistry(cfg.AgentFlow.Workers)
	if err != nil {
		return nil, fmt.Errorf("build worker registry failed: %w", err)
	}
	for _, w := range b.workers {
		if err := registry.Register(w); err != nil {
			return nil, fmt.Errorf("register worker failed: %w", err)
		}
	}

	// 3. 初始化存储层
	store := b.store
	ownsStore := false
	if store == nil {
		store, err = internalstorage.NewStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage failed: %w", err)
		}
		ownsStore = true
	}

	eng, err := New(cfg, store, registry)
	if err != nil {
		if ownsStore {
			_ = store.Close()
		}
		return nil, err
	}
	eng.ownsStore = ownsStore

	// 4. 注册代码定义的通知插件
	for _, pb := range b.plugins {
		if err := eng.plugins.Register(pb.plugin); err != nil {
			eng.closeOwnedStore()
			return nil, fmt.Errorf("register plugin failed: %w", err)
		}
		if err := eng.plugins.Bind(pb.binding); err != nil {
			eng.closeOwnedStore()
			return nil, fmt.Errorf("bind plugin failed: %w", err)
		}
	}
	return eng, nil
}

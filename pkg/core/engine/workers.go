package engine

import (
	"fmt"

	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/plugin"
)

// BuildRegistry 按配置创建Worker注册中心（对外导出）
func BuildRegistry(workers []config.WorkerConfig) (*worker.Registry, error) {
	registry := worker.NewRegistry()
	for _, wc := range workers {
		w, err := NewWorker(wc)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(w); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewWorker 按配置创建单个Worker
func NewWorker(wc config.WorkerConfig) (worker.Worker, error) {
	name := wc.Name
	if name == "" {
		name = wc.ID
	}
	switch wc.Type {
	case "echo":
		return worker.NewEchoWorker(wc.ID, name, wc.Prefix), nil
	case "upper":
		return worker.NewUpperWorker(wc.ID, name), nil
	case "command":
		return worker.NewCommandWorker(wc.ID, name, wc.Command, wc.Env)
	case "http":
		return worker.NewHTTPWorker(wc.ID, name, wc.URL, wc.Headers), nil
	default:
		return nil, fmt.Errorf("不支持的Worker类型: %s (worker=%s)", wc.Type, wc.ID)
	}
}

// BuildPlugins 按配置创建并绑定通知插件（对外导出）
func BuildPlugins(notifications []config.NotificationConfig) (*plugin.Manager, error) {
	manager := plugin.NewManager()
	for _, nc := range notifications {
		p, err := plugin.New(nc.Type, nc.Name)
		if err != nil {
			return nil, err
		}
		if err := manager.RegisterWithInit(p, nc.Params); err != nil {
			return nil, err
		}
		binding := plugin.Binding{PluginName: p.Name()}
		for _, ev := range nc.Events {
			binding.Events = append(binding.Events, events.EventType(ev))
		}
		for _, st := range nc.Statuses {
			binding.Statuses = append(binding.Statuses, workflow.Status(st))
		}
		if err := manager.Bind(binding); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

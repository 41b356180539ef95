package plugin

import (
	"context"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/rs/zerolog"
)

// LogPlugin 把事件写入结构化日志
type LogPlugin struct {
	name   string
	level  zerolog.Level
	logger zerolog.Logger
}

// NewLogPlugin 创建日志插件，name为空时为"log"
func NewLogPlugin(name string) *LogPlugin {
	if name == "" {
		name = "log"
	}
	return &LogPlugin{name: name, level: zerolog.InfoLevel, logger: logger.Component("plugin.log")}
}

// Name 插件名称
func (l *LogPlugin) Name() string { return l.name }

// Init 可选参数level（默认info）
func (l *LogPlugin) Init(params map[string]string) error {
	if lv := params["level"]; lv != "" {
		parsed, err := logger.ParseLevel(lv)
		if err != nil {
			return err
		}
		l.level = parsed
	}
	return nil
}

// Execute 输出事件摘要
func (l *LogPlugin) Execute(ctx context.Context, ev *events.Event) error {
	e := l.logger.WithLevel(l.level).
		Str("run_id", ev.RunID).
		Str("type", string(ev.Type))
	if ev.Status != "" {
		e = e.Str("status", string(ev.Status))
	}
	if ev.Step != nil {
		e = e.Int("step", ev.Step.StepIndex).Bool("success", ev.Step.Success)
	}
	if ev.Approval != nil {
		e = e.Str("gate_id", ev.Approval.GateID).Str("approval", ev.Approval.Status)
	}
	e.Msg("🔔 " + buildSubject(ev))
	return nil
}

package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate 校验配置，返回第一个不合法的字段
func Validate(cfg *FlowConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	c := &cfg.AgentFlow

	// 校验General
	if c.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if c.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.General.LogLevel] {
			return fmt.Errorf("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Storage.Database
	validDBTypes := map[string]bool{
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
		"memory":     true,
	}
	if !validDBTypes[c.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/postgres/mysql/memory之一")
	}
	if c.Storage.Database.Type != "memory" && c.Storage.Database.DSN == "" {
		return fmt.Errorf("database.dsn不能为空")
	}

	// 校验Execution
	if c.Execution.MaxSnapshots <= 0 {
		return fmt.Errorf("execution.max_snapshots必须大于0")
	}
	validStrategies := map[string]bool{
		"retry":    true,
		"skip":     true,
		"rollback": true,
		"manual":   true,
	}
	if !validStrategies[c.Execution.Recovery.Strategy] {
		return fmt.Errorf("execution.recovery.strategy必须是retry/skip/rollback/manual之一")
	}
	if c.Execution.Approval.DefaultTimeout < 0 {
		return fmt.Errorf("execution.approval.default_timeout不能为负数")
	}

	// 校验Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port必须在1-65535之间")
	}

	// 校验Retention
	if c.Retention.Enabled {
		if _, err := cronParser.Parse(c.Retention.Cron); err != nil {
			return fmt.Errorf("retention.cron不合法: %w", err)
		}
	}

	// 校验Workers
	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("workers[%d].id不能为空", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("workers[%d].id重复: %s", i, w.ID)
		}
		seen[w.ID] = true
		switch w.Type {
		case "echo", "upper":
		case "command":
			if len(w.Command) == 0 {
				return fmt.Errorf("workers[%d].command不能为空", i)
			}
		case "http":
			if w.URL == "" {
				return fmt.Errorf("workers[%d].url不能为空", i)
			}
		default:
			return fmt.Errorf("workers[%d].type必须是echo/upper/command/http之一", i)
		}
	}

	// 校验Schedules
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d].name不能为空", i)
		}
		if s.DefinitionFile == "" {
			return fmt.Errorf("schedules[%d].definition_file不能为空", i)
		}
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedules[%d].cron不合法: %w", i, err)
		}
	}

	// 校验Notifications
	names := make(map[string]bool, len(c.Notifications))
	for i, n := range c.Notifications {
		if n.Type != "email" && n.Type != "log" {
			return fmt.Errorf("notifications[%d].type必须是email/log之一", i)
		}
		if names[n.Name] {
			return fmt.Errorf("notifications[%d].name重复: %s", i, n.Name)
		}
		names[n.Name] = true
		for _, ev := range n.Events {
			if !validEventTypes[ev] {
				return fmt.Errorf("notifications[%d].events包含未知事件: %s", i, ev)
			}
		}
	}
	return nil
}

// validEventTypes 可订阅的运行事件类型
var validEventTypes = map[string]bool{
	"step":               true,
	"complete":           true,
	"error":              true,
	"status":             true,
	"approval.requested": true,
	"approval.resolved":  true,
}

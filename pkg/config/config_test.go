package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "agent-flow.yaml")
	configContent := `
agent-flow:
  general:
    instance_name: "test-flow"
    log_level: "debug"
    env: "test"
  storage:
    database:
      type: "sqlite"
      dsn: "./test.db"
      max_open_conns: 5
      conn_max_lifetime: "1h"
    cache:
      enabled: true
      default_ttl: "2h"
  execution:
    default_step_timeout: "45s"
    worker_concurrency: 4
    recovery:
      auto_recover: true
      strategy: "retry"
      max_retries: 5
      retry_delay: "2s"
    approval:
      default_timeout: "10m"
  server:
    port: 9090
  retention:
    enabled: true
    max_age: "48h"
    cron: "0 30 * * * *"
  workers:
    - id: "writer"
      type: "echo"
      prefix: "draft: "
    - id: "remote"
      name: "Remote Reviewer"
      type: "http"
      url: "http://localhost:9000/invoke"
  schedules:
    - name: "nightly"
      cron: "0 0 2 * * *"
      definition_file: "./flows/nightly.yaml"
      input: "start"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	c := cfg.AgentFlow
	assert.Equal(t, "test-flow", c.General.InstanceName)
	assert.Equal(t, "debug", c.General.LogLevel)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, "./test.db", cfg.GetDatabaseDSN())
	assert.Equal(t, 5, c.Storage.Database.MaxOpenConns)
	assert.Equal(t, 5, c.Storage.Database.MaxIdleConns, "默认值")
	assert.Equal(t, time.Hour, c.Storage.Database.ConnMaxLifetime)
	assert.Equal(t, 2*time.Hour, c.Storage.Cache.DefaultTTL)
	assert.Equal(t, 45*time.Second, cfg.GetDefaultStepTimeout())
	assert.Equal(t, 4, cfg.GetWorkerConcurrency())
	assert.Equal(t, 50, cfg.GetMaxSnapshots())
	assert.True(t, c.Execution.Recovery.AutoRecover)
	assert.Equal(t, "retry", c.Execution.Recovery.Strategy)
	assert.Equal(t, 5, c.Execution.Recovery.MaxRetries)
	assert.Equal(t, 2*time.Second, c.Execution.Recovery.RetryDelay)
	assert.Equal(t, 1, c.Execution.Recovery.RollbackSteps)
	assert.Equal(t, 10*time.Minute, c.Execution.Approval.DefaultTimeout)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "0.0.0.0", c.Server.Host)
	assert.Equal(t, 48*time.Hour, c.Retention.MaxAge)
	require.Len(t, c.Workers, 2)
	assert.Equal(t, "writer", c.Workers[0].Name, "名称默认为ID")
	assert.Equal(t, "Remote Reviewer", c.Workers[1].Name)
	require.Len(t, c.Schedules, 1)
	assert.Equal(t, "nightly", c.Schedules[0].Name)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "agent-flow", cfg.AgentFlow.General.InstanceName)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, 30*time.Second, cfg.GetDefaultStepTimeout())
	assert.Equal(t, 3, cfg.AgentFlow.Execution.Recovery.MaxRetries)
	assert.Equal(t, "manual", cfg.AgentFlow.Execution.Recovery.Strategy)
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "非法数据库类型",
			yaml:   "agent-flow:\n  storage:\n    database:\n      type: oracle\n      dsn: x\n",
			errMsg: "database.type",
		},
		{
			name:   "mysql缺少dsn",
			yaml:   "agent-flow:\n  storage:\n    database:\n      type: mysql\n",
			errMsg: "database.dsn",
		},
		{
			name:   "非法恢复策略",
			yaml:   "agent-flow:\n  execution:\n    recovery:\n      strategy: pray\n",
			errMsg: "strategy",
		},
		{
			name:   "非法日志级别",
			yaml:   "agent-flow:\n  general:\n    log_level: verbose\n",
			errMsg: "log_level",
		},
		{
			name:   "command缺少命令",
			yaml:   "agent-flow:\n  workers:\n    - id: sh\n      type: command\n",
			errMsg: "workers[0].command",
		},
		{
			name:   "重复worker",
			yaml:   "agent-flow:\n  workers:\n    - id: a\n      type: echo\n    - id: a\n      type: upper\n",
			errMsg: "重复",
		},
		{
			name:   "非法cron",
			yaml:   "agent-flow:\n  schedules:\n    - name: n\n      cron: \"bad\"\n      definition_file: f.yaml\n",
			errMsg: "schedules[0].cron",
		},
		{
			name:   "非法通知类型",
			yaml:   "agent-flow:\n  notifications:\n    - type: sms\n",
			errMsg: "notifications[0].type",
		},
		{
			name:   "重复通知名称",
			yaml:   "agent-flow:\n  notifications:\n    - type: log\n    - type: log\n",
			errMsg: "notifications[1].name",
		},
		{
			name:   "未知通知事件",
			yaml:   "agent-flow:\n  notifications:\n    - type: log\n      events: [finished]\n",
			errMsg: "finished",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_MemoryStorageNeedsNoDSN(t *testing.T) {
	cfg, err := Parse([]byte("agent-flow:\n  storage:\n    database:\n      type: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.GetDatabaseType())
	assert.Empty(t, cfg.GetDatabaseDSN())
}

func TestParse_Notifications(t *testing.T) {
	yaml := `
agent-flow:
  notifications:
    - type: log
      events: [complete, approval.requested]
    - name: ops-mail
      type: email
      params:
        smtp_host: mail.local
      statuses: [failed]
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	n := cfg.AgentFlow.Notifications
	require.Len(t, n, 2)
	assert.Equal(t, "log", n[0].Name, "名称默认为类型")
	assert.Equal(t, []string{"complete", "approval.requested"}, n[0].Events)
	assert.Equal(t, "ops-mail", n[1].Name)
	assert.Equal(t, "mail.local", n[1].Params["smtp_host"])
	assert.Equal(t, []string{"failed"}, n[1].Statuses)
}

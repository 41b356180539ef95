package config

import (
	"time"
)

// FlowConfig 编排引擎配置（对外导出）
type FlowConfig struct {
	AgentFlow struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
				ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
			} `yaml:"database"`
			Cache struct {
				Enabled       bool          `yaml:"enabled"`
				DefaultTTL    time.Duration `yaml:"default_ttl"`
				CleanInterval time.Duration `yaml:"clean_interval"`
			} `yaml:"cache"`
		} `yaml:"storage"`
		Execution struct {
			DefaultStepTimeout time.Duration `yaml:"default_step_timeout"`
			WorkerConcurrency  int           `yaml:"worker_concurrency"`
			MaxSnapshots       int           `yaml:"max_snapshots"`
			Recovery           struct {
				// AutoRecover 步骤失败时自动按Strategy恢复
				AutoRecover   bool          `yaml:"auto_recover"`
				Strategy      string        `yaml:"strategy"`
				MaxRetries    int           `yaml:"max_retries"`
				RetryDelay    time.Duration `yaml:"retry_delay"`
				RollbackSteps int           `yaml:"rollback_steps"`
			} `yaml:"recovery"`
			Approval struct {
				// DefaultTimeout 为0表示无限等待
				DefaultTimeout time.Duration `yaml:"default_timeout"`
			} `yaml:"approval"`
		} `yaml:"execution"`
		Server    ServerConfig     `yaml:"server"`
		Retention RetentionConfig  `yaml:"retention"`
		Workers   []WorkerConfig   `yaml:"workers"`
		Schedules []ScheduleConfig `yaml:"schedules"`
		// Notifications 订阅运行事件的通知插件
		Notifications []NotificationConfig `yaml:"notifications"`
	} `yaml:"agent-flow"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig 已结束运行的清理策略
type RetentionConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxAge  time.Duration `yaml:"max_age"`
	// Cron 清理任务的cron表达式（6位，含秒）
	Cron string `yaml:"cron"`
}

// WorkerConfig 声明式Worker配置
// Type: echo / upper / command / http
type WorkerConfig struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Prefix  string            `yaml:"prefix"`
	Command []string          `yaml:"command"`
	Env     []string          `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// ScheduleConfig 定时运行配置
type ScheduleConfig struct {
	Name           string            `yaml:"name"`
	Cron           string            `yaml:"cron"`
	WorkflowID     string            `yaml:"workflow_id"`
	DefinitionFile string            `yaml:"definition_file"`
	Input          string            `yaml:"input"`
	Params         map[string]string `yaml:"params"`
}

// NotificationConfig 通知插件配置
// Type: email / log；Events为空时订阅所有事件，Statuses只约束status事件
type NotificationConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Params   map[string]string `yaml:"params"`
	Events   []string          `yaml:"events"`
	Statuses []string          `yaml:"statuses"`
}

// GetDatabaseType 获取数据库类型
func (c *FlowConfig) GetDatabaseType() string {
	return c.AgentFlow.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *FlowConfig) GetDatabaseDSN() string {
	return c.AgentFlow.Storage.Database.DSN
}

// GetWorkerConcurrency 获取并行步骤并发上限
func (c *FlowConfig) GetWorkerConcurrency() int {
	concurrency := c.AgentFlow.Execution.WorkerConcurrency
	if concurrency <= 0 {
		return 10 // 默认值
	}
	return concurrency
}

// GetDefaultStepTimeout 获取默认步骤超时时间
func (c *FlowConfig) GetDefaultStepTimeout() time.Duration {
	timeout := c.AgentFlow.Execution.DefaultStepTimeout
	if timeout <= 0 {
		return 30 * time.Second // 默认值
	}
	return timeout
}

// GetMaxSnapshots 获取每个运行保留的快照数
func (c *FlowConfig) GetMaxSnapshots() int {
	if c.AgentFlow.Execution.MaxSnapshots <= 0 {
		return 50
	}
	return c.AgentFlow.Execution.MaxSnapshots
}

// ApplyDefaults 应用默认值
func (c *FlowConfig) ApplyDefaults() {
	// General默认值
	if c.AgentFlow.General.InstanceName == "" {
		c.AgentFlow.General.InstanceName = "agent-flow"
	}
	if c.AgentFlow.General.LogLevel == "" {
		c.AgentFlow.General.LogLevel = "info"
	}
	if c.AgentFlow.General.Env == "" {
		c.AgentFlow.General.Env = "dev"
	}

	// Database默认值
	if c.AgentFlow.Storage.Database.Type == "" {
		c.AgentFlow.Storage.Database.Type = "sqlite"
	}
	if c.AgentFlow.Storage.Database.DSN == "" && c.AgentFlow.Storage.Database.Type == "sqlite" {
		c.AgentFlow.Storage.Database.DSN = "./data/agent_flow.db"
	}
	if c.AgentFlow.Storage.Database.MaxOpenConns <= 0 {
		c.AgentFlow.Storage.Database.MaxOpenConns = 10
	}
	if c.AgentFlow.Storage.Database.MaxIdleConns <= 0 {
		c.AgentFlow.Storage.Database.MaxIdleConns = 5
	}
	if c.AgentFlow.Storage.Database.ConnMaxLifetime <= 0 {
		c.AgentFlow.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}
	if c.AgentFlow.Storage.Database.ConnMaxIdleTime <= 0 {
		c.AgentFlow.Storage.Database.ConnMaxIdleTime = 1 * time.Hour
	}

	// Cache默认值
	if c.AgentFlow.Storage.Cache.DefaultTTL <= 0 {
		c.AgentFlow.Storage.Cache.DefaultTTL = 1 * time.Hour
	}
	if c.AgentFlow.Storage.Cache.CleanInterval <= 0 {
		c.AgentFlow.Storage.Cache.CleanInterval = 30 * time.Minute
	}

	// Execution默认值
	if c.AgentFlow.Execution.DefaultStepTimeout <= 0 {
		c.AgentFlow.Execution.DefaultStepTimeout = 30 * time.Second
	}
	if c.AgentFlow.Execution.WorkerConcurrency <= 0 {
		c.AgentFlow.Execution.WorkerConcurrency = 10
	}
	if c.AgentFlow.Execution.MaxSnapshots <= 0 {
		c.AgentFlow.Execution.MaxSnapshots = 50
	}

	// Recovery默认值
	if c.AgentFlow.Execution.Recovery.Strategy == "" {
		c.AgentFlow.Execution.Recovery.Strategy = "manual"
	}
	if c.AgentFlow.Execution.Recovery.MaxRetries <= 0 {
		c.AgentFlow.Execution.Recovery.MaxRetries = 3
	}
	if c.AgentFlow.Execution.Recovery.RetryDelay < 0 {
		c.AgentFlow.Execution.Recovery.RetryDelay = 0
	}
	if c.AgentFlow.Execution.Recovery.RollbackSteps <= 0 {
		c.AgentFlow.Execution.Recovery.RollbackSteps = 1
	}

	// Server默认值
	if c.AgentFlow.Server.Host == "" {
		c.AgentFlow.Server.Host = "0.0.0.0"
	}
	if c.AgentFlow.Server.Port <= 0 {
		c.AgentFlow.Server.Port = 8080
	}
	if c.AgentFlow.Server.ReadTimeout <= 0 {
		c.AgentFlow.Server.ReadTimeout = 30 * time.Second
	}
	if c.AgentFlow.Server.WriteTimeout <= 0 {
		c.AgentFlow.Server.WriteTimeout = 30 * time.Second
	}

	// Retention默认值
	if c.AgentFlow.Retention.MaxAge <= 0 {
		c.AgentFlow.Retention.MaxAge = 7 * 24 * time.Hour
	}
	if c.AgentFlow.Retention.Cron == "" {
		c.AgentFlow.Retention.Cron = "0 0 * * * *"
	}

	for i := range c.AgentFlow.Workers {
		if c.AgentFlow.Workers[i].Name == "" {
			c.AgentFlow.Workers[i].Name = c.AgentFlow.Workers[i].ID
		}
	}
	for i := range c.AgentFlow.Notifications {
		if c.AgentFlow.Notifications[i].Name == "" {
			c.AgentFlow.Notifications[i].Name = c.AgentFlow.Notifications[i].Type
		}
	}
}

// Package cmd agent-flow命令行
package cmd

import (
	"os"

	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
	logLevel   string
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "agent-flow",
	Short: "Agent Flow CLI - 多Agent工作流编排命令行工具",
	Long: `Agent Flow CLI 用于在本地执行工作流，或管理远端编排服务上的运行。

支持的功能：
  - 本地执行工作流定义文件（sequential / parallel / conditional）
  - 管理运行（提交、查看、暂停、恢复、回滚、恢复失败步骤、终止）
  - 处理审批门（列出、批准、拒绝）
  - 订阅运行事件
  - 启动HTTP API服务

使用示例：
  # 本地执行工作流
  agent-flow run ./examples/workflows/review.yaml -p topic="release notes"

  # 提交到服务端并等待结果
  agent-flow runs submit ./examples/workflows/review.yaml -p topic=changelog --wait

  # 批准待审批步骤
  agent-flow approvals approve <gate-id> --by alice

  # 启动HTTP服务
  agent-flow server start --config ./configs/agent-flow.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.InitWriter(logLevel, "dev", os.Stderr)
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Agent Flow服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "日志级别（debug/info/warn/error/disabled）")

	// 添加子命令
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/agent-flow/pkg/api"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/spf13/cobra"
)

var (
	serverConfigPath string
	serverHost       string
	serverPort       int
)

// serverCmd HTTP服务
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Agent Flow HTTP服务",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动HTTP API服务（前台运行，Ctrl+C停止）",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serverConfigPath)
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.AgentFlow.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.AgentFlow.Server.Port = serverPort
		}

		eng, err := engine.NewEngineBuilder(serverConfigPath).
			WithConfig(cfg).
			WithLogger().
			Build()
		if err != nil {
			output.Error("创建引擎失败: %v", err)
			return err
		}
		if err := eng.Start(context.Background()); err != nil {
			output.Error("启动引擎失败: %v", err)
			return err
		}
		defer eng.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := api.NewAPIServer(eng, cfg.AgentFlow.Server, Version)
		output.Success("Agent Flow Server v%s 监听 %s", Version, srv.Addr())
		if err := srv.Run(ctx); err != nil {
			output.Error("API服务器错误: %v", err)
			return err
		}
		output.Success("服务已停止")
		return nil
	},
}

func init() {
	serverStartCmd.Flags().StringVarP(&serverConfigPath, "config", "c", "./configs/agent-flow.yaml", "配置文件路径")
	serverStartCmd.Flags().StringVarP(&serverHost, "host", "H", "0.0.0.0", "监听地址（覆盖配置）")
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口（覆盖配置）")

	serverCmd.AddCommand(serverStartCmd)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/agent-flow/pkg/api"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/rs/zerolog/log"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数，host/port显式指定时覆盖配置
	configPath := flag.String("config", "./configs/agent-flow.yaml", "引擎配置文件路径")
	host := flag.String("host", "", "监听地址")
	port := flag.Int("port", 0, "监听端口")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("❌ 加载配置失败")
	}
	if *host != "" {
		cfg.AgentFlow.Server.Host = *host
	}
	if *port > 0 {
		cfg.AgentFlow.Server.Port = *port
	}

	// 1. 构建Engine
	eng, err := engine.NewEngineBuilder(*configPath).
		WithConfig(cfg).
		WithLogger().
		Build()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ 创建Engine失败")
	}
	log.Info().Str("version", Version).Str("commit", GitCommit).Str("built", BuildTime).
		Str("config", *configPath).Msg("Agent Flow Server")

	// 2. 启动Engine
	if err := eng.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("❌ 启动Engine失败")
	}

	// 3. 运行API服务器直到收到中断信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewAPIServer(eng, cfg.AgentFlow.Server, Version)
	if err := apiServer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("❌ API服务器错误")
	}

	// 4. 关闭引擎
	eng.Stop()
	log.Info().Msg("✅ 服务已停止")
}

// Package api 基于gin的HTTP API与WebSocket事件推送
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/rs/zerolog"
)

// APIServer HTTP API服务器
type APIServer struct {
	engine  *engine.Engine
	config  config.ServerConfig
	version string
	logger  zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, cfg config.ServerConfig, version string) *APIServer {
	return &APIServer{
		engine:  eng,
		config:  cfg,
		version: version,
		logger:  logger.Component("api"),
	}
}

// Start 启动服务器，阻塞直到Shutdown
func (s *APIServer) Start() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve 在已有listener上提供服务（端口为0时由系统分配）
func (s *APIServer) Serve(ln net.Listener) error {
	return s.serve(s.prepare(ln), ln)
}

// Run 启动服务器直到ctx结束，然后在WriteTimeout内优雅关闭
func (s *APIServer) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	srv := s.prepare(ln)
	errCh := make(chan error, 1)
	go func() { errCh <- s.serve(srv, ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *APIServer) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return nil, fmt.Errorf("server listen failed: %w", err)
	}
	return ln, nil
}

func (s *APIServer) prepare(ln net.Listener) *http.Server {
	srv := &http.Server{
		Handler:      SetupRouter(s.engine, s.version),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()
	return srv
}

func (s *APIServer) serve(srv *http.Server, ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("🚀 Agent Flow API Server starting")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("🛑 Shutting down API Server...")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("✅ API Server stopped")
	return nil
}

// Addr 获取服务器地址，已监听时返回实际地址
func (s *APIServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

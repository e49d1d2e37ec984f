package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/api/handlers"
	"github.com/BaSui01/flowrun/internal/server"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装路由、中间件与 HTTP 生命周期
type Server struct {
	app     *App
	logger  *zap.Logger
	manager *server.Manager

	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler
}

// NewServer 创建服务器；app 必须带数据库装配
func NewServer(app *App) *Server {
	return &Server{app: app, logger: app.logger}
}

// Handler 返回带完整中间件链的根 handler
func (s *Server) Handler() http.Handler {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.registerHealthChecks()

	s.workflowHandler = handlers.NewWorkflowHandler(s.app.store, s.app.newExecutor, s.logger,
		handlers.WithStreamRecorder(s.app.metrics),
		handlers.WithBatchConcurrency(s.app.cfg.Workflow.BatchConcurrency),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.registry, promhttp.HandlerOpts{}))
	s.workflowHandler.Register(mux)

	// MetricsMiddleware 必须紧贴 mux，才能读到 ServeMux 写入的 r.Pattern
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.app.metrics),
	)
}

func (s *Server) registerHealthChecks() {
	if s.app.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.app.pool.Ping))
	}
	if s.app.redis != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.app.redis.Ping))
	}
	if s.app.cfg.Chat.APIKey != "" {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("chat_model", s.app.chat.HealthCheck))
	}
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	s.manager = server.NewManager(s.Handler(), server.FromServerConfig(s.app.cfg.Server), s.logger)
	if err := s.manager.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

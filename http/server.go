// Package http serves the classification API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mailclass/config"
	"mailclass/logging"
	"mailclass/monitoring"
)

// Deps API 依赖，Runs 和 Status 可选
type Deps struct {
	Classifier Classifier
	Runs       RunStore
	// Status serves /ws/status when set.
	Status http.Handler
	// Metrics, when set, records every request and serves /metrics.
	Metrics *monitoring.MetricsCollector
	Logger  *zap.Logger
}

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewRouter 创建路由及中间件
func NewRouter(cfg config.HttpConfig, deps Deps) http.Handler {
	logger := logging.OrNop(deps.Logger)

	r := chi.NewRouter()
	r.Use(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		MetricsMiddleware(deps.Metrics),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		TimeoutMiddleware(cfg.Timeout),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	)

	h := &Handlers{
		classifier: deps.Classifier,
		runs:       deps.Runs,
		metrics:    deps.Metrics,
		logger:     logger,
		started:    time.Now(),
	}
	h.Register(r)
	if deps.Status != nil {
		r.Get("/ws/status", deps.Status.ServeHTTP)
	}
	if deps.Metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			w.Write([]byte(deps.Metrics.ExportPrometheus()))
		})
	}
	return r
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.HttpConfig, deps Deps) *Server {
	writeTimeout := cfg.Timeout
	if writeTimeout > 0 {
		// Leave room for the handler to report its own timeout.
		writeTimeout += 5 * time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, deps),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.OrNop(deps.Logger),
	}
}

// Start 启动服务器，阻塞直到 Stop
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.server.Addr
}

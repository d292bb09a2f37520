package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/api/handlers"
	"github.com/BaSui01/reportflow/config"
	"github.com/BaSui01/reportflow/internal/metrics"
	"github.com/BaSui01/reportflow/internal/server"
	"github.com/BaSui01/reportflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ReportFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 运行时组件
	components *components

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台任务（限流器清理、恢复、过期清扫）的生命周期
	bgCancel context.CancelFunc

	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel

	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("reportflow", s.logger)

	// 2. 装配存储、执行器与路由
	comps, err := buildComponents(bgCtx, s.cfg, s.metricsCollector, s.logger)
	s.components = comps
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 恢复中断的 run，启动过期审批清扫
	s.startBackground(bgCtx)

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
		zap.String("vector_store", s.cfg.Retrieval.VectorStore),
		zap.Bool("llm_configured", s.cfg.LLM.Configured()),
	)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()
	c := s.components

	// ========================================
	// 健康检查端点
	// ========================================
	handlers.NewHealthHandler(
		handlers.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
		s.logger, c.readinessChecks()...,
	).Register(mux)

	// ========================================
	// API 路由
	// ========================================
	handlers.NewRunHandler(c.supervisor, c.bus, s.logger,
		handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins)).Register(mux)
	handlers.NewApprovalHandler(c.approvals, s.logger).Register(mux)
	handlers.NewDocumentHandler(c.indexer, s.logger).Register(mux)
	handlers.NewRecordHandler(c.records, s.logger).Register(mux)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := handlers.HealthPaths
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		StreamShutdown(ctx),
	}
	if s.cfg.Server.JWT.Enabled() {
		chain = append(chain, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	} else if len(s.cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	} else {
		s.logger.Warn("API authentication disabled")
	}
	// 放在认证之后，按用户限流
	chain = append(chain, RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))

	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(Chain(mux, chain...), serverConfig, s.logger)
	s.httpManager.RegisterOnShutdown(s.bgCancel)

	if s.cfg.Server.TLSCertFile != "" {
		if err := s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile); err != nil {
			return err
		}
	} else if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
	)
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🔁 后台任务
// =============================================================================

func (s *Server) startBackground(ctx context.Context) {
	wf := s.cfg.Workflow
	exec := s.components.executor

	if wf.RecoverOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			n, err := exec.Recover(ctx, wf.RecoverConcurrency)
			if err != nil {
				s.logger.Error("run recovery failed", zap.Int("recovered", n), zap.Error(err))
				return
			}
			s.logger.Info("run recovery finished", zap.Int("recovered", n))
		}()
	}

	if wf.ApprovalTTL > 0 && wf.SweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweepLoop(ctx, wf.ApprovalTTL, wf.SweepInterval)
		}()
	}
}

// sweepLoop 定期取消超过 ttl 仍未决策的 run
func (s *Server) sweepLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.components.executor.SweepExpired(ctx, ttl)
			if err != nil {
				s.logger.Warn("approval sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired approvals cancelled", zap.Int("count", n))
			}
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(context.Background())
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台任务与事件流
	if s.bgCancel != nil {
		s.bgCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 等待后台任务退出
	s.wg.Wait()

	// 4. 释放存储连接
	if s.components != nil {
		s.components.close(s.logger)
	}

	// 5. 刷新 trace/metric
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.otel.Shutdown(flushCtx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

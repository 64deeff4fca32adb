package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
	"github.com/kardelitaitu/auto-ai-sub007/ai/cache"
	"github.com/kardelitaitu/auto-ai-sub007/ai/queue"
	"github.com/kardelitaitu/auto-ai-sub007/ai/store"
	"github.com/kardelitaitu/auto-ai-sub007/api/handlers"
	"github.com/kardelitaitu/auto-ai-sub007/config"
	rediscache "github.com/kardelitaitu/auto-ai-sub007/internal/cache"
	"github.com/kardelitaitu/auto-ai-sub007/internal/metrics"
	"github.com/kardelitaitu/auto-ai-sub007/internal/server"
	"github.com/kardelitaitu/auto-ai-sub007/providers"
	"github.com/kardelitaitu/auto-ai-sub007/providers/cloud"
	"github.com/kardelitaitu/auto-ai-sub007/providers/local"
	"github.com/kardelitaitu/auto-ai-sub007/vision"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 编排服务的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager *server.Manager

	// 核心编排器
	orchestrator *ai.Orchestrator

	// Handlers
	processHandler *handlers.ProcessHandler
	healthHandler  *handlers.HealthHandler

	// 指标
	registry  *prometheus.Registry
	collector *metrics.Collector

	// 可选依赖
	redisManager *rediscache.Manager
	requestLog   *store.Store
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.registry = prometheus.NewRegistry()
	s.collector = metrics.NewCollector("orchestrator", s.registry, s.logger)

	// 2. 初始化编排器及其依赖
	if err := s.initOrchestrator(); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}

	// 3. 初始化 Handlers
	s.processHandler = handlers.NewProcessHandler(s.orchestrator, s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.orchestrator, s.logger)

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("cache_enabled", s.redisManager != nil),
		zap.Bool("store_enabled", s.requestLog != nil),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initOrchestrator 组装后端客户端与编排器
func (s *Server) initOrchestrator() error {
	// 本地后端（Ollama 兼容）
	localCfg := providers.LocalConfig{
		BaseURL:     s.cfg.Local.BaseURL,
		TextModel:   s.cfg.Local.TextModel,
		VisionModel: s.cfg.Local.VisionModel,
		Timeout:     s.cfg.Local.Timeout,
	}
	localText := local.NewText(localCfg, s.logger)
	localVision := local.NewVision(localCfg, s.logger)

	// 云端后端（OpenAI 兼容）
	cloudClient := cloud.New(providers.CloudConfig{
		APIKey:            s.cfg.Cloud.APIKey,
		BaseURL:           s.cfg.Cloud.BaseURL,
		Model:             s.cfg.Cloud.Model,
		Timeout:           s.cfg.Cloud.Timeout,
		RequestsPerSecond: s.cfg.Cloud.RequestsPerSecond,
		Burst:             s.cfg.Cloud.Burst,
	}, s.logger)

	// 路由开关：有配置文件时支持文件热刷新，否则用启动时快照
	var source config.SettingsSource
	if s.configPath != "" {
		source = config.FileSource(s.configPath)
	} else {
		source = config.StaticSource(s.cfg.Routing.Settings())
	}
	settings := config.NewSettingsProvider(source, s.cfg.Routing.RefreshInterval, s.logger)

	// Redis 响应缓存（可选，建连失败时降级为无缓存）
	var responseCache *cache.ResponseCache
	if s.cfg.Redis.Enabled {
		redisCfg := rediscache.DefaultConfig()
		redisCfg.Addr = s.cfg.Redis.Addr
		redisCfg.Password = s.cfg.Redis.Password
		redisCfg.DB = s.cfg.Redis.DB
		rm, err := rediscache.NewManager(redisCfg, s.logger)
		if err != nil {
			s.logger.Warn("Response cache not available", zap.Error(err))
		} else {
			s.redisManager = rm
			responseCache = cache.New(rm.Client(), s.cfg.Redis.TTL, s.logger)
		}
	}

	// SQLite 请求日志（可选）
	if s.cfg.Store.Enabled {
		st, err := store.Open(s.cfg.Store.Path, s.logger)
		if err != nil {
			s.logger.Warn("Request log store not available", zap.Error(err))
		} else {
			s.requestLog = st
		}
	}

	orchCfg := ai.OrchestratorConfig{
		Queue: queue.Config{
			MaxConcurrent: s.cfg.Orchestrator.QueueMaxConcurrent,
			MaxQueued:     s.cfg.Orchestrator.QueueMaxQueued,
			MaxAttempts:   1,
		},
		FailureThreshold: s.cfg.Orchestrator.FailureThreshold,
		HalfOpenTime:     s.cfg.Orchestrator.HalfOpenTime,
		CallAttempts:     s.cfg.Orchestrator.CallAttempts,
		Health: ai.HealthConfig{
			MinSamples:           s.cfg.Orchestrator.HealthMinSamples,
			SuccessRateThreshold: s.cfg.Orchestrator.HealthSuccessRate,
		},
		BatchEnabled: s.cfg.Orchestrator.BatchEnabled,
	}
	orchCfg.Batch.BatchSize = s.cfg.Orchestrator.BatchSize
	orchCfg.Batch.BatchDelay = s.cfg.Orchestrator.BatchDelay

	s.orchestrator = ai.NewOrchestrator(orchCfg, ai.Deps{
		Local:         localText,
		LocalVision:   localVision,
		Cloud:         cloudClient,
		Settings:      settings,
		PromptBuilder: vision.NewBuilder(),
		Parser:        vision.NewParser(),
		Cache:         responseCache,
		Store:         s.requestLog,
		Metrics:       s.collector,
	}, s.logger)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/stats", s.healthHandler.HandleStats)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/v1/process", s.processHandler.HandleProcess)

	// ========================================
	// Prometheus 指标
	// ========================================
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 关闭 HTTP 服务器（不再接收新请求）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭编排器（停止批处理窗口与等待队列）
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}

	// 3. 关闭可选依赖
	if s.redisManager != nil {
		if err := s.redisManager.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.requestLog != nil {
		if err := s.requestLog.Close(); err != nil {
			s.logger.Error("Request log close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

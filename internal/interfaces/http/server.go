package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/domain/service"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	"github.com/qwengate/qwengate/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host       string
	Port       int
	Mode       string // debug, release
	TrustProxy bool
}

// Deps 路由依赖
type Deps struct {
	Completions *service.CompletionService
	Sessions    *service.SessionManager
	Models      *service.ModelsCache
	Client      *qwen.Client
	Audit       repository.AuditRepository
	Monitor     *monitoring.Monitor
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	if !cfg.TrustProxy {
		// 默认不信任代理头, 避免伪造 X-Forwarded-For
		_ = router.SetTrustedProxies(nil)
	}

	// 初始化处理器
	chatHandler := handlers.NewChatHandler(deps.Completions, logger)
	modelsHandler := handlers.NewModelsHandler(deps.Models, logger)
	auditHandler := handlers.NewAuditHandler(deps.Sessions, deps.Audit, logger)
	healthHandler := handlers.NewHealthHandler(deps.Client, deps.Sessions, deps.Models, deps.Monitor, logger)

	// 注册路由
	setupRoutes(router, chatHandler, modelsHandler, auditHandler, healthHandler, deps.Monitor)

	// 创建HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
		// 流式响应不能设 WriteTimeout, 读超时防慢请求占连接
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器 (优雅关闭: 先停收新连接, 再等在途请求结束)
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(
	router *gin.Engine,
	chatHandler *handlers.ChatHandler,
	modelsHandler *handlers.ModelsHandler,
	auditHandler *handlers.AuditHandler,
	healthHandler *handlers.HealthHandler,
	monitor *monitoring.Monitor,
) {
	// 健康检查与指标
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))

	// OpenAI-compatible API
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
		v1.GET("/models", modelsHandler.ListModels)
		v1.GET("/models/:id", modelsHandler.GetModel)

		// Audit surface (read-only, plus single-session deletion)
		v1.GET("/sessions", auditHandler.ListSessions)
		v1.GET("/sessions/:id", auditHandler.GetSession)
		v1.DELETE("/sessions/:id", auditHandler.DeleteSession)
		v1.GET("/sessions/:id/stats", auditHandler.GetSessionStats)
		v1.GET("/sessions/:id/requests", auditHandler.ListSessionRequests)

		v1.GET("/requests", auditHandler.ListRequests)
		v1.GET("/requests/:id", auditHandler.GetRequest)
		v1.GET("/requests/:id/response", auditHandler.GetRequestResponse)

		v1.GET("/responses", auditHandler.ListResponses)
		v1.GET("/responses/stats", auditHandler.GetStats)
		v1.GET("/responses/:id", auditHandler.GetResponse)
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/domain/service"
	"github.com/qwengate/qwengate/internal/infrastructure/config"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	"github.com/qwengate/qwengate/internal/infrastructure/persistence"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	httpServer "github.com/qwengate/qwengate/internal/interfaces/http"
)

// App 应用程序 (依赖注入容器)
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	sessionRepo repository.SessionRepository
	auditRepo   repository.AuditRepository

	// 领域服务
	sessionManager *service.SessionManager
	modelsCache    *service.ModelsCache
	completions    *service.CompletionService

	// 基础设施
	qwenClient *qwen.Client
	monitor    *monitoring.Monitor
	httpServer *httpServer.Server
}

// NewApp 创建应用程序
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure ~/.qwengate/ exists with the default config on first run
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	app.initDomainServices()
	app.initInterfaces()

	return app, nil
}

// initRepositories 初始化数据库与仓储层
func (app *App) initRepositories() error {
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return err
	}
	app.db = db

	app.sessionRepo = persistence.NewGormSessionRepository(db)
	app.auditRepo = persistence.NewGormAuditRepository(db)
	return nil
}

// initInfrastructure 初始化上游客户端与监控
func (app *App) initInfrastructure() error {
	app.monitor = monitoring.NewMonitor(app.logger)

	creds, err := qwen.NewCredentials(
		app.config.Upstream.Token,
		app.config.Upstream.Cookie,
		app.config.Upstream.UserAgent,
	)
	if err != nil {
		return err
	}

	app.qwenClient = qwen.NewClient(qwen.Config{
		BaseURL: app.config.Upstream.BaseURL,
		Timeout: app.config.Upstream.Timeout,
		Retry: qwen.RetryPolicy{
			MaxAttempts:  app.config.Upstream.Retry.MaxAttempts,
			InitialDelay: app.config.Upstream.Retry.InitialDelay,
			MaxDelay:     app.config.Upstream.Retry.MaxDelay,
			Multiplier:   app.config.Upstream.Retry.Multiplier,
		},
	}, creds, app.logger)
	app.qwenClient.SetRetryHook(app.monitor.IncUpstreamRetry)

	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() {
	app.sessionManager = service.NewSessionManager(
		app.sessionRepo,
		app.config.Session.Timeout,
		app.config.Session.SweepInterval,
		app.monitor,
		app.logger,
	)

	app.modelsCache = service.NewModelsCache(
		app.qwenClient,
		app.config.Models.CacheTTL,
		app.logger,
	)

	relay := service.NewRelay(app.config.Upstream.Timeout, app.logger)

	app.completions = service.NewCompletionService(
		app.sessionManager,
		app.qwenClient,
		relay,
		app.auditRepo,
		app.monitor,
		app.logger,
		app.config.Upstream.Timeout,
	)
}

// initInterfaces 初始化HTTP接口层
func (app *App) initInterfaces() {
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host:       app.config.Gateway.Host,
			Port:       app.config.Gateway.Port,
			Mode:       app.config.Gateway.Mode,
			TrustProxy: app.config.Gateway.TrustProxy,
		},
		httpServer.Deps{
			Completions: app.completions,
			Sessions:    app.sessionManager,
			Models:      app.modelsCache,
			Client:      app.qwenClient,
			Audit:       app.auditRepo,
			Monitor:     app.monitor,
		},
		app.logger,
	)
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	// 启动会话清扫器
	app.sessionManager.StartSweeper()

	// 启动HTTP服务器
	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.Info("Application started successfully",
		zap.String("host", app.config.Gateway.Host),
		zap.Int("port", app.config.Gateway.Port))
	return nil
}

// Stop 停止应用程序: 先停收新请求并等在途请求排空,
// 再停清扫器, 最后关数据库。
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	// 停止HTTP服务器 (排空在途请求, 含流式)
	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	// 停止会话清扫器
	app.sessionManager.StopSweeper()

	// 关闭数据库连接
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/application"
	"github.com/qwengate/qwengate/internal/infrastructure/config"
	"github.com/qwengate/qwengate/internal/infrastructure/logger"
	"github.com/qwengate/qwengate/internal/infrastructure/persistence"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
)

const (
	appName    = "qwengate"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "QwenGate — OpenAI-compatible gateway for the Qwen chat service",
		Long:  "QwenGate 把 OpenAI Chat Completions API 翻译为上游 Qwen 会话式协议, 维护 parent_id 链并提供审计存储",
		RunE:  runServe,
	}

	// --- Subcommands ---

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动网关服务",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断 (配置 / 凭证 / 数据库 / 上游连通性)",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting QwenGate",
		zap.String("version", appVersion),
	)

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
	return nil
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ QwenGate Doctor v%s\n\n", appVersion)

	cfg, cfgErr := config.Load()

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"配置文件", checkConfigFile},
		{"上游凭证", func() (string, bool) { return checkCredentials(cfg, cfgErr) }},
		{"数据库", func() (string, bool) { return checkDatabase(cfg, cfgErr) }},
		{"上游连通性", func() (string, bool) { return checkUpstream(cfg, cfgErr) }},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfigFile() (string, bool) {
	path := os.Getenv("HOME") + "/.qwengate/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "./config.yaml", true
	}
	return "未找到 ~/.qwengate/config.yaml (仅环境变量)", true
}

func checkCredentials(cfg *config.Config, cfgErr error) (string, bool) {
	if cfgErr != nil {
		return "配置加载失败: " + cfgErr.Error(), false
	}
	if err := cfg.Validate(); err != nil {
		return err.Error(), false
	}
	return "token + cookie 已配置", true
}

func checkDatabase(cfg *config.Config, cfgErr error) (string, bool) {
	if cfgErr != nil {
		return "跳过 (配置加载失败)", false
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return err.Error(), false
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
		err = sqlDB.Ping()
	}
	if err != nil {
		return err.Error(), false
	}
	return fmt.Sprintf("%s 连接正常, 迁移已就绪", cfg.Database.Type), true
}

func checkUpstream(cfg *config.Config, cfgErr error) (string, bool) {
	if cfgErr != nil || cfg.Validate() != nil {
		return "跳过 (凭证缺失)", false
	}

	quiet := zap.NewNop()
	creds, err := qwen.NewCredentials(cfg.Upstream.Token, cfg.Upstream.Cookie, cfg.Upstream.UserAgent)
	if err != nil {
		return err.Error(), false
	}

	client := qwen.NewClient(qwen.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: 15 * time.Second,
		Retry:   qwen.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1},
	}, creds, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		return err.Error(), false
	}
	return fmt.Sprintf("%d 个模型可用", len(models)), true
}

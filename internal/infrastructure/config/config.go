package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Session  SessionConfig  `mapstructure:"session"`
	Models   ModelsConfig   `mapstructure:"models"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// GatewayConfig 网关监听配置
type GatewayConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Mode       string `mapstructure:"mode"`        // local, production
	TrustProxy bool   `mapstructure:"trust_proxy"` // 是否信任 X-Forwarded-* 头
}

// UpstreamConfig 上游 Qwen 服务配置
type UpstreamConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`      // 反爬 token (必填)
	Cookie    string        `mapstructure:"cookie"`     // Cookie blob (必填)
	UserAgent string        `mapstructure:"user_agent"` // 浏览器 UA
	Timeout   time.Duration `mapstructure:"timeout"`    // 单次调用超时

	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig 瞬态失败重试策略 (指数退避)
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`        // 不活跃过期时间
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 过期清理周期
}

// ModelsConfig 模型列表缓存配置
type ModelsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// ─── 分层配置加载 ───
	// 优先级 (低 → 高): 默认值 → 全局 ~/.qwengate/ → 项目本地 → 环境变量
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.qwengate/config.yaml (基础层 — 凭证)
	globalDir := filepath.Join(os.Getenv("HOME"), ".qwengate")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置 (覆盖层)
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖, 如 QWENGATE_UPSTREAM_TOKEN
	v.SetEnvPrefix("QWENGATE")
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Upstream.Token == "" {
		return fmt.Errorf("upstream.token is required (QWENGATE_UPSTREAM_TOKEN)")
	}
	if c.Upstream.Cookie == "" {
		return fmt.Errorf("upstream.cookie is required (QWENGATE_UPSTREAM_COOKIE)")
	}
	return nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Gateway 默认值
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 3000)
	v.SetDefault("gateway.mode", "local")
	v.SetDefault("gateway.trust_proxy", false)

	// Upstream 默认值
	v.SetDefault("upstream.base_url", "https://chat.qwen.ai")
	v.SetDefault("upstream.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("upstream.timeout", "60s")
	v.SetDefault("upstream.retry.max_attempts", 3)
	v.SetDefault("upstream.retry.initial_delay", "1s")
	v.SetDefault("upstream.retry.max_delay", "10s")
	v.SetDefault("upstream.retry.multiplier", 2.0)

	// Session 默认值
	v.SetDefault("session.timeout", "30m")
	v.SetDefault("session.sweep_interval", "10m")

	// Models 缓存默认值
	v.SetDefault("models.cache_ttl", "1h")

	// Database 默认值
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "qwengate.db")

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvKeys 显式绑定嵌套键, AutomaticEnv 对嵌套 mapstructure 不可靠
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"gateway.host", "gateway.port", "gateway.mode", "gateway.trust_proxy",
		"upstream.base_url", "upstream.token", "upstream.cookie",
		"upstream.user_agent", "upstream.timeout",
		"upstream.retry.max_attempts", "upstream.retry.initial_delay",
		"upstream.retry.max_delay", "upstream.retry.multiplier",
		"session.timeout", "session.sweep_interval",
		"models.cache_ttl",
		"database.type", "database.dsn",
		"log.level", "log.format",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "qwengate"

// HomeDir returns the user's QwenGate configuration home: ~/.qwengate
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.qwengate directory exists with the default config.
// Called once at startup. Safe to call multiple times — only creates missing items.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Only written when absent — never overwrite user edits.
	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("QwenGate home directory OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0600); err != nil {
		logger.Warn("Failed to write default config", zap.String("path", configPath), zap.Error(err))
		return nil
	}

	logger.Info("QwenGate bootstrap complete",
		zap.String("home", root),
		zap.String("config", configPath),
	)
	return nil
}

// ──────────────────────────────────────────────────────────────
// Embedded default config
// ──────────────────────────────────────────────────────────────

const defaultConfig = `# ═══════════════════════════════════════════════════════════════
# QwenGate Configuration / QwenGate 配置文件
# Auto-generated on first launch — feel free to edit
# 首次启动自动生成 — 可自由编辑
# ═══════════════════════════════════════════════════════════════

# ─── Gateway Server / 网关服务 ────────────────────────────────
# OpenAI-compatible HTTP API listener.
# OpenAI 兼容 HTTP API 监听地址。
gateway:
  host: 0.0.0.0
  port: 3000
  mode: local                  # local | production
  trust_proxy: false           # Trust X-Forwarded-* headers / 是否信任代理头

# ─── Upstream Qwen Service / 上游 Qwen 服务 ──────────────────
# Credentials captured from an authenticated browser session.
# Both token and cookie are REQUIRED — the gateway refuses to start without them.
# 从已登录的浏览器会话抓取。token 与 cookie 均为必填。
upstream:
  base_url: "https://chat.qwen.ai"
  token: ""                    # Anti-bot token / 反爬 token (必填)
  cookie: ""                   # Cookie blob / Cookie 串 (必填)
  user_agent: ""               # Leave empty for the built-in Chrome UA / 留空使用内置 UA
  timeout: 60s                 # Per-call timeout / 单次调用超时
  retry:
    max_attempts: 3            # Total attempts / 总尝试次数
    initial_delay: 1s          # First backoff / 首次退避
    max_delay: 10s             # Backoff cap / 退避上限
    multiplier: 2.0            # Exponential factor / 指数因子

# ─── Sessions / 会话 ─────────────────────────────────────────
# Conversation fingerprint → upstream chat mapping.
# 对话指纹到上游 chat 的映射。
session:
  timeout: 30m                 # Idle expiry / 不活跃过期时间
  sweep_interval: 10m          # Expiry sweep period / 过期清理周期

# ─── Model Catalog Cache / 模型列表缓存 ──────────────────────
models:
  cache_ttl: 1h

# ─── Database / 数据库 ───────────────────────────────────────
# Session store and audit log.
# 会话存储与审计日志。
database:
  type: sqlite                 # sqlite | postgres
  dsn: qwengate.db             # File path (sqlite) or connection string (postgres)

# ─── Logging / 日志 ──────────────────────────────────────────
log:
  level: info                  # debug | info | warn | error
  format: json                 # console | json
`

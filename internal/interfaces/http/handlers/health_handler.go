package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/service"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
)

// HealthHandler serves liveness and operational detail.
type HealthHandler struct {
	client   *qwen.Client
	sessions *service.SessionManager
	models   *service.ModelsCache
	monitor  *monitoring.Monitor
	logger   *zap.Logger
	started  time.Time
}

// NewHealthHandler creates the handler.
func NewHealthHandler(
	client *qwen.Client,
	sessions *service.SessionManager,
	models *service.ModelsCache,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		client:   client,
		sessions: sessions,
		models:   models,
		monitor:  monitor,
		logger:   logger,
		started:  time.Now(),
	}
}

// Health handles GET /health. Degraded means the gateway is up but the
// upstream circuit is open (credentials dead or upstream unreachable).
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	breakerState := h.client.Breaker().State()
	if breakerState == qwen.CircuitOpen {
		status = "degraded"
	}

	liveSessions, err := h.sessions.CountLive(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to count live sessions", zap.Error(err))
		liveSessions = -1
	}

	var modelsFetchedAt int64
	if t := h.models.FetchedAt(); !t.IsZero() {
		modelsFetchedAt = t.Unix()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"uptime_s": int64(time.Since(h.started).Seconds()),
		"checks": gin.H{
			"auth": gin.H{
				"token_preview": h.client.Credentials().TokenPreview(),
				"cookie_loaded": h.client.Credentials().CookiePreview() != "",
				"circuit_state": breakerState.String(),
			},
			"sessions": gin.H{
				"live": liveSessions,
			},
			"models_cache": gin.H{
				"fetched_at": modelsFetchedAt,
			},
		},
		"metrics": h.monitor.GetStats(),
	})
}

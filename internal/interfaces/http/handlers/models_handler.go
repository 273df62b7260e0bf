package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/service"
)

// ModelsHandler serves the OpenAI-compatible model catalog.
type ModelsHandler struct {
	cache  *service.ModelsCache
	logger *zap.Logger
}

// NewModelsHandler creates the handler.
func NewModelsHandler(cache *service.ModelsCache, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		cache:  cache,
		logger: logger,
	}
}

// ListModels handles GET /v1/models.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	models, err := h.cache.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}

// GetModel handles GET /v1/models/:id.
func (h *ModelsHandler) GetModel(c *gin.Context) {
	model, err := h.cache.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/service"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// ChatHandler serves the OpenAI-compatible completion endpoint.
type ChatHandler struct {
	completions *service.CompletionService
	logger      *zap.Logger
}

// NewChatHandler creates the handler.
func NewChatHandler(completions *service.CompletionService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		completions: completions,
		logger:      logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions. The raw body is kept
// verbatim for the audit trail; `stream` selects the SSE path.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 10*1024*1024))
	if err != nil {
		writeError(c, h.logger, domainErrors.NewInvalidRequest("failed to read request body", ""))
		return
	}

	var req entity.ChatCompletionRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeError(c, h.logger, domainErrors.NewInvalidRequest("malformed JSON body: "+err.Error(), ""))
		return
	}
	if req.Model == "" {
		writeError(c, h.logger, domainErrors.NewInvalidRequest("model is required", "model"))
		return
	}

	if req.Stream {
		// Errors before the first byte still get a JSON envelope; after
		// that they travel inside the SSE channel.
		if err := h.completions.Stream(c.Request.Context(), &req, rawBody, c.Writer); err != nil {
			writeError(c, h.logger, err)
		}
		return
	}

	completion, err := h.completions.Complete(c.Request.Context(), &req, rawBody)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

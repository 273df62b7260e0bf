package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/domain/service"
)

// AuditHandler serves the read-only audit surface plus single-session
// deletion. Everything here reads the append-only request/response log and
// the session table; nothing mutates audit rows.
type AuditHandler struct {
	sessions *service.SessionManager
	audit    repository.AuditRepository
	logger   *zap.Logger
}

// NewAuditHandler creates the handler.
func NewAuditHandler(sessions *service.SessionManager, audit repository.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		sessions: sessions,
		audit:    audit,
		logger:   logger,
	}
}

// sessionView is the JSON shape of one session.
type sessionView struct {
	ID               string  `json:"id"`
	UpstreamChatID   string  `json:"upstream_chat_id"`
	ParentID         *string `json:"parent_id"`
	FirstUserMessage string  `json:"first_user_message"`
	MessageCount     int     `json:"message_count"`
	CreatedAt        int64   `json:"created_at"`
	LastAccessed     int64   `json:"last_accessed"`
	ExpiresAt        int64   `json:"expires_at"`
}

func toSessionView(s *entity.Session) sessionView {
	return sessionView{
		ID:               s.ID,
		UpstreamChatID:   s.UpstreamChatID,
		ParentID:         s.ParentID,
		FirstUserMessage: s.FirstUserMessage,
		MessageCount:     s.MessageCount,
		CreatedAt:        s.CreatedAt,
		LastAccessed:     s.LastAccessed,
		ExpiresAt:        s.ExpiresAt,
	}
}

// requestView is the JSON shape of one request record. Body columns are
// emitted as parsed JSON, not re-stringified.
type requestView struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Timestamp    int64           `json:"timestamp"`
	Model        string          `json:"model"`
	Stream       bool            `json:"stream"`
	InboundBody  json.RawMessage `json:"inbound_body,omitempty"`
	UpstreamBody json.RawMessage `json:"upstream_body,omitempty"`
}

func toRequestView(r *entity.RequestRecord) requestView {
	return requestView{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Timestamp:    r.Timestamp,
		Model:        r.Model,
		Stream:       r.Stream,
		InboundBody:  rawBody(r.InboundBody),
		UpstreamBody: rawBody(r.UpstreamBody),
	}
}

func toRequestViews(records []*entity.RequestRecord) []requestView {
	views := make([]requestView, 0, len(records))
	for _, r := range records {
		views = append(views, toRequestView(r))
	}
	return views
}

// responseView is the JSON shape of one response record.
type responseView struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id,omitempty"`
	SessionID        string          `json:"session_id"`
	Timestamp        int64           `json:"timestamp"`
	UpstreamBody     json.RawMessage `json:"upstream_body,omitempty"`
	OutboundBody     json.RawMessage `json:"outbound_body,omitempty"`
	ParentID         string          `json:"parent_id,omitempty"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	FinishReason     string          `json:"finish_reason"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	DurationMs       int64           `json:"duration_ms"`
}

func toResponseView(r *entity.ResponseRecord) responseView {
	return responseView{
		ID:               r.ID,
		RequestID:        r.RequestID,
		SessionID:        r.SessionID,
		Timestamp:        r.Timestamp,
		UpstreamBody:     rawBody(r.UpstreamBody),
		OutboundBody:     rawBody(r.OutboundBody),
		ParentID:         r.ParentID,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		FinishReason:     r.FinishReason,
		ErrorMessage:     r.ErrorMessage,
		DurationMs:       r.DurationMs,
	}
}

func toResponseViews(records []*entity.ResponseRecord) []responseView {
	views := make([]responseView, 0, len(records))
	for _, r := range records {
		views = append(views, toResponseView(r))
	}
	return views
}

// rawBody embeds a stored body column as-is when it is valid JSON, quoting it
// only as a fallback for malformed rows.
func rawBody(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return quoted
}

// ListSessions handles GET /v1/sessions.
func (h *AuditHandler) ListSessions(c *gin.Context) {
	limit, offset := pagination(c)
	sessions, total, err := h.sessions.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetSession handles GET /v1/sessions/:id.
func (h *AuditHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}

// DeleteSession handles DELETE /v1/sessions/:id. The cascade removes the
// session's audit rows as well.
func (h *AuditHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSessionStats handles GET /v1/sessions/:id/stats.
func (h *AuditHandler) GetSessionStats(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}

	stats, err := h.audit.Stats(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListSessionRequests handles GET /v1/sessions/:id/requests.
func (h *AuditHandler) ListSessionRequests(c *gin.Context) {
	limit, offset := pagination(c)
	filter := repository.RequestFilter{
		SessionID: c.Param("id"),
		Limit:     limit,
		Offset:    offset,
	}

	records, total, err := h.audit.ListRequests(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   toRequestViews(records),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListRequests handles GET /v1/requests with optional session_id, model,
// start_date/end_date timestamp filters.
func (h *AuditHandler) ListRequests(c *gin.Context) {
	limit, offset := pagination(c)
	filter := repository.RequestFilter{
		SessionID: c.Query("session_id"),
		Model:     c.Query("model"),
		StartDate: int64(intQuery(c, "start_date", 0)),
		EndDate:   int64(intQuery(c, "end_date", 0)),
		Limit:     limit,
		Offset:    offset,
	}

	records, total, err := h.audit.ListRequests(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   toRequestViews(records),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRequest handles GET /v1/requests/:id.
func (h *AuditHandler) GetRequest(c *gin.Context) {
	record, err := h.audit.FindRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toRequestView(record))
}

// GetRequestResponse handles GET /v1/requests/:id/response.
func (h *AuditHandler) GetRequestResponse(c *gin.Context) {
	record, err := h.audit.FindResponseForRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponseView(record))
}

// ListResponses handles GET /v1/responses with optional session_id filter.
func (h *AuditHandler) ListResponses(c *gin.Context) {
	limit, offset := pagination(c)
	records, total, err := h.audit.ListResponses(c.Request.Context(), c.Query("session_id"), limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   toResponseViews(records),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetResponse handles GET /v1/responses/:id.
func (h *AuditHandler) GetResponse(c *gin.Context) {
	record, err := h.audit.FindResponse(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toResponseView(record))
}

// GetStats handles GET /v1/responses/stats, globally or for one session via
// the session_id query param.
func (h *AuditHandler) GetStats(c *gin.Context) {
	stats, err := h.audit.Stats(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

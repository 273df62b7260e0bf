package qwen

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"go.uber.org/zap"
)

// RetryPolicy exponential backoff for transient failures only.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy mirrors the upstream contract: 3 attempts total,
// 1s initial, 2x multiplier, 10s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Client performs the three upstream operations: list models, create chat,
// send message (streaming or blocking). It owns the retry/backoff policy and
// a circuit breaker that stops hammering the anti-bot wall once the cookie
// is dead.
type Client struct {
	baseURL string
	creds   *Credentials
	client  *http.Client
	retry   RetryPolicy
	breaker *CircuitBreaker
	onRetry func()
	logger  *zap.Logger
}

// Config client construction parameters
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryPolicy
}

// NewClient creates the upstream client. Timeouts apply to connect and
// response headers; a streaming body read is bounded separately by the
// FrameReader idle timeout.
func NewClient(cfg Config, creds *Credentials, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://chat.qwen.ai"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Transport: transport},
		retry:   retry,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  logger.With(zap.String("component", "qwen_client")),
	}
}

// Credentials exposes the holder for diagnostics endpoints.
func (c *Client) Credentials() *Credentials { return c.creds }

// Breaker exposes the circuit state for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// SetRetryHook registers a callback fired once per retry attempt.
func (c *Client) SetRetryHook(fn func()) { c.onRetry = fn }

// ListModels fetches the native model list (GET /api/models).
func (c *Client) ListModels(ctx context.Context) ([]entity.ModelEntry, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/api/models", nil)
	if err != nil {
		return nil, err
	}

	var list ModelListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &UpstreamError{Tag: TagSemanticError, Message: "malformed model list", Err: err}
	}

	entries := make([]entity.ModelEntry, 0, len(list.Data))
	for _, item := range list.Data {
		entries = append(entries, item.ToEntry())
	}
	return entries, nil
}

// CreateChat creates a fresh upstream chat and returns its id
// (POST /api/v2/chats/new).
func (c *Client) CreateChat(ctx context.Context, title string, models []string) (string, error) {
	req := NewChatRequest{
		Title:     title,
		Models:    models,
		ChatMode:  "guest",
		ChatType:  "t2t",
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", &UpstreamError{Tag: TagSemanticError, Message: "marshal new chat request", Err: err}
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/api/v2/chats/new", payload)
	if err != nil {
		return "", err
	}

	var resp NewChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &UpstreamError{Tag: TagSemanticError, Message: "malformed new chat response", Err: err}
	}
	if resp.Data.ID == "" {
		return "", &UpstreamError{Tag: TagSemanticError, Message: "upstream returned no chat id"}
	}

	c.logger.Debug("Created upstream chat", zap.String("chat_id", resp.Data.ID))
	return resp.Data.ID, nil
}

// SendMessage posts one envelope in blocking mode and decodes the reply.
func (c *Client) SendMessage(ctx context.Context, env *Envelope) (*BlockingReply, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &UpstreamError{Tag: TagSemanticError, Message: "marshal envelope", Err: err}
	}

	path := "/api/v2/chat/completions?chat_id=" + url.QueryEscape(env.ChatID)
	body, err := c.doJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}

	var reply BlockingReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &UpstreamError{Tag: TagSemanticError, Message: "malformed completion reply", Err: err}
	}
	if reply.Success != nil && !*reply.Success {
		return nil, c.semanticError(http.StatusOK, body)
	}
	return &reply, nil
}

// OpenStream posts one envelope in streaming mode and returns the open SSE
// body positioned at the start. The caller owns closing it; closing early
// aborts the upstream read.
func (c *Client) OpenStream(ctx context.Context, env *Envelope) (io.ReadCloser, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &UpstreamError{Tag: TagSemanticError, Message: "marshal envelope", Err: err}
	}

	path := "/api/v2/chat/completions?chat_id=" + url.QueryEscape(env.ChatID)

	var body io.ReadCloser
	err = c.withRetry(ctx, "open_stream", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return &UpstreamError{Tag: TagSemanticError, Message: "create request", Err: err}
		}
		c.creds.Apply(req)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.client.Do(req)
		if err != nil {
			return classifyTransportErr(err)
		}

		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return c.classifyStatus(resp.StatusCode, raw)
		}

		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// --- internals ---

// doJSON performs a blocking call with retry and returns the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, method+" "+path, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &UpstreamError{Tag: TagSemanticError, Message: "create request", Err: err}
		}
		c.creds.Apply(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return classifyTransportErr(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UpstreamError{Tag: TagTransient, Message: "read response body", Err: err}
		}

		if resp.StatusCode != http.StatusOK {
			return c.classifyStatus(resp.StatusCode, raw)
		}
		if looksLikeAuthChallenge(raw) {
			return &UpstreamError{Tag: TagAuthChallenge, Status: resp.StatusCode, Message: "anti-bot challenge received"}
		}

		out = raw
		return nil
	})
	return out, err
}

// withRetry runs fn under the circuit breaker and the backoff policy.
// Retries apply to transient failures only; auth challenges and semantic
// errors surface immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	if !c.breaker.Allow() {
		return &UpstreamError{Tag: TagTransient, Message: "circuit open: upstream considered unavailable"}
	}

	delay := c.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		ue, ok := err.(*UpstreamError)
		if !ok || !ue.Retryable() {
			if ok && ue.Tag == TagAuthChallenge {
				// A dead cookie fails every call; trip the breaker now.
				c.breaker.Trip()
				c.logger.Error("Upstream auth challenge — credentials expired",
					zap.String("op", op))
			} else {
				c.breaker.RecordFailure()
			}
			return err
		}

		c.breaker.RecordFailure()
		if attempt == c.retry.MaxAttempts {
			break
		}

		if c.onRetry != nil {
			c.onRetry()
		}
		c.logger.Warn("Upstream call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return &UpstreamError{Tag: TagTimeout, Message: "context cancelled during backoff", Err: ctx.Err()}
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * c.retry.Multiplier)
		if delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}

	return lastErr
}

// classifyStatus maps a non-200 response onto the failure taxonomy.
func (c *Client) classifyStatus(status int, body []byte) *UpstreamError {
	switch {
	case looksLikeAuthChallenge(body) || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &UpstreamError{Tag: TagAuthChallenge, Status: status, Message: "anti-bot challenge received"}
	case status == http.StatusTooManyRequests:
		return &UpstreamError{Tag: TagUpstreamStatus, Status: status, Message: "rate limited"}
	case status >= 500:
		return &UpstreamError{Tag: TagTransient, Status: status, Message: fmt.Sprintf("upstream returned %d", status)}
	default:
		return c.semanticError(status, body)
	}
}

// semanticError extracts a coherent upstream-reported error message.
func (c *Client) semanticError(status int, body []byte) *UpstreamError {
	message := extractErrorMessage(body)
	if looksLikeInvalidParent(message) {
		return &UpstreamError{Tag: TagInvalidParent, Status: status, Message: message}
	}
	return &UpstreamError{Tag: TagSemanticError, Status: status, Message: message}
}

// classifyTransportErr distinguishes timeouts from other network failures.
func classifyTransportErr(err error) *UpstreamError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Tag: TagTimeout, Message: "upstream call timed out", Err: err}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return &UpstreamError{Tag: TagTimeout, Message: "upstream call timed out", Err: err}
	}
	return &UpstreamError{Tag: TagTransient, Message: "upstream network error", Err: err}
}

// extractErrorMessage digs a human-readable message out of an error body.
func extractErrorMessage(body []byte) string {
	var probe struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Data    struct {
			Code    string `json:"code"`
			Details string `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		switch e := probe.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if probe.Message != "" {
			return probe.Message
		}
		if probe.Detail != "" {
			return probe.Detail
		}
		if probe.Data.Details != "" {
			return probe.Data.Details
		}
		if probe.Data.Code != "" {
			return probe.Data.Code
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200] + "..."
	}
	if trimmed == "" {
		return "upstream error"
	}
	return trimmed
}

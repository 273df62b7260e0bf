package qwen

import (
	"fmt"
	"strings"

	"github.com/qwengate/qwengate/pkg/errors"
)

// FailureTag classifies an upstream failure so the orchestrator can route it.
type FailureTag string

const (
	TagTransient      FailureTag = "transient"       // network error, reset, 5xx
	TagUpstreamStatus FailureTag = "upstream_status" // non-retryable 4xx
	TagAuthChallenge  FailureTag = "auth_challenge"  // HTML anti-bot wall / auth failure
	TagInvalidParent  FailureTag = "invalid_parent"  // upstream rejected the parent pointer
	TagSemanticError  FailureTag = "semantic_error"  // coherent upstream-reported error
	TagTimeout        FailureTag = "timeout"         // per-call deadline exceeded
)

// UpstreamError is the tagged variant every client operation surfaces.
type UpstreamError struct {
	Tag     FailureTag
	Status  int // HTTP status when applicable, 0 otherwise
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Tag, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Tag, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry/backoff policy applies.
// Only transient failures and timeouts retry; auth challenges and
// semantic errors never do.
func (e *UpstreamError) Retryable() bool {
	return e.Tag == TagTransient || e.Tag == TagTimeout
}

// AppError maps the tag onto the gateway error taxonomy.
func (e *UpstreamError) AppError() *errors.AppError {
	switch e.Tag {
	case TagAuthChallenge:
		return errors.Wrap(errors.KindAuthError, "upstream authentication failed (token or cookie expired)", e)
	case TagInvalidParent, TagSemanticError:
		return errors.Wrap(errors.KindUpstreamSemantic, e.Message, e)
	case TagUpstreamStatus:
		if e.Status == 429 {
			return errors.Wrap(errors.KindRateLimited, "upstream rate limited", e)
		}
		return errors.Wrap(errors.KindUpstreamSemantic, e.Message, e)
	default:
		return errors.Wrap(errors.KindUpstreamTransient, e.Message, e)
	}
}

// looksLikeAuthChallenge detects the anti-bot HTML challenge body.
func looksLikeAuthChallenge(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<html") ||
		strings.Contains(head, "captcha")
}

// looksLikeInvalidParent recognizes the parent-pointer rejection message.
func looksLikeInvalidParent(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "parent_id") &&
		(strings.Contains(m, "not exist") || strings.Contains(m, "invalid"))
}

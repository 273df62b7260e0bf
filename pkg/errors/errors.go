package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindNotFound          ErrorKind = "not_found"
	KindAuthError         ErrorKind = "auth_error"
	KindRateLimited       ErrorKind = "rate_limited"
	KindUpstreamSemantic  ErrorKind = "upstream_semantic"
	KindUpstreamTransient ErrorKind = "upstream_transient"
	KindInternal          ErrorKind = "internal"
)

// AppError 应用错误, 携带错误类别和可选的底层原因
type AppError struct {
	Kind    ErrorKind
	Message string
	Param   string // 可选, 出错的请求字段
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建指定类别的错误
func New(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap 创建指定类别的错误并保留底层原因
func Wrap(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: cause}
}

// NewInvalidRequest 创建请求校验错误
func NewInvalidRequest(message, param string) *AppError {
	return &AppError{Kind: KindInvalidRequest, Message: message, Param: param}
}

// NewNotFound 创建未找到错误
func NewNotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

// NewInternal 创建内部错误
func NewInternal(message string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf 提取错误类别, 非 AppError 一律视为 internal
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// AsApp 尝试把任意 error 转为 AppError
func AsApp(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// HTTPStatus 错误类别到 HTTP 状态码的映射
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthError:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamSemantic:
		return http.StatusBadRequest
	case KindUpstreamTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// OpenAIType 错误类别到 OpenAI error.type 的映射
func (k ErrorKind) OpenAIType() string {
	switch k {
	case KindInvalidRequest, KindNotFound, KindUpstreamSemantic:
		return "invalid_request_error"
	case KindAuthError:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

// OpenAICode 错误类别到 OpenAI error.code 的映射
func (k ErrorKind) OpenAICode() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindAuthError:
		return "invalid_api_key"
	case KindRateLimited:
		return "rate_limit_exceeded"
	case KindUpstreamSemantic:
		return "upstream_error"
	case KindUpstreamTransient:
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}

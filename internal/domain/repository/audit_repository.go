package repository

import (
	"context"

	"github.com/qwengate/qwengate/internal/domain/entity"
)

// RequestFilter 请求记录查询条件
type RequestFilter struct {
	SessionID string
	Model     string
	StartDate int64 // ms since epoch, 0 = 不限
	EndDate   int64
	Limit     int
	Offset    int
}

// UsageStats 聚合用量统计
type UsageStats struct {
	RequestCount     int64   `json:"request_count"`
	ResponseCount    int64   `json:"response_count"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	ErrorCount       int64   `json:"error_count"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
}

// AuditRepository 审计仓储: 请求/响应记录的追加与只读查询
type AuditRepository interface {
	// LogRequest 追加请求记录, 返回带主键的记录
	LogRequest(ctx context.Context, rec *entity.RequestRecord) error

	// LogResponse 追加响应记录
	LogResponse(ctx context.Context, rec *entity.ResponseRecord) error

	// FindRequest 根据 uuid 查找请求记录
	FindRequest(ctx context.Context, id string) (*entity.RequestRecord, error)

	// ListRequests 按条件分页查询请求记录
	ListRequests(ctx context.Context, filter RequestFilter) ([]*entity.RequestRecord, int64, error)

	// FindResponse 根据 uuid 查找响应记录
	FindResponse(ctx context.Context, id string) (*entity.ResponseRecord, error)

	// ListResponses 分页查询响应记录
	ListResponses(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ResponseRecord, int64, error)

	// FindResponseForRequest 查找某请求对应的响应
	FindResponseForRequest(ctx context.Context, requestID string) (*entity.ResponseRecord, error)

	// Stats 聚合用量统计; sessionID 为空表示全局
	Stats(ctx context.Context, sessionID string) (*UsageStats, error)
}

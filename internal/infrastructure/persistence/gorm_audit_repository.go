package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/infrastructure/persistence/models"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// GormAuditRepository GORM 实现的审计仓储
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository 创建 GORM 审计仓储
func NewGormAuditRepository(db *gorm.DB) repository.AuditRepository {
	return &GormAuditRepository{
		db: db,
	}
}

// LogRequest 追加请求记录, 回填主键
func (r *GormAuditRepository) LogRequest(ctx context.Context, rec *entity.RequestRecord) error {
	model := &models.RequestModel{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		Timestamp:    rec.Timestamp,
		Model:        rec.Model,
		Stream:       rec.Stream,
		InboundBody:  rec.InboundBody,
		UpstreamBody: rec.UpstreamBody,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternal("failed to log request", err)
	}
	rec.PK = model.PK
	return nil
}

// LogResponse 追加响应记录
func (r *GormAuditRepository) LogResponse(ctx context.Context, rec *entity.ResponseRecord) error {
	model := &models.ResponseModel{
		ID:               rec.ID,
		RequestPK:        rec.RequestPK,
		RequestID:        rec.RequestID,
		SessionID:        rec.SessionID,
		Timestamp:        rec.Timestamp,
		UpstreamBody:     nilIfEmpty(rec.UpstreamBody),
		OutboundBody:     rec.OutboundBody,
		ParentID:         rec.ParentID,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		FinishReason:     rec.FinishReason,
		ErrorMessage:     nilIfEmpty(rec.ErrorMessage),
		DurationMs:       rec.DurationMs,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternal("failed to log response", err)
	}
	rec.PK = model.PK
	return nil
}

// FindRequest 根据 uuid 查找请求记录
func (r *GormAuditRepository) FindRequest(ctx context.Context, id string) (*entity.RequestRecord, error) {
	var model models.RequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFound("request not found")
		}
		return nil, domainErrors.NewInternal("failed to find request", err)
	}
	return toRequestEntity(&model), nil
}

// ListRequests 按条件分页查询请求记录
func (r *GormAuditRepository) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]*entity.RequestRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.RequestModel{})
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Model != "" {
		q = q.Where("model = ?", filter.Model)
	}
	if filter.StartDate > 0 {
		q = q.Where("timestamp >= ?", filter.StartDate)
	}
	if filter.EndDate > 0 {
		q = q.Where("timestamp <= ?", filter.EndDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternal("failed to count requests", err)
	}

	var rows []models.RequestModel
	err := q.Order("timestamp desc").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternal("failed to list requests", err)
	}

	records := make([]*entity.RequestRecord, 0, len(rows))
	for i := range rows {
		records = append(records, toRequestEntity(&rows[i]))
	}
	return records, total, nil
}

// FindResponse 根据 uuid 查找响应记录
func (r *GormAuditRepository) FindResponse(ctx context.Context, id string) (*entity.ResponseRecord, error) {
	var model models.ResponseModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFound("response not found")
		}
		return nil, domainErrors.NewInternal("failed to find response", err)
	}
	return toResponseEntity(&model), nil
}

// ListResponses 分页查询响应记录
func (r *GormAuditRepository) ListResponses(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ResponseRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ResponseModel{})
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternal("failed to count responses", err)
	}

	var rows []models.ResponseModel
	err := q.Order("timestamp desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternal("failed to list responses", err)
	}

	records := make([]*entity.ResponseRecord, 0, len(rows))
	for i := range rows {
		records = append(records, toResponseEntity(&rows[i]))
	}
	return records, total, nil
}

// FindResponseForRequest 查找某请求对应的响应
func (r *GormAuditRepository) FindResponseForRequest(ctx context.Context, requestID string) (*entity.ResponseRecord, error) {
	var model models.ResponseModel
	if err := r.db.WithContext(ctx).First(&model, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFound("response not found for request")
		}
		return nil, domainErrors.NewInternal("failed to find response", err)
	}
	return toResponseEntity(&model), nil
}

// Stats 聚合用量统计; sessionID 为空表示全局
func (r *GormAuditRepository) Stats(ctx context.Context, sessionID string) (*repository.UsageStats, error) {
	stats := &repository.UsageStats{}

	reqQ := r.db.WithContext(ctx).Model(&models.RequestModel{})
	respQ := r.db.WithContext(ctx).Model(&models.ResponseModel{})
	if sessionID != "" {
		reqQ = reqQ.Where("session_id = ?", sessionID)
		respQ = respQ.Where("session_id = ?", sessionID)
	}

	if err := reqQ.Count(&stats.RequestCount).Error; err != nil {
		return nil, domainErrors.NewInternal("failed to count requests", err)
	}

	type aggRow struct {
		ResponseCount    int64
		PromptTokens     int64
		CompletionTokens int64
		TotalTokens      int64
		ErrorCount       int64
		AvgDurationMs    float64
	}
	var agg aggRow
	err := respQ.
		Select(`count(*) as response_count,
			coalesce(sum(prompt_tokens), 0) as prompt_tokens,
			coalesce(sum(completion_tokens), 0) as completion_tokens,
			coalesce(sum(total_tokens), 0) as total_tokens,
			coalesce(sum(case when error_message is not null then 1 else 0 end), 0) as error_count,
			coalesce(avg(duration_ms), 0) as avg_duration_ms`).
		Scan(&agg).Error
	if err != nil {
		return nil, domainErrors.NewInternal("failed to aggregate usage", err)
	}

	stats.ResponseCount = agg.ResponseCount
	stats.PromptTokens = agg.PromptTokens
	stats.CompletionTokens = agg.CompletionTokens
	stats.TotalTokens = agg.TotalTokens
	stats.ErrorCount = agg.ErrorCount
	stats.AvgDurationMs = agg.AvgDurationMs
	return stats, nil
}

// 转换方法

func toRequestEntity(m *models.RequestModel) *entity.RequestRecord {
	return &entity.RequestRecord{
		PK:           m.PK,
		ID:           m.ID,
		SessionID:    m.SessionID,
		Timestamp:    m.Timestamp,
		Model:        m.Model,
		Stream:       m.Stream,
		InboundBody:  m.InboundBody,
		UpstreamBody: m.UpstreamBody,
	}
}

func toResponseEntity(m *models.ResponseModel) *entity.ResponseRecord {
	return &entity.ResponseRecord{
		PK:               m.PK,
		ID:               m.ID,
		RequestPK:        m.RequestPK,
		RequestID:        m.RequestID,
		SessionID:        m.SessionID,
		Timestamp:        m.Timestamp,
		UpstreamBody:     deref(m.UpstreamBody),
		OutboundBody:     m.OutboundBody,
		ParentID:         m.ParentID,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		FinishReason:     m.FinishReason,
		ErrorMessage:     deref(m.ErrorMessage),
		DurationMs:       m.DurationMs,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

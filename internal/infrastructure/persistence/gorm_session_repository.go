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

// GormSessionRepository GORM 实现的会话仓储
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓储
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{
		db: db,
	}
}

// FindByID 根据指纹查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFound("session not found")
		}
		return nil, domainErrors.NewInternal("failed to find session", err)
	}

	return toSessionEntity(&model), nil
}

// Create 创建会话; 主键冲突 (同指纹并发创建) 返回 ErrDuplicateSession
func (r *GormSessionRepository) Create(ctx context.Context, session *entity.Session) error {
	model := toSessionModel(session)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrDuplicateSession
		}
		return domainErrors.NewInternal("failed to create session", err)
	}
	return nil
}

// Save 持久化游标推进
func (r *GormSessionRepository) Save(ctx context.Context, session *entity.Session) error {
	err := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"parent_id":     session.ParentID,
			"message_count": session.MessageCount,
			"last_accessed": session.LastAccessed,
			"expires_at":    session.ExpiresAt,
		}).Error
	if err != nil {
		return domainErrors.NewInternal("failed to save session", err)
	}
	return nil
}

// Touch 刷新访问时间与过期时间
func (r *GormSessionRepository) Touch(ctx context.Context, id string, lastAccessed, expiresAt int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_accessed": lastAccessed,
			"expires_at":    expiresAt,
		}).Error
	if err != nil {
		return domainErrors.NewInternal("failed to touch session", err)
	}
	return nil
}

// Delete 删除会话, 级联删除其审计记录
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.SessionModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternal("failed to delete session", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFound("session not found")
	}
	return nil
}

// DeleteExpired 删除所有过期会话
func (r *GormSessionRepository) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Delete(&models.SessionModel{}, "expires_at <= ?", nowMs)
	if result.Error != nil {
		return 0, domainErrors.NewInternal("failed to sweep sessions", result.Error)
	}
	return result.RowsAffected, nil
}

// List 分页列出会话 (最近访问优先)
func (r *GormSessionRepository) List(ctx context.Context, limit, offset int) ([]*entity.Session, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.SessionModel{}).Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternal("failed to count sessions", err)
	}

	var rows []models.SessionModel
	err := r.db.WithContext(ctx).
		Order("last_accessed desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternal("failed to list sessions", err)
	}

	sessions := make([]*entity.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, toSessionEntity(&rows[i]))
	}
	return sessions, total, nil
}

// CountLive 统计未过期会话数
func (r *GormSessionRepository) CountLive(ctx context.Context, nowMs int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("expires_at > ?", nowMs).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternal("failed to count sessions", err)
	}
	return count, nil
}

// 转换方法

func toSessionModel(e *entity.Session) *models.SessionModel {
	return &models.SessionModel{
		ID:               e.ID,
		UpstreamChatID:   e.UpstreamChatID,
		ParentID:         e.ParentID,
		FirstUserMessage: e.FirstUserMessage,
		MessageCount:     e.MessageCount,
		CreatedAt:        e.CreatedAt,
		LastAccessed:     e.LastAccessed,
		ExpiresAt:        e.ExpiresAt,
	}
}

func toSessionEntity(m *models.SessionModel) *entity.Session {
	return &entity.Session{
		ID:               m.ID,
		UpstreamChatID:   m.UpstreamChatID,
		ParentID:         m.ParentID,
		FirstUserMessage: m.FirstUserMessage,
		MessageCount:     m.MessageCount,
		CreatedAt:        m.CreatedAt,
		LastAccessed:     m.LastAccessed,
		ExpiresAt:        m.ExpiresAt,
	}
}

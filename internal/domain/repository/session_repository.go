package repository

import (
	"context"
	"errors"

	"github.com/qwengate/qwengate/internal/domain/entity"
)

// ErrDuplicateSession 同一指纹的并发创建竞争: 唯一约束冲突, 读回胜者即可
var ErrDuplicateSession = errors.New("session already exists")

// SessionRepository 会话仓储
type SessionRepository interface {
	// FindByID 根据指纹查找会话, 不存在返回 NotFound
	FindByID(ctx context.Context, id string) (*entity.Session, error)

	// Create 创建会话; 指纹冲突返回 ErrDuplicateSession
	Create(ctx context.Context, session *entity.Session) error

	// Save 持久化会话的游标推进 (parent_id / message_count / 时间戳)
	Save(ctx context.Context, session *entity.Session) error

	// Touch 刷新 last_accessed 与 expires_at
	Touch(ctx context.Context, id string, lastAccessed, expiresAt int64) error

	// Delete 删除会话, 级联删除其请求/响应记录
	Delete(ctx context.Context, id string) error

	// DeleteExpired 删除所有 expires_at <= now 的会话, 返回删除数
	DeleteExpired(ctx context.Context, nowMs int64) (int64, error)

	// List 分页列出会话
	List(ctx context.Context, limit, offset int) ([]*entity.Session, int64, error)

	// CountLive 统计未过期会话数
	CountLive(ctx context.Context, nowMs int64) (int64, error)
}

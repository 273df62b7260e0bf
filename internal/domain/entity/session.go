package entity

import "time"

// Session 会话实体: 一条 OpenAI 对话在上游的影子。
// ID 是首条用户消息的指纹; ParentID 指向上游链上的最后一条消息,
// 仅在首轮为 nil。
type Session struct {
	ID               string
	UpstreamChatID   string
	ParentID         *string // nil 当且仅当 MessageCount == 0
	FirstUserMessage string
	MessageCount     int
	CreatedAt        int64 // ms since epoch
	LastAccessed     int64
	ExpiresAt        int64
}

// NewSession 创建首轮会话 (ParentID 为 nil)
func NewSession(id, upstreamChatID, firstUserMessage string, timeout time.Duration) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:               id,
		UpstreamChatID:   upstreamChatID,
		ParentID:         nil,
		FirstUserMessage: firstUserMessage,
		MessageCount:     0,
		CreatedAt:        now,
		LastAccessed:     now,
		ExpiresAt:        now + timeout.Milliseconds(),
	}
}

// Expired 判断会话在指定时刻是否已过期
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// Advance 推进会话游标: 记录上游返回的 parent_id 并刷新时间戳
func (s *Session) Advance(parentID string, timeout time.Duration) {
	now := time.Now().UnixMilli()
	s.ParentID = &parentID
	s.MessageCount++
	s.LastAccessed = now
	s.ExpiresAt = now + timeout.Milliseconds()
}

package models

// SessionModel 数据库会话模型。ID 即会话指纹, 一个指纹至多一行
// (唯一主键同时解决 get_or_create 竞争)。
type SessionModel struct {
	ID               string  `gorm:"primaryKey;size:64"`
	UpstreamChatID   string  `gorm:"size:64;not null"`
	ParentID         *string `gorm:"size:64"` // 首轮为 NULL
	FirstUserMessage string  `gorm:"type:text"`
	MessageCount     int     `gorm:"not null;default:0"`
	CreatedAt        int64   `gorm:"not null"` // ms since epoch
	LastAccessed     int64   `gorm:"not null"`
	ExpiresAt        int64   `gorm:"index;not null"`

	Requests  []RequestModel  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Responses []ResponseModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (SessionModel) TableName() string {
	return "sessions"
}

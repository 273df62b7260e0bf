package models

// ResponseModel 响应审计记录, 每个完成的请求恰好一条
type ResponseModel struct {
	PK               uint    `gorm:"primaryKey;autoIncrement;column:pk"`
	ID               string  `gorm:"uniqueIndex;size:36;not null"` // uuid
	RequestPK        uint    `gorm:"index;not null"`
	RequestID        string  `gorm:"index;size:36;not null"`
	SessionID        string  `gorm:"index:idx_responses_session_ts,priority:1;size:64;not null"`
	Timestamp        int64   `gorm:"index:idx_responses_session_ts,priority:2;not null"`
	UpstreamBody     *string `gorm:"type:text"` // 流式模式为 NULL
	OutboundBody     string  `gorm:"type:text"`
	ParentID         string  `gorm:"size:64"`
	PromptTokens     int     `gorm:"not null;default:0"`
	CompletionTokens int     `gorm:"not null;default:0"`
	TotalTokens      int     `gorm:"not null;default:0"`
	FinishReason     string  `gorm:"size:32"`
	ErrorMessage     *string `gorm:"type:text"`
	DurationMs       int64   `gorm:"not null;default:0"`
}

// TableName 指定表名
func (ResponseModel) TableName() string {
	return "responses"
}

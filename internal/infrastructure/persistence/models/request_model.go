package models

// RequestModel 请求审计记录, 只追加不修改
type RequestModel struct {
	PK           uint   `gorm:"primaryKey;autoIncrement;column:pk"`
	ID           string `gorm:"uniqueIndex;size:36;not null"` // uuid
	SessionID    string `gorm:"index:idx_requests_session_ts,priority:1;size:64;not null"`
	Timestamp    int64  `gorm:"index:idx_requests_session_ts,priority:2;not null"` // ms since epoch
	Model        string `gorm:"size:64"`
	Stream       bool   `gorm:"not null"`
	InboundBody  string `gorm:"type:text"` // 原始 OpenAI 请求体 JSON
	UpstreamBody string `gorm:"type:text"` // 发往上游的 envelope JSON
}

// TableName 指定表名
func (RequestModel) TableName() string {
	return "requests"
}

package entity

// RequestRecord 请求审计记录, 写入后不再变更
type RequestRecord struct {
	PK           uint   // 数据库主键
	ID           string // uuid
	SessionID    string
	Timestamp    int64 // ms since epoch
	Model        string
	Stream       bool
	InboundBody  string // 原始 OpenAI 请求体 (JSON)
	UpstreamBody string // 发往上游的 envelope (JSON)
}

// ResponseRecord 响应审计记录, 每个完成的请求恰好一条
type ResponseRecord struct {
	PK               uint
	ID               string // uuid
	RequestPK        uint
	RequestID        string
	SessionID        string
	Timestamp        int64
	UpstreamBody     string // 流式模式下为空
	OutboundBody     string
	ParentID         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	ErrorMessage     string
	DurationMs       int64
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage 由上游的 input/output 计数构造, 缺失项按零处理
func NewUsage(inputTokens, outputTokens int) Usage {
	return Usage{
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
	}
}

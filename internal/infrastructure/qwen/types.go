package qwen

import "github.com/qwengate/qwengate/internal/domain/entity"

// --- Upstream wire types ---
// The Qwen chat service is server-stateful: every message carries a parent
// pointer instead of the replayed history, and replies surface the parent_id
// to attach the next turn to.

// Envelope is the fully-populated single-message payload for one turn,
// sent to POST /api/v2/chat/completions?chat_id=<id>.
type Envelope struct {
	Stream            bool      `json:"stream"`
	IncrementalOutput bool      `json:"incremental_output"`
	ChatID            string    `json:"chat_id"`
	ChatMode          string    `json:"chat_mode"`
	Model             string    `json:"model"`
	ParentID          *string   `json:"parent_id"`
	Messages          []Message `json:"messages"`
	Timestamp         int64     `json:"timestamp"` // whole seconds
}

// Message is the single turn inside an envelope. Upstream rejects
// full-history replays; context is rebuilt server-side from ParentID.
type Message struct {
	FID           string         `json:"fid"`
	ParentIDCamel *string        `json:"parentId"`
	ParentID      *string        `json:"parent_id"`
	ChildrenIDs   []string       `json:"childrenIds"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	UserAction    string         `json:"user_action"`
	Files         []any          `json:"files"`
	Timestamp     int64          `json:"timestamp"` // whole seconds, not millis
	Models        []string       `json:"models"`
	ChatType      string         `json:"chat_type"`
	SubChatType   string         `json:"sub_chat_type"`
	FeatureConfig FeatureConfig  `json:"feature_config"`
	Extra         MessageExtra   `json:"extra"`
}

// FeatureConfig upstream feature switches
type FeatureConfig struct {
	ThinkingEnabled bool   `json:"thinking_enabled"`
	OutputSchema    string `json:"output_schema"`
}

// MessageExtra upstream metadata block
type MessageExtra struct {
	Meta ExtraMeta `json:"meta"`
}

// ExtraMeta nested chat-type marker
type ExtraMeta struct {
	SubChatType string `json:"subChatType"`
}

// NewChatRequest is the body of POST /api/v2/chats/new.
type NewChatRequest struct {
	Title     string   `json:"title"`
	Models    []string `json:"models"`
	ChatMode  string   `json:"chat_mode"`
	ChatType  string   `json:"chat_type"`
	Timestamp int64    `json:"timestamp"`
}

// NewChatResponse wraps the fresh chat id.
type NewChatResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

// BlockingReply is the decoded non-streaming completion. ParentID is the
// chain cursor for the next turn; MessageID identifies the assistant
// message itself and must never be used as the cursor.
type BlockingReply struct {
	ParentID  string        `json:"parent_id"`
	MessageID string        `json:"message_id"`
	Choices   []ReplyChoice `json:"choices"`
	Usage     *UsageCounts  `json:"usage"`
	Success   *bool         `json:"success,omitempty"`
}

// ReplyChoice one completion choice in a blocking reply
type ReplyChoice struct {
	Message ReplyMessage `json:"message"`
}

// ReplyMessage the assistant message body
type ReplyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageCounts upstream token accounting
type UsageCounts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamFrame is one parsed SSE payload. Exactly one of the shapes is
// populated: a metadata frame carries ResponseCreated (and the next
// parent_id), a content frame carries Choices.
type StreamFrame struct {
	ResponseCreated *ResponseCreated `json:"response.created,omitempty"`
	Choices         []FrameChoice    `json:"choices,omitempty"`
	Usage           *UsageCounts     `json:"usage,omitempty"`
}

// ResponseCreated the metadata frame body
type ResponseCreated struct {
	ChatID     string `json:"chat_id,omitempty"`
	ParentID   string `json:"parent_id"`
	ResponseID string `json:"response_id,omitempty"`
}

// FrameChoice one delta choice in a content frame
type FrameChoice struct {
	Delta FrameDelta `json:"delta"`
}

// FrameDelta the incremental piece of the assistant reply.
// Status "finished" marks the terminal frame.
type FrameDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

// IsMetadata reports whether the frame is a metadata frame (consumed,
// never forwarded downstream).
func (f *StreamFrame) IsMetadata() bool {
	return f.ResponseCreated != nil
}

// IsFinished reports whether the frame carries the terminal status.
func (f *StreamFrame) IsFinished() bool {
	return len(f.Choices) > 0 && f.Choices[0].Delta.Status == "finished"
}

// ModelListResponse is the native GET /api/models payload.
type ModelListResponse struct {
	Data []ModelItem `json:"data"`
}

// ModelItem one native model entry
type ModelItem struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Info ModelInfo `json:"info"`
}

// ModelInfo nested model detail
type ModelInfo struct {
	IsActive bool      `json:"is_active"`
	Meta     ModelMeta `json:"meta"`
}

// ModelMeta capability and limit metadata
type ModelMeta struct {
	Description         string                   `json:"description"`
	Capabilities        entity.ModelCapabilities `json:"capabilities"`
	MaxContextLength    int                      `json:"max_context_length"`
	MaxGenerationLength int                      `json:"max_generation_length"`
	ChatType            []string                 `json:"chat_type"`
}

// ToEntry reshapes a native model entry into the cache form.
func (m ModelItem) ToEntry() entity.ModelEntry {
	return entity.ModelEntry{
		ID:                  m.ID,
		DisplayName:         m.Name,
		Description:         m.Info.Meta.Description,
		Capabilities:        m.Info.Meta.Capabilities,
		MaxContextLength:    m.Info.Meta.MaxContextLength,
		MaxGenerationLength: m.Info.Meta.MaxGenerationLength,
		ChatTypes:           m.Info.Meta.ChatType,
		IsActive:            m.Info.IsActive,
	}
}

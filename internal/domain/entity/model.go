package entity

// ModelCapabilities 上游模型能力开关
type ModelCapabilities struct {
	Vision    bool `json:"vision"`
	Document  bool `json:"document"`
	Video     bool `json:"video"`
	Audio     bool `json:"audio"`
	Citations bool `json:"citations"`
}

// ModelEntry 上游模型条目 (缓存形态)
type ModelEntry struct {
	ID                  string            `json:"id"`
	DisplayName         string            `json:"display_name"`
	Description         string            `json:"description"`
	Capabilities        ModelCapabilities `json:"capabilities"`
	MaxContextLength    int               `json:"max_context_length"`
	MaxGenerationLength int               `json:"max_generation_length"`
	ChatTypes           []string          `json:"chat_types"`
	IsActive            bool              `json:"is_active"`
}

// OpenAIModel OpenAI /v1/models 条目形态
type OpenAIModel struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	Created    int64          `json:"created"`
	OwnedBy    string         `json:"owned_by"`
	Permission []any          `json:"permission"`
	Root       string         `json:"root"`
	Parent     *string        `json:"parent"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToOpenAI 把上游模型条目重塑为 OpenAI model 对象
func (m ModelEntry) ToOpenAI(created int64) OpenAIModel {
	return OpenAIModel{
		ID:         m.ID,
		Object:     "model",
		Created:    created,
		OwnedBy:    "qwen",
		Permission: []any{},
		Root:       m.ID,
		Parent:     nil,
		Metadata: map[string]any{
			"display_name":          m.DisplayName,
			"description":           m.Description,
			"capabilities":          m.Capabilities,
			"max_context_length":    m.MaxContextLength,
			"max_generation_length": m.MaxGenerationLength,
			"chat_types":            m.ChatTypes,
		},
	}
}

package entity

import (
	"strings"

	"github.com/qwengate/qwengate/internal/domain/valueobject"
	"github.com/qwengate/qwengate/pkg/errors"
)

// OpenAI Chat Completions wire types.
// These mirror the subset of the OpenAI API the gateway accepts and emits.

// ChatCompletionRequest mirrors OpenAI's request format
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatMessage represents a message in the conversation.
// Content accepts both the string form and the array-of-parts form.
type ChatMessage struct {
	Role    string                     `json:"role"`
	Content valueobject.MessageContent `json:"content"`
}

// ChatCompletionResponse mirrors OpenAI's response format
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice represents a completion choice
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      ChatChoiceOutput `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ChatChoiceOutput is the assistant message inside a blocking completion
type ChatChoiceOutput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamChunk represents a streaming chunk
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// ChatStreamChoice represents a streaming choice delta
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta represents the delta in a streaming choice
type ChatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ValidRoles accepted on inbound messages
var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// Validate enforces the inbound contract: non-empty messages, known roles,
// non-empty content, at least one user message.
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.NewInvalidRequest("messages array must not be empty", "messages")
	}

	hasUser := false
	for _, msg := range r.Messages {
		role := strings.ToLower(msg.Role)
		if !validRoles[role] {
			return errors.NewInvalidRequest("message has unrecognized role: "+msg.Role, "messages")
		}
		if msg.Content.IsEmpty() {
			return errors.NewInvalidRequest("message content must not be empty", "messages")
		}
		if role == "user" {
			hasUser = true
		}
	}

	if !hasUser {
		return errors.NewInvalidRequest("at least one user message is required", "messages")
	}

	return nil
}

// FirstUserMessage returns the first user-role message, used for the
// conversation fingerprint. Validate must have passed.
func (r *ChatCompletionRequest) FirstUserMessage() (ChatMessage, bool) {
	for _, msg := range r.Messages {
		if strings.ToLower(msg.Role) == "user" {
			return msg, true
		}
	}
	return ChatMessage{}, false
}

// LastMessage returns the final message of the request — the only one
// forwarded upstream (context is reconstructed from parent_id).
func (r *ChatCompletionRequest) LastMessage() ChatMessage {
	return r.Messages[len(r.Messages)-1]
}

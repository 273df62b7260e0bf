package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// Request/response transformation between the OpenAI wire format and the
// upstream single-message envelope. All functions here are pure; the
// orchestrator owns side effects.

// BuildEnvelope shapes one turn for the upstream API. Only the final message
// of the request goes on the wire: history replays are rejected upstream,
// context is rebuilt server-side from the session's parent cursor. Both
// parent fields and every mandatory constant must be present or the call is
// silently dropped.
func BuildEnvelope(req *entity.ChatCompletionRequest, session *entity.Session) *qwen.Envelope {
	last := req.LastMessage()
	now := time.Now().Unix() // upstream expects whole seconds

	msg := qwen.Message{
		FID:           uuid.NewString(),
		ParentIDCamel: session.ParentID,
		ParentID:      session.ParentID,
		ChildrenIDs:   []string{},
		Role:          last.Role,
		Content:       last.Content.Canonical(),
		UserAction:    "chat",
		Files:         []any{},
		Timestamp:     now,
		Models:        []string{req.Model},
		ChatType:      "t2t",
		SubChatType:   "t2t",
		FeatureConfig: qwen.FeatureConfig{
			ThinkingEnabled: false,
			OutputSchema:    "phase",
		},
		Extra: qwen.MessageExtra{
			Meta: qwen.ExtraMeta{SubChatType: "t2t"},
		},
	}

	return &qwen.Envelope{
		Stream: req.Stream,
		// Mandatory constant regardless of mode; upstream rejects envelopes
		// without it even on blocking calls.
		IncrementalOutput: true,
		ChatID:            session.UpstreamChatID,
		ChatMode:          "guest",
		Model:             req.Model,
		ParentID:          session.ParentID,
		Messages:          []qwen.Message{msg},
		Timestamp:         now,
	}
}

// ChatTitle derives the upstream chat title from the first user message,
// truncated to a display-friendly length.
func ChatTitle(firstUserMessage string) string {
	const maxTitle = 60
	runes := []rune(firstUserMessage)
	if len(runes) <= maxTitle {
		return firstUserMessage
	}
	return string(runes[:maxTitle])
}

// BuildCompletion reshapes a blocking upstream reply into an OpenAI chat
// completion. Missing usage counts default to zero rather than being omitted.
func BuildCompletion(reply *qwen.BlockingReply, model string) (*entity.ChatCompletionResponse, error) {
	if len(reply.Choices) == 0 {
		return nil, domainErrors.New(domainErrors.KindUpstreamSemantic, "upstream reply carried no choices")
	}

	usage := entity.NewUsage(0, 0)
	if reply.Usage != nil {
		usage = entity.NewUsage(reply.Usage.InputTokens, reply.Usage.OutputTokens)
	}

	choices := make([]entity.ChatChoice, 0, len(reply.Choices))
	for i, ch := range reply.Choices {
		role := ch.Message.Role
		if role == "" {
			role = "assistant"
		}
		choices = append(choices, entity.ChatChoice{
			Index: i,
			Message: entity.ChatChoiceOutput{
				Role:    role,
				Content: ch.Message.Content,
			},
			FinishReason: "stop",
		})
	}

	return &entity.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: choices,
		Usage:   &usage,
	}, nil
}

// ExtractParentID returns the next-turn cursor from a blocking reply. The
// cursor is always the reply's parent_id; message_id identifies the assistant
// message itself and using it would corrupt the chain.
func ExtractParentID(reply *qwen.BlockingReply) string {
	return reply.ParentID
}

// NewCompletionID mints an OpenAI-style completion id.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// FrameKind classifies an upstream SSE frame for the relay.
type FrameKind int

const (
	FrameMetadata FrameKind = iota // carries the parent cursor, never forwarded
	FrameRole                      // role-only opening delta
	FrameContent                   // incremental content delta
	FrameFinish                    // terminal frame, may carry usage
	FrameSkip                      // unrecognized, silently dropped
)

// ClassifyFrame routes one upstream frame. Order matters: a finished frame
// may still carry trailing content which the relay flushes before closing.
func ClassifyFrame(f *qwen.StreamFrame) FrameKind {
	if f.IsMetadata() {
		return FrameMetadata
	}
	if len(f.Choices) == 0 {
		return FrameSkip
	}
	if f.IsFinished() {
		return FrameFinish
	}
	delta := f.Choices[0].Delta
	if delta.Content != "" {
		return FrameContent
	}
	if delta.Role != "" {
		return FrameRole
	}
	return FrameSkip
}

// NewRoleChunk builds the opening delta announcing the assistant role.
func NewRoleChunk(id string, created int64, model string) *entity.ChatStreamChunk {
	return &entity.ChatStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []entity.ChatStreamChoice{{
			Index:        0,
			Delta:        entity.ChatStreamDelta{Role: "assistant"},
			FinishReason: nil,
		}},
	}
}

// NewContentChunk builds an incremental content delta.
func NewContentChunk(id string, created int64, model, content string) *entity.ChatStreamChunk {
	return &entity.ChatStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []entity.ChatStreamChoice{{
			Index:        0,
			Delta:        entity.ChatStreamDelta{Content: content},
			FinishReason: nil,
		}},
	}
}

// NewFinishChunk builds the empty-delta terminal chunk.
func NewFinishChunk(id string, created int64, model, reason string) *entity.ChatStreamChunk {
	return &entity.ChatStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []entity.ChatStreamChoice{{
			Index:        0,
			Delta:        entity.ChatStreamDelta{},
			FinishReason: &reason,
		}},
	}
}

// NewUsageChunk builds the trailing usage chunk (empty choices).
func NewUsageChunk(id string, created int64, model string, usage entity.Usage) *entity.ChatStreamChunk {
	return &entity.ChatStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []entity.ChatStreamChoice{},
		Usage:   &usage,
	}
}

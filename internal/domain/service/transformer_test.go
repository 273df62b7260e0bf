package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

func requestFromJSON(t *testing.T, raw string) *entity.ChatCompletionRequest {
	t.Helper()
	var req entity.ChatCompletionRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return &req
}

func TestBuildEnvelope_OnlyLastMessageForwarded(t *testing.T) {
	req := requestFromJSON(t, `{"model":"qwen-max","messages":[
		{"role":"system","content":"sys"},
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"latest question"}
	]}`)
	session := entity.NewSession("fp", "chat-9", "first", 30*time.Minute)

	env := BuildEnvelope(req, session)

	if len(env.Messages) != 1 {
		t.Fatalf("envelope carries %d messages, want exactly 1", len(env.Messages))
	}
	msg := env.Messages[0]
	if msg.Role != "user" || msg.Content != "latest question" {
		t.Errorf("forwarded message: role=%q content=%q", msg.Role, msg.Content)
	}
}

func TestBuildEnvelope_FirstTurnNilParent(t *testing.T) {
	req := requestFromJSON(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	session := entity.NewSession("fp", "chat-9", "hi", 30*time.Minute)

	env := BuildEnvelope(req, session)

	if env.ParentID != nil {
		t.Error("first turn envelope ParentID must be nil")
	}
	if env.Messages[0].ParentID != nil || env.Messages[0].ParentIDCamel != nil {
		t.Error("first turn message parent pointers must be nil")
	}
}

func TestBuildEnvelope_LaterTurnCarriesParent(t *testing.T) {
	req := requestFromJSON(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	session := entity.NewSession("fp", "chat-9", "hi", 30*time.Minute)
	session.Advance("parent-77", 30*time.Minute)

	env := BuildEnvelope(req, session)

	for _, p := range []*string{env.ParentID, env.Messages[0].ParentID, env.Messages[0].ParentIDCamel} {
		if p == nil || *p != "parent-77" {
			t.Fatalf("parent pointer: got %v, want parent-77", p)
		}
	}
}

func TestBuildEnvelope_MandatoryFields(t *testing.T) {
	req := requestFromJSON(t, `{"model":"qwen-max","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	session := entity.NewSession("fp", "chat-9", "hi", 30*time.Minute)

	env := BuildEnvelope(req, session)

	if !env.Stream || !env.IncrementalOutput {
		t.Error("streaming request must set stream and incremental_output")
	}
	if env.ChatID != "chat-9" || env.ChatMode != "guest" || env.Model != "qwen-max" {
		t.Errorf("envelope header: %+v", env)
	}

	// incremental_output is a fixed constant, not tied to the stream flag.
	blocking := requestFromJSON(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	benv := BuildEnvelope(blocking, session)
	if benv.Stream {
		t.Error("blocking request must not set stream")
	}
	if !benv.IncrementalOutput {
		t.Error("blocking envelope must still set incremental_output")
	}

	msg := env.Messages[0]
	if msg.FID == "" {
		t.Error("message fid must be populated")
	}
	if msg.UserAction != "chat" || msg.ChatType != "t2t" || msg.SubChatType != "t2t" {
		t.Errorf("message constants: %+v", msg)
	}
	if msg.FeatureConfig.ThinkingEnabled || msg.FeatureConfig.OutputSchema != "phase" {
		t.Errorf("feature config: %+v", msg.FeatureConfig)
	}
	if msg.Extra.Meta.SubChatType != "t2t" {
		t.Errorf("extra meta: %+v", msg.Extra)
	}
	if msg.ChildrenIDs == nil || msg.Files == nil {
		t.Error("childrenIds and files must be empty arrays, not null")
	}

	// Whole seconds, not millis.
	now := time.Now().Unix()
	if msg.Timestamp < now-5 || msg.Timestamp > now+5 {
		t.Errorf("message timestamp %d is not in whole seconds", msg.Timestamp)
	}
	if env.Timestamp != msg.Timestamp {
		t.Error("envelope and message timestamps must match")
	}
}

func TestBuildEnvelope_FreshFIDPerCall(t *testing.T) {
	req := requestFromJSON(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	session := entity.NewSession("fp", "chat", "hi", time.Minute)

	a := BuildEnvelope(req, session).Messages[0].FID
	b := BuildEnvelope(req, session).Messages[0].FID
	if a == b {
		t.Error("each envelope must mint a fresh message fid")
	}
}

func TestBuildCompletion(t *testing.T) {
	reply := &qwen.BlockingReply{
		ParentID:  "next-cursor",
		MessageID: "assistant-msg",
		Choices: []qwen.ReplyChoice{{
			Message: qwen.ReplyMessage{Role: "assistant", Content: "the answer"},
		}},
		Usage: &qwen.UsageCounts{InputTokens: 10, OutputTokens: 25},
	}

	completion, err := BuildCompletion(reply, "qwen-max")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(completion.ID, "chatcmpl-") {
		t.Errorf("completion id: got %q", completion.ID)
	}
	if completion.Object != "chat.completion" || completion.Model != "qwen-max" {
		t.Errorf("completion header: %+v", completion)
	}
	if len(completion.Choices) != 1 {
		t.Fatalf("choices: got %d", len(completion.Choices))
	}
	choice := completion.Choices[0]
	if choice.Message.Role != "assistant" || choice.Message.Content != "the answer" {
		t.Errorf("choice message: %+v", choice.Message)
	}
	if choice.FinishReason != "stop" {
		t.Errorf("finish reason: got %q", choice.FinishReason)
	}
	if completion.Usage.PromptTokens != 10 || completion.Usage.CompletionTokens != 25 || completion.Usage.TotalTokens != 35 {
		t.Errorf("usage: %+v", completion.Usage)
	}
}

func TestBuildCompletion_MissingUsageDefaultsToZero(t *testing.T) {
	reply := &qwen.BlockingReply{
		ParentID: "p",
		Choices:  []qwen.ReplyChoice{{Message: qwen.ReplyMessage{Content: "x"}}},
	}

	completion, err := BuildCompletion(reply, "m")
	if err != nil {
		t.Fatal(err)
	}
	if completion.Usage == nil || completion.Usage.TotalTokens != 0 {
		t.Errorf("missing usage must map to zeros, got %+v", completion.Usage)
	}
}

func TestBuildCompletion_NoChoices(t *testing.T) {
	_, err := BuildCompletion(&qwen.BlockingReply{ParentID: "p"}, "m")
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if !domainErrors.IsKind(err, domainErrors.KindUpstreamSemantic) {
		t.Errorf("error kind: got %v", domainErrors.KindOf(err))
	}
}

func TestExtractParentID_NeverMessageID(t *testing.T) {
	reply := &qwen.BlockingReply{ParentID: "the-cursor", MessageID: "the-message"}
	if got := ExtractParentID(reply); got != "the-cursor" {
		t.Errorf("cursor: got %q, want the reply's parent_id", got)
	}
}

func TestClassifyFrame(t *testing.T) {
	cases := []struct {
		name  string
		frame qwen.StreamFrame
		want  FrameKind
	}{
		{
			"metadata",
			qwen.StreamFrame{ResponseCreated: &qwen.ResponseCreated{ParentID: "p"}},
			FrameMetadata,
		},
		{
			"role only",
			qwen.StreamFrame{Choices: []qwen.FrameChoice{{Delta: qwen.FrameDelta{Role: "assistant"}}}},
			FrameRole,
		},
		{
			"content",
			qwen.StreamFrame{Choices: []qwen.FrameChoice{{Delta: qwen.FrameDelta{Content: "hel"}}}},
			FrameContent,
		},
		{
			"finished",
			qwen.StreamFrame{Choices: []qwen.FrameChoice{{Delta: qwen.FrameDelta{Status: "finished"}}}},
			FrameFinish,
		},
		{
			"empty choices",
			qwen.StreamFrame{},
			FrameSkip,
		},
		{
			"empty delta",
			qwen.StreamFrame{Choices: []qwen.FrameChoice{{}}},
			FrameSkip,
		},
	}

	for _, tc := range cases {
		if got := ClassifyFrame(&tc.frame); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestChatTitle_Truncates(t *testing.T) {
	short := ChatTitle("hello")
	if short != "hello" {
		t.Errorf("short title: got %q", short)
	}

	long := ChatTitle(strings.Repeat("字", 100))
	if got := len([]rune(long)); got != 60 {
		t.Errorf("truncated title length: got %d runes, want 60", got)
	}
}

func TestNewUsageChunk_EmptyChoices(t *testing.T) {
	chunk := NewUsageChunk("id", 1, "m", entity.NewUsage(1, 2))
	if chunk.Choices == nil || len(chunk.Choices) != 0 {
		t.Error("usage chunk must carry an empty (non-null) choices array")
	}
	if chunk.Usage == nil || chunk.Usage.TotalTokens != 3 {
		t.Errorf("usage chunk usage: %+v", chunk.Usage)
	}
}

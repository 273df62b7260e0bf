package service

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const relayScenario = `data: {"response.created":{"chat_id":"c1","parent_id":"p-123"}}

data: {"choices":[{"delta":{"role":"assistant"}}]}

data: {"choices":[{"delta":{"content":"hel"}}]}

data: {"choices":[{"delta":{"content":"lo"}}]}

data: {"choices":[{"delta":{"status":"finished"}}],"usage":{"input_tokens":5,"output_tokens":2}}

data: [DONE]

`

func TestRelay_TranslatesStream(t *testing.T) {
	relay := NewRelay(time.Second, zap.NewNop())
	rec := httptest.NewRecorder()
	upstream := io.NopCloser(strings.NewReader(relayScenario))

	res := relay.Run(context.Background(), upstream, rec, "chatcmpl-test", "qwen-max")

	if res.ParentID != "p-123" {
		t.Errorf("captured parent: got %q, want p-123", res.ParentID)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish reason: got %q", res.FinishReason)
	}
	if res.Content != "hello" {
		t.Errorf("accumulated content: got %q", res.Content)
	}
	if res.Usage.PromptTokens != 5 || res.Usage.CompletionTokens != 2 || res.Usage.TotalTokens != 7 {
		t.Errorf("usage: %+v", res.Usage)
	}

	body := rec.Body.String()

	// The metadata frame is consumed, never forwarded.
	if strings.Contains(body, "response.created") {
		t.Error("metadata frame leaked downstream")
	}
	for _, want := range []string{
		`"role":"assistant"`,
		`"content":"hel"`,
		`"content":"lo"`,
		`"finish_reason":"stop"`,
		`"total_tokens":7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("downstream body missing %s\nbody:\n%s", want, body)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Error("stream must terminate with data: [DONE]")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: got %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("X-Accel-Buffering: no must be set")
	}
}

func TestRelay_SkipsUnparseableFrames(t *testing.T) {
	input := `data: {"response.created":{"parent_id":"p-1"}}

data: this is not json

data: {"choices":[{"delta":{"content":"ok"}}]}

data: {"choices":[{"delta":{"status":"finished"}}]}

data: [DONE]

`
	relay := NewRelay(time.Second, zap.NewNop())
	rec := httptest.NewRecorder()

	res := relay.Run(context.Background(), io.NopCloser(strings.NewReader(input)), rec, "id", "m")

	if res.FinishReason != "stop" {
		t.Errorf("finish reason: got %q", res.FinishReason)
	}
	if res.Content != "ok" {
		t.Errorf("content: got %q", res.Content)
	}
}

// brokenReader yields some data then a read failure.
type brokenReader struct {
	data io.Reader
	err  error
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.data.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func (b *brokenReader) Close() error { return nil }

func TestRelay_MidStreamFailure(t *testing.T) {
	partial := `data: {"response.created":{"parent_id":"p-9"}}

data: {"choices":[{"delta":{"content":"par"}}]}

`
	upstream := &brokenReader{
		data: strings.NewReader(partial),
		err:  errors.New("connection reset"),
	}

	relay := NewRelay(time.Second, zap.NewNop())
	rec := httptest.NewRecorder()

	res := relay.Run(context.Background(), upstream, rec, "id", "m")

	if res.Err == nil {
		t.Fatal("expected a stream error")
	}
	if res.FinishReason != "error" {
		t.Errorf("finish reason: got %q, want error", res.FinishReason)
	}
	if res.ParentID != "p-9" {
		t.Errorf("parent captured before failure: got %q", res.ParentID)
	}
	if res.Content != "par" {
		t.Errorf("partial content: got %q", res.Content)
	}

	body := rec.Body.String()
	// The failure surfaces inside the SSE channel, then the stream closes.
	if !strings.Contains(body, `"error"`) {
		t.Errorf("expected an error frame in the SSE body:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Error("stream must still terminate with data: [DONE]")
	}
}

func TestRelay_ClientDisconnectStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // client is already gone

	// A reader that would block forever without the disconnect watch.
	blocked, w := io.Pipe()
	defer w.Close()

	relay := NewRelay(5*time.Second, zap.NewNop())
	rec := httptest.NewRecorder()

	done := make(chan *RelayResult, 1)
	go func() {
		done <- relay.Run(ctx, blocked, rec, "id", "m")
	}()

	select {
	case res := <-done:
		if !res.ClientGone {
			t.Error("result must report the client disconnect")
		}
		if res.FinishReason == "stop" {
			t.Error("disconnected stream must not report an orderly finish")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not stop after client disconnect")
	}
}

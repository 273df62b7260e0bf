package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// memAuditRepo is an in-memory AuditRepository for tests.
type memAuditRepo struct {
	mu        sync.Mutex
	requests  []*entity.RequestRecord
	responses []*entity.ResponseRecord
}

func (r *memAuditRepo) LogRequest(_ context.Context, rec *entity.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.PK = uint(len(r.requests) + 1)
	r.requests = append(r.requests, rec)
	return nil
}

func (r *memAuditRepo) LogResponse(_ context.Context, rec *entity.ResponseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.PK = uint(len(r.responses) + 1)
	r.responses = append(r.responses, rec)
	return nil
}

func (r *memAuditRepo) FindRequest(_ context.Context, id string) (*entity.RequestRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.requests {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, domainErrors.NewNotFound("request not found")
}

func (r *memAuditRepo) ListRequests(_ context.Context, _ repository.RequestFilter) ([]*entity.RequestRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests, int64(len(r.requests)), nil
}

func (r *memAuditRepo) FindResponse(_ context.Context, id string) (*entity.ResponseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.responses {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, domainErrors.NewNotFound("response not found")
}

func (r *memAuditRepo) ListResponses(_ context.Context, _ string, _, _ int) ([]*entity.ResponseRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses, int64(len(r.responses)), nil
}

func (r *memAuditRepo) FindResponseForRequest(_ context.Context, requestID string) (*entity.ResponseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.responses {
		if rec.RequestID == requestID {
			return rec, nil
		}
	}
	return nil, domainErrors.NewNotFound("response not found")
}

func (r *memAuditRepo) Stats(_ context.Context, _ string) (*repository.UsageStats, error) {
	return &repository.UsageStats{}, nil
}

func newCompletionFixture(t *testing.T, handler http.Handler) (*CompletionService, *memSessionRepo, *memAuditRepo) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds, err := qwen.NewCredentials("tok", "cookie", "")
	if err != nil {
		t.Fatal(err)
	}
	client := qwen.NewClient(qwen.Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Retry:   qwen.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, creds, zap.NewNop())

	sessions := newMemSessionRepo()
	audit := &memAuditRepo{}
	monitor := monitoring.NewMonitor(zap.NewNop())
	mgr := NewSessionManager(sessions, 30*time.Minute, time.Hour, monitor, zap.NewNop())
	relay := NewRelay(2*time.Second, zap.NewNop())

	svc := NewCompletionService(mgr, client, relay, audit, monitor, zap.NewNop(), 5*time.Second)
	return svc, sessions, audit
}

func blockingUpstream(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/chats/new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"id": "chat-1"},
		})
	})
	mux.HandleFunc("/api/v2/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(qwen.BlockingReply{
			ParentID: "cursor-1",
			Choices:  []qwen.ReplyChoice{{Message: qwen.ReplyMessage{Role: "assistant", Content: "done"}}},
			Usage:    &qwen.UsageCounts{InputTokens: 3, OutputTokens: 4},
		})
	})
	return mux
}

func TestComplete_ClientDisconnectStillCompletes(t *testing.T) {
	svc, sessions, audit := newCompletionFixture(t, blockingUpstream(t))

	// The client is gone before the turn even starts; the blocking path must
	// run to completion and persist regardless.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := requestFromJSON(t, `{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	completion, err := svc.Complete(ctx, req, []byte(`{"model":"qwen-max"}`))
	if err != nil {
		t.Fatalf("cancelled client context must not abort the turn: %v", err)
	}
	if completion.Choices[0].Message.Content != "done" {
		t.Errorf("completion content: %+v", completion.Choices)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.responses) != 1 {
		t.Fatalf("response rows: got %d, want 1", len(audit.responses))
	}
	row := audit.responses[0]
	if row.FinishReason != "stop" || row.ParentID != "cursor-1" {
		t.Errorf("persisted row: finish=%q parent=%q", row.FinishReason, row.ParentID)
	}

	// The cursor advanced despite the disconnect.
	fp, err := svc.sessions.Fingerprint(req)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := sessions.FindByID(context.Background(), fp)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ParentID == nil || *stored.ParentID != "cursor-1" {
		t.Errorf("session cursor: got %v", stored.ParentID)
	}
}

func TestStream_PersistsAggregatedCompletion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/chats/new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"id": "chat-1"},
		})
	})
	mux.HandleFunc("/api/v2/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"response.created\":{\"parent_id\":\"p-9\"}}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"status\":\"finished\"}}],\"usage\":{\"input_tokens\":4,\"output_tokens\":2}}\n\n" +
			"data: [DONE]\n\n"))
	})

	svc, _, audit := newCompletionFixture(t, mux)

	req := requestFromJSON(t, `{"model":"qwen-max","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	rec := httptest.NewRecorder()
	if err := svc.Stream(context.Background(), req, []byte(`{"model":"qwen-max","stream":true}`), rec); err != nil {
		t.Fatal(err)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.responses) != 1 {
		t.Fatalf("response rows: got %d, want 1", len(audit.responses))
	}
	row := audit.responses[0]

	// The stored body is the aggregated completion in the blocking-path JSON
	// shape, not the raw delta text.
	var stored entity.ChatCompletionResponse
	if err := json.Unmarshal([]byte(row.OutboundBody), &stored); err != nil {
		t.Fatalf("outbound body is not a completion object: %v (%q)", err, row.OutboundBody)
	}
	if stored.Object != "chat.completion" || stored.Model != "qwen-max" {
		t.Errorf("stored completion header: %+v", stored)
	}
	if len(stored.Choices) != 1 || stored.Choices[0].Message.Content != "hello" {
		t.Errorf("stored choices: %+v", stored.Choices)
	}
	if stored.Choices[0].FinishReason != "stop" {
		t.Errorf("stored finish reason: %q", stored.Choices[0].FinishReason)
	}
	if stored.Usage == nil || stored.Usage.TotalTokens != 6 {
		t.Errorf("stored usage: %+v", stored.Usage)
	}

	if row.ParentID != "p-9" || row.TotalTokens != 6 {
		t.Errorf("row: parent=%q tokens=%d", row.ParentID, row.TotalTokens)
	}
}

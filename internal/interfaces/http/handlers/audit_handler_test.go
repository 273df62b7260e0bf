package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// stubAudit records the last filter and serves canned rows.
type stubAudit struct {
	requests   []*entity.RequestRecord
	responses  []*entity.ResponseRecord
	lastFilter repository.RequestFilter
}

func (s *stubAudit) LogRequest(context.Context, *entity.RequestRecord) error   { return nil }
func (s *stubAudit) LogResponse(context.Context, *entity.ResponseRecord) error { return nil }

func (s *stubAudit) FindRequest(_ context.Context, id string) (*entity.RequestRecord, error) {
	for _, r := range s.requests {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domainErrors.NewNotFound("request not found")
}

func (s *stubAudit) ListRequests(_ context.Context, filter repository.RequestFilter) ([]*entity.RequestRecord, int64, error) {
	s.lastFilter = filter
	return s.requests, int64(len(s.requests)), nil
}

func (s *stubAudit) FindResponse(_ context.Context, id string) (*entity.ResponseRecord, error) {
	for _, r := range s.responses {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domainErrors.NewNotFound("response not found")
}

func (s *stubAudit) ListResponses(context.Context, string, int, int) ([]*entity.ResponseRecord, int64, error) {
	return s.responses, int64(len(s.responses)), nil
}

func (s *stubAudit) FindResponseForRequest(context.Context, string) (*entity.ResponseRecord, error) {
	return nil, domainErrors.NewNotFound("response not found")
}

func (s *stubAudit) Stats(context.Context, string) (*repository.UsageStats, error) {
	return &repository.UsageStats{}, nil
}

func testContext(t *testing.T, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestGetRequest_WireShape(t *testing.T) {
	audit := &stubAudit{requests: []*entity.RequestRecord{{
		PK:           7,
		ID:           "req-1",
		SessionID:    "sess-1",
		Timestamp:    1234,
		Model:        "qwen-max",
		Stream:       true,
		InboundBody:  `{"model":"qwen-max"}`,
		UpstreamBody: `{"chat_id":"c-1"}`,
	}}}
	h := NewAuditHandler(nil, audit, zap.NewNop())

	c, w := testContext(t, "/v1/requests/req-1")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.GetRequest(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := w.Body.String()

	// snake_case keys, no Go field names, no DB primary key.
	for _, key := range []string{`"id"`, `"session_id"`, `"inbound_body"`, `"upstream_body"`} {
		if !strings.Contains(body, key) {
			t.Errorf("body missing %s: %s", key, body)
		}
	}
	for _, leak := range []string{"SessionID", "InboundBody", `"PK"`} {
		if strings.Contains(body, leak) {
			t.Errorf("body leaks %s: %s", leak, body)
		}
	}

	// Body columns come back as parsed JSON, not escaped strings.
	var parsed struct {
		InboundBody struct {
			Model string `json:"model"`
		} `json:"inbound_body"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.InboundBody.Model != "qwen-max" {
		t.Errorf("inbound body not embedded as JSON: %s", body)
	}
}

func TestGetResponse_WireShape(t *testing.T) {
	audit := &stubAudit{responses: []*entity.ResponseRecord{{
		ID:           "res-1",
		RequestID:    "req-1",
		SessionID:    "sess-1",
		Timestamp:    1234,
		OutboundBody: `{"object":"chat.completion"}`,
		ParentID:     "p-1",
		TotalTokens:  6,
		FinishReason: "stop",
		DurationMs:   42,
	}}}
	h := NewAuditHandler(nil, audit, zap.NewNop())

	c, w := testContext(t, "/v1/responses/res-1")
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	h.GetResponse(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := w.Body.String()

	for _, key := range []string{`"request_id"`, `"parent_id"`, `"finish_reason"`, `"duration_ms"`, `"outbound_body":{"object":"chat.completion"}`} {
		if !strings.Contains(body, key) {
			t.Errorf("body missing %s: %s", key, body)
		}
	}
	// The empty upstream body is omitted, not emitted as "".
	if strings.Contains(body, "upstream_body") {
		t.Errorf("empty upstream body must be omitted: %s", body)
	}
}

func TestRawBody_MalformedRowQuoted(t *testing.T) {
	raw := rawBody("not json at all")
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s != "not json at all" {
		t.Errorf("malformed body must round-trip as a JSON string, got %s", raw)
	}
	if rawBody("") != nil {
		t.Error("empty body must map to nil")
	}
}

func TestListRequests_DateFilterParams(t *testing.T) {
	audit := &stubAudit{}
	h := NewAuditHandler(nil, audit, zap.NewNop())

	c, w := testContext(t, "/v1/requests?session_id=s-1&model=qwen-max&start_date=100&end_date=200")
	h.ListRequests(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	f := audit.lastFilter
	if f.SessionID != "s-1" || f.Model != "qwen-max" {
		t.Errorf("filter: %+v", f)
	}
	if f.StartDate != 100 || f.EndDate != 200 {
		t.Errorf("date filter: start=%d end=%d, want 100/200", f.StartDate, f.EndDate)
	}
}

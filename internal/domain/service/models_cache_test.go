package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

const modelCatalogFixture = `{
	"data": [
		{
			"id": "qwen-max",
			"name": "Qwen Max",
			"info": {
				"is_active": true,
				"meta": {
					"description": "flagship",
					"capabilities": {"vision": true},
					"max_context_length": 32768,
					"max_generation_length": 8192,
					"chat_type": ["t2t"]
				}
			}
		},
		{
			"id": "qwen-retired",
			"name": "Qwen Retired",
			"info": {"is_active": false, "meta": {}}
		}
	]
}`

func newCacheFixture(t *testing.T, ttl time.Duration, handler http.HandlerFunc) (*ModelsCache, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
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

	return NewModelsCache(client, ttl, zap.NewNop()), &hits
}

func serveCatalog(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(modelCatalogFixture))
}

func TestModelsCache_ListFiltersInactive(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute, serveCatalog)

	models, err := cache.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 {
		t.Fatalf("models: got %d, want 1 (inactive filtered)", len(models))
	}
	m := models[0]
	if m.ID != "qwen-max" || m.Object != "model" || m.OwnedBy != "qwen" {
		t.Errorf("model shape: %+v", m)
	}
	if m.Metadata["display_name"] != "Qwen Max" {
		t.Errorf("metadata: %+v", m.Metadata)
	}
}

func TestModelsCache_ServesFromCacheWithinTTL(t *testing.T) {
	cache, hits := newCacheFixture(t, time.Minute, serveCatalog)
	ctx := context.Background()

	if _, err := cache.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, "qwen-max"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("upstream fetches within TTL: got %d, want 1", got)
	}
}

func TestModelsCache_RefreshesAfterTTL(t *testing.T) {
	cache, hits := newCacheFixture(t, time.Millisecond, serveCatalog)
	ctx := context.Background()

	if _, err := cache.List(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.List(ctx); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Errorf("upstream fetches across TTL: got %d, want 2", got)
	}
}

func TestModelsCache_GetUnknownModel(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute, serveCatalog)

	_, err := cache.Get(context.Background(), "no-such-model")
	if !domainErrors.IsKind(err, domainErrors.KindNotFound) {
		t.Errorf("unknown model: got %v, want not_found", err)
	}
}

func TestModelsCache_ServesStaleOnRefreshFailure(t *testing.T) {
	var fail int32
	cache, _ := newCacheFixture(t, time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		serveCatalog(w, r)
	})
	ctx := context.Background()

	if _, err := cache.List(ctx); err != nil {
		t.Fatal(err)
	}
	before := cache.FetchedAt()

	atomic.StoreInt32(&fail, 1)
	time.Sleep(5 * time.Millisecond)

	models, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("stale snapshot should absorb the refresh failure, got %v", err)
	}
	if len(models) != 1 {
		t.Errorf("stale models: got %d", len(models))
	}
	if !cache.FetchedAt().Equal(before) {
		t.Error("failed refresh must not advance the snapshot time")
	}
}

func TestModelsCache_ColdCacheSurfacesFailure(t *testing.T) {
	cache, _ := newCacheFixture(t, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := cache.List(context.Background()); err == nil {
		t.Error("cold cache with a failing upstream must surface the error")
	}
}

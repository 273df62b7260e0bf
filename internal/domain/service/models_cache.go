package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// ModelsCache caches the upstream model catalog with a TTL. The mutex is
// held across the refresh, so concurrent callers of a cold cache wait for
// the single in-flight fetch instead of stampeding upstream.
type ModelsCache struct {
	client *qwen.Client
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	entries   []entity.ModelEntry
	byID      map[string]entity.ModelEntry
	fetchedAt time.Time
}

// NewModelsCache creates the cache; nothing is fetched until first use.
func NewModelsCache(client *qwen.Client, ttl time.Duration, logger *zap.Logger) *ModelsCache {
	return &ModelsCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "models_cache")),
	}
}

// List returns every active model in OpenAI list form, refreshing the cache
// when stale. A refresh failure with a previous snapshot in hand serves the
// stale data instead of erroring.
func (c *ModelsCache) List(ctx context.Context) ([]entity.OpenAIModel, error) {
	entries, fetchedAt, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	created := fetchedAt.Unix()
	out := make([]entity.OpenAIModel, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ToOpenAI(created))
	}
	return out, nil
}

// Get returns one model by id, or NotFound.
func (c *ModelsCache) Get(ctx context.Context, id string) (*entity.OpenAIModel, error) {
	_, fetchedAt, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return nil, domainErrors.NewNotFound("model not found: " + id)
	}

	model := entry.ToOpenAI(fetchedAt.Unix())
	return &model, nil
}

// FetchedAt reports when the current snapshot was taken (zero if never).
func (c *ModelsCache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// snapshot returns the current entries, refreshing first when the TTL has
// lapsed.
func (c *ModelsCache) snapshot(ctx context.Context) ([]entity.ModelEntry, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.entries, c.fetchedAt, nil
	}

	fetched, err := c.client.ListModels(ctx)
	if err != nil {
		if c.entries != nil {
			c.logger.Warn("Model refresh failed, serving stale snapshot",
				zap.Time("fetched_at", c.fetchedAt), zap.Error(err))
			return c.entries, c.fetchedAt, nil
		}
		if ue, ok := err.(*qwen.UpstreamError); ok {
			return nil, time.Time{}, ue.AppError()
		}
		return nil, time.Time{}, err
	}

	entries := make([]entity.ModelEntry, 0, len(fetched))
	byID := make(map[string]entity.ModelEntry, len(fetched))
	for _, e := range fetched {
		if !e.IsActive {
			continue
		}
		entries = append(entries, e)
		byID[e.ID] = e
	}

	c.entries = entries
	c.byID = byID
	c.fetchedAt = time.Now()
	c.logger.Debug("Model catalog refreshed", zap.Int("models", len(entries)))

	return c.entries, c.fetchedAt, nil
}

// Package providers maps models to their owning provider's queue and
// rate limits, with a time-boxed cache in front of the store. The cache
// avoids a store round-trip per job launch; it reloads lazily on miss,
// so models created after the cache was warmed still resolve.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/probelab/trialbench/internal/cache"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
)

const defaultCacheTTL = 5 * time.Minute

// Router resolves queue names and provider limits for models.
type Router struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewRouter creates a Router. A non-positive ttl falls back to the
// default five minutes.
func NewRouter(st store.Store, ca cache.Cache, ttl time.Duration) *Router {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Router{store: st, cache: ca, ttl: ttl}
}

// QueueNameFor returns the queue owned by the model's provider, or the
// fixed default queue when no mapping exists. Only store failures are
// returned as errors; an unknown model is not an error.
func (r *Router) QueueNameFor(ctx context.Context, modelID string) (string, error) {
	key := cache.ModelQueueKey(modelID)
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		return string(cached), nil
	} else if err != nil {
		slog.Warn("provider cache read failed", "model_id", modelID, "error", err)
	}

	model, err := r.store.GetModel(ctx, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultQueueName, nil
	}
	if err != nil {
		return "", fmt.Errorf("look up model %s: %w", modelID, err)
	}

	provider, err := r.store.GetProvider(ctx, model.ProviderName)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultQueueName, nil
	}
	if err != nil {
		return "", fmt.Errorf("look up provider %s: %w", model.ProviderName, err)
	}

	if err := r.cache.Set(ctx, key, []byte(provider.QueueName), r.ttl); err != nil {
		slog.Warn("provider cache write failed", "model_id", modelID, "error", err)
	}
	return provider.QueueName, nil
}

// LimitsFor returns the provider's concurrency and rate limits, or nil
// when the provider is unknown or disabled.
func (r *Router) LimitsFor(ctx context.Context, providerName string) (*models.ProviderLimits, error) {
	key := cache.ProviderLimitsKey(providerName)
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var limits models.ProviderLimits
		if err := json.Unmarshal(cached, &limits); err == nil {
			return &limits, nil
		}
		// Unreadable entry: drop it and fall through to the store.
		_ = r.cache.Delete(ctx, key)
	}

	provider, err := r.store.GetProvider(ctx, providerName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up provider %s: %w", providerName, err)
	}
	if !provider.Enabled {
		return nil, nil
	}

	limits := provider.Limits()
	if raw, err := json.Marshal(limits); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
			slog.Warn("provider cache write failed", "provider", providerName, "error", err)
		}
	}
	return &limits, nil
}

// ClearCache drops every cached routing entry. The next lookup reloads
// lazily from the store.
func (r *Router) ClearCache(ctx context.Context) error {
	if err := r.cache.DeletePattern(ctx, cache.ProviderKeyPattern); err != nil {
		return fmt.Errorf("clear provider cache: %w", err)
	}
	return nil
}

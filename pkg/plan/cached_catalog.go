package plan

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = time.Hour

// CachedCatalog wraps another Catalog with a Redis read-through cache
// keyed by plan code. Cache failures degrade to the inner catalog and are
// logged, never surfaced: plan reads must not depend on Redis being up.
// Writes to the catalog must call Invalidate for the affected code.
type CachedCatalog struct {
	inner  Catalog
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// CachedCatalogOption configures a CachedCatalog.
type CachedCatalogOption func(*CachedCatalog)

// WithCacheTTL overrides the default 1h entry lifetime.
func WithCacheTTL(ttl time.Duration) CachedCatalogOption {
	return func(c *CachedCatalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheLogger sets the logger for cache degradation events.
func WithCacheLogger(logger *slog.Logger) CachedCatalogOption {
	return func(c *CachedCatalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedCatalog creates a read-through cache in front of inner.
func NewCachedCatalog(inner Catalog, client *redis.Client, opts ...CachedCatalogOption) *CachedCatalog {
	if inner == nil {
		panic("plan: inner catalog is required")
	}
	if client == nil {
		panic("plan: redis client is required")
	}

	c := &CachedCatalog{
		inner:  inner,
		client: client,
		ttl:    defaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(code string) string { return "plan:" + code }

// GetPlan returns the cached plan for code, falling back to the inner
// catalog and populating the cache on miss.
func (c *CachedCatalog) GetPlan(ctx context.Context, code string) (Plan, error) {
	if raw, err := c.client.Get(ctx, cacheKey(code)).Bytes(); err == nil {
		var p Plan
		if err := json.Unmarshal(raw, &p); err == nil {
			return p, nil
		}
		// Unparseable entry: drop it and fall through to the source.
		c.client.Del(ctx, cacheKey(code))
	} else if err != redis.Nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "plan cache read failed, falling back to source",
			slog.String("plan_code", code),
			slog.String("error", err.Error()),
		)
	}

	p, err := c.inner.GetPlan(ctx, code)
	if err != nil {
		return Plan{}, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, cacheKey(code), raw, c.ttl).Err(); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "plan cache write failed",
				slog.String("plan_code", code),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// GetPlanByID bypasses the code-keyed cache and delegates to the inner
// catalog. ID lookups happen on the rare lifecycle paths, not per-request.
func (c *CachedCatalog) GetPlanByID(ctx context.Context, id uuid.UUID) (Plan, error) {
	return c.inner.GetPlanByID(ctx, id)
}

// ActivePlans delegates to the inner catalog.
func (c *CachedCatalog) ActivePlans(ctx context.Context) ([]Plan, error) {
	return c.inner.ActivePlans(ctx)
}

// Invalidate removes the cached entry for a plan code. Must be called by
// any flow that writes the plan or its features.
func (c *CachedCatalog) Invalidate(ctx context.Context, code string) error {
	return c.client.Del(ctx, cacheKey(code)).Err()
}

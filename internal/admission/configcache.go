package admission

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/evalboard/evalboard/internal/models"
)

// CachedConfigs serves EvalConfig lookups from a TTL cache in front of a
// ConfigStore. Only successful lookups are cached, so a newly provisioned
// user is admitted on the next call. A policy change takes effect within ttl.
type CachedConfigs struct {
	next  ConfigStore
	cache *ttlcache.Cache[string, models.EvalConfig]
}

// NewCachedConfigs wraps next. Start must be called to evict expired entries
// in the background; expired entries are never served either way.
func NewCachedConfigs(next ConfigStore, ttl time.Duration) *CachedConfigs {
	return &CachedConfigs{
		next: next,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, models.EvalConfig](ttl),
			ttlcache.WithDisableTouchOnHit[string, models.EvalConfig](),
		),
	}
}

// GetEvalConfig implements ConfigStore.
func (c *CachedConfigs) GetEvalConfig(ctx context.Context, userID string) (models.EvalConfig, error) {
	if item := c.cache.Get(userID); item != nil {
		return item.Value(), nil
	}
	cfg, err := c.next.GetEvalConfig(ctx, userID)
	if err != nil {
		return models.EvalConfig{}, err
	}
	c.cache.Set(userID, cfg, ttlcache.DefaultTTL)
	return cfg, nil
}

// invalidate drops the cached policy for userID.
func (c *CachedConfigs) invalidate(userID string) {
	c.cache.Delete(userID)
}

// Start runs the expiry loop until ctx is done.
func (c *CachedConfigs) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.cache.Stop()
	}()
	c.cache.Start()
}

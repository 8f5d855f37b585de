package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dealbridge/internal/cache"
	"go.uber.org/zap"
)

// productCache stores product snapshots keyed by URL hash.
type productCache interface {
	Get(ctx context.Context, key string) (*Product, bool)
	Set(ctx context.Context, key string, product *Product, ttl time.Duration)
}

// CachedFetcher serves repeat lookups from cache; only misses pass through
// to the underlying fetcher (normally the admission queue). Fallback
// products are not cached so a transient scrape failure heals on the next
// attempt.
type CachedFetcher struct {
	next  Fetcher
	cache productCache
	ttl   time.Duration
}

func NewCachedFetcher(next Fetcher, store productCache, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedFetcher{next: next, cache: store, ttl: ttl}
}

func (f *CachedFetcher) Fetch(ctx context.Context, url string) (*Product, error) {
	key := urlKey(url)
	if product, ok := f.cache.Get(ctx, key); ok {
		return product, nil
	}

	product, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if product != nil && !product.Fallback {
		f.cache.Set(ctx, key, product, f.ttl)
	}
	return product, nil
}

func urlKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "scrape:product:" + hex.EncodeToString(sum[:])
}

// memoryCache is the default in-process backend.
type memoryCache struct {
	store *cache.TTLCache[string, *Product]
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: cache.NewTTLCache[string, *Product]()}
}

func (c *memoryCache) Get(_ context.Context, key string) (*Product, bool) {
	return c.store.Get(key)
}

func (c *memoryCache) Set(_ context.Context, key string, product *Product, ttl time.Duration) {
	c.store.Set(key, product, ttl)
}

// redisCache shares the product cache across instances.
type redisCache struct {
	client *redis.Client
	log    *zap.Logger
}

func newRedisCache(addr string, log *zap.Logger) *redisCache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log.Named("scrape.cache"),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (*Product, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var product Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return nil, false
	}
	return &product, true
}

func (c *redisCache) Set(ctx context.Context, key string, product *Product, ttl time.Duration) {
	raw, err := json.Marshal(product)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.Error(err))
	}
}

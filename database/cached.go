package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"channel-sync-backend/cache"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"
)

const keyChannels = "channels:all"

func keyVideos(channel string) string { return "videos:" + channel }

func keyGeneration(key string) string { return "gen:" + key }

// CachedStore serves the list reads from Redis and invalidates on every write.
// GetChannel and Selection always hit the inner store: the selection
// maintainer and join catch-up must see committed state.
type CachedStore struct {
	inner  Store
	cache  *cache.Redis
	ttl    time.Duration
	logger *slog.Logger
}

// CachedOption configures a CachedStore.
type CachedOption func(*CachedStore)

func WithCacheLogger(l *slog.Logger) CachedOption {
	return func(c *CachedStore) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCachedStore(inner Store, c *cache.Redis, ttl time.Duration, opts ...CachedOption) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cs := &CachedStore{inner: inner, cache: c, ttl: ttl, logger: logger.Discard()}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

/* ---------- cached reads ---------- */

func (c *CachedStore) ListChannels(ctx context.Context) ([]string, error) {
	return readThrough(ctx, c, keyChannels, func() ([]string, error) {
		return c.inner.ListChannels(ctx)
	})
}

func (c *CachedStore) ListVideos(ctx context.Context, channel string) ([]models.Video, error) {
	return readThrough(ctx, c, keyVideos(channel), func() ([]models.Video, error) {
		return c.inner.ListVideos(ctx, channel)
	})
}

// readThrough serves key from the cache at its current generation. The
// generation is read before the inner store, so a fill racing a write is
// stored under the generation that write retires.
func readThrough[T any](ctx context.Context, c *CachedStore, key string, load func() (T, error)) (T, error) {
	gen, err := cache.Generation(ctx, c.cache, keyGeneration(key))
	if err != nil {
		c.logger.Warn("cache: generation", slog.String("key", key), logger.Error(err))
		return load()
	}
	versioned := fmt.Sprintf("%s:%d", key, gen)
	if v, err := cache.Get[T](ctx, c.cache, versioned); err == nil {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	c.set(ctx, versioned, v)
	return v, nil
}

/* ---------- writes with invalidation ---------- */

func (c *CachedStore) CreateChannel(ctx context.Context, name string) (bool, error) {
	created, err := c.inner.CreateChannel(ctx, name)
	if err != nil {
		return false, err
	}
	if created {
		c.invalidate(ctx, keyChannels)
	}
	return created, nil
}

func (c *CachedStore) InsertVideoIfAbsent(ctx context.Context, channel string, v models.Video) (models.Video, bool, error) {
	stored, created, err := c.inner.InsertVideoIfAbsent(ctx, channel, v)
	if err != nil {
		return models.Video{}, false, err
	}
	if created {
		c.invalidate(ctx, keyChannels, keyVideos(channel))
	}
	return stored, created, nil
}

func (c *CachedStore) UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error) {
	v, err := c.inner.UpdateVideo(ctx, channel, id, patch)
	if err != nil {
		return models.Video{}, err
	}
	c.invalidate(ctx, keyVideos(channel))
	return v, nil
}

func (c *CachedStore) RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error) {
	v, err := c.inner.RemoveVideo(ctx, channel, id)
	if err != nil {
		return nil, err
	}
	if v != nil {
		c.invalidate(ctx, keyVideos(channel))
	}
	return v, nil
}

/* ---------- passthrough ---------- */

func (c *CachedStore) GetChannel(ctx context.Context, name string) (*models.Channel, error) {
	return c.inner.GetChannel(ctx, name)
}

func (c *CachedStore) SelectVideo(ctx context.Context, channel, id string) error {
	return c.inner.SelectVideo(ctx, channel, id)
}

func (c *CachedStore) ClearSelection(ctx context.Context, channel string) error {
	return c.inner.ClearSelection(ctx, channel)
}

func (c *CachedStore) Selection(ctx context.Context, channel string) (string, error) {
	return c.inner.Selection(ctx, channel)
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.cache.Ping(ctx); err != nil {
		c.logger.Warn("cache: ping failed", logger.Error(err))
	}
	return c.inner.Ping(ctx)
}

func (c *CachedStore) Close(ctx context.Context) error {
	if err := c.cache.Close(); err != nil {
		c.logger.Warn("cache: close", logger.Error(err))
	}
	return c.inner.Close(ctx)
}

/* ---------- helpers ---------- */

func (c *CachedStore) set(ctx context.Context, key string, v any) {
	if err := cache.Set(ctx, c.cache, key, v, c.ttl); err != nil {
		c.logger.Warn("cache: set", slog.String("key", key), logger.Error(err))
	}
}

// invalidate retires the current generation of each key. Entries left
// under old generations expire with their ttl.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	gens := make([]string, 0, len(keys))
	for _, k := range keys {
		gens = append(gens, keyGeneration(k))
	}
	if err := cache.Bump(ctx, c.cache, gens...); err != nil {
		c.logger.Warn("cache: invalidate", slog.Any("keys", keys), logger.Error(err))
	}
}

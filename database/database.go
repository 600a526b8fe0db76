package database

import (
	"context"
	"fmt"
	"log/slog"

	"channel-sync-backend/cache"
	"channel-sync-backend/config"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"
)

// Store is the durable home of channels and their videos.
// Every method is a single atomic operation on one channel; callers never
// need a read-then-write sequence to keep the records consistent.
type Store interface {
	// ListChannels returns all channel names, sorted.
	ListChannels(ctx context.Context) ([]string, error)
	// CreateChannel creates an empty channel. created is false when it already existed.
	CreateChannel(ctx context.Context, name string) (created bool, err error)
	// GetChannel returns the channel with its videos sorted by added time.
	// Returns models.ErrNotFound for an unknown channel.
	GetChannel(ctx context.Context, name string) (*models.Channel, error)
	// ListVideos returns the channel's videos sorted by added time;
	// an unknown channel yields an empty slice.
	ListVideos(ctx context.Context, channel string) ([]models.Video, error)
	// InsertVideoIfAbsent creates the channel when needed and appends v unless a
	// video with the same url is already queued there. The store assigns the id.
	// When the url exists the stored record is returned with created=false.
	InsertVideoIfAbsent(ctx context.Context, channel string, v models.Video) (stored models.Video, created bool, err error)
	// UpdateVideo merges patch into the video. Returns models.ErrNotFound for an unknown id.
	UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error)
	// RemoveVideo deletes the video and clears the selection if it pointed at it.
	// An unknown id returns (nil, nil).
	RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error)
	// SelectVideo replaces the selection with id in one step.
	// Returns models.ErrNotFound when id is not a video of the channel.
	SelectVideo(ctx context.Context, channel, id string) error
	// ClearSelection sets the selection to none.
	ClearSelection(ctx context.Context, channel string) error
	// Selection returns the selected id, or "" for none or an unknown channel.
	Selection(ctx context.Context, channel string) (string, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open builds the store named by cfg.StoreDriver, wrapping it in a Redis
// cache when cfg.RedisURL is set.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (Store, error) {
	if log == nil {
		log = logger.Discard()
	}

	var (
		store Store
		err   error
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = NewMemoryStore()
	case config.DriverMongo:
		store, err = NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
	case config.DriverPostgres:
		if err = WaitForPostgres(ctx, cfg.DatabaseURL, 5, defaultRetryInterval); err != nil {
			return nil, err
		}
		if err = RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		store, err = NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("driver", cfg.StoreDriver))

	if cfg.RedisURL == "" {
		return store, nil
	}
	rc, err := cache.New(cfg.RedisURL)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	if err := rc.Ping(ctx); err != nil {
		log.Warn("redis unreachable, serving without cache", logger.Error(err))
		_ = rc.Close()
		return store, nil
	}
	log.Info("redis cache enabled", logger.Duration(cfg.CacheTTL))
	return NewCachedStore(store, rc, cfg.CacheTTL, WithCacheLogger(log)), nil
}

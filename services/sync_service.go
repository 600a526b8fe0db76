package services

import (
	"context"
	"log/slog"
	"time"

	"channel-sync-backend/logger"
	"channel-sync-backend/models"
)

// Library is the part of the mutation API the sync service uses.
type Library interface {
	ListChannels(ctx context.Context) ([]string, error)
	ListVideos(ctx context.Context, channel string) ([]models.Video, error)
	UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error)
}

// Prober checks whether a video url is playable.
type Prober interface {
	Probe(ctx context.Context, url string) (bool, error)
}

// SyncService periodically probes unloaded videos and marks the playable
// ones loaded through the mutation API, so the usual events and selection
// maintenance follow.
type SyncService struct {
	library  Library
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
}

func NewSyncService(library Library, prober Prober, interval time.Duration, log *slog.Logger) *SyncService {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SyncService{library: library, prober: prober, interval: interval, logger: log}
}

// Run syncs once immediately and then on every tick until ctx is cancelled.
func (ss *SyncService) Run(ctx context.Context) error {
	ss.logger.Info("sync service started", slog.Duration("interval", ss.interval))

	ss.SyncOnce(ctx)

	ticker := time.NewTicker(ss.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ss.SyncOnce(ctx)
		}
	}
}

// SyncOnce walks every channel and returns how many videos became loaded.
func (ss *SyncService) SyncOnce(ctx context.Context) int {
	start := time.Now()
	channels, err := ss.library.ListChannels(ctx)
	if err != nil {
		ss.logger.Error("sync: list channels", logger.Error(err))
		return 0
	}

	loaded := 0
	for _, ch := range channels {
		videos, err := ss.library.ListVideos(ctx, ch)
		if err != nil {
			ss.logger.Error("sync: list videos", logger.Channel(ch), logger.Error(err))
			continue
		}
		for _, v := range videos {
			if v.Loaded {
				continue
			}
			if ctx.Err() != nil {
				return loaded
			}
			ok, err := ss.prober.Probe(ctx, v.URL)
			if err != nil {
				ss.logger.Warn("sync: probe failed", logger.Channel(ch), logger.VideoID(v.ID), logger.Error(err))
				continue
			}
			if !ok {
				continue
			}
			mark := true
			if _, err := ss.library.UpdateVideo(ctx, ch, v.ID, models.VideoPatch{Loaded: &mark}); err != nil {
				ss.logger.Warn("sync: mark loaded", logger.Channel(ch), logger.VideoID(v.ID), logger.Error(err))
				continue
			}
			loaded++
		}
	}

	if loaded > 0 {
		ss.logger.Info("sync: videos loaded", slog.Int("count", loaded), logger.Duration(time.Since(start)))
	}
	return loaded
}

package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"channel-sync-backend/database"
	"channel-sync-backend/events"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"
)

/* ---------- collaborators ---------- */

// Publisher receives committed events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

/* ---------- ChannelManager ---------- */

// ChannelManager is the only writer of channel state. Every mutation on a
// channel runs under that channel's lock: write, publish, then restore the
// selection. Event order on a channel is therefore commit order, and
// unrelated channels never wait on each other.
type ChannelManager struct {
	store  database.Store
	bus    Publisher
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a ChannelManager.
type Option func(*ChannelManager)

func WithLogger(l *slog.Logger) Option {
	return func(cm *ChannelManager) {
		if l != nil {
			cm.logger = l
		}
	}
}

// WithClock overrides the time source used for the added timestamp.
func WithClock(now func() time.Time) Option {
	return func(cm *ChannelManager) {
		if now != nil {
			cm.now = now
		}
	}
}

/* ---------- constructor ---------- */

func NewChannelManager(store database.Store, bus Publisher, opts ...Option) *ChannelManager {
	cm := &ChannelManager{
		store:  store,
		bus:    bus,
		locks:  newKeyedMutex(),
		logger: logger.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

/* ---------- reads ---------- */

// ListChannels returns every channel name, sorted.
func (cm *ChannelManager) ListChannels(ctx context.Context) ([]string, error) {
	return cm.store.ListChannels(ctx)
}

// ListVideos returns the channel's queue ordered by added time.
// An unknown channel yields an empty list.
func (cm *ChannelManager) ListVideos(ctx context.Context, channel string) ([]models.Video, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return nil, err
	}
	return cm.store.ListVideos(ctx, channel)
}

// Selection returns the selected video id, or "" for none.
func (cm *ChannelManager) Selection(ctx context.Context, channel string) (string, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return "", err
	}
	return cm.store.Selection(ctx, channel)
}

/* ---------- mutations ---------- */

// CreateChannel creates an empty channel. It is a no-op when the channel exists.
func (cm *ChannelManager) CreateChannel(ctx context.Context, name string) (bool, error) {
	if err := models.ValidateChannelName(name); err != nil {
		return false, err
	}
	created, err := cm.store.CreateChannel(ctx, name)
	if err != nil {
		return false, err
	}
	if created {
		cm.logger.Info("channel created", logger.Channel(name))
	}
	return created, nil
}

// AddVideo queues url on channel unless it is already there. A duplicate
// returns the stored record with created=false and emits nothing.
func (cm *ChannelManager) AddVideo(ctx context.Context, channel, url string, meta models.VideoMeta) (models.Video, bool, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return models.Video{}, false, err
	}
	if err := models.ValidateURL(url); err != nil {
		return models.Video{}, false, err
	}

	unlock := cm.locks.Lock(channel)
	defer unlock()

	v := models.Video{
		URL:         url,
		Added:       cm.now().UTC().Truncate(time.Millisecond),
		Title:       meta.Title,
		Author:      meta.Author,
		Description: meta.Description,
		Duration:    meta.Duration,
		Thumbnail:   meta.Thumbnail,
		Loaded:      meta.Loaded,
	}
	stored, created, err := cm.store.InsertVideoIfAbsent(ctx, channel, v)
	if err != nil {
		return models.Video{}, false, err
	}
	if !created {
		return stored, false, nil
	}

	// committed: finish the sequence even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	cm.publish(ctx, events.VideoAdded{Channel: channel, Video: stored})
	cm.ensureSelection(ctx, channel)
	return stored, true, nil
}

// RemoveVideo deletes the video. An unknown id is a silent no-op and
// returns nil.
func (cm *ChannelManager) RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return nil, err
	}

	unlock := cm.locks.Lock(channel)
	defer unlock()

	removed, err := cm.store.RemoveVideo(ctx, channel, id)
	if err != nil || removed == nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	cm.publish(ctx, events.VideoRemoved{Channel: channel, VideoID: removed.ID})
	cm.ensureSelection(ctx, channel)
	return removed, nil
}

// UpdateVideo merges patch into the video and emits VideoUpdated.
// A video becoming loaded may give an empty channel its first selection.
func (cm *ChannelManager) UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return models.Video{}, err
	}
	if patch.URL != nil {
		if err := models.ValidateURL(*patch.URL); err != nil {
			return models.Video{}, err
		}
	}

	unlock := cm.locks.Lock(channel)
	defer unlock()

	// an unknown id is reported before an empty patch
	if patch.Empty() {
		ch, err := cm.store.GetChannel(ctx, channel)
		if err != nil {
			return models.Video{}, err
		}
		if _, ok := ch.Find(id); !ok {
			return models.Video{}, models.ErrNotFound
		}
		return models.Video{}, models.ErrEmptyPatch
	}

	v, err := cm.store.UpdateVideo(ctx, channel, id, patch)
	if err != nil {
		return models.Video{}, err
	}

	ctx = context.WithoutCancel(ctx)
	cm.publish(ctx, events.VideoUpdated{Channel: channel, Video: v})
	if patch.Loaded != nil && *patch.Loaded {
		cm.ensureSelection(ctx, channel)
	}
	return v, nil
}

// SelectVideo makes id the channel's only selection.
func (cm *ChannelManager) SelectVideo(ctx context.Context, channel, id string) (string, error) {
	if err := models.ValidateChannelName(channel); err != nil {
		return "", err
	}
	if id == "" {
		return "", models.ErrNotFound
	}

	unlock := cm.locks.Lock(channel)
	defer unlock()

	if err := cm.store.SelectVideo(ctx, channel, id); err != nil {
		return "", err
	}
	cm.publish(context.WithoutCancel(ctx), events.VideoSelected{Channel: channel, VideoID: id})
	return id, nil
}

/* ---------- selection maintenance ---------- */

// ensureSelection runs after add and remove with the channel lock held.
// With no selection it picks the earliest loaded video, or announces none.
func (cm *ChannelManager) ensureSelection(ctx context.Context, channel string) {
	ch, err := cm.store.GetChannel(ctx, channel)
	if errors.Is(err, models.ErrNotFound) {
		return
	}
	if err != nil {
		cm.logger.Error("ensure selection: read channel", logger.Channel(channel), logger.Error(err))
		return
	}
	if ch.Selected != "" {
		return
	}

	next, ok := ch.FirstLoaded()
	if !ok {
		if err := cm.store.ClearSelection(ctx, channel); err != nil {
			cm.logger.Error("ensure selection: clear", logger.Channel(channel), logger.Error(err))
			return
		}
		cm.publish(ctx, events.VideoSelected{Channel: channel})
		return
	}

	if err := cm.store.SelectVideo(ctx, channel, next.ID); err != nil {
		cm.logger.Error("ensure selection: select", logger.Channel(channel), logger.VideoID(next.ID), logger.Error(err))
		return
	}
	cm.logger.Debug("selection restored", logger.Channel(channel), logger.VideoID(next.ID))
	cm.publish(ctx, events.VideoSelected{Channel: channel, VideoID: next.ID})
}

func (cm *ChannelManager) publish(ctx context.Context, evt events.Event) {
	if err := cm.bus.Publish(ctx, evt); err != nil {
		cm.logger.Warn("publish failed",
			logger.Event(string(evt.Kind())), logger.Channel(evt.ChannelName()), logger.Error(err))
	}
}

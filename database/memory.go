package database

import (
	"context"
	"sort"
	"sync"

	"channel-sync-backend/models"

	"github.com/google/uuid"
)

// MemoryStore keeps channels in process memory. It is the default driver
// and the reference the other stores are tested against.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*models.Channel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{channels: make(map[string]*models.Channel)}
}

func (s *MemoryStore) ListChannels(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) CreateChannel(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; ok {
		return false, nil
	}
	s.channels[name] = &models.Channel{Name: name, Videos: []models.Video{}}
	return true, nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, name string) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *ch
	cp.Videos = make([]models.Video, len(ch.Videos))
	copy(cp.Videos, ch.Videos)
	models.SortVideos(cp.Videos)
	return &cp, nil
}

func (s *MemoryStore) ListVideos(ctx context.Context, channel string) ([]models.Video, error) {
	ch, err := s.GetChannel(ctx, channel)
	if err != nil {
		return []models.Video{}, nil
	}
	return ch.Videos, nil
}

func (s *MemoryStore) InsertVideoIfAbsent(ctx context.Context, channel string, v models.Video) (models.Video, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		ch = &models.Channel{Name: channel, Videos: []models.Video{}}
		s.channels[channel] = ch
	}
	for _, existing := range ch.Videos {
		if existing.URL == v.URL {
			return existing, false, nil
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	ch.Videos = append(ch.Videos, v)
	return v, true, nil
}

func (s *MemoryStore) UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return models.Video{}, models.ErrNotFound
	}
	idx := -1
	for i, v := range ch.Videos {
		if v.ID == id {
			idx = i
		} else if patch.URL != nil && v.URL == *patch.URL {
			return models.Video{}, models.ErrDuplicateURL
		}
	}
	if idx < 0 {
		return models.Video{}, models.ErrNotFound
	}
	patch.Apply(&ch.Videos[idx])
	return ch.Videos[idx], nil
}

func (s *MemoryStore) RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return nil, nil
	}
	for i, v := range ch.Videos {
		if v.ID != id {
			continue
		}
		ch.Videos = append(ch.Videos[:i:i], ch.Videos[i+1:]...)
		if ch.Selected == id {
			ch.Selected = ""
		}
		return &v, nil
	}
	return nil, nil
}

func (s *MemoryStore) SelectVideo(ctx context.Context, channel, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return models.ErrNotFound
	}
	if _, ok := ch.Find(id); !ok {
		return models.ErrNotFound
	}
	ch.Selected = id
	return nil
}

func (s *MemoryStore) ClearSelection(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channel]; ok {
		ch.Selected = ""
	}
	return nil
}

func (s *MemoryStore) Selection(ctx context.Context, channel string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.channels[channel]; ok {
		return ch.Selected, nil
	}
	return "", nil
}

func (s *MemoryStore) Ping(ctx context.Context) error  { return nil }
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

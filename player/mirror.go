// Package player keeps a viewer-local replica of one channel and decides
// which video to request next.
package player

import (
	"sort"
	"sync"

	"channel-sync-backend/events"
	"channel-sync-backend/models"
)

// Entry is a mirrored video plus the viewer-local played flag.
type Entry struct {
	models.Video
	Played bool `json:"played"`
}

// Observer is called after an event changed the mirror.
type Observer func(evt events.Event)

// Mirror is an ordered replica of a channel's queue and selection, updated
// only by applying server events. Events naming unknown ids are ignored.
type Mirror struct {
	mu        sync.Mutex
	channel   string
	entries   []Entry
	selected  string
	observers []Observer
}

func NewMirror(channel string) *Mirror {
	return &Mirror{channel: channel}
}

// Channel returns the mirrored channel name.
func (m *Mirror) Channel() string { return m.channel }

// OnChange registers an observer.
func (m *Mirror) OnChange(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Seed replaces the mirror with an authoritative snapshot. Played flags of
// videos present before and after are kept.
func (m *Mirror) Seed(videos []models.Video, selected string) {
	m.mu.Lock()
	played := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		played[e.ID] = e.Played
	}
	m.entries = make([]Entry, 0, len(videos))
	for _, v := range videos {
		m.entries = append(m.entries, Entry{Video: v, Played: played[v.ID]})
	}
	m.resort()
	m.selected = selected
	m.markPlayed(selected)
	m.mu.Unlock()
}

// Apply folds evt into the mirror and reports whether anything changed.
// Events for other channels are ignored.
func (m *Mirror) Apply(evt events.Event) bool {
	if evt.ChannelName() != m.channel {
		return false
	}

	m.mu.Lock()
	changed := false
	switch e := evt.(type) {
	case events.VideoAdded:
		changed = m.upsert(e.Video)
	case events.VideoUpdated:
		if i := m.indexOf(e.Video.ID); i >= 0 {
			played := m.entries[i].Played
			m.entries[i] = Entry{Video: e.Video, Played: played}
			m.resort()
			changed = true
		}
	case events.VideoRemoved:
		if i := m.indexOf(e.VideoID); i >= 0 {
			m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
			if m.selected == e.VideoID {
				m.selected = ""
			}
			changed = true
		}
	case events.VideoSelected:
		if e.VideoID != "" && m.indexOf(e.VideoID) < 0 {
			break
		}
		changed = m.selected != e.VideoID
		m.selected = e.VideoID
		if m.markPlayed(e.VideoID) {
			changed = true
		}
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(evt)
		}
	}
	return changed
}

// Entries returns a copy of the mirrored queue in order.
func (m *Mirror) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Selected returns the current selection, or "" for none.
func (m *Mirror) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Get returns the mirrored entry with id.
func (m *Mirror) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return m.entries[i], true
	}
	return Entry{}, false
}

// candidates returns the loaded, unplayed ids. When none remain and some
// video is loaded, every played flag is cleared first and reset is true.
func (m *Mirror) candidates() (ids []string, reset bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids = m.unplayedLoaded()
	if len(ids) > 0 {
		return ids, false
	}
	for i := range m.entries {
		if m.entries[i].Played {
			m.entries[i].Played = false
			reset = true
		}
	}
	return m.unplayedLoaded(), reset
}

func (m *Mirror) unplayedLoaded() []string {
	var ids []string
	for _, e := range m.entries {
		if e.Loaded && !e.Played {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (m *Mirror) upsert(v models.Video) bool {
	if i := m.indexOf(v.ID); i >= 0 {
		if m.entries[i].Video == v {
			return false
		}
		m.entries[i].Video = v
		m.resort()
		return true
	}
	m.entries = append(m.entries, Entry{Video: v})
	m.resort()
	return true
}

func (m *Mirror) markPlayed(id string) bool {
	if id == "" {
		return false
	}
	if i := m.indexOf(id); i >= 0 && !m.entries[i].Played {
		m.entries[i].Played = true
		return true
	}
	return false
}

func (m *Mirror) resort() {
	sort.SliceStable(m.entries, func(i, j int) bool { return models.Before(m.entries[i].Video, m.entries[j].Video) })
}

func (m *Mirror) indexOf(id string) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

package state_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-backend/database"
	"channel-sync-backend/events"
	"channel-sync-backend/models"
	"channel-sync-backend/state"
)

type capture struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *capture) Publish(_ context.Context, evt events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, evt)
	return nil
}

func (c *capture) take() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.evs
	c.evs = nil
	return out
}

func newManager(t *testing.T) (*state.ChannelManager, *capture) {
	t.Helper()
	bus := &capture{}
	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return state.NewChannelManager(database.NewMemoryStore(), bus, state.WithClock(clock)), bus
}

func TestAddVideo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("loaded video into empty channel is selected", func(t *testing.T) {
		cm, bus := newManager(t)

		v, created, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Title: "A", Loaded: true})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, v.ID)
		assert.Equal(t, "A", v.Title)

		assert.Equal(t, []events.Event{
			events.VideoAdded{Channel: "red", Video: v},
			events.VideoSelected{Channel: "red", VideoID: v.ID},
		}, bus.take())

		sel, err := cm.Selection(ctx, "red")
		require.NoError(t, err)
		assert.Equal(t, v.ID, sel)
	})

	t.Run("unloaded video announces no selection", func(t *testing.T) {
		cm, bus := newManager(t)

		v, _, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{})
		require.NoError(t, err)
		assert.Equal(t, []events.Event{
			events.VideoAdded{Channel: "red", Video: v},
			events.VideoSelected{Channel: "red"},
		}, bus.take())
	})

	t.Run("duplicate url is idempotent", func(t *testing.T) {
		cm, bus := newManager(t)

		first, created, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		require.NoError(t, err)
		require.True(t, created)
		bus.take()

		again, created, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Title: "ignored"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, again)
		assert.Empty(t, bus.take())

		videos, err := cm.ListVideos(ctx, "red")
		require.NoError(t, err)
		assert.Len(t, videos, 1)
	})

	t.Run("same url on another channel is a new video", func(t *testing.T) {
		cm, _ := newManager(t)

		a, _, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{})
		require.NoError(t, err)
		b, created, err := cm.AddVideo(ctx, "blue", "https://x/a.mp4", models.VideoMeta{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("added time is millisecond UTC", func(t *testing.T) {
		cm, _ := newManager(t)
		v, _, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{})
		require.NoError(t, err)
		assert.Equal(t, time.UTC, v.Added.Location())
		assert.Equal(t, v.Added, v.Added.Truncate(time.Millisecond))
	})

	t.Run("rejects bad input without events", func(t *testing.T) {
		cm, bus := newManager(t)

		_, _, err := cm.AddVideo(ctx, "", "https://x/a.mp4", models.VideoMeta{})
		assert.ErrorIs(t, err, models.ErrValidation)
		_, _, err = cm.AddVideo(ctx, "api", "https://x/a.mp4", models.VideoMeta{})
		assert.ErrorIs(t, err, models.ErrReservedChannelName)
		_, _, err = cm.AddVideo(ctx, "red", " ", models.VideoMeta{})
		assert.ErrorIs(t, err, models.ErrEmptyURL)
		assert.Empty(t, bus.take())
	})
}

func TestAddVideoConcurrentDuplicates(t *testing.T) {
	t.Parallel()
	cm, _ := newManager(t)
	ctx := context.Background()

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, err := cm.AddVideo(ctx, "red", "https://x/same.mp4", models.VideoMeta{})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[v.ID] = struct{}{}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestSingleSelectionUnderConcurrency(t *testing.T) {
	t.Parallel()
	cm, bus := newManager(t)
	ctx := context.Background()

	const n = 24
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := cm.AddVideo(ctx, "red", fmt.Sprintf("https://x/%d.mp4", i), models.VideoMeta{Loaded: true})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// only the first commit finds the channel without a selection
	var selected []string
	for _, evt := range bus.take() {
		if sel, ok := evt.(events.VideoSelected); ok {
			selected = append(selected, sel.VideoID)
		}
	}
	require.Len(t, selected, 1)

	sel, err := cm.Selection(ctx, "red")
	require.NoError(t, err)
	assert.Equal(t, selected[0], sel)
}

func TestConcurrentSelectsKeepOneOfThem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		cm, bus := newManager(t)
		a, _, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		require.NoError(t, err)
		b, _, err := cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{Loaded: true})
		require.NoError(t, err)
		bus.take()

		var wg sync.WaitGroup
		for _, id := range []string{a.ID, b.ID} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := cm.SelectVideo(ctx, "red", id)
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		sel, err := cm.Selection(ctx, "red")
		require.NoError(t, err)
		assert.Contains(t, []string{a.ID, b.ID}, sel)

		evs := bus.take()
		require.Len(t, evs, 2)
		last, ok := evs[len(evs)-1].(events.VideoSelected)
		require.True(t, ok)
		assert.Equal(t, sel, last.VideoID)
	}
}

func TestMixedMutationsKeepSelectionConsistent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cm, bus := newManager(t)

	const n = 12
	ids := make([]string, n)
	for i := range ids {
		v, _, err := cm.AddVideo(ctx, "red", fmt.Sprintf("https://x/%d.mp4", i), models.VideoMeta{Loaded: true})
		require.NoError(t, err)
		ids[i] = v.ID
	}
	bus.take()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, err := cm.SelectVideo(ctx, "red", ids[(i+1)%n])
			// the target may already be gone
			if err != nil {
				assert.ErrorIs(t, err, models.ErrNotFound)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := cm.RemoveVideo(ctx, "red", ids[i])
				assert.NoError(t, err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _, err := cm.AddVideo(ctx, "red", fmt.Sprintf("https://x/extra-%d.mp4", i), models.VideoMeta{Loaded: i%3 == 0})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sel, err := cm.Selection(ctx, "red")
	require.NoError(t, err)
	videos, err := cm.ListVideos(ctx, "red")
	require.NoError(t, err)
	if sel != "" {
		var found bool
		for _, v := range videos {
			found = found || v.ID == sel
		}
		assert.True(t, found, "selection %q is not queued", sel)
	}

	var last *events.VideoSelected
	for _, evt := range bus.take() {
		if s, ok := evt.(events.VideoSelected); ok {
			last = &s
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, sel, last.VideoID)
}

func TestRemoveVideo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("removing the selection moves it to the next loaded video", func(t *testing.T) {
		cm, bus := newManager(t)
		a, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		b, _, _ := cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		removed, err := cm.RemoveVideo(ctx, "red", a.ID)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, a.ID, removed.ID)

		assert.Equal(t, []events.Event{
			events.VideoRemoved{Channel: "red", VideoID: a.ID},
			events.VideoSelected{Channel: "red", VideoID: b.ID},
		}, bus.take())
	})

	t.Run("removing the last video announces none", func(t *testing.T) {
		cm, bus := newManager(t)
		a, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		_, err := cm.RemoveVideo(ctx, "red", a.ID)
		require.NoError(t, err)
		assert.Equal(t, []events.Event{
			events.VideoRemoved{Channel: "red", VideoID: a.ID},
			events.VideoSelected{Channel: "red"},
		}, bus.take())

		sel, err := cm.Selection(ctx, "red")
		require.NoError(t, err)
		assert.Empty(t, sel)
	})

	t.Run("removing an unselected video keeps the selection", func(t *testing.T) {
		cm, bus := newManager(t)
		a, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		b, _, _ := cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		_, err := cm.RemoveVideo(ctx, "red", b.ID)
		require.NoError(t, err)
		assert.Equal(t, []events.Event{events.VideoRemoved{Channel: "red", VideoID: b.ID}}, bus.take())

		sel, _ := cm.Selection(ctx, "red")
		assert.Equal(t, a.ID, sel)
	})

	t.Run("unknown id is a silent no-op", func(t *testing.T) {
		cm, bus := newManager(t)
		removed, err := cm.RemoveVideo(ctx, "red", "missing")
		require.NoError(t, err)
		assert.Nil(t, removed)
		assert.Empty(t, bus.take())
	})
}

func TestUpdateVideo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("becoming loaded selects it", func(t *testing.T) {
		cm, bus := newManager(t)
		v, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{})
		bus.take()

		loaded := true
		updated, err := cm.UpdateVideo(ctx, "red", v.ID, models.VideoPatch{Loaded: &loaded})
		require.NoError(t, err)
		assert.True(t, updated.Loaded)

		assert.Equal(t, []events.Event{
			events.VideoUpdated{Channel: "red", Video: updated},
			events.VideoSelected{Channel: "red", VideoID: v.ID},
		}, bus.take())
	})

	t.Run("metadata change emits only the update", func(t *testing.T) {
		cm, bus := newManager(t)
		v, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		title := "Renamed"
		updated, err := cm.UpdateVideo(ctx, "red", v.ID, models.VideoPatch{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)
		assert.Equal(t, v.ID, updated.ID)
		assert.Equal(t, []events.Event{events.VideoUpdated{Channel: "red", Video: updated}}, bus.take())
	})

	t.Run("errors", func(t *testing.T) {
		cm, bus := newManager(t)
		a, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{})
		cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{})
		bus.take()

		_, err := cm.UpdateVideo(ctx, "red", a.ID, models.VideoPatch{})
		assert.ErrorIs(t, err, models.ErrEmptyPatch)
		_, err = cm.UpdateVideo(ctx, "red", "missing", models.VideoPatch{})
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = cm.UpdateVideo(ctx, "blue", a.ID, models.VideoPatch{})
		assert.ErrorIs(t, err, models.ErrNotFound)

		title := "x"
		_, err = cm.UpdateVideo(ctx, "red", "missing", models.VideoPatch{Title: &title})
		assert.ErrorIs(t, err, models.ErrNotFound)

		dup := "https://x/b.mp4"
		_, err = cm.UpdateVideo(ctx, "red", a.ID, models.VideoPatch{URL: &dup})
		assert.ErrorIs(t, err, models.ErrDuplicateURL)

		empty := ""
		_, err = cm.UpdateVideo(ctx, "red", a.ID, models.VideoPatch{URL: &empty})
		assert.ErrorIs(t, err, models.ErrEmptyURL)

		assert.Empty(t, bus.take())
	})
}

func TestSelectVideo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("replaces the selection", func(t *testing.T) {
		cm, bus := newManager(t)
		cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		b, _, _ := cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		id, err := cm.SelectVideo(ctx, "red", b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, id)
		assert.Equal(t, []events.Event{events.VideoSelected{Channel: "red", VideoID: b.ID}}, bus.take())

		sel, _ := cm.Selection(ctx, "red")
		assert.Equal(t, b.ID, sel)
	})

	t.Run("unknown id is not found and keeps the selection", func(t *testing.T) {
		cm, bus := newManager(t)
		a, _, _ := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
		bus.take()

		_, err := cm.SelectVideo(ctx, "red", "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = cm.SelectVideo(ctx, "red", "")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = cm.SelectVideo(ctx, "blue", a.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.Empty(t, bus.take())

		sel, _ := cm.Selection(ctx, "red")
		assert.Equal(t, a.ID, sel)
	})
}

func TestChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cm, _ := newManager(t)

	created, err := cm.CreateChannel(ctx, "red")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = cm.CreateChannel(ctx, "red")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = cm.AddVideo(ctx, "blue", "https://x/a.mp4", models.VideoMeta{})
	require.NoError(t, err)

	names, err := cm.ListChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blue", "red"}, names)

	videos, err := cm.ListVideos(ctx, "green")
	require.NoError(t, err)
	assert.Empty(t, videos)

	_, err = cm.CreateChannel(ctx, "ws")
	assert.ErrorIs(t, err, models.ErrReservedChannelName)
}

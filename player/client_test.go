package player_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-backend/database"
	"channel-sync-backend/events"
	"channel-sync-backend/handlers"
	"channel-sync-backend/models"
	"channel-sync-backend/player"
	"channel-sync-backend/services"
	"channel-sync-backend/state"
)

func newBackend(t *testing.T) (*httptest.Server, *state.ChannelManager) {
	t.Helper()
	bus := events.NewBus()
	cm := state.NewChannelManager(database.NewMemoryStore(), bus)
	b := services.NewBroadcaster(cm)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx, bus)
	require.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, time.Millisecond)

	router := mux.NewRouter()
	handlers.SetupChannelRoutes(router, cm)
	handlers.SetupVideoRoutes(router, cm)
	router.HandleFunc("/ws", handlers.WebSocketHandler(b, handlers.WebSocketOptions{}))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		bus.Close()
	})
	return srv, cm
}

func startClient(t *testing.T, srv *httptest.Server, channel string, opts ...player.ClientOption) (*player.Client, *player.Mirror) {
	t.Helper()
	mirror := player.NewMirror(channel)
	client, err := player.NewClient(srv.URL, mirror, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, client.Connect(ctx))
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		client.Close()
	})
	require.NoError(t, client.Seed(ctx))
	return client, mirror
}

func TestClientMirrorsChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, cm := newBackend(t)

	a, _, err := cm.AddVideo(ctx, "red", "https://x/a.mp4", models.VideoMeta{Loaded: true})
	require.NoError(t, err)

	client, mirror := startClient(t, srv, "red")
	assert.Equal(t, []string{a.ID}, ids(mirror.Entries()))
	assert.Equal(t, a.ID, mirror.Selected())

	b, _, err := cm.AddVideo(ctx, "red", "https://x/b.mp4", models.VideoMeta{Loaded: true})
	require.NoError(t, err)
	_, _, err = cm.AddVideo(ctx, "blue", "https://x/other.mp4", models.VideoMeta{Loaded: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(mirror.Entries()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.RequestSelect(ctx, "red", b.ID))
	require.Eventually(t, func() bool { return mirror.Selected() == b.ID }, 2*time.Second, 10*time.Millisecond)
	e, _ := mirror.Get(b.ID)
	assert.True(t, e.Played)

	_, err = cm.RemoveVideo(ctx, "red", a.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(mirror.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, b.ID, mirror.Selected())
}

func TestClientCallbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, _ := newBackend(t)

	changes := make(chan models.ChangeChannelPayload, 1)
	rejections := make(chan models.ErrorPayload, 1)
	client, _ := startClient(t, srv, "red",
		player.OnChangeChannel(func(p models.ChangeChannelPayload) { changes <- p }),
		player.OnError(func(p models.ErrorPayload) { rejections <- p }),
	)

	require.NoError(t, client.RequestSelect(ctx, "red", "missing"))
	select {
	case p := <-rejections:
		assert.Equal(t, models.TypeSelectVideo, p.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reply")
	}

	require.NoError(t, client.ChangeChannel("red", "blue"))
	select {
	case p := <-changes:
		assert.Equal(t, models.ChangeChannelPayload{From: "red", To: "blue"}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no change relayed")
	}
}

func TestClientSeedFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := player.NewClient(srv.URL, player.NewMirror("red"))
	require.NoError(t, err)
	err = client.Seed(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "couldn't load data")
}

func TestClientNotConnected(t *testing.T) {
	t.Parallel()
	client, err := player.NewClient("http://localhost:1", player.NewMirror("red"))
	require.NoError(t, err)

	assert.ErrorIs(t, client.RequestSelect(context.Background(), "red", "a"), player.ErrNotConnected)
	assert.ErrorIs(t, client.Run(context.Background()), player.ErrNotConnected)
	assert.NoError(t, client.Close())
}

func TestSeedAppliesEventsReceivedMeanwhile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, cm := newBackend(t)

	mirror := player.NewMirror("red")
	client, err := player.NewClient(srv.URL, mirror)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, client.Connect(runCtx))
	go client.Run(runCtx)
	defer client.Close()

	// mutate over HTTP before the snapshot is taken
	body, _ := json.Marshal(map[string]any{"url": "https://x/early.mp4", "loaded": true})
	resp, err := http.Post(srv.URL+"/api/channels/red/videos", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, client.Seed(ctx))
	require.Eventually(t, func() bool { return len(mirror.Entries()) == 1 && mirror.Selected() != "" },
		2*time.Second, 10*time.Millisecond)

	videos, err := cm.ListVideos(ctx, "red")
	require.NoError(t, err)
	assert.Equal(t, videos[0].ID, mirror.Selected())
}

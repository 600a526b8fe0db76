package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"channel-sync-backend/events"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when writing to a closed client.
var ErrNotConnected = errors.New("player: not connected")

// Client connects a Mirror to the server: it joins the channel over the
// websocket, seeds from the HTTP API, and sends selection requests.
type Client struct {
	base   *url.URL
	mirror *Mirror
	http   *http.Client
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	seeded  bool
	pending []events.Event

	onChangeChannel func(models.ChangeChannelPayload)
	onError         func(models.ErrorPayload)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// OnChangeChannel registers a callback for relayed changeChannel messages.
func OnChangeChannel(fn func(models.ChangeChannelPayload)) ClientOption {
	return func(c *Client) { c.onChangeChannel = fn }
}

// OnError registers a callback for error replies.
func OnError(fn func(models.ErrorPayload)) ClientOption {
	return func(c *Client) { c.onError = fn }
}

// NewClient targets serverURL (e.g. "http://localhost:8080") for mirror's channel.
func NewClient(serverURL string, mirror *Mirror, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	c := &Client{
		base:   base,
		mirror: mirror,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the websocket and joins the channel.
func (c *Client) Connect(ctx context.Context) error {
	ws := *c.base
	switch ws.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	ws.Path = ws.Path + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ws.String(), err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	return c.write(models.TypeJoinChannel, c.mirror.Channel())
}

// Seed loads the queue and selection over HTTP, then replays any events
// that arrived while the snapshot was in flight.
func (c *Client) Seed(ctx context.Context) error {
	var videos []models.Video
	if err := c.getJSON(ctx, "/api/channels/"+c.mirror.Channel()+"/videos", &videos); err != nil {
		return err
	}
	var sel struct {
		VideoID *string `json:"videoId"`
	}
	if err := c.getJSON(ctx, "/api/channels/"+c.mirror.Channel()+"/selection", &sel); err != nil {
		return err
	}
	selected := ""
	if sel.VideoID != nil {
		selected = *sel.VideoID
	}

	c.mu.Lock()
	c.mirror.Seed(videos, selected)
	for _, evt := range c.pending {
		c.mirror.Apply(evt)
	}
	c.pending = nil
	c.seeded = true
	c.mu.Unlock()
	c.logger.Info("mirror seeded", logger.Channel(c.mirror.Channel()), slog.Int("videos", len(videos)))
	return nil
}

// Run reads server messages into the mirror until ctx ends or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg models.Message) {
	switch msg.Type {
	case models.TypeChangeChannel:
		var p models.ChangeChannelPayload
		if err := msg.Decode(&p); err == nil && c.onChangeChannel != nil {
			c.onChangeChannel(p)
		}
		return
	case models.TypeError:
		var p models.ErrorPayload
		if err := msg.Decode(&p); err == nil {
			c.logger.Warn("server rejected request", slog.String("type", string(p.Type)), slog.String("message", p.Message))
			if c.onError != nil {
				c.onError(p)
			}
		}
		return
	}

	evt, err := events.Parse(msg)
	if err != nil {
		c.logger.Debug("ignoring message", logger.Event(string(msg.Type)), logger.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded {
		c.pending = append(c.pending, evt)
		return
	}
	c.mirror.Apply(evt)
}

// RequestSelect asks the server to select id. It implements Requester.
func (c *Client) RequestSelect(ctx context.Context, channel, id string) error {
	return c.write(models.TypeSelectVideo, models.SelectVideoPayload{ChannelName: channel, VideoID: id})
}

// ChangeChannel asks every viewer of from to switch to to.
func (c *Client) ChangeChannel(from, to string) error {
	return c.write(models.TypeChangeChannel, models.ChangeChannelPayload{From: from, To: to})
}

// Close closes the websocket.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(t models.MessageType, payload any) error {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	u := *c.base
	u.Path = u.Path + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("couldn't load data: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("couldn't load data: %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

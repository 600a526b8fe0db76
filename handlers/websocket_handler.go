package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"channel-sync-backend/logger"
	"channel-sync-backend/models"
	"channel-sync-backend/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 25 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 5 * time.Second
	maxMessageSize = 512 * 1024
)

// WebSocketOptions configures the websocket endpoint.
type WebSocketOptions struct {
	// SendBuffer bounds the per-client outbound queue. A client that falls
	// this far behind is disconnected.
	SendBuffer     int
	AllowedOrigins []string
	Logger         *slog.Logger
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	id          string
	conn        *websocket.Conn
	broadcaster *services.Broadcaster
	send        chan models.Message
	done        chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

// WebSocketHandler handles WebSocket connections.
func WebSocketHandler(b *services.Broadcaster, opts WebSocketOptions) http.HandlerFunc {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			opts.Logger.Warn("websocket upgrade failed", logger.Remote(r.RemoteAddr), logger.Error(err))
			return
		}

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		client := &WebSocketClient{
			id:          uuid.NewString(),
			conn:        conn,
			broadcaster: b,
			send:        make(chan models.Message, opts.SendBuffer),
			done:        make(chan struct{}),
		}
		client.logger = opts.Logger.With(logger.Member(client.id), logger.Remote(r.RemoteAddr))
		client.logger.Info("websocket client connected")

		go client.writePump()
		client.readPump()
	}
}

// ID identifies the client in broadcaster rooms.
func (c *WebSocketClient) ID() string { return c.id }

// Send queues msg without blocking. A full queue closes the client.
func (c *WebSocketClient) Send(msg models.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("send queue full, closing client", logger.Event(string(msg.Type)))
		c.close()
		return false
	}
}

func (c *WebSocketClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump handles messages from the client until the connection fails.
func (c *WebSocketClient) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.broadcaster.Disconnect(c)
		c.close()
		c.conn.Close()
		c.logger.Info("websocket client disconnected")
	}()

	// the write pump closing the client must also end the read loop
	go func() {
		<-c.done
		c.conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", logger.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.broadcaster.SendError(c, "", fmt.Errorf("%w: malformed message: %v", models.ErrValidation, err))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *WebSocketClient) dispatch(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.TypeJoinChannel:
		var channel string
		if err := msg.Decode(&channel); err != nil {
			c.broadcaster.SendError(c, msg.Type, err)
			return
		}
		if err := c.broadcaster.Join(ctx, c, channel); err != nil {
			c.broadcaster.SendError(c, msg.Type, err)
		}
	case models.TypeLeaveChannel:
		var channel string
		if err := msg.Decode(&channel); err != nil {
			c.broadcaster.SendError(c, msg.Type, err)
			return
		}
		c.broadcaster.Leave(c, channel)
	case models.TypeSelectVideo:
		var p models.SelectVideoPayload
		if err := msg.Decode(&p); err != nil {
			c.broadcaster.SendError(c, msg.Type, err)
			return
		}
		c.broadcaster.SelectVideo(ctx, c, p)
	case models.TypeChangeChannel:
		var p models.ChangeChannelPayload
		if err := msg.Decode(&p); err != nil {
			c.broadcaster.SendError(c, msg.Type, err)
			return
		}
		c.broadcaster.ChangeChannel(c, p)
	default:
		c.logger.Debug("unknown websocket message type", logger.Event(string(msg.Type)))
		c.broadcaster.SendError(c, msg.Type, fmt.Errorf("%w: unknown message type %q", models.ErrValidation, msg.Type))
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("websocket write failed", logger.Event(string(msg.Type)), logger.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping failed", logger.Error(err))
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"channel-sync-backend/events"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"
)

// Member is a connected client that can receive messages.
// Send must not block; it reports false when the message was not accepted.
type Member interface {
	ID() string
	Send(msg models.Message) bool
}

// Selector is the slice of the mutation API the broadcaster drives.
type Selector interface {
	SelectVideo(ctx context.Context, channel, id string) (string, error)
	Selection(ctx context.Context, channel string) (string, error)
}

// Subscriber is an event source. *events.Bus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, h events.Handler) (unsubscribe func())
}

// Broadcaster maps channels to rooms and forwards each event only to the
// members of its channel's room.
type Broadcaster struct {
	mu          sync.Mutex
	rooms       map[string]*room
	memberRooms map[string]map[string]struct{} // member id -> channels

	selector Selector
	logger   *slog.Logger
}

type room struct {
	mu      sync.Mutex // serializes catch-up and live delivery
	members map[string]Member
	dead    atomic.Bool
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

func WithBroadcasterLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBroadcaster(selector Selector, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		rooms:       make(map[string]*room),
		memberRooms: make(map[string]map[string]struct{}),
		selector:    selector,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run subscribes to src and forwards events until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context, src Subscriber) error {
	unsubscribe := src.Subscribe(ctx, b.HandleEvent)
	<-ctx.Done()
	unsubscribe()
	return nil
}

// HandleEvent delivers evt to every member of its channel's room.
func (b *Broadcaster) HandleEvent(evt events.Event) {
	msg, err := evt.Message()
	if err != nil {
		b.logger.Error("encode event", logger.Event(string(evt.Kind())), logger.Error(err))
		return
	}

	b.mu.Lock()
	r := b.rooms[evt.ChannelName()]
	b.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if !m.Send(msg) {
			b.logger.Warn("member dropped message",
				logger.Member(id), logger.Channel(evt.ChannelName()), logger.Event(string(msg.Type)))
		}
	}
}

/* ---------- membership ---------- */

// Join adds m to channel's room and sends it the current selection before
// any later event for that channel.
func (b *Broadcaster) Join(ctx context.Context, m Member, channel string) error {
	if err := models.ValidateChannelName(channel); err != nil {
		return err
	}

	for {
		r := b.room(channel)
		r.mu.Lock()
		if r.dead.Load() {
			// emptied and retired between lookup and lock
			r.mu.Unlock()
			continue
		}
		r.members[m.ID()] = m
		b.track(m.ID(), channel)

		sel, err := b.selector.Selection(ctx, channel)
		if err != nil {
			r.mu.Unlock()
			b.Leave(m, channel)
			return err
		}
		msg, err := events.VideoSelected{Channel: channel, VideoID: sel}.Message()
		if err == nil {
			m.Send(msg)
		}
		r.mu.Unlock()

		b.logger.Debug("member joined", logger.Member(m.ID()), logger.Channel(channel))
		return err
	}
}

// Leave removes m from channel's room.
func (b *Broadcaster) Leave(m Member, channel string) {
	b.leave(m.ID(), channel)

	b.mu.Lock()
	if set, ok := b.memberRooms[m.ID()]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(b.memberRooms, m.ID())
		}
	}
	b.mu.Unlock()
}

// Disconnect drops every membership of m. Nothing else is cancelled.
func (b *Broadcaster) Disconnect(m Member) {
	b.mu.Lock()
	channels := b.memberRooms[m.ID()]
	delete(b.memberRooms, m.ID())
	b.mu.Unlock()

	for ch := range channels {
		b.leave(m.ID(), ch)
	}
}

// Members returns how many members are in channel's room.
func (b *Broadcaster) Members(channel string) int {
	b.mu.Lock()
	r := b.rooms[channel]
	b.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

/* ---------- client requests ---------- */

// SelectVideo forwards a client's advisory selection to the mutation API.
// The resulting event reaches the whole room through the bus; failures are
// reported to the requester only.
func (b *Broadcaster) SelectVideo(ctx context.Context, m Member, p models.SelectVideoPayload) {
	if _, err := b.selector.SelectVideo(ctx, p.ChannelName, p.VideoID); err != nil {
		b.logger.Info("select rejected",
			logger.Member(m.ID()), logger.Channel(p.ChannelName), logger.VideoID(p.VideoID), logger.Error(err))
		b.SendError(m, models.TypeSelectVideo, err)
	}
}

// ChangeChannel relays {from, to} to every member of room from, sender included.
func (b *Broadcaster) ChangeChannel(m Member, p models.ChangeChannelPayload) {
	if err := models.ValidateChannelName(p.From); err != nil {
		b.SendError(m, models.TypeChangeChannel, err)
		return
	}
	if err := models.ValidateChannelName(p.To); err != nil {
		b.SendError(m, models.TypeChangeChannel, err)
		return
	}
	msg, err := models.NewMessage(models.TypeChangeChannel, p)
	if err != nil {
		b.SendError(m, models.TypeChangeChannel, err)
		return
	}

	b.mu.Lock()
	r := b.rooms[p.From]
	b.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, member := range r.members {
		member.Send(msg)
	}
}

// SendError reports a failed request of type t to m.
func (b *Broadcaster) SendError(m Member, t models.MessageType, err error) {
	msg, merr := models.NewMessage(models.TypeError, models.ErrorPayload{Type: t, Message: err.Error()})
	if merr != nil {
		return
	}
	m.Send(msg)
}

/* ---------- helpers ---------- */

func (b *Broadcaster) room(channel string) *room {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[channel]
	if !ok || r.dead.Load() {
		r = &room{members: make(map[string]Member)}
		b.rooms[channel] = r
	}
	return r
}

func (b *Broadcaster) track(memberID, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.memberRooms[memberID]
	if !ok {
		set = make(map[string]struct{})
		b.memberRooms[memberID] = set
	}
	set[channel] = struct{}{}
}

func (b *Broadcaster) leave(memberID, channel string) {
	b.mu.Lock()
	r := b.rooms[channel]
	b.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.members, memberID)
	empty := len(r.members) == 0
	if empty {
		r.dead.Store(true)
	}
	r.mu.Unlock()

	if empty {
		b.mu.Lock()
		if b.rooms[channel] == r {
			delete(b.rooms, channel)
		}
		b.mu.Unlock()
	}
}

package events

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"channel-sync-backend/logger"
)

// Handler receives events in publish order.
type Handler func(Event)

// Bus relays events to any number of subscribers.
// Every subscriber owns an unbounded FIFO queue drained by its own goroutine,
// so Publish never blocks on a slow handler and never drops an event.
//
// Example:
//
//	bus := events.NewBus(events.WithLogger(log))
//	unsubscribe := bus.Subscribe(ctx, func(evt events.Event) { ... })
//	defer unsubscribe()
//	_ = bus.Publish(ctx, events.VideoSelected{Channel: "default"})
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues evt for every current subscriber and returns immediately.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs {
		s.push(evt)
	}
	return nil
}

// Subscribe registers h and returns a function that removes it.
// The subscription is also removed when ctx is cancelled.
// Events already queued for h are still delivered after removal.
func (b *Bus) Subscribe(ctx context.Context, h Handler) (unsubscribe func()) {
	s := newSubscriber(h)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run(b.logger)

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.close()
		})
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				unsubscribe()
			case <-s.stopped:
			}
		}()
	}
	return unsubscribe
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further publishes and waits until every subscriber
// has drained its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	for _, s := range subs {
		<-s.done
	}
}

/* ---------- subscriber ---------- */

type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	handler Handler
	stopped chan struct{} // closed by close()
	done    chan struct{} // closed when run returns
}

func newSubscriber(h Handler) *subscriber {
	s := &subscriber{
		handler: h,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(evt Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, evt)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stopped)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) run(log *slog.Logger) {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, evt := range batch {
			s.deliver(log, evt)
		}
	}
}

func (s *subscriber) deliver(log *slog.Logger, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked",
				logger.Event(string(evt.Kind())),
				logger.Channel(evt.ChannelName()),
				slog.Any("panic", r))
		}
	}()
	s.handler(evt)
}

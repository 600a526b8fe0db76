package player

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"channel-sync-backend/logger"
)

// Requester sends an advisory selection to the server.
type Requester interface {
	RequestSelect(ctx context.Context, channel, id string) error
}

// Scheduler picks the next video among loaded videos not yet played in the
// current epoch. When every loaded video has played, a new epoch starts.
type Scheduler struct {
	mirror *Mirror
	req    Requester
	logger *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRand fixes the random source, mainly for tests.
func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) {
		if r != nil {
			s.rnd = r
		}
	}
}

func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewScheduler(mirror *Mirror, req Requester, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		mirror: mirror,
		req:    req,
		logger: logger.Discard(),
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextVideo requests a uniformly random pick among the candidates and
// returns its id. With no loaded video it does nothing and returns "".
// The pick is marked played only once the server confirms it.
func (s *Scheduler) NextVideo(ctx context.Context) (string, error) {
	ids, reset := s.mirror.candidates()
	if reset {
		s.logger.Debug("new epoch", logger.Channel(s.mirror.Channel()))
	}
	if len(ids) == 0 {
		return "", nil
	}

	s.mu.Lock()
	id := ids[s.rnd.IntN(len(ids))]
	s.mu.Unlock()

	if err := s.req.RequestSelect(ctx, s.mirror.Channel(), id); err != nil {
		return "", err
	}
	s.logger.Debug("next video requested", logger.Channel(s.mirror.Channel()), logger.VideoID(id))
	return id, nil
}

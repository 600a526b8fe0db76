// Command player is a headless viewer: it mirrors one channel, logs what is
// playing and asks the server for the next video when the current one ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-sync-backend/events"
	"channel-sync-backend/logger"
	"channel-sync-backend/models"
	"channel-sync-backend/player"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type playerConfig struct {
	ServerURL string        `env:"PLAYER_SERVER_URL" envDefault:"http://localhost:8080"`
	Channel   string        `env:"PLAYER_CHANNEL" envDefault:"default"`
	Fallback  time.Duration `env:"PLAYER_FALLBACK_DURATION" envDefault:"30s"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string        `env:"LOG_FORMAT" envDefault:"text"`
}

func main() {
	_ = godotenv.Load()

	cfg := playerConfig{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Backend base URL")
	flag.StringVar(&cfg.Channel, "channel", cfg.Channel, "Channel to watch")
	flag.DurationVar(&cfg.Fallback, "fallback", cfg.Fallback, "Play time for videos without a duration")
	flag.Parse()

	if err := models.ValidateChannelName(cfg.Channel); err != nil {
		fmt.Fprintf(os.Stderr, "channel %q: %v\n", cfg.Channel, err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).With(logger.Component("player"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel := cfg.Channel
	for channel != "" {
		next, err := watch(ctx, cfg, channel, log)
		if err != nil {
			log.Error("player stopped", logger.Channel(channel), logger.Error(err))
			os.Exit(1)
		}
		channel = next
	}
}

// watch plays channel until ctx ends or the room is asked to move. It
// returns the channel to switch to, or "" to stop.
func watch(ctx context.Context, cfg playerConfig, channel string, log *slog.Logger) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log = log.With(logger.Channel(channel))
	mirror := player.NewMirror(channel)

	switchTo := make(chan string, 1)
	client, err := player.NewClient(cfg.ServerURL, mirror,
		player.WithClientLogger(log),
		player.OnChangeChannel(func(p models.ChangeChannelPayload) {
			if p.From != channel || p.To == channel {
				return
			}
			select {
			case switchTo <- p.To:
			default:
			}
		}),
	)
	if err != nil {
		return "", err
	}
	scheduler := player.NewScheduler(mirror, client, player.WithSchedulerLogger(log))

	selected := make(chan string, 1)
	mirror.OnChange(func(evt events.Event) {
		sel, ok := evt.(events.VideoSelected)
		if !ok {
			return
		}
		// keep only the latest selection
		select {
		case <-selected:
		default:
		}
		selected <- sel.VideoID
	})

	if err := client.Connect(ctx); err != nil {
		return "", err
	}
	defer client.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	if err := client.Seed(ctx); err != nil {
		log.Error("couldn't load data", logger.Error(err))
		return "", err
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	play := func(id string) {
		timer.Stop()
		if id == "" {
			log.Info("nothing to play")
			return
		}
		entry, ok := mirror.Get(id)
		if !ok {
			log.Info("selected video not mirrored", logger.VideoID(id))
			timer.Reset(cfg.Fallback)
			return
		}
		d := cfg.Fallback
		if entry.Duration > 0 {
			d = time.Duration(entry.Duration * float64(time.Second))
		}
		log.Info("now playing", logger.VideoID(id), slog.String("title", entry.Title),
			slog.String("url", entry.URL), logger.Duration(d))
		timer.Reset(d)
	}

	play(mirror.Selected())
	if mirror.Selected() == "" {
		requestNext(ctx, scheduler, log)
	}

	for {
		select {
		case <-ctx.Done():
			return "", nil
		case to := <-switchTo:
			log.Info("switching channel", slog.String("to", to))
			return to, nil
		case err := <-runErr:
			if err == nil || errors.Is(err, context.Canceled) {
				return "", nil
			}
			return "", err
		case id := <-selected:
			play(id)
		case <-timer.C:
			requestNext(ctx, scheduler, log)
		}
	}
}

func requestNext(ctx context.Context, s *player.Scheduler, log *slog.Logger) {
	id, err := s.NextVideo(ctx)
	if err != nil {
		log.Warn("next video request failed", logger.Error(err))
		return
	}
	if id == "" {
		log.Debug("no loaded video to request")
	}
}

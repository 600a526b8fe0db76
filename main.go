package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-sync-backend/config"
	"channel-sync-backend/database"
	"channel-sync-backend/events"
	"channel-sync-backend/handlers"
	"channel-sync-backend/logger"
	"channel-sync-backend/services"
	"channel-sync-backend/state"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env")
	flag.Parse()

	/* ─── CONFIG ────────────────────────────────────────────────────────── */
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	/* ─── STORE ─────────────────────────────────────────────────────────── */
	store, err := database.Open(ctx, cfg, log.With(logger.Component("store")))
	if err != nil {
		log.Error("failed to open store", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("store close", logger.Error(err))
		}
	}()

	/* ─── CORE ──────────────────────────────────────────────────────────── */
	bus := events.NewBus(events.WithLogger(log.With(logger.Component("bus"))))
	channelManager := state.NewChannelManager(store, bus,
		state.WithLogger(log.With(logger.Component("channels"))))
	broadcaster := services.NewBroadcaster(channelManager,
		services.WithBroadcasterLogger(log.With(logger.Component("broadcaster"))))

	if cfg.DefaultChannel != "" {
		if _, err := channelManager.CreateChannel(ctx, cfg.DefaultChannel); err != nil {
			log.Warn("could not create default channel", logger.Channel(cfg.DefaultChannel), logger.Error(err))
		}
	}

	/* ─── ROUTER ────────────────────────────────────────────────────────── */
	router := mux.NewRouter()
	handlers.SetupHealthRoute(router, store)
	handlers.SetupChannelRoutes(router, channelManager)
	handlers.SetupVideoRoutes(router, channelManager)
	router.HandleFunc("/ws", handlers.WebSocketHandler(broadcaster, handlers.WebSocketOptions{
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log.With(logger.Component("ws")),
	}))

	/* ─── CORS & SERVER ─────────────────────────────────────────────────── */
	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(cfg.AllowedOrigins),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type"}),
	)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           cors(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return broadcaster.Run(gctx, bus) })

	/* loaded-probe sync -------------------------------------------------- */
	if cfg.ProbeEnabled {
		probe, err := services.NewMediaProbe(gctx, cfg.AWSRegion, cfg.ProbeTimeout)
		if err != nil {
			log.Error("failed to init media probe", logger.Error(err))
			os.Exit(1)
		}
		syncService := services.NewSyncService(channelManager, probe, cfg.ProbeInterval,
			log.With(logger.Component("sync")))
		g.Go(func() error { return syncService.Run(gctx) })
	} else {
		log.Info("media probe disabled (PROBE_ENABLED=false)")
	}

	g.Go(func() error {
		log.Info("backend listening", "addr", cfg.ListenAddr, "driver", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", logger.Error(err))
	}
	bus.Close()
	log.Info("shutdown complete")
}

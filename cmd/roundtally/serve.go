package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/api"
	"github.com/ernie/roundtally/internal/auth"
	"github.com/ernie/roundtally/internal/checkpoint"
	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/config"
	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/identity"
	"github.com/ernie/roundtally/internal/leaderboard"
	"github.com/ernie/roundtally/internal/notify"
	"github.com/ernie/roundtally/internal/storage"
)

// cmdServe starts the ingestion and leaderboard server
func cmdServe(args []string) {
	cfg := mustLoadConfig(args, "serve")

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("roundtally starting",
		zap.String("version", version),
		zap.Int("servers", len(cfg.GameServers)))

	// Initialize storage
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	checkpoints, err := checkpoint.NewFileStore(cfg.Checkpoints.Dir, logger)
	if err != nil {
		return err
	}
	logs, err := collector.NewLogFiles(cfg.Logs.Dir)
	if err != nil {
		return err
	}

	// One sequencer for the whole process keeps match numbers monotonic
	runner := collector.NewRunner(logs, checkpoints, store, collector.NewSequencer(store), logger)

	servers := make([]domain.Server, len(cfg.GameServers))
	serverIDs := make([]int64, len(cfg.GameServers))
	for i, gs := range cfg.GameServers {
		servers[i] = domain.Server{ID: gs.ID, Name: gs.Name}
		serverIDs[i] = gs.ID
	}
	scheduler := collector.NewScheduler(runner, collector.SchedulerConfig{
		ServerIDs:     serverIDs,
		Interval:      cfg.Ingest.Interval,
		RunTimeout:    cfg.Ingest.RunTimeout,
		StaleAfter:    cfg.Ingest.StaleAfter,
		InterRunDelay: cfg.Ingest.InterRunDelay,
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
	}, logger)

	// Identity and leaderboard
	var profiles identity.ProfileLookup
	if cfg.Identity.SteamAPIKey != "" {
		profiles = identity.NewSteamClient(cfg.Identity.SteamAPIKey, cfg.Identity.ProfileRPS, cfg.Identity.ProfileTimeout)
	} else {
		logger.Info("no steam api key, unlinked players get placeholder names")
	}
	converter := identity.NewConverter(cfg.Identity.Overrides, cfg.Identity.LegacyUniverse)
	resolver := identity.NewResolver(converter, store, profiles, cfg.Identity.ProfileTimeout, logger)

	var cache leaderboard.Cache = leaderboard.NewMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("redis unreachable, cache reads will fall through to the database",
				zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		}
		cache = leaderboard.NewRedisCache(rdb, "roundtally:")
		logger.Info("using redis leaderboard cache", zap.String("addr", cfg.Cache.RedisAddr))
	}
	board := leaderboard.NewService(store, resolver, cache, cfg.Cache.TTL, logger)
	scheduler.AddSink(board)

	var resetSinks []api.ResetSink
	if cfg.Notify.NATSURL != "" {
		publisher, err := notify.Connect(cfg.Notify.NATSURL, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		scheduler.AddSink(publisher)
		resetSinks = append(resetSinks, publisher)
		logger.Info("publishing run summaries to nats", zap.String("url", cfg.Notify.NATSURL))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create HTTP router
	router := api.NewRouter(api.Options{
		Scheduler:   scheduler,
		Leaderboard: board,
		Auth:        auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration),
		Health:      store,
		Servers:     servers,
		ResetSinks:  resetSinks,
		Logger:      logger,
	})
	router.StartWebSocketHub(ctx)

	scheduler.Start(ctx)
	logger.Info("scheduler started", zap.Duration("interval", cfg.Ingest.Interval))

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 2 * time.Minute,
		// Uploads run ingestion before responding
		WriteTimeout: cfg.Ingest.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for signal or error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	scheduler.Stop()
	cancel()
	logger.Info("shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/gexbot-engine/internal/api"
	"github.com/dgnsrekt/gexbot-engine/internal/config"
	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
	"github.com/dgnsrekt/gexbot-engine/internal/notify"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
	"github.com/dgnsrekt/gexbot-engine/internal/server"
	"github.com/dgnsrekt/gexbot-engine/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env", zap.Error(err))
	}

	// Load config
	cfg, err := config.Load(os.Getenv("GEXBOT_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("storePath", cfg.Store.Path),
		zap.Strings("symbols", cfg.Refresh.Symbols),
		zap.Bool("refreshEnabled", cfg.Refresh.Enabled),
		zap.Bool("wsEnabled", cfg.Server.WSEnabled),
		zap.Bool("notifyEnabled", cfg.Notify.Enabled),
	)

	// Load store
	store, err := data.OpenStore(cfg.Store.Path, cfg.Store.MaxHistory, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	store.Seed(cfg.Refresh.Symbols...)

	client := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		cfg.API.RatePerSecond,
		cfg.API.Timeout(),
		cfg.API.RetryDelayDuration(),
		cfg.API.RetryCount,
		logger,
	)

	location := cfg.Refresh.Location()
	service := data.NewService(store, client, logger)
	aggregator := exposure.NewAggregator(location, cfg.Exposure.Workers, cfg.Exposure.MaxGridPoints, logger)

	scheduler := refresh.NewScheduler(service, client, refresh.RealClock{}, refresh.Options{
		SymbolDelay:      cfg.Refresh.SymbolDelay(),
		FallbackInterval: cfg.Refresh.Fallback(),
		ClosedInterval:   cfg.Refresh.Closed(),
		MinInterval:      cfg.Refresh.MinInterval(),
		Location:         location,
	}, logger)
	scheduler.OnCycle(notify.CycleHook(notify.New(&cfg.Notify, logger), logger))

	// Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket components (optional)
	var (
		hub     *ws.Hub
		publish server.PublishFunc
	)
	if cfg.Server.WSEnabled {
		hub = ws.NewHub(logger)
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})

		publisher := ws.NewPublisher(hub, aggregator, logger)
		scheduler.OnCycle(publisher.CycleHook())
		publish = publisher.Publish
	}

	srv := server.NewServer(server.Deps{
		Snapshots:  service,
		Refreshes:  server.NewRefreshManager(service, publish, logger),
		Aggregator: aggregator,
		Quotes:     client,
		Scheduler:  scheduler,
		Hub:        hub,
	}, &cfg.Server, logger)

	router, err := server.NewRouter(srv, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.Refresh.Enabled {
		g.Go(func() error {
			return scheduler.Run(ctx)
		})
	} else {
		logger.Info("refresh scheduler disabled")
	}

	// Graceful HTTP server shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	redisadapter "leaderkit/adapters/redis"
	"leaderkit/api/httpapi"
	"leaderkit/config"
	"leaderkit/core"
	"leaderkit/engine"
	"leaderkit/metrics"
	"leaderkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *redisadapter.Store
	Hub     *realtime.Hub
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
}

// BuildApp wires configuration, store, service, and HTTP surface together.
func BuildApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := setupLogging(cfg)

	store, err := redisadapter.New(redisadapter.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Prepare(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := realtime.NewHub()
	bus := engine.NewEventBus(engine.DispatchAsync)
	// Bridge all board events to realtime subscribers.
	for _, typ := range []core.EventType{core.EventScoreUpdated, core.EventMemberRemoved, core.EventBoardCleared} {
		bus.Subscribe(typ, func(ctx context.Context, ev core.Event) { hub.Broadcast(ctx, ev) })
	}

	svc := engine.NewService(store, cfg.Board.Options(), bus)

	var mgr *metrics.Manager
	metricsPath := ""
	if cfg.Metrics.Enabled {
		mgr = metrics.NewManager()
		metricsPath = cfg.Metrics.Path
		bindMetrics(bus, mgr)
	}

	handler := httpapi.NewRouter(svc, hub, mgr, httpapi.Options{
		PathPrefix:  cfg.Server.PathPrefix,
		MetricsPath: metricsPath,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Hub:     hub,
		Service: svc,
		Handler: handler,
		Server:  server,
	}, nil
}

// bindMetrics counts board events as they flow through the bus.
func bindMetrics(bus *engine.EventBus, mgr *metrics.Manager) {
	bus.Subscribe(core.EventScoreUpdated, func(context.Context, core.Event) { mgr.RecordScoreUpdates(1) })
	bus.Subscribe(core.EventMemberRemoved, func(context.Context, core.Event) { mgr.RecordMembersRemoved(1) })
	bus.Subscribe(core.EventBoardCleared, func(context.Context, core.Event) { mgr.RecordBoardCleared() })
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

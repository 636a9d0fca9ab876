package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/feed"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/restapi"
)

func main() {
	var (
		configPath string
		port       int
		env        string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.IntVar(&port, "port", 0, "API server port (overrides config)")
	flag.StringVar(&env, "env", "", "Environment (development|test|production)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(logLevel))
	slog.SetDefault(logger)

	cfg, err := appconf.Load(configPath)
	if err != nil {
		logging.LogError(logger, "failed to load configuration", err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if env != "" {
		cfg.EnvName = env
		cfg.Env = appconf.EnvFlagToEnvironment(env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "server stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appconf.Config, logger *slog.Logger) error {
	application, closeApp, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp()

	if cfg.Feed.FeedEnabled() {
		poller := feed.NewPoller(cfg.Feed, application.Ingest, logger)
		poller.Start()
		defer poller.Shutdown()
	}

	api := restapi.NewRestAPI(application)
	defer api.Shutdown()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "env", cfg.Env.String())
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by the server; the registry
	// closes them when closeApp runs.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server shut down successfully")
	return nil
}

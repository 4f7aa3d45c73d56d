package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/handlers"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/replay"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/cdc/internal/server"
	"github.com/leadpulse/leadpulse/common/config"
	"github.com/leadpulse/leadpulse/common/logging"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service(cfg.Service.Name))
	logging.SetDefault(logger)

	slog.Info("Starting CDC service",
		slog.String("mode", cfg.CDC.Mode),
		slog.Any("channels", cfg.CDC.Channels),
		slog.String("addr", cfg.Server.Addr),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger.Logger); err != nil {
		slog.Error("CDC service failed", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("CDC service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Cursor store
	cursors, err := replay.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open replay store: %w", err)
	}
	defer cursors.Close()

	// Salesforce record access
	sf, err := salesforce.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open salesforce backend: %w", err)
	}

	// Decision log
	emitter, err := flywheel.NewEmitter(flywheel.Config{
		Enabled:  cfg.Flywheel.Enabled,
		LogDir:   cfg.Flywheel.LogDir,
		ClientID: cfg.Flywheel.ClientID,
	}, logger)
	if err != nil {
		return err
	}

	// Routing policy
	policy, err := routing.NewPolicyHolder(cfg.Routing.PolicyPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load routing policy: %w", err)
	}
	if cfg.Routing.ReloadInterval > 0 {
		go policy.Watch(ctx, cfg.Routing.ReloadInterval, func(p *routing.Policy) {
			metrics.SystemInfo.Reset()
			metrics.SystemInfo.WithLabelValues(cfg.Service.Version, p.Version, cfg.CDC.Mode).Set(1)
		})
	}

	resolver := firsttouch.NewResolver(sf, emitter, logger)
	router := routing.NewRouter(sf, policy, emitter, logger)

	// Shared JetStream connection for the jetstream source and DLQ backend
	var js *jetStreamConn
	if cfg.CDC.Mode == config.ModeJetStream || cfg.DLQ.Backend == "jetstream" {
		js, err = connectJetStream(cfg, logger)
		if err != nil {
			return err
		}
		defer js.Close()
	}

	dead, err := openDLQ(ctx, cfg, js, logger)
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, sf, cursors, js, logger)
	if err != nil {
		return err
	}

	d := dispatcher.New(cursors, dead, dispatcher.Config{
		ReconnectMin: cfg.CDC.ReconnectMin,
		ReconnectMax: cfg.CDC.ReconnectMax,
	}, logger)
	registerHandlers(d, cfg.CDC.Channels, router, resolver, logger)

	metrics.SystemInfo.WithLabelValues(cfg.Service.Version, policy.Version(), src.Name()).Set(1)

	// Ops HTTP server
	ops := handlers.NewOpsHandler(d, policy, handlers.BuildInfo{
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	})
	if js != nil {
		ops.WithBroker(js)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewRouter(ops, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(runCtx, src, cfg.CDC.Channels) }()

	var result error
	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			result = fmt.Errorf("dispatcher stopped: %w", err)
		}
	case err := <-serveErr:
		result = fmt.Errorf("ops server: %w", err)
		cancel()
		<-runErr
	}

	logger.Info("Shutting down ops server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Ops server forced to shutdown", logging.Error(err))
	}

	return result
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/disaster-ingest/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/disaster-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/disaster-ingest/internal/config"
	"github.com/couchcryptid/disaster-ingest/internal/connector"
	"github.com/couchcryptid/disaster-ingest/internal/observability"
	"github.com/couchcryptid/disaster-ingest/internal/stac"
	"github.com/couchcryptid/disaster-ingest/internal/store"
	"github.com/couchcryptid/disaster-ingest/internal/task"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close() //nolint:errcheck

	connectors, err := config.LoadConnectors(cfg.ConnectorsFile)
	if err != nil {
		logger.Error("failed to load connector seed file", "error", err)
		os.Exit(1)
	}
	if err := db.SeedConnectors(context.Background(), connectors); err != nil {
		logger.Error("failed to seed connectors", "error", err)
		os.Exit(1)
	}
	logger.Info("connectors registered", "count", len(connectors))

	// Alert publishing is feature-flagged via ALERTS_ENABLED / KAFKA_BROKERS.
	var alerts connector.AlertPublisher
	var alertWriter *kafkaadapter.Writer
	if cfg.AlertsEnabled {
		alertWriter = kafkaadapter.NewWriter(cfg, logger)
		alerts = alertWriter
		logger.Info("alert publishing enabled", "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("alert publishing disabled")
	}

	stacClient := stac.NewClient(cfg.STACTimeout, logger)
	registry := connector.NewRegistry()
	loader := connector.NewLoader(db, alerts, logger, metrics)
	extractor := connector.NewExtractor(stacClient, db, loader, clock, cfg.WindowDays, logger, metrics)
	filter := connector.NewFilter(db, logger, metrics)

	runner := task.NewRunner(db, registry, extractor, filter, clock, logger, metrics,
		cfg.TaskMaxAttempts, cfg.TaskBaseBackoff, cfg.TaskMaxBackoff)

	subscriber, err := task.NewSubscriber(cfg.NATSURL, runner, cfg.TaskTimeout, logger, metrics)
	if err != nil {
		logger.Error("failed to connect task subscriber", "error", err)
		os.Exit(1)
	}
	if err := subscriber.Start(); err != nil {
		logger.Error("failed to start task subscriber", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, subscriber, db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	subscriber.Close()
	if alertWriter != nil {
		if err := alertWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
	"github.com/leadpulse/leadpulse/cdc/internal/dlq"
	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/cdc/internal/source"
	"github.com/leadpulse/leadpulse/cdc/internal/workloads"
	"github.com/leadpulse/leadpulse/common/config"
	"github.com/leadpulse/leadpulse/common/logging"
	natsclient "github.com/leadpulse/leadpulse/common/messaging/nats"
)

type jetStreamConn = natsclient.JetStreamClient

func connectJetStream(cfg *config.Config, logger *slog.Logger) (*jetStreamConn, error) {
	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	return js, nil
}

func openDLQ(ctx context.Context, cfg *config.Config, js *jetStreamConn, logger *slog.Logger) (dlq.Writer, error) {
	switch cfg.DLQ.Backend {
	case "jetstream":
		q, err := dlq.NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JetStream DLQ: %w", err)
		}
		logger.Info("Dead Letter Queue enabled", slog.String("backend", "jetstream"))
		return q, nil
	case "", "file":
		q, err := dlq.NewQueue(cfg.DLQ.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file DLQ: %w", err)
		}
		logger.Info("Dead Letter Queue enabled",
			slog.String("backend", "file"),
			slog.String("path", cfg.DLQ.BasePath))
		return q, nil
	default:
		logger.Warn("Dead Letter Queue disabled; failed envelopes are dropped after logging")
		return dlq.Nop{}, nil
	}
}

func openSource(ctx context.Context, cfg *config.Config, sf salesforce.Store, marks source.WatermarkStore, js *jetStreamConn, logger *slog.Logger) (source.Source, error) {
	switch cfg.CDC.Mode {
	case config.ModeJetStream:
		return source.NewJetStream(ctx, js, cfg.NATS.Stream, cfg.CDC.LongPollWait, logger)
	case config.ModeKafka:
		return source.NewKafka(source.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			ClientID:    cfg.Kafka.ClientID,
			TopicPrefix: cfg.Kafka.TopicPrefix,
		}, logger, kgo.FetchMaxWait(cfg.CDC.LongPollWait))
	case config.ModePoll:
		return source.NewPoller(sf, marks, source.PollConfig{
			Interval:  cfg.CDC.PollingInterval,
			BatchSize: cfg.CDC.PollBatchSize,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown cdc mode %q", cfg.CDC.Mode)
	}
}

// registerHandlers binds each configured channel to the workload for its entity.
func registerHandlers(d *dispatcher.Dispatcher, channels []string, router *routing.Router, resolver *firsttouch.Resolver, logger *slog.Logger) {
	for _, ch := range channels {
		entity := dispatcher.Classify(ch)
		switch entity {
		case models.EntityLead:
			d.Register(ch, workloads.NewLeadHandler(router, logger))
		case models.EntityTask:
			d.Register(ch, workloads.NewTaskHandler(resolver, logger))
		case models.EntityEmailMessage:
			d.Register(ch, workloads.NewEmailHandler(resolver, logger))
		default:
			logger.Warn("No workload for channel", logging.Channel(ch), logging.Entity(entity))
			continue
		}
		logger.Info("Registered handler", logging.Channel(ch), logging.Entity(entity))
	}
}

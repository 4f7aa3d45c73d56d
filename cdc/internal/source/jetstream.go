package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/common/messaging"
	"github.com/leadpulse/leadpulse/common/messaging/nats"
)

const defaultFetchWait = 5 * time.Second

// JetStreamSource reads CDC events that a bridge has published to the
// CDC_EVENTS stream. Tokens are stream sequence numbers.
type JetStreamSource struct {
	js        *nats.JetStreamClient
	stream    string
	fetchWait time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewJetStream ensures the events stream exists under the given name.
func NewJetStream(ctx context.Context, js *nats.JetStreamClient, streamName string, fetchWait time.Duration, logger *slog.Logger) (*JetStreamSource, error) {
	if js == nil {
		return nil, errors.New("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if fetchWait <= 0 {
		fetchWait = defaultFetchWait
	}

	cfg := nats.CDCEventsStream
	if streamName != "" {
		cfg.Name = streamName
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return nil, err
	}

	return &JetStreamSource{
		js:        js,
		stream:    cfg.Name,
		fetchWait: fetchWait,
		batchSize: 100,
		logger:    logger.With(slog.String("component", "source.jetstream")),
	}, nil
}

func (s *JetStreamSource) Name() string { return "jetstream" }

// Subscribe opens an ordered consumer filtered to the channel subject.
func (s *JetStreamSource) Subscribe(ctx context.Context, channel, fromToken string) (Stream, error) {
	cfg, err := consumerConfig(channel, fromToken)
	if err != nil {
		return nil, err
	}

	cons, err := s.js.OrderedConsumer(ctx, s.stream, cfg)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Subscribed to source",
		slog.String("channel", channel),
		slog.String("subject", cfg.FilterSubjects[0]),
		slog.String("from_token", fromToken))

	return &jetStreamStream{
		channel:   channel,
		cons:      cons,
		fetchWait: s.fetchWait,
		batchSize: s.batchSize,
		done:      make(chan struct{}),
	}, nil
}

// consumerConfig resumes after the sequence in token, or from new messages
// when there is none.
func consumerConfig(channel, token string) (jetstream.OrderedConsumerConfig, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectForChannel(channel)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	}
	if token == "" {
		return cfg, nil
	}
	seq, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid jetstream token %q for %s: %w", token, channel, err)
	}
	cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
	cfg.OptStartSeq = seq + 1
	return cfg, nil
}

type jetStreamStream struct {
	channel   string
	cons      jetstream.Consumer
	fetchWait time.Duration
	batchSize int

	pending []jetstream.Msg
	done    chan struct{}
	once    sync.Once
}

func (s *jetStreamStream) Next(ctx context.Context) (*models.Envelope, error) {
	for {
		select {
		case <-s.done:
			return nil, ErrEndOfStream
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			return decodeJetStream(s.channel, msg)
		}

		batch, err := s.cons.Fetch(s.batchSize, jetstream.FetchMaxWait(s.fetchWait))
		if err != nil {
			if errors.Is(err, natsgo.ErrTimeout) {
				continue
			}
			if errors.Is(err, natsgo.ErrConnectionClosed) || errors.Is(err, jetstream.ErrConsumerDeleted) {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("fetch %s: %w", s.channel, err)
		}
		for msg := range batch.Messages() {
			s.pending = append(s.pending, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) && len(s.pending) == 0 {
			if errors.Is(err, natsgo.ErrConnectionClosed) {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("fetch %s: %w", s.channel, err)
		}
	}
}

func decodeJetStream(channel string, msg jetstream.Msg) (*models.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("message metadata on %s: %w", channel, err)
	}
	token := strconv.FormatUint(md.Sequence.Stream, 10)

	env, err := models.ParseEvent(channel, msg.Data())
	if err != nil {
		return nil, &DecodeError{Channel: channel, Token: token, Raw: msg.Data(), Err: err}
	}
	env.Token = token
	return env, nil
}

func (s *jetStreamStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

var _ Source = (*JetStreamSource)(nil)

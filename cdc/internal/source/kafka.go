package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
)

// KafkaConfig locates the topics a CDC bridge writes to.
type KafkaConfig struct {
	Brokers     []string
	ClientID    string
	TopicPrefix string
}

// KafkaSource reads one topic per channel. Each topic is expected to have a
// single partition so channel order is total; tokens are "partition:offset".
type KafkaSource struct {
	cfg    KafkaConfig
	opts   []kgo.Opt
	logger *slog.Logger
}

// NewKafka validates cfg. Extra options are appended to every client.
func NewKafka(cfg KafkaConfig, logger *slog.Logger, opts ...kgo.Opt) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka.brokers is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "source.kafka")),
	}, nil
}

func (s *KafkaSource) Name() string { return "kafka" }

// Topic maps /data/LeadChangeEvent to {prefix}.data.LeadChangeEvent.
func (s *KafkaSource) Topic(channel string) string {
	return TopicForChannel(s.cfg.TopicPrefix, channel)
}

// TopicForChannel joins prefix and the channel path with dots.
func TopicForChannel(prefix, channel string) string {
	name := strings.ReplaceAll(strings.Trim(channel, "/"), "/", ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// EncodeToken renders a partition offset as a token.
func EncodeToken(partition int32, offset int64) string {
	return fmt.Sprintf("%d:%d", partition, offset)
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (int32, int64, error) {
	p, o, ok := strings.Cut(token, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid kafka token %q: want partition:offset", token)
	}
	partition, err := strconv.ParseInt(p, 10, 32)
	if err != nil || partition < 0 {
		return 0, 0, fmt.Errorf("invalid kafka token %q: bad partition", token)
	}
	offset, err := strconv.ParseInt(o, 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid kafka token %q: bad offset", token)
	}
	return int32(partition), offset, nil
}

// consumeOpts starts after the token's offset, or at the end of the topic.
func consumeOpts(topic, token string) ([]kgo.Opt, error) {
	if token == "" {
		return []kgo.Opt{
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		}, nil
	}
	partition, offset, err := DecodeToken(token)
	if err != nil {
		return nil, err
	}
	return []kgo.Opt{
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {partition: kgo.NewOffset().At(offset + 1)},
		}),
	}, nil
}

// Subscribe creates a dedicated client for the channel.
func (s *KafkaSource) Subscribe(ctx context.Context, channel, fromToken string) (Stream, error) {
	topic := s.Topic(channel)
	consume, err := consumeOpts(topic, fromToken)
	if err != nil {
		return nil, err
	}

	kopts := []kgo.Opt{kgo.SeedBrokers(s.cfg.Brokers...)}
	if s.cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(s.cfg.ClientID))
	}
	kopts = append(kopts, consume...)
	kopts = append(kopts, s.opts...)

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	s.logger.InfoContext(ctx, "Subscribed to source",
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.String("from_token", fromToken))

	return &kafkaStream{
		channel: channel,
		poll:    client.PollFetches,
		close:   client.Close,
	}, nil
}

type kafkaStream struct {
	channel string
	poll    func(context.Context) kgo.Fetches
	close   func()

	pending []*kgo.Record
	closed  atomic.Bool
	once    sync.Once
}

// Next returns buffered records first, but never after Close or once ctx is
// done.
func (s *kafkaStream) Next(ctx context.Context) (*models.Envelope, error) {
	if s.closed.Load() {
		return nil, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(s.pending) == 0 {
		fetches := s.poll(ctx)
		if fetches.IsClientClosed() {
			return nil, ErrEndOfStream
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return nil, fmt.Errorf("poll %s: %w", errs[0].Topic, errs[0].Err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			s.pending = append(s.pending, r)
		})
	}

	rec := s.pending[0]
	s.pending = s.pending[1:]
	return RecordToEnvelope(s.channel, rec)
}

// RecordToEnvelope parses a record value as a CDC event and stamps its
// partition offset as the token.
func RecordToEnvelope(channel string, rec *kgo.Record) (*models.Envelope, error) {
	token := EncodeToken(rec.Partition, rec.Offset)
	env, err := models.ParseEvent(channel, rec.Value)
	if err != nil {
		return nil, &DecodeError{Channel: channel, Token: token, Raw: rec.Value, Err: err}
	}
	env.Token = token
	return env, nil
}

func (s *kafkaStream) Close() error {
	s.closed.Store(true)
	s.once.Do(s.close)
	return nil
}

var _ Source = (*KafkaSource)(nil)

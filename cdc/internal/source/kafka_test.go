package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
)

func cdcValue(t *testing.T, id string) []byte {
	t.Helper()
	env := &models.Envelope{
		Channel:         "/data/LeadChangeEvent",
		ChangeType:      models.ChangeCreate,
		EntityName:      "Lead",
		RecordIDs:       []string{id},
		CommitTimestamp: 1736935200000,
		Payload:         map[string]any{"Company": "Acme"},
	}
	data, err := env.MarshalCDC()
	require.NoError(t, err)
	return data
}

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "salesforce.data.LeadChangeEvent",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func closedFetches() kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Partitions: []kgo.FetchPartition{{Partition: -1, Err: kgo.ErrClientClosed}},
	}}}}
}

func TestTopicForChannel(t *testing.T) {
	assert.Equal(t, "salesforce.data.LeadChangeEvent", TopicForChannel("salesforce", "/data/LeadChangeEvent"))
	assert.Equal(t, "data.TaskChangeEvent", TopicForChannel("", "/data/TaskChangeEvent"))

	s, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, TopicPrefix: "sf"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sf.data.EmailMessageChangeEvent", s.Topic("/data/EmailMessageChangeEvent"))
	assert.Equal(t, "kafka", s.Name())

	_, err = NewKafka(KafkaConfig{}, nil)
	assert.Error(t, err)
}

func TestKafkaToken(t *testing.T) {
	token := EncodeToken(3, 1042)
	assert.Equal(t, "3:1042", token)

	p, o, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, int32(3), p)
	assert.Equal(t, int64(1042), o)

	for _, bad := range []string{"1042", "a:1", "1:b", "-1:5", "1:-5", ":"} {
		_, _, err := DecodeToken(bad)
		assert.Error(t, err, bad)
	}

	_, err = consumeOpts("t", "nope")
	assert.Error(t, err)
	opts, err := consumeOpts("t", "")
	require.NoError(t, err)
	assert.Len(t, opts, 2)
	opts, err = consumeOpts("t", "0:9")
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestRecordToEnvelope(t *testing.T) {
	env, err := RecordToEnvelope("/data/LeadChangeEvent", &kgo.Record{Partition: 0, Offset: 17, Value: cdcValue(t, "00Q000000000001")})
	require.NoError(t, err)
	assert.Equal(t, "0:17", env.Token)
	assert.Equal(t, []string{"00Q000000000001"}, env.RecordIDs)
	assert.Equal(t, "/data/LeadChangeEvent", env.Channel)

	_, err = RecordToEnvelope("/data/LeadChangeEvent", &kgo.Record{Partition: 0, Offset: 18, Value: []byte(`{"payload":{}}`)})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "0:18", decodeErr.Token)
	assert.ErrorIs(t, err, models.ErrMalformedEnvelope)
}

func TestKafkaStream_Next(t *testing.T) {
	polls := []kgo.Fetches{
		fetchesOf(),
		fetchesOf(
			&kgo.Record{Offset: 5, Value: cdcValue(t, "00Q1")},
			&kgo.Record{Offset: 6, Value: cdcValue(t, "00Q2")},
		),
		closedFetches(),
	}
	closed := false
	s := &kafkaStream{
		channel: "/data/LeadChangeEvent",
		poll: func(context.Context) kgo.Fetches {
			f := polls[0]
			polls = polls[1:]
			return f
		},
		close: func() { closed = true },
	}
	ctx := context.Background()

	env, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0:5", env.Token)

	env, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0:6", env.Token)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestKafkaStream_BufferedRecordsStopAfterCancel(t *testing.T) {
	newStream := func() *kafkaStream {
		return &kafkaStream{
			channel: "/data/LeadChangeEvent",
			poll: func(context.Context) kgo.Fetches {
				return fetchesOf(
					&kgo.Record{Offset: 1, Value: cdcValue(t, "00Q1")},
					&kgo.Record{Offset: 2, Value: cdcValue(t, "00Q2")},
					&kgo.Record{Offset: 3, Value: cdcValue(t, "00Q3")},
				)
			},
			close: func() {},
		}
	}

	t.Run("cancelled context", func(t *testing.T) {
		s := newStream()
		ctx, cancel := context.WithCancel(context.Background())
		env, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0:1", env.Token)

		cancel()
		env, err = s.Next(ctx)
		assert.Nil(t, env)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed stream", func(t *testing.T) {
		s := newStream()
		_, err := s.Next(context.Background())
		require.NoError(t, err)

		require.NoError(t, s.Close())
		env, err := s.Next(context.Background())
		assert.Nil(t, env)
		assert.ErrorIs(t, err, ErrEndOfStream)
	})
}

func TestKafkaStream_FetchError(t *testing.T) {
	boom := errors.New("broker unreachable")
	s := &kafkaStream{
		channel: "/data/LeadChangeEvent",
		poll: func(context.Context) kgo.Fetches {
			return kgo.Fetches{{Topics: []kgo.FetchTopic{{
				Topic:      "salesforce.data.LeadChangeEvent",
				Partitions: []kgo.FetchPartition{{Partition: 0, Err: boom}},
			}}}}
		},
		close: func() {},
	}
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

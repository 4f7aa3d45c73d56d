package source

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/cdc/internal/testutil"
	"github.com/leadpulse/leadpulse/common/messaging"
)

func TestConsumerConfig(t *testing.T) {
	cfg, err := consumerConfig("/data/LeadChangeEvent", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cdc.data.LeadChangeEvent"}, cfg.FilterSubjects)
	assert.Equal(t, jetstream.DeliverNewPolicy, cfg.DeliverPolicy)

	cfg, err = consumerConfig("/data/LeadChangeEvent", "41")
	require.NoError(t, err)
	assert.Equal(t, jetstream.DeliverByStartSequencePolicy, cfg.DeliverPolicy)
	assert.Equal(t, uint64(42), cfg.OptStartSeq)

	_, err = consumerConfig("/data/LeadChangeEvent", "0:41")
	assert.Error(t, err)
}

func TestJetStreamSource_ResumesAfterToken(t *testing.T) {
	client := testutil.StartJetStream(t)
	ctx := context.Background()

	src, err := NewJetStream(ctx, client, "", 200*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, "jetstream", src.Name())

	subject := messaging.SubjectForChannel("/data/LeadChangeEvent")
	var lastSeq uint64
	for _, id := range []string{"00Q1", "00Q2", "00Q3"} {
		ack, err := client.PublishSync(ctx, subject, cdcValue(t, id))
		require.NoError(t, err)
		lastSeq = ack.Sequence
	}
	_, err = client.PublishSync(ctx, messaging.SubjectForChannel("/data/TaskChangeEvent"), []byte(`{}`))
	require.NoError(t, err)

	stream, err := src.Subscribe(ctx, "/data/LeadChangeEvent", "1")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00Q2", env.RecordIDs[0])
	assert.Equal(t, "2", env.Token)

	env, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00Q3", env.RecordIDs[0])
	assert.Equal(t, lastSeq, uint64(3))

	// Malformed events surface as DecodeError carrying their sequence.
	_, err = client.PublishSync(ctx, subject, []byte(`not json`))
	require.NoError(t, err)
	_, err = stream.Next(ctx)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "5", decodeErr.Token)

	require.NoError(t, stream.Close())
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestJetStreamSource_NewOnlyWithoutToken(t *testing.T) {
	client := testutil.StartJetStream(t)
	ctx := context.Background()

	src, err := NewJetStream(ctx, client, "", 200*time.Millisecond, nil)
	require.NoError(t, err)

	subject := messaging.SubjectForChannel("/data/LeadChangeEvent")
	_, err = client.PublishSync(ctx, subject, cdcValue(t, "00Qold"))
	require.NoError(t, err)

	stream, err := src.Subscribe(ctx, "/data/LeadChangeEvent", "")
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		time.Sleep(300 * time.Millisecond)
		_, _ = client.PublishSync(ctx, subject, cdcValue(t, "00Qnew"))
	}()

	nextCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	env, err := stream.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, "00Qnew", env.RecordIDs[0])
}

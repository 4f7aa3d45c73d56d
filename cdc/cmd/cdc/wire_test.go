package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
	"github.com/leadpulse/leadpulse/cdc/internal/dlq"
	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
	"github.com/leadpulse/leadpulse/cdc/internal/replay"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Salesforce.Backend = "memory"
	cfg.Replay.Path = filepath.Join(t.TempDir(), "replay.json")
	cfg.DLQ.BasePath = filepath.Join(t.TempDir(), "dlq")
	return cfg
}

func TestRegisterHandlers(t *testing.T) {
	store, err := replay.NewFileStore(filepath.Join(t.TempDir(), "replay.json"))
	require.NoError(t, err)
	sf := salesforce.NewMemoryStore()

	d := dispatcher.New(store, nil, dispatcher.Config{}, slog.Default())
	router := routing.NewRouter(sf, routing.NewStaticHolder(&routing.Policy{Version: "v1.0.0"}), nil, nil)
	resolver := firsttouch.NewResolver(sf, nil, nil)

	channels := append(append([]string(nil), config.DefaultChannels...), "/data/OpportunityChangeEvent")
	registerHandlers(d, channels, router, resolver, slog.Default())

	st := d.Status(context.Background())
	assert.ElementsMatch(t, config.DefaultChannels, st.HandlersRegistered)
}

func TestOpenDLQ(t *testing.T) {
	cfg := testConfig(t)

	w, err := openDLQ(context.Background(), cfg, nil, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &dlq.Queue{}, w)

	cfg.DLQ.Backend = "none"
	w, err = openDLQ(context.Background(), cfg, nil, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, dlq.Nop{}, w)
}

func TestOpenSource(t *testing.T) {
	cfg := testConfig(t)
	store, err := replay.NewFileStore(cfg.Replay.Path)
	require.NoError(t, err)
	sf := salesforce.NewMemoryStore()

	cfg.CDC.Mode = config.ModePoll
	src, err := openSource(context.Background(), cfg, sf, store, nil, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "poll", src.Name())

	cfg.CDC.Mode = config.ModeKafka
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	src, err = openSource(context.Background(), cfg, sf, store, nil, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "kafka", src.Name())

	cfg.CDC.Mode = "websocket"
	_, err = openSource(context.Background(), cfg, sf, store, nil, slog.Default())
	require.Error(t, err)
}

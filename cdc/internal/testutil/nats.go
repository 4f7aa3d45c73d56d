// Package testutil starts disposable brokers for integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/leadpulse/leadpulse/common/messaging/nats"
)

// StartJetStream runs a JetStream-enabled NATS container and returns a
// connected client. Skipped in short mode.
func StartJetStream(t *testing.T) *nats.JetStreamClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping nats container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	cfg := nats.DefaultConfig()
	cfg.URL = url
	cfg.Name = "leadpulse-test"
	cfg.MaxReconnects = 0
	client, err := nats.NewJetStreamClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDatabase(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("leadpulse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn))
	require.NoError(t, Migrate(dsn), "migrations are idempotent")

	store, err := NewPostgresStore(ctx, dsn, 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "ch1", "100"))
	require.NoError(t, s.Set(ctx, "ch2", "5"))
	require.NoError(t, s.Set(ctx, "ch1", "101"))

	token, ok, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "101", token)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ch1": "101", "ch2": "5"}, all)

	require.NoError(t, s.Clear(ctx, "ch2"))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ch1": "101"}, all)

	require.NoError(t, s.Clear(ctx, ""))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// Package replay persists the last applied resumption token per CDC channel.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpulse/leadpulse/common/config"
)

// ErrStore is wrapped by every storage-medium failure. A read failure is
// never reported as a missing cursor.
var ErrStore = errors.New("replay store")

// Store maps a channel to its last applied token.
type Store interface {
	// Get returns the committed token for channel; ok is false when none is recorded.
	Get(ctx context.Context, channel string) (token string, ok bool, err error)

	// Set durably replaces the token for channel.
	Set(ctx context.Context, channel, token string) error

	// GetAll returns a snapshot of every recorded cursor.
	GetAll(ctx context.Context) (map[string]string, error)

	// Clear removes the cursor for channel, or every cursor when channel is empty.
	Clear(ctx context.Context, channel string) error

	Close() error
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// Open builds the Store selected by cfg.Replay.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Replay.Backend {
	case "", "file":
		logger.Info("Using file replay store", slog.String("path", cfg.Replay.Path))
		return NewFileStore(cfg.Replay.Path)
	case "redis":
		logger.Info("Using redis replay store", slog.String("key", cfg.Replay.RedisKey))
		return NewRedisStoreFromURL(ctx, cfg.Redis.URL, cfg.Replay.RedisKey, cfg.Redis.PoolSize)
	case "postgres":
		logger.Info("Using postgres replay store",
			slog.String("host", cfg.Postgres.Host),
			slog.String("database", cfg.Postgres.Database))
		dsn := cfg.Postgres.DSN()
		if err := Migrate(dsn); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, dsn, cfg.Postgres.MaxConns)
	default:
		return nil, fmt.Errorf("unknown replay backend %q", cfg.Replay.Backend)
	}
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

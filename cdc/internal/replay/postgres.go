package replay

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresStore keeps cursors in the replay_cursors table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection. Migrate must
// have been applied.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, channel string) (string, bool, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT token FROM replay_cursors WHERE channel = $1`, channel,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("select", err)
	}
	return token, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, channel, token string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_cursors (channel, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (channel) DO UPDATE
		SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at
	`, channel, token)
	if err != nil {
		return storeErr("upsert", err)
	}
	return nil
}

func (s *PostgresStore) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel, token FROM replay_cursors`)
	if err != nil {
		return nil, storeErr("select all", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var channel, token string
		if err := rows.Scan(&channel, &token); err != nil {
			return nil, storeErr("scan", err)
		}
		m[channel] = token
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rows", err)
	}
	return m, nil
}

func (s *PostgresStore) Clear(ctx context.Context, channel string) error {
	var err error
	if channel == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM replay_cursors`)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM replay_cursors WHERE channel = $1`, channel)
	}
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps cursors in a single Redis hash keyed by channel.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "leadpulse:replay"
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisStoreFromURL connects to redisURL and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL, key string, poolSize int) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStore(client, key)
	s.owned = true
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, channel string) (string, bool, error) {
	token, err := s.client.HGet(ctx, s.key, channel).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("hget", err)
	}
	return token, true, nil
}

func (s *RedisStore) Set(ctx context.Context, channel, token string) error {
	if err := s.client.HSet(ctx, s.key, channel, token).Err(); err != nil {
		return storeErr("hset", err)
	}
	return nil
}

func (s *RedisStore) GetAll(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, storeErr("hgetall", err)
	}
	return m, nil
}

func (s *RedisStore) Clear(ctx context.Context, channel string) error {
	var err error
	if channel == "" {
		err = s.client.Del(ctx, s.key).Err()
	} else {
		err = s.client.HDel(ctx, s.key, channel).Err()
	}
	if err != nil {
		return storeErr("clear", err)
	}
	return nil
}

// Close closes the client only when the store created it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

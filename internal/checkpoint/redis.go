package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// RedisConfig controls the Redis-backed store.
type RedisConfig struct {
	URL      string
	Password string
	Key      string
}

type kvClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the snapshot under a single key without expiry.
type RedisStore struct {
	rdb    kvClient
	closer func() error
	key    string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	store, err := NewRedisStoreWithClient(rdb, cfg.Key, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	store.closer = rdb.Close
	return store, nil
}

// NewRedisStoreWithClient builds a store on an existing client.
func NewRedisStoreWithClient(rdb kvClient, key string, logger *zap.Logger) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	return &RedisStore{rdb: rdb, key: key, logger: nopIfNil(logger)}, nil
}

// Load reads the snapshot key.
func (s *RedisStore) Load(ctx context.Context) (*harvest.Record, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return harvest.NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	record, _ := decodeOrEmpty(s.logger, "redis:"+s.key, data)
	return record, nil
}

// Save overwrites the snapshot key.
func (s *RedisStore) Save(ctx context.Context, record *harvest.Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Clear deletes the snapshot key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection when the store owns it.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

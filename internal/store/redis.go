package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/redis/go-redis/v9"
)

// Compile-time assertion: *RedisStore satisfies mapping.Store.
var _ mapping.Store = (*RedisStore)(nil)

// RedisStore keeps the JSON document under a single key. SET replaces the
// value atomically, so readers never observe a partial document.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects a RedisStore using opts. key must not be empty.
func NewRedisStore(opts *redis.Options, key string, logger *slog.Logger) (*RedisStore, error) {
	if key == "" {
		return nil, fmt.Errorf("redis key cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:    redis.NewClient(opts),
		key:    key,
		logger: logger,
	}, nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Load fetches and decodes the document. A missing key yields an empty table.
func (s *RedisStore) Load(ctx context.Context) mapping.Table {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("mappings unreadable, starting empty", "backend", "redis", "key", s.key, "error", err)
		}
		return mapping.Table{}
	}

	t, err := decodeTable(data)
	if err != nil {
		s.logger.Warn("mappings malformed, starting empty", "backend", "redis", "key", s.key, "error", err)
		return mapping.Table{}
	}
	return t
}

// Save overwrites the document.
func (s *RedisStore) Save(ctx context.Context, t mapping.Table) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write mappings to Redis: %w", err)
	}
	return nil
}

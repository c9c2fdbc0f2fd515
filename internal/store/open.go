package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mastinoo/Invictusmessages/internal/config"
	"github.com/Mastinoo/Invictusmessages/internal/mapping"
	"github.com/redis/go-redis/v9"
)

// Backend is a mapping.Store that may hold resources needing release.
type Backend interface {
	mapping.Store
	io.Closer
}

type nopCloser struct{ mapping.Store }

func (nopCloser) Close() error { return nil }

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Backend)

	switch cfg.Backend {
	case "", config.BackendFile:
		fs := NewFileStore(cfg.Path, logger)
		logger.Info("mapping store opened", "path", fs.Path())
		return nopCloser{fs}, nil
	case config.BackendSQLite:
		return OpenSQLite(cfg.Path, logger)
	case config.BackendRedis:
		s, err := NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.RedisKey, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

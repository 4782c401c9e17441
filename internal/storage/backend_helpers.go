package storage

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"keyrelay-go/internal/config"
)

// NewBackend builds the backend named by the storage config. The caller still
// owns Initialize and Close.
func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.BaseDir), nil
	case "redis":
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix), nil
	case "mongodb":
		return NewMongoBackend(cfg.MongoURI, cfg.MongoDatabase), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresBackend(cfg.PostgresDSN), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// InitializeWithFallback initializes the configured backend, falling back to
// local file storage when a remote backend cannot be reached. The returned
// backend is always initialized and instrumented.
func InitializeWithFallback(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.Backend
	if name == "" {
		name = "file"
	}

	if err := backend.Initialize(ctx); err != nil {
		if name == "file" {
			return nil, err
		}
		log.WithError(err).WithField("backend", name).
			Warn("storage backend unavailable, falling back to file storage")
		backend.Close()

		fallback := NewFileBackend(cfg.BaseDir)
		if err := fallback.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("file fallback failed: %w", err)
		}
		return NewInstrumentedBackend(fallback, "file"), nil
	}
	return NewInstrumentedBackend(backend, name), nil
}

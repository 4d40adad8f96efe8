package store

import (
	"context"
	"fmt"

	"github.com/arqady01/chatllm/core/config"
	"github.com/arqady01/chatllm/core/db"
)

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		backend, err := NewPostgresBackend(ctx, database)
		if err != nil {
			database.Close()
			return nil, err
		}
		return backend, nil
	case config.StorageRedis:
		return NewRedisBackend(ctx, cfg.Storage.RedisURL)
	case config.StorageFile, "":
		return NewFileBackend(cfg.Storage.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Package blob provides the content store adapter: a flat key/value object
// store addressed by hierarchical keys.
//
// Backends:
//   - local: files under a root directory, written atomically via rename
//   - gcs: a Google Cloud Storage bucket
//   - memory: an in-process map for tests and dry runs
//
// Writes are overwrite-by-key; a repeated Put with the same key replaces the
// object, which is what lets the asset uploader treat puts as idempotent.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"archivist/internal/config"
	"archivist/internal/logging"
)

// ErrNotFound is returned by Get and Delete when the key does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is the content store contract consumed by the ingestion pipeline.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Open constructs the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("blob: config is required")
	}
	logger = logging.NewComponentLogger(logger, "blob")
	switch cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := NewLocal(cfg.Storage.Root)
		if err != nil {
			return nil, err
		}
		logger.Info("content store ready", logging.String("backend", "local"), logging.String("root", cfg.Storage.Root))
		return store, nil
	case config.StorageGCS:
		store, err := NewGCS(ctx, GCSOptions{
			Bucket:          cfg.Storage.Bucket,
			CredentialsFile: cfg.Storage.CredentialsFile,
			Timeout:         cfg.StorageTimeout(),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("content store ready", logging.String("backend", "gcs"), logging.String("bucket", cfg.Storage.Bucket))
		return store, nil
	case config.StorageMemory:
		logger.Warn("content store is in-memory; objects are discarded on exit",
			logging.Event("memory_store"),
			logging.String(logging.FieldImpact, "uploaded assets will not persist"),
		)
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.Storage.Backend)
	}
}

// Close releases backend resources when the store holds any.
func Close(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("blob: key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return nil
}

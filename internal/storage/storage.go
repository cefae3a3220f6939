package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/findoc/backend/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Storage holds staged document bytes. Put is all-or-nothing: a failed Put
// leaves no object behind under key.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.UploadDir)
	case "minio":
		return NewMinioStorage(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

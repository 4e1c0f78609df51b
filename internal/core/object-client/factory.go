package objectclient

import (
	"context"
	"fmt"

	cfg "github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core"
)

// New builds the object client selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *cfg.Config) (core.ObjectClient, error) {
	switch cfg.StorageBackend {
	case "", "s3":
		return NewS3Client(ctx, cfg)
	case "minio":
		return NewMinioClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

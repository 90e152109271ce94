package storage

import (
	"context"
	"fmt"

	"github.com/fedutinova/retinascan/internal/common"
	appconfig "github.com/fedutinova/retinascan/internal/config"
)

// NewStorage picks the backend named by STORAGE_MODE. An empty mode means local.
func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	case "", "local", "filesystem":
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	default:
		return nil, fmt.Errorf("%w: unknown storage mode %q", common.ErrConfiguration, cfg.StorageMode)
	}
}

// IsLocal reports whether objects live on the local filesystem.
func IsLocal(cfg appconfig.Config) bool {
	switch cfg.StorageMode {
	case "", "local", "filesystem":
		return true
	}
	return false
}

// Describe names the backend for startup logs.
func Describe(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		if isLocalStack(cfg.S3Endpoint) {
			return "LocalStack S3 (" + cfg.S3Bucket + ")"
		}
		return "S3 (" + cfg.S3Bucket + ")"
	default:
		return "local filesystem (" + cfg.LocalStorageDir + ")"
	}
}

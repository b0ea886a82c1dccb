package storage

import (
	"context"
	"fmt"
	"strings"

	"cardgen/internal/infra"
)

// New selects a backend from cfg.StorageDriver and wraps it with retries.
func New(ctx context.Context, cfg infra.Config, logger *infra.Logger) (Store, error) {
	var (
		backend Store
		err     error
	)
	switch strings.ToLower(cfg.StorageDriver) {
	case "", "file":
		backend, err = NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	case "s3":
		backend, err = NewS3Store(S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "gcs":
		backend, err = NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrying(backend, 3, logger), nil
}

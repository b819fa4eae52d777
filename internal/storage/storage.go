// Package storage defines the driver abstraction for uploaded file bytes.
// Exactly one driver is selected at startup from FILE_DRIVER; records do
// not remember which driver wrote them, so switching drivers orphans
// existing files.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/config"
)

// RawRoute is the path, relative to the public base URL, under which the
// local driver's files are served.
const RawRoute = "/api/v1/files/raw"

// Driver persists and removes object bytes.
type Driver interface {
	// Name identifies the driver ("local" or "minio").
	Name() string
	// Store writes r under key and returns the absolute retrieval URL.
	// size may be -1 when the length is unknown.
	Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes key. A key that does not exist is not an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited URL for a direct PUT of key.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Key returns the object key behind a location this driver produced.
	// Locations under any other base report false.
	Key(location string) (string, bool)
	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)
}

// Opener is implemented by drivers that serve bytes through this API.
type Opener interface {
	Open(key string) (*os.File, error)
}

// New builds the driver selected by cfg.File.Driver.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Driver, error) {
	switch cfg.File.Driver {
	case config.DriverLocal:
		return NewLocalDriver(cfg.File.UploadDir, cfg.PublicBaseURL+RawRoute)
	case config.DriverMinio:
		return NewMinioDriver(ctx, MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			Port:      cfg.Minio.Port,
			UseSSL:    cfg.Minio.UseSSL,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
		}, logger)
	default:
		return nil, apperr.Configuration("FILE_DRIVER", fmt.Sprintf("unsupported storage driver: %s", cfg.File.Driver))
	}
}

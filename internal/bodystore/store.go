// Package bodystore keeps message bodies that are too large for the queue
// backend in a local directory or an S3 bucket.
package bodystore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested body does not exist.
var ErrNotFound = errors.New("bodystore: body not found")

// Store holds bodies by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Store types accepted in Config.Type.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Config holds configuration for creating a Store.
type Config struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// New creates a Store based on the provided configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeLocal, "":
		if cfg.Path == "" {
			return nil, errors.New("bodystore: path must not be empty")
		}
		return NewLocalFileStore(cfg.Path)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("bodystore: s3 bucket must not be empty")
		}
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("bodystore: unknown type %q", cfg.Type)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Store abstracts the object storage that backs the table catalog.
// Keys are slash-separated and relative to the store's prefix.
type Store interface {
	// Put writes data under key. A reader sees either the previous object or
	// the complete new one, never a partial write.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key, or returns ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "mem"

	// Local filesystem
	LocalDir string // /path/to/warehouse/

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	Endpoint string // custom endpoint for B2/MinIO/R2
	Region   string

	// Common
	Prefix string // path prefix within bucket or local dir
}

// NewStore creates a storage backend based on configuration.
func NewStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return NewBlobStore(ctx, "gs://"+cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return NewBlobStore(ctx, s3URL(cfg.Bucket, cfg.Endpoint, cfg.Region), cfg.Prefix)
	case "mem":
		return NewBlobStore(ctx, "mem://", cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func s3URL(bucket, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucket)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

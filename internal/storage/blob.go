package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore keeps objects in a gocloud.dev bucket (GCS, S3-compatible,
// local directory or memory).
type BlobStore struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

// NewBlobStore opens the bucket at bucketURL.
// GCS uses Application Default Credentials; S3 uses the default AWS chain.
func NewBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return &BlobStore{
		bucket:    bucket,
		bucketURL: bucketURL,
		prefix:    prefix,
	}, nil
}

func (s *BlobStore) key(key string) string {
	return s.prefix + key
}

// Put uploads data. The object becomes visible only when the writer closes
// successfully, so readers never observe a partial upload.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	path := s.key(key)

	w, err := s.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", path, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}

	return nil
}

// Get downloads an object.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(key))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object exists in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.key(key))
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key(key))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix, relative to the store prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.key(prefix),
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.key(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	u, err := url.Parse(s.bucketURL)
	if err != nil {
		return s.bucketURL + "/" + s.key(key)
	}
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/") + "/" + s.key(key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)

package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobOpener reads sources from object storage URLs such as
// gs://bucket/raw/conflicts.csv or s3://bucket/cities.csv.zst?region=sa-east-1.
type BlobOpener struct {
	// Buckets overrides bucket resolution. Tests use it to inject memblob buckets.
	Buckets map[string]*blob.Bucket
}

// SplitURL splits a source URL into its bucket URL and object key.
// Query parameters stay with the bucket.
func SplitURL(location string) (bucketURL, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse source url %s: %w", location, err)
	}

	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		bucket := url.URL{Scheme: "file", Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if bucket.Path == "" {
			bucket.Path = "/"
		}
		return bucket.String(), file, nil
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("source url %s needs a bucket and an object key", location)
	}
	bucket := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return bucket.String(), key, nil
}

// Open streams an object, decompressing it by suffix.
func (o *BlobOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucketURL, key, err := SplitURL(location)
	if err != nil {
		return nil, err
	}

	bucket, owned := o.Buckets[bucketURL], false
	if bucket == nil {
		bucket, err = blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
		}
		owned = true
	}

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if owned {
			bucket.Close()
		}
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, location)
		}
		return nil, fmt.Errorf("open object %s: %w", location, err)
	}

	rc, err := Decompress(r, key)
	if err != nil {
		r.Close()
		if owned {
			bucket.Close()
		}
		return nil, err
	}

	if !owned {
		return rc, nil
	}
	return &bucketReader{ReadCloser: rc, bucket: bucket}, nil
}

// bucketReader closes the bucket it was read from.
type bucketReader struct {
	io.ReadCloser
	bucket *blob.Bucket
}

func (r *bucketReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.bucket.Close(); err == nil {
		err = cerr
	}
	return err
}

package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// IsZstd reports whether the location has a zstd suffix.
func IsZstd(location string) bool {
	return strings.HasSuffix(strings.ToLower(location), ".zst")
}

// IsGzip reports whether the location has a gzip suffix.
func IsGzip(location string) bool {
	return strings.HasSuffix(strings.ToLower(location), ".gz")
}

// Decompress wraps rc with a decompressor chosen by the location suffix.
// Closing the result closes rc.
func Decompress(rc io.ReadCloser, location string) (io.ReadCloser, error) {
	switch {
	case IsZstd(location):
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader for %s: %w", location, err)
		}
		return &decodedReader{Reader: dec, close: func() error {
			dec.Close()
			return rc.Close()
		}}, nil

	case IsGzip(location):
		dec, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("gzip reader for %s: %w", location, err)
		}
		return &decodedReader{Reader: dec, close: func() error {
			dec.Close()
			return rc.Close()
		}}, nil

	default:
		return rc, nil
	}
}

type decodedReader struct {
	io.Reader
	close func() error
}

func (r *decodedReader) Close() error {
	return r.close()
}

// Package source opens and parses the CSV inputs of the ingest stage.
package source

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrSourceNotFound is returned when a source location does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrEmptySource is returned when a source has no header row.
	ErrEmptySource = errors.New("source is empty")

	// ErrDuplicateColumn is returned when a header names the same column twice.
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Opener opens a source location for reading. Implementations return a
// stream of the decompressed bytes.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// NewOpener returns an opener for local paths and gs://, s3:// or file:// URLs.
func NewOpener() Opener {
	return &multiOpener{
		local: &LocalOpener{},
		blob:  &BlobOpener{},
	}
}

type multiOpener struct {
	local *LocalOpener
	blob  *BlobOpener
}

func (o *multiOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if isURL(location) {
		return o.blob.Open(ctx, location)
	}
	return o.local.Open(ctx, location)
}

func isURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	// A single letter scheme is a Windows drive, not a URL.
	return len(u.Scheme) > 1 && strings.Contains(location, "://")
}

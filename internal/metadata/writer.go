package metadata

import (
	"context"
	"time"
)

// CatalogConfig configures the lineage catalog. An empty DSN disables it.
type CatalogConfig struct {
	PostgresDSN string
	Namespace   string
}

// DatasetInfo identifies one medallion table.
type DatasetInfo struct {
	Namespace     string
	Tier          string
	Table         string
	SchemaVersion string
	Description   string
}

// LineageRecord describes one published table version.
type LineageRecord struct {
	DatasetID       int64
	Version         string
	RunID           string
	RowCount        int64
	ByteSize        int64
	Checksum        string
	PrevHash        string
	StoragePath     string
	StorageURI      string
	Inputs          []string
	ProducerVersion string
	ProducerGitSHA  string
	SourceType      string
	SourceLocation  string
	CreatedAt       time.Time
}

// QualityRecord is the validation outcome of a table version.
type QualityRecord struct {
	DatasetID    int64
	Version      string
	Passed       bool
	ErrorMessage string
}

// Writer persists dataset and lineage metadata.
type Writer interface {
	EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error)
	GetLastLineage(ctx context.Context, datasetID int64) (*LineageRecord, error)
	InsertLineage(ctx context.Context, rec LineageRecord) error
	InsertQuality(ctx context.Context, rec QualityRecord) error
	Close() error
}

// NewWriter connects to the Postgres catalog, or returns a no-op writer
// when no DSN is configured.
func NewWriter(cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(cfg)
}

// NoopWriter discards all metadata.
type NoopWriter struct{}

func (NoopWriter) EnsureDataset(context.Context, DatasetInfo) (int64, error) { return 0, nil }

func (NoopWriter) GetLastLineage(context.Context, int64) (*LineageRecord, error) { return nil, nil }

func (NoopWriter) InsertLineage(context.Context, LineageRecord) error { return nil }

func (NoopWriter) InsertQuality(context.Context, QualityRecord) error { return nil }

func (NoopWriter) Close() error { return nil }

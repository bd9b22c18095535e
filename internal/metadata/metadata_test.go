package metadata

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterWithoutDSN(t *testing.T) {
	w, err := NewWriter(CatalogConfig{Namespace: "test"})
	require.NoError(t, err)
	_, ok := w.(NoopWriter)
	assert.True(t, ok, "expected a no-op writer when no DSN is set")

	ctx := context.Background()
	id, err := w.EnsureDataset(ctx, DatasetInfo{Namespace: "test", Tier: "gold", Table: "conflito"})
	require.NoError(t, err)
	assert.Zero(t, id)

	last, err := w.GetLastLineage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, w.InsertLineage(ctx, LineageRecord{}))
	require.NoError(t, w.InsertQuality(ctx, QualityRecord{}))
	require.NoError(t, w.Close())
}

func TestNewWriterBadDSN(t *testing.T) {
	_, err := NewWriter(CatalogConfig{PostgresDSN: "postgres://%zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse DSN")
}

func TestDatasetKey(t *testing.T) {
	a := datasetKey(DatasetInfo{Namespace: "ns", Tier: "silver", Table: "cidade", SchemaVersion: "1"})
	b := datasetKey(DatasetInfo{Namespace: "ns", Tier: "gold", Table: "cidade", SchemaVersion: "1"})
	assert.Equal(t, "ns.silver.cidade@1", a)
	assert.NotEqual(t, a, b)
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"_meta_datasets", "_meta_lineage", "_meta_quality"} {
		assert.True(t, strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}

// TestPostgresRoundTrip runs against a live database when
// MEDALLION_TEST_PG_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("MEDALLION_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MEDALLION_TEST_PG_DSN not set")
	}

	w, err := NewPostgresWriter(CatalogConfig{PostgresDSN: dsn, Namespace: "test"})
	require.NoError(t, err)
	defer w.Close()

	ctx := context.Background()
	info := DatasetInfo{Namespace: "t" + uuid.NewString()[:8], Tier: "gold", Table: "conflito", SchemaVersion: "1"}
	id, err := w.EnsureDataset(ctx, info)
	require.NoError(t, err)

	again, err := w.EnsureDataset(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	last, err := w.GetLastLineage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, last)

	rec := LineageRecord{
		DatasetID:       id,
		Version:         "v1",
		RunID:           "run-1",
		RowCount:        10,
		ByteSize:        512,
		Checksum:        "abc",
		StoragePath:     info.Namespace + "/gold/conflito/v=v1/part-0.parquet",
		Inputs:          []string{"silver.conflito@v0"},
		ProducerVersion: "test",
	}
	require.NoError(t, w.InsertLineage(ctx, rec))
	require.NoError(t, w.InsertQuality(ctx, QualityRecord{DatasetID: id, Version: "v1", Passed: true}))

	last, err = w.GetLastLineage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "v1", last.Version)
	assert.Equal(t, []string{"silver.conflito@v0"}, last.Inputs)
	assert.Empty(t, last.PrevHash)
}

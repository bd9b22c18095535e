package tables

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression string // "snappy" | "zstd" | "gzip" | "none"
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: "snappy"}
}

// ParquetOutput is an encoded table ready for publishing.
type ParquetOutput struct {
	Data     []byte
	Checksum string
	RowCount int64
	ByteSize int64
}

func codec(name string) (compress.Codec, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// EncodeParquet writes rows into an in-memory parquet file. The encoding is
// deterministic: identical rows produce identical bytes and checksum.
func EncodeParquet[T any](rows []T, cfg ParquetConfig) (*ParquetOutput, error) {
	c, err := codec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf,
		parquet.Compression(c),
		parquet.KeyValueMetadata("schema_version", SchemaVersion),
	)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}

	data := buf.Bytes()
	return &ParquetOutput{
		Data:     data,
		Checksum: ComputeChecksum(data),
		RowCount: int64(len(rows)),
		ByteSize: int64(len(data)),
	}, nil
}

// DecodeParquet reads every row of an in-memory parquet file.
func DecodeParquet[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

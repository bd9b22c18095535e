package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/withObsrvr/obsrvr-medallion/internal/metadata"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

func encodeCities(t *testing.T, n int) *tables.ParquetOutput {
	t.Helper()
	rows := make([]tables.CityDigest, n)
	for i := range rows {
		rows[i] = tables.CityDigest{CityKey: "BELEM", State: "PA"}
	}
	out, err := tables.EncodeParquet(rows, tables.ParquetConfig{Compression: "snappy"})
	if err != nil {
		t.Fatalf("EncodeParquet: %v", err)
	}
	return out
}

func TestValidateTable_Valid(t *testing.T) {
	output := encodeCities(t, 3)

	result := ValidateTable(tables.CityColumns, 3, output)

	if !result.Passed {
		t.Errorf("Valid table should pass. Errors: %v", result.Errors)
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v, want nil", result.Err())
	}
	if result.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", result.RowCount)
	}
}

func TestValidateTable_EmptyIsWarning(t *testing.T) {
	output := encodeCities(t, 0)

	result := ValidateTable(tables.CityColumns, 0, output)

	if !result.Passed {
		t.Errorf("Empty table should pass. Errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", result.Warnings)
	}
	if result.Summary() != "table has no rows" {
		t.Errorf("Summary() = %q", result.Summary())
	}
}

func TestValidateTable_RowCountMismatch(t *testing.T) {
	output := encodeCities(t, 3)

	result := ValidateTable(tables.CityColumns, 4, output)

	if result.Passed {
		t.Error("Row count mismatch should fail")
	}
	if !errors.Is(result.Err(), ErrValidation) {
		t.Errorf("Err() = %v, want ErrValidation", result.Err())
	}
}

func TestValidateTable_Columns(t *testing.T) {
	output := encodeCities(t, 1)

	tests := []struct {
		name    string
		columns []string
	}{
		{"none", nil},
		{"empty name", []string{"ID_CITY", ""}},
		{"duplicate", []string{"ID_CITY", "ID_CITY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateTable(tt.columns, 1, output)
			if result.Passed {
				t.Errorf("columns %v should fail", tt.columns)
			}
		})
	}
}

func TestValidateTable_NilOutput(t *testing.T) {
	result := ValidateTable(tables.CityColumns, 1, nil)

	if result.Passed {
		t.Error("Nil output should fail")
	}
}

func TestValidateTable_BadChecksum(t *testing.T) {
	output := encodeCities(t, 2)

	tampered := *output
	tampered.Checksum = "md5:abc123"
	result := ValidateTable(tables.CityColumns, 2, &tampered)
	if result.Passed {
		t.Error("Non-sha256 checksum should fail")
	}

	tampered.Checksum = "sha256:" + strings.Repeat("0", 64)
	result = ValidateTable(tables.CityColumns, 2, &tampered)
	if result.Passed {
		t.Error("Wrong checksum should fail")
	}
}

func TestValidateTable_ByteSizeMismatch(t *testing.T) {
	output := encodeCities(t, 2)

	tampered := *output
	tampered.ByteSize++
	result := ValidateTable(tables.CityColumns, 2, &tampered)
	if result.Passed {
		t.Error("Byte size mismatch should fail")
	}
}

func TestRecordQualityResult(t *testing.T) {
	meta := newMockMetadata()
	ctx := context.Background()

	if err := RecordQualityResult(ctx, meta, 0, "v1", ValidationResult{Passed: true}); err != nil {
		t.Fatalf("no catalog: %v", err)
	}
	if len(meta.quality) != 0 {
		t.Errorf("dataset 0 should not record quality, got %d", len(meta.quality))
	}

	failed := ValidationResult{Passed: false, Errors: []string{"a", "b"}}
	if err := RecordQualityResult(ctx, meta, 7, "v1", failed); err != nil {
		t.Fatalf("RecordQualityResult: %v", err)
	}
	want := metadata.QualityRecord{DatasetID: 7, Version: "v1", Passed: false, ErrorMessage: "a; b"}
	if len(meta.quality) != 1 || meta.quality[0] != want {
		t.Errorf("quality = %+v, want %+v", meta.quality, want)
	}
}

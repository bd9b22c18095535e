package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-medallion/internal/metadata"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

// ErrValidation is returned when a table fails its pre-publish checks.
var ErrValidation = errors.New("table validation failed")

// ValidationResult contains the outcome of table validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Err returns nil when the table passed, or an ErrValidation listing the failures.
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(r.Errors, "; "))
}

// Summary joins errors, or warnings when the table passed.
func (r ValidationResult) Summary() string {
	if !r.Passed {
		return strings.Join(r.Errors, "; ")
	}
	return strings.Join(r.Warnings, "; ")
}

// ValidateTable performs quality checks on an encoded table before publish:
// - Column list is present with unique, non-empty names
// - Encoded row count matches the input rows
// - Parquet output is non-empty and its checksum matches the bytes
func ValidateTable(columns []string, rows int, output *tables.ParquetOutput) ValidationResult {
	result := ValidationResult{
		Passed: true,
	}

	// Check 1: columns
	if len(columns) == 0 {
		result.Errors = append(result.Errors, "table has no columns")
		result.Passed = false
	}
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if c == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("column %d has an empty name", i))
			result.Passed = false
			continue
		}
		if seen[c] {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate column %q", c))
			result.Passed = false
		}
		seen[c] = true
	}

	// Check 2: empty tables are allowed but suspicious
	if rows == 0 {
		result.Warnings = append(result.Warnings, "table has no rows")
	}

	if output == nil {
		result.Errors = append(result.Errors, "no parquet output provided")
		result.Passed = false
		return result
	}
	result.RowCount = output.RowCount
	result.ByteSize = output.ByteSize

	// Check 3: row count consistency
	if output.RowCount != int64(rows) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("row count mismatch: encoded %d, expected %d", output.RowCount, rows))
		result.Passed = false
	}

	// Check 4: non-empty parquet
	if len(output.Data) == 0 {
		result.Errors = append(result.Errors, "empty parquet data")
		result.Passed = false
	}
	if output.ByteSize != int64(len(output.Data)) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("byte size mismatch: recorded %d, actual %d", output.ByteSize, len(output.Data)))
		result.Passed = false
	}

	// Check 5: checksum format and value
	if !strings.HasPrefix(output.Checksum, "sha256:") {
		result.Errors = append(result.Errors,
			fmt.Sprintf("checksum in non-standard format: %s", output.Checksum[:min(20, len(output.Checksum))]))
		result.Passed = false
	} else if !tables.VerifyChecksum(output.Data, output.Checksum) {
		result.Errors = append(result.Errors, "checksum does not match parquet data")
		result.Passed = false
	}

	return result
}

// RecordQualityResult records the validation result to the metadata catalog.
func RecordQualityResult(ctx context.Context, meta metadata.Writer, datasetID int64, version string, result ValidationResult) error {
	if datasetID == 0 {
		return nil // No catalog configured
	}

	return meta.InsertQuality(ctx, metadata.QualityRecord{
		DatasetID:    datasetID,
		Version:      version,
		Passed:       result.Passed,
		ErrorMessage: result.Summary(),
	})
}

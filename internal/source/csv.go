package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// checkEvery is how many rows are read between context checks.
const checkEvery = 1024

// ReadCSV parses a comma separated stream with a header row. Every cell is
// kept verbatim as text. Rows whose field count differs from the header are
// rejected.
func ReadCSV(ctx context.Context, r io.Reader, name string) (*tables.RawTable, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = ','

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}

	seen := make(map[string]bool, len(header))
	for _, col := range header {
		if seen[col] {
			return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateColumn, col, name)
		}
		seen[col] = true
	}
	cr.FieldsPerRecord = len(header)

	table := &tables.RawTable{Name: name, Columns: header}
	for {
		if len(table.Rows)%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

// Load opens location with opener and parses it as CSV.
func Load(ctx context.Context, opener Opener, name, location string) (*tables.RawTable, error) {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ReadCSV(ctx, rc, name)
}

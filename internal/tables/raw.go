package tables

import "fmt"

// RawTable is an all-text table as read from a CSV source.
type RawTable struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// RenameColumn renames a header column in place. Absent columns are ignored.
func (t *RawTable) RenameColumn(from, to string) {
	for i, c := range t.Columns {
		if c == from {
			t.Columns[i] = to
		}
	}
}

// BronzeRow is the persisted form of a raw CSV row. The header is kept in the
// table manifest, so Values lines up with Manifest.Columns.
type BronzeRow struct {
	Line   int64    `parquet:"line"`
	Values []string `parquet:"values,list"`
}

// BronzeRows converts a raw table into persisted rows. Line numbers are
// 1-based data lines, excluding the header.
func (t *RawTable) BronzeRows() []BronzeRow {
	rows := make([]BronzeRow, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = BronzeRow{Line: int64(i + 1), Values: r}
	}
	return rows
}

// RawFromBronze rebuilds a raw table from persisted rows and its header.
func RawFromBronze(name string, columns []string, rows []BronzeRow) (*RawTable, error) {
	t := &RawTable{
		Name:    name,
		Columns: columns,
		Rows:    make([][]string, len(rows)),
	}
	for i, r := range rows {
		values := r.Values
		// An empty list round-trips as nil; a table with columns never has
		// zero-width rows, so restore the width with empty cells.
		if len(values) == 0 && len(columns) > 0 {
			values = make([]string, len(columns))
		}
		if len(values) != len(columns) {
			return nil, fmt.Errorf("bronze row %d has %d values, header has %d", r.Line, len(values), len(columns))
		}
		t.Rows[i] = values
	}
	return t, nil
}

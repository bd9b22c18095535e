// Package transform cleans bronze tables into typed silver records.
package transform

import (
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

// ErrMissingColumn is returned when a required source column is absent.
var ErrMissingColumn = errors.New("missing column")

// ColumnPlan describes how a raw header maps onto a silver record.
type ColumnPlan struct {
	// Drop lists source columns removed from the output. Absent names are ignored.
	Drop []string
	// Rename maps source columns onto typed output columns.
	Rename map[string]string
	// Derived lists output columns computed from other columns. A source
	// column with the same name is replaced.
	Derived []string
	// Reserved lists output columns written downstream of this plan. A
	// source column with the same name is dropped.
	Reserved []string
	// Required lists source columns that must be present.
	Required []string
}

// Resolved is a plan bound to a concrete header.
type Resolved struct {
	header []string
	pos    map[string]int
	extra  []int
}

// Resolve binds the plan to header. Every column that is neither dropped,
// renamed nor derived is carried through as an extra attribute. Source
// columns named like a typed output column never pass through.
func (p ColumnPlan) Resolve(header []string) (*Resolved, error) {
	pos := make(map[string]int, len(header))
	for i, col := range header {
		pos[col] = i
	}

	for _, col := range p.Required {
		if _, ok := pos[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	skip := make(map[string]bool, len(p.Drop)+2*len(p.Rename)+len(p.Derived)+len(p.Reserved))
	for _, col := range p.Drop {
		skip[col] = true
	}
	for from, to := range p.Rename {
		skip[from] = true
		skip[to] = true
	}
	for _, col := range p.Derived {
		skip[col] = true
	}
	for _, col := range p.Reserved {
		skip[col] = true
	}

	r := &Resolved{header: header, pos: pos}
	for i, col := range header {
		if !skip[col] {
			r.extra = append(r.extra, i)
		}
	}
	return r, nil
}

// Index returns the position of a source column, or -1 when absent.
func (r *Resolved) Index(col string) int {
	if i, ok := r.pos[col]; ok {
		return i
	}
	return -1
}

// ExtraColumns returns the pass-through column names in header order.
func (r *Resolved) ExtraColumns() []string {
	cols := make([]string, len(r.extra))
	for i, idx := range r.extra {
		cols[i] = r.header[idx]
	}
	return cols
}

// Extra returns the pass-through attributes of row.
func (r *Resolved) Extra(row []string) []tables.Attribute {
	if len(r.extra) == 0 {
		return nil
	}
	attrs := make([]tables.Attribute, len(r.extra))
	for i, idx := range r.extra {
		attrs[i] = tables.Attribute{Column: r.header[idx], Value: row[idx]}
	}
	return attrs
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

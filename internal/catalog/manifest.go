package catalog

import (
	"encoding/json"
	"time"
)

// Manifest describes one published version of a table.
type Manifest struct {
	Table     string           `json:"table"`
	Version   string           `json:"version"`
	RunID     string           `json:"run_id"`
	Columns   []string         `json:"columns"`
	File      FileInfo         `json:"file"`
	Inputs    []InputRef       `json:"inputs,omitempty"`
	Stats     map[string]int64 `json:"stats,omitempty"`
	Producer  ProducerInfo     `json:"producer"`
	CreatedAt time.Time        `json:"created_at"`
}

// FileInfo describes the version's parquet file.
type FileInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// InputRef records a table version a publish was derived from.
type InputRef struct {
	Table    string `json:"table"`
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
}

// ProducerInfo describes the software that produced the version.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// InputOf builds an InputRef from a manifest.
func InputOf(m *Manifest) InputRef {
	return InputRef{
		Table:    m.Table,
		Version:  m.Version,
		Checksum: m.File.Checksum,
	}
}

// MarshalJSON returns the manifest as indented JSON.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Package lineage emits hash-chained audit events for published table versions.
package lineage

import (
	"cmp"
	"slices"
	"time"
)

const (
	// EventVersion is the schema version of emitted events.
	EventVersion = "1.0"
	// EventType marks an event describing a published table version.
	EventType = "table_version"
)

// Event describes one published table version and what it was built from.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Table    TableInfo    `json:"table"`
	Inputs   []InputInfo  `json:"inputs"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// TableInfo identifies the table version being audited.
type TableInfo struct {
	Namespace   string `json:"namespace"`
	Tier        string `json:"tier"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	RunID       string `json:"run_id"`
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	ByteSize    int64  `json:"byte_size"`
	StoragePath string `json:"storage_path"`
}

// InputInfo is a table version read to produce the event's table.
type InputInfo struct {
	Table    string `json:"table"`
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links an event to its predecessor in the namespace.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this table belongs to. All tables of a
// namespace share one chain.
func (t TableInfo) ChainKey() string {
	return t.Namespace
}

// Ref returns the fully qualified table name.
func (t TableInfo) Ref() string {
	return t.Namespace + "." + t.Tier + "." + t.Name
}

// SetChainHashes links the event to prevHash and computes its own hash.
// Inputs are sorted first so their order does not affect the hash.
func (e *Event) SetChainHashes(prevHash string) {
	slices.SortFunc(e.Inputs, func(a, b InputInfo) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Version, b.Version))
	})
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

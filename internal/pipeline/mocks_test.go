package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/withObsrvr/obsrvr-medallion/internal/lineage"
	"github.com/withObsrvr/obsrvr-medallion/internal/metadata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockMetadata implements metadata.Writer for testing
type mockMetadata struct {
	mu       sync.Mutex
	datasets map[string]int64
	lineage  []metadata.LineageRecord
	quality  []metadata.QualityRecord
	failWith error
	closed   bool
}

func newMockMetadata() *mockMetadata {
	return &mockMetadata{datasets: make(map[string]int64)}
}

func (m *mockMetadata) EnsureDataset(ctx context.Context, info metadata.DatasetInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s.%s.%s", info.Namespace, info.Tier, info.Table)
	if id, ok := m.datasets[key]; ok {
		return id, nil
	}
	id := int64(len(m.datasets) + 1)
	m.datasets[key] = id
	return id, nil
}

func (m *mockMetadata) GetLastLineage(ctx context.Context, datasetID int64) (*metadata.LineageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.lineage) - 1; i >= 0; i-- {
		if m.lineage[i].DatasetID == datasetID {
			rec := m.lineage[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *mockMetadata) InsertLineage(ctx context.Context, rec metadata.LineageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.lineage = append(m.lineage, rec)
	return nil
}

func (m *mockMetadata) InsertQuality(ctx context.Context, rec metadata.QualityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality = append(m.quality, rec)
	return nil
}

func (m *mockMetadata) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// lineageFor returns the lineage rows recorded for a table, oldest first.
func (m *mockMetadata) lineageFor(ns, tier, table string) []metadata.LineageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.datasets[ns+"."+tier+"."+table]
	var out []metadata.LineageRecord
	for _, rec := range m.lineage {
		if rec.DatasetID == id {
			out = append(out, rec)
		}
	}
	return out
}

// mockEmitter implements lineage.Emitter for testing
type mockEmitter struct {
	mu     sync.Mutex
	events []lineage.Event
	err    error
}

var errEmit = errors.New("lineage sink unavailable")

func (e *mockEmitter) Emit(ctx context.Context, evt *lineage.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, *evt)
	return nil
}

func (e *mockEmitter) Close() error {
	return nil
}

func (e *mockEmitter) tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Table.Ref()
	}
	return out
}

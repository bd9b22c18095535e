package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-medallion/internal/config"
	"github.com/withObsrvr/obsrvr-medallion/internal/logging"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, evt *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *evt)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func tableEvent(ns, table string) *Event {
	return &Event{
		Table: TableInfo{Namespace: ns, Tier: "silver", Name: table, Version: "v-" + table},
	}
}

func TestChainEmitterLinksEvents(t *testing.T) {
	dir := t.TempDir()
	pub := &recordingPublisher{}
	e, err := NewChainEmitter(dir, testLogger(), pub)
	require.NoError(t, err)

	ctx := context.Background()
	first := tableEvent("ns", "conflito")
	second := tableEvent("ns", "cidade")
	other := tableEvent("other", "conflito")
	require.NoError(t, e.Emit(ctx, first))
	require.NoError(t, e.Emit(ctx, second))
	require.NoError(t, e.Emit(ctx, other))

	assert.Empty(t, first.Chain.PrevEventHash)
	assert.Equal(t, first.Chain.EventHash, second.Chain.PrevEventHash)
	assert.Empty(t, other.Chain.PrevEventHash, "namespaces have separate chains")
	assert.Equal(t, EventType, first.EventType)
	assert.NotEmpty(t, first.EventID)
	assert.False(t, first.Timestamp.IsZero())
	require.Len(t, pub.events, 3)

	// The backup file holds the chained event.
	data, err := os.ReadFile(e.backup.Path(second))
	require.NoError(t, err)
	var saved Event
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, second.Chain.EventHash, saved.Chain.EventHash)

	// Chain heads survive a restart.
	reopened, err := NewChainEmitter(dir, testLogger())
	require.NoError(t, err)
	third := tableEvent("ns", "conflito")
	require.NoError(t, reopened.Emit(ctx, third))
	assert.Equal(t, second.Chain.EventHash, third.Chain.PrevEventHash)
}

func TestChainEmitterPublishFailureKeepsHead(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	e, err := NewChainEmitter(t.TempDir(), testLogger(), pub)
	require.NoError(t, err)

	err = e.Emit(context.Background(), tableEvent("ns", "conflito"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	_, err = e.chain.GetHead("ns")
	assert.ErrorIs(t, err, ErrNoChainHead)

	require.NoError(t, e.Close())
	assert.True(t, pub.closed)
}

func TestHTTPPublisherRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	var correlation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		correlation = r.Header.Get("X-Correlation-ID")
		if calls == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil || evt.Table.Name != "conflito" {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPPublisher(srv.URL, testLogger())
	p.delay = time.Millisecond

	ctx := logging.WithCorrelationID(context.Background(), "run-42")
	require.NoError(t, p.Publish(ctx, tableEvent("ns", "conflito")))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, "run-42", correlation)
}

func TestHTTPPublisherGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPublisher(srv.URL, testLogger())
	p.delay = time.Millisecond

	err := p.Publish(context.Background(), tableEvent("ns", "conflito"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Contains(t, err.Error(), "http 500")
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	fw := &fakeKafkaWriter{}
	p := &KafkaPublisher{writer: fw, topic: "lineage"}

	evt := tableEvent("ns", "cidade")
	evt.EventType = EventType
	evt.SetChainHashes("")
	require.NoError(t, p.Publish(context.Background(), evt))
	require.NoError(t, p.Close())

	require.Len(t, fw.msgs, 1)
	msg := fw.msgs[0]
	assert.Equal(t, "lineage", msg.Topic)
	assert.Equal(t, "ns", string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ns.silver.cidade", headers["table"])
	assert.Equal(t, evt.Chain.EventHash, headers["event_hash"])
	assert.True(t, fw.closed)
}

func TestNewEmitter(t *testing.T) {
	e, err := NewEmitter(config.LineageConfig{}, testLogger())
	require.NoError(t, err)
	_, ok := e.(NoopEmitter)
	assert.True(t, ok, "disabled lineage should be a no-op")

	e, err = NewEmitter(config.LineageConfig{Enabled: true, BackupDir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	ce, ok := e.(*ChainEmitter)
	require.True(t, ok)
	assert.Empty(t, ce.publishers)

	e, err = NewEmitter(config.LineageConfig{
		Enabled:      true,
		BackupDir:    t.TempDir(),
		Endpoint:     "http://localhost:1/events",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "lineage",
	}, testLogger())
	require.NoError(t, err)
	ce, ok = e.(*ChainEmitter)
	require.True(t, ok)
	require.Len(t, ce.publishers, 2)
	assert.Equal(t, "http", ce.publishers[0].Name())
	assert.Equal(t, "kafka", ce.publishers[1].Name())
	require.NoError(t, e.Close())
}

func TestNewEmitterSetupFailure(t *testing.T) {
	// A regular file where the backup directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	e, err := NewEmitter(config.LineageConfig{
		Enabled:   true,
		BackupDir: filepath.Join(blocker, "lineage"),
	}, testLogger())
	assert.Error(t, err)
	assert.Nil(t, e)
}

// Package metrics provides Prometheus metrics for the medallion pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Stage metrics
	StagesCompleted *prometheus.CounterVec
	StagesFailed    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec

	// Table metrics
	TablesPublished *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	TableRows       *prometheus.GaugeVec
	TableBytes      *prometheus.GaugeVec

	// Data quality
	RowsRejected *prometheus.CounterVec
	JoinRows     *prometheus.CounterVec

	// Error metrics
	SourceErrors   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec
	LineageErrors  *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string
}

var defaultMetrics *Metrics

// Init registers the pipeline metrics with reg, or the default registerer
// when reg is nil.
func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "medallion"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	stage := []string{"namespace", "stage"}
	table := []string{"namespace", "tier", "table"}

	m := &Metrics{
		StagesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of stages completed",
			},
			stage,
		),
		StagesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_failed_total",
				Help:      "Total number of stages that failed",
			},
			stage,
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time to run a stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			stage,
		),
		TablesPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tables_published_total",
				Help:      "Total number of table versions published",
			},
			table,
		),
		PublishDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Time to encode and publish a table version",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			table,
		),
		TableRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows",
				Help:      "Rows in the current version of a table",
			},
			table,
		),
		TableBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_bytes",
				Help:      "Parquet size of the current version of a table",
			},
			table,
		),
		RowsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_rejected_total",
				Help:      "Cells nulled or rows flagged during cleaning, by reason",
			},
			[]string{"namespace", "table", "reason"},
		),
		JoinRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "join_rows_total",
				Help:      "Conflict rows probed by the city join, by outcome",
			},
			[]string{"namespace", "outcome"},
		),
		SourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of source read errors",
			},
			[]string{"namespace", "source"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"namespace", "backend"},
		),
		MetadataErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of metadata catalog errors",
			},
			[]string{"namespace"},
		),
		LineageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lineage_errors_total",
				Help:      "Total number of lineage emission errors",
			},
			[]string{"namespace"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves /metrics from g and a plain /health probe.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer serves metrics on address until ctx is cancelled.
func StartServer(ctx context.Context, address string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Namespace string
	Stage     string
	Tier      string
	Table     string
	Source    string
	Backend   string
}

// ObserveStage records a finished stage and its duration.
func (m *Metrics) ObserveStage(l Labels, seconds float64, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(l.Namespace, l.Stage).Observe(seconds)
	if err != nil {
		m.StagesFailed.WithLabelValues(l.Namespace, l.Stage).Inc()
		return
	}
	m.StagesCompleted.WithLabelValues(l.Namespace, l.Stage).Inc()
}

// ObservePublish records a published table version.
func (m *Metrics) ObservePublish(l Labels, rows, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.TablesPublished.WithLabelValues(l.Namespace, l.Tier, l.Table).Inc()
	m.PublishDuration.WithLabelValues(l.Namespace, l.Tier, l.Table).Observe(seconds)
	m.TableRows.WithLabelValues(l.Namespace, l.Tier, l.Table).Set(float64(rows))
	m.TableBytes.WithLabelValues(l.Namespace, l.Tier, l.Table).Set(float64(bytes))
}

// AddRejected adds per-reason rejection counts for a table.
func (m *Metrics) AddRejected(l Labels, byReason map[string]int64) {
	if m == nil {
		return
	}
	for reason, n := range byReason {
		if n > 0 {
			m.RowsRejected.WithLabelValues(l.Namespace, l.Table, reason).Add(float64(n))
		}
	}
}

// AddJoinRows adds join outcome counts.
func (m *Metrics) AddJoinRows(l Labels, matched, unmatched, ambiguous int64) {
	if m == nil {
		return
	}
	m.JoinRows.WithLabelValues(l.Namespace, "matched").Add(float64(matched))
	m.JoinRows.WithLabelValues(l.Namespace, "unmatched").Add(float64(unmatched))
	m.JoinRows.WithLabelValues(l.Namespace, "ambiguous_key").Add(float64(ambiguous))
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(l Labels) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(l.Namespace, l.Source).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(l.Namespace, l.Backend).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors(l Labels) {
	if m == nil {
		return
	}
	m.MetadataErrors.WithLabelValues(l.Namespace).Inc()
}

// IncLineageErrors increments the lineage errors counter.
func (m *Metrics) IncLineageErrors(l Labels) {
	if m == nil {
		return
	}
	m.LineageErrors.WithLabelValues(l.Namespace).Inc()
}

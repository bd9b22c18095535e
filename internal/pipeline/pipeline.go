// Package pipeline runs the medallion stages over a namespace: CSV sources
// into bronze, bronze into silver, silver into gold and gold into reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-medallion/internal/catalog"
	"github.com/withObsrvr/obsrvr-medallion/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-medallion/internal/config"
	"github.com/withObsrvr/obsrvr-medallion/internal/lineage"
	"github.com/withObsrvr/obsrvr-medallion/internal/logging"
	"github.com/withObsrvr/obsrvr-medallion/internal/metadata"
	"github.com/withObsrvr/obsrvr-medallion/internal/metrics"
	"github.com/withObsrvr/obsrvr-medallion/internal/source"
	"github.com/withObsrvr/obsrvr-medallion/internal/stages"
	"github.com/withObsrvr/obsrvr-medallion/internal/storage"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
	"github.com/withObsrvr/obsrvr-medallion/internal/transform"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies this software in manifests and lineage.
const ProducerName = "medallion"

// Pipeline carries everything a run needs: its namespace and run ID, the
// table catalog and the optional metadata, lineage and checkpoint sinks.
type Pipeline struct {
	cfg        config.Config
	namespace  string
	runID      string
	store      storage.Store
	catalog    *catalog.Catalog
	plan       *stages.Plan
	opener     source.Opener
	meta       metadata.Writer
	lineage    lineage.Emitter
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	out        io.Writer
	log        *slog.Logger
	parquet    tables.ParquetConfig
	perf       transform.Options

	// published holds the table versions this run (or the resumed one) made current.
	published map[string]checkpoint.TableState
}

// Option overrides a pipeline dependency.
type Option func(*Pipeline)

// WithMetadata sets the lineage catalog writer.
func WithMetadata(w metadata.Writer) Option {
	return func(p *Pipeline) { p.meta = w }
}

// WithLineage sets the lineage event emitter.
func WithLineage(e lineage.Emitter) Option {
	return func(p *Pipeline) { p.lineage = e }
}

// WithCheckpoint sets the checkpoint manager.
func WithCheckpoint(m checkpoint.Manager) Option {
	return func(p *Pipeline) { p.checkpoint = m }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOutput sets where report tables are printed.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline over store. Dependencies not supplied as options
// are built from cfg.
func New(cfg config.Config, store storage.Store, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("pipeline requires a store")
	}

	p := &Pipeline{
		cfg:       cfg,
		namespace: cfg.Pipeline.Namespace,
		runID:     cfg.Pipeline.RunID,
		store:     store,
		opener:    source.NewOpener(),
		plan:      stages.Default(),
		parquet:   tables.ParquetConfig{Compression: cfg.Parquet.Compression},
		perf: transform.Options{
			Workers:       cfg.Perf.Workers,
			PartitionSize: cfg.Perf.PartitionSize,
		}.Normalized(),
		published: make(map[string]checkpoint.TableState),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.namespace == "" {
		return nil, errors.New("pipeline requires a namespace")
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "pipeline")
	if p.out == nil {
		p.out = os.Stdout
	}
	if p.metrics == nil {
		p.metrics = metrics.Get()
	}

	if p.checkpoint == nil {
		cp, err := checkpoint.NewManager(checkpoint.Config{
			Enabled: cfg.Checkpoint.Enabled,
			Dir:     cfg.Checkpoint.Dir,
		})
		if err != nil {
			return nil, fmt.Errorf("create checkpoint manager: %w", err)
		}
		p.checkpoint = cp
	}

	if p.meta == nil {
		w, err := metadata.NewWriter(metadata.CatalogConfig{
			PostgresDSN: cfg.Catalog.PostgresDSN,
			Namespace:   p.namespace,
		})
		if err != nil {
			if cfg.Catalog.Strict {
				return nil, fmt.Errorf("connect metadata catalog (strict mode): %w", err)
			}
			p.log.Warn("metadata catalog unavailable, continuing without it", "error", err)
			p.metrics.IncMetadataErrors(p.labels())
			w = metadata.NoopWriter{}
		}
		p.meta = w
	}

	if p.lineage == nil {
		e, err := lineage.NewEmitter(cfg.Lineage, p.log)
		if err != nil {
			if cfg.Lineage.Strict {
				p.meta.Close()
				return nil, fmt.Errorf("create lineage emitter (strict mode): %w", err)
			}
			p.log.Warn("lineage emitter unavailable, continuing without it", "error", err)
			p.metrics.IncLineageErrors(p.labels())
			e = lineage.NoopEmitter{}
		}
		p.lineage = e
	}

	p.catalog = catalog.New(store, catalog.Options{
		Retain: cfg.Storage.Retain,
		Logger: p.log,
	})

	return p, nil
}

// Namespace returns the namespace the pipeline writes to.
func (p *Pipeline) Namespace() string { return p.namespace }

// RunID returns the run's identifier.
func (p *Pipeline) RunID() string { return p.runID }

// Catalog returns the table catalog.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Plan returns the stage plan.
func (p *Pipeline) Plan() *stages.Plan { return p.plan }

// Close releases the metadata and lineage sinks. The store is owned by the caller.
func (p *Pipeline) Close() error {
	return errors.Join(p.meta.Close(), p.lineage.Close())
}

func (p *Pipeline) labels() metrics.Labels {
	return metrics.Labels{Namespace: p.namespace, Backend: p.cfg.Storage.Backend}
}

func (p *Pipeline) ref(tier, table string) catalog.TableRef {
	return catalog.TableRef{Namespace: p.namespace, Tier: tier, Table: table}
}

// Run executes the configured stage range. With resume set it starts after
// the last stage recorded in the namespace's checkpoint.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx = logging.WithCorrelationID(ctx, p.runID)
	from, to := p.cfg.Pipeline.From, p.cfg.Pipeline.To

	if p.cfg.Pipeline.Resume {
		cp, err := p.checkpoint.Load(ctx, p.namespace)
		switch {
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			p.log.Info("no checkpoint found, starting fresh")
		case err != nil:
			return fmt.Errorf("load checkpoint: %w", err)
		default:
			next, err := p.plan.After(cp.LastStage)
			if err != nil {
				return fmt.Errorf("resume after %q: %w", cp.LastStage, err)
			}
			if next == "" {
				p.log.Info("checkpoint already complete, nothing to resume", "last_stage", cp.LastStage, "run_id", cp.RunID)
				return nil
			}
			for k, v := range cp.Tables {
				p.published[k] = v
			}
			p.log.Info("resuming from checkpoint", "last_stage", cp.LastStage, "next_stage", next)
			from = next
		}
	}

	defs, err := p.plan.Range(from, to)
	if err != nil {
		return err
	}

	p.log.Info("starting run",
		"run_id", p.runID,
		"namespace", p.namespace,
		"from", defs[0].Name,
		"to", defs[len(defs)-1].Name,
	)
	start := time.Now()

	for _, d := range defs {
		if err := p.RunStage(ctx, d.Name); err != nil {
			return err
		}
	}

	p.log.Info("run complete", "run_id", p.runID, "stages", len(defs), "duration", time.Since(start).String())
	return nil
}

// RunStage executes a single stage and checkpoints it on success.
func (p *Pipeline) RunStage(ctx context.Context, name string) error {
	if _, err := p.plan.Get(name); err != nil {
		return err
	}
	log := logging.StageLogger(p.log, p.runID, p.namespace, name)

	var run func(context.Context, *slog.Logger) error
	switch name {
	case stages.Ingest:
		run = p.ingest
	case stages.Clean:
		run = p.clean
	case stages.Join:
		run = p.join
	case stages.Analyze:
		run = func(ctx context.Context, log *slog.Logger) error {
			_, err := p.analyze(ctx, log)
			return err
		}
	default:
		return fmt.Errorf("%w: %q has no implementation", stages.ErrUnknownStage, name)
	}

	log.Info("stage started")
	start := time.Now()
	err := run(ctx, log)
	elapsed := time.Since(start)

	l := p.labels()
	l.Stage = name
	p.metrics.ObserveStage(l, elapsed.Seconds(), err)

	if err != nil {
		log.Error("stage failed", "error", err, "duration", elapsed.String())
		return fmt.Errorf("stage %s: %w", name, err)
	}
	log.Info("stage complete", "duration", elapsed.String())

	p.saveCheckpoint(ctx, name)
	return nil
}

// saveCheckpoint records a finished stage. Failures are logged only.
func (p *Pipeline) saveCheckpoint(ctx context.Context, stage string) {
	tablesCopy := make(map[string]checkpoint.TableState, len(p.published))
	for k, v := range p.published {
		tablesCopy[k] = v
	}
	cp := &checkpoint.Checkpoint{
		Namespace: p.namespace,
		RunID:     p.runID,
		LastStage: stage,
		Tables:    tablesCopy,
		UpdatedAt: time.Now().UTC(),
	}
	if err := p.checkpoint.Save(ctx, cp); err != nil {
		p.log.Warn("failed to save checkpoint", "stage", stage, "error", err)
	}
}

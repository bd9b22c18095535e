package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-medallion/internal/config"
)

// Emitter records lineage events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// Publisher delivers a chained event to an external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter from configuration. Disabled lineage yields
// a no-op emitter; setup failures are returned to the caller.
func NewEmitter(cfg config.LineageConfig, logger *slog.Logger) (Emitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lineage")

	if !cfg.Enabled {
		logger.Info("lineage disabled, using no-op emitter")
		return NoopEmitter{}, nil
	}

	var pubs []Publisher
	if cfg.Endpoint != "" {
		pubs = append(pubs, NewHTTPPublisher(cfg.Endpoint, logger))
	}
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	emitter, err := NewChainEmitter(cfg.BackupDir, logger, pubs...)
	if err != nil {
		for _, p := range pubs {
			p.Close()
		}
		return nil, fmt.Errorf("create lineage emitter: %w", err)
	}

	logger.Info("lineage emitter ready", "backup_dir", cfg.BackupDir, "publishers", len(pubs))
	return emitter, nil
}

// ChainEmitter links events into per-namespace hash chains, backs them up
// to local files and hands them to its publishers.
type ChainEmitter struct {
	chain      *ChainTracker
	backup     *FileBackup
	publishers []Publisher
	log        *slog.Logger
	now        func() time.Time
}

// NewChainEmitter creates an emitter keeping chain state and backups in dir.
// With no publishers the backup file is the only record.
func NewChainEmitter(dir string, logger *slog.Logger, pubs ...Publisher) (*ChainEmitter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &ChainEmitter{
		chain:      chain,
		backup:     backup,
		publishers: pubs,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Emit chains, backs up and publishes evt. The chain head only advances
// once every publisher has accepted the event.
func (e *ChainEmitter) Emit(ctx context.Context, evt *Event) error {
	chainKey := evt.Table.ChainKey()

	// 1. Previous hash for this chain
	prevHash, err := e.chain.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	// 2. Fill envelope and compute the event hash
	if evt.EventID == "" {
		evt.EventID = GenerateEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	evt.Version = EventVersion
	evt.EventType = EventType
	evt.SetChainHashes(prevHash)

	log := e.log.With("table", evt.Table.Ref(), "version", evt.Table.Version)
	if prevHash == "" {
		log.Info("emitting lineage event", "prev_hash", nil, "event_hash", evt.Chain.EventHash)
	} else {
		log.Info("emitting lineage event", "prev_hash", prevHash, "event_hash", evt.Chain.EventHash)
	}

	// 3. Local backup, always before publishing
	if err := e.backup.Save(evt); err != nil {
		if len(e.publishers) == 0 {
			return fmt.Errorf("save lineage event: %w", err)
		}
		log.Warn("lineage backup failed", "error", err)
	}

	// 4. Publish
	for _, p := range e.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			return fmt.Errorf("publish lineage event via %s: %w", p.Name(), err)
		}
	}

	// 5. Advance the chain
	if err := e.chain.SetHead(chainKey, evt.Chain.EventHash); err != nil {
		log.Warn("failed to update chain head", "error", err)
	}

	return nil
}

// Close closes every publisher.
func (e *ChainEmitter) Close() error {
	var errs []error
	for _, p := range e.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, *Event) error { return nil }

func (NoopEmitter) Close() error { return nil }

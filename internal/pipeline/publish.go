package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-medallion/internal/catalog"
	"github.com/withObsrvr/obsrvr-medallion/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-medallion/internal/logging"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

// origin describes where a table's rows came from, for lineage.
type origin struct {
	Type     string // "csv" for sources, "table" for derived tiers
	Location string
}

// publishRequest is one table to publish.
type publishRequest struct {
	Ref     catalog.TableRef
	Columns []string
	Inputs  []*catalog.Manifest
	Stats   map[string]int64
	Origin  origin
}

// publishTable is the transactional lifecycle for committing a table version.
//
// The order of operations is critical and must not be changed:
//  1. Encode parquet in memory
//  2. Validate columns, row counts and checksum
//  3. Publish the version and swap the table pointer
//  4. Record lineage and quality in the metadata catalog
//  5. Emit the lineage event (must follow publish, it references stored data)
//  6. Remember the version for the stage checkpoint
//
// Steps 1-3 are fatal. Steps 4 and 5 only fail the stage in strict mode:
// the new version is already current by then.
func publishTable[T any](ctx context.Context, p *Pipeline, log *slog.Logger, req publishRequest, rows []T) (*catalog.Manifest, error) {
	log = logging.TableLogger(log, req.Ref.String())
	start := time.Now()
	l := p.labels()
	l.Tier, l.Table = req.Ref.Tier, req.Ref.Table

	// Step 1: encode
	output, err := tables.EncodeParquet(rows, p.parquet)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Ref, err)
	}

	// Step 2: validate
	result := ValidateTable(req.Columns, len(rows), output)
	for _, w := range result.Warnings {
		log.Warn("validation warning", "warning", w)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Ref, err)
	}

	// Step 3: publish
	inputs := make([]catalog.InputRef, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = catalog.InputOf(in)
	}
	m, err := p.catalog.Publish(ctx, req.Ref, output, catalog.Manifest{
		RunID:   p.runID,
		Columns: req.Columns,
		Inputs:  inputs,
		Stats:   req.Stats,
		Producer: catalog.ProducerInfo{
			Name:    ProducerName,
			Version: Version,
			GitSHA:  GitSHA,
		},
	})
	if err != nil {
		p.metrics.IncStorageErrors(l)
		return nil, err
	}

	// Step 4: metadata catalog
	if err := p.recordMetadata(ctx, req, m, result); err != nil {
		p.metrics.IncMetadataErrors(l)
		if p.cfg.Catalog.Strict {
			return nil, fmt.Errorf("record metadata (strict mode): %w", err)
		}
		log.Warn("failed to record metadata", "error", err)
	}

	// Step 5: lineage event
	if err := p.lineage.Emit(ctx, buildLineageEvent(p, req, m)); err != nil {
		p.metrics.IncLineageErrors(l)
		if p.cfg.Lineage.Strict {
			return nil, fmt.Errorf("emit lineage event (strict mode): %w", err)
		}
		// The version is already current - log and continue
		log.Warn("failed to emit lineage event", "error", err)
	}

	// Step 6: checkpoint state
	p.published[req.Ref.String()] = checkpoint.TableState{
		Version:  m.Version,
		Checksum: m.File.Checksum,
		RowCount: m.File.RowCount,
	}

	elapsed := time.Since(start)
	p.metrics.ObservePublish(l, m.File.RowCount, m.File.ByteSize, elapsed.Seconds())
	log.Info("table published",
		"version", m.Version,
		"rows", m.File.RowCount,
		"bytes", m.File.ByteSize,
		"duration", elapsed.String(),
	)
	return m, nil
}

// recordMetadata writes the lineage and quality rows of a published version.
// The lineage row links to the previous version's checksum.
func (p *Pipeline) recordMetadata(ctx context.Context, req publishRequest, m *catalog.Manifest, result ValidationResult) error {
	datasetID, err := p.meta.EnsureDataset(ctx, datasetInfo(req.Ref))
	if err != nil {
		return err
	}
	if datasetID == 0 {
		return nil // No catalog configured
	}

	prev, err := p.meta.GetLastLineage(ctx, datasetID)
	if err != nil {
		return err
	}
	prevHash := ""
	if prev != nil {
		prevHash = prev.Checksum
	}

	rec := buildLineageRecord(p, datasetID, req, m, prevHash)
	if err := p.meta.InsertLineage(ctx, rec); err != nil {
		return err
	}
	return RecordQualityResult(ctx, p.meta, datasetID, m.Version, result)
}

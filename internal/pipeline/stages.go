package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-medallion/internal/catalog"
	"github.com/withObsrvr/obsrvr-medallion/internal/gold"
	"github.com/withObsrvr/obsrvr-medallion/internal/report"
	"github.com/withObsrvr/obsrvr-medallion/internal/source"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
	"github.com/withObsrvr/obsrvr-medallion/internal/transform"
	"github.com/withObsrvr/obsrvr-medallion/internal/warehouse"
)

// ingest copies both CSV sources verbatim into bronze.
func (p *Pipeline) ingest(ctx context.Context, log *slog.Logger) error {
	sources := []struct {
		table    string
		location string
		renames  map[string]string
	}{
		{tables.ConflictTable, p.cfg.Sources.Conflict, nil},
		{tables.CityTable, p.cfg.Sources.City, map[string]string{"IDHM Ranking 2010": "IDHM_Ranking_2010"}},
	}

	for _, s := range sources {
		raw, err := source.Load(ctx, p.opener, s.table, s.location)
		if err != nil {
			l := p.labels()
			l.Source = s.table
			p.metrics.IncSourceErrors(l)
			return err
		}
		for from, to := range s.renames {
			raw.RenameColumn(from, to)
		}
		log.Info("source loaded", "table", s.table, "location", s.location, "rows", len(raw.Rows), "columns", len(raw.Columns))

		_, err = publishTable(ctx, p, log, publishRequest{
			Ref:     p.ref(tables.TierBronze, s.table),
			Columns: raw.Columns,
			Stats:   map[string]int64{"rows": int64(len(raw.Rows))},
			Origin:  origin{Type: "csv", Location: s.location},
		}, raw.BronzeRows())
		if err != nil {
			return err
		}
	}
	return nil
}

// readBronze rebuilds a bronze table as raw text rows.
func (p *Pipeline) readBronze(ctx context.Context, table string) (*tables.RawTable, *catalog.Manifest, error) {
	ref := p.ref(tables.TierBronze, table)
	rows, m, err := catalog.ReadRows[tables.BronzeRow](ctx, p.catalog, ref)
	if err != nil {
		return nil, nil, err
	}
	raw, err := tables.RawFromBronze(table, m.Columns, rows)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild %s: %w", ref, err)
	}
	return raw, m, nil
}

// clean maps bronze conflicts and cities to their silver shapes.
func (p *Pipeline) clean(ctx context.Context, log *slog.Logger) error {
	raw, in, err := p.readBronze(ctx, tables.ConflictTable)
	if err != nil {
		return err
	}
	conflicts, stats, err := transform.CleanConflicts(ctx, raw, p.perf)
	if err != nil {
		return fmt.Errorf("clean %s: %w", tables.ConflictTable, err)
	}
	var extra []tables.Attribute
	if len(conflicts) > 0 {
		extra = conflicts[0].Extra
	}
	if err := publishSilver(ctx, p, log, tables.ConflictTable, withExtras(tables.ConflictColumns, extra), in, stats, conflicts); err != nil {
		return err
	}

	raw, in, err = p.readBronze(ctx, tables.CityTable)
	if err != nil {
		return err
	}
	cities, stats, err := transform.CleanCities(ctx, raw, p.perf)
	if err != nil {
		return fmt.Errorf("clean %s: %w", tables.CityTable, err)
	}
	extra = nil
	if len(cities) > 0 {
		extra = cities[0].Extra
	}
	return publishSilver(ctx, p, log, tables.CityTable, withExtras(tables.CityColumns, extra), in, stats, cities)
}

// publishSilver publishes the cleaned rows of table, read from the bronze version in.
func publishSilver[T any](ctx context.Context, p *Pipeline, log *slog.Logger, table string, columns []string, in *catalog.Manifest, stats transform.Stats, rows []T) error {
	ref := p.ref(tables.TierSilver, table)
	rejected := stats.Rejections()
	summary := map[string]int64{"rows": stats.Rows}
	for reason, n := range rejected {
		summary[reason] = n
	}
	log.Info("table cleaned", "table", ref.Table, "rows", stats.Rows,
		"missing_fatalities", stats.MissingFatalities,
		"invalid_fatalities", stats.InvalidFatalities,
		"invalid_dates", stats.InvalidDates,
		"empty_keys", stats.EmptyKeys,
	)

	l := p.labels()
	l.Tier, l.Table = ref.Tier, ref.Table
	p.metrics.AddRejected(l, rejected)

	_, err := publishTable(ctx, p, log, publishRequest{
		Ref:     ref,
		Columns: columns,
		Inputs:  []*catalog.Manifest{in},
		Stats:   summary,
		Origin:  origin{Type: "table", Location: in.Table + "@" + in.Version},
	}, rows)
	return err
}

// join enriches silver conflicts with their city's state into gold.
func (p *Pipeline) join(ctx context.Context, log *slog.Logger) error {
	conflicts, cm, err := catalog.ReadRows[tables.ConflictRecord](ctx, p.catalog, p.ref(tables.TierSilver, tables.ConflictTable))
	if err != nil {
		return err
	}
	cities, dm, err := catalog.ReadRows[tables.CityDigest](ctx, p.catalog, p.ref(tables.TierSilver, tables.CityTable))
	if err != nil {
		return err
	}

	enriched, js, err := gold.Join(ctx, conflicts, cities, p.perf)
	if err != nil {
		return fmt.Errorf("join %s: %w", tables.ConflictTable, err)
	}
	if js.Unmatched > 0 {
		log.Warn("conflict events without a matching city", "unmatched", js.Unmatched, "probed", js.Probed)
	}
	if js.AmbiguousKeys > 0 {
		log.Warn("duplicate city keys, first row kept", "ambiguous_keys", js.AmbiguousKeys)
	}

	l := p.labels()
	l.Tier, l.Table = tables.TierGold, tables.ConflictTable
	p.metrics.AddJoinRows(l, js.Matched, js.Unmatched, js.AmbiguousKeys)

	var extra []tables.Attribute
	if len(enriched) > 0 {
		extra = enriched[0].Extra
	}
	_, err = publishTable(ctx, p, log, publishRequest{
		Ref:     p.ref(tables.TierGold, tables.ConflictTable),
		Columns: withExtras(tables.GoldColumns, extra),
		Inputs:  []*catalog.Manifest{cm, dm},
		Stats: map[string]int64{
			"rows":           int64(len(enriched)),
			"probed":         js.Probed,
			"matched":        js.Matched,
			"unmatched":      js.Unmatched,
			"ambiguous_keys": js.AmbiguousKeys,
		},
		Origin: origin{Type: "table", Location: cm.Table + "@" + cm.Version},
	}, enriched)
	return err
}

// Analysis is the result of the analyze stage.
type Analysis struct {
	GoldVersion string
	TopCities   []warehouse.CityCount
	Breakdown   []warehouse.EventBreakdown
	ChartPath   string // empty when there was nothing to chart
}

// Analyze runs the analyze stage outside a full run and returns its results.
func (p *Pipeline) Analyze(ctx context.Context) (*Analysis, error) {
	return p.analyze(ctx, p.log.With("stage", "analyze", "namespace", p.namespace))
}

// openGold loads the current gold table into the SQLite warehouse.
func (p *Pipeline) openGold(ctx context.Context, log *slog.Logger) (*warehouse.Warehouse, *catalog.Manifest, error) {
	rows, m, err := catalog.ReadRows[tables.EnrichedConflict](ctx, p.catalog, p.ref(tables.TierGold, tables.ConflictTable))
	if err != nil {
		return nil, nil, err
	}

	wh, err := warehouse.Open(ctx, p.cfg.Report.WarehousePath, log)
	if err != nil {
		return nil, nil, err
	}
	n, err := wh.Load(ctx, rows)
	if err != nil {
		wh.Close()
		return nil, nil, err
	}
	log.Debug("gold loaded into warehouse", "rows", n, "version", m.Version)
	return wh, m, nil
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger) (*Analysis, error) {
	wh, m, err := p.openGold(ctx, log)
	if err != nil {
		return nil, err
	}
	defer wh.Close()

	top, err := wh.TopViolentCities(ctx, p.cfg.Report.TopN)
	if err != nil {
		return nil, err
	}
	breakdown, err := wh.Breakdown(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analysis{GoldVersion: m.Version, TopCities: top, Breakdown: breakdown}

	path := filepath.Join(p.cfg.Report.OutputDir, report.TopCitiesFile)
	switch err := report.WritePie(path, report.TopCitiesChart(top)); {
	case errors.Is(err, report.ErrNoData):
		log.Warn("no violent events to chart", "gold_version", m.Version)
	case err != nil:
		return nil, fmt.Errorf("write chart: %w", err)
	default:
		a.ChartPath = path
		log.Info("chart written", "path", path)
	}

	report.PrintTopCities(p.out, top)
	report.PrintBreakdown(p.out, breakdown)
	return a, nil
}

// Describe returns the columns of the current gold table.
func (p *Pipeline) Describe(ctx context.Context) ([]warehouse.ColumnInfo, error) {
	wh, _, err := p.openGold(ctx, p.log)
	if err != nil {
		return nil, err
	}
	defer wh.Close()
	return wh.Describe(ctx)
}

// TableStatus describes the current version of one table.
type TableStatus struct {
	Table    string
	Version  string
	RunID    string
	RowCount int64
	Checksum string
	Versions int
}

// Status lists every published table in the namespace.
func (p *Pipeline) Status(ctx context.Context) ([]TableStatus, error) {
	refs, err := p.catalog.Tables(ctx, p.namespace)
	if err != nil {
		return nil, err
	}

	out := make([]TableStatus, 0, len(refs))
	for _, ref := range refs {
		m, err := p.catalog.Current(ctx, ref)
		if err != nil {
			return nil, err
		}
		versions, err := p.catalog.Versions(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, TableStatus{
			Table:    ref.String(),
			Version:  m.Version,
			RunID:    m.RunID,
			RowCount: m.File.RowCount,
			Checksum: m.File.Checksum,
			Versions: len(versions),
		})
	}
	return out, nil
}

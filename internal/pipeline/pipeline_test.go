package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-medallion/internal/catalog"
	"github.com/withObsrvr/obsrvr-medallion/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-medallion/internal/config"
	"github.com/withObsrvr/obsrvr-medallion/internal/lineage"
	"github.com/withObsrvr/obsrvr-medallion/internal/metrics"
	"github.com/withObsrvr/obsrvr-medallion/internal/source"
	"github.com/withObsrvr/obsrvr-medallion/internal/stages"
	"github.com/withObsrvr/obsrvr-medallion/internal/storage"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

const conflictCSV = `EVENT_DATE,EVENT_TYPE,SUB_EVENT_TYPE,ACTOR1,ACTOR2,COUNTRY,ADMIN1,LOCATION,LATITUDE,LONGITUDE,SOURCE_SCALE,NOTES,FATALITIES
15-3-2020,Riots,Violent demonstration,Rioters (Brazil),,Brazil,Rio de Janeiro,Rio de Janeiro - Zona Sul,-22.9,-43.2,National,clash downtown,2
16-3-2020,Protests,Peaceful protest,Protesters (Brazil),,Brazil,Sao Paulo,São Paulo,-23.5,-46.6,National,march,
not-a-date,Violence against civilians,Attack,Unidentified,Civilians (Brazil),Brazil,Para,Belém,-1.4,-48.5,Subnational,attack,x
17-4-2021,Riots,Mob violence,Rioters (Brazil),,Brazil,Nowhere,Atlantis,0,0,Local,mob,0
`

const cityCSV = `CITY,STATE,CAPITAL,IDHM Ranking 2010,IDHM
Rio de Janeiro,RJ,1,45,0.799
São Paulo,SP,1,28,0.805
Belém,PA,1,1345,0.746
Rio de Janeiro,XX,0,5000,0.1
`

type fixture struct {
	cfg   config.Config
	store storage.Store
	meta  *mockMetadata
	emit  *mockEmitter
	out   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	conflict := filepath.Join(dir, "conflict.csv")
	city := filepath.Join(dir, "city.csv")
	require.NoError(t, os.WriteFile(conflict, []byte(conflictCSV), 0644))
	require.NoError(t, os.WriteFile(city, []byte(cityCSV), 0644))

	cfg := config.Default()
	cfg.Pipeline.Namespace = "test"
	cfg.Sources.Conflict = conflict
	cfg.Sources.City = city
	cfg.Storage.Backend = "mem"
	cfg.Report.OutputDir = filepath.Join(dir, "reports")
	cfg.Perf.PartitionSize = 2
	cfg.Perf.Workers = 2

	store, err := storage.NewStore(context.Background(), storage.StorageConfig{Backend: "mem"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		cfg:   cfg,
		store: store,
		meta:  newMockMetadata(),
		emit:  &mockEmitter{},
		out:   &bytes.Buffer{},
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithMetadata(f.meta),
		WithLineage(f.emit),
		WithCheckpoint(checkpoint.NoopManager{}),
		WithOutput(f.out),
		WithLogger(testLogger()),
	}
	p, err := New(f.cfg, f.store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	m := metrics.Init("medallion_test", prometheus.NewRegistry())
	p := f.pipeline(t, WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, p.Run(ctx))

	// Every table of the three tiers is current.
	status, err := p.Status(ctx)
	require.NoError(t, err)
	names := make([]string, len(status))
	for i, s := range status {
		names[i] = s.Table
	}
	assert.ElementsMatch(t, []string{
		"test.bronze.conflito", "test.bronze.cidade",
		"test.silver.conflito", "test.silver.cidade",
		"test.gold.conflito",
	}, names)

	// Bronze keeps the source header and every row.
	bronze, err := p.Catalog().Current(ctx, p.ref(tables.TierBronze, tables.ConflictTable))
	require.NoError(t, err)
	assert.Equal(t, int64(4), bronze.File.RowCount)
	assert.Equal(t, "LOCATION", bronze.Columns[7])

	// Silver absorbs bad values as nulls and counts them.
	silver, _, err := catalog.ReadRows[tables.ConflictRecord](ctx, p.Catalog(), p.ref(tables.TierSilver, tables.ConflictTable))
	require.NoError(t, err)
	require.Len(t, silver, 4)
	assert.Equal(t, "RIO DE JANEIRO", silver[0].CityKey)
	require.NotNil(t, silver[0].Fatalities)
	assert.Equal(t, int32(2), *silver[0].Fatalities)
	require.NotNil(t, silver[0].Month)
	assert.Equal(t, int32(3), *silver[0].Month)
	assert.Equal(t, int32(2020), *silver[0].Year)
	assert.Nil(t, silver[1].Fatalities)
	assert.Nil(t, silver[2].Fatalities)
	assert.Nil(t, silver[2].Month)
	assert.Equal(t, []tables.Attribute{{Column: "ADMIN1", Value: "Rio de Janeiro"}}, silver[0].Extra)

	sm, err := p.Catalog().Current(ctx, p.ref(tables.TierSilver, tables.ConflictTable))
	require.NoError(t, err)
	assert.Equal(t, append(append([]string{}, tables.ConflictColumns...), "ADMIN1"), sm.Columns)
	assert.Equal(t, int64(1), sm.Stats["missing_fatalities"])
	assert.Equal(t, int64(1), sm.Stats["invalid_fatalities"])
	assert.Equal(t, int64(1), sm.Stats["invalid_date"])

	// The city ranking header is fixed in bronze and dropped in silver.
	cb, err := p.Catalog().Current(ctx, p.ref(tables.TierBronze, tables.CityTable))
	require.NoError(t, err)
	assert.Equal(t, []string{"CITY", "STATE", "CAPITAL", "IDHM_Ranking_2010", "IDHM"}, cb.Columns)

	cm, err := p.Catalog().Current(ctx, p.ref(tables.TierSilver, tables.CityTable))
	require.NoError(t, err)
	assert.Equal(t, []string{"ID_CITY", "ESTADO", "CAPITAL"}, cm.Columns)

	// Gold: the Zona Sul event joins Rio, Atlantis is dropped and the
	// duplicate Rio row loses to the first.
	goldRows, gm, err := catalog.ReadRows[tables.EnrichedConflict](ctx, p.Catalog(), p.ref(tables.TierGold, tables.ConflictTable))
	require.NoError(t, err)
	require.Len(t, goldRows, 3)
	assert.LessOrEqual(t, len(goldRows), len(silver))
	assert.Equal(t, "RJ", goldRows[0].State)
	assert.Equal(t, "SP", goldRows[1].State)
	assert.Equal(t, "PA", goldRows[2].State)
	assert.Equal(t, int64(1), gm.Stats["unmatched"])
	assert.Equal(t, int64(1), gm.Stats["ambiguous_keys"])
	require.Len(t, gm.Inputs, 2)
	assert.Equal(t, "test.silver.conflito", gm.Inputs[0].Table)
	assert.Equal(t, "test.silver.cidade", gm.Inputs[1].Table)

	// Analysis excludes peaceful protests and breaks ties by city.
	assert.Contains(t, f.out.String(), "BELEM")
	assert.Contains(t, f.out.String(), "RIO DE JANEIRO")
	_, err = os.Stat(filepath.Join(f.cfg.Report.OutputDir, "top_violent_cities.svg"))
	assert.NoError(t, err)

	// Lineage: one event and one metadata row per published table.
	assert.Equal(t, []string{
		"test.bronze.conflito", "test.bronze.cidade",
		"test.silver.conflito", "test.silver.cidade",
		"test.gold.conflito",
	}, f.emit.tables())
	gl := f.meta.lineageFor("test", tables.TierGold, tables.ConflictTable)
	require.Len(t, gl, 1)
	assert.Equal(t, gm.File.Checksum, gl[0].Checksum)
	assert.Empty(t, gl[0].PrevHash)
	assert.Equal(t, "table", gl[0].SourceType)
	assert.Len(t, f.meta.quality, 5)

	for _, stage := range []string{stages.Ingest, stages.Clean, stages.Join, stages.Analyze} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.StagesCompleted.WithLabelValues("test", stage)), stage)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	goldRef := catalog.TableRef{Namespace: "test", Tier: tables.TierGold, Table: tables.ConflictTable}

	require.NoError(t, f.pipeline(t).Run(ctx))
	p := f.pipeline(t)
	first, err := p.Catalog().Current(ctx, goldRef)
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx))
	second, err := p.Catalog().Current(ctx, goldRef)
	require.NoError(t, err)

	assert.NotEqual(t, first.Version, second.Version)
	assert.Equal(t, first.File.Checksum, second.File.Checksum)

	// The second lineage row links to the first.
	gl := f.meta.lineageFor("test", tables.TierGold, tables.ConflictTable)
	require.Len(t, gl, 2)
	assert.Equal(t, first.File.Checksum, gl[1].PrevHash)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cp, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	require.NoError(t, err)

	f.cfg.Pipeline.To = stages.Clean
	require.NoError(t, f.pipeline(t, WithCheckpoint(cp)).Run(ctx))

	saved, err := cp.Load(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, stages.Clean, saved.LastStage)
	assert.Contains(t, saved.Tables, "test.silver.conflito")
	_, err = f.pipeline(t).Catalog().Current(ctx, catalog.TableRef{Namespace: "test", Tier: tables.TierGold, Table: tables.ConflictTable})
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)

	f.cfg.Pipeline.To = ""
	f.cfg.Pipeline.Resume = true
	p := f.pipeline(t, WithCheckpoint(cp))
	require.NoError(t, p.Run(ctx))

	// Bronze was not ingested again.
	versions, err := p.Catalog().Versions(ctx, p.ref(tables.TierBronze, tables.ConflictTable))
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	saved, err = cp.Load(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, stages.Analyze, saved.LastStage)
	assert.Contains(t, saved.Tables, "test.gold.conflito")
	assert.Contains(t, saved.Tables, "test.bronze.cidade")

	// A complete checkpoint leaves nothing to do.
	before := len(f.emit.tables())
	require.NoError(t, f.pipeline(t, WithCheckpoint(cp)).Run(ctx))
	assert.Equal(t, before, len(f.emit.tables()))
}

func TestRunSourceColumnsNamedLikeOutput(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	conflict := filepath.Join(dir, "conflict.csv")
	city := filepath.Join(dir, "city.csv")
	require.NoError(t, os.WriteFile(conflict, []byte(`EVENT_DATE,EVENT_TYPE,SUB_EVENT_TYPE,ACTOR1,ACTOR2,COUNTRY,LOCATION,SOURCE_SCALE,NOTES,FATALITIES,ESTADO,TIPO_EVENTO
15-3-2020,Riots,Violent demonstration,Rioters (Brazil),,Brazil,Rio de Janeiro,National,clash,2,XX,ignored
`), 0644))
	require.NoError(t, os.WriteFile(city, []byte(`CITY,STATE,ESTADO
Rio de Janeiro,RJ,ZZ
`), 0644))
	f.cfg.Sources.Conflict = conflict
	f.cfg.Sources.City = city
	f.cfg.Pipeline.To = stages.Join
	ctx := context.Background()

	p := f.pipeline(t)
	require.NoError(t, p.Run(ctx))

	rows, gm, err := catalog.ReadRows[tables.EnrichedConflict](ctx, p.Catalog(), p.ref(tables.TierGold, tables.ConflictTable))
	require.NoError(t, err)
	assert.Equal(t, tables.GoldColumns, gm.Columns)
	require.Len(t, rows, 1)
	assert.Equal(t, "RJ", rows[0].State)
	assert.Equal(t, "Riots", rows[0].EventType)
	assert.Empty(t, rows[0].Extra)
}

func TestRunMissingSource(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sources.City = filepath.Join(t.TempDir(), "missing.csv")

	err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSourceNotFound)
	assert.True(t, strings.HasPrefix(err.Error(), "stage ingest:"), err.Error())
}

func TestRunStageMissingInput(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline(t).RunStage(context.Background(), stages.Join)
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)

	err = f.pipeline(t).RunStage(context.Background(), "bogus")
	assert.ErrorIs(t, err, stages.ErrUnknownStage)
}

func TestMetadataFailure(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		f := newFixture(t)
		f.meta.failWith = errors.New("connection reset")
		f.cfg.Pipeline.To = stages.Ingest

		require.NoError(t, f.pipeline(t).Run(context.Background()))
		assert.Len(t, f.emit.tables(), 2)
	})

	t.Run("strict", func(t *testing.T) {
		f := newFixture(t)
		f.meta.failWith = errors.New("connection reset")
		f.cfg.Pipeline.To = stages.Ingest
		f.cfg.Catalog.Strict = true

		err := f.pipeline(t).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strict mode")
		assert.Empty(t, f.emit.tables())
	})
}

func TestLineageFailure(t *testing.T) {
	f := newFixture(t)
	f.emit.err = errEmit
	f.cfg.Pipeline.To = stages.Ingest

	require.NoError(t, f.pipeline(t).Run(context.Background()))

	f.cfg.Lineage.Strict = true
	err := f.pipeline(t).Run(context.Background())
	assert.ErrorIs(t, err, errEmit)
}

func TestLineageSetupFailure(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	f.cfg.Lineage.Enabled = true
	f.cfg.Lineage.BackupDir = filepath.Join(blocker, "lineage")
	f.cfg.Pipeline.To = stages.Ingest
	opts := []Option{
		WithMetadata(f.meta),
		WithCheckpoint(checkpoint.NoopManager{}),
		WithLogger(testLogger()),
	}

	p, err := New(f.cfg, f.store, opts...)
	require.NoError(t, err)
	assert.Equal(t, lineage.NoopEmitter{}, p.lineage)
	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Close())

	f.cfg.Lineage.Strict = true
	meta := newMockMetadata()
	p, err = New(f.cfg, f.store, WithMetadata(meta), WithCheckpoint(checkpoint.NoopManager{}), WithLogger(testLogger()))
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "strict mode")
	assert.True(t, meta.closed)
}

func TestDescribe(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	_, err := p.Describe(ctx)
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)

	f.cfg.Pipeline.To = stages.Join
	require.NoError(t, f.pipeline(t).Run(ctx))

	cols, err := p.Describe(ctx)
	require.NoError(t, err)
	require.Len(t, cols, len(tables.GoldColumns)+1)
	assert.Equal(t, "ESTADO", cols[0].Name)
	assert.Equal(t, "ADMIN1", cols[len(cols)-1].Name)
}

func TestAnalyzeWithoutViolence(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	peaceful := filepath.Join(dir, "peaceful.csv")
	require.NoError(t, os.WriteFile(peaceful, []byte(`EVENT_DATE,EVENT_TYPE,SUB_EVENT_TYPE,ACTOR1,ACTOR2,COUNTRY,LOCATION,SOURCE_SCALE,NOTES,FATALITIES
16-3-2020,Protests,Peaceful protest,Protesters (Brazil),,Brazil,São Paulo,National,march,0
`), 0644))
	f.cfg.Sources.Conflict = peaceful
	f.cfg.Pipeline.To = stages.Join
	ctx := context.Background()
	require.NoError(t, f.pipeline(t).Run(ctx))

	a, err := f.pipeline(t).Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, a.TopCities)
	assert.Empty(t, a.ChartPath)
	require.Len(t, a.Breakdown, 1)
	assert.Equal(t, "Peaceful protest", a.Breakdown[0].SubEventType.String)
}

func TestNewRequiresNamespace(t *testing.T) {
	f := newFixture(t)
	f.cfg.Pipeline.Namespace = ""

	_, err := New(f.cfg, f.store, WithMetadata(f.meta), WithLineage(f.emit))
	assert.Error(t, err)

	_, err = New(f.cfg, nil)
	assert.Error(t, err)
}

func TestNewGeneratesRunID(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	assert.NotEmpty(t, p.RunID())
	assert.Equal(t, "test", p.Namespace())

	f.cfg.Pipeline.RunID = "run-42"
	assert.Equal(t, "run-42", f.pipeline(t).RunID())
}

package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

func event(city, eventType, subEvent string) tables.EnrichedConflict {
	return tables.EnrichedConflict{
		State:        "XX",
		EventType:    eventType,
		SubEventType: subEvent,
		CityKey:      city,
	}
}

func repeat(n int, e tables.EnrichedConflict) []tables.EnrichedConflict {
	out := make([]tables.EnrichedConflict, n)
	for i := range out {
		out[i] = e
	}
	return out
}

func openMem(t *testing.T) *Warehouse {
	t.Helper()
	w, err := Open(context.Background(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestTopViolentCitiesOrdering(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	var rows []tables.EnrichedConflict
	rows = append(rows, repeat(3, event("A", "Riots", "Mob violence"))...)
	rows = append(rows, repeat(12, event("B", "Violence against civilians", "Attack"))...)
	rows = append(rows, repeat(50, event("C", "Protests", PeacefulProtest))...)

	n, err := w.Load(ctx, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 65, n)

	top, err := w.TopViolentCities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2, "peaceful protests are excluded")
	assert.Equal(t, "B", top[0].Name())
	assert.EqualValues(t, 12, top[0].Count)
	assert.Equal(t, "A", top[1].Name())
	assert.EqualValues(t, 3, top[1].Count)
}

func TestTopViolentCitiesLimitAndTies(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	var rows []tables.EnrichedConflict
	for i := 14; i >= 0; i-- {
		rows = append(rows, event(fmt.Sprintf("CITY%02d", i), "Riots", "Mob violence"))
	}
	_, err := w.Load(ctx, rows)
	require.NoError(t, err)

	top, err := w.TopViolentCities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 10)
	assert.Equal(t, "CITY00", top[0].Name(), "equal counts are ordered by city key")
	assert.Equal(t, "CITY09", top[9].Name())
}

func TestBreakdown(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	rows := []tables.EnrichedConflict{
		event("RIO DE JANEIRO", "Protests", PeacefulProtest),
		event("RIO DE JANEIRO", "Protests", PeacefulProtest),
		event("RIO DE JANEIRO", "Riots", "Mob violence"),
		event("BELEM", "Riots", ""),
	}
	_, err := w.Load(ctx, rows)
	require.NoError(t, err)

	got, err := w.Breakdown(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"BELEM", "Riots", "NULL", "1"}, got[0].Strings(), "empty text is stored as NULL")
	assert.Equal(t, []string{"RIO DE JANEIRO", "Protests", PeacefulProtest, "2"}, got[1].Strings())
	assert.Equal(t, []string{"RIO DE JANEIRO", "Riots", "Mob violence", "1"}, got[2].Strings())
}

func TestLoadNullsAndExtras(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	five := int32(5)
	rows := []tables.EnrichedConflict{
		{State: "RJ", CityKey: "NITEROI", Fatalities: &five, Extra: []tables.Attribute{{Column: "ADMIN1", Value: "Rio de Janeiro"}}},
		{State: "PA", CityKey: "BELEM", Extra: []tables.Attribute{{Column: "ADMIN1", Value: ""}}},
	}
	_, err := w.Load(ctx, rows)
	require.NoError(t, err)

	var fatalities []sql.NullInt64
	require.NoError(t, w.DB().SelectContext(ctx, &fatalities, "SELECT FATALIDADE FROM conflito ORDER BY ID_CITY DESC"))
	require.Len(t, fatalities, 2)
	assert.Equal(t, sql.NullInt64{Int64: 5, Valid: true}, fatalities[0])
	assert.False(t, fatalities[1].Valid)

	var nullAdmin int
	require.NoError(t, w.DB().GetContext(ctx, &nullAdmin, "SELECT COUNT(*) FROM conflito WHERE ADMIN1 IS NULL"))
	assert.Equal(t, 1, nullAdmin)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestDescribe(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	_, err := w.Load(ctx, []tables.EnrichedConflict{{
		CityKey: "X",
		Extra:   []tables.Attribute{{Column: "ADMIN1", Value: "a"}},
	}})
	require.NoError(t, err)

	cols, err := w.Describe(ctx)
	require.NoError(t, err)
	require.Len(t, cols, len(tables.GoldColumns)+1)
	assert.Equal(t, ColumnInfo{Name: "ESTADO", Type: "TEXT"}, cols[0])
	assert.Equal(t, ColumnInfo{Name: "FATALIDADE", Type: "INTEGER"}, cols[8])
	assert.Equal(t, "ADMIN1", cols[len(cols)-1].Name)
}

func TestLoadReplacesTable(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	_, err := w.Load(ctx, repeat(4, event("A", "Riots", "Mob violence")))
	require.NoError(t, err)
	_, err = w.Load(ctx, repeat(2, event("B", "Riots", "Mob violence")))
	require.NoError(t, err)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestLoadManyRowsBatches(t *testing.T) {
	w := openMem(t)
	ctx := context.Background()

	n, err := w.Load(ctx, repeat(1234, event("A", "Riots", "Mob violence")))
	require.NoError(t, err)
	assert.EqualValues(t, 1234, n)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, count)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warehouse.db")
	w, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	_, err = w.Load(context.Background(), repeat(1, event("A", "Riots", "x")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer w.Close()
	count, err := w.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

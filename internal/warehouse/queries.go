package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

// CityCount is one row of the violence ranking.
type CityCount struct {
	City  sql.NullString `db:"ID_CITY"`
	Count int64          `db:"QTD"`
}

// Name returns the city key, or NULL.
func (c CityCount) Name() string {
	return nullable(c.City)
}

// EventBreakdown counts events per city, type and sub type.
type EventBreakdown struct {
	City         sql.NullString `db:"ID_CITY"`
	EventType    sql.NullString `db:"TIPO_EVENTO"`
	SubEventType sql.NullString `db:"SUB_TIPO_EVENTO"`
	Count        int64          `db:"QTD"`
}

// Strings returns the row as display cells.
func (b EventBreakdown) Strings() []string {
	return []string{
		nullable(b.City),
		nullable(b.EventType),
		nullable(b.SubEventType),
		fmt.Sprintf("%d", b.Count),
	}
}

// ColumnInfo describes one gold table column.
type ColumnInfo struct {
	Name string `db:"name"`
	Type string `db:"type"`
}

// TopViolentCities ranks cities by events that are not peaceful protests.
// Ties are broken by city key.
func (w *Warehouse) TopViolentCities(ctx context.Context, n int) ([]CityCount, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("ID_CITY", sb.As("COUNT(*)", "QTD"))
	sb.From(Table)
	sb.Where(sb.NotEqual("SUB_TIPO_EVENTO", PeacefulProtest))
	sb.GroupBy("ID_CITY")
	sb.OrderBy("QTD DESC", "ID_CITY")
	sb.Limit(n)
	query, args := sb.Build()

	var rows []CityCount
	if err := w.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("top violent cities: %w", err)
	}
	return rows, nil
}

// Breakdown counts events per city, event type and sub event type.
func (w *Warehouse) Breakdown(ctx context.Context) ([]EventBreakdown, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("ID_CITY", "TIPO_EVENTO", "SUB_TIPO_EVENTO", sb.As("COUNT(*)", "QTD"))
	sb.From(Table)
	sb.GroupBy("ID_CITY", "TIPO_EVENTO", "SUB_TIPO_EVENTO")
	sb.OrderBy("ID_CITY", "TIPO_EVENTO", "SUB_TIPO_EVENTO")
	query, args := sb.Build()

	var rows []EventBreakdown
	if err := w.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("event breakdown: %w", err)
	}
	return rows, nil
}

// Describe lists the gold table's columns and types in table order.
func (w *Warehouse) Describe(ctx context.Context) ([]ColumnInfo, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("name", "type")
	sb.From(fmt.Sprintf("pragma_table_info('%s')", Table))
	sb.OrderBy("cid")
	query, args := sb.Build()

	var cols []ColumnInfo
	if err := w.db.SelectContext(ctx, &cols, query, args...); err != nil {
		return nil, fmt.Errorf("describe %s: %w", Table, err)
	}
	return cols, nil
}

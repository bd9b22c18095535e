// Package warehouse loads the gold table into SQLite and runs the analysis
// queries over it.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

// Table is the SQLite table holding gold.conflito.
const Table = "conflito"

// PeacefulProtest is the sub event type excluded from the violence ranking.
const PeacefulProtest = "Peaceful protest"

const (
	insertBatchSize = 500
	// maxVariables stays under SQLite's bound parameter limit.
	maxVariables = 32000
)

// goldTypes gives the SQLite type of each gold column.
var goldTypes = map[string]string{
	"FATALIDADE": "INTEGER",
	"MES":        "INTEGER",
	"ANO":        "INTEGER",
}

// Warehouse is a SQLite database holding the gold table.
type Warehouse struct {
	db     *sqlx.DB
	extras []string
	log    *slog.Logger
}

// Open opens the warehouse at path, or an in-memory database when path is empty.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// An in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}

	return &Warehouse{db: db, log: logger.With("component", "warehouse")}, nil
}

// Close closes the database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// DB exposes the underlying handle.
func (w *Warehouse) DB() *sqlx.DB {
	return w.db
}

// extraColumns collects pass-through column names in first-seen order.
func extraColumns(rows []tables.EnrichedConflict) []string {
	seen := make(map[string]bool)
	known := make(map[string]bool, len(tables.GoldColumns))
	for _, c := range tables.GoldColumns {
		known[c] = true
	}

	var cols []string
	for _, r := range rows {
		for _, a := range r.Extra {
			if !seen[a.Column] && !known[a.Column] {
				seen[a.Column] = true
				cols = append(cols, a.Column)
			}
		}
	}
	return cols
}

// Load replaces the gold table with rows. Empty text is stored as NULL.
func (w *Warehouse) Load(ctx context.Context, rows []tables.EnrichedConflict) (int64, error) {
	w.extras = extraColumns(rows)

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+Table); err != nil {
		return 0, fmt.Errorf("drop %s: %w", Table, err)
	}

	ctb := sqlbuilder.SQLite.NewCreateTableBuilder()
	ctb.CreateTable(Table)
	for _, col := range tables.GoldColumns {
		typ, ok := goldTypes[col]
		if !ok {
			typ = "TEXT"
		}
		ctb.Define(col, typ)
	}
	for _, col := range w.extras {
		ctb.Define(sqlbuilder.SQLite.Quote(col), "TEXT")
	}
	ddl, _ := ctb.Build()
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return 0, fmt.Errorf("create %s: %w", Table, err)
	}

	cols := append([]string{}, tables.GoldColumns...)
	for _, col := range w.extras {
		cols = append(cols, sqlbuilder.SQLite.Quote(col))
	}

	batch := max(1, min(insertBatchSize, maxVariables/len(cols)))
	for i := 0; i < len(rows); i += batch {
		end := min(i+batch, len(rows))

		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto(Table)
		ib.Cols(cols...)
		for _, r := range rows[i:end] {
			ib.Values(w.values(r)...)
		}
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d: %w", i, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load: %w", err)
	}

	w.log.Info("loaded gold table", "rows", len(rows), "extra_columns", len(w.extras))
	return int64(len(rows)), nil
}

func (w *Warehouse) values(r tables.EnrichedConflict) []interface{} {
	vals := []interface{}{
		text(r.State),
		text(r.EventType),
		text(r.SubEventType),
		text(r.PrimaryActor),
		text(r.SecondaryActor),
		text(r.Country),
		text(r.GeoScale),
		text(r.Description),
		integer(r.Fatalities),
		text(r.CityKey),
		integer(r.Month),
		integer(r.Year),
	}

	if len(w.extras) == 0 {
		return vals
	}
	byName := make(map[string]string, len(r.Extra))
	for _, a := range r.Extra {
		byName[a.Column] = a.Value
	}
	for _, col := range w.extras {
		vals = append(vals, text(byName[col]))
	}
	return vals
}

func text(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func integer(v *int32) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

// Count returns the number of rows in the gold table.
func (w *Warehouse) Count(ctx context.Context) (int64, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From(Table)
	query, args := sb.Build()

	var n int64
	if err := w.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", Table, err)
	}
	return n, nil
}

// nullable renders a nullable text value for display.
func nullable(s sql.NullString) string {
	if !s.Valid {
		return "NULL"
	}
	return s.String
}

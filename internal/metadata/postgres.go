package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool         *pgxpool.Pool
	cfg          CatalogConfig
	log          *slog.Logger
	mu           sync.RWMutex
	datasetCache map[string]int64
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool:         pool,
		cfg:          cfg,
		log:          slog.Default().With("component", "metadata"),
		datasetCache: make(map[string]int64),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog", "namespace", cfg.Namespace)
	return w, nil
}

func datasetKey(info DatasetInfo) string {
	return fmt.Sprintf("%s.%s.%s@%s", info.Namespace, info.Tier, info.Table, info.SchemaVersion)
}

// EnsureDataset registers or retrieves a dataset entry.
func (w *PostgresWriter) EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error) {
	key := datasetKey(info)
	w.mu.RLock()
	if id, ok := w.datasetCache[key]; ok {
		w.mu.RUnlock()
		return id, nil
	}
	w.mu.RUnlock()

	query := `
		INSERT INTO _meta_datasets (namespace, tier, table_name, schema_version, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, tier, table_name, schema_version)
		DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := w.pool.QueryRow(ctx, query,
		info.Namespace,
		info.Tier,
		info.Table,
		info.SchemaVersion,
		info.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure dataset %s: %w", key, err)
	}

	w.mu.Lock()
	w.datasetCache[key] = id
	w.mu.Unlock()

	return id, nil
}

// GetLastLineage returns the most recent lineage record of a dataset, or
// nil when none exists.
func (w *PostgresWriter) GetLastLineage(ctx context.Context, datasetID int64) (*LineageRecord, error) {
	query := `
		SELECT version, run_id, row_count, byte_size, checksum,
		       COALESCE(prev_hash, ''), storage_path, COALESCE(storage_uri, ''),
		       inputs, producer_version, COALESCE(producer_git_sha, ''),
		       COALESCE(source_type, ''), COALESCE(source_location, ''), created_at
		FROM _meta_lineage
		WHERE dataset_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	rec := LineageRecord{DatasetID: datasetID}
	err := w.pool.QueryRow(ctx, query, datasetID).Scan(
		&rec.Version, &rec.RunID, &rec.RowCount, &rec.ByteSize, &rec.Checksum,
		&rec.PrevHash, &rec.StoragePath, &rec.StorageURI,
		&rec.Inputs, &rec.ProducerVersion, &rec.ProducerGitSHA,
		&rec.SourceType, &rec.SourceLocation, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last lineage: %w", err)
	}
	return &rec, nil
}

// InsertLineage records a table version with its prev_hash link.
func (w *PostgresWriter) InsertLineage(ctx context.Context, rec LineageRecord) error {
	query := `
		INSERT INTO _meta_lineage (
			dataset_id, version, run_id, row_count, byte_size,
			checksum, prev_hash, storage_path, storage_uri, inputs,
			producer_version, producer_git_sha, source_type, source_location
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dataset_id, version)
		DO UPDATE SET
			row_count = EXCLUDED.row_count,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			prev_hash = EXCLUDED.prev_hash,
			storage_uri = EXCLUDED.storage_uri,
			created_at = NOW()
	`

	inputs := rec.Inputs
	if inputs == nil {
		inputs = []string{}
	}

	_, err := w.pool.Exec(ctx, query,
		rec.DatasetID,
		rec.Version,
		rec.RunID,
		rec.RowCount,
		rec.ByteSize,
		rec.Checksum,
		optional(rec.PrevHash),
		rec.StoragePath,
		optional(rec.StorageURI),
		inputs,
		rec.ProducerVersion,
		optional(rec.ProducerGitSHA),
		optional(rec.SourceType),
		optional(rec.SourceLocation),
	)
	if err != nil {
		return fmt.Errorf("insert lineage: %w", err)
	}

	w.log.Debug("recorded lineage", "dataset_id", rec.DatasetID, "version", rec.Version, "prev_hash", rec.PrevHash)
	return nil
}

// InsertQuality records a validation result.
func (w *PostgresWriter) InsertQuality(ctx context.Context, rec QualityRecord) error {
	query := `
		INSERT INTO _meta_quality (dataset_id, version, passed, error_message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id, version)
		DO UPDATE SET
			passed = EXCLUDED.passed,
			error_message = EXCLUDED.error_message,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.DatasetID,
		rec.Version,
		rec.Passed,
		optional(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert quality: %w", err)
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

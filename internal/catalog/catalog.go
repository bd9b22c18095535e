// Package catalog stores versioned tables on top of an object store and
// publishes new versions by swapping a per-table pointer.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-medallion/internal/storage"
	"github.com/withObsrvr/obsrvr-medallion/internal/tables"
)

var (
	// ErrTableNotFound is returned when a table has no published version.
	ErrTableNotFound = errors.New("table not found")

	// ErrChecksumMismatch is returned when stored data does not match its manifest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

const (
	pointerFile  = "_current.json"
	manifestFile = "_manifest.json"
	dataFile     = "part-0.parquet"
	versionDir   = "v="
)

// TableRef addresses a table as namespace.tier.table.
type TableRef struct {
	Namespace string
	Tier      string
	Table     string
}

func (r TableRef) String() string {
	return r.Namespace + "." + r.Tier + "." + r.Table
}

// Dir returns the storage directory holding every version of the table.
func (r TableRef) Dir() string {
	return fmt.Sprintf("%s/%s/%s", r.Namespace, r.Tier, r.Table)
}

// PointerKey returns the key of the table's current-version pointer.
func (r TableRef) PointerKey() string {
	return r.Dir() + "/" + pointerFile
}

// VersionDir returns the directory of a single version.
func (r TableRef) VersionDir(version string) string {
	return r.Dir() + "/" + versionDir + version
}

// DataKey returns the key of a version's parquet file.
func (r TableRef) DataKey(version string) string {
	return r.VersionDir(version) + "/" + dataFile
}

// ManifestKey returns the key of a version's manifest.
func (r TableRef) ManifestKey(version string) string {
	return r.VersionDir(version) + "/" + manifestFile
}

// Pointer names the current version of a table.
type Pointer struct {
	Version   string    `json:"version"`
	Manifest  string    `json:"manifest"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options configures a Catalog.
type Options struct {
	// Retain is how many versions to keep per table, the current one included.
	Retain int
	Logger *slog.Logger
}

// Catalog publishes and resolves table versions.
type Catalog struct {
	store  storage.Store
	retain int
	log    *slog.Logger
	now    func() time.Time
}

// New creates a catalog over store.
func New(store storage.Store, opts Options) *Catalog {
	if opts.Retain < 1 {
		opts.Retain = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Catalog{
		store:  store,
		retain: opts.Retain,
		log:    opts.Logger.With("component", "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// URI returns the storage URI for a key.
func (c *Catalog) URI(key string) string {
	return c.store.URI(key)
}

func (c *Catalog) newVersion() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return c.now().Format("20060102T150405.000000000Z") + "-" + id[:8]
}

// Publish writes out as a new version of ref and makes it current.
//
// The order of operations matters:
//  1. Write the parquet file under a fresh version directory
//  2. Check the stored size against the encoded output
//  3. Write the version manifest
//  4. Swap the table pointer (single atomic object write)
//  5. Prune versions beyond the retention limit
//
// A failure before step 4 removes the new version's objects and leaves the
// previous version current.
func (c *Catalog) Publish(ctx context.Context, ref TableRef, out *tables.ParquetOutput, m Manifest) (*Manifest, error) {
	version := c.newVersion()
	log := c.log.With("table", ref.String(), "version", version)

	m.Table = ref.String()
	m.Version = version
	m.File = FileInfo{
		Key:      ref.DataKey(version),
		Checksum: out.Checksum,
		RowCount: out.RowCount,
		ByteSize: out.ByteSize,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}

	written := []string{}
	abort := func(cause error) (*Manifest, error) {
		for _, key := range written {
			if err := c.store.Delete(ctx, key); err != nil {
				log.Warn("failed to remove aborted object", "key", key, "error", err)
			}
		}
		return nil, cause
	}

	// Step 1: data
	if err := c.store.Put(ctx, m.File.Key, out.Data); err != nil {
		return abort(fmt.Errorf("write data %s: %w", ref, err))
	}
	written = append(written, m.File.Key)

	// Step 2: integrity
	info, err := c.store.Head(ctx, m.File.Key)
	if err != nil {
		return abort(fmt.Errorf("head data %s: %w", ref, err))
	}
	if info.Size != out.ByteSize {
		return abort(fmt.Errorf("%w: %s stored %d bytes, encoded %d", ErrChecksumMismatch, ref, info.Size, out.ByteSize))
	}

	// Step 3: manifest
	manifestBytes, err := m.MarshalJSON()
	if err != nil {
		return abort(fmt.Errorf("marshal manifest %s: %w", ref, err))
	}
	if err := c.store.Put(ctx, ref.ManifestKey(version), manifestBytes); err != nil {
		return abort(fmt.Errorf("write manifest %s: %w", ref, err))
	}
	written = append(written, ref.ManifestKey(version))

	// Step 4: pointer swap
	ptr, err := json.MarshalIndent(Pointer{
		Version:   version,
		Manifest:  ref.ManifestKey(version),
		RunID:     m.RunID,
		UpdatedAt: c.now(),
	}, "", "  ")
	if err != nil {
		return abort(fmt.Errorf("marshal pointer %s: %w", ref, err))
	}
	if err := c.store.Put(ctx, ref.PointerKey(), ptr); err != nil {
		return abort(fmt.Errorf("swap pointer %s: %w", ref, err))
	}

	log.Info("published table version",
		"rows", m.File.RowCount,
		"bytes", m.File.ByteSize,
		"checksum", m.File.Checksum,
	)

	// Step 5: retention (the new version is already live)
	if err := c.prune(ctx, ref, version); err != nil {
		log.Warn("failed to prune old versions", "error", err)
	}

	return &m, nil
}

// Current returns the manifest of the table's current version.
func (c *Catalog) Current(ctx context.Context, ref TableRef) (*Manifest, error) {
	data, err := c.store.Get(ctx, ref.PointerKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read pointer %s: %w", ref, err)
	}

	var ptr Pointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, fmt.Errorf("parse pointer %s: %w", ref, err)
	}

	return c.manifest(ctx, ref, ptr.Manifest)
}

func (c *Catalog) manifest(ctx context.Context, ref TableRef, key string) (*Manifest, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", ref, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", ref, err)
	}
	return &m, nil
}

// ReadData returns the current version's parquet bytes after verifying the checksum.
func (c *Catalog) ReadData(ctx context.Context, ref TableRef) ([]byte, *Manifest, error) {
	m, err := c.Current(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	data, err := c.store.Get(ctx, m.File.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("read data %s: %w", ref, err)
	}
	if !tables.VerifyChecksum(data, m.File.Checksum) {
		return nil, nil, fmt.Errorf("%w: %s version %s", ErrChecksumMismatch, ref, m.Version)
	}
	return data, m, nil
}

// ReadRows decodes the current version of a table into rows of type T.
func ReadRows[T any](ctx context.Context, c *Catalog, ref TableRef) ([]T, *Manifest, error) {
	data, m, err := c.ReadData(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	rows, err := tables.DecodeParquet[T](data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return rows, m, nil
}

// Versions lists every stored version of a table, oldest first.
func (c *Catalog) Versions(ctx context.Context, ref TableRef) ([]string, error) {
	keys, err := c.store.List(ctx, ref.Dir()+"/"+versionDir)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", ref, err)
	}

	seen := make(map[string]bool)
	var versions []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, ref.Dir()+"/"+versionDir)
		version, _, _ := strings.Cut(rest, "/")
		if version != "" && !seen[version] {
			seen[version] = true
			versions = append(versions, version)
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Tables lists every table in a namespace that has a current version.
func (c *Catalog) Tables(ctx context.Context, namespace string) ([]TableRef, error) {
	keys, err := c.store.List(ctx, namespace+"/")
	if err != nil {
		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}

	var refs []TableRef
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) == 4 && parts[3] == pointerFile {
			refs = append(refs, TableRef{Namespace: parts[0], Tier: parts[1], Table: parts[2]})
		}
	}
	return refs, nil
}

// prune deletes the oldest versions so that at most retain remain.
// The current version is never deleted.
func (c *Catalog) prune(ctx context.Context, ref TableRef, current string) error {
	versions, err := c.Versions(ctx, ref)
	if err != nil {
		return err
	}
	if len(versions) <= c.retain {
		return nil
	}

	for _, version := range versions[:len(versions)-c.retain] {
		if version == current {
			continue
		}
		keys, err := c.store.List(ctx, ref.VersionDir(version)+"/")
		if err != nil {
			return fmt.Errorf("list version %s: %w", version, err)
		}
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		c.log.Debug("pruned table version", "table", ref.String(), "version", version)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const tempMarker = ".tmp-"

// LocalStore keeps objects as files under a base directory.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(s.prefix+key))
}

// Put writes data to a temp file in the target directory and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(key)

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, target, err)
	}
	return nil
}

// Get reads an object from disk.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Head returns file size and modification time.
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:     key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// List walks the store and returns keys starting with prefix. Neither the
// store prefix nor prefix has to end at a directory boundary.
// In-flight temp files are skipped.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix + prefix
	root := filepath.Join(s.baseDir, filepath.FromSlash(path.Dir(full+"x")))
	var keys []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), tempMarker) {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		name := path.Clean(filepath.ToSlash(rel))
		if strings.HasPrefix(name, full) {
			keys = append(keys, strings.TrimPrefix(name, s.prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object from disk.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.path(key))
	if err != nil {
		absPath = s.path(key)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

var _ Store = (*LocalStore)(nil)

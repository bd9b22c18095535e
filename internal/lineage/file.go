package lineage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackup saves events to local JSON files.
type FileBackup struct {
	dir string
	log *slog.Logger
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string, logger *slog.Logger) (*FileBackup, error) {
	if dir == "" {
		dir = "./lineage-backup"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir, log: logger}, nil
}

// Path returns the file an event is saved to:
// {namespace}_{tier}_{table}_{version}.json
func (f *FileBackup) Path(evt *Event) string {
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		evt.Table.Namespace,
		evt.Table.Tier,
		evt.Table.Name,
		evt.Table.Version,
	)
	return filepath.Join(f.dir, name)
}

// Save writes an event to its backup file.
func (f *FileBackup) Save(evt *Event) error {
	path := f.Path(evt)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	f.log.Debug("backed up lineage event", "path", path)
	return nil
}

// Package checkpoint persists the progress of a pipeline run so it can resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the last completed stage of a namespace's run.
type Checkpoint struct {
	Namespace string                `json:"namespace"`
	RunID     string                `json:"run_id"`
	LastStage string                `json:"last_stage"`
	Tables    map[string]TableState `json:"tables,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// TableState is the version of a table published by the run.
type TableState struct {
	Version  string `json:"version"`
	Checksum string `json:"checksum,omitempty"`
	RowCount int64  `json:"row_count"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a namespace.
	Load(ctx context.Context, namespace string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return NoopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(namespace string) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", namespace))
}

// Load reads the namespace's checkpoint file.
func (m *fileManager) Load(ctx context.Context, namespace string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.Namespace == "" {
		return errors.New("checkpoint namespace is required")
	}
	path := m.checkpointPath(cp.Namespace)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// NoopManager is used when checkpointing is disabled.
type NoopManager struct{}

func (NoopManager) Load(context.Context, string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (NoopManager) Save(context.Context, *Checkpoint) error {
	return nil
}

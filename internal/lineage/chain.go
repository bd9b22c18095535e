package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNoChainHead indicates no previous event exists for this chain.
	ErrNoChainHead = errors.New("no chain head found")
)

const chainHeadsFile = "lineage-chain-heads.json"

// ComputeEventHash hashes the canonical JSON of evt with event_hash cleared.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// ChainTracker keeps the head hash of each chain, persisted as JSON.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string
	filePath string
}

// NewChainTracker creates a chain tracker that persists to dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, chainHeadsFile),
	}

	if err := ct.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}

	return ct, nil
}

// GetHead returns the last event hash for a chain.
func (ct *ChainTracker) GetHead(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chainKey]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead records eventHash as the chain head and persists it.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chainKey] = eventHash
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := ct.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, ct.filePath)
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "lineage_evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

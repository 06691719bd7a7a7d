// internal/state/persist.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sebastienb/LLMComp/internal/types"
)

// Snapshot is the single keyed blob written to disk: provider configs,
// request history, and the saved prompt settings.
type Snapshot struct {
	Providers      []types.Provider          `json:"providers"`
	History        []types.GenerationRequest `json:"history"`
	PromptSettings types.Settings            `json:"prompt_settings"`
	SystemPrompt   string                    `json:"system_prompt,omitempty"`
}

// FileStore persists the snapshot as one JSON file with atomic writes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot. A missing file yields (nil, nil).
func (f *FileStore) Load() (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal state file: %w", err)
	}
	if len(snap.History) > historyCap {
		snap.History = snap.History[:historyCap]
	}
	return &snap, nil
}

// Save marshals with indentation and writes atomically: temp file then
// rename, so a crash mid-write never corrupts the state file.
func (f *FileStore) Save(snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp state: %w", err)
	}
	return nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotFile persists the latest loop snapshot as JSON. Writes go through
// a temp file and rename so a crash mid-write never leaves a torn snapshot.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile creates a sink writing to path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Write replaces the snapshot file with v marshaled as indented JSON.
func (s *SnapshotFile) Write(v any) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Read loads the snapshot file into v. Returns os.ErrNotExist when no
// snapshot has been written yet.
func (s *SnapshotFile) Read(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SettingsStore holds the per-agent key/value settings mutated by
// update_config instructions, persisted as one JSON file. Writes go
// through a temp file and rename so a crash never leaves a torn file.
type SettingsStore struct {
	mu       sync.Mutex
	path     string
	settings map[string]map[string]any // agent → key → value
}

// NewSettingsStore loads existing settings from path, or starts empty.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{
		path:     path,
		settings: make(map[string]map[string]any),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Update merges values into the agent's settings and persists. It returns
// the agent's full settings after the merge.
func (s *SettingsStore) Update(agent string, values map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.settings[agent]
	if current == nil {
		current = make(map[string]any, len(values))
		s.settings[agent] = current
	}
	for k, v := range values {
		current[k] = v
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return copyValues(current), nil
}

// Get returns a copy of one agent's settings.
func (s *SettingsStore) Get(agent string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.settings[agent])
}

// All returns a copy of every agent's settings.
func (s *SettingsStore) All() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]any, len(s.settings))
	for agent, values := range s.settings {
		out[agent] = copyValues(values)
	}
	return out
}

// persist writes the settings atomically. Caller holds the lock.
func (s *SettingsStore) persist() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

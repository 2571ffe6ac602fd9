// Package settings persists user toggles, currently the DEBUG_MODE flag,
// in a small YAML document next to the configuration.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DebugModeKey is the persisted key for the simulation flag.
const DebugModeKey = "DEBUG_MODE"

// DefaultPath is $XDG_CONFIG_HOME/bleport/settings.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, "bleport", "settings.yaml"), nil
}

// Store is a YAML-backed key/value document. Keys it does not know are kept
// across Save.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

// Open loads path; a missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]any{}}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Load re-reads the file, discarding unsaved changes.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.values = map[string]any{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings %s: %w", s.path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	if values == nil {
		values = map[string]any{}
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Save writes the document atomically through a temp file in the same
// directory.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := yaml.Marshal(s.values)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace settings %s: %w", s.path, err)
	}
	return nil
}

// DebugMode reports the persisted flag. Anything but a true boolean (or the
// strings "true"/"1") reads as false.
func (s *Store) DebugMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := s.values[DebugModeKey].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case int:
		return v != 0
	default:
		return false
	}
}

// SetDebugMode updates and saves the flag.
func (s *Store) SetDebugMode(on bool) error {
	s.mu.Lock()
	s.values[DebugModeKey] = on
	s.mu.Unlock()
	return s.Save()
}

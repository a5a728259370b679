// Package state holds the small local JSON files the toolbox keeps between
// runs: preferences and the last correction preview.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/vthunder/toolbox/internal/scoring"
)

// Prefs are the user's automation preferences
type Prefs struct {
	AutoApplyEnabled   bool     `json:"auto_apply_enabled"`
	AutoApplyThreshold float64  `json:"auto_apply_threshold"`
	AutoApplyScope     []string `json:"auto_apply_scope"`
}

// DefaultPrefs are applied on first load and backfill missing fields
func DefaultPrefs() Prefs {
	return Prefs{
		AutoApplyEnabled:   false,
		AutoApplyThreshold: scoring.DefaultAutoApplyThreshold,
		AutoApplyScope:     []string{scoring.ScopeNotionCorrections},
	}
}

// Policy returns the auto-apply gate described by the preferences
func (p Prefs) Policy() scoring.AutoApplyPolicy {
	return scoring.AutoApplyPolicy{
		Enabled:   p.AutoApplyEnabled,
		Threshold: p.AutoApplyThreshold,
		Scope:     p.AutoApplyScope,
	}
}

// PrefsStore reads and writes the preferences file
type PrefsStore struct {
	path string
}

// NewPrefsStore creates a store for the file at path
func NewPrefsStore(path string) *PrefsStore {
	return &PrefsStore{path: path}
}

// Path returns the backing file path
func (s *PrefsStore) Path() string {
	return s.path
}

// Load returns defaults merged with the file and writes the merged result
// back, so new fields are backfilled. Keys this version does not know are
// preserved.
func (s *PrefsStore) Load() (Prefs, error) {
	merged, err := s.loadMerged()
	if err != nil {
		return Prefs{}, err
	}
	if err := s.write(merged); err != nil {
		return Prefs{}, err
	}
	return decodePrefs(merged)
}

// Save replaces the known fields, keeping unknown keys already on disk
func (s *PrefsStore) Save(p Prefs) error {
	merged, err := s.loadMerged()
	if err != nil {
		return err
	}
	known, err := toMap(p)
	if err != nil {
		return err
	}
	for k, v := range known {
		merged[k] = v
	}
	return s.write(merged)
}

// Update loads, applies fn and saves
func (s *PrefsStore) Update(fn func(*Prefs) error) (Prefs, error) {
	p, err := s.Load()
	if err != nil {
		return Prefs{}, err
	}
	if err := fn(&p); err != nil {
		return Prefs{}, err
	}
	if p.AutoApplyThreshold < 0 || p.AutoApplyThreshold > 1 {
		return Prefs{}, fmt.Errorf("auto_apply_threshold must be in [0,1], got %v", p.AutoApplyThreshold)
	}
	if err := s.Save(p); err != nil {
		return Prefs{}, err
	}
	return p, nil
}

func (s *PrefsStore) loadMerged() (map[string]any, error) {
	merged, err := toMap(DefaultPrefs())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return merged, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("parse prefs: %w", err)
	}
	for k, v := range onDisk {
		merged[k] = v
	}
	return merged, nil
}

func (s *PrefsStore) write(m map[string]any) error {
	return writeJSON(s.path, m)
}

func toMap(p Prefs) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePrefs(m map[string]any) (Prefs, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Prefs{}, err
	}
	p := DefaultPrefs()
	if err := json.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("decode prefs: %w", err)
	}
	return p, nil
}

// writeJSON writes v as indented JSON through a temp file and rename
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vthunder/toolbox/internal/types"
)

// PreviewTTL is how long a saved correction preview stays applicable
// without --force
const PreviewTTL = 24 * time.Hour

// PreviewTypeNotionCorrection tags a preview produced by a correction dry-run
const PreviewTypeNotionCorrection = "notion_correction"

// ErrNoPreview is returned when there is no saved preview
var ErrNoPreview = errors.New("no saved preview")

// Preview is the single-slot record of the last correction dry-run
type Preview struct {
	Type       string            `json:"type"`
	PageID     string            `json:"page_id"`
	Updates    types.PageUpdates `json:"updates"`
	Timestamp  time.Time         `json:"timestamp"`
	Confidence float64           `json:"confidence"`
}

// Age returns how old the preview is at now
func (p Preview) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// Fresh reports whether the preview is within ttl of now
func (p Preview) Fresh(now time.Time, ttl time.Duration) bool {
	return p.Age(now) <= ttl
}

// PreviewStore persists the last preview. Writes replace whatever was there.
type PreviewStore struct {
	path string
}

// NewPreviewStore creates a store for the file at path
func NewPreviewStore(path string) *PreviewStore {
	return &PreviewStore{path: path}
}

// Save replaces the stored preview
func (s *PreviewStore) Save(p Preview) error {
	if p.Updates.Properties == nil {
		p.Updates.Properties = map[string]any{}
	}
	return writeJSON(s.path, p)
}

// Load returns the stored preview or ErrNoPreview
func (s *PreviewStore) Load() (Preview, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Preview{}, ErrNoPreview
	}
	if err != nil {
		return Preview{}, fmt.Errorf("read preview: %w", err)
	}
	var p Preview
	if err := json.Unmarshal(data, &p); err != nil {
		return Preview{}, fmt.Errorf("parse preview: %w", err)
	}
	if p.PageID == "" {
		return Preview{}, ErrNoPreview
	}
	return p, nil
}

// Clear removes the stored preview. Clearing an empty slot is not an error.
func (s *PreviewStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear preview: %w", err)
	}
	return nil
}

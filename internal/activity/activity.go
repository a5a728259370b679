// Package activity keeps an append-only JSONL record of routed requests,
// tool calls and applied mutations.
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeRequest  Type = "request"   // natural-language request routed by the agent
	TypeToolCall Type = "tool_call" // tool invoked through the server
	TypeMutation Type = "mutation"  // external state changed (page update, event created)
	TypeError    Type = "error"
)

// Entry represents a single activity log entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	Summary   string         `json:"summary"`
	Route     string         `json:"route,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	DryRun    *bool          `json:"dry_run,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Log is the activity logger
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates an activity logger writing to path
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file location
func (l *Log) Path() string {
	return l.path
}

// Log appends an entry to the activity log
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create activity dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogRequest records a routed request and the envelope summary it produced
func (l *Log) LogRequest(request, route string, dryRun bool, summary string, errs []string) error {
	data := map[string]any{"request": request}
	if len(errs) > 0 {
		data["errors"] = errs
	}
	return l.Log(Entry{
		Type:    TypeRequest,
		Summary: summary,
		Route:   route,
		DryRun:  &dryRun,
		Data:    data,
	})
}

// LogToolCall records one tool invocation
func (l *Log) LogToolCall(tool string, d time.Duration, err error) error {
	data := map[string]any{"duration_ms": d.Milliseconds()}
	summary := tool + " ok"
	if err != nil {
		data["error"] = err.Error()
		summary = tool + " failed"
	}
	return l.Log(Entry{Type: TypeToolCall, Summary: summary, Tool: tool, Data: data})
}

// LogMutation records a change made to an external system
func (l *Log) LogMutation(summary, tool string, data map[string]any) error {
	return l.Log(Entry{Type: TypeMutation, Summary: summary, Tool: tool, Data: data})
}

// LogError logs an error
func (l *Log) LogError(summary string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()
	return l.Log(Entry{
		Type:    TypeError,
		Summary: summary,
		Data:    data,
	})
}

// Recent returns the last n entries
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Search searches entries by text (in summary, route, tool and data),
// most recent first
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		hay := strings.ToLower(e.Summary + " " + e.Route + " " + e.Tool)
		if e.Data != nil {
			dataJSON, _ := json.Marshal(e.Data)
			hay += " " + strings.ToLower(string(dataJSON))
		}
		if strings.Contains(hay, query) {
			result = append(result, e)
		}
	}
	return result, nil
}

// ByType returns entries of a specific type, most recent first
func (l *Log) ByType(t Type, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].Type == t {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// Range returns entries in a time range
func (l *Log) Range(start, end time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			result = append(result, e)
		}
	}
	return result, nil
}

// readAll reads all entries from the log file
func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

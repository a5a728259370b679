package backlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

const titleLimit = 80

// Entry is a captured tool request waiting to be created on the backlog
type Entry struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	DesiredOutcome string    `json:"desired_outcome"`
	Frequency      string    `json:"frequency"`
	Impact         string    `json:"impact"`
	Domain         []string  `json:"domain"`
	Source         string    `json:"source"`
	Link           string    `json:"link,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	QueuedAt       time.Time `json:"queued_at"`
}

// EntryOptions are the optional fields of a capture
type EntryOptions struct {
	DesiredOutcome string
	Frequency      string
	Impact         string
	Domain         string // comma-separated
	Source         string
	Link           string
	Notes          string
}

// BuildEntry turns a free-text complaint into an entry. Double quotes become
// single quotes and whitespace is collapsed so the text survives prompt and
// property embedding.
func BuildEntry(complaint string, opts EntryOptions) Entry {
	outcome := opts.DesiredOutcome
	if outcome == "" {
		outcome = "Resolve: " + text.ShortTitle(complaint, titleLimit)
	}
	e := Entry{
		ID:             uuid.NewString(),
		Title:          text.ShortTitle(complaint, titleLimit),
		Description:    cleanText(complaint),
		DesiredOutcome: cleanText(outcome),
		Frequency:      orDefault(opts.Frequency, "once"),
		Impact:         orDefault(opts.Impact, "low"),
		Domain:         text.NormalizeDomain(opts.Domain),
		Source:         orDefault(opts.Source, "terminal"),
		Link:           strings.TrimSpace(opts.Link),
		Notes:          cleanText(opts.Notes),
	}
	return e
}

// Args returns the tool_requests_create arguments for the entry
func (e Entry) Args() map[string]any {
	args := map[string]any{
		"title":           e.Title,
		"description":     e.Description,
		"desired_outcome": e.DesiredOutcome,
		"frequency":       e.Frequency,
		"impact":          e.Impact,
		"domain":          e.Domain,
		"source":          e.Source,
	}
	if e.Link != "" {
		args["link"] = e.Link
	}
	if e.Notes != "" {
		args["notes"] = e.Notes
	}
	return args
}

func cleanText(s string) string {
	return text.NormalizeWhitespace(strings.ReplaceAll(s, `"`, "'"))
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// Queue is an append-only JSONL file of entries that could not be created
type Queue struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewQueue creates a queue backed by the file at path
func NewQueue(path string) *Queue {
	return &Queue{path: path, now: time.Now}
}

// Path returns the backing file path
func (q *Queue) Path() string {
	return q.path
}

// Append adds an entry to the end of the queue
func (q *Queue) Append(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.QueuedAt.IsZero() {
		e.QueuedAt = q.now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	logging.Info("queue", "queued %q", e.Title)
	return nil
}

// Entries returns all queued entries in order. Unparseable lines are skipped.
func (q *Queue) Entries() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read()
}

func (q *Queue) read() ([]Entry, error) {
	f, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			logging.Warn("queue", "skipping bad line: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// FlushResult reports what a flush did
type FlushResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Remaining []string `json:"remaining"`
	Errors    []string `json:"-"`
}

// Flush sends every entry in order. Failed entries are rewritten to the
// queue; the file is removed once nothing remains.
func (q *Queue) Flush(ctx context.Context, send func(context.Context, Entry) error) (FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := FlushResult{Remaining: []string{}}
	entries, err := q.read()
	if err != nil {
		return res, err
	}
	res.Total = len(entries)

	var failed []Entry
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			failed = append(failed, entries[i:]...)
			break
		}
		if err := send(ctx, e); err != nil {
			logging.Warn("queue", "[%d/%d] failed: %s: %v", i+1, len(entries), e.Title, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", e.Title, err))
			failed = append(failed, e)
			continue
		}
		res.Succeeded++
		logging.Info("queue", "[%d/%d] created: %s", i+1, len(entries), e.Title)
	}

	for _, e := range failed {
		res.Remaining = append(res.Remaining, e.Title)
	}
	if len(failed) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("remove queue: %w", err)
		}
		return res, nil
	}

	var buf bytes.Buffer
	for _, e := range failed {
		data, err := json.Marshal(e)
		if err != nil {
			return res, fmt.Errorf("marshal entry: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(q.path, &buf); err != nil {
		return res, fmt.Errorf("rewrite queue: %w", err)
	}
	return res, nil
}

// Envelope renders the flush in the uniform output shape
func (r FlushResult) Envelope() types.Envelope {
	var env types.Envelope
	switch {
	case r.Total == 0:
		env = types.NewEnvelope("Queue is empty.")
	case len(r.Remaining) > 0:
		env = types.NewEnvelope(fmt.Sprintf("Flushed %d/%d. %d remain queued.", r.Succeeded, r.Total, len(r.Remaining)))
		env.NextActions = append(env.NextActions, "Retry: toolbox requests flush")
	default:
		env = types.NewEnvelope(fmt.Sprintf("Flushed all %d entries.", r.Succeeded))
	}
	env.Result = r
	env.Errors = append(env.Errors, r.Errors...)
	return env
}

// Capturer creates tool requests through the tool server and queues them
// locally when that fails
type Capturer struct {
	Invoker Invoker
	Queue   *Queue
}

// Create sends one entry to the create tool and returns the created URL when
// the response carries one
func (c *Capturer) Create(ctx context.Context, e Entry) (string, error) {
	if c.Invoker == nil {
		return "", fmt.Errorf("no tool invoker configured")
	}
	payload, err := c.Invoker.Call(ctx, ToolCreate, e.Args())
	if err != nil {
		return "", err
	}
	if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
		return "", fmt.Errorf("%s: %v", ToolCreate, errs[0])
	}
	result, _ := payload["result"].(map[string]any)
	url, _ := result["url"].(string)
	return url, nil
}

// Capture creates the entry, falling back to the queue. The envelope carries
// an error whenever the entry ended up queued.
func (c *Capturer) Capture(ctx context.Context, e Entry) types.Envelope {
	url, err := c.Create(ctx, e)
	if err == nil {
		if url == "" {
			url = "Created"
		}
		env := types.NewEnvelope("Created: " + url)
		env.Result = map[string]any{"url": url, "title": e.Title, "queued": false}
		return env
	}

	logging.Warn("queue", "create failed, queueing: %v", err)
	env := types.NewEnvelope("Create failed. Queued locally.")
	env.AddError(err)
	if qerr := c.Queue.Append(e); qerr != nil {
		env.Summary = "Create failed and the entry could not be queued."
		env.AddError(qerr)
		return env
	}
	env.Result = map[string]any{"queued": true, "title": e.Title, "queue_path": c.Queue.Path()}
	env.NextActions = append(env.NextActions, "Later: toolbox requests flush")
	return env
}

// Flush retries every queued entry through the create tool
func (c *Capturer) Flush(ctx context.Context) (FlushResult, error) {
	return c.Queue.Flush(ctx, func(ctx context.Context, e Entry) error {
		_, err := c.Create(ctx, e)
		return err
	})
}

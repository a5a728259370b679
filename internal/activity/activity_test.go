package activity

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "system", "activity.jsonl"))
}

func TestLogCreatesDirAndWrites(t *testing.T) {
	l := newTestLog(t)
	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Log(Entry{Timestamp: ts, Type: TypeRequest, Summary: "hello"}))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Summary)
	assert.True(t, entries[0].Timestamp.Equal(ts))
}

func TestLogAutoTimestamp(t *testing.T) {
	l := newTestLog(t)
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	require.NoError(t, l.Log(Entry{Type: TypeMutation, Summary: "auto"}))

	entries, err := l.Recent(1)
	require.NoError(t, err)
	assert.True(t, entries[0].Timestamp.Equal(fixed))
}

func TestHelpers(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.LogRequest("list tool requests", "list", true, "Route: list. Dry-run: True.", nil))
	require.NoError(t, l.LogToolCall("health_check", 12*time.Millisecond, nil))
	require.NoError(t, l.LogToolCall("notion_get_page", time.Second, errors.New("boom")))
	require.NoError(t, l.LogMutation("Updated Notion page.", "notion_update_page", map[string]any{"page_id": "p1"}))
	require.NoError(t, l.LogError("apply failed", errors.New("nope"), nil))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	req := entries[0]
	assert.Equal(t, TypeRequest, req.Type)
	assert.Equal(t, "list", req.Route)
	require.NotNil(t, req.DryRun)
	assert.True(t, *req.DryRun)
	assert.Equal(t, "list tool requests", req.Data["request"])

	assert.Equal(t, "health_check ok", entries[1].Summary)
	assert.Equal(t, "notion_get_page failed", entries[2].Summary)
	assert.Equal(t, "boom", entries[2].Data["error"])
	assert.Equal(t, "nope", entries[4].Data["error"])
}

func TestSkipsMalformedLines(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Log(Entry{Type: TypeRequest, Summary: "good"}))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n")
	require.NoError(t, err)
	f.Close()
	require.NoError(t, l.Log(Entry{Type: TypeRequest, Summary: "also good"}))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRecentMissingFile(t *testing.T) {
	entries, err := newTestLog(t).Recent(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueries(t *testing.T) {
	l := newTestLog(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []Entry{
		{Type: TypeRequest, Summary: "search receipts", Route: "search"},
		{Type: TypeMutation, Summary: "Created block", Tool: "calendar_create_event"},
		{Type: TypeRequest, Summary: "edit page", Route: "edit_notion", Data: map[string]any{"request": "Receipt title"}},
		{Type: TypeRequest, Summary: "list", Route: "list"},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, l.Log(e))
	}

	found, err := l.Search("RECEIPT", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "edit page", found[0].Summary)

	found, err = l.Search("receipt", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	reqs, err := l.ByType(TypeRequest, 2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "list", reqs[0].Summary)

	ranged, err := l.Range(base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
}

func TestConcurrentWrites(t *testing.T) {
	l := newTestLog(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Log(Entry{Type: TypeToolCall, Summary: "x"}))
		}()
	}
	wg.Wait()

	entries, err := l.Recent(100)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

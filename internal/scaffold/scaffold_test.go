package scaffold

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScaffolder(t *testing.T) *Scaffolder {
	t.Helper()
	dir := t.TempDir()
	return &Scaffolder{
		ToolsDir: filepath.Join(dir, "tools"),
		SpecsDir: filepath.Join(dir, "specs"),
		PlansDir: filepath.Join(dir, "plans"),
		Now:      func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Receipt photo -> pantry", "receipt-photo-pantry"},
		{"  Pantry   Scanner!! ", "pantry-scanner"},
		{"!!!", "new-tool"},
		{"", "new-tool"},
		{"v2 Calendar_sync", "v2-calendar-sync"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
	assert.Equal(t, "pantry_scanner", ToolName("pantry-scanner"))
}

func TestPlanWritesNothing(t *testing.T) {
	s := newScaffolder(t)
	r, err := s.Plan("Pantry scanner")
	require.NoError(t, err)
	assert.Equal(t, "pantry_scanner", r.ToolName)
	assert.Equal(t, filepath.Join(s.SpecsDir, "2026-03-02_pantry-scanner.md"), r.SpecPath)
	assert.Empty(t, r.FilesCreated)
	assert.NoFileExists(t, r.StubPath)
}

func TestScaffold(t *testing.T) {
	s := newScaffolder(t)
	r, err := s.Scaffold("Pantry scanner")
	require.NoError(t, err)
	assert.Equal(t, []string{r.StubPath, r.SpecPath, r.PlanPath}, r.FilesCreated)

	stub, err := os.ReadFile(r.StubPath)
	require.NoError(t, err)
	assert.Contains(t, string(stub), `reg.Register("pantry_scanner"`)
	assert.Contains(t, string(stub), StubSummary)
	assert.Contains(t, string(stub), `"github.com/vthunder/toolbox/internal/mcp"`)

	spec, err := os.ReadFile(r.SpecPath)
	require.NoError(t, err)
	assert.Equal(t, SpecDoc("Pantry scanner"), string(spec))
	assert.Contains(t, string(spec), "## v0 proposal")

	plan, err := os.ReadFile(r.PlanPath)
	require.NoError(t, err)
	assert.Contains(t, string(plan), "1) Confirm inputs/outputs contract.")

	_, err = s.Scaffold("Pantry scanner")
	assert.True(t, errors.Is(err, ErrExists))
	_, err = s.Plan("pantry scanner")
	assert.True(t, errors.Is(err, ErrExists))
}

func TestScaffoldRefusesRegisteredTool(t *testing.T) {
	s := newScaffolder(t)
	s.Registered = func(name string) bool { return name == "health_check" }
	_, err := s.Scaffold("Health check")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExists))
	assert.NoDirExists(t, s.SpecsDir)
}

func TestWriteDocsOnly(t *testing.T) {
	s := newScaffolder(t)
	r, err := s.WriteDocs("Receipt photo")
	require.NoError(t, err)
	assert.Empty(t, r.StubPath)
	assert.Len(t, r.FilesCreated, 2)
	assert.NoDirExists(t, s.ToolsDir)

	_, err = s.WriteDocs("Receipt photo")
	assert.True(t, errors.Is(err, ErrExists))
}

func TestRenderStubIsFormatted(t *testing.T) {
	src, err := RenderStub("x_tool", `Quote "me"`, "internal/mcp/tools/x_tool.go")
	require.NoError(t, err)
	assert.Contains(t, string(src), `"Stub: Quote \"me\""`)
	assert.Contains(t, string(src), "Implement tool logic in internal/mcp/tools/x_tool.go")
}

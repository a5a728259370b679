// Package scaffold creates new tool stubs together with their spec and plan
// notes. Nothing is overwritten: an existing stub or doc stops the run.
package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/natefinch/atomic"

	"github.com/vthunder/toolbox/internal/logging"
)

// ModulePath is the import root used in generated stubs
const ModulePath = "github.com/vthunder/toolbox"

// DefaultToolsDir is where stubs land, relative to the repo root
const DefaultToolsDir = "internal/mcp/tools"

// StubSummary is what a generated tool answers until it is implemented
const StubSummary = "Stub tool created. Implementation pending."

// ErrExists is returned when a stub or doc for the slug is already present
var ErrExists = errors.New("already exists")

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses everything else to single hyphens
func Slugify(s string) string {
	slug := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "new-tool"
	}
	return slug
}

// ToolName is the registry name for a slug
func ToolName(slug string) string {
	return strings.ReplaceAll(slug, "-", "_")
}

// Scaffolder writes stubs and docs into fixed directories
type Scaffolder struct {
	ToolsDir string
	SpecsDir string
	PlansDir string
	Now      func() time.Time
	// Registered reports tools that already exist without a stub file
	Registered func(name string) bool
}

// Result describes a scaffold run or its preview
type Result struct {
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	ToolName     string   `json:"tool_name"`
	StubPath     string   `json:"stub_path,omitempty"`
	SpecPath     string   `json:"spec_path"`
	PlanPath     string   `json:"plan_path"`
	FilesCreated []string `json:"files_created"`
}

func (s *Scaffolder) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scaffolder) paths(title string) Result {
	slug := Slugify(title)
	day := s.now().Format("2006-01-02")
	name := ToolName(slug)
	return Result{
		Title:        strings.TrimSpace(title),
		Slug:         slug,
		ToolName:     name,
		StubPath:     filepath.Join(s.ToolsDir, name+".go"),
		SpecPath:     filepath.Join(s.SpecsDir, day+"_"+slug+".md"),
		PlanPath:     filepath.Join(s.PlansDir, day+"_"+slug+".md"),
		FilesCreated: []string{},
	}
}

// Plan reports what Scaffold would write, without touching the filesystem
func (s *Scaffolder) Plan(title string) (Result, error) {
	r := s.paths(title)
	if err := s.checkFree(r, true); err != nil {
		return r, err
	}
	return r, nil
}

// Scaffold writes the tool stub, then the spec and plan docs
func (s *Scaffolder) Scaffold(title string) (Result, error) {
	r := s.paths(title)
	if err := s.checkFree(r, true); err != nil {
		return r, err
	}

	stub, err := RenderStub(r.ToolName, r.Title, r.StubPath)
	if err != nil {
		return r, err
	}
	if err := writeFile(r.StubPath, stub); err != nil {
		return r, err
	}
	r.FilesCreated = append(r.FilesCreated, r.StubPath)

	docs, err := s.writeDocs(r)
	r.FilesCreated = append(r.FilesCreated, docs...)
	if err != nil {
		return r, err
	}
	logging.Info("scaffold", "created %s (%d files)", r.ToolName, len(r.FilesCreated))
	return r, nil
}

// WriteDocs writes only the spec and plan notes for title
func (s *Scaffolder) WriteDocs(title string) (Result, error) {
	r := s.paths(title)
	r.StubPath = ""
	if err := s.checkFree(r, false); err != nil {
		return r, err
	}
	docs, err := s.writeDocs(r)
	r.FilesCreated = append(r.FilesCreated, docs...)
	return r, err
}

func (s *Scaffolder) checkFree(r Result, withStub bool) error {
	if withStub {
		if s.Registered != nil && s.Registered(r.ToolName) {
			return fmt.Errorf("tool %s %w", r.ToolName, ErrExists)
		}
		if fileExists(r.StubPath) {
			return fmt.Errorf("tool file %s %w", r.StubPath, ErrExists)
		}
	}
	for _, p := range []string{r.SpecPath, r.PlanPath} {
		if fileExists(p) {
			return fmt.Errorf("%s %w", p, ErrExists)
		}
	}
	return nil
}

func (s *Scaffolder) writeDocs(r Result) ([]string, error) {
	var written []string
	if err := writeFile(r.SpecPath, []byte(SpecDoc(r.Title))); err != nil {
		return written, err
	}
	written = append(written, r.SpecPath)
	if err := writeFile(r.PlanPath, []byte(PlanDoc(r.Title))); err != nil {
		return written, err
	}
	written = append(written, r.PlanPath)
	return written, nil
}

// SpecDoc is the starting spec for a requested tool
func SpecDoc(title string) string {
	return "# Tool Spec: " + title + "\n\n" +
		"## Problem\n" + title + "\n\n" +
		"## v0 proposal\n" +
		"- Create a minimal read-only tool.\n" +
		"- Add an explicit apply/confirm step before any writes.\n"
}

// PlanDoc is the starting implementation plan for a requested tool
func PlanDoc(title string) string {
	return "# Plan: " + title + "\n\n" +
		"1) Confirm inputs/outputs contract.\n" +
		"2) Implement read-only path first.\n" +
		"3) Add tests + apply path with confirmation.\n"
}

var stubTemplate = template.Must(template.New("stub").Parse(`package tools

import (
	"context"

	"{{.Module}}/internal/mcp"
	"{{.Module}}/internal/types"
)

func init() {
	Register(func(reg *mcp.Registry, deps *Dependencies) {
		reg.Register({{printf "%q" .Name}}, mcp.ToolDef{
			Description: {{printf "%q" .Description}},
			Properties: map[string]mcp.PropDef{
				"request": {Type: "string", Description: "Free-text request"},
			},
		}, handle(deps, {{printf "%q" .Name}}, func(ctx context.Context, args map[string]any) types.Envelope {
			env := types.NewEnvelope({{printf "%q" .Summary}})
			env.Result = map[string]any{"request": args["request"]}
			env.NextActions = []string{ {{- printf "%q" .NextAction -}} }
			return env
		}))
	})
}
`))

// RenderStub renders and gofmts the Go source of a stub tool
func RenderStub(name, title, path string) ([]byte, error) {
	var buf bytes.Buffer
	err := stubTemplate.Execute(&buf, map[string]string{
		"Module":      ModulePath,
		"Name":        name,
		"Description": "Stub: " + title,
		"Summary":     StubSummary,
		"NextAction":  "Implement tool logic in " + filepath.ToSlash(path),
	})
	if err != nil {
		return nil, fmt.Errorf("render stub: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format stub: %w", err)
	}
	return src, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

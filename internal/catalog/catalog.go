// Package catalog renders the registered tools as JSON and markdown for
// browsing outside the server.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/natefinch/atomic"

	"github.com/vthunder/toolbox/internal/mcp"
)

// File names written by Write
const (
	JSONFile     = "tool_catalog.json"
	MarkdownFile = "tool_catalog.md"
)

// keyword -> tag, matched against name and description
var keywordTags = []struct{ keyword, tag string }{
	{"notion", "notion"},
	{"tool request", "backlog"},
	{"tool_request", "backlog"},
	{"backlog", "backlog"},
	{"health", "health"},
	{"system", "system"},
	{"server", "system"},
	{"state", "state"},
	{"activity", "state"},
	{"hello", "hello"},
	{"greet", "hello"},
	{"calendar", "calendar"},
	{"hygiene", "calendar"},
	{"task", "tasks"},
	{"stub", "stub"},
}

var ignoredNameTokens = map[string]bool{"tool": true, "tools": true, "get": true}

// Lister is anything that can enumerate tool definitions
type Lister interface {
	Tools() []mcp.ToolDef
}

// Arg is one tool argument
type Arg struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Tool is one catalog entry
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Args        []Arg    `json:"args"`
	Required    []string `json:"required"`
	Tags        []string `json:"tags"`
}

// Catalog is the full listing
type Catalog struct {
	GeneratedAt time.Time `json:"generated_at"`
	ToolCount   int       `json:"tool_count"`
	Tools       []Tool    `json:"tools"`
}

// Build snapshots the tools known to l
func Build(l Lister, now time.Time) Catalog {
	defs := l.Tools()
	c := Catalog{GeneratedAt: now.UTC(), Tools: make([]Tool, 0, len(defs))}
	for _, d := range defs {
		c.Tools = append(c.Tools, fromDef(d))
	}
	sort.Slice(c.Tools, func(i, j int) bool { return c.Tools[i].Name < c.Tools[j].Name })
	c.ToolCount = len(c.Tools)
	return c
}

func fromDef(d mcp.ToolDef) Tool {
	required := map[string]bool{}
	for _, r := range d.Required {
		required[r] = true
	}
	t := Tool{
		Name:        d.Name,
		Description: firstParagraph(d.Description),
		Args:        make([]Arg, 0, len(d.Properties)),
		Required:    append([]string{}, d.Required...),
		Tags:        InferTags(d.Name, d.Description),
	}
	for name, p := range d.Properties {
		t.Args = append(t.Args, Arg{Name: name, Type: p.Type, Description: p.Description, Required: required[name]})
	}
	// required args first, then by name
	sort.Slice(t.Args, func(i, j int) bool {
		if t.Args[i].Required != t.Args[j].Required {
			return t.Args[i].Required
		}
		return t.Args[i].Name < t.Args[j].Name
	})
	return t
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// InferTags derives sorted tags from keyword hits and the name's parts
func InferTags(name, description string) []string {
	haystack := strings.ToLower(name + " " + description)
	set := map[string]bool{}
	for _, kt := range keywordTags {
		if strings.Contains(haystack, kt.keyword) {
			set[kt.tag] = true
		}
	}
	for _, tok := range strings.Split(strings.ToLower(name), "_") {
		if tok != "" && !ignoredNameTokens[tok] {
			set[tok] = true
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Markdown renders the catalog with an index table and a section per tool
func (c Catalog) Markdown() string {
	var b strings.Builder
	b.WriteString("# MCP Tool Catalog\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", c.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total tools: %d\n\n", c.ToolCount)

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Tool", "Tags", "Description"})
	for _, t := range c.Tools {
		tw.AppendRow(table.Row{t.Name, strings.Join(t.Tags, ", "), t.Description})
	}
	b.WriteString(tw.RenderMarkdown())
	b.WriteString("\n\n")

	for _, t := range c.Tools {
		fmt.Fprintf(&b, "## %s\n", t.Name)
		fmt.Fprintf(&b, "- Args: `%s`\n", argList(t.Args))
		fmt.Fprintf(&b, "- Tags: %s\n", orNone(strings.Join(t.Tags, ", ")))
		desc := t.Description
		if desc == "" {
			desc = "No description."
		}
		fmt.Fprintf(&b, "- Description: %s\n\n", desc)
	}
	return b.String()
}

func argList(args []Arg) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		p := a.Name + ":" + a.Type
		if !a.Required {
			p += "?"
		}
		parts = append(parts, p)
	}
	return orNone(strings.Join(parts, ", "))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Write stores the JSON and markdown renderings in dir and returns their paths
func Write(dir string, c Catalog) (jsonPath, mdPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create catalog dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal catalog: %w", err)
	}
	jsonPath = filepath.Join(dir, JSONFile)
	mdPath = filepath.Join(dir, MarkdownFile)
	if err := atomic.WriteFile(jsonPath, bytes.NewReader(data)); err != nil {
		return "", "", fmt.Errorf("write %s: %w", JSONFile, err)
	}
	if err := atomic.WriteFile(mdPath, strings.NewReader(c.Markdown())); err != nil {
		return "", "", fmt.Errorf("write %s: %w", MarkdownFile, err)
	}
	return jsonPath, mdPath, nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/types"
)

// errEnvelope makes the process exit non-zero once an envelope with
// errors has been printed
var errEnvelope = errors.New("command reported errors")

// list keys searched, in order, when rendering --table
var tableKeys = []string{"ranked", "candidates", "entries", "proposed_actions_preview", "tools", "activity", "plans"}

const maxCell = 60

// emit prints env and turns its errors into the exit status
func emit(cmd *cobra.Command, env types.Envelope) error {
	w := cmd.OutOrStdout()
	if !tableOut || !renderTable(w, env) {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	if !env.OK() {
		return errEnvelope
	}
	return nil
}

// renderTable draws the first list found in the result. It reports false
// when there is nothing tabular, leaving the caller to print JSON.
func renderTable(w io.Writer, env types.Envelope) bool {
	rows := tableRows(env.Result)
	if rows == nil {
		return false
	}

	cols := columns(rows)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	header := table.Row{}
	for _, c := range cols {
		header = append(header, c)
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := table.Row{}
		for _, c := range cols {
			row = append(row, cell(r[c]))
		}
		t.AppendRow(row)
	}
	t.SetStyle(table.StyleLight)
	fmt.Fprintln(w, env.Summary)
	t.Render()
	for _, n := range env.NextActions {
		fmt.Fprintln(w, "next: "+n)
	}
	for _, e := range env.Errors {
		fmt.Fprintln(w, text.FgRed.Sprint("error: "+e))
	}
	return true
}

// tableRows normalizes the result through JSON and picks the first list
// of objects under a known key
func tableRows(result any) []map[string]any {
	data, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}

	var list []any
	switch v := decoded.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range tableKeys {
			if l, ok := v[k].([]any); ok && len(l) > 0 {
				list = l
				break
			}
		}
	}
	if len(list) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		rows = append(rows, m)
	}
	return rows
}

// columns puts the identifying fields first, then the rest by name
func columns(rows []map[string]any) []string {
	preferred := []string{"id", "action_id", "name", "title", "score", "status", "type", "summary"}
	seen := map[string]bool{}
	for _, r := range rows {
		for k, v := range r {
			switch v.(type) {
			case map[string]any, []any:
				continue
			}
			seen[k] = true
		}
	}
	var cols []string
	for _, k := range preferred {
		if seen[k] {
			cols = append(cols, k)
			delete(seen, k)
		}
	}
	var rest []string
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case float64:
		if x == float64(int64(x)) {
			s = fmt.Sprintf("%d", int64(x))
		} else {
			s = fmt.Sprintf("%.2f", x)
		}
	default:
		s = fmt.Sprint(x)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxCell {
		s = s[:maxCell-3] + "..."
	}
	return s
}

// failed renders a plain error as an envelope
func failed(cmd *cobra.Command, summary string, err error) error {
	env := types.NewEnvelope(summary)
	env.AddError(err)
	return emit(cmd, env)
}

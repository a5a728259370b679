// Package backlog ingests tool-request records from the tool server and keeps
// an offline queue of captured requests that could not be created yet.
package backlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

// NormalizeItem converts a raw tool-server item into a Candidate. Missing
// fields become empty strings; recency is nil when created_time is unparseable.
func NormalizeItem(raw map[string]any, now time.Time) types.Candidate {
	created := str(raw["created_time"])
	c := types.Candidate{
		ID:             str(raw["id"]),
		URL:            str(raw["url"]),
		Title:          str(raw["title"]),
		Description:    str(raw["description"]),
		DesiredOutcome: str(raw["desired_outcome"]),
		Domain:         text.NormalizeDomain(raw["domain"]),
		Status:         types.Status(str(raw["status"])),
		Impact:         str(raw["impact"]),
		Frequency:      str(raw["frequency"]),
		Source:         str(raw["source"]),
		CreatedTime:    created,
	}
	if days, ok := text.RecencyDays(created, now); ok {
		c.RecencyDays = &days
	}
	return c
}

// ParseItems pulls result.items and errors out of a uniform envelope payload.
// Non-object items are dropped.
func ParseItems(payload map[string]any) ([]map[string]any, []string) {
	var errs []string
	if list, ok := payload["errors"].([]any); ok {
		for _, e := range list {
			errs = append(errs, fmt.Sprint(e))
		}
	}

	result, _ := payload["result"].(map[string]any)
	list, _ := result["items"].([]any)
	items := make([]map[string]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, errs
}

// Dedupe keeps the first occurrence of each id and drops items without one
func Dedupe(cands []types.Candidate) []types.Candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]types.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

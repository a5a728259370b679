package backlog

import (
	"context"
	"fmt"
	"time"

	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/types"
)

// Tool names on the tool server
const (
	ToolLatest = "tool_requests_latest"
	ToolSearch = "tool_requests_search"
	ToolCreate = "tool_requests_create"
)

// DefaultLimit is the number of items requested per call when none is given
const DefaultLimit = 15

// Invoker calls a named tool and returns its decoded envelope
type Invoker interface {
	Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// FetchResult holds normalized, deduplicated candidates and any errors the
// tool calls reported
type FetchResult struct {
	Candidates []types.Candidate `json:"candidates"`
	Errors     []string          `json:"-"`
}

// Envelope renders the result in the uniform output shape
func (r FetchResult) Envelope() types.Envelope {
	env := types.NewEnvelope(fmt.Sprintf("Fetched %d candidate(s).", len(r.Candidates)))
	env.Result = map[string]any{"candidates": r.Candidates}
	env.Errors = append(env.Errors, r.Errors...)
	return env
}

// Fetcher pulls open tool requests, plus search hits when a query is given
type Fetcher struct {
	Invoker Invoker
	Now     func() time.Time
}

// NewFetcher creates a fetcher over inv
func NewFetcher(inv Invoker) *Fetcher {
	return &Fetcher{Invoker: inv, Now: time.Now}
}

// Fetch never fails outright: a failed call contributes an error string and
// whatever the other call returned is still used.
func (f *Fetcher) Fetch(ctx context.Context, limit int, query string) FetchResult {
	if limit <= 0 {
		limit = DefaultLimit
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	var res FetchResult
	var all []types.Candidate

	collect := func(tool string, args map[string]any) {
		payload, err := f.Invoker.Call(ctx, tool, args)
		if err != nil {
			logging.Warn("backlog", "%s failed: %v", tool, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", tool, err))
			return
		}
		items, errs := ParseItems(payload)
		res.Errors = append(res.Errors, errs...)
		for _, it := range items {
			all = append(all, NormalizeItem(it, now()))
		}
		logging.Debug("backlog", "%s returned %d item(s)", tool, len(items))
	}

	collect(ToolLatest, map[string]any{
		"limit":    limit,
		"statuses": []string{string(types.StatusNew), string(types.StatusTriaging)},
	})
	if query != "" {
		collect(ToolSearch, map[string]any{"query": query, "limit": limit})
	}

	res.Candidates = Dedupe(all)
	return res
}

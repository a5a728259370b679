// Package agent turns a free-text request into one routed action and reports
// it in the uniform envelope. Mutating work only happens outside dry-run,
// or behind an explicit confirmation such as "apply last correction".
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vthunder/toolbox/internal/activity"
	"github.com/vthunder/toolbox/internal/backlog"
	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/router"
	"github.com/vthunder/toolbox/internal/scaffold"
	"github.com/vthunder/toolbox/internal/scoring"
	"github.com/vthunder/toolbox/internal/state"
	"github.com/vthunder/toolbox/internal/types"
)

// DefaultCLI is the command prefix used in suggestions and reproduce lines
const DefaultCLI = "toolbox agent"

const (
	listLimit   = 10
	searchLimit = 10
	editLimit   = 5
)

// Options are the per-request flags
type Options struct {
	DryRun bool
	// ExplicitDryRun is set when the caller asked for dry-run outright
	// rather than getting it by default. Nothing writes under it, including
	// auto-apply and "apply last correction".
	ExplicitDryRun bool
	ForceScaffold  bool
	AutoApply      bool
	Force          bool
}

// Agent dispatches routed requests to the tool server and local state
type Agent struct {
	Invoker       mcp.Invoker
	Decider       scoring.Decider
	Prefs         *state.PrefsStore
	Previews      *state.PreviewStore
	Scaffolder    *scaffold.Scaffolder
	Activity      *activity.Log
	DeployCommand string
	CLI           string
	Now           func() time.Time
}

// Result is the route-specific payload of the envelope
type Result struct {
	Route          router.Route       `json:"route"`
	Request        string             `json:"request"`
	Params         router.Params      `json:"params"`
	Commands       []string           `json:"commands"`
	FilesCreated   []string           `json:"files_created"`
	Output         map[string]any     `json:"output,omitempty"`
	Ranked         []RankedCandidate  `json:"ranked,omitempty"`
	Candidates     any                `json:"candidates,omitempty"`
	IntentNotes    []string           `json:"intent_notes,omitempty"`
	Preview        map[string]any     `json:"preview,omitempty"`
	NotionUpdate   map[string]any     `json:"notion_update,omitempty"`
	Triage         *Triage            `json:"triage,omitempty"`
	ScaffoldSource string             `json:"scaffold_source,omitempty"`
	Scaffold       *scaffold.Result   `json:"scaffold,omitempty"`
	Correction     *CorrectionOutcome `json:"correction,omitempty"`
	Prefs          *state.Prefs       `json:"prefs,omitempty"`
	Deploy         *CommandOutput     `json:"deploy,omitempty"`
}

// RankedCandidate is a search hit with its relevance score
type RankedCandidate struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

// Triage is the backlog pick made for triage and scaffold routes
type Triage struct {
	CandidateCount int              `json:"candidate_count"`
	Decision       scoring.Decision `json:"decision"`
	Selected       *types.Candidate `json:"selected,omitempty"`
	Summary        string           `json:"summary"`
}

func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Agent) cli() string {
	if a.CLI != "" {
		return a.CLI
	}
	return DefaultCLI
}

// run carries the state of one Handle call
type run struct {
	a       *Agent
	ctx     context.Context
	request string
	opts    Options
	dryRun  bool
	result  *Result
	next    []string
	errs    []string
}

// Handle routes request and runs the matching action. It never returns an
// error: failures are reported in the envelope.
func (a *Agent) Handle(ctx context.Context, request string, opts Options) types.Envelope {
	request = strings.TrimSpace(request)
	decision := router.Classify(request, router.Flags{ForceScaffold: opts.ForceScaffold})
	r := &run{
		a:       a,
		ctx:     ctx,
		request: request,
		opts:    opts,
		dryRun:  opts.DryRun || opts.ExplicitDryRun,
		result: &Result{
			Route:        decision.Route,
			Request:      request,
			Params:       decision.Params,
			Commands:     []string{},
			FilesCreated: []string{},
		},
	}
	logging.Debug("agent", "route %s (rule %s) for %q", decision.Route, decision.Rule, logging.Truncate(request, 80))

	if err := r.dispatch(decision); err != nil {
		r.errs = append(r.errs, envelopeMessage(err))
	}

	if len(r.result.Commands) > 0 || decision.Route != router.RouteUnknown {
		r.next = append(r.next, "Reproduce: "+r.reproduce())
	}
	env := types.NewEnvelope(fmt.Sprintf("Route: %s. Dry-run: %t.", decision.Route, r.dryRun))
	env.Result = r.result
	env.NextActions = append(env.NextActions, r.next...)
	env.Errors = append(env.Errors, r.errs...)

	if a.Activity != nil {
		if err := a.Activity.LogRequest(request, string(decision.Route), r.dryRun, env.Summary, env.Errors); err != nil {
			logging.Warn("agent", "activity log: %v", err)
		}
	}
	return env
}

func (r *run) dispatch(d router.Decision) error {
	switch d.Route {
	case router.RouteList:
		return r.list()
	case router.RouteSearch:
		return r.search(d.Params)
	case router.RouteTriage:
		return r.triage()
	case router.RouteScaffold:
		return r.scaffold()
	case router.RouteDeploy:
		return r.deploy()
	case router.RouteEditNotion:
		return r.editNotion(d.Params)
	case router.RouteCorrection:
		return r.correct(d.Params)
	case router.RouteApplyLast:
		return r.applyLast()
	case router.RoutePrefs:
		return r.prefs(d.Params)
	case router.RouteCall:
		return r.callTool(d.Params)
	default:
		r.next = append(r.next, router.Suggestions(r.a.cli())...)
		return nil
	}
}

// reproduce is the CLI line that re-runs this request with the same flags
func (r *run) reproduce() string {
	parts := []string{r.a.cli(), strconv.Quote(r.request)}
	if r.opts.DryRun || r.opts.ExplicitDryRun {
		parts = append(parts, "--dry-run")
	} else {
		parts = append(parts, "--execute")
	}
	if r.opts.ForceScaffold {
		parts = append(parts, "--scaffold")
	}
	if r.opts.AutoApply {
		parts = append(parts, "--auto-apply")
	}
	if r.opts.Force {
		parts = append(parts, "--force")
	}
	return strings.Join(parts, " ")
}

// call invokes a tool, recording the command and any errors the tool reported
func (r *run) call(tool string, args map[string]any) (map[string]any, error) {
	r.result.Commands = append(r.result.Commands, commandLine(tool, args))
	if r.a.Invoker == nil {
		return nil, fmt.Errorf("%s: no tool invoker configured", tool)
	}
	payload, err := r.a.Invoker.Call(r.ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	for _, e := range envelopeErrors(payload) {
		r.errs = append(r.errs, tool+": "+e)
	}
	return payload, nil
}

// Call lets a run stand in as the backlog fetcher's invoker
func (r *run) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	r.result.Commands = append(r.result.Commands, commandLine(tool, args))
	if r.a.Invoker == nil {
		return nil, fmt.Errorf("no tool invoker configured")
	}
	return r.a.Invoker.Call(ctx, tool, args)
}

func (r *run) fetcher() *backlog.Fetcher {
	f := backlog.NewFetcher(r)
	f.Now = r.a.now
	return f
}

func commandLine(tool string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return tool
	}
	return tool + " " + string(data)
}

func envelopeErrors(payload map[string]any) []string {
	list, _ := payload["errors"].([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func resultMap(payload map[string]any) map[string]any {
	m, _ := payload["result"].(map[string]any)
	return m
}

func resultItems(payload map[string]any) []any {
	items, _ := resultMap(payload)["items"].([]any)
	return items
}

// updatesArg converts structured updates to the plain JSON shape tools expect
func updatesArg(u types.PageUpdates) map[string]any {
	props := make(map[string]any, len(u.Properties))
	for k, v := range u.Properties {
		props[k] = v
	}
	m := map[string]any{"properties": props}
	if u.Title != "" {
		m["title"] = u.Title
	}
	return m
}

package hygiene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/types"
)

// EventSource lists raw calendar event records in a time range
type EventSource interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]map[string]any, error)
}

// Service runs the plan and apply flows against injected collaborators
type Service struct {
	Source     EventSource
	Creator    BlockCreator
	Plans      *PlanStore
	CalendarID string
	Now        func() time.Time
}

// PlanOutcome is one planning run and where its plan was written
type PlanOutcome struct {
	Plan     Plan
	Path     string
	Stats    Stats
	Traces   []string
	RawCount int
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) calendarID(override string) string {
	switch {
	case override != "":
		return override
	case s.CalendarID != "":
		return s.CalendarID
	default:
		return "primary"
	}
}

// Plan fetches events for the next days, falls back to mock events when
// the source fails, runs the heuristics and persists the plan.
func (s *Service) Plan(ctx context.Context, days int, calendarID string) (*PlanOutcome, error) {
	if days <= 0 {
		days = 7
	}
	calendarID = s.calendarID(calendarID)
	start := s.now()
	window := TimeWindow{Start: start, End: start.AddDate(0, 0, days)}

	var (
		events []Event
		errs   []string
		raw    int
		source = SourceMCP
	)
	items, err := s.fetch(ctx, calendarID, window)
	if err != nil {
		logging.Warn("hygiene", "event fetch failed, using mock events: %v", err)
		errs = append(errs, err.Error())
		events = MockEvents(start)
		raw = len(events)
		source = SourceMock
	} else {
		raw = len(items)
		events = EventsFromRaw(items)
	}

	filtered, stats := FilterEvents(events)
	actions, traces := BuildActions(filtered)
	for _, line := range traces {
		logging.Debug("hygiene", "%s", line)
	}

	plan := BuildPlan(PlanInput{
		Events:     filtered,
		Actions:    actions,
		Window:     window,
		CalendarID: calendarID,
		DataSource: source,
		Errors:     errs,
		Now:        s.now(),
	})
	path, err := s.Plans.Save(plan)
	if err != nil {
		return nil, err
	}
	logging.Info("hygiene", "plan %s saved: %d events, %d actions, source=%s",
		plan.PlanID, len(filtered), len(actions), source)

	return &PlanOutcome{Plan: plan, Path: path, Stats: stats, Traces: traces, RawCount: raw}, nil
}

func (s *Service) fetch(ctx context.Context, calendarID string, w TimeWindow) ([]map[string]any, error) {
	if s.Source == nil {
		return nil, errors.New("no calendar source configured")
	}
	items, err := s.Source.ListEvents(ctx, calendarID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return items, nil
}

// PreviewActions returns the first n actions in a compact form
func PreviewActions(actions []Action, n int) []map[string]any {
	if len(actions) < n {
		n = len(actions)
	}
	out := make([]map[string]any, 0, n)
	for _, a := range actions[:n] {
		out = append(out, map[string]any{
			"action_id":  a.ID,
			"type":       a.Type,
			"title":      a.Title,
			"start":      a.Start,
			"end":        a.End,
			"reason":     a.Reason,
			"confidence": a.Confidence,
		})
	}
	return out
}

// PlanEnvelope renders a planning run. With verbose set the result also
// carries filter stats and the heuristic traces.
func PlanEnvelope(o *PlanOutcome, verbose bool) types.Envelope {
	p := o.Plan
	summary := fmt.Sprintf("Plan %s saved. %d events scanned, %d actions proposed.",
		p.PlanID, p.Result.EventsAnalyzed, p.Result.ProposedActions)
	if p.DataSource == SourceMock {
		summary += " MCP unavailable; using mock events."
	}

	result := map[string]any{
		"plan_id":                  p.PlanID,
		"time_window":              p.TimeWindow,
		"data_source":              p.DataSource,
		"events_scanned":           p.Result.EventsAnalyzed,
		"actions_proposed":         p.Result.ProposedActions,
		"proposed_actions_preview": PreviewActions(p.ProposedActions, 5),
		"plan_path":                o.Path,
	}
	if verbose {
		result["debug"] = map[string]any{
			"calendar_id":      p.CalendarID,
			"events_fetched":   o.RawCount,
			"events_analyzed":  p.Result.EventsAnalyzed,
			"all_day_excluded": o.Stats.AllDayExcluded,
			"private_count":    o.Stats.PrivateCount,
			"traces":           o.Traces,
		}
	}

	env := types.NewEnvelope(summary)
	env.Result = result
	env.NextActions = []string{
		"Review the plan file and proposed actions.",
		"Call calendar_hygiene_apply with selected action IDs when ready.",
	}
	env.Errors = append(env.Errors, p.Errors...)
	return env
}

// Apply loads a stored plan and applies the selected actions, rendering
// every outcome (including gate failures) as an envelope.
func (s *Service) Apply(ctx context.Context, planID string, ids []string, opts ApplyOptions) types.Envelope {
	fail := func(summary, next string, err error) types.Envelope {
		res := newApplyResult(opts.DryRun)
		res.SkippedActionIDs = append(res.SkippedActionIDs, ids...)
		env := types.NewEnvelope(summary)
		env.Result = res
		env.NextActions = []string{next}
		env.AddError(err)
		return env
	}

	if err := CheckGates(ids, opts); err != nil {
		if errors.Is(err, ErrConfirmRequired) {
			return fail("Confirmation required before applying changes.",
				"Re-run with --confirm once you approve the selected actions.", err)
		}
		env := fail("No action IDs provided.", "Provide action IDs to apply.", err)
		env.Result = newApplyResult(opts.DryRun)
		return env
	}

	plan, err := s.Plans.Load(planID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return fail("Plan file not found.", "Generate a plan before applying.", err)
		}
		return fail("Plan file could not be read.", "Regenerate the plan.", err)
	}

	res, err := Apply(ctx, plan, ids, opts, s.Creator)
	switch {
	case errors.Is(err, ErrNotMCPData):
		return fail("Plan generated without MCP data; apply blocked.", "Regenerate the plan with MCP available.", err)
	case errors.Is(err, ErrInvalidWindow):
		return fail("Plan time window is invalid.", "Regenerate the plan.", err)
	case err != nil:
		return fail("Apply failed.", "Check calendar configuration.", err)
	}

	verb := "Applied"
	next := "Review created blocks in calendar."
	if opts.DryRun {
		verb = "Dry-run"
		next = "Run apply with --execute --confirm to execute writes."
	}
	env := types.NewEnvelope(fmt.Sprintf("%s %d action(s); %d skipped.", verb, res.CreatedCount, len(res.SkippedActionIDs)))
	env.Result = res
	env.NextActions = []string{next}
	env.Errors = append(env.Errors, res.Errors()...)
	logging.Info("hygiene", "apply plan=%s created=%d skipped=%d dry_run=%v",
		planID, res.CreatedCount, len(res.SkippedActionIDs), opts.DryRun)
	return env
}

// InvokerSource lists events through a tool invoker's calendar_list_events
// tool, reading the result's items array.
type InvokerSource struct {
	Invoker interface {
		Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	}
	Tool string
}

// ListEvents implements EventSource
func (s InvokerSource) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]map[string]any, error) {
	tool := s.Tool
	if tool == "" {
		tool = "calendar_list_events"
	}
	payload, err := s.Invoker.Call(ctx, tool, map[string]any{
		"calendar_id": calendarID,
		"time_min":    start.Format(time.RFC3339),
		"time_max":    end.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
		return nil, fmt.Errorf("%s: %v", tool, errs[0])
	}
	result, _ := payload["result"].(map[string]any)
	if result == nil {
		result = payload
	}
	rawItems, _ := result["items"].([]any)
	items := make([]map[string]any, 0, len(rawItems))
	for _, it := range rawItems {
		if m, ok := it.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

// InvokerCreator creates blocks through a calendar_create_event tool
type InvokerCreator struct {
	Invoker interface {
		Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	}
	Tool string
}

// CreateBlock implements BlockCreator
func (c InvokerCreator) CreateBlock(ctx context.Context, calendarID string, a Action) (string, error) {
	tool := c.Tool
	if tool == "" {
		tool = "calendar_create_event"
	}
	payload, err := c.Invoker.Call(ctx, tool, map[string]any{
		"calendar_id": calendarID,
		"title":       a.Title,
		"start":       a.Start.Format(time.RFC3339),
		"end":         a.End.Format(time.RFC3339),
		"description": BlockDescription,
	})
	if err != nil {
		return "", err
	}
	if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
		return "", fmt.Errorf("%s: %v", tool, errs[0])
	}
	result, _ := payload["result"].(map[string]any)
	if result == nil {
		result = payload
	}
	id, _ := result["id"].(string)
	if id == "" {
		return "", fmt.Errorf("%s: no event id in response", tool)
	}
	return id, nil
}

// BlockDescription is written on every created block
const BlockDescription = "Buffer block created by Calendar Hygiene Assistant."

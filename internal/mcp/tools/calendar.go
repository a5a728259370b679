package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/toolbox/internal/hygiene"
	"github.com/vthunder/toolbox/internal/integrations/calendar"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

// calendarSource feeds the hygiene planner straight from the calendar client
type calendarSource struct {
	client *calendar.Client
}

func (s calendarSource) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]map[string]any, error) {
	events, err := s.client.ListEvents(ctx, calendar.ListEventsParams{CalendarID: calendarID, TimeMin: start, TimeMax: end})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, e := range events {
		items = append(items, e.Fields())
	}
	return items, nil
}

// calendarCreator writes hygiene blocks with the calendar client
type calendarCreator struct {
	client *calendar.Client
}

func (c calendarCreator) CreateBlock(ctx context.Context, calendarID string, a hygiene.Action) (string, error) {
	ev, err := c.client.CreateEvent(ctx, calendar.CreateEventParams{
		CalendarID:  calendarID,
		Summary:     a.Title,
		Description: hygiene.BlockDescription,
		Start:       *a.Start,
		End:         *a.End,
	})
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func parseTimeArg(args map[string]any, key string) (time.Time, error) {
	s := strings.TrimSpace(stringArg(args, key))
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, ok := text.ParseTimestamp(s)
	if !ok {
		return time.Time{}, fmt.Errorf("%s: invalid timestamp %q", key, s)
	}
	return t, nil
}

func registerCalendarTools(reg *mcp.Registry, deps *Dependencies) {
	missing := func(result any) types.Envelope {
		return failure("Calendar is not configured on the server.", result,
			"Set GOOGLE_CALENDAR_CREDENTIALS_FILE and GOOGLE_CALENDAR_ID.",
			"calendar credentials not configured")
	}

	reg.Register("calendar_list_events", mcp.ToolDef{
		Description: "List calendar events in a time range (defaults to the next 7 days).",
		Properties: map[string]mcp.PropDef{
			"calendar_id": {Type: "string", Description: "Calendar ID (defaults to the configured calendar)"},
			"time_min":    {Type: "string", Description: "Range start (RFC3339)"},
			"time_max":    {Type: "string", Description: "Range end (RFC3339)"},
			"query":       {Type: "string", Description: "Free-text filter"},
			"max_results": {Type: "number", Description: "Maximum events (default 250)"},
		},
	}, handle(deps, "calendar_list_events", func(ctx context.Context, args map[string]any) types.Envelope {
		if deps.Calendar == nil {
			return missing(map[string]any{"items": []any{}})
		}
		start := deps.now()
		end := start.AddDate(0, 0, 7)
		if stringArg(args, "time_min") != "" {
			t, err := parseTimeArg(args, "time_min")
			if err != nil {
				return failure("Invalid time range.", map[string]any{"items": []any{}}, "", err.Error())
			}
			start = t
		}
		if stringArg(args, "time_max") != "" {
			t, err := parseTimeArg(args, "time_max")
			if err != nil {
				return failure("Invalid time range.", map[string]any{"items": []any{}}, "", err.Error())
			}
			end = t
		}

		events, err := deps.Calendar.ListEvents(ctx, calendar.ListEventsParams{
			CalendarID: stringArg(args, "calendar_id"),
			TimeMin:    start,
			TimeMax:    end,
			Query:      stringArg(args, "query"),
			MaxResults: intArg(args, "max_results", 0),
		})
		if err != nil {
			return failure("Failed to list calendar events.", map[string]any{"items": []any{}},
				"Check calendar credentials and sharing.", err.Error())
		}
		items := make([]map[string]any, 0, len(events))
		for _, e := range events {
			items = append(items, e.Fields())
		}
		env := types.NewEnvelope(fmt.Sprintf("Found %d event(s) between %s and %s.",
			len(items), start.Format(time.RFC3339), end.Format(time.RFC3339)))
		env.Result = map[string]any{"items": items}
		return env
	}))

	reg.Register("calendar_create_event", mcp.ToolDef{
		Description: "Create a calendar event.",
		Properties: map[string]mcp.PropDef{
			"calendar_id": {Type: "string", Description: "Calendar ID (defaults to the configured calendar)"},
			"title":       {Type: "string", Description: "Event title"},
			"start":       {Type: "string", Description: "Start time (RFC3339)"},
			"end":         {Type: "string", Description: "End time (RFC3339)"},
			"description": {Type: "string", Description: "Event description"},
			"location":    {Type: "string", Description: "Event location"},
		},
		Required: []string{"title", "start", "end"},
	}, handle(deps, "calendar_create_event", func(ctx context.Context, args map[string]any) types.Envelope {
		if deps.Calendar == nil {
			return missing(map[string]any{"id": nil})
		}
		title := strings.TrimSpace(stringArg(args, "title"))
		var errs []string
		if title == "" {
			errs = append(errs, "title is required")
		}
		start, err := parseTimeArg(args, "start")
		if err != nil {
			errs = append(errs, err.Error())
		}
		end, err := parseTimeArg(args, "end")
		if err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return failure("Invalid event.", map[string]any{"id": nil}, "", errs...)
		}

		ev, err := deps.Calendar.CreateEvent(ctx, calendar.CreateEventParams{
			CalendarID:  stringArg(args, "calendar_id"),
			Summary:     title,
			Description: stringArg(args, "description"),
			Location:    stringArg(args, "location"),
			Start:       start,
			End:         end,
		})
		if err != nil {
			return failure("Failed to create event.", map[string]any{"id": nil},
				"Check calendar write access.", err.Error())
		}
		if deps.ActivityLog != nil {
			deps.ActivityLog.LogMutation("Created event "+title, "calendar_create_event",
				map[string]any{"event_id": ev.ID, "start": ev.Start.Format(time.RFC3339)})
		}
		env := types.NewEnvelope("Created event: " + title)
		result := ev.Fields()
		env.Result = result
		return env
	}))

	reg.Register("calendar_hygiene_plan", mcp.ToolDef{
		Description: "Scan upcoming events and save a plan of buffer blocks and schedule fixes.",
		Properties: map[string]mcp.PropDef{
			"days":        {Type: "number", Description: "Days ahead to scan (default 7)"},
			"calendar_id": {Type: "string", Description: "Calendar ID"},
			"verbose":     {Type: "boolean", Description: "Include filter stats and heuristic traces"},
		},
	}, handle(deps, "calendar_hygiene_plan", func(ctx context.Context, args map[string]any) types.Envelope {
		out, err := deps.hygieneService().Plan(ctx, intArg(args, "days", 7), stringArg(args, "calendar_id"))
		if err != nil {
			return failure("Failed to save plan.", nil, "Check the plans directory.", err.Error())
		}
		return hygiene.PlanEnvelope(out, boolArg(args, "verbose", false))
	}))

	reg.Register("calendar_hygiene_apply", mcp.ToolDef{
		Description: "Apply selected create_block actions from a saved plan. Dry-run by default; writes need confirm.",
		Properties: map[string]mcp.PropDef{
			"plan_id":    {Type: "string", Description: "Plan id (YYYY-MM-DD)"},
			"action_ids": {Type: "array", Description: "Action ids to apply"},
			"dry_run":    {Type: "boolean", Description: "Preview only (default true)"},
			"confirm":    {Type: "boolean", Description: "Required when dry_run is false"},
		},
		Required: []string{"plan_id", "action_ids"},
	}, handle(deps, "calendar_hygiene_apply", func(ctx context.Context, args map[string]any) types.Envelope {
		opts := hygiene.ApplyOptions{
			DryRun:  boolArg(args, "dry_run", true),
			Confirm: boolArg(args, "confirm", false),
		}
		env := deps.hygieneService().Apply(ctx, stringArg(args, "plan_id"), stringsArg(args, "action_ids"), opts)
		if !opts.DryRun && deps.ActivityLog != nil {
			if res, ok := env.Result.(hygiene.ApplyResult); ok && res.CreatedCount > 0 {
				deps.ActivityLog.LogMutation(env.Summary, "calendar_hygiene_apply", map[string]any{
					"plan_id":           stringArg(args, "plan_id"),
					"created_event_ids": res.CreatedEventIDs,
				})
			}
		}
		return env
	}))
}

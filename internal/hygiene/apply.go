package hygiene

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConfirmRequired = errors.New("confirm is required when dry_run is false")
	ErrNoActionIDs     = errors.New("action_ids is required")
	ErrNotMCPData      = errors.New("plan data_source is not mcp")
	ErrInvalidWindow   = errors.New("missing or invalid time_window in plan")
)

// BlockCreator writes a create_block action to a calendar and returns the
// created event id.
type BlockCreator interface {
	CreateBlock(ctx context.Context, calendarID string, a Action) (string, error)
}

// ApplyOptions control whether writes happen
type ApplyOptions struct {
	DryRun  bool
	Confirm bool
}

// Skip records why an action was not applied
type Skip struct {
	ActionID string `json:"action_id"`
	Reason   string `json:"reason"`
}

// ApplyResult reports applied and skipped actions
type ApplyResult struct {
	CreatedCount     int      `json:"created_count"`
	CreatedEventIDs  []string `json:"created_event_ids"`
	SkippedActionIDs []string `json:"skipped_action_ids"`
	Skipped          []Skip   `json:"skipped"`
	DryRun           bool     `json:"dry_run"`
}

func newApplyResult(dryRun bool) ApplyResult {
	return ApplyResult{
		CreatedEventIDs:  []string{},
		SkippedActionIDs: []string{},
		Skipped:          []Skip{},
		DryRun:           dryRun,
	}
}

func (r *ApplyResult) skip(id, reason string) {
	r.SkippedActionIDs = append(r.SkippedActionIDs, id)
	r.Skipped = append(r.Skipped, Skip{ActionID: id, Reason: reason})
}

// Errors returns the per-action skip reasons
func (r ApplyResult) Errors() []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, s.Reason)
	}
	return out
}

// CheckGates validates the request before a plan is read: a write needs
// Confirm and at least one action id.
func CheckGates(ids []string, opts ApplyOptions) error {
	if !opts.DryRun && !opts.Confirm {
		return ErrConfirmRequired
	}
	if len(ids) == 0 {
		return ErrNoActionIDs
	}
	return nil
}

// Apply validates each selected action against the stored plan and creates
// the valid ones. Failures are collected per action, never short-circuit.
// In dry-run mode nothing is written and ids are reported as dry-run:{id}.
func Apply(ctx context.Context, plan *Plan, ids []string, opts ApplyOptions, creator BlockCreator) (ApplyResult, error) {
	res := newApplyResult(opts.DryRun)
	if err := CheckGates(ids, opts); err != nil {
		res.SkippedActionIDs = append(res.SkippedActionIDs, ids...)
		return res, err
	}
	if plan.DataSource != SourceMCP {
		res.SkippedActionIDs = append(res.SkippedActionIDs, ids...)
		return res, ErrNotMCPData
	}
	window := plan.TimeWindow
	if window.Start.IsZero() || window.End.IsZero() {
		res.SkippedActionIDs = append(res.SkippedActionIDs, ids...)
		return res, ErrInvalidWindow
	}
	if !opts.DryRun && creator == nil {
		return res, errors.New("no calendar writer configured")
	}

	calendarID := plan.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	for _, id := range ids {
		a, ok := plan.Action(id)
		switch {
		case !ok:
			res.skip(id, fmt.Sprintf("Action %s not found in plan.", id))
			continue
		case a.Type != ActionCreateBlock:
			res.skip(id, fmt.Sprintf("Action %s is not create_block.", id))
			continue
		case a.Start == nil || a.End == nil:
			res.skip(id, fmt.Sprintf("Action %s missing start/end.", id))
			continue
		case !window.Contains(*a.Start, *a.End):
			res.skip(id, fmt.Sprintf("Action %s outside plan time window.", id))
			continue
		}

		if opts.DryRun {
			res.CreatedEventIDs = append(res.CreatedEventIDs, "dry-run:"+id)
			continue
		}
		eventID, err := creator.CreateBlock(ctx, calendarID, a)
		if err != nil {
			res.skip(id, fmt.Sprintf("Action %s failed: %v", id, err))
			continue
		}
		res.CreatedEventIDs = append(res.CreatedEventIDs, eventID)
	}
	res.CreatedCount = len(res.CreatedEventIDs)
	return res, nil
}

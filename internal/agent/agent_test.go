package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/toolbox/internal/activity"
	"github.com/vthunder/toolbox/internal/router"
	"github.com/vthunder/toolbox/internal/scaffold"
	"github.com/vthunder/toolbox/internal/state"
	"github.com/vthunder/toolbox/internal/types"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type toolCall struct {
	Tool string
	Args map[string]any
}

// fakeInvoker answers from canned envelopes keyed by tool name
type fakeInvoker struct {
	calls     []toolCall
	responses map[string]map[string]any
	fail      map[string]error
}

func (f *fakeInvoker) Call(_ context.Context, tool string, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, toolCall{Tool: tool, Args: args})
	if err := f.fail[tool]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[tool]; ok {
		return resp, nil
	}
	return map[string]any{"summary": "ok", "result": map[string]any{}, "errors": []any{}}, nil
}

func (f *fakeInvoker) tools() []string {
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Tool)
	}
	return names
}

func itemsEnvelope(items ...map[string]any) map[string]any {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return map[string]any{"summary": "", "result": map[string]any{"items": list}, "errors": []any{}}
}

var (
	receiptItem = map[string]any{
		"id": "a", "title": "Receipt photo to pantry", "status": "new", "impact": "high",
		"frequency": "daily", "domain": []any{"pantry"}, "created_time": "2026-03-09T10:00:00Z",
	}
	calendarItem = map[string]any{
		"id": "b", "title": "Calendar cleanup", "status": "triaging", "impact": "low",
		"frequency": "weekly", "created_time": "2026-01-01T10:00:00Z",
	}
)

func newTestAgent(t *testing.T) (*Agent, *fakeInvoker) {
	t.Helper()
	dir := t.TempDir()
	inv := &fakeInvoker{responses: map[string]map[string]any{
		"tool_requests_latest": itemsEnvelope(receiptItem, calendarItem),
		"tool_requests_search": itemsEnvelope(receiptItem),
	}}
	a := &Agent{
		Invoker:  inv,
		Prefs:    state.NewPrefsStore(filepath.Join(dir, "prefs.json")),
		Previews: state.NewPreviewStore(filepath.Join(dir, "last_preview.json")),
		Scaffolder: &scaffold.Scaffolder{
			ToolsDir: filepath.Join(dir, "tools"),
			SpecsDir: filepath.Join(dir, "specs"),
			PlansDir: filepath.Join(dir, "plans"),
			Now:      func() time.Time { return fixedNow },
		},
		Activity: activity.New(filepath.Join(dir, "activity.jsonl")),
		Now:      func() time.Time { return fixedNow },
	}
	return a, inv
}

func result(t *testing.T, env types.Envelope) *Result {
	t.Helper()
	r, ok := env.Result.(*Result)
	require.True(t, ok, "result is %T", env.Result)
	return r
}

func TestListRoute(t *testing.T) {
	a, inv := newTestAgent(t)
	env := a.Handle(context.Background(), "show tool requests", Options{DryRun: true})

	assert.Equal(t, "Route: list. Dry-run: true.", env.Summary)
	require.Len(t, inv.calls, 1)
	want := toolCall{Tool: "tool_requests_latest", Args: map[string]any{
		"limit": 10, "statuses": []string{"new", "triaging"},
	}}
	if diff := cmp.Diff(want, inv.calls[0]); diff != "" {
		t.Errorf("call mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{`Reproduce: toolbox agent "show tool requests" --dry-run`}, env.NextActions)
	assert.Empty(t, env.Errors)

	entries, err := a.Activity.ByType(activity.TypeRequest, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "list", entries[0].Route)
}

func TestSearchRouteRanks(t *testing.T) {
	a, inv := newTestAgent(t)
	env := a.Handle(context.Background(), `search "pantry"`, Options{DryRun: true})

	assert.Equal(t, "Route: search. Dry-run: true.", env.Summary)
	assert.Equal(t, map[string]any{"query": "pantry", "limit": 10}, inv.calls[0].Args)
	r := result(t, env)
	require.Len(t, r.Ranked, 1)
	assert.Equal(t, "a", r.Ranked[0].ID)
	assert.Greater(t, r.Ranked[0].Score, 0.0)
}

func TestUnknownRouteSuggests(t *testing.T) {
	a, inv := newTestAgent(t)
	env := a.Handle(context.Background(), "hello there", Options{DryRun: true})
	assert.Equal(t, "Route: unknown. Dry-run: true.", env.Summary)
	assert.Empty(t, inv.calls)
	assert.Equal(t, router.Suggestions(DefaultCLI), env.NextActions)
}

func TestCallRoute(t *testing.T) {
	a, inv := newTestAgent(t)

	env := a.Handle(context.Background(), "call health_check", Options{DryRun: true})
	assert.Equal(t, []string{"health_check"}, inv.tools())
	assert.NotNil(t, result(t, env).Output)

	env = a.Handle(context.Background(), `call tool_requests_create {"title": "x", /* note */}`, Options{DryRun: true})
	assert.Len(t, inv.calls, 1, "mutating tool must not run in dry-run")
	assert.Contains(t, env.NextActions, "Re-run with --execute to call mutating tool.")
	assert.Equal(t, []string{`tool_requests_create {"title":"x"}`}, result(t, env).Commands)

	env = a.Handle(context.Background(), `call tool_requests_create {"title": "x"}`, Options{})
	require.Len(t, inv.calls, 2)
	assert.Equal(t, map[string]any{"title": "x"}, inv.calls[1].Args)

	env = a.Handle(context.Background(), `call health_check {nope}`, Options{DryRun: true})
	require.Len(t, env.Errors, 1)
	assert.Contains(t, env.Errors[0], "Invalid JSON args for call")

	inv.fail = map[string]error{"health_check": errors.New("exit status 7")}
	env = a.Handle(context.Background(), "call health_check", Options{DryRun: true})
	assert.Equal(t, []string{"health_check: exit status 7"}, env.Errors)
}

func TestDeployRoute(t *testing.T) {
	a, _ := newTestAgent(t)

	env := a.Handle(context.Background(), "deploy the server", Options{DryRun: true})
	assert.Equal(t, []string{"No deploy command configured; set DEPLOY_COMMAND."}, env.Errors)

	a.DeployCommand = "echo deployed"
	env = a.Handle(context.Background(), "deploy the server", Options{DryRun: true})
	assert.Empty(t, env.Errors)
	assert.Contains(t, env.NextActions, "Re-run with --execute to deploy.")
	assert.Nil(t, result(t, env).Deploy)

	env = a.Handle(context.Background(), "deploy the server", Options{})
	require.Empty(t, env.Errors)
	r := result(t, env)
	require.NotNil(t, r.Deploy)
	assert.Equal(t, 0, r.Deploy.ReturnCode)
	assert.Equal(t, "deployed", r.Deploy.Stdout)
}

func TestEditNotionRoute(t *testing.T) {
	a, inv := newTestAgent(t)

	env := a.Handle(context.Background(), "update notion page 0123456789abcdef0123456789abcdef set status triaging", Options{DryRun: true})
	assert.Equal(t, "Route: edit_notion. Dry-run: true.", env.Summary)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, "notion_update_page", inv.calls[0].Tool)
	want := map[string]any{
		"page_id": "0123456789abcdef0123456789abcdef",
		"updates": map[string]any{"properties": map[string]any{"Status": "triaging"}},
		"dry_run": true,
	}
	if diff := cmp.Diff(want, inv.calls[0].Args); diff != "" {
		t.Errorf("update args mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, env.NextActions, "Re-run with --execute to apply the update.")

	inv.calls = nil
	inv.responses["notion_search"] = itemsEnvelope(
		map[string]any{"id": "p1", "title": "Groceries"},
		map[string]any{"id": "p2", "title": "Groceries 2025"},
	)
	env = a.Handle(context.Background(), `edit notion page "Groceries"`, Options{DryRun: true})
	assert.Equal(t, []string{"notion_search"}, inv.tools())
	assert.Equal(t, map[string]any{"query": "Groceries", "limit": 5}, inv.calls[0].Args)
	r := result(t, env)
	assert.Len(t, r.Candidates, 2)
	assert.Equal(t, []string{router.NoUpdateIntentNote}, r.IntentNotes)
	assert.Contains(t, env.NextActions, "Multiple matches found. Re-run with a page URL or id.")

	inv.calls = nil
	inv.responses["notion_search"] = itemsEnvelope(map[string]any{"id": "p1", "title": "Groceries"})
	env = a.Handle(context.Background(), `edit notion page "Groceries"`, Options{DryRun: true})
	assert.Equal(t, []string{"notion_search", "notion_get_page"}, inv.tools())
	assert.Contains(t, env.NextActions, "Specify a target field (title/status/description/tag) to update.")
}

func TestCorrectionPreviewThenApplyLast(t *testing.T) {
	a, inv := newTestAgent(t)
	ctx := context.Background()

	env := a.Handle(ctx, "fix tool request 'photo' to 'scan'", Options{DryRun: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: correct_tool_request. Dry-run: true.", env.Summary)
	r := result(t, env)
	require.NotNil(t, r.Correction)
	assert.Equal(t, "a", r.Correction.PageID)
	assert.Equal(t, "Receipt scan to pantry", r.Correction.Updates.Title)
	assert.InDelta(t, 0.65, r.Correction.Confidence.Score, 1e-9)
	assert.True(t, r.Correction.PreviewSaved)
	assert.False(t, r.Correction.Applied)
	assert.Equal(t, []string{"tool_requests_latest", "tool_requests_search", "notion_update_page"}, inv.tools())
	assert.Equal(t, true, inv.calls[2].Args["dry_run"])

	saved, err := a.Previews.Load()
	require.NoError(t, err)
	assert.Equal(t, state.PreviewTypeNotionCorrection, saved.Type)
	assert.Equal(t, "a", saved.PageID)
	assert.Equal(t, fixedNow, saved.Timestamp)

	inv.calls = nil
	env = a.Handle(ctx, "apply last correction", Options{DryRun: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: apply_last. Dry-run: false.", env.Summary)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, false, inv.calls[0].Args["dry_run"])
	assert.Equal(t, map[string]any{"title": "Receipt scan to pantry", "properties": map[string]any{}}, inv.calls[0].Args["updates"])
	assert.True(t, result(t, env).Correction.Applied)

	_, err = a.Previews.Load()
	assert.ErrorIs(t, err, state.ErrNoPreview)

	env = a.Handle(ctx, "apply last correction", Options{DryRun: true})
	assert.Equal(t, []string{"No saved preview to apply."}, env.Errors)
}

func TestCorrectionAmbiguousAndMissing(t *testing.T) {
	a, inv := newTestAgent(t)
	ctx := context.Background()

	inv.responses["tool_requests_search"] = itemsEnvelope(
		map[string]any{"id": "c", "title": "Calendar sync"},
	)
	env := a.Handle(ctx, "fix tool request 'calendar' to 'agenda'", Options{DryRun: true})
	r := result(t, env)
	assert.Len(t, r.Candidates, 2)
	assert.Nil(t, r.Correction)
	assert.Contains(t, env.NextActions, "Multiple matches found. Re-run with a page URL or id.")

	env = a.Handle(ctx, "fix tool request 'zebra' to 'okapi'", Options{DryRun: true})
	assert.Equal(t, []string{"No tool request matched 'zebra'."}, env.Errors)

	env = a.Handle(ctx, "please fix the tool request", Options{DryRun: true})
	assert.Equal(t, []string{"No correction pair found; quote the old and new phrases."}, env.Errors)
}

func TestCorrectionAutoApply(t *testing.T) {
	a, inv := newTestAgent(t)
	_, err := a.Prefs.Update(func(p *state.Prefs) error {
		p.AutoApplyEnabled = true
		p.AutoApplyThreshold = 0.6
		return nil
	})
	require.NoError(t, err)

	env := a.Handle(context.Background(), "fix tool request 'photo' to 'scan'", Options{DryRun: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: correct_tool_request. Dry-run: true.", env.Summary, "not opted in")

	inv.calls = nil
	require.NoError(t, a.Previews.Clear())
	env = a.Handle(context.Background(), "fix tool request 'photo' to 'scan'", Options{DryRun: true, AutoApply: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: correct_tool_request. Dry-run: false.", env.Summary)
	r := result(t, env)
	assert.True(t, r.Correction.AutoApplied)
	assert.True(t, r.Correction.Applied)
	assert.False(t, r.Correction.PreviewSaved)
	assert.Equal(t, false, inv.calls[len(inv.calls)-1].Args["dry_run"])

	_, err = a.Previews.Load()
	assert.ErrorIs(t, err, state.ErrNoPreview)
}

func assertNoWrites(t *testing.T, inv *fakeInvoker) {
	t.Helper()
	for _, c := range inv.calls {
		if c.Tool == "notion_update_page" {
			assert.Equal(t, true, c.Args["dry_run"], "write sent under explicit dry-run")
		}
	}
}

func TestExplicitDryRunNeverWrites(t *testing.T) {
	a, inv := newTestAgent(t)
	ctx := context.Background()
	_, err := a.Prefs.Update(func(p *state.Prefs) error {
		p.AutoApplyEnabled = true
		p.AutoApplyThreshold = 0.6
		return nil
	})
	require.NoError(t, err)

	env := a.Handle(ctx, "fix tool request 'photo' to 'scan'", Options{ExplicitDryRun: true, AutoApply: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: correct_tool_request. Dry-run: true.", env.Summary)
	r := result(t, env)
	assert.False(t, r.Correction.Applied)
	assert.False(t, r.Correction.AutoApplied)
	assert.True(t, r.Correction.PreviewSaved)
	assert.Contains(t, env.NextActions, "Auto-apply skipped because --dry-run was given.")
	assertNoWrites(t, inv)

	inv.calls = nil
	env = a.Handle(ctx, "apply last correction", Options{DryRun: true, ExplicitDryRun: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: apply_last. Dry-run: true.", env.Summary)
	assert.False(t, result(t, env).Correction.Applied)
	assert.Contains(t, env.NextActions, "Re-run without --dry-run to apply the saved preview.")
	assert.Equal(t, []string{"notion_update_page"}, inv.tools())
	assertNoWrites(t, inv)

	_, err = a.Previews.Load()
	assert.NoError(t, err, "preview kept for a later apply")
}

func TestPrefsRouteRejectsOutOfRangeThreshold(t *testing.T) {
	a, _ := newTestAgent(t)
	env := a.Handle(context.Background(), "set auto apply threshold 1.5", Options{DryRun: true})
	assert.Equal(t, []string{"Threshold 1.5 is out of range."}, env.Errors)

	stored, err := a.Prefs.Load()
	require.NoError(t, err)
	assert.Equal(t, state.DefaultPrefs().AutoApplyThreshold, stored.AutoApplyThreshold)
}

func TestRouteErrorSentence(t *testing.T) {
	err := fmt.Errorf("apply: %w", routeErrorf("no saved preview to apply"))
	assert.Equal(t, "apply: no saved preview to apply", err.Error())
	assert.Equal(t, "No saved preview to apply.", envelopeMessage(err))
	assert.Equal(t, "Already ends here?", envelopeMessage(routeErrorf("already ends here?")))
	assert.Equal(t, "plain failure", envelopeMessage(errors.New("plain failure")))
}

func TestApplyLastGates(t *testing.T) {
	a, inv := newTestAgent(t)
	ctx := context.Background()
	save := func(age time.Duration, confidence float64) {
		require.NoError(t, a.Previews.Save(state.Preview{
			Type:       state.PreviewTypeNotionCorrection,
			PageID:     "a",
			Updates:    types.PageUpdates{Title: "New"},
			Timestamp:  fixedNow.Add(-age),
			Confidence: confidence,
		}))
	}

	save(25*time.Hour, 0.9)
	env := a.Handle(ctx, "apply last correction", Options{DryRun: true})
	require.Len(t, env.Errors, 1)
	assert.Contains(t, env.Errors[0], "25.0 hours old")
	assert.Empty(t, inv.calls)

	save(time.Hour, 0.4)
	env = a.Handle(ctx, "apply that", Options{DryRun: true})
	assert.Equal(t, []string{"Preview confidence 0.40 is below 0.60."}, env.Errors)
	assert.Contains(t, env.NextActions, "Re-run with --force to apply a low-confidence correction.")

	env = a.Handle(ctx, "apply that", Options{DryRun: true, Force: true})
	require.Empty(t, env.Errors)
	assert.True(t, result(t, env).Correction.Applied)

	inv.responses["notion_update_page"] = map[string]any{"summary": "", "result": nil, "errors": []any{"Insufficient permissions"}}
	save(time.Hour, 0.9)
	env = a.Handle(ctx, "apply that", Options{DryRun: true})
	assert.Equal(t, []string{"notion_update_page: Insufficient permissions"}, env.Errors)
	_, err := a.Previews.Load()
	assert.NoError(t, err, "failed apply keeps the preview")
}

func TestPrefsRoute(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	env := a.Handle(ctx, "show auto apply settings", Options{DryRun: true})
	r := result(t, env)
	require.NotNil(t, r.Prefs)
	assert.Equal(t, state.DefaultPrefs(), *r.Prefs)

	env = a.Handle(ctx, "enable auto apply with threshold 95%", Options{DryRun: true})
	require.Empty(t, env.Errors)
	r = result(t, env)
	assert.True(t, r.Prefs.AutoApplyEnabled)
	assert.InDelta(t, 0.95, r.Prefs.AutoApplyThreshold, 1e-9)

	stored, err := a.Prefs.Load()
	require.NoError(t, err)
	assert.True(t, stored.AutoApplyEnabled)
}

func TestTriageRoute(t *testing.T) {
	a, inv := newTestAgent(t)
	ctx := context.Background()

	env := a.Handle(ctx, "what should we build next?", Options{DryRun: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, []string{"tool_requests_latest"}, inv.tools())
	r := result(t, env)
	require.NotNil(t, r.Triage)
	require.NotNil(t, r.Triage.Selected)
	assert.Equal(t, "a", r.Triage.Selected.ID)
	assert.Equal(t, 2, r.Triage.CandidateCount)
	assert.Contains(t, env.NextActions, "Re-run with --execute to write spec/plan files.")
	assert.Empty(t, r.FilesCreated)

	env = a.Handle(ctx, "what should we build next?", Options{})
	require.Empty(t, env.Errors)
	r = result(t, env)
	require.Len(t, r.FilesCreated, 2)
	for _, p := range r.FilesCreated {
		assert.FileExists(t, p)
	}
}

func TestScaffoldRoute(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	env := a.Handle(ctx, "what should we build next?", Options{DryRun: true, ForceScaffold: true})
	require.Empty(t, env.Errors)
	assert.Equal(t, "Route: scaffold. Dry-run: true.", env.Summary)
	r := result(t, env)
	assert.Equal(t, "Receipt photo to pantry", r.ScaffoldSource)
	require.NotNil(t, r.Scaffold)
	assert.Equal(t, "receipt_photo_to_pantry", r.Scaffold.ToolName)
	assert.NoFileExists(t, r.Scaffold.StubPath)
	assert.Contains(t, env.NextActions, "Re-run with --execute to scaffold the tool.")

	env = a.Handle(ctx, "what should we build next?", Options{ForceScaffold: true})
	require.Empty(t, env.Errors)
	r = result(t, env)
	require.Len(t, r.FilesCreated, 3)
	stub, err := os.ReadFile(r.Scaffold.StubPath)
	require.NoError(t, err)
	assert.Contains(t, string(stub), `"receipt_photo_to_pantry"`)

	env = a.Handle(ctx, "what should we build next?", Options{ForceScaffold: true})
	require.Len(t, env.Errors, 1)
	assert.Contains(t, env.Errors[0], "already exists")
}

func TestEnvelopeJSONShape(t *testing.T) {
	a, _ := newTestAgent(t)
	env := a.Handle(context.Background(), "show tool requests", Options{DryRun: true})
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	res := decoded["result"].(map[string]any)
	assert.Equal(t, "list", res["route"])
	assert.Equal(t, []any{}, res["files_created"])
	assert.Equal(t, []any{}, decoded["errors"])
}

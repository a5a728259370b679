package hygiene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan(t *testing.T) Plan {
	t.Helper()
	events := []Event{
		ev("doc", "Doctor appointment", at(3, 10, 0), at(3, 10, 30)),
		ev("a", "Design review", at(3, 14, 0), at(3, 15, 0)),
		ev("b", "Standup", at(3, 15, 2), at(3, 15, 15)),
	}
	actions, _ := BuildActions(events)
	return BuildPlan(PlanInput{
		Events:     events,
		Actions:    actions,
		Window:     TimeWindow{Start: at(2, 7, 0), End: at(9, 7, 0)},
		CalendarID: "primary",
		DataSource: SourceMCP,
		Now:        at(2, 7, 0),
	})
}

func TestBuildPlan(t *testing.T) {
	p := samplePlan(t)
	assert.Equal(t, SchemaVersion, p.SchemaVersion)
	assert.Equal(t, "2026-03-02", p.PlanID)
	assert.Equal(t, 3, p.Result.EventsAnalyzed)
	assert.Equal(t, len(p.ProposedActions), p.Result.ProposedActions)
	assert.Equal(t, []string{ActionSuggestShorten, ActionCreateBlock}, p.Result.ActionTypes)
	assert.Equal(t, "Proposed 3 action(s) from 3 event(s).", p.Summary)
	assert.NotNil(t, p.Errors)
	require.Len(t, p.Events, 3)
	assert.Equal(t, "2026-03-03T10:00:00Z", p.Events[0].Start)

	empty := BuildPlan(PlanInput{Window: TimeWindow{Start: at(2, 7, 0), End: at(3, 7, 0)}, Now: at(2, 7, 0)})
	assert.Equal(t, "No actions proposed from 0 event(s).", empty.Summary)
	assert.NotNil(t, empty.ProposedActions)
	assert.NotNil(t, empty.Events)
}

func TestPlanStoreRoundTrip(t *testing.T) {
	store := NewPlanStore(filepath.Join(t.TempDir(), "plans", "calendar_hygiene"))
	p := samplePlan(t)

	path, err := store.Save(p)
	require.NoError(t, err)
	assert.Equal(t, store.Path("2026-03-02"), path)

	got, err := store.Load("2026-03-02")
	require.NoError(t, err)
	require.Len(t, got.ProposedActions, len(p.ProposedActions))
	for i := range p.ProposedActions {
		assert.Equal(t, p.ProposedActions[i].ID, got.ProposedActions[i].ID)
	}
	assert.True(t, got.TimeWindow.Start.Equal(p.TimeWindow.Start))
}

func TestPlanStoreErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewPlanStore(dir)

	_, err := store.Load("2026-01-01")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = store.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPlanID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "future.json"), []byte(`{"schema_version": 2}`), 0644))
	_, err = store.Load("future")
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

type fakeCreator struct {
	calls []Action
	fail  map[string]bool
}

func (f *fakeCreator) CreateBlock(_ context.Context, _ string, a Action) (string, error) {
	if f.fail[a.ID] {
		return "", errors.New("calendar down")
	}
	f.calls = append(f.calls, a)
	return "evt-" + a.ID, nil
}

func createBlockIDs(p Plan) []string {
	var ids []string
	for _, a := range ofType(p.ProposedActions, ActionCreateBlock) {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestApplyGates(t *testing.T) {
	p := samplePlan(t)
	ctx := context.Background()

	_, err := Apply(ctx, &p, []string{"x"}, ApplyOptions{DryRun: false}, &fakeCreator{})
	assert.ErrorIs(t, err, ErrConfirmRequired)

	_, err = Apply(ctx, &p, nil, ApplyOptions{DryRun: true}, nil)
	assert.ErrorIs(t, err, ErrNoActionIDs)

	mock := p
	mock.DataSource = SourceMock
	res, err := Apply(ctx, &mock, []string{"x"}, ApplyOptions{DryRun: true}, nil)
	assert.ErrorIs(t, err, ErrNotMCPData)
	assert.Equal(t, []string{"x"}, res.SkippedActionIDs)

	noWindow := p
	noWindow.TimeWindow = TimeWindow{}
	_, err = Apply(ctx, &noWindow, []string{"x"}, ApplyOptions{DryRun: true}, nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestApplyValidation(t *testing.T) {
	p := samplePlan(t)
	blocks := createBlockIDs(p)
	require.Len(t, blocks, 2)
	shorten := ofType(p.ProposedActions, ActionSuggestShorten)[0].ID

	outside := Action{ID: "act-outside", Type: ActionCreateBlock, Start: timePtr(at(20, 9, 0)), End: timePtr(at(20, 9, 20))}
	noTimes := Action{ID: "act-notimes", Type: ActionCreateBlock}
	p.ProposedActions = append(p.ProposedActions, outside, noTimes)

	ids := []string{blocks[0], "act-missing", shorten, outside.ID, noTimes.ID, blocks[1]}

	t.Run("dry run", func(t *testing.T) {
		res, err := Apply(context.Background(), &p, ids, ApplyOptions{DryRun: true}, nil)
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.Equal(t, []string{"dry-run:" + blocks[0], "dry-run:" + blocks[1]}, res.CreatedEventIDs)
		assert.Equal(t, 2, res.CreatedCount)
		assert.Equal(t, []string{"act-missing", shorten, outside.ID, noTimes.ID}, res.SkippedActionIDs)
		assert.Equal(t, []string{
			"Action act-missing not found in plan.",
			"Action " + shorten + " is not create_block.",
			"Action act-outside outside plan time window.",
			"Action act-notimes missing start/end.",
		}, res.Errors())
	})

	t.Run("execute collects failures", func(t *testing.T) {
		creator := &fakeCreator{fail: map[string]bool{blocks[1]: true}}
		res, err := Apply(context.Background(), &p, []string{blocks[0], blocks[1]}, ApplyOptions{Confirm: true}, creator)
		require.NoError(t, err)
		assert.Equal(t, []string{"evt-" + blocks[0]}, res.CreatedEventIDs)
		assert.Equal(t, []string{blocks[1]}, res.SkippedActionIDs)
		assert.Contains(t, res.Errors()[0], "failed: calendar down")
		require.Len(t, creator.calls, 1)
	})
}

type fakeSource struct {
	items []map[string]any
	err   error
}

func (f fakeSource) ListEvents(context.Context, string, time.Time, time.Time) ([]map[string]any, error) {
	return f.items, f.err
}

func TestServicePlanFallsBackToMock(t *testing.T) {
	svc := &Service{
		Source: fakeSource{err: errors.New("boom")},
		Plans:  NewPlanStore(t.TempDir()),
		Now:    func() time.Time { return at(2, 7, 0) },
	}
	out, err := svc.Plan(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, SourceMock, out.Plan.DataSource)
	assert.Equal(t, "primary", out.Plan.CalendarID)
	require.Len(t, out.Plan.Errors, 1)
	assert.Contains(t, out.Plan.Errors[0], "boom")
	require.Len(t, out.Plan.ProposedActions, 1)
	assert.Equal(t, "Prep: Medical appointment", out.Plan.ProposedActions[0].Title)

	env := PlanEnvelope(out, true)
	assert.Contains(t, env.Summary, "MCP unavailable; using mock events.")
	assert.NotEmpty(t, env.Errors)

	// mock plans can never be applied
	applied := svc.Apply(context.Background(), out.Plan.PlanID, []string{out.Plan.ProposedActions[0].ID}, ApplyOptions{DryRun: true})
	assert.Equal(t, "Plan generated without MCP data; apply blocked.", applied.Summary)
}

func TestServicePlanAndApply(t *testing.T) {
	creator := &fakeCreator{}
	svc := &Service{
		Source: fakeSource{items: []map[string]any{
			{"id": "doc", "title": "Physio", "start": "2026-03-03T10:00:00Z", "end": "2026-03-03T11:00:00Z"},
			{"id": "hol", "title": "Holiday", "start": map[string]any{"date": "2026-03-04"}, "end": map[string]any{"date": "2026-03-05"}},
		}},
		Creator:    creator,
		Plans:      NewPlanStore(t.TempDir()),
		CalendarID: "me@example.com",
		Now:        func() time.Time { return at(2, 7, 0) },
	}
	ctx := context.Background()
	out, err := svc.Plan(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal(t, SourceMCP, out.Plan.DataSource)
	assert.Equal(t, 2, out.RawCount)
	assert.Equal(t, 1, out.Stats.AllDayExcluded)
	require.Len(t, out.Plan.ProposedActions, 1)
	id := out.Plan.ProposedActions[0].ID

	env := svc.Apply(ctx, out.Plan.PlanID, []string{id}, ApplyOptions{})
	assert.Equal(t, "Confirmation required before applying changes.", env.Summary)
	assert.Empty(t, creator.calls)

	env = svc.Apply(ctx, out.Plan.PlanID, nil, ApplyOptions{DryRun: true})
	assert.Equal(t, "No action IDs provided.", env.Summary)

	env = svc.Apply(ctx, "2020-01-01", []string{id}, ApplyOptions{DryRun: true})
	assert.Equal(t, "Plan file not found.", env.Summary)

	env = svc.Apply(ctx, out.Plan.PlanID, []string{id}, ApplyOptions{DryRun: true})
	assert.Equal(t, "Dry-run 1 action(s); 0 skipped.", env.Summary)
	assert.Empty(t, creator.calls)

	env = svc.Apply(ctx, out.Plan.PlanID, []string{id}, ApplyOptions{Confirm: true})
	assert.Equal(t, "Applied 1 action(s); 0 skipped.", env.Summary)
	assert.True(t, env.OK())
	require.Len(t, creator.calls, 1)
	assert.Equal(t, "Prep: Physio", creator.calls[0].Title)
}

type fakeInvoker struct {
	tool string
	args map[string]any
	resp map[string]any
}

func (f *fakeInvoker) Call(_ context.Context, tool string, args map[string]any) (map[string]any, error) {
	f.tool, f.args = tool, args
	return f.resp, nil
}

func TestInvokerAdapters(t *testing.T) {
	inv := &fakeInvoker{resp: map[string]any{
		"result": map[string]any{"items": []any{
			map[string]any{"id": "1", "title": "Sync"},
			"garbage",
		}},
		"errors": []any{},
	}}
	items, err := InvokerSource{Invoker: inv}.ListEvents(context.Background(), "primary", at(2, 0, 0), at(3, 0, 0))
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "calendar_list_events", inv.tool)
	assert.Equal(t, "2026-03-02T00:00:00Z", inv.args["time_min"])

	inv.resp = map[string]any{"result": map[string]any{"id": "evt-9"}, "errors": []any{}}
	a := Action{Title: "Prep", Start: timePtr(at(2, 9, 0)), End: timePtr(at(2, 9, 15))}
	id, err := InvokerCreator{Invoker: inv}.CreateBlock(context.Background(), "primary", a)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", id)
	assert.Equal(t, BlockDescription, inv.args["description"])

	inv.resp = map[string]any{"errors": []any{"nope"}}
	_, err = InvokerCreator{Invoker: inv}.CreateBlock(context.Background(), "primary", a)
	assert.Error(t, err)
}

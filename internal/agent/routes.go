package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/vthunder/toolbox/internal/backlog"
	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/router"
	"github.com/vthunder/toolbox/internal/scoring"
	"github.com/vthunder/toolbox/internal/state"
	"github.com/vthunder/toolbox/internal/types"
)

const outputLimit = 2000

// CommandOutput is the captured result of a local command
type CommandOutput struct {
	Cmd        string `json:"cmd"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

func (r *run) list() error {
	payload, err := r.call(backlog.ToolLatest, map[string]any{
		"limit":    listLimit,
		"statuses": []string{string(types.StatusNew), string(types.StatusTriaging)},
	})
	if err != nil {
		return err
	}
	r.result.Output = payload
	return nil
}

func (r *run) search(p router.Params) error {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		query = r.request
	}
	payload, err := r.call(backlog.ToolSearch, map[string]any{"query": query, "limit": searchLimit})
	if err != nil {
		return err
	}
	r.result.Output = payload

	raw, _ := backlog.ParseItems(payload)
	cands := make([]types.Candidate, 0, len(raw))
	for _, it := range raw {
		cands = append(cands, backlog.NormalizeItem(it, r.a.now()))
	}
	r.result.Ranked = []RankedCandidate{}
	for _, rk := range scoring.RankByRelevance(query, cands) {
		r.result.Ranked = append(r.result.Ranked, RankedCandidate{
			ID:    rk.Candidate.ID,
			Title: rk.Candidate.Title,
			URL:   rk.Candidate.URL,
			Score: rk.Score.Total,
		})
	}
	return nil
}

// pick fetches open tool requests and lets the decider choose one
func (r *run) pick() (*Triage, error) {
	query := ""
	if !scoring.IsGenericRequest(r.request) {
		query = router.ExtractSearchQuery(r.request)
	}
	fetched := r.fetcher().Fetch(r.ctx, backlog.DefaultLimit, query)
	r.errs = append(r.errs, fetched.Errors...)

	decider := r.a.Decider
	if decider == nil {
		decider = scoring.HeuristicDecider{}
	}
	decision, err := decider.Decide(r.ctx, r.request, fetched.Candidates)
	if err != nil {
		logging.Warn("agent", "decider failed, using heuristics: %v", err)
		r.errs = append(r.errs, "decider: "+err.Error())
		decision = scoring.Decide(r.request, fetched.Candidates)
	}

	t := &Triage{
		CandidateCount: len(fetched.Candidates),
		Decision:       decision,
		Summary:        decision.Summary(),
	}
	if c, ok := decision.Selected(fetched.Candidates); ok {
		t.Selected = &c
	}
	r.result.Triage = t
	return t, nil
}

func (r *run) triage() error {
	t, err := r.pick()
	if err != nil {
		return err
	}
	if r.dryRun {
		r.next = append(r.next, "Re-run with --execute to write spec/plan files.")
		return nil
	}
	if t.Selected == nil {
		return routeErrorf("no triage selection available for spec/plan files")
	}
	if r.a.Scaffolder == nil {
		return routeErrorf("no scaffold directories configured")
	}
	docs, err := r.a.Scaffolder.WriteDocs(t.Selected.Title)
	r.result.FilesCreated = append(r.result.FilesCreated, docs.FilesCreated...)
	return err
}

func (r *run) scaffold() error {
	t, err := r.pick()
	if err != nil {
		return err
	}
	if t.Selected == nil || strings.TrimSpace(t.Selected.Title) == "" {
		return routeErrorf("no triage selection available for scaffolding")
	}
	title := t.Selected.Title
	r.result.ScaffoldSource = title
	if r.a.Scaffolder == nil {
		return routeErrorf("no scaffold directories configured")
	}

	if r.dryRun {
		preview, err := r.a.Scaffolder.Plan(title)
		r.result.Scaffold = &preview
		r.next = append(r.next, "Re-run with --execute to scaffold the tool.")
		return err
	}
	res, err := r.a.Scaffolder.Scaffold(title)
	r.result.Scaffold = &res
	r.result.FilesCreated = append(r.result.FilesCreated, res.FilesCreated...)
	if err == nil && r.a.Activity != nil {
		r.a.Activity.LogMutation("Scaffolded "+res.ToolName, "", map[string]any{"files": res.FilesCreated})
	}
	return err
}

func (r *run) deploy() error {
	cmdline := strings.TrimSpace(r.a.DeployCommand)
	if cmdline == "" {
		return routeErrorf("no deploy command configured; set DEPLOY_COMMAND")
	}
	r.result.Commands = append(r.result.Commands, cmdline)
	if r.dryRun {
		r.next = append(r.next, "Re-run with --execute to deploy.")
		return nil
	}
	out := runCommand(r, strings.Fields(cmdline))
	r.result.Deploy = &out
	if out.ReturnCode != 0 {
		msg := out.Stderr
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", out.ReturnCode)
		}
		return fmt.Errorf("deploy failed: %s", msg)
	}
	if r.a.Activity != nil {
		r.a.Activity.LogMutation("Deployed", "", map[string]any{"cmd": cmdline})
	}
	return nil
}

func runCommand(r *run, argv []string) CommandOutput {
	out := CommandOutput{Cmd: strings.Join(argv, " ")}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(r.ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.ReturnCode = exitErr.ExitCode()
	case err != nil:
		out.ReturnCode = -1
		stderr.WriteString(err.Error())
	}
	out.Stdout = truncate(strings.TrimSpace(stdout.String()))
	out.Stderr = truncate(strings.TrimSpace(stderr.String()))
	return out
}

func truncate(s string) string {
	if len(s) <= outputLimit {
		return s
	}
	return s[:outputLimit] + "\n...<truncated>"
}

func (r *run) editNotion(p router.Params) error {
	pageID := p.PageID
	updates := types.PageUpdates{Properties: map[string]any{}}
	if p.Updates != nil {
		updates = *p.Updates
	}

	if pageID == "" {
		query := strings.TrimSpace(p.Query)
		if query == "" {
			return routeErrorf("no Notion target found; provide a page title or URL")
		}
		search, err := r.call("notion_search", map[string]any{"query": query, "limit": editLimit})
		if err != nil {
			return err
		}
		items := resultItems(search)
		switch {
		case len(items) == 0:
			r.result.Candidates = []any{}
			r.next = append(r.next, "No matches. Try quoting the page title or paste the URL.")
		case len(items) > 1:
			r.result.Candidates = items
			r.next = append(r.next, "Multiple matches found. Re-run with a page URL or id.")
		default:
			if item, ok := items[0].(map[string]any); ok {
				pageID, _ = item["id"].(string)
			}
		}
	}

	r.result.IntentNotes = p.Notes
	if pageID == "" {
		return nil
	}

	if len(p.Notes) > 0 && r.dryRun {
		page, err := r.call("notion_get_page", map[string]any{"page_id": pageID})
		if err != nil {
			return err
		}
		r.result.Preview = page
		r.next = append(r.next, "Specify a target field (title/status/description/tag) to update.")
		return nil
	}
	if updates.Empty() {
		return routeErrorf("no update intent detected; specify title/status/description/tag")
	}

	update, err := r.call("notion_update_page", map[string]any{
		"page_id": pageID,
		"updates": updatesArg(updates),
		"dry_run": r.dryRun,
	})
	if err != nil {
		return err
	}
	r.result.NotionUpdate = update
	if r.dryRun {
		r.next = append(r.next, "Re-run with --execute to apply the update.")
	}
	return nil
}

func (r *run) callTool(p router.Params) error {
	tool := p.Tool
	if tool == "" {
		return routeErrorf("missing tool name for call route")
	}
	args, err := parseCallArgs(p.Args)
	if err != nil {
		r.result.Commands = append(r.result.Commands, tool+" "+p.Args)
		return err
	}
	if router.IsMutatingTool(tool) && r.dryRun {
		r.result.Commands = append(r.result.Commands, commandLine(tool, args))
		r.next = append(r.next, "Re-run with --execute to call mutating tool.")
		return nil
	}
	payload, err := r.call(tool, args)
	if err != nil {
		return err
	}
	r.result.Output = payload
	return nil
}

// parseCallArgs accepts relaxed JSON (comments, trailing commas)
func parseCallArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	std, err := hujson.Standardize([]byte(raw))
	if err != nil {
		return nil, routeErrorf("invalid JSON args for call: %v", err)
	}
	var args map[string]any
	if err := json.Unmarshal(std, &args); err != nil {
		return nil, routeErrorf("invalid JSON args for call: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (r *run) prefs(p router.Params) error {
	if r.a.Prefs == nil {
		return routeErrorf("no preferences file configured")
	}
	change := router.PrefsChange{}
	if p.Prefs != nil {
		change = *p.Prefs
	}
	if change.InvalidThreshold != "" {
		r.next = append(r.next, `Give the threshold as a fraction or percent, e.g. "auto apply threshold 0.95" or "at 95%"`)
		return routeErrorf("threshold %s is out of range", change.InvalidThreshold)
	}
	if change.Empty() {
		prefs, err := r.a.Prefs.Load()
		if err != nil {
			return err
		}
		r.result.Prefs = &prefs
		r.next = append(r.next, `Change with: `+r.a.cli()+` "enable auto apply at 95%"`)
		return nil
	}

	prefs, err := r.a.Prefs.Update(func(pr *state.Prefs) error {
		if change.AutoApplyEnabled != nil {
			pr.AutoApplyEnabled = *change.AutoApplyEnabled
		}
		if change.AutoApplyThreshold != nil {
			pr.AutoApplyThreshold = *change.AutoApplyThreshold
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.result.Prefs = &prefs
	r.next = append(r.next, fmt.Sprintf("Auto-apply is %s at threshold %.2f.", onOff(prefs.AutoApplyEnabled), prefs.AutoApplyThreshold))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

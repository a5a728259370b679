package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vthunder/toolbox/internal/router"
	"github.com/vthunder/toolbox/internal/scoring"
	"github.com/vthunder/toolbox/internal/state"
	"github.com/vthunder/toolbox/internal/types"
)

const correctionPoolLimit = 10

// CorrectionOutcome describes a tool request correction
type CorrectionOutcome struct {
	PageID       string             `json:"page_id"`
	Title        string             `json:"title"`
	Old          string             `json:"old"`
	New          string             `json:"new"`
	Updates      types.PageUpdates  `json:"updates"`
	Confidence   scoring.Confidence `json:"confidence"`
	PreviewSaved bool               `json:"preview_saved"`
	Applied      bool               `json:"applied"`
	AutoApplied  bool               `json:"auto_applied"`
	Forced       bool               `json:"forced,omitempty"`
	AgeHours     float64            `json:"age_hours,omitempty"`
}

// CorrectedTitle replaces old with replacement in title, ignoring case.
// A title that does not contain old is replaced outright.
func CorrectedTitle(title string, c router.Correction) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(c.Old))
	if c.Old == "" || !re.MatchString(title) {
		return c.New
	}
	return re.ReplaceAllLiteralString(title, c.New)
}

// resolveTarget finds the tool request a correction refers to. A nil
// candidate with a nil error means the choice was handed back to the caller.
func (r *run) resolveTarget(p router.Params, c router.Correction) (*types.Candidate, []types.Candidate, error) {
	if p.PageID != "" {
		page, err := r.call("notion_get_page", map[string]any{"page_id": p.PageID})
		if err != nil {
			return nil, nil, err
		}
		chosen := types.Candidate{ID: p.PageID}
		if pg, ok := resultMap(page)["page"].(map[string]any); ok {
			chosen.Title, _ = pg["title"].(string)
			chosen.URL, _ = pg["url"].(string)
		}
		return &chosen, []types.Candidate{chosen}, nil
	}

	fetched := r.fetcher().Fetch(r.ctx, correctionPoolLimit, c.Old)
	r.errs = append(r.errs, fetched.Errors...)
	pool := fetched.Candidates

	old := strings.ToLower(c.Old)
	var matches []types.Candidate
	for _, cand := range pool {
		if strings.Contains(strings.ToLower(cand.Title), old) {
			matches = append(matches, cand)
		}
	}
	switch len(matches) {
	case 1:
		return &matches[0], pool, nil
	case 0:
		ranked := scoring.RankByRelevance(c.Old, pool)
		if len(ranked) == 0 || ranked[0].Score.Total <= 0 {
			r.next = append(r.next, "Quote the phrase as it appears in the title, or include the page URL.")
			return nil, pool, routeErrorf("no tool request matched '%s'", c.Old)
		}
		chosen := ranked[0].Candidate
		return &chosen, pool, nil
	default:
		r.result.Candidates = matches
		r.next = append(r.next, "Multiple matches found. Re-run with a page URL or id.")
		return nil, pool, nil
	}
}

func (r *run) correct(p router.Params) error {
	if p.Correction == nil {
		r.next = append(r.next, `Quote both phrases, e.g. fix tool request 'old phrase' to 'new phrase'.`)
		return routeErrorf("no correction pair found; quote the old and new phrases")
	}
	c := *p.Correction

	chosen, pool, err := r.resolveTarget(p, c)
	if err != nil || chosen == nil {
		return err
	}

	updates := types.PageUpdates{
		Title:      CorrectedTitle(chosen.Title, c),
		Properties: map[string]any{},
	}
	conf := scoring.CorrectionConfidence(scoring.CorrectionInput{
		Request:   r.request,
		Chosen:    *chosen,
		Pool:      pool,
		OldPhrase: c.Old,
	})
	out := &CorrectionOutcome{
		PageID:     chosen.ID,
		Title:      chosen.Title,
		Old:        c.Old,
		New:        c.New,
		Updates:    updates,
		Confidence: conf,
	}
	r.result.Correction = out

	prefs := state.DefaultPrefs()
	if r.a.Prefs != nil {
		if prefs, err = r.a.Prefs.Load(); err != nil {
			return err
		}
	}
	auto := prefs.Policy().Allows(r.opts.AutoApply, scoring.ScopeNotionCorrections, conf.Score)
	if auto && r.opts.ExplicitDryRun {
		auto = false
		r.next = append(r.next, "Auto-apply skipped because --dry-run was given.")
	}
	direct := !r.dryRun && (r.opts.Force || conf.Score >= scoring.SuggestApplyThreshold)

	if auto || direct {
		out.AutoApplied = auto && !direct
		out.Forced = direct && r.opts.Force && conf.Score < scoring.SuggestApplyThreshold
		return r.applyUpdates(out)
	}

	preview, err := r.call("notion_update_page", map[string]any{
		"page_id": chosen.ID,
		"updates": updatesArg(updates),
		"dry_run": true,
	})
	if err != nil {
		return err
	}
	r.result.NotionUpdate = preview

	if r.a.Previews != nil {
		err := r.a.Previews.Save(state.Preview{
			Type:       state.PreviewTypeNotionCorrection,
			PageID:     chosen.ID,
			Updates:    updates,
			Timestamp:  r.a.now().UTC(),
			Confidence: conf.Score,
		})
		if err != nil {
			return err
		}
		out.PreviewSaved = true
	}

	if conf.Score >= scoring.SuggestApplyThreshold {
		r.next = append(r.next, fmt.Sprintf(`Confidence %.2f. Apply with: %s "apply last correction"`, conf.Score, r.a.cli()))
	} else {
		r.next = append(r.next, fmt.Sprintf(`Confidence %.2f is low; review the preview, then: %s "apply last correction" --force`, conf.Score, r.a.cli()))
		if !r.dryRun {
			r.next = append(r.next, "Re-run with --execute --force to apply directly.")
		}
	}
	return nil
}

// applyUpdates writes the correction and reports whether the tool accepted it
func (r *run) applyUpdates(out *CorrectionOutcome) error {
	errsBefore := len(r.errs)
	update, err := r.call("notion_update_page", map[string]any{
		"page_id": out.PageID,
		"updates": updatesArg(out.Updates),
		"dry_run": false,
	})
	if err != nil {
		return err
	}
	r.result.NotionUpdate = update
	r.dryRun = false
	if len(r.errs) > errsBefore {
		return nil
	}
	out.Applied = true
	if r.a.Activity != nil {
		r.a.Activity.LogMutation("Corrected tool request "+out.PageID, "notion_update_page", map[string]any{
			"page_id":      out.PageID,
			"title":        out.Updates.Title,
			"confidence":   out.Confidence.Score,
			"auto_applied": out.AutoApplied,
		})
	}
	return nil
}

func (r *run) applyLast() error {
	if r.a.Previews == nil {
		return routeErrorf("no preview store configured")
	}
	p, err := r.a.Previews.Load()
	if errors.Is(err, state.ErrNoPreview) {
		r.next = append(r.next, `Run a correction first, e.g. `+r.a.cli()+` "fix tool request 'old' to 'new'"`)
		return routeErrorf("no saved preview to apply")
	}
	if err != nil {
		return err
	}

	now := r.a.now()
	out := &CorrectionOutcome{
		PageID:     p.PageID,
		Updates:    p.Updates,
		Confidence: scoring.Confidence{Score: p.Confidence, Signals: []string{}},
		Forced:     r.opts.Force,
		AgeHours:   roundHours(p.Age(now).Hours()),
	}
	r.result.Correction = out

	if p.Type != state.PreviewTypeNotionCorrection {
		return routeErrorf("saved preview has unsupported type %q", p.Type)
	}
	if !p.Fresh(now, state.PreviewTTL) && !r.opts.Force {
		r.next = append(r.next, "Re-run with --force to apply it anyway, or redo the correction.")
		return routeErrorf("saved preview is %.1f hours old (limit %.0f)", out.AgeHours, state.PreviewTTL.Hours())
	}
	if p.Confidence < scoring.SuggestApplyThreshold && !r.opts.Force {
		r.next = append(r.next, "Re-run with --force to apply a low-confidence correction.")
		return routeErrorf("preview confidence %.2f is below %.2f", p.Confidence, scoring.SuggestApplyThreshold)
	}

	if r.opts.ExplicitDryRun {
		preview, err := r.call("notion_update_page", map[string]any{
			"page_id": p.PageID,
			"updates": updatesArg(p.Updates),
			"dry_run": true,
		})
		if err != nil {
			return err
		}
		r.result.NotionUpdate = preview
		r.next = append(r.next, "Re-run without --dry-run to apply the saved preview.")
		return nil
	}

	if err := r.applyUpdates(out); err != nil {
		return err
	}
	if out.Applied {
		return r.a.Previews.Clear()
	}
	return nil
}

func roundHours(h float64) float64 {
	return float64(int(h*10+0.5)) / 10
}

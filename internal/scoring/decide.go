package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/vthunder/toolbox/internal/types"
)

const maxRanked = 5

// InputsAndCapture describes what a v0 tool takes from the user
type InputsAndCapture struct {
	WhatUserProvides []string `json:"what_user_provides_v0"`
	SupportedInputs  []string `json:"supported_inputs"`
	UnsupportedYet   []string `json:"unsupported_yet"`
}

// Decision is the outcome of picking one backlog item for a request
type Decision struct {
	SelectedID       string           `json:"selected_id"`
	Confidence       float64          `json:"confidence"`
	Why              []string         `json:"why"`
	Questions        []string         `json:"questions"`
	PlanOutline      []string         `json:"plan_outline"`
	InputsAndCapture InputsAndCapture `json:"inputs_and_capture"`
	Ranked           []RankedEntry    `json:"ranked"`
	Provider         string           `json:"provider"`
}

// Selected returns the chosen candidate, if any
func (d Decision) Selected(cands []types.Candidate) (types.Candidate, bool) {
	for _, c := range cands {
		if c.ID == d.SelectedID && c.ID != "" {
			return c, true
		}
	}
	return types.Candidate{}, false
}

// Decider picks a backlog item for a request
type Decider interface {
	Decide(ctx context.Context, request string, cands []types.Candidate) (Decision, error)
}

// HeuristicDecider decides without any external provider
type HeuristicDecider struct{}

// Decide implements Decider
func (HeuristicDecider) Decide(_ context.Context, request string, cands []types.Candidate) (Decision, error) {
	return Decide(request, cands), nil
}

// Decide ranks by backlog heuristics for generic asks, otherwise by relevance
func Decide(request string, cands []types.Candidate) Decision {
	if IsGenericRequest(request) {
		return decideGeneric(cands)
	}
	return decideByRelevance(request, cands)
}

func decideGeneric(cands []types.Candidate) Decision {
	ranked := RankBacklog(cands)
	d := Decision{
		Why: []string{"Selected using status/impact/frequency/recency scoring."},
		Questions: []string{
			"What outcome matters most for this tool request?",
			"Any constraints for v0 (no automation, no OCR, etc.)?",
			"Where should outputs be stored (Notion DB name or ID)?",
		},
		PlanOutline: []string{
			"Confirm target database + required properties.",
			"Define v0 input capture flow.",
			"Implement dry-run preview with explicit apply step.",
			"Add examples and basic validation.",
		},
		InputsAndCapture: InputsAndCapture{
			WhatUserProvides: []string{"TBD (confirm preferred input)"},
			SupportedInputs:  []string{"TBD"},
			UnsupportedYet:   []string{"TBD"},
		},
		Provider: "heuristic",
	}
	d.SelectedID, d.Confidence = topOf(ranked)
	d.Ranked = truncateRanked(ranked)
	return d
}

func decideByRelevance(request string, cands []types.Candidate) Decision {
	scored := RankByRelevance(request, cands)
	ranked := make([]RankedEntry, len(scored))
	for i, r := range scored {
		ranked[i] = RankedEntry{
			ID:        r.Candidate.ID,
			Title:     r.Candidate.Title,
			URL:       r.Candidate.URL,
			Score:     r.Score.Total,
			Breakdown: r.Score.Breakdown,
			TopTokens: r.Score.Matches.TopTokens,
		}
	}

	var why []string
	if len(scored) > 0 {
		b := scored[0].Score.Breakdown
		for _, part := range []struct {
			label string
			value float64
		}{
			{"title", b.Title},
			{"description", b.Description},
			{"desired outcome", b.DesiredOutcome},
			{"domain", b.Domain},
			{"bonus", b.Bonus},
		} {
			if part.value != 0 {
				why = append(why, fmt.Sprintf("%s overlap contributes %.2f.", part.label, part.value))
			}
		}
		why = append(why, b.Bonuses...)
	}
	if len(why) > maxRanked {
		why = why[:maxRanked]
	}
	if len(why) == 0 {
		why = []string{"Heuristic match based on token overlap."}
	}

	d := Decision{
		Why: why,
		Questions: []string{
			"What input format should v0 support (text paste, list, or photo upload later)?",
			"Where should the resulting items be stored (Notion DB name or ID)?",
			"Any constraints on automation vs manual review?",
		},
		PlanOutline: []string{
			"Confirm target database + required properties.",
			"Define v0 input capture flow (manual text paste or structured list).",
			"Implement dry-run preview with explicit apply step.",
			"Add examples and basic validation.",
		},
		InputsAndCapture: InputsAndCapture{
			WhatUserProvides: []string{"Receipt text pasted from phone/email", "Optional store and purchase date"},
			SupportedInputs:  []string{"plain text", "manual list"},
			UnsupportedYet:   []string{"photo OCR", "image upload"},
		},
		Provider: "heuristic",
	}
	d.SelectedID, d.Confidence = topOf(ranked)
	d.Ranked = truncateRanked(ranked)
	return d
}

func topOf(ranked []RankedEntry) (string, float64) {
	if len(ranked) == 0 {
		return "", 0
	}
	second := 0.0
	if len(ranked) > 1 {
		second = ranked[1].Score
	}
	return ranked[0].ID, PickConfidence(ranked[0].Score, second)
}

func truncateRanked(ranked []RankedEntry) []RankedEntry {
	if len(ranked) > maxRanked {
		ranked = ranked[:maxRanked]
	}
	if ranked == nil {
		ranked = []RankedEntry{}
	}
	return ranked
}

// Summary renders a decision as one line for logs and envelopes
func (d Decision) Summary() string {
	if d.SelectedID == "" {
		return "No candidate selected."
	}
	title := d.SelectedID
	if len(d.Ranked) > 0 && d.Ranked[0].ID == d.SelectedID && d.Ranked[0].Title != "" {
		title = d.Ranked[0].Title
	}
	return fmt.Sprintf("Selected %q (confidence %.2f, %s).", strings.TrimSpace(title), d.Confidence, d.Provider)
}

package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

const (
	weightQuotedPhrase = 0.45
	weightRecency      = 0.20
	weightNegation     = 0.20
	weightKeywords     = 0.15

	minSharedKeywords = 2

	// Below this, applying a saved correction needs --force.
	SuggestApplyThreshold = 0.6
	// DefaultAutoApplyThreshold is the preference default for unattended apply.
	DefaultAutoApplyThreshold = 0.92
	// ScopeNotionCorrections is the auto-apply scope for tool request corrections.
	ScopeNotionCorrections = "notion_corrections"
)

var negationRe = regexp.MustCompile(`(?i)\bnot\s+.+?\s+but\s+|\binstead\s+of\b|\bmisinterpreted\b`)

// CorrectionInput is what the confidence rules look at
type CorrectionInput struct {
	Request   string
	Chosen    types.Candidate
	Pool      []types.Candidate // caller's ordering, most relevant first
	OldPhrase string
}

// Confidence is a [0,1] estimate plus the names of rules that fired
type Confidence struct {
	Score   float64  `json:"score"`
	Signals []string `json:"signals"`
}

type confidenceRule struct {
	name   string
	weight float64
	check  func(in CorrectionInput) bool
}

var confidenceRules = []confidenceRule{
	{"quoted_phrase_in_title", weightQuotedPhrase, func(in CorrectionInput) bool {
		old := strings.TrimSpace(in.OldPhrase)
		return old != "" && strings.Contains(strings.ToLower(in.Chosen.Title), strings.ToLower(old))
	}},
	// Positional only: rank in the caller's list, not created_time.
	{"recent_rank", weightRecency, func(in CorrectionInput) bool {
		for i, c := range in.Pool {
			if i > 1 {
				break
			}
			if c.ID != "" && c.ID == in.Chosen.ID {
				return true
			}
		}
		return false
	}},
	{"negation_phrasing", weightNegation, func(in CorrectionInput) bool {
		return negationRe.MatchString(in.Request)
	}},
	{"keyword_overlap", weightKeywords, func(in CorrectionInput) bool {
		shared := text.Intersect(text.Requests.Tokenize(in.Request), text.Requests.TokenSet(in.Chosen.Title))
		return len(shared) >= minSharedKeywords
	}},
}

// CorrectionConfidence sums the weights of the rules that fire, clamped to [0,1]
func CorrectionConfidence(in CorrectionInput) Confidence {
	c := Confidence{Signals: []string{}}
	for _, rule := range confidenceRules {
		if rule.check(in) {
			c.Score += rule.weight
			c.Signals = append(c.Signals, rule.name)
		}
	}
	c.Score = clamp01(c.Score)
	return c
}

func clamp01(v float64) float64 {
	// Round away float drift so four full signals land on exactly 1.
	v = math.Round(v*1e6) / 1e6
	return math.Min(math.Max(v, 0), 1)
}

// AutoApplyPolicy is the subset of preferences that gates unattended apply
type AutoApplyPolicy struct {
	Enabled   bool
	Threshold float64
	Scope     []string
}

// Allows reports whether a change in scope may be applied without confirmation
func (p AutoApplyPolicy) Allows(optedIn bool, scope string, confidence float64) bool {
	if !p.Enabled || !optedIn {
		return false
	}
	inScope := false
	for _, s := range p.Scope {
		if s == scope {
			inScope = true
			break
		}
	}
	return inScope && confidence >= p.Threshold
}

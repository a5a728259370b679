// Package scoring ranks backlog candidates against requests and estimates
// how confident an automatic selection is.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

const (
	exactPhraseBonus = 0.4
	keywordBonus     = 0.3
)

// Field is a scored candidate field
type Field string

const (
	FieldTitle          Field = "title"
	FieldDescription    Field = "description"
	FieldDesiredOutcome Field = "desired_outcome"
	FieldDomain         Field = "domain"
)

// Domain hits are the strongest signal, so domain weighs the most.
var fieldWeights = []struct {
	field  Field
	weight float64
}{
	{FieldTitle, 1.0},
	{FieldDescription, 2.0},
	{FieldDesiredOutcome, 3.0},
	{FieldDomain, 4.0},
}

type keywordRule struct {
	keyword string
	domains []string
}

// One rule per keyword, evaluated in order so bonus details are stable.
var keywordDomainRules = []keywordRule{
	{"receipt", []string{"inventory", "pantry"}},
	{"inventory", []string{"inventory", "pantry"}},
	{"pantry", []string{"pantry", "inventory"}},
	{"instagram", []string{"instagram", "recipes"}},
	{"recipe", []string{"recipes", "cooking"}},
	{"reel", []string{"instagram", "recipes"}},
	{"photo", []string{"capture", "pantry", "inventory"}},
	{"image", []string{"capture", "pantry", "inventory"}},
	{"ocr", []string{"capture", "knowledge"}},
	{"article", []string{"reading", "knowledge"}},
	{"articles", []string{"reading", "knowledge"}},
	{"knowledge", []string{"knowledge"}},
	{"items", []string{"inventory", "pantry"}},
	{"groceries", []string{"pantry", "inventory"}},
}

// Breakdown holds the weighted contribution of every field and bonus
type Breakdown struct {
	Title          float64  `json:"title_score"`
	Description    float64  `json:"description_score"`
	DesiredOutcome float64  `json:"desired_outcome_score"`
	Domain         float64  `json:"domain_score"`
	Bonus          float64  `json:"bonus_score"`
	Bonuses        []string `json:"bonuses"`
}

// Matches holds the query tokens found in each field
type Matches struct {
	Title          []string `json:"title"`
	Description    []string `json:"description"`
	DesiredOutcome []string `json:"desired_outcome"`
	Domain         []string `json:"domain"`
	TopTokens      []string `json:"top_tokens"`
}

// Score is the relevance of one candidate to a query. Total is unbounded.
type Score struct {
	Total     float64   `json:"total_score"`
	Breakdown Breakdown `json:"breakdown"`
	Matches   Matches   `json:"matches"`
}

func fieldText(c types.Candidate, f Field) string {
	switch f {
	case FieldTitle:
		return c.Title
	case FieldDescription:
		return c.Description
	case FieldDesiredOutcome:
		return c.DesiredOutcome
	case FieldDomain:
		return strings.Join(c.Domain, " ")
	}
	return ""
}

// ScoreCandidate computes weighted multi-field token overlap plus bonuses
func ScoreCandidate(query string, c types.Candidate) Score {
	queryTokens := text.Scoring.Tokenize(query)
	querySet := text.Set(queryTokens)

	s := Score{
		Breakdown: Breakdown{Bonuses: []string{}},
		Matches: Matches{
			Title:          []string{},
			Description:    []string{},
			DesiredOutcome: []string{},
			Domain:         []string{},
			TopTokens:      []string{},
		},
	}

	// an all-stopword query still earns the exact-phrase bonus below
	all := make(map[string]struct{})
	if len(querySet) > 0 {
		for _, fw := range fieldWeights {
			fieldSet := text.Scoring.TokenSet(fieldText(c, fw.field))
			var matched []string
			if len(fieldSet) > 0 {
				matched = text.Intersect(queryTokens, fieldSet)
			}
			sort.Strings(matched)
			if matched == nil {
				matched = []string{}
			}
			weighted := fw.weight * float64(len(matched)) / float64(len(querySet))

			switch fw.field {
			case FieldTitle:
				s.Breakdown.Title = weighted
				s.Matches.Title = matched
			case FieldDescription:
				s.Breakdown.Description = weighted
				s.Matches.Description = matched
			case FieldDesiredOutcome:
				s.Breakdown.DesiredOutcome = weighted
				s.Matches.DesiredOutcome = matched
			case FieldDomain:
				s.Breakdown.Domain = weighted
				s.Matches.Domain = matched
			}
			for _, tok := range matched {
				all[tok] = struct{}{}
			}
		}
	}

	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	if lowerQuery != "" {
		for _, f := range []Field{FieldTitle, FieldDescription, FieldDesiredOutcome} {
			if strings.Contains(strings.ToLower(fieldText(c, f)), lowerQuery) {
				s.Breakdown.Bonus += exactPhraseBonus
				s.Breakdown.Bonuses = append(s.Breakdown.Bonuses, "Exact phrase appears in title/description/outcome.")
				break
			}
		}
	}

	domainSet := text.Scoring.TokenSet(fieldText(c, FieldDomain))
	for _, rule := range keywordDomainRules {
		if _, ok := querySet[rule.keyword]; !ok || !intersects(rule.domains, domainSet) {
			continue
		}
		s.Breakdown.Bonus += keywordBonus
		s.Breakdown.Bonuses = append(s.Breakdown.Bonuses, fmt.Sprintf("Keyword '%s' matches domain tags.", rule.keyword))
	}

	top := make([]string, 0, len(all))
	for tok := range all {
		top = append(top, tok)
	}
	sort.Strings(top)
	s.Matches.TopTokens = top

	b := s.Breakdown
	s.Total = b.Title + b.Description + b.DesiredOutcome + b.Domain + b.Bonus
	return s
}

func intersects(list []string, set map[string]struct{}) bool {
	for _, v := range list {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Ranked pairs a candidate with its score
type Ranked struct {
	Candidate types.Candidate `json:"candidate"`
	Score     Score           `json:"score"`
}

// RankByRelevance scores every candidate and sorts descending. Ties keep input order.
func RankByRelevance(query string, cands []types.Candidate) []Ranked {
	ranked := make([]Ranked, len(cands))
	for i, c := range cands {
		ranked[i] = Ranked{Candidate: c, Score: ScoreCandidate(query, c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})
	return ranked
}

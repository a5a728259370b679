package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/vthunder/toolbox/internal/types"
)

// Phrases that mean "pick something good" rather than name a topic.
var genericTriggers = []string{
	"make a wish",
	"fulfil a wish",
	"fulfill a wish",
	"what should we build",
	"build next",
	"build something",
}

var impactScores = map[string]int{"high": 3, "medium": 2, "low": 1}

var frequencyScores = map[string]int{
	"many-times-per-day": 4,
	"daily":              3,
	"weekly":             2,
	"once":               1,
}

var bonusDomains = map[string]struct{}{
	"inventory": {}, "pantry": {}, "capture": {}, "recipe": {}, "recipes": {},
}

// IsGenericRequest reports whether text is an open-ended "what next" ask
func IsGenericRequest(s string) bool {
	lower := strings.ToLower(s)
	for _, trigger := range genericTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// HeuristicBreakdown holds the per-signal backlog scores
type HeuristicBreakdown struct {
	Status      int `json:"status_score"`
	Impact      int `json:"impact_score"`
	Frequency   int `json:"frequency_score"`
	Recency     int `json:"recency_score"`
	DomainBonus int `json:"domain_bonus"`
}

// Total sums every signal
func (b HeuristicBreakdown) Total() float64 {
	return float64(b.Status + b.Impact + b.Frequency + b.Recency + b.DomainBonus)
}

// HeuristicScore scores a candidate by status, impact, frequency, recency and domain
func HeuristicScore(c types.Candidate) HeuristicBreakdown {
	var b HeuristicBreakdown
	if types.Status(strings.ToLower(string(c.Status))).Open() {
		b.Status = 2
	}
	b.Impact = impactScores[strings.ToLower(c.Impact)]
	b.Frequency = frequencyScores[strings.ToLower(c.Frequency)]
	if c.RecencyDays != nil {
		switch d := *c.RecencyDays; {
		case d <= 7:
			b.Recency = 2
		case d <= 30:
			b.Recency = 1
		}
	}
	for _, d := range c.Domain {
		if _, ok := bonusDomains[strings.ToLower(strings.TrimSpace(d))]; ok {
			b.DomainBonus = 1
			break
		}
	}
	return b
}

// RankedEntry is one row of a decision's ranking
type RankedEntry struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	URL       string   `json:"url,omitempty"`
	Score     float64  `json:"score"`
	Breakdown any      `json:"breakdown"`
	TopTokens []string `json:"top_tokens"`
}

// RankBacklog ranks candidates by heuristic total. Ties keep input order.
func RankBacklog(cands []types.Candidate) []RankedEntry {
	ranked := make([]RankedEntry, len(cands))
	for i, c := range cands {
		b := HeuristicScore(c)
		ranked[i] = RankedEntry{
			ID:        c.ID,
			Title:     c.Title,
			URL:       c.URL,
			Score:     b.Total(),
			Breakdown: b,
			TopTokens: []string{},
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// PickConfidence is the normalized gap between the top two scores, in [0,1]
func PickConfidence(top, second float64) float64 {
	conf := math.Max(top-second, 0) / math.Max(top, 1)
	return math.Round(conf*100) / 100
}

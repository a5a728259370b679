package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/toolbox/internal/types"
)

func intPtr(v int) *int { return &v }

func pantryPool() []types.Candidate {
	return []types.Candidate{
		{ID: "a", Title: "Fix pantry OCR"},
		{ID: "b", Title: "Pantry inventory photo capture"},
		{ID: "c", Title: "Email triage helper"},
	}
}

func TestScoreCandidateEmptyQuery(t *testing.T) {
	c := types.Candidate{Title: "Pantry", Description: "anything", Domain: []string{"pantry"}}
	s := ScoreCandidate("", c)
	assert.Zero(t, s.Total)
	assert.Empty(t, s.Matches.Title)
	assert.Empty(t, s.Matches.Description)
	assert.Empty(t, s.Matches.DesiredOutcome)
	assert.Empty(t, s.Matches.Domain)
	assert.Empty(t, s.Matches.TopTokens)
	assert.Empty(t, s.Breakdown.Bonuses)
}

func TestScoreCandidateStopwordQueryKeepsPhraseBonus(t *testing.T) {
	s := ScoreCandidate("the", types.Candidate{Title: "the list"})
	assert.InDelta(t, exactPhraseBonus, s.Total, 1e-9)
	assert.Zero(t, s.Breakdown.Title)
	assert.Empty(t, s.Matches.TopTokens)
	assert.Equal(t, []string{"Exact phrase appears in title/description/outcome."}, s.Breakdown.Bonuses)

	assert.Zero(t, ScoreCandidate("the", types.Candidate{Title: "pantry"}).Total)
}

func TestScoreCandidateFieldWeights(t *testing.T) {
	c := types.Candidate{
		Title:          "pantry",
		Description:    "pantry photo",
		DesiredOutcome: "photo",
		Domain:         []string{"misc"},
	}
	s := ScoreCandidate("pantry photo", c)

	assert.InDelta(t, 0.5, s.Breakdown.Title, 1e-9)
	assert.InDelta(t, 2.0, s.Breakdown.Description, 1e-9)
	assert.InDelta(t, 1.5, s.Breakdown.DesiredOutcome, 1e-9)
	assert.Zero(t, s.Breakdown.Domain)
	// "pantry photo" appears verbatim in the description
	assert.InDelta(t, 0.4, s.Breakdown.Bonus, 1e-9)
	assert.InDelta(t, 4.4, s.Total, 1e-9)
	assert.Equal(t, []string{"pantry", "photo"}, s.Matches.TopTokens)
}

func TestScoreCandidateKeywordDomainBonus(t *testing.T) {
	c := types.Candidate{Title: "Scanner", Domain: []string{"Pantry", "capture"}}
	s := ScoreCandidate("receipt photo", c)

	// receipt -> {inventory,pantry} and photo -> {capture,...} both fire
	assert.InDelta(t, 0.6, s.Breakdown.Bonus, 1e-9)
	assert.Len(t, s.Breakdown.Bonuses, 2)

	none := ScoreCandidate("receipt photo", types.Candidate{Title: "Scanner", Domain: []string{"email"}})
	assert.Zero(t, none.Breakdown.Bonus)
}

func TestScoreCandidateMonotonic(t *testing.T) {
	query := "pantry photo capture"
	title := ScoreCandidate(query, types.Candidate{Title: "pantry"}).Breakdown.Title
	titleMore := ScoreCandidate(query, types.Candidate{Title: "pantry photo"}).Breakdown.Title
	assert.GreaterOrEqual(t, titleMore, title)

	desc := ScoreCandidate(query, types.Candidate{Description: "capture"}).Breakdown.Description
	descMore := ScoreCandidate(query, types.Candidate{Description: "capture pantry"}).Breakdown.Description
	assert.GreaterOrEqual(t, descMore, desc)
}

func TestEndToEndPantryPhoto(t *testing.T) {
	d := Decide("pantry photo", pantryPool())
	assert.Equal(t, "b", d.SelectedID)
	assert.Greater(t, d.Confidence, 0.0)
	assert.Equal(t, "heuristic", d.Provider)
	require.Len(t, d.Ranked, 3)
	assert.Equal(t, "Pantry inventory photo capture", d.Ranked[0].Title)
	assert.Equal(t, "Fix pantry OCR", d.Ranked[1].Title)
}

func TestIsGenericRequest(t *testing.T) {
	assert.True(t, IsGenericRequest("What should we build next?"))
	assert.True(t, IsGenericRequest("let's make a wish"))
	assert.False(t, IsGenericRequest("search pantry"))
}

func TestHeuristicScore(t *testing.T) {
	c := types.Candidate{
		Status:      types.StatusNew,
		Impact:      "High",
		Frequency:   "daily",
		RecencyDays: intPtr(3),
		Domain:      []string{"Recipes"},
	}
	want := HeuristicBreakdown{Status: 2, Impact: 3, Frequency: 3, Recency: 2, DomainBonus: 1}
	if diff := cmp.Diff(want, HeuristicScore(c)); diff != "" {
		t.Errorf("HeuristicScore mismatch (-want +got):\n%s", diff)
	}

	old := types.Candidate{Status: types.StatusShipped, Impact: "unknown", RecencyDays: intPtr(45)}
	assert.Zero(t, HeuristicScore(old).Total())

	month := types.Candidate{RecencyDays: intPtr(30)}
	assert.Equal(t, 1, HeuristicScore(month).Recency)

	noDate := types.Candidate{}
	assert.Equal(t, 0, HeuristicScore(noDate).Recency)
}

func TestRankBacklogStableTies(t *testing.T) {
	cands := []types.Candidate{
		{ID: "1", Impact: "low"},
		{ID: "2", Impact: "high"},
		{ID: "3", Impact: "low"},
		{ID: "4", Impact: "high"},
	}
	ranked := RankBacklog(cands)
	var ids []string
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"2", "4", "1", "3"}, ids)
}

func TestPickConfidence(t *testing.T) {
	tests := []struct {
		top, second, want float64
	}{
		{10, 5, 0.5},
		{0.5, 0.2, 0.3},
		{3, 3, 0},
		{0, 0, 0},
		{7, 0, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, PickConfidence(tt.top, tt.second), 1e-9)
	}
}

func TestDecideGenericUsesHeuristics(t *testing.T) {
	cands := []types.Candidate{
		{ID: "x", Title: "Low", Status: types.StatusShipped},
		{ID: "y", Title: "Hot", Status: types.StatusNew, Impact: "high", Frequency: "daily"},
	}
	d := Decide("what should we build next?", cands)
	assert.Equal(t, "y", d.SelectedID)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	assert.Equal(t, []string{"Selected using status/impact/frequency/recency scoring."}, d.Why)
}

func TestDecideEmptyPool(t *testing.T) {
	d := Decide("anything", nil)
	assert.Empty(t, d.SelectedID)
	assert.Zero(t, d.Confidence)
	assert.NotNil(t, d.Ranked)
}

func TestCorrectionConfidenceAllCombinations(t *testing.T) {
	chosen := types.Candidate{ID: "c1", Title: "Pantry photo capture"}
	others := []types.Candidate{{ID: "o1", Title: "One"}, {ID: "o2", Title: "Two"}}

	weights := []float64{weightQuotedPhrase, weightRecency, weightNegation, weightKeywords}

	for mask := 0; mask < 16; mask++ {
		quoted := mask&1 != 0
		recent := mask&2 != 0
		negation := mask&4 != 0
		keywords := mask&8 != 0

		in := CorrectionInput{Chosen: chosen, Request: "fix it", OldPhrase: "nowhere to be found"}
		if quoted {
			in.OldPhrase = "PHOTO capture"
		}
		if recent {
			in.Pool = append([]types.Candidate{chosen}, others...)
		} else {
			in.Pool = append(append([]types.Candidate{}, others...), chosen)
		}
		if keywords {
			in.Request += " pantry photo"
		}
		if negation {
			in.Request += " instead of the old one"
		}

		want := 0.0
		for i, w := range weights {
			if mask&(1<<i) != 0 {
				want += w
			}
		}
		got := CorrectionConfidence(in)
		assert.InDelta(t, want, got.Score, 1e-6, "mask %04b signals %v", mask, got.Signals)
		assert.GreaterOrEqual(t, got.Score, 0.0)
		assert.LessOrEqual(t, got.Score, 1.0)
	}
}

func TestCorrectionConfidenceNegationForms(t *testing.T) {
	for _, req := range []string{
		"it's not pantry but inventory",
		"use inventory instead of pantry",
		"you misinterpreted my tool request",
	} {
		got := CorrectionConfidence(CorrectionInput{Request: req})
		assert.Contains(t, got.Signals, "negation_phrasing", req)
	}
}

func TestAutoApplyPolicy(t *testing.T) {
	p := AutoApplyPolicy{Enabled: true, Threshold: DefaultAutoApplyThreshold, Scope: []string{ScopeNotionCorrections}}
	assert.True(t, p.Allows(true, ScopeNotionCorrections, 0.95))
	assert.False(t, p.Allows(false, ScopeNotionCorrections, 0.95), "caller must opt in")
	assert.False(t, p.Allows(true, ScopeNotionCorrections, 0.9), "below threshold")
	assert.False(t, p.Allows(true, "calendar", 1), "out of scope")

	p.Enabled = false
	assert.False(t, p.Allows(true, ScopeNotionCorrections, 1))
}

type fakeChat struct {
	content string
	err     error
}

func (f fakeChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func TestLLMDecider(t *testing.T) {
	ctx := context.Background()
	pool := pantryPool()

	t.Run("valid reply", func(t *testing.T) {
		d := &LLMDecider{client: fakeChat{content: `{"selected_id":"a","confidence":0.8,"why":["ocr matters"]}`}, model: "m"}
		got, err := d.Decide(ctx, "pantry photo", pool)
		require.NoError(t, err)
		assert.Equal(t, "a", got.SelectedID)
		assert.Equal(t, "openai:m", got.Provider)
		assert.Equal(t, []string{"ocr matters"}, got.Why)
	})

	t.Run("unknown id falls back", func(t *testing.T) {
		d := &LLMDecider{client: fakeChat{content: `{"selected_id":"zzz","confidence":0.9}`}, model: "m"}
		got, err := d.Decide(ctx, "pantry photo", pool)
		require.NoError(t, err)
		assert.Equal(t, "b", got.SelectedID)
		assert.Equal(t, "heuristic", got.Provider)
	})

	t.Run("provider error falls back", func(t *testing.T) {
		d := &LLMDecider{client: fakeChat{err: errors.New("down")}, model: "m"}
		got, err := d.Decide(ctx, "pantry photo", pool)
		require.NoError(t, err)
		assert.Equal(t, "b", got.SelectedID)
	})
}

package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/types"
)

const decisionPrompt = `You pick the single best backlog item (a requested personal tool) for the user's request.
Reply with JSON only: {"selected_id": "<id from the list>", "confidence": <0..1>, "why": ["short reason", ...]}.
Only choose ids that appear in the candidate list.`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMConfig configures the OpenAI-compatible decider
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LLMDecider asks a chat model to choose among the heuristic shortlist.
// Any provider failure falls back to the heuristic decision.
type LLMDecider struct {
	client chatClient
	model  string
}

// NewLLMDecider creates a decider backed by an OpenAI-compatible endpoint
func NewLLMDecider(cfg LLMConfig) *LLMDecider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMDecider{client: openai.NewClientWithConfig(oc), model: model}
}

type llmReply struct {
	SelectedID string   `json:"selected_id"`
	Confidence float64  `json:"confidence"`
	Why        []string `json:"why"`
}

// Decide implements Decider
func (d *LLMDecider) Decide(ctx context.Context, request string, cands []types.Candidate) (Decision, error) {
	base := Decide(request, cands)
	if len(cands) == 0 {
		return base, nil
	}

	reply, err := d.ask(ctx, request, base.Ranked, cands)
	if err != nil {
		logging.Warn("decider", "LLM decision failed, using heuristic: %v", err)
		base.Why = append(base.Why, "LLM provider unavailable; heuristic fallback.")
		return base, nil
	}

	out := base
	out.SelectedID = reply.SelectedID
	out.Confidence = clamp01(reply.Confidence)
	if len(reply.Why) > 0 {
		out.Why = reply.Why
	}
	out.Provider = "openai:" + d.model
	return out, nil
}

func (d *LLMDecider) ask(ctx context.Context, request string, ranked []RankedEntry, cands []types.Candidate) (llmReply, error) {
	shortlist := make(map[string]types.Candidate)
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidates:\n", request)
	for _, r := range ranked {
		for _, c := range cands {
			if c.ID != r.ID {
				continue
			}
			shortlist[c.ID] = c
			fmt.Fprintf(&b, "- id=%s title=%q status=%s impact=%s frequency=%s domain=%s heuristic=%.2f\n  %s\n",
				c.ID, c.Title, c.Status, c.Impact, c.Frequency, strings.Join(c.Domain, ","), r.Score,
				strings.TrimSpace(c.Description))
			break
		}
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: decisionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return llmReply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llmReply{}, fmt.Errorf("empty completion")
	}

	var reply llmReply
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return llmReply{}, fmt.Errorf("parse reply: %w", err)
	}
	if _, ok := shortlist[reply.SelectedID]; !ok {
		return llmReply{}, fmt.Errorf("reply selected unknown id %q", reply.SelectedID)
	}
	return reply, nil
}

package types

import "encoding/json"

// Status is the lifecycle state of a backlog item
type Status string

const (
	StatusNew       Status = "new"
	StatusTriaging  Status = "triaging"
	StatusSpecReady Status = "spec-ready"
	StatusBuilding  Status = "building"
	StatusShipped   Status = "shipped"
	StatusWontDo    Status = "wont-do"
)

// Open reports whether the item is still waiting to be picked up
func (s Status) Open() bool {
	return s == StatusNew || s == StatusTriaging
}

// Candidate is a backlog item (tool request) as seen by the scorers.
// Records are normalized at ingestion; scoring never mutates them.
type Candidate struct {
	ID             string   `json:"id"`
	URL            string   `json:"url,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	DesiredOutcome string   `json:"desired_outcome"`
	Domain         []string `json:"domain"`
	Status         Status   `json:"status"`
	Impact         string   `json:"impact"`    // low, medium, high
	Frequency      string   `json:"frequency"` // once, weekly, daily, many-times-per-day
	Source         string   `json:"source,omitempty"`
	CreatedTime    string   `json:"created_time,omitempty"`
	RecencyDays    *int     `json:"recency_days,omitempty"` // nil when created_time is unparseable
}

// PageUpdates is a structured set of changes to a Notion page
type PageUpdates struct {
	Title      string         `json:"title,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Empty reports whether the update carries no changes
func (u PageUpdates) Empty() bool {
	return u.Title == "" && len(u.Properties) == 0
}

// Envelope is the uniform output shape of every CLI-facing operation
type Envelope struct {
	Summary     string   `json:"summary"`
	Result      any      `json:"result"`
	NextActions []string `json:"next_actions"`
	Errors      []string `json:"errors"`
}

// NewEnvelope returns an envelope with an empty result object
func NewEnvelope(summary string) Envelope {
	return Envelope{
		Summary:     summary,
		Result:      map[string]any{},
		NextActions: []string{},
		Errors:      []string{},
	}
}

// AddError appends err to the envelope's errors if non-nil
func (e *Envelope) AddError(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err.Error())
	}
}

// OK reports whether the envelope carries no errors
func (e Envelope) OK() bool {
	return len(e.Errors) == 0
}

// MarshalJSON keeps list fields as [] rather than null
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	p := plain(e)
	if p.NextActions == nil {
		p.NextActions = []string{}
	}
	if p.Errors == nil {
		p.Errors = []string{}
	}
	if p.Result == nil {
		p.Result = map[string]any{}
	}
	return json.Marshal(p)
}

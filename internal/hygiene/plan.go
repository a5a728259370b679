package hygiene

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/natefinch/atomic"
)

// SchemaVersion is the only plan layout this package reads and writes
const SchemaVersion = 1

// Data sources recorded in a plan
const (
	SourceMCP  = "mcp"
	SourceMock = "mock"
)

var (
	ErrPlanNotFound      = errors.New("plan not found")
	ErrUnsupportedSchema = errors.New("unsupported plan schema version")
	ErrInvalidPlanID     = errors.New("invalid plan id")
)

var planIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TimeWindow is the range a plan analyzed
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether [start, end] lies inside the window
func (w TimeWindow) Contains(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}

// PlanResult is the counts block of a plan
type PlanResult struct {
	EventsAnalyzed  int      `json:"events_analyzed"`
	ProposedActions int      `json:"proposed_actions"`
	ActionTypes     []string `json:"action_types"`
}

// Plan is the persisted output of one planning run. It is never
// recomputed: apply reads it back and validates against it.
type Plan struct {
	SchemaVersion   int        `json:"schema_version"`
	PlanID          string     `json:"plan_id"`
	GeneratedAt     time.Time  `json:"generated_at"`
	TimeWindow      TimeWindow `json:"time_window"`
	CalendarID      string     `json:"calendar_id"`
	DataSource      string     `json:"data_source"`
	Summary         string     `json:"summary"`
	Result          PlanResult `json:"result"`
	NextActions     []string   `json:"next_actions"`
	Errors          []string   `json:"errors"`
	Events          []Summary  `json:"events"`
	ProposedActions []Action   `json:"proposed_actions"`
}

// Action returns the proposed action with the given id
func (p *Plan) Action(id string) (Action, bool) {
	for _, a := range p.ProposedActions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// PlanInput gathers what BuildPlan records
type PlanInput struct {
	Events     []Event
	Actions    []Action
	Window     TimeWindow
	CalendarID string
	DataSource string
	Errors     []string
	Now        time.Time
}

// BuildPlan assembles the plan document. The plan id is the date of the
// window start.
func BuildPlan(in PlanInput) Plan {
	summary := fmt.Sprintf("No actions proposed from %d event(s).", len(in.Events))
	if len(in.Actions) > 0 {
		summary = fmt.Sprintf("Proposed %d action(s) from %d event(s).", len(in.Actions), len(in.Events))
	}

	types := []string{}
	seen := map[string]bool{}
	for _, a := range in.Actions {
		if !seen[a.Type] {
			seen[a.Type] = true
			types = append(types, a.Type)
		}
	}

	events := make([]Summary, 0, len(in.Events))
	for _, e := range in.Events {
		events = append(events, e.Summary())
	}
	actions := in.Actions
	if actions == nil {
		actions = []Action{}
	}
	errs := in.Errors
	if errs == nil {
		errs = []string{}
	}

	return Plan{
		SchemaVersion: SchemaVersion,
		PlanID:        in.Window.Start.Format("2006-01-02"),
		GeneratedAt:   in.Now.UTC(),
		TimeWindow:    in.Window,
		CalendarID:    in.CalendarID,
		DataSource:    in.DataSource,
		Summary:       summary,
		Result: PlanResult{
			EventsAnalyzed:  len(in.Events),
			ProposedActions: len(in.Actions),
			ActionTypes:     types,
		},
		NextActions: []string{
			"Review proposed actions in the plan file.",
			"Apply selected actions with --plan-id and --actions.",
		},
		Errors:          errs,
		Events:          events,
		ProposedActions: actions,
	}
}

// PlanStore keeps one JSON file per plan id in a directory
type PlanStore struct {
	dir string
}

// NewPlanStore creates a store rooted at dir
func NewPlanStore(dir string) *PlanStore {
	return &PlanStore{dir: dir}
}

// Path returns the file path for a plan id
func (s *PlanStore) Path(planID string) string {
	return filepath.Join(s.dir, planID+".json")
}

// Save writes the plan atomically, replacing any plan with the same id
func (s *PlanStore) Save(p Plan) (string, error) {
	if !planIDRe.MatchString(p.PlanID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlanID, p.PlanID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create plan dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	path := s.Path(p.PlanID)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	return path, nil
}

// Load reads a plan back. Unknown schema versions are rejected.
func (s *PlanStore) Load(planID string) (*Plan, error) {
	if !planIDRe.MatchString(planID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlanID, planID)
	}
	path := s.Path(planID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, path)
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if head.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, head.SchemaVersion)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &p, nil
}

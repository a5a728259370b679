// Package tools provides tool registration with dependency injection.
package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/toolbox/internal/activity"
	"github.com/vthunder/toolbox/internal/config"
	"github.com/vthunder/toolbox/internal/hygiene"
	"github.com/vthunder/toolbox/internal/integrations/calendar"
	"github.com/vthunder/toolbox/internal/integrations/notion"
	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/state"
)

// Dependencies holds all services that tools may need.
// Optional fields may be nil; tools that need a missing service answer
// with a configuration error instead of failing to register.
type Dependencies struct {
	// Notion access for tool_requests_* and notion_*
	Notion         *notion.Client
	ToolRequestsDB string

	// Calendar access for calendar_* and the hygiene tools
	Calendar   *calendar.Client
	CalendarID string
	PlansDir   string // calendar hygiene plan files

	// Local state
	StateInspector *state.Inspector
	ActivityLog    *activity.Log

	// Server identity reported by hello/get_server_info
	ServerName string
	Version    string

	Now func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// hygieneService builds the planner service over the calendar client. The
// source is nil when no calendar is configured, so planning falls back to
// mock events.
func (d *Dependencies) hygieneService() *hygiene.Service {
	svc := &hygiene.Service{
		Plans:      hygiene.NewPlanStore(d.PlansDir),
		CalendarID: d.CalendarID,
		Now:        d.Now,
	}
	if d.Calendar != nil {
		svc.Source = calendarSource{d.Calendar}
		svc.Creator = calendarCreator{d.Calendar}
	}
	return svc
}

// FromConfig builds dependencies from resolved configuration. Missing Notion
// or calendar credentials leave those clients nil; a broken credentials file
// is an error.
func FromConfig(cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{
		ToolRequestsDB: cfg.Notion.ToolRequestsDB,
		CalendarID:     cfg.Calendar.CalendarID,
		PlansDir:       cfg.PlansDir(),
		StateInspector: state.NewInspector(state.Paths{
			Prefs:    cfg.PrefsPath(),
			Preview:  cfg.PreviewPath(),
			PlansDir: cfg.PlansDir(),
			Queue:    cfg.QueuePath(),
			Activity: cfg.ActivityPath(),
		}),
		ActivityLog: activity.New(cfg.ActivityPath()),
		ServerName:  mcp.ServerName,
		Version:     mcp.Version,
	}

	nc, err := notion.NewClient(cfg.Notion.Token)
	switch {
	case err == nil:
		deps.Notion = nc
	case errors.Is(err, notion.ErrNoToken):
		logging.Info("tools", "NOTION_TOKEN not set; notion tools will report missing configuration")
	default:
		return nil, fmt.Errorf("notion client: %w", err)
	}

	cc, err := calendar.NewClient(calendar.Config{
		CredentialsFile: cfg.Calendar.CredentialsFile,
		CalendarID:      cfg.Calendar.CalendarID,
	})
	switch {
	case err == nil:
		deps.Calendar = cc
		deps.CalendarID = cc.CalendarID()
	case errors.Is(err, calendar.ErrNotConfigured):
		logging.Info("tools", "calendar credentials not set; hygiene plans use mock events")
	default:
		return nil, fmt.Errorf("calendar client: %w", err)
	}
	return deps, nil
}

// NewRegistry builds a registry with every tool registered against deps
func NewRegistry(deps *Dependencies) *mcp.Registry {
	reg := mcp.NewRegistry()
	RegisterAll(reg, deps)
	return reg
}

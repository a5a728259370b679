package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vthunder/toolbox/internal/activity"
	"github.com/vthunder/toolbox/internal/agent"
	"github.com/vthunder/toolbox/internal/backlog"
	"github.com/vthunder/toolbox/internal/config"
	"github.com/vthunder/toolbox/internal/hygiene"
	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/mcp/tools"
	"github.com/vthunder/toolbox/internal/scaffold"
	"github.com/vthunder/toolbox/internal/state"
)

// app holds the collaborators one command run needs
type app struct {
	cfg      *config.Config
	invoker  mcp.Invoker
	registry *mcp.Registry // set in local mode
	closers  []func()
}

// newApp connects to the tool server the way the config asks
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{cfg: c}
	switch c.MCP.Mode {
	case config.ModeLocal:
		reg, err := a.localRegistry()
		if err != nil {
			return nil, err
		}
		a.registry = reg
		a.invoker = reg
	case config.ModeProxy:
		proxy, err := startProxy(ctx, c)
		if err != nil {
			return nil, err
		}
		a.invoker = proxy
		a.closers = append(a.closers, proxy.Close)
	default:
		inv := mcp.NewCommandInvoker(c.MCP.Curl, c.MCP.Timeout)
		inv.Progress = c.MCP.Progress
		a.invoker = inv
	}
	logging.Debug("toolbox", "invoker mode %s", c.MCP.Mode)
	return a, nil
}

func (a *app) localRegistry() (*mcp.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	deps, err := tools.FromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	a.registry = tools.NewRegistry(deps)
	return a.registry, nil
}

func startProxy(ctx context.Context, c *config.Config) (*mcp.ProxyClient, error) {
	servers, err := mcp.LoadServersConfig(c.MCP.ServersFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.MCP.ServersFile, err)
	}
	name := c.MCP.Server
	if name == "" && len(servers.MCPServers) == 1 {
		for n := range servers.MCPServers {
			name = n
		}
	}
	entry, ok := servers.MCPServers[name]
	if !ok || entry.Command == "" {
		return nil, fmt.Errorf("mcp.server %q is not a stdio server in %s", name, c.MCP.ServersFile)
	}

	startCtx, cancel := context.WithTimeout(ctx, c.MCP.Timeout)
	defer cancel()
	return mcp.StartProxy(startCtx, mcp.ExternalServerConfig{
		Name:    name,
		Command: entry.Command,
		Args:    entry.Args,
		Env:     entry.Env,
	})
}

func (a *app) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

func (a *app) activity() *activity.Log {
	return activity.New(a.cfg.ActivityPath())
}

func (a *app) agent() *agent.Agent {
	ag := &agent.Agent{
		Invoker:       a.invoker,
		Decider:       a.cfg.Decider(),
		Prefs:         state.NewPrefsStore(a.cfg.PrefsPath()),
		Previews:      state.NewPreviewStore(a.cfg.PreviewPath()),
		Activity:      a.activity(),
		DeployCommand: a.cfg.DeployCommand,
		Scaffolder: &scaffold.Scaffolder{
			ToolsDir: a.cfg.ToolsDir,
			SpecsDir: a.cfg.SpecsDir(),
			PlansDir: a.cfg.ScaffoldPlansDir(),
		},
	}
	if a.registry != nil {
		ag.Scaffolder.Registered = a.registry.Has
	}
	return ag
}

func (a *app) capturer() *backlog.Capturer {
	return &backlog.Capturer{Invoker: a.invoker, Queue: backlog.NewQueue(a.cfg.QueuePath())}
}

// hygiene plans through the calendar tools of whichever server is in use
func (a *app) hygiene() *hygiene.Service {
	return &hygiene.Service{
		Source:     hygiene.InvokerSource{Invoker: a.invoker},
		Creator:    hygiene.InvokerCreator{Invoker: a.invoker},
		Plans:      hygiene.NewPlanStore(a.cfg.PlansDir()),
		CalendarID: a.cfg.Calendar.CalendarID,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (a *app) inspector() *state.Inspector {
	return state.NewInspector(state.Paths{
		Prefs:    a.cfg.PrefsPath(),
		Preview:  a.cfg.PreviewPath(),
		PlansDir: a.cfg.PlansDir(),
		Queue:    a.cfg.QueuePath(),
		Activity: a.cfg.ActivityPath(),
	})
}

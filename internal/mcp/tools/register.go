package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/types"
)

// Registrar adds tools to a registry. Generated tool stubs register one from
// an init function so they are picked up without editing this file.
type Registrar func(reg *mcp.Registry, deps *Dependencies)

var (
	extraMu   sync.Mutex
	extraRegs []Registrar
)

// Register queues a registrar run by RegisterAll
func Register(r Registrar) {
	extraMu.Lock()
	defer extraMu.Unlock()
	extraRegs = append(extraRegs, r)
}

// RegisterAll registers all tools with the given registry and dependencies.
func RegisterAll(reg *mcp.Registry, deps *Dependencies) {
	registerHealthTools(reg, deps)
	registerStateTools(reg, deps)
	registerToolRequestTools(reg, deps)
	registerNotionTools(reg, deps)
	registerCalendarTools(reg, deps)

	extraMu.Lock()
	regs := append([]Registrar(nil), extraRegs...)
	extraMu.Unlock()
	for _, r := range regs {
		r(reg, deps)
	}
	logging.Info("tools", "registered %d tools", len(reg.Tools()))
}

// handle wraps an envelope-producing handler: the envelope is serialized to
// JSON text and the call is recorded in the activity log.
func handle(deps *Dependencies, name string, fn func(ctx context.Context, args map[string]any) types.Envelope) mcp.ToolHandler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		start := time.Now()
		env := fn(ctx, args)
		if deps.ActivityLog != nil {
			var err error
			if !env.OK() {
				err = fmt.Errorf("%s", env.Errors[0])
			}
			if lerr := deps.ActivityLog.LogToolCall(name, time.Since(start), err); lerr != nil {
				logging.Warn("tools", "activity log: %v", lerr)
			}
		}
		return Respond(env)
	}
}

// Respond serializes an envelope as tool output
func Respond(env types.Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// failure builds an error envelope with an empty result shape
func failure(summary string, result any, next string, errs ...string) types.Envelope {
	env := types.NewEnvelope(summary)
	if result != nil {
		env.Result = result
	}
	if next != "" {
		env.NextActions = []string{next}
	}
	env.Errors = append(env.Errors, errs...)
	return env
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		if v, err := n.Int64(); err == nil {
			return int(v)
		}
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// clampLimit bounds page sizes to 1..50
func clampLimit(n int) int {
	return max(1, min(n, 50))
}

func registerHealthTools(reg *mcp.Registry, deps *Dependencies) {
	reg.Register("health_check", mcp.ToolDef{
		Description: "Health check for environments without explicit /health routing.",
	}, handle(deps, "health_check", func(context.Context, map[string]any) types.Envelope {
		env := types.NewEnvelope("Health check ok.")
		env.Result = map[string]any{"ok": true}
		return env
	}))

	reg.Register("hello", mcp.ToolDef{
		Description: "Return a basic greeting plus server metadata.",
		Properties: map[string]mcp.PropDef{
			"name": {Type: "string", Description: "Who to greet"},
		},
	}, handle(deps, "hello", func(_ context.Context, args map[string]any) types.Envelope {
		name := stringArg(args, "name")
		who := name
		if who == "" {
			who = "there"
		}
		hostname, _ := os.Hostname()
		env := types.NewEnvelope(fmt.Sprintf("Hello, %s.", who))
		var nameVal any
		if name != "" {
			nameVal = name
		}
		env.Result = map[string]any{
			"server_time": deps.now().Format(time.RFC3339),
			"hostname":    hostname,
			"name":        nameVal,
		}
		return env
	}))

	reg.Register("get_server_info", mcp.ToolDef{
		Description: "Get information about the tool server and its host.",
	}, handle(deps, "get_server_info", func(ctx context.Context, _ map[string]any) types.Envelope {
		info := map[string]any{
			"server_name": deps.ServerName,
			"version":     deps.Version,
			"go_version":  runtime.Version(),
			"num_cpu":     runtime.NumCPU(),
			"time_utc":    deps.now().Format(time.RFC3339),
		}
		env := types.NewEnvelope(fmt.Sprintf("%s %s.", deps.ServerName, deps.Version))
		if h, err := host.InfoWithContext(ctx); err == nil {
			info["hostname"] = h.Hostname
			info["platform"] = fmt.Sprintf("%s %s %s", h.OS, h.Platform, h.PlatformVersion)
			info["uptime_seconds"] = h.Uptime
		} else {
			env.AddError(fmt.Errorf("host info: %w", err))
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			info["memory_used_percent"] = vm.UsedPercent
		}
		env.Result = info
		return env
	}))
}

func registerStateTools(reg *mcp.Registry, deps *Dependencies) {
	if deps.StateInspector == nil {
		return
	}

	reg.Register("state_summary", mcp.ToolDef{
		Description: "Summarize local state: preferences, saved preview, plans, capture queue and activity.",
	}, handle(deps, "state_summary", func(context.Context, map[string]any) types.Envelope {
		summary, err := deps.StateInspector.Summary()
		if err != nil {
			return failure("Failed to read state.", nil, "", err.Error())
		}
		env := types.NewEnvelope(fmt.Sprintf("%d plan(s), %d queued capture(s), %d activity entries.",
			len(summary.Plans), summary.QueuePending, summary.Activity))
		env.Result = summary
		return env
	}))

	reg.Register("state_health", mcp.ToolDef{
		Description: "Run health checks on local state and return warnings with recommendations.",
	}, handle(deps, "state_health", func(context.Context, map[string]any) types.Envelope {
		report, err := deps.StateInspector.Health()
		if err != nil {
			return failure("Failed to read state.", nil, "", err.Error())
		}
		env := types.NewEnvelope("State is " + report.Status + ".")
		env.Result = report
		env.NextActions = append(env.NextActions, report.Recommendations...)
		return env
	}))

	reg.Register("activity_recent", mcp.ToolDef{
		Description: "Return the most recent activity log entries.",
		Properties: map[string]mcp.PropDef{
			"count": {Type: "number", Description: "Entries to return (default 20)"},
		},
	}, handle(deps, "activity_recent", func(_ context.Context, args map[string]any) types.Envelope {
		count := clampLimit(intArg(args, "count", 20))
		entries := deps.StateInspector.TailActivity(count)
		if entries == nil {
			entries = []map[string]any{}
		}
		env := types.NewEnvelope(fmt.Sprintf("%d activity entries.", len(entries)))
		env.Result = map[string]any{"entries": entries}
		return env
	}))
}

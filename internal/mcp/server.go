package mcp

import (
	"context"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/toolbox/internal/logging"
)

// Server identity reported to clients
const (
	ServerName = "toolbox"
	Version    = "0.1.0"
)

// NewServer builds an MCP server exposing every tool in reg. Tools added to
// reg afterwards are not picked up.
func NewServer(reg *Registry) *server.MCPServer {
	s := server.NewMCPServer(ServerName, Version, server.WithToolCapabilities(true))
	for _, def := range reg.Tools() {
		s.AddTool(toolSchema(def), callHandler(reg, def.Name))
	}
	logging.Info("server", "exposing %d tools", len(reg.Tools()))
	return s
}

// ServeStdio serves reg over stdin/stdout until EOF
func ServeStdio(reg *Registry) error {
	return server.ServeStdio(NewServer(reg))
}

func toolSchema(def ToolDef) mcpgo.Tool {
	required := make(map[string]bool, len(def.Required))
	for _, r := range def.Required {
		required[r] = true
	}

	opts := []mcpgo.ToolOption{mcpgo.WithDescription(def.Description)}
	for name, p := range def.Properties {
		popts := []mcpgo.PropertyOption{mcpgo.Description(p.Description)}
		if required[name] {
			popts = append(popts, mcpgo.Required())
		}
		switch p.Type {
		case "number", "integer":
			opts = append(opts, mcpgo.WithNumber(name, popts...))
		case "boolean":
			opts = append(opts, mcpgo.WithBoolean(name, popts...))
		case "array":
			opts = append(opts, mcpgo.WithArray(name, popts...))
		case "object":
			opts = append(opts, mcpgo.WithObject(name, popts...))
		default:
			opts = append(opts, mcpgo.WithString(name, popts...))
		}
	}
	return mcpgo.NewTool(def.Name, opts...)
}

func callHandler(reg *Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		text, err := reg.Invoke(ctx, name, args)
		if err != nil {
			logging.Warn("server", "%s failed: %v", name, err)
			return mcpgo.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		return mcpgo.NewToolResultText(text), nil
	}
}

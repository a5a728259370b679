package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tailscale/hujson"

	"github.com/vthunder/toolbox/internal/logging"
)

const protocolVersion = "2024-11-05"

// ErrProxyClosed is returned once a proxy session has been torn down
var ErrProxyClosed = errors.New("proxy closed")

// ExternalServerConfig describes a stdio tool server to proxy
type ExternalServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

type rpcResponse struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type rpcTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema struct {
		Properties map[string]PropDef `json:"properties"`
		Required   []string           `json:"required"`
	} `json:"inputSchema"`
}

// ProxyClient keeps a JSON-RPC session with a tool server subprocess. Calls
// are serialized; a call abandoned by its context closes the session since
// the response stream can no longer be matched up.
type ProxyClient struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	nextID int64
	closed atomic.Bool
}

// StartProxy starts the subprocess and performs the initialize handshake
func StartProxy(ctx context.Context, cfg ExternalServerConfig) (*ProxyClient, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	c := newProxyClient(cfg.Name, stdin, stdout)
	c.cmd = cmd
	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	logging.Info("proxy:"+cfg.Name, "ready (pid=%d)", cmd.Process.Pid)
	return c, nil
}

func newProxyClient(name string, stdin io.WriteCloser, stdout io.Reader) *ProxyClient {
	return &ProxyClient{name: name, stdin: stdin, stdout: bufio.NewReader(stdout)}
}

func (c *ProxyClient) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrProxyClosed
	}

	type reply struct {
		raw json.RawMessage
		err error
	}
	done := make(chan reply, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		raw, err := c.roundTrip(method, params)
		done <- reply{raw, err}
	}()

	select {
	case r := <-done:
		return r.raw, r.err
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("%s %s: %w", c.name, method, ctx.Err())
	}
}

// roundTrip writes one request and reads until the matching response; the
// caller holds mu.
func (c *ProxyClient) roundTrip(method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(c.stdin, "%s\n", data); err != nil {
		return nil, fmt.Errorf("write to %s: %w", c.name, err)
	}

	for {
		line, err := c.stdout.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read from %s: %w", c.name, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			logging.Debug("proxy:"+c.name, "skipping non-JSON line: %s", logging.Truncate(line, 80))
			continue
		}
		// notifications carry no id
		if resp.ID == nil {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *ProxyClient) notify(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stdin, "%s\n", data)
	return err
}

func (c *ProxyClient) initialize(ctx context.Context) error {
	_, err := c.request(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": "toolbox", "version": Version},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	return c.notify("notifications/initialized")
}

// DiscoverTools lists the tools the server exposes
func (c *ProxyClient) DiscoverTools(ctx context.Context) ([]ToolDef, error) {
	raw, err := c.request(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var list struct {
		Tools []rpcTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	defs := make([]ToolDef, 0, len(list.Tools))
	for _, t := range list.Tools {
		defs = append(defs, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Properties:  t.InputSchema.Properties,
			Required:    t.InputSchema.Required,
		})
	}
	return defs, nil
}

// CallTool calls a tool and returns the first text block of the result
func (c *ProxyClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.request(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse call result: %w", err)
	}
	if result.IsError {
		if len(result.Content) > 0 {
			return "", errors.New(result.Content[0].Text)
		}
		return "", errors.New("tool returned error")
	}
	if len(result.Content) == 0 {
		return "", nil
	}
	return result.Content[0].Text, nil
}

// Call implements Invoker
func (c *ProxyClient) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	text, err := c.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return DecodeText(text), nil
}

// Close stops the subprocess. Safe to call more than once.
func (c *ProxyClient) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.stdin.Close()
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}
}

// ServersConfig is the .mcp.json file listing external servers
type ServersConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

// ServerEntry is one server in .mcp.json
type ServerEntry struct {
	Type    string            `json:"type,omitempty"` // "http" entries are skipped
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadServersConfig reads .mcp.json. Comments and trailing commas are allowed.
func LoadServersConfig(path string) (*ServersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var cfg ServersConfig
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// StartProxies starts every stdio server in the config and registers its
// tools on reg, forwarding calls through the session. Servers that fail to
// start are logged and skipped. Callers Close the returned clients.
func StartProxies(ctx context.Context, path string, reg *Registry) ([]*ProxyClient, error) {
	cfg, err := LoadServersConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load servers config: %w", err)
	}

	var proxies []*ProxyClient
	for name, entry := range cfg.MCPServers {
		if entry.Type == "http" || entry.Command == "" {
			continue
		}
		logging.Info("proxy", "starting %s: %s %v", name, entry.Command, entry.Args)

		proxy, err := StartProxy(ctx, ExternalServerConfig{
			Name: name, Command: entry.Command, Args: entry.Args, Env: entry.Env,
		})
		if err != nil {
			logging.Warn("proxy", "failed to start %s: %v", name, err)
			continue
		}
		tools, err := proxy.DiscoverTools(ctx)
		if err != nil {
			logging.Warn("proxy:"+name, "failed to discover tools: %v", err)
			proxy.Close()
			continue
		}
		logging.Info("proxy:"+name, "discovered %d tools", len(tools))

		for _, def := range tools {
			toolName := def.Name
			p := proxy
			reg.Register(toolName, def, func(ctx context.Context, args map[string]any) (string, error) {
				return p.CallTool(ctx, toolName, args)
			})
		}
		proxies = append(proxies, proxy)
	}
	return proxies, nil
}

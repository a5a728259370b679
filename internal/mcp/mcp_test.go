package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("echo", ToolDef{
		Description: "Echo the message back",
		Properties:  map[string]PropDef{"message": {Type: "string", Description: "text"}},
		Required:    []string{"message"},
	}, func(_ context.Context, args map[string]any) (string, error) {
		msg, _ := args["message"].(string)
		if msg == "" {
			return "", errors.New("message is required")
		}
		out, _ := json.Marshal(map[string]any{"summary": msg, "result": map[string]any{"echo": msg}, "next_actions": []any{}, "errors": []any{}})
		return string(out), nil
	})
	reg.Register("plain", ToolDef{Description: "Returns plain text"}, func(context.Context, map[string]any) (string, error) {
		return "hello there", nil
	})
	return reg
}

func TestValidToolName(t *testing.T) {
	for name, want := range map[string]bool{
		"tool_requests_latest": true,
		"a-b-9":                true,
		"":                     false,
		"../etc":               false,
		"rm;ls":                false,
	} {
		assert.Equal(t, want, ValidToolName(name), name)
	}
}

func TestRegistry(t *testing.T) {
	reg := echoRegistry()
	ctx := context.Background()

	tools := reg.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.NotNil(t, tools[1].Properties)
	assert.True(t, reg.Has("plain"))

	env, err := reg.Call(ctx, "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", env["summary"])

	env, err = reg.Call(ctx, "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", env["summary"])

	_, err = reg.Call(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = reg.Call(ctx, "echo", nil)
	assert.EqualError(t, err, "message is required")
}

func TestParseResponse(t *testing.T) {
	envelope := map[string]any{"summary": "ok", "result": map[string]any{"items": []any{}}, "errors": []any{}}

	tests := []struct {
		name    string
		payload map[string]any
		want    map[string]any
		wantErr string
	}{
		{
			name:    "raw envelope passes through",
			payload: envelope,
			want:    envelope,
		},
		{
			name:    "structured content",
			payload: map[string]any{"result": map[string]any{"structuredContent": envelope}},
			want:    envelope,
		},
		{
			name: "json text block",
			payload: map[string]any{"result": map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "not json"},
				map[string]any{"type": "text", "text": `{"summary":"from text"}`},
			}}},
			want: map[string]any{"summary": "from text"},
		},
		{
			name: "isError text",
			payload: map[string]any{"result": map[string]any{"isError": true, "content": []any{
				map[string]any{"type": "text", "text": "Error: boom"},
			}}},
			wantErr: "tool error: Error: boom",
		},
		{
			name:    "rpc error",
			payload: map[string]any{"error": map[string]any{"code": -32601, "message": "Method not found"}},
			wantErr: "rpc error -32601: Method not found",
		},
		{
			name:    "no usable content",
			payload: map[string]any{"result": map[string]any{"content": []any{}}},
			wantErr: ErrMissingContent.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.payload)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(NewHTTPHandler(echoRegistry(), HTTPConfig{Token: "s3cret"}))
	defer srv.Close()

	do := func(method, path, body string, auth bool) (*http.Response, map[string]any) {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if auth {
			req.Header.Set("Authorization", "Bearer s3cret")
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	resp, out := do("GET", "/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, _ = do("GET", "/tools", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out = do("GET", "/tools", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["tools"], 2)

	// comments and trailing commas are accepted
	resp, out = do("POST", "/call/echo", "{\"message\": \"hi\", // greeting\n}", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi", out["summary"])

	resp, _ = do("POST", "/call/nope", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do("POST", "/call/bad.name", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do("POST", "/call/echo", "[1,2]", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = do("POST", "/call/echo", "{}", true)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, []any{"message is required"}, out["errors"])
}

func TestToolSchema(t *testing.T) {
	tool := toolSchema(ToolDef{
		Name:        "calendar_hygiene_apply",
		Description: "Apply plan actions",
		Properties: map[string]PropDef{
			"plan_id":    {Type: "string"},
			"action_ids": {Type: "array"},
			"dry_run":    {Type: "boolean"},
			"days":       {Type: "number"},
		},
		Required: []string{"plan_id"},
	})
	assert.Equal(t, "calendar_hygiene_apply", tool.Name)
	assert.Len(t, tool.InputSchema.Properties, 4)
	assert.Equal(t, []string{"plan_id"}, tool.InputSchema.Required)
}

// fakeServer answers JSON-RPC requests read from in, like a stdio tool server
func fakeServer(t *testing.T, in io.Reader, out io.Writer) {
	t.Helper()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		id, ok := req["id"]
		if !ok {
			continue
		}
		var result any
		switch req["method"] {
		case "initialize":
			result = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			result = map[string]any{"tools": []any{map[string]any{
				"name": "remote_echo", "description": "echo",
				"inputSchema": map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}},
			}}}
		case "tools/call":
			params, _ := req["params"].(map[string]any)
			args, _ := params["arguments"].(map[string]any)
			result = map[string]any{"content": []any{map[string]any{"type": "text", "text": `{"summary":"got ` + args["q"].(string) + `"}`}}}
		}
		// a stray log line and a notification before the reply
		io.WriteString(out, "starting up\n")
		io.WriteString(out, `{"jsonrpc":"2.0","method":"notifications/message"}`+"\n")
		data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
		out.Write(append(data, '\n'))
	}
}

func TestProxyClient(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go fakeServer(t, serverIn, serverOut)

	c := newProxyClient("fake", clientOut, clientIn)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.initialize(ctx))

	defs, err := c.DiscoverTools(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "remote_echo", defs[0].Name)
	assert.Equal(t, "string", defs[0].Properties["q"].Type)

	env, err := c.Call(ctx, "remote_echo", map[string]any{"q": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "got ping", env["summary"])

	c.Close()
	_, err = c.Call(ctx, "remote_echo", map[string]any{"q": "x"})
	assert.ErrorIs(t, err, ErrProxyClosed)
}

func TestProxyClientContextTimeout(t *testing.T) {
	clientIn, _ := io.Pipe() // server never answers
	_, clientOut := io.Pipe()
	c := newProxyClient("silent", clientOut, clientIn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.request(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadServersConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// local servers
		"mcpServers": {
			"notion": {"command": "notion-mcp", "args": ["--stdio"],},
			"remote": {"type": "http", "url": "http://vm:8787"},
		},
	}`), 0644))

	cfg, err := LoadServersConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, []string{"--stdio"}, cfg.MCPServers["notion"].Args)
	assert.Equal(t, "http", cfg.MCPServers["remote"].Type)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script helper")
	}
	path := filepath.Join(t.TempDir(), "mcp_curl.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestCommandInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("parses structured content", func(t *testing.T) {
		script := writeScript(t, `echo '{"result":{"structuredContent":{"summary":"'"$1"'","errors":[]}}}'`)
		env, err := NewCommandInvoker(script, time.Second).Call(ctx, "health_check", nil)
		require.NoError(t, err)
		assert.Equal(t, "health_check", env["summary"])
	})

	t.Run("stderr becomes the error", func(t *testing.T) {
		script := writeScript(t, `echo "vm unreachable" >&2; exit 3`)
		_, err := NewCommandInvoker(script, time.Second).Call(ctx, "health_check", nil)
		assert.EqualError(t, err, "vm unreachable")
	})

	t.Run("invalid json", func(t *testing.T) {
		script := writeScript(t, `echo nope`)
		_, err := NewCommandInvoker(script, time.Second).Call(ctx, "health_check", nil)
		assert.ErrorContains(t, err, "invalid JSON")
	})

	t.Run("timeout", func(t *testing.T) {
		script := writeScript(t, `exec sleep 5`)
		_, err := NewCommandInvoker(script, 50*time.Millisecond).Call(ctx, "health_check", nil)
		assert.ErrorContains(t, err, "timed out")
	})

	t.Run("rejects unsafe names", func(t *testing.T) {
		_, err := NewCommandInvoker("/bin/true", time.Second).Call(ctx, "a;b", nil)
		assert.Error(t, err)
	})
}

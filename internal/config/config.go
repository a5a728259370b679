// Package config loads toolbox settings from .env files, an optional YAML
// file and the environment, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/toolbox/internal/scoring"
)

// DefaultFile is read when no --config path is given and it exists
const DefaultFile = "toolbox.yaml"

// Invoker modes
const (
	ModeCommand = "command" // subprocess per call through MCPCurl
	ModeLocal   = "local"   // in-process tool registry
	ModeProxy   = "proxy"   // persistent stdio session to a server from .mcp.json
)

// Config is the resolved toolbox configuration
type Config struct {
	StatePath string `yaml:"state_path"`
	Debug     bool   `yaml:"debug"`

	Notion struct {
		Token          string `yaml:"token"`
		ToolRequestsDB string `yaml:"tool_requests_db"`
	} `yaml:"notion"`

	Calendar struct {
		CredentialsFile string `yaml:"credentials_file"`
		CalendarID      string `yaml:"calendar_id"`
	} `yaml:"calendar"`

	MCP struct {
		Mode        string        `yaml:"mode"`
		Curl        string        `yaml:"curl"`
		Timeout     time.Duration `yaml:"timeout"`
		ServersFile string        `yaml:"servers_file"`
		Server      string        `yaml:"server"` // entry in ServersFile used by proxy mode
		Addr        string        `yaml:"addr"`
		BaseURL     string        `yaml:"base_url"`
		Token       string        `yaml:"token"`
		Progress    bool          `yaml:"progress"`
	} `yaml:"mcp"`

	LLM struct {
		Provider string `yaml:"provider"` // heuristic or openai
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`

	DeployCommand string `yaml:"deploy_command"`
	ToolsDir      string `yaml:"tools_dir"` // where scaffolded tool stubs are written
}

// Default returns the built-in defaults
func Default() *Config {
	c := &Config{StatePath: "memory"}
	c.MCP.Mode = ModeCommand
	c.MCP.Curl = "./scripts/mcp_curl.sh"
	c.MCP.Timeout = 15 * time.Second
	c.MCP.ServersFile = ".mcp.json"
	c.MCP.Addr = ":8787"
	c.LLM.Provider = "heuristic"
	c.ToolsDir = "internal/mcp/tools"
	return c
}

// Load resolves configuration. path may be empty, in which case
// DefaultFile is used when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if v := os.Getenv("TOOLBOX_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	_ = godotenv.Load(filepath.Join(cfg.StatePath, ".env"))

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.mergeYAML(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file decodes to nothing
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables. getenv is injectable for tests.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.StatePath, "TOOLBOX_STATE_PATH")
	str(&c.Notion.Token, "NOTION_TOKEN", "NOTION_API_KEY")
	str(&c.Notion.ToolRequestsDB, "TOOL_REQUESTS_DB_ID")
	str(&c.Calendar.CredentialsFile, "GOOGLE_CALENDAR_CREDENTIALS_FILE")
	str(&c.Calendar.CalendarID, "GOOGLE_CALENDAR_ID")
	str(&c.MCP.Curl, "MCP_CURL")
	str(&c.MCP.Mode, "TOOLBOX_MCP_MODE")
	str(&c.MCP.Addr, "TOOLBOX_ADDR")
	str(&c.MCP.Token, "TOOLBOX_MCP_TOKEN")
	str(&c.LLM.APIKey, "OPENAI_API_KEY")
	str(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	str(&c.LLM.Provider, "TOOLBOX_LLM_PROVIDER")
	str(&c.LLM.Model, "TOOLBOX_LLM_MODEL")
	str(&c.DeployCommand, "DEPLOY_COMMAND")
	str(&c.ToolsDir, "TOOLBOX_TOOLS_DIR")

	if v := getenv("TOOLBOX_MCP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, serr := strconv.Atoi(v)
			if serr != nil {
				return fmt.Errorf("TOOLBOX_MCP_TIMEOUT: %w", err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.MCP.Timeout = d
	}
	if v := getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		c.Debug = b
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	var errs []error
	switch c.MCP.Mode {
	case ModeCommand, ModeLocal, ModeProxy:
	default:
		errs = append(errs, fmt.Errorf("mcp.mode must be command, local or proxy (got %q)", c.MCP.Mode))
	}
	if c.MCP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("mcp.timeout must be positive (got %s)", c.MCP.Timeout))
	}
	switch c.LLM.Provider {
	case "heuristic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be heuristic or openai (got %q)", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.provider openai requires OPENAI_API_KEY"))
	}
	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	return errors.Join(errs...)
}

// LLMConfig returns the decider settings
func (c *Config) LLMConfig() scoring.LLMConfig {
	return scoring.LLMConfig{APIKey: c.LLM.APIKey, BaseURL: c.LLM.BaseURL, Model: c.LLM.Model}
}

// Decider returns the configured backlog decider
func (c *Config) Decider() scoring.Decider {
	if c.LLM.Provider == "openai" {
		return scoring.NewLLMDecider(c.LLMConfig())
	}
	return scoring.HeuristicDecider{}
}

// Derived state paths

func (c *Config) PrefsPath() string   { return filepath.Join(c.StatePath, "prefs.json") }
func (c *Config) PreviewPath() string { return filepath.Join(c.StatePath, "last_preview.json") }
func (c *Config) PlansDir() string {
	return filepath.Join(c.StatePath, "plans", "calendar_hygiene")
}
func (c *Config) QueuePath() string    { return filepath.Join(c.StatePath, "tool_requests_queue.jsonl") }
func (c *Config) ActivityPath() string { return filepath.Join(c.StatePath, "system", "activity.jsonl") }
func (c *Config) SpecsDir() string     { return filepath.Join(c.StatePath, "specs") }
func (c *Config) ScaffoldPlansDir() string {
	return filepath.Join(c.StatePath, "plans")
}
func (c *Config) CatalogDir() string { return filepath.Join(c.StatePath, "catalog") }

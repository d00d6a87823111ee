package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/m4xw311/docseek/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProtocolLine = "line"
	ProtocolMCP  = "mcp"
)

// Themes lists the theme names /theme accepts.
var Themes = []string{"cyberpunk", "ocean", "forest", "sunset"}

// Tool describes the external tool process.
type Tool struct {
	Protocol         string            `yaml:"protocol"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Env              map[string]string `yaml:"env"`
	AllowedCommands  []string          `yaml:"allowed_commands"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	CallTimeout      time.Duration     `yaml:"call_timeout"`
	GracePeriod      time.Duration     `yaml:"grace_period"`
	SearchLimit      int               `yaml:"search_limit"`
	MaxCallsPerTurn  int               `yaml:"max_calls_per_turn"`
	// Capabilities maps capability names used by the agent to the names the
	// tool process exposes. Only consulted by the mcp protocol.
	Capabilities map[string]string `yaml:"capabilities"`
}

type Config struct {
	LLMClient    string         `yaml:"llm"`
	Model        string         `yaml:"model"`
	Params       map[string]any `yaml:"params"`
	SystemPrompt string         `yaml:"system_prompt"`
	DataDir      string         `yaml:"data_dir"`
	Theme        string         `yaml:"theme"`
	Tool         Tool           `yaml:"tool"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		DataDir: ".docseek",
		Theme:   "cyberpunk",
		Tool: Tool{
			Protocol:         ProtocolLine,
			HandshakeTimeout: 10 * time.Second,
			CallTimeout:      30 * time.Second,
			GracePeriod:      3 * time.Second,
			SearchLimit:      5,
			MaxCallsPerTurn:  3,
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. A .env file in the
// working directory is loaded into the environment first. An explicit path, if
// given, is read last.
func LoadConfig(explicit string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".docseek", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".docseek", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicit != "" {
		if err := loadFromFile(explicit, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", explicit)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Parse(data, cfg)
}

// Parse decodes yaml into cfg. Fields present in data replace those in cfg;
// unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.E(errors.KindConfiguration, errors.Wrapf(err, "invalid configuration"))
	}
	return nil
}

// Validate checks recognized options. Every failure is a configuration error.
func (c *Config) Validate() error {
	switch c.Tool.Protocol {
	case ProtocolLine, ProtocolMCP:
	default:
		return errors.Newk(errors.KindConfiguration, "unknown tool protocol %q (want %q or %q)", c.Tool.Protocol, ProtocolLine, ProtocolMCP)
	}
	if c.Tool.HandshakeTimeout < 0 || c.Tool.CallTimeout < 0 || c.Tool.GracePeriod < 0 {
		return errors.Newk(errors.KindConfiguration, "tool timeouts must not be negative")
	}
	if c.Tool.SearchLimit <= 0 {
		return errors.Newk(errors.KindConfiguration, "tool.search_limit must be positive, got %d", c.Tool.SearchLimit)
	}
	if c.Tool.MaxCallsPerTurn < 0 {
		return errors.Newk(errors.KindConfiguration, "tool.max_calls_per_turn must not be negative")
	}
	if !IsTheme(c.Theme) {
		return errors.Newk(errors.KindConfiguration, "unknown theme %q", c.Theme)
	}
	if c.DataDir == "" {
		return errors.Newk(errors.KindConfiguration, "data_dir must not be empty")
	}
	return nil
}

// ToolConfigured reports whether a tool process command is set.
func (c *Config) ToolConfigured() bool { return c.Tool.Command != "" }

// IsTheme reports whether name is a known theme.
func IsTheme(name string) bool {
	for _, t := range Themes {
		if t == name {
			return true
		}
	}
	return false
}

// ABOUTME: Configuration loading and parsing for mcp-broker.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcp-broker configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Storage   StorageConfig   `yaml:"storage"`
	MCP       MCPConfig       `yaml:"mcp"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the listener address configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LimitsConfig holds transport and execution limits.
type LimitsConfig struct {
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	OutboundBuffer  int   `yaml:"outbound_buffer"`

	ToolTimeout  time.Duration `yaml:"-"`
	ExecTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	PingInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ToolTimeoutRaw  string `yaml:"tool_timeout"`
	ExecTimeoutRaw  string `yaml:"exec_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
}

// StorageConfig holds the SQLite store configuration.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MCPConfig toggles the MCP compatibility endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve TLS with Tailscale-provisioned certs
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: loopback
// listener, MCP endpoint on, a local database file, and conservative
// transport limits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8765",
		},
		Limits: LimitsConfig{
			MaxMessageBytes: 1 << 20,
			OutboundBuffer:  64,
			ToolTimeout:     60 * time.Second,
			ExecTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "mcp-broker.db",
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Tailscale: TailscaleConfig{
			Hostname: "mcp-broker",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values. Omitted fields
// fall back to Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. If the environment variable is not set,
// it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	// A listen address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}

	if c.Limits.MaxMessageBytes <= 0 {
		return fmt.Errorf("limits.max_message_bytes must be positive")
	}
	if c.Limits.OutboundBuffer <= 0 {
		return fmt.Errorf("limits.outbound_buffer must be positive")
	}
	if c.Limits.ToolTimeout < 0 {
		return fmt.Errorf("limits.tool_timeout must not be negative")
	}
	if c.Limits.WriteTimeout <= 0 {
		return fmt.Errorf("limits.write_timeout must be positive")
	}
	if c.Limits.PingInterval <= 0 {
		return fmt.Errorf("limits.ping_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Limits.ToolTimeoutRaw != "" {
		cfg.Limits.ToolTimeout, err = time.ParseDuration(cfg.Limits.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Limits.ToolTimeoutRaw, err)
		}
	}

	if cfg.Limits.ExecTimeoutRaw != "" {
		cfg.Limits.ExecTimeout, err = time.ParseDuration(cfg.Limits.ExecTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing exec_timeout %q: %w", cfg.Limits.ExecTimeoutRaw, err)
		}
	}

	if cfg.Limits.WriteTimeoutRaw != "" {
		cfg.Limits.WriteTimeout, err = time.ParseDuration(cfg.Limits.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Limits.WriteTimeoutRaw, err)
		}
	}

	if cfg.Limits.PingIntervalRaw != "" {
		cfg.Limits.PingInterval, err = time.ParseDuration(cfg.Limits.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Limits.PingIntervalRaw, err)
		}
	}

	return nil
}

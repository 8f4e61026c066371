package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/indoorsun/internal/entry"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	API             APIConfig         `yaml:"api"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Source          SourceConfig      `yaml:"source"`
	Flow            FlowConfig        `yaml:"flow"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Hue             HueConfig         `yaml:"hue"`
	Script          string            `yaml:"script"` // Optional Lua hook script
	Entries         []EntryConfig     `yaml:"entries"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains the REST API server settings
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"` // Default: true
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// IsEnabled returns whether the API is enabled (default: true)
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SourceConfig contains camera fetch settings
type SourceConfig struct {
	Timeout            Duration `yaml:"timeout"`              // Per-poll timeout (default: 10s)
	RateLimitRPS       float64  `yaml:"rate_limit_rps"`       // Per-host requests per second, 0 = unlimited
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`       // Frame size cap (default: 32MiB)
	UserAgent          string   `yaml:"user_agent"`           // Optional override
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"` // Accept self-signed certificates
}

// FlowConfig contains setup flow settings
type FlowConfig struct {
	TTL Duration `yaml:"ttl"` // Idle flows are discarded after this (default: 30m)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// HueConfig contains Hue bridge settings for mirroring samples onto lamps.
// Mirroring is off unless a bridge and at least one target are set.
type HueConfig struct {
	Bridge       string      `yaml:"bridge"`
	Token        string      `yaml:"token"`
	RateLimitRPS float64     `yaml:"rate_limit_rps"` // Bridge call rate (default: 10)
	Transition   Duration    `yaml:"transition"`     // Fade time per update (default: 1s)
	Targets      []HueTarget `yaml:"targets"`
}

// Enabled reports whether mirroring is configured.
func (c *HueConfig) Enabled() bool {
	return c.Bridge != "" && c.Token != "" && len(c.Targets) > 0
}

// HueTarget maps an entry onto a light or a group.
type HueTarget struct {
	Entry string `yaml:"entry"` // Entry ID or title
	Light string `yaml:"light"`
	Group string `yaml:"group"`
}

// EntryConfig is an entry declared in the config file. Everything besides
// id and title uses the same flat keys as entries created by the setup flow.
type EntryConfig struct {
	ID    string         `yaml:"id"`
	Title string         `yaml:"title"`
	Data  map[string]any `yaml:",inline"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Addr returns the API listen address
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the health check listen address
func (c *HealthcheckConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./indoorsun.sqlite"
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}

	// Source defaults
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = Duration(10 * time.Second)
	}
	if cfg.Source.MaxBodyBytes == 0 {
		cfg.Source.MaxBodyBytes = 32 << 20
	}

	if cfg.Flow.TTL == 0 {
		cfg.Flow.TTL = Duration(30 * time.Minute)
	}

	// Hue defaults
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0 // 10 requests per second
	}
	if cfg.Hue.Transition == 0 {
		cfg.Hue.Transition = Duration(time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func (cfg *Config) validate() error {
	seen := make(map[string]bool)
	for i, e := range cfg.Entries {
		if e.ID == "" {
			return fmt.Errorf("entries[%d]: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("entries[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
	for i, e := range cfg.Entries {
		if key := entry.Validate(entry.Data(e.Data)); key != "" {
			return fmt.Errorf("entries[%d] (%s): %s", i, e.ID, key)
		}
	}
	for i, t := range cfg.Hue.Targets {
		if t.Entry == "" {
			return fmt.Errorf("hue.targets[%d]: entry is required", i)
		}
		if (t.Light == "") == (t.Group == "") {
			return fmt.Errorf("hue.targets[%d]: exactly one of light or group is required", i)
		}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

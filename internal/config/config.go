package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"socialbrain/internal/budget"
)

// Config models socialbrain.yml.
type Config struct {
	Workspace string `yaml:"workspace"`

	Server struct {
		Addr  string `yaml:"addr"`
		Token string `yaml:"token"`
	} `yaml:"server"`

	Companion struct {
		URL string `yaml:"url"`
	} `yaml:"companion"`

	Budget struct {
		MissionLimitUSD float64            `yaml:"mission_limit_usd"`
		Rates           []budget.RateEntry `yaml:"rates"`
	} `yaml:"budget"`

	Routing struct {
		CheapModelOverride string `yaml:"cheap_model_override"`
	} `yaml:"routing"`

	Pulse struct {
		Endpoint        string `yaml:"endpoint"`
		IntervalMinutes int    `yaml:"interval_minutes"`
	} `yaml:"pulse"`

	Warmup struct {
		Platforms     []string `yaml:"platforms"`
		IntervalHours int      `yaml:"interval_hours"`
	} `yaml:"warmup"`
}

// Validate checks structure and value ranges. The rate table is validated
// strictly: a duplicated model is a data-entry error, never an override.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Companion.URL == "" {
		return fmt.Errorf("config.companion.url is required")
	}
	if !strings.HasPrefix(c.Companion.URL, "http://") && !strings.HasPrefix(c.Companion.URL, "https://") {
		return fmt.Errorf("config.companion.url must be an http(s) URL")
	}
	if c.Budget.MissionLimitUSD < 0 {
		return fmt.Errorf("config.budget.mission_limit_usd must not be negative")
	}
	if _, err := budget.BuildRateTable(c.Budget.Rates); err != nil {
		return fmt.Errorf("config.budget.rates: %w", err)
	}
	if c.Pulse.IntervalMinutes < 0 {
		return fmt.Errorf("config.pulse.interval_minutes must not be negative")
	}
	if c.Warmup.IntervalHours < 0 {
		return fmt.Errorf("config.warmup.interval_hours must not be negative")
	}
	for _, p := range c.Warmup.Platforms {
		if p == "" {
			return fmt.Errorf("config.warmup.platforms contains an empty platform")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "socialbrain.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace == "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns a config with working local defaults.
func Default(workspace string) *Config {
	var cfg Config
	cfg.Workspace = workspace
	cfg.Server.Addr = "127.0.0.1:3001"
	cfg.Companion.URL = "http://127.0.0.1:3002"
	cfg.Pulse.IntervalMinutes = 5
	cfg.Warmup.IntervalHours = 6
	return &cfg
}

// GenerateDefault returns starter config YAML for sb init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:3001
  # token: set to require X-Brain-Token on API calls
  token: ""

companion:
  url: http://127.0.0.1:3002

budget:
  mission_limit_usd: 5.0
  rates:
    - model: gemini-2.0-flash
      input_per_1k: 0.0001
      output_per_1k: 0.0004
    - model: gemini-2.5-flash
      input_per_1k: 0.0003
      output_per_1k: 0.0025
    - model: gemini-2.5-pro
      input_per_1k: 0.00125
      output_per_1k: 0.01

routing:
  cheap_model_override: ""

pulse:
  endpoint: ""
  interval_minutes: 5

warmup:
  platforms: [linkedin, twitter, instagram, facebook, youtube]
  interval_hours: 6
`

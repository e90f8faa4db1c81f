// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel   string   `yaml:"log_level"`
	ListenAddr string   `yaml:"listen_addr"`
	DataDir    string   `yaml:"data_dir"`
	APIToken   string   `yaml:"api_token"`
	Telegram   Telegram `yaml:"telegram"`
	Notebook   Notebook `yaml:"notebook"`
	NATS       NATS     `yaml:"nats"`
}

// Telegram configures the Bot API poller.
type Telegram struct {
	BotToken            string `yaml:"bot_token"`
	PollIntervalSeconds *int   `yaml:"poll_interval_seconds"`
	AuthorizedUser      string `yaml:"authorized_user"`
}

// PollInterval returns the polling cooldown. Omitted defaults to one
// minute; an explicit zero selects single-shot mode.
func (t *Telegram) PollInterval() time.Duration {
	if t.PollIntervalSeconds == nil {
		return 60 * time.Second
	}
	return time.Duration(*t.PollIntervalSeconds) * time.Second
}

// Notebook configures the SiYuan kernel the inbox moves messages into.
type Notebook struct {
	BaseURL    string `yaml:"base_url"`
	APIToken   string `yaml:"api_token"`
	NotebookID string `yaml:"notebook_id"`
	AssetsDir  string `yaml:"assets_dir"`
}

// GetAssetsDir returns the asset upload directory, defaulting to the
// inbox assets folder.
func (n *Notebook) GetAssetsDir() string {
	if n.AssetsDir == "" {
		return "/assets/inbox"
	}
	return n.AssetsDir
}

// NATS configures the optional JetStream event sink. An empty URL
// disables it.
type NATS struct {
	URL string `yaml:"url"`
}

// Load reads and parses a YAML configuration file. Validation failures
// are returned synchronously, before any component is constructed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
		DataDir:    "data",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.PollIntervalSeconds != nil && *c.Telegram.PollIntervalSeconds < 0 {
		return fmt.Errorf("telegram.poll_interval_seconds must be non-negative")
	}
	if c.Notebook.BaseURL != "" && c.Notebook.NotebookID == "" {
		return fmt.Errorf("notebook.notebook_id is required when notebook.base_url is set")
	}
	return nil
}

// ABOUTME: Configuration loading for solace-chat
// ABOUTME: Loads TOML config from XDG path with environment variable expansion and defaults

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the chat client configuration.
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Session SessionConfig `toml:"session"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL string `toml:"url"`

	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`
}

type SessionConfig struct {
	UserName  string `toml:"user_name"`
	AgentName string `toml:"agent_name"`

	SettleDelay    time.Duration `toml:"-"`
	SettleDelayRaw string        `toml:"settle_delay"`
}

// StoreConfig selects where conversations live. Backend is sqlite, file or memory.
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// dataPath returns the solace data directory.
// Priority: XDG_DATA_HOME/solace > ~/.local/share/solace
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "solace")
}

// configPath returns the chat config file location.
// Priority: SOLACE_CHAT_CONFIG > XDG_CONFIG_HOME/solace/chat.toml > ~/.config/solace/chat.toml
func configPath() string {
	if p := os.Getenv("SOLACE_CHAT_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "solace", "chat.toml")
}

// DefaultConfig talks to a gateway on localhost and keeps history in SQLite.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{URL: "http://localhost:8080", Timeout: 30 * time.Second},
		Session: SessionConfig{UserName: "You", AgentName: "Therapist", SettleDelay: time.Second},
		Store:   StoreConfig{Backend: "sqlite", Path: filepath.Join(dataPath(), "conversations.db")},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// LoadConfig reads config from path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(string(data))
}

// ParseConfig decodes TOML onto the defaults.
func ParseConfig(data string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(expandEnvVars(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.timeout", cfg.Gateway.TimeoutRaw, &cfg.Gateway.Timeout},
		{"session.settle_delay", cfg.Session.SettleDelayRaw, &cfg.Session.SettleDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if c.Session.SettleDelay < 0 {
		return fmt.Errorf("session.settle_delay must not be negative")
	}

	switch c.Store.Backend {
	case "sqlite", "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite, file or memory, got %q", c.Store.Backend)
	}
	return nil
}

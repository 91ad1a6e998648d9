// ABOUTME: Configuration loading and parsing for solace-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is the therapist persona used when none is configured.
const DefaultSystemPrompt = "You are a compassionate AI therapist. Listen actively, ask thoughtful questions, " +
	"and provide supportive guidance. Use empathetic language and validate emotions. Keep responses " +
	"conversational and under 100 words for natural voice flow. Focus on helping users explore their " +
	"feelings and find their own solutions."

// Config represents the complete solace-gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Vendor  VendorConfig  `yaml:"vendor"`
	Agent   AgentConfig   `yaml:"agent"`
	Token   TokenConfig   `yaml:"token"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// VendorConfig holds credentials for the conversational agent API
type VendorConfig struct {
	AppID        string `yaml:"app_id"`
	ServerSecret string `yaml:"server_secret"`
	APIBaseURL   string `yaml:"api_base_url"`
	MaxRetries   int    `yaml:"max_retries"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// AgentConfig describes the agent registered with the vendor
type AgentConfig struct {
	Name          string    `yaml:"name"`
	LLM           LLMConfig `yaml:"llm"`
	TTS           TTSConfig `yaml:"tts"`
	ASR           ASRConfig `yaml:"asr"`
	HistoryWindow int       `yaml:"history_window"`
	InterruptMode int       `yaml:"interrupt_mode"`
}

// LLMConfig is the language model the agent talks through
type LLMConfig struct {
	URL          string  `yaml:"url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// TTSConfig is the speech synthesis voice
type TTSConfig struct {
	Vendor string  `yaml:"vendor"`
	APIKey string  `yaml:"api_key"`
	Model  string  `yaml:"model"`
	Voice  string  `yaml:"voice"`
	Speed  float64 `yaml:"speed"`
	Volume float64 `yaml:"volume"`
}

// ASRConfig tunes speech recognition segmentation
type ASRConfig struct {
	HotWord string `yaml:"hot_word"`

	VADSilenceSegmentation    time.Duration `yaml:"-"`
	PauseInterval             time.Duration `yaml:"-"`
	VADSilenceSegmentationRaw string        `yaml:"vad_silence_segmentation"`
	PauseIntervalRaw          string        `yaml:"pause_interval"`
}

// TokenConfig controls room token minting
type TokenConfig struct {
	Type string `yaml:"type"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// RelayConfig controls the room message relay
type RelayConfig struct {
	ReplayWindow    time.Duration `yaml:"-"`
	ReplayWindowRaw string        `yaml:"replay_window"`
	ReplayCacheSize int           `yaml:"replay_cache_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:    "0.0.0.0:8080",
			CORSOrigins: []string{"*"},
		},
		Vendor: VendorConfig{
			APIBaseURL:     "https://aigc-aiagent-api.zegotech.cn/",
			MaxRetries:     2,
			RequestTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			Name: "AI Therapist",
			LLM: LLMConfig{
				URL:          "https://dashscope-intl.aliyuncs.com/compatible-mode/v1/chat/completions",
				APIKey:       "zego_test",
				Model:        "qwen-plus",
				SystemPrompt: DefaultSystemPrompt,
				Temperature:  0.8,
				TopP:         0.9,
				MaxTokens:    250,
			},
			TTS: TTSConfig{
				Vendor: "CosyVoice",
				APIKey: "zego_test",
				Model:  "cosyvoice-v2",
				Voice:  "longxiaochun_v2",
				Speed:  1.0,
				Volume: 0.8,
			},
			ASR: ASRConfig{
				HotWord:                "ZEGOCLOUD|10,AI|8,Assistant|8,money|10,help|8",
				VADSilenceSegmentation: 1500 * time.Millisecond,
				PauseInterval:          2 * time.Second,
			},
			HistoryWindow: 10,
		},
		Token: TokenConfig{
			Type: "zego-token-04",
			TTL:  time.Hour,
		},
		Relay: RelayConfig{
			ReplayWindow:    5 * time.Minute,
			ReplayCacheSize: 10000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Vendor.AppID == "" {
		return fmt.Errorf("vendor.app_id is required")
	}
	if c.Vendor.ServerSecret == "" {
		return fmt.Errorf("vendor.server_secret is required")
	}

	u, err := url.Parse(c.Vendor.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("vendor.api_base_url must be an http(s) URL, got %q", c.Vendor.APIBaseURL)
	}

	if c.Vendor.MaxRetries < 0 {
		return fmt.Errorf("vendor.max_retries must not be negative")
	}
	if c.Agent.HistoryWindow < 0 {
		return fmt.Errorf("agent.history_window must not be negative")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"vendor.request_timeout", cfg.Vendor.RequestTimeoutRaw, &cfg.Vendor.RequestTimeout},
		{"agent.asr.vad_silence_segmentation", cfg.Agent.ASR.VADSilenceSegmentationRaw, &cfg.Agent.ASR.VADSilenceSegmentation},
		{"agent.asr.pause_interval", cfg.Agent.ASR.PauseIntervalRaw, &cfg.Agent.ASR.PauseInterval},
		{"token.ttl", cfg.Token.TTLRaw, &cfg.Token.TTL},
		{"relay.replay_window", cfg.Relay.ReplayWindowRaw, &cfg.Relay.ReplayWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

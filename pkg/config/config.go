package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	envConfigPath        = "BOTMUX_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
)

// ErrConfigNotFound is returned when no config file exists at any lookup path.
var ErrConfigNotFound = errors.New("config.json not found")

// Responder kinds.
const (
	ResponderNone   = "none"
	ResponderEcho   = "echo"
	ResponderOpenAI = "openai"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Responder ResponderConfig `json:"responder"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"BOTMUX_LOG_FORMAT"`
	Level     string `json:"level,omitempty" env:"BOTMUX_LOG_LEVEL"`
	AddSource bool   `json:"add_source,omitempty" env:"BOTMUX_LOG_ADD_SOURCE"`
}

// ChannelsConfig stores platform adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"BOTMUX_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy" env:"BOTMUX_CHANNELS_TELEGRAM_PROXY"`
	AllowFrom []string `json:"allow_from"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled" env:"BOTMUX_CHANNELS_DISCORD_ENABLED"`
	Token     string   `json:"token" env:"BOTMUX_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"BOTMUX_CHANNELS_DISCORD_ALLOW_FROM" envSeparator:","`
}

// ResponderConfig selects the application logic that answers completed updates.
type ResponderConfig struct {
	Kind                  string `json:"kind" env:"BOTMUX_RESPONDER_KIND"`
	Prefix                string `json:"prefix" env:"BOTMUX_RESPONDER_PREFIX"`
	Model                 string `json:"model" env:"BOTMUX_RESPONDER_MODEL"`
	BaseURL               string `json:"base_url" env:"BOTMUX_RESPONDER_BASE_URL"`
	APIKeyEnv             string `json:"api_key_env" env:"BOTMUX_RESPONDER_API_KEY_ENV"`
	Instructions          string `json:"instructions" env:"BOTMUX_RESPONDER_INSTRUCTIONS"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" env:"BOTMUX_RESPONDER_REQUEST_TIMEOUT_SECONDS"`
}

// GatewayConfig configures the dispatch workers and the status HTTP server.
type GatewayConfig struct {
	Host      string `json:"host" env:"BOTMUX_GATEWAY_HOST"`
	Port      int    `json:"port" env:"BOTMUX_GATEWAY_PORT"`
	Workers   int    `json:"workers" env:"BOTMUX_GATEWAY_WORKERS"`
	QueueSize int    `json:"queue_size" env:"BOTMUX_GATEWAY_QUEUE_SIZE"`
}

// DefaultConfig returns the configuration used when config.json omits a value.
func DefaultConfig() *Config {
	return &Config{
		Responder: ResponderConfig{
			Kind:                  ResponderEcho,
			Model:                 "gpt-5-mini",
			RequestTimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Host:      "0.0.0.0",
			Port:      18790,
			Workers:   4,
			QueueSize: 100,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadOrDefault is LoadConfig, except that a missing config.json yields the
// defaults with environment overrides applied.
func LoadOrDefault() (*Config, error) {
	cfg, err := LoadConfig()
	if !errors.Is(err, ErrConfigNotFound) {
		return cfg, err
	}

	cfg = DefaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads one config file and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Gateway.Workers < 1 {
		errs = append(errs, fmt.Errorf("gateway.workers must be at least 1"))
	}
	if c.Gateway.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("gateway.queue_size must be at least 1"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Responder.Kind)) {
	case "", ResponderNone, ResponderEcho, ResponderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("responder.kind %q is not one of none, echo, openai", c.Responder.Kind))
	}

	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		errs = append(errs, errors.New("channels.telegram.token is required when telegram is enabled"))
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.Token) == "" {
		errs = append(errs, errors.New("channels.discord.token is required when discord is enabled"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	// Platform-conventional variable names take precedence over the prefixed ones.
	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
	if token := strings.TrimSpace(os.Getenv(envDiscordBotToken)); token != "" {
		cfg.Channels.Discord.Token = token
	}

	return nil
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BOTMUX_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrConfigNotFound, candidates[0], candidates[1])
}

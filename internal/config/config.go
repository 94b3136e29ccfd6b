// Package config handles corebus configuration loading.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/corebus/config.yaml, /config/config.yaml,
// /etc/corebus/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "corebus", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/corebus/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all corebus configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Bus         BusConfig         `yaml:"bus"`
	Transports  TransportsConfig  `yaml:"transports"`
	PersonalLog PersonalLogConfig `yaml:"personal_log"`
	Webhooks    WebhooksConfig    `yaml:"webhooks"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig defines the HTTP surface's bind settings. The HTTP layer
// itself is out of scope for this module; the bind address is still
// part of the config surface so cmd/corebusd can wire a listener.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// BusConfig configures the priority queue and dispatcher.
type BusConfig struct {
	MaxQueueSize         int `yaml:"max_queue_size"`
	Workers              int `yaml:"workers"`
	MaxRetryAttempts     int `yaml:"max_retry_attempts"`
	RetryDelaySeconds    int `yaml:"retry_delay_seconds"`
	ShutdownDrainSeconds int `yaml:"shutdown_drain_seconds"`
	DeadLetterCapacity   int `yaml:"dead_letter_capacity"`
}

// TransportsConfig configures the outbound delivery adapters.
type TransportsConfig struct {
	Email   EmailTransportConfig   `yaml:"email"`
	Webhook WebhookTransportConfig `yaml:"webhook"`
	Discord DiscordTransportConfig `yaml:"discord"`
}

// DiscordTransportConfig configures the bot session backing the chat
// transport. The chat adapter itself (internal/transport.ChatAdapter)
// is backend-agnostic; Discord is the concrete ChatSender cmd/corebusd
// wires in when a bot token is present. Leaving BotToken empty disables
// the chat transport entirely — personal-log delivery and chat
// recipients then fail with "no adapter for transport".
type DiscordTransportConfig struct {
	BotToken string `yaml:"bot_token"`
}

// Configured reports whether enough settings are present to start a
// Discord session.
func (c DiscordTransportConfig) Configured() bool {
	return c.BotToken != ""
}

// EmailTransportConfig configures the single outbound SMTP account.
type EmailTransportConfig struct {
	From     string `yaml:"from"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"start_tls"`
}

// Configured reports whether the email transport has the minimum
// settings to attempt a send.
func (c EmailTransportConfig) Configured() bool {
	return c.From != "" && c.Host != ""
}

// WebhookTransportConfig configures outbound webhook signing.
type WebhookTransportConfig struct {
	Secret string `yaml:"secret"`
}

// PersonalLogConfig holds the personal_log section. Its values are
// loaded but not passed to the personal-log router: retention and
// encryption come only from each user's personallog.UserConfig and
// Topic settings.
type PersonalLogConfig struct {
	DefaultMessageTTLHours int  `yaml:"default_message_ttl_hours"`
	EncryptionDefault      bool `yaml:"personal_log_encryption"`
}

// WebhooksConfig holds the webhooks section. applyDefaults fills in
// both fields, but nothing applies them to registrations:
// webhookin.Registry.Register stores each Registration as given.
type WebhooksConfig struct {
	DefaultMaxRetries     int `yaml:"default_max_retries"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

// RealtimeConfig toggles the optional websocket broadcast hub.
type RealtimeConfig struct {
	Enabled               bool `yaml:"websocket_enabled"`
	BroadcastSystemEvents bool `yaml:"broadcast_system_events"`
	BroadcastUserEvents   bool `yaml:"broadcast_user_events"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. Unknown keys are a hard error rather than silently ignored —
// a config typo should fail startup, not fail quietly at runtime.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Bus.MaxQueueSize == 0 {
		c.Bus.MaxQueueSize = 10000
	}
	if c.Bus.Workers == 0 {
		c.Bus.Workers = 4
	}
	if c.Bus.MaxRetryAttempts == 0 {
		c.Bus.MaxRetryAttempts = 3
	}
	if c.Bus.RetryDelaySeconds == 0 {
		c.Bus.RetryDelaySeconds = 60
	}
	if c.Bus.ShutdownDrainSeconds == 0 {
		c.Bus.ShutdownDrainSeconds = 5
	}
	if c.Bus.DeadLetterCapacity == 0 {
		c.Bus.DeadLetterCapacity = 100
	}
	if c.Transports.Email.Port == 0 {
		c.Transports.Email.Port = 587
	}
	if !c.Transports.Email.StartTLS && c.Transports.Email.Port != 465 {
		c.Transports.Email.StartTLS = true
	}
	if c.Webhooks.DefaultMaxRetries == 0 {
		c.Webhooks.DefaultMaxRetries = 3
	}
	if c.Webhooks.DefaultTimeoutSeconds == 0 {
		c.Webhooks.DefaultTimeoutSeconds = 30
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Bus.MaxQueueSize < 1 {
		return fmt.Errorf("bus.max_queue_size must be positive")
	}
	if c.Bus.Workers < 1 {
		return fmt.Errorf("bus.workers must be at least 1")
	}
	if c.Bus.MaxRetryAttempts < 1 {
		return fmt.Errorf("bus.max_retry_attempts must be at least 1")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// RetryDelay returns the configured retry backoff base as a
// time.Duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Bus.RetryDelaySeconds) * time.Second
}

// ShutdownDrain returns the configured shutdown drain deadline.
func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.Bus.ShutdownDrainSeconds) * time.Second
}

// Default returns a default configuration suitable for local
// development. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

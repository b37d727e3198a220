// Package config loads the agentd runtime's YAML configuration: one
// sub-struct per concern, aggregated under a single root Config.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for agentd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Redaction RedactionConfig `yaml:"redaction"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChannelsConfig configures thin channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// ServerConfig configures the agent identity and workspace root.
type ServerConfig struct {
	Name         string `yaml:"name"`
	SystemBrief  string `yaml:"system_brief"`
	ProjectNotes string `yaml:"project_notes"`
	WorkspaceDir string `yaml:"workspace_dir"`
}

// ProviderConfig selects and configures LLM provider backends.
type ProviderConfig struct {
	Default   string                `yaml:"default"`
	Model     string                `yaml:"model"`
	Anthropic ProviderBackendConfig `yaml:"anthropic"`
	OpenAI    ProviderBackendConfig `yaml:"openai"`
}

// ProviderBackendConfig configures one provider backend. APIKey is normally
// left empty in the file and supplied via environment variable.
type ProviderBackendConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// StoreConfig configures the session/message persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend         string        `yaml:"backend"`
	Path            string        `yaml:"path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// GatewayConfig configures the JSON-RPC agent-to-agent HTTP gateway.
type GatewayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RedactionConfig externalizes the secret-scrubbing rule applied to tool
// input before it reaches a progress or approval callback.
type RedactionConfig struct {
	// KeyPattern is a regular expression matched against JSON object keys
	// and URL query parameter names; it is compiled as given, so it is
	// case-sensitive unless it carries its own (?i) flag. Empty means use
	// the built-in default pattern.
	KeyPattern string `yaml:"key_pattern"`

	// Replacement is the string substituted for a matching value.
	Replacement string `yaml:"replacement"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelegramConfig configures the Telegram proof adapter.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// Load reads and parses path, expanding environment variables, applying
// defaults, then env-var overrides for secrets, then validating.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected single document")
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "agentd"
	}
	if cfg.Server.WorkspaceDir == "" {
		cfg.Server.WorkspaceDir = "."
	}

	if cfg.Provider.Default == "" {
		cfg.Provider.Default = "anthropic"
	}
	if cfg.Provider.Anthropic.DefaultModel == "" {
		cfg.Provider.Anthropic.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Provider.OpenAI.DefaultModel == "" {
		cfg.Provider.OpenAI.DefaultModel = "gpt-4o"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = cfg.Provider.Anthropic.DefaultModel
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "agentd.db"
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 1
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8787
	}
	if cfg.Gateway.MetricsPort == 0 {
		cfg.Gateway.MetricsPort = 9090
	}

	if cfg.Redaction.Replacement == "" {
		cfg.Redaction.Replacement = "[REDACTED]"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		cfg.Provider.Anthropic.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		cfg.Provider.OpenAI.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTD_HTTP_PORT")); value != "" {
		if parsed, err := parsePort(value); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTD_STORE_PATH")); value != "" {
		cfg.Store.Path = value
	}
}

func parsePort(value string) (int, error) {
	var port int
	_, err := fmt.Sscanf(value, "%d", &port)
	return port, err
}

// ValidationError collects every configuration problem found, rather than
// failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch cfg.Store.Backend {
	case "memory", "sqlite":
	default:
		issues = append(issues, `store.backend must be "memory" or "sqlite"`)
	}

	switch cfg.Provider.Default {
	case "anthropic", "openai":
	default:
		issues = append(issues, `provider.default must be "anthropic" or "openai"`)
	}
	if cfg.Provider.Default == "anthropic" && strings.TrimSpace(cfg.Provider.Anthropic.APIKey) == "" {
		issues = append(issues, "provider.anthropic.api_key is required when provider.default is anthropic")
	}
	if cfg.Provider.Default == "openai" && strings.TrimSpace(cfg.Provider.OpenAI.APIKey) == "" {
		issues = append(issues, "provider.openai.api_key is required when provider.default is openai")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, "gateway.port must be between 0 and 65535")
	}
	if cfg.Gateway.MetricsPort < 0 || cfg.Gateway.MetricsPort > 65535 {
		issues = append(issues, "gateway.metrics_port must be between 0 and 65535")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

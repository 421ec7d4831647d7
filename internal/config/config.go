// Package config loads and validates the on-disk configuration for one
// opscore deployment: the run parameters the Orchestrator needs
// (pkg/model.Config) plus the ambient settings around it — logging, the
// Event Log's retention/output, the Event Stream's reader buffer sizes, the
// control-plane listen addresses, and the gateway credentials for whichever
// LLM backend is wired in.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opscoredev/core/internal/scheduler"
	"github.com/opscoredev/core/pkg/model"
)

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "newer than this build" {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade opscore to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
}

// ValidateVersion ensures the provided config version is supported.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "missing or outdated"}
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "outdated"}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "newer than this build"}
	}
	return nil
}

// LoggingConfig controls the slog handler the whole process shares.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// EventLogConfig configures the Event Log's (C2) retention bound and durable
// side-channel writer.
type EventLogConfig struct {
	Retention int    `yaml:"retention"`
	Output    string `yaml:"output"` // "stdout", "stderr", "file:/path", or "" to disable
	Format    string `yaml:"format"` // "json" or "text"
}

// StreamConfig sizes a reader's two-lane backpressure buffers on the Event
// Stream (C-stream).
type StreamConfig struct {
	HighPriBuffer int `yaml:"high_pri_buffer"`
	LowPriBuffer  int `yaml:"low_pri_buffer"`
}

// ServerConfig controls the control-plane listen addresses, for whichever
// transport cmd/opscore exposes the Orchestrator's control surface over.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// AnthropicConfig configures the Anthropic gateway adapter.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig configures the OpenAI gateway adapter.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GatewayConfig selects and configures the Session Gateway (C1) backend.
type GatewayConfig struct {
	Provider  string           `yaml:"provider"` // "anthropic" or "openai"
	Anthropic AnthropicConfig  `yaml:"anthropic"`
	OpenAI    OpenAIConfig     `yaml:"openai"`
}

// Config is the full on-disk shape of an opscore deployment.
type Config struct {
	Version  int            `yaml:"version"`
	Run      model.Config   `yaml:"run"`
	Logging  LoggingConfig  `yaml:"logging"`
	EventLog EventLogConfig `yaml:"event_log"`
	Stream   StreamConfig   `yaml:"stream"`
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// Default returns a Config with every subsystem's defaults applied, matching
// model.DefaultConfig for the run parameters.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Run:     model.DefaultConfig(),
		Logging: LoggingConfig{Level: "info", Format: "json"},
		EventLog: EventLogConfig{
			Retention: 500,
			Output:    "stdout",
			Format:    "json",
		},
		Stream: StreamConfig{HighPriBuffer: 64, LowPriBuffer: 256},
		Server: ServerConfig{Host: "127.0.0.1", HTTPPort: 8099, MetricsPort: 9099},
		Gateway: GatewayConfig{
			Provider: "anthropic",
		},
	}
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Version == 0 {
		cfg.Version = d.Version
	}
	if cfg.Run.ManagerModel == "" {
		cfg.Run.ManagerModel = d.Run.ManagerModel
	}
	if cfg.Run.AssistantModel == "" {
		cfg.Run.AssistantModel = d.Run.AssistantModel
	}
	if cfg.Run.MaxAssistants == 0 {
		cfg.Run.MaxAssistants = d.Run.MaxAssistants
	}
	if cfg.Run.Interval == 0 {
		cfg.Run.Interval = d.Run.Interval
	}
	if cfg.Run.AssistantTimeout == 0 {
		cfg.Run.AssistantTimeout = d.Run.AssistantTimeout
	}
	if cfg.Run.ManagerLLMTimeout == 0 {
		cfg.Run.ManagerLLMTimeout = d.Run.ManagerLLMTimeout
	}
	if cfg.Run.RetryDelay == 0 {
		cfg.Run.RetryDelay = d.Run.RetryDelay
	}
	if cfg.Run.MaxRetries == 0 {
		cfg.Run.MaxRetries = d.Run.MaxRetries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.EventLog.Retention == 0 {
		cfg.EventLog.Retention = d.EventLog.Retention
	}
	if cfg.EventLog.Format == "" {
		cfg.EventLog.Format = d.EventLog.Format
	}
	if cfg.Stream.HighPriBuffer == 0 {
		cfg.Stream.HighPriBuffer = d.Stream.HighPriBuffer
	}
	if cfg.Stream.LowPriBuffer == 0 {
		cfg.Stream.LowPriBuffer = d.Stream.LowPriBuffer
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = d.Gateway.Provider
	}
}

// validate checks both the ambient settings and delegates run-parameter
// validation to model.Config.Validate.
func validate(cfg *Config) error {
	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}
	if err := cfg.Run.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if cfg.Run.IntervalCron != "" {
		if _, err := scheduler.ResolveInterval(cfg.Run.Interval, cfg.Run.IntervalCron, time.Now()); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}
	switch cfg.Gateway.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("gateway.provider must be \"anthropic\" or \"openai\", got %q", cfg.Gateway.Provider)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}
	if cfg.EventLog.Retention < 0 {
		return fmt.Errorf("event_log.retention must be >= 0")
	}
	return nil
}

// applyEnvOverrides lets deployment secrets (API keys) come from the
// environment instead of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSCORE_ANTHROPIC_API_KEY"); v != "" {
		cfg.Gateway.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPSCORE_OPENAI_API_KEY"); v != "" {
		cfg.Gateway.OpenAI.APIKey = v
	}
}

// Load reads a configuration file, resolving $include directives, expanding
// environment variables, applying defaults, and validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadString parses raw config text (no $include resolution, since there is
// no base path to resolve relative includes against) the same way Load does.
func LoadString(format, text string) (*Config, error) {
	var raw map[string]any
	switch strings.ToLower(format) {
	case "json", "json5":
		sub, err := parseRawBytes([]byte(os.ExpandEnv(text)), "inline."+format)
		if err != nil {
			return nil, err
		}
		raw = sub
	default:
		decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(text)))
		if err := decoder.Decode(&raw); err != nil {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("failed to parse config: expected single document")
		}
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Agent() AgentConfig
	Forge() ForgeConfig
	Verifier() VerifierConfig

	// Forge Setters, used by CLI flag overrides.
	SetForgeMaxAttempts(int)
	SetForgeConcurrency(int)
	SetForgeSkipPlugins([]string)
}

// Config is the root configuration for tsunami-forge.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	ForgeCfg    ForgeConfig    `mapstructure:"forge" yaml:"forge"`
	VerifierCfg VerifierConfig `mapstructure:"verifier" yaml:"verifier"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Forge() ForgeConfig       { return c.ForgeCfg }
func (c *Config) Verifier() VerifierConfig { return c.VerifierCfg }

func (c *Config) SetForgeMaxAttempts(n int)      { c.ForgeCfg.MaxAttempts = n }
func (c *Config) SetForgeConcurrency(n int)      { c.ForgeCfg.Concurrency = n }
func (c *Config) SetForgeSkipPlugins(s []string) { c.ForgeCfg.SkipPlugins = s }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the ANSI color codes for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the run ledger connection details. An empty URL
// disables the ledger.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AgentConfig groups settings for the generator side of the forge.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic. Model map keys must not
// contain dots, since viper treats them as key separators.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	// RateLimit is the sustained number of requests per second across all
	// models. Zero disables client side throttling.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// ForgeConfig controls plugin generation and assembly.
type ForgeConfig struct {
	VulnerabilitiesDir string `mapstructure:"vulnerabilities_dir" yaml:"vulnerabilities_dir"`
	// ExamplePluginDir points at a working plugin project whose gradle
	// wrapper and reference detector are reused.
	ExamplePluginDir string        `mapstructure:"example_plugin_dir" yaml:"example_plugin_dir"`
	OutputDir        string        `mapstructure:"output_dir" yaml:"output_dir"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	SkipPlugins      []string      `mapstructure:"skip_plugins" yaml:"skip_plugins"`
	History          HistoryConfig `mapstructure:"history" yaml:"history"`
}

// HistoryConfig controls whether each assembled revision of a plugin project
// is committed to a local git repository.
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	AuthorName  string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email"`
}

// VerifierConfig configures the external build step.
type VerifierConfig struct {
	Command string        `mapstructure:"command" yaml:"command"`
	Args    []string      `mapstructure:"args" yaml:"args"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// SyntaxPrecheck parses generated sources before invoking the build so
	// obvious syntax errors are reported without a gradle run.
	SyntaxPrecheck bool `mapstructure:"syntax_precheck" yaml:"syntax_precheck"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tsunami-forge")
	v.SetDefault("logger.log_file", "tsunami-forge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-pro")
	v.SetDefault("agent.llm.rate_limit", 1.0)
	v.SetDefault("agent.llm.burst", 2)
	v.SetDefault("agent.llm.models", map[string]any{
		"gemini-flash": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-flash",
			"api_timeout": "2m",
			"temperature": 0.2,
		},
		"gemini-pro": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-pro",
			"api_timeout": "5m",
			"temperature": 0.2,
		},
	})

	// -- Forge --
	v.SetDefault("forge.vulnerabilities_dir", "vulnerabilities")
	v.SetDefault("forge.example_plugin_dir", "example_plugins/sql_injection_template")
	v.SetDefault("forge.output_dir", "tsunami-agent-plugins")
	v.SetDefault("forge.max_attempts", 3)
	v.SetDefault("forge.concurrency", 1)
	v.SetDefault("forge.skip_plugins", []string{})
	v.SetDefault("forge.history.enabled", false)
	v.SetDefault("forge.history.author_name", "tsunami-forge")
	v.SetDefault("forge.history.author_email", "tsunami-forge@localhost")

	// -- Verifier --
	v.SetDefault("verifier.command", "build-plugin")
	v.SetDefault("verifier.args", []string{})
	v.SetDefault("verifier.timeout", "120s")
	v.SetDefault("verifier.syntax_precheck", true)

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper unmarshals and validates a configuration from a
// populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("database.url", "FORGE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the conventional Gemini variable for models without a key.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for name, m := range cfg.AgentCfg.LLM.Models {
			if m.APIKey == "" && m.Provider == ProviderGemini {
				m.APIKey = key
				cfg.AgentCfg.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ForgeCfg.MaxAttempts < 1 {
		return fmt.Errorf("forge.max_attempts must be at least 1")
	}
	if c.ForgeCfg.Concurrency < 1 {
		return fmt.Errorf("forge.concurrency must be a positive integer")
	}
	if c.ForgeCfg.OutputDir == "" {
		return fmt.Errorf("forge.output_dir is required")
	}
	if c.VerifierCfg.Command == "" {
		return fmt.Errorf("verifier.command is required")
	}
	if c.VerifierCfg.Timeout <= 0 {
		return fmt.Errorf("verifier.timeout must be positive")
	}
	if err := c.AgentCfg.LLM.Validate(); err != nil {
		return fmt.Errorf("agent.llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the router settings. Missing API keys are not an error
// here because commands like list and build never talk to a model.
func (l *LLMRouterConfig) Validate() error {
	if l.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if l.RateLimit > 0 && l.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate_limit is set")
	}
	for _, name := range []string{l.DefaultFastModel, l.DefaultPowerfulModel} {
		if name == "" {
			continue
		}
		if _, ok := l.Models[name]; !ok {
			return fmt.Errorf("default model %q is not defined under models", name)
		}
	}
	return nil
}

var global atomic.Pointer[Config]

// Set installs cfg as the process wide configuration.
func Set(cfg *Config) {
	global.Store(cfg)
}

// Get returns the process wide configuration, or defaults if none was set.
func Get() *Config {
	if cfg := global.Load(); cfg != nil {
		return cfg
	}
	return NewDefaultConfig()
}

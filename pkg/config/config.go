// Package config handles excel-accelerator configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
)

// Config is the root configuration structure.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Resolver     ResolverConfig     `yaml:"resolver"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Codegen      CodegenConfig      `yaml:"codegen"`
	Session      SessionConfig      `yaml:"session"`
	Server       ServerConfig       `yaml:"server"`
	Datasets     DatasetsConfig     `yaml:"datasets"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LLMConfig selects and configures the language model backend.
type LLMConfig struct {
	Backend     string        `yaml:"backend"` // "openai" or "gemini"
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// OrchestratorConfig holds turn-level policy.
type OrchestratorConfig struct {
	TurnDeadline time.Duration `yaml:"turn_deadline"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	HistoryTurns int           `yaml:"history_turns"`
}

// ResolverConfig holds column matching settings.
type ResolverConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// SandboxConfig holds execution limits.
type SandboxConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	PreviewRows int           `yaml:"preview_rows"`
}

// CodegenConfig selects how snippets are produced.
type CodegenConfig struct {
	Mode string `yaml:"mode"` // "llm" or "template"
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	MaxHistory    int           `yaml:"max_history"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	ExportDir     string        `yaml:"export_dir"` // empty disables export over HTTP
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	EnableLogging bool          `yaml:"enable_logging"`
}

// DatasetsConfig holds dataset loading settings.
type DatasetsConfig struct {
	Dir          string            `yaml:"dir"`
	MaxUploadMB  int               `yaml:"max_upload_mb"`
	SampleValues int               `yaml:"sample_values"`
	ObjectStore  ObjectStoreConfig `yaml:"object_store"`
}

// ObjectStoreConfig points at an S3-compatible bucket holding dataset files.
type ObjectStoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Backend:     "openai",
			URL:         "http://localhost:8000",
			Model:       "qwen-plus",
			APIKeyEnv:   "ACCELERATOR_LLM_API_KEY",
			Timeout:     30 * time.Second,
			Temperature: 0.1,
			MaxTokens:   1024,
		},
		Orchestrator: OrchestratorConfig{
			TurnDeadline: 60 * time.Second,
			MaxRetries:   1,
			RetryDelay:   200 * time.Millisecond,
			HistoryTurns: 3,
		},
		Resolver: ResolverConfig{
			Threshold: 0.75,
		},
		Sandbox: SandboxConfig{
			Timeout:     3 * time.Second,
			PreviewRows: 20,
		},
		Codegen: CodegenConfig{
			Mode: "llm",
		},
		Session: SessionConfig{
			IdleTTL:       2 * time.Hour,
			MaxHistory:    20,
			SweepInterval: 5 * time.Minute,
			ExportDir:     "./exports",
		},
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8081,
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  90 * time.Second,
			IdleTimeout:   60 * time.Second,
			CORSOrigins:   []string{"http://localhost:5173"},
			EnableLogging: true,
		},
		Datasets: DatasetsConfig{
			Dir:          "./data",
			MaxUploadMB:  32,
			SampleValues: 5,
			ObjectStore: ObjectStoreConfig{
				Bucket: "datasets",
				Region: "us-east-1",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that would otherwise fail deep inside a turn.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return werrors.New(werrors.ErrConfigInvalid, werrors.CategoryConfig, msg)
	}
	switch c.LLM.Backend {
	case "openai", "gemini":
	default:
		return invalid(fmt.Sprintf("llm.backend must be openai or gemini, got %q", c.LLM.Backend))
	}
	switch c.Codegen.Mode {
	case "llm", "template":
	default:
		return invalid(fmt.Sprintf("codegen.mode must be llm or template, got %q", c.Codegen.Mode))
	}
	if c.Orchestrator.TurnDeadline <= 0 {
		return invalid("orchestrator.turn_deadline must be positive")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return invalid("orchestrator.max_retries must not be negative")
	}
	if c.Sandbox.Timeout <= 0 {
		return invalid("sandbox.timeout must be positive")
	}
	if c.Sandbox.Timeout >= c.Orchestrator.TurnDeadline {
		return invalid("sandbox.timeout must be shorter than orchestrator.turn_deadline")
	}
	if c.Resolver.Threshold <= 0 || c.Resolver.Threshold > 1 {
		return invalid("resolver.threshold must be in (0, 1]")
	}
	if c.Datasets.ObjectStore.Enabled && (c.Datasets.ObjectStore.Endpoint == "" || c.Datasets.ObjectStore.Bucket == "") {
		return invalid("datasets.object_store requires endpoint and bucket when enabled")
	}
	return nil
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.ConfigWrap(err, werrors.ErrConfigNotFound, "failed to read config").
			WithContext("path", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, werrors.ConfigWrap(err, werrors.ErrConfigParseFailed, "failed to parse config").
			WithContext("path", path)
	}

	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return werrors.ConfigWrap(err, werrors.ErrConfigWriteFailed, "failed to write config file")
	}
	return nil
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}
	return "config.yaml"
}

// InitConfig creates a default config file if it doesn't exist.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists
	}
	return Default().Save(path)
}

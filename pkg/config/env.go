package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (ACCELERATOR_LLM_URL, ...).
const EnvPrefix = "ACCELERATOR"

// overridable lists the keys that may be set from the environment or flags.
var overridable = []string{
	"llm.backend", "llm.url", "llm.model", "llm.api_key_env", "llm.timeout",
	"orchestrator.turn_deadline", "orchestrator.max_retries", "orchestrator.retry_delay",
	"resolver.threshold",
	"sandbox.timeout", "sandbox.preview_rows",
	"codegen.mode",
	"session.export_dir",
	"server.host", "server.port",
	"datasets.dir",
	"datasets.object_store.enabled", "datasets.object_store.endpoint",
	"datasets.object_store.access_key", "datasets.object_store.secret_key",
	"datasets.object_store.bucket",
	"logging.level", "logging.format",
}

// NewViper returns a viper instance bound to the ACCELERATOR_ environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overridable {
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyEnv overlays every key set in v onto cfg.
func ApplyEnv(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("llm.backend", &cfg.LLM.Backend)
	str("llm.url", &cfg.LLM.URL)
	str("llm.model", &cfg.LLM.Model)
	str("llm.api_key_env", &cfg.LLM.APIKeyEnv)
	str("codegen.mode", &cfg.Codegen.Mode)
	str("session.export_dir", &cfg.Session.ExportDir)
	str("server.host", &cfg.Server.Host)
	str("datasets.dir", &cfg.Datasets.Dir)
	str("datasets.object_store.endpoint", &cfg.Datasets.ObjectStore.Endpoint)
	str("datasets.object_store.access_key", &cfg.Datasets.ObjectStore.AccessKey)
	str("datasets.object_store.secret_key", &cfg.Datasets.ObjectStore.SecretKey)
	str("datasets.object_store.bucket", &cfg.Datasets.ObjectStore.Bucket)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)

	if v.IsSet("llm.timeout") {
		cfg.LLM.Timeout = v.GetDuration("llm.timeout")
	}
	if v.IsSet("orchestrator.turn_deadline") {
		cfg.Orchestrator.TurnDeadline = v.GetDuration("orchestrator.turn_deadline")
	}
	if v.IsSet("orchestrator.max_retries") {
		cfg.Orchestrator.MaxRetries = v.GetInt("orchestrator.max_retries")
	}
	if v.IsSet("orchestrator.retry_delay") {
		cfg.Orchestrator.RetryDelay = v.GetDuration("orchestrator.retry_delay")
	}
	if v.IsSet("resolver.threshold") {
		cfg.Resolver.Threshold = v.GetFloat64("resolver.threshold")
	}
	if v.IsSet("sandbox.timeout") {
		cfg.Sandbox.Timeout = v.GetDuration("sandbox.timeout")
	}
	if v.IsSet("sandbox.preview_rows") {
		cfg.Sandbox.PreviewRows = v.GetInt("sandbox.preview_rows")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("datasets.object_store.enabled") {
		cfg.Datasets.ObjectStore.Enabled = v.GetBool("datasets.object_store.enabled")
	}
}

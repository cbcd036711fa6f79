package api

import (
	"io"
	"net/http"

	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigHandler exposes the running configuration read-only.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a ConfigHandler for cfg.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// RegisterRoutes registers the configuration API routes on the router.
func (h *ConfigHandler) RegisterRoutes(router *Router) {
	router.GET("/api/config", h.GetConfig)
	router.POST("/api/config/validate", h.ValidateConfig)
}

// -----------------------------------------------------------------------------
// API Response Types
// -----------------------------------------------------------------------------

// ConfigResponse is the camelCase view of config.Config. Secrets are
// reduced to whether they are set.
type ConfigResponse struct {
	LLM struct {
		Backend      string  `json:"backend"`
		URL          string  `json:"url"`
		Model        string  `json:"model"`
		APIKeyEnv    string  `json:"apiKeyEnv"`
		APIKeySet    bool    `json:"apiKeySet"`
		Timeout      string  `json:"timeout"`
		Temperature  float64 `json:"temperature"`
		MaxTokens    int     `json:"maxTokens"`
		CodegenMode  string  `json:"codegenMode"`
		MaxRetries   int     `json:"maxRetries"`
		RetryDelay   string  `json:"retryDelay"`
		TurnDeadline string  `json:"turnDeadline"`
	} `json:"llm"`
	Resolver struct {
		Threshold float64 `json:"threshold"`
	} `json:"resolver"`
	Sandbox struct {
		Timeout     string `json:"timeout"`
		PreviewRows int    `json:"previewRows"`
	} `json:"sandbox"`
	Session struct {
		IdleTTL      string `json:"idleTtl"`
		MaxHistory   int    `json:"maxHistory"`
		HistoryTurns int    `json:"historyTurns"`
	} `json:"session"`
	Datasets struct {
		MaxUploadMB  int    `json:"maxUploadMb"`
		SampleValues int    `json:"sampleValues"`
		ObjectStore  bool   `json:"objectStore"`
		Bucket       string `json:"bucket,omitempty"`
	} `json:"datasets"`
}

// ValidateResponse is the JSON response for POST /api/config/validate.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// GetConfig handles GET /api/config.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r, http.StatusOK, configToResponse(h.cfg))
}

// ValidateConfig handles POST /api/config/validate. The body is a YAML
// config file; fields it omits take their defaults.
func (h *ConfigHandler) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		WriteFailure(w, r, werrors.InvalidRequest("could not read the body: "+err.Error()), "", nil)
		return
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		WriteJSON(w, r, http.StatusOK, ValidateResponse{Error: "invalid YAML: " + err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		WriteJSON(w, r, http.StatusOK, ValidateResponse{Error: werrors.Detail(err)})
		return
	}
	WriteJSON(w, r, http.StatusOK, ValidateResponse{Valid: true})
}

func configToResponse(cfg *config.Config) *ConfigResponse {
	resp := &ConfigResponse{}

	resp.LLM.Backend = cfg.LLM.Backend
	resp.LLM.URL = cfg.LLM.URL
	resp.LLM.Model = cfg.LLM.Model
	resp.LLM.APIKeyEnv = cfg.LLM.APIKeyEnv
	resp.LLM.APIKeySet = cfg.LLM.APIKey() != ""
	resp.LLM.Timeout = cfg.LLM.Timeout.String()
	resp.LLM.Temperature = cfg.LLM.Temperature
	resp.LLM.MaxTokens = cfg.LLM.MaxTokens
	resp.LLM.CodegenMode = cfg.Codegen.Mode
	resp.LLM.MaxRetries = cfg.Orchestrator.MaxRetries
	resp.LLM.RetryDelay = cfg.Orchestrator.RetryDelay.String()
	resp.LLM.TurnDeadline = cfg.Orchestrator.TurnDeadline.String()

	resp.Resolver.Threshold = cfg.Resolver.Threshold

	resp.Sandbox.Timeout = cfg.Sandbox.Timeout.String()
	resp.Sandbox.PreviewRows = cfg.Sandbox.PreviewRows

	resp.Session.IdleTTL = cfg.Session.IdleTTL.String()
	resp.Session.MaxHistory = cfg.Session.MaxHistory
	resp.Session.HistoryTurns = cfg.Orchestrator.HistoryTurns

	resp.Datasets.MaxUploadMB = cfg.Datasets.MaxUploadMB
	resp.Datasets.SampleValues = cfg.Datasets.SampleValues
	resp.Datasets.ObjectStore = cfg.Datasets.ObjectStore.Enabled
	if cfg.Datasets.ObjectStore.Enabled {
		resp.Datasets.Bucket = cfg.Datasets.ObjectStore.Bucket
	}
	return resp
}

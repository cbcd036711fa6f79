package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI talks to any server exposing the OpenAI chat completions API
// (OpenAI itself, DashScope compatible mode, vLLM, Ollama).
type OpenAI struct {
	name        string
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(cfg Config) *OpenAI {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = "http://localhost:8000"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAI{
		name:        name,
		baseURL:     url,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (o *OpenAI) Name() string { return o.name }
func (o *OpenAI) Type() Type   { return TypeOpenAI }

func (o *OpenAI) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	o.authorize(req)
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (o *OpenAI) Capabilities() Capabilities {
	return Capabilities{
		ContextLimit: 32768,
		JSONMode:     true,
		MaxTokens:    4096,
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = o.model
	}

	oaReq := openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if oaReq.MaxTokens == 0 {
		oaReq.MaxTokens = o.maxTokens
	}
	if oaReq.Temperature == 0 {
		oaReq.Temperature = o.temperature
	}
	if req.JSON {
		oaReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(oaReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	o.authorize(httpReq)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Backend: o.name, Code: resp.StatusCode, Body: string(respBody)}
	}

	var oaResp openAIResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %v", ErrMalformed, err)
	}
	if len(oaResp.Choices) == 0 || strings.TrimSpace(oaResp.Choices[0].Message.Content) == "" {
		return nil, ErrEmpty
	}

	if oaResp.Model != "" {
		model = oaResp.Model
	}
	return &ChatResponse{
		Content:      oaResp.Choices[0].Message.Content,
		Model:        model,
		FinishReason: oaResp.Choices[0].FinishReason,
		LatencyMS:    float64(time.Since(start).Milliseconds()),
		Usage:        oaResp.Usage,
	}, nil
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

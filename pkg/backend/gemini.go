package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com"

// Gemini calls the Google generateContent API.
type Gemini struct {
	name        string
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewGemini creates a Gemini backend.
func NewGemini(cfg Config) *Gemini {
	name := cfg.Name
	if name == "" {
		name = "gemini"
	}
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = defaultGeminiURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Gemini{
		name:        name,
		baseURL:     base,
		model:       model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (g *Gemini) Name() string { return g.name }
func (g *Gemini) Type() Type   { return TypeGemini }

func (g *Gemini) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("/v1beta/models"), nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{
		ContextLimit: 1048576,
		JSONMode:     true,
		MaxTokens:    8192,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.model
	}

	var payload geminiRequest
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &geminiContent{}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, geminiPart{Text: m.Content})
		case RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	payload.GenerationConfig.Temperature = req.Temperature
	if payload.GenerationConfig.Temperature == 0 {
		payload.GenerationConfig.Temperature = g.temperature
	}
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens
	if payload.GenerationConfig.MaxOutputTokens == 0 {
		payload.GenerationConfig.MaxOutputTokens = g.maxTokens
	}
	if req.JSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := g.endpoint(fmt.Sprintf("/v1beta/models/%s:generateContent", model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
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
		return nil, &StatusError{Backend: g.name, Code: resp.StatusCode, Body: string(respBody)}
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("%w: decode candidates: %v", ErrMalformed, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmpty
	}
	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmpty
	}

	return &ChatResponse{
		Content:      text.String(),
		Model:        model,
		FinishReason: strings.ToLower(gr.Candidates[0].FinishReason),
		LatencyMS:    float64(time.Since(start).Milliseconds()),
		Usage: TokenUsage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (g *Gemini) endpoint(path string) string {
	return g.baseURL + path + "?key=" + url.QueryEscape(g.apiKey)
}

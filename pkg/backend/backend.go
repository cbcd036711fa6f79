// Package backend provides the unified interface for language model calls.
// Every pipeline stage that needs a model goes through a Backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type identifies the backend type.
type Type string

const (
	TypeOpenAI   Type = "openai"   // OpenAI-compatible /v1/chat/completions
	TypeGemini   Type = "gemini"   // Google generateContent
	TypeScripted Type = "scripted" // canned responses for tests and offline use
)

// Stage names the pipeline step a request belongs to. Backends ignore it;
// the scripted backend routes on it and logs carry it.
type Stage string

const (
	StageIntent  Stage = "intent"
	StagePlan    Stage = "plan"
	StageCode    Stage = "code"
	StageExplain Stage = "explain"
)

// Capabilities describes what a backend can do.
type Capabilities struct {
	ContextLimit int  `json:"contextLimit"`
	JSONMode     bool `json:"jsonMode"`
	MaxTokens    int  `json:"maxTokens"`
}

// ChatMessage represents a single message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest contains parameters for a chat request.
type ChatRequest struct {
	Stage       Stage         `json:"-"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	JSON        bool          `json:"-"` // ask for a JSON object reply
}

// ChatResponse contains the model's response.
type ChatResponse struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	LatencyMS    float64    `json:"latency_ms"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason"`
}

// Backend is the unified interface for model communication.
type Backend interface {
	Name() string
	Type() Type
	IsAvailable(ctx context.Context) bool
	Capabilities() Capabilities
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Config holds common backend configuration.
type Config struct {
	Name        string        `yaml:"name"`
	Type        Type          `yaml:"type"`
	URL         string        `yaml:"url,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	APIKey      string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Temperature float64       `yaml:"temperature,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
}

var (
	// ErrUnavailable means the backend could not be reached or answered 5xx.
	ErrUnavailable = errors.New("model backend unavailable")
	// ErrEmpty means the backend answered with no content.
	ErrEmpty = errors.New("model returned an empty response")
	// ErrMalformed means the content could not be parsed into the expected shape.
	ErrMalformed = errors.New("model returned a malformed response")
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("model backend rejected credentials")
	// ErrRateLimited means the backend asked us to slow down.
	ErrRateLimited = errors.New("model backend rate limited")
)

// StatusError wraps a non-2xx HTTP reply.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.Code, truncate(e.Body, 200))
}

// Unwrap maps the status code to a sentinel.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == 401 || e.Code == 403:
		return ErrUnauthorized
	case e.Code == 429:
		return ErrRateLimited
	case e.Code >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// IsTransient reports whether a failed call is worth one more attempt.
// Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// Package intent labels an utterance as data analysis, chitchat or unclear.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
)

// Label is the classifier output.
type Label string

const (
	DataAnalysis Label = "data_analysis"
	Chitchat     Label = "chitchat"
	Unclear      Label = "unclear"
)

// IsValid returns true for a known label.
func (l Label) IsValid() bool {
	switch l {
	case DataAnalysis, Chitchat, Unclear:
		return true
	default:
		return false
	}
}

// ChitchatReply is the fixed answer to small talk.
const ChitchatReply = "I can only help with questions about your table. Try asking something like \"What is the total of Amount?\""

// Classification is the labelled utterance.
type Classification struct {
	Label      Label   `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	// Question is the follow-up to ask when Label is Unclear.
	Question string `json:"clarification,omitempty"`
	// Fallback is set when the label came from keyword rules because the
	// model call failed or its reply could not be read.
	Fallback bool `json:"fallback,omitempty"`
}

// Classifier makes one model call per utterance.
type Classifier struct {
	backend backend.Backend
	retry   backend.RetryPolicy
	logger  *slog.Logger
}

// New creates a classifier.
func New(b backend.Backend, retry backend.RetryPolicy, logger *slog.Logger) *Classifier {
	return &Classifier{backend: b, retry: retry, logger: logging.Component(logger, "intent")}
}

type reply struct {
	Intent        string   `json:"intent"`
	Confidence    *float64 `json:"confidence"`
	Reason        string   `json:"reason"`
	Clarification string   `json:"clarification"`
}

// Classify labels utterance. It never fails: model failures fall back to
// keyword rules and otherwise to Unclear with a generic follow-up question.
func (c *Classifier) Classify(ctx context.Context, utterance string, columns []string) Classification {
	req := backend.ChatRequest{
		Stage: backend.StageIntent,
		JSON:  true,
		Messages: []backend.ChatMessage{
			{Role: backend.RoleSystem, Content: systemPrompt},
			{Role: backend.RoleUser, Content: userPrompt(utterance, columns)},
		},
	}

	r, attempts, err := backend.Call(ctx, c.backend, req, c.retry, parseReply)
	if err != nil {
		c.logger.Warn("intent model call failed, using keyword fallback", "attempts", attempts, "error", err)
		return Fallback(utterance, columns)
	}

	out := Classification{
		Label:      Label(r.Intent),
		Confidence: 0.5,
		Reason:     r.Reason,
		Question:   strings.TrimSpace(r.Clarification),
	}
	if r.Confidence != nil {
		out.Confidence = clamp(*r.Confidence)
	}
	if out.Label == Unclear && out.Question == "" {
		out.Question = DefaultQuestion(columns)
	}
	c.logger.Debug("intent classified", "label", out.Label, "confidence", out.Confidence)
	return out
}

func parseReply(content string) (reply, error) {
	var r reply
	if err := backend.DecodeJSON(content, &r); err != nil {
		return r, err
	}
	r.Intent = strings.ToLower(strings.TrimSpace(r.Intent))
	if r.Intent == "data-analysis" || r.Intent == "analysis" {
		r.Intent = string(DataAnalysis)
	}
	if !Label(r.Intent).IsValid() {
		return r, fmt.Errorf("unknown intent label %q", r.Intent)
	}
	return r, nil
}

var greetingWords = map[string]bool{
	"hello": true, "hi": true, "hey": true, "thanks": true, "thank": true,
	"thx": true, "bye": true, "goodbye": true, "morning": true,
}

var greetingPhrases = []string{"你好", "谢谢", "再见", "拜拜", "您好"}

// Fallback labels utterance without a model: greetings are chitchat,
// everything else is unclear.
func Fallback(utterance string, columns []string) Classification {
	lower := strings.ToLower(utterance)
	for _, p := range greetingPhrases {
		if strings.Contains(lower, p) {
			return Classification{Label: Chitchat, Fallback: true}
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if greetingWords[w] {
			return Classification{Label: Chitchat, Fallback: true}
		}
	}
	return Classification{
		Label:    Unclear,
		Reason:   "the question could not be classified",
		Question: DefaultQuestion(columns),
		Fallback: true,
	}
}

// DefaultQuestion is the follow-up asked when no better one is available.
func DefaultQuestion(columns []string) string {
	if len(columns) == 0 {
		return "Could you rephrase your question? Tell me which column to use and what to calculate."
	}
	shown := columns
	if len(shown) > 6 {
		shown = shown[:6]
	}
	return fmt.Sprintf("Could you be more specific? Which column should I use (for example %s), and what should I calculate or filter?",
		strings.Join(shown, ", "))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

const systemPrompt = `You classify questions sent to a spreadsheet analysis assistant.
Labels:
- "data_analysis": a concrete question about the table (names or implies columns, an operation, or conditions).
- "chitchat": greetings, thanks, or topics unrelated to the table.
- "unclear": about the data but missing the column, the operation or the condition needed to answer.
Reply with one JSON object only:
{"intent": "...", "confidence": 0.0-1.0, "reason": "...", "clarification": "one short follow-up question when unclear, listing candidate columns"}`

func userPrompt(utterance string, columns []string) string {
	cols := "unknown"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}
	return fmt.Sprintf("Columns: %s\nQuestion: %s", cols, utterance)
}

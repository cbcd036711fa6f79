// Package codegen turns a bound plan into a sandbox snippet.
package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
)

// Snippet sources.
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

// ErrUnresolved is returned for a plan that still has unresolved columns.
var ErrUnresolved = errors.New("plan has unresolved columns")

// Snippet is generated code, or a refusal to generate any.
type Snippet struct {
	Code        string `json:"code,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Source      string `json:"source,omitempty"`
	// Forbidden marks a refusal; Reason says why.
	Forbidden bool   `json:"forbidden,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Generator produces snippets.
type Generator interface {
	Generate(ctx context.Context, bp plan.BoundPlan, binding *dataset.Binding) (*Snippet, error)
}

func refuse(bp plan.BoundPlan) (*Snippet, bool) {
	if bp.Plan.Operation != plan.OpUnsupported {
		return nil, false
	}
	reason := "this request is outside what can be computed from the table"
	if g := strings.TrimSpace(bp.Plan.Goal); g != "" {
		reason = fmt.Sprintf("%q is outside what can be computed from the table", g)
	}
	return &Snippet{Forbidden: true, Reason: reason}, true
}

// LLMGenerator asks the model for a snippet written against the permitted
// surface.
type LLMGenerator struct {
	backend backend.Backend
	retry   backend.RetryPolicy
	logger  *slog.Logger
}

// NewLLM creates a model-backed generator.
func NewLLM(b backend.Backend, retry backend.RetryPolicy, logger *slog.Logger) *LLMGenerator {
	return &LLMGenerator{backend: b, retry: retry, logger: logging.Component(logger, "codegen")}
}

type reply struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

// Generate implements Generator. Replies that do not parse as a snippet are
// retried under the retry policy and then returned as an error.
func (g *LLMGenerator) Generate(ctx context.Context, bp plan.BoundPlan, binding *dataset.Binding) (*Snippet, error) {
	if s, ok := refuse(bp); ok {
		g.logger.Info("refusing unsupported plan")
		return s, nil
	}
	if !bp.Resolved() {
		return nil, ErrUnresolved
	}

	planJSON, err := json.MarshalIndent(bp.Plan, "", "  ")
	if err != nil {
		return nil, err
	}
	example, _, _ := Template(bp.Plan)

	req := backend.ChatRequest{
		Stage: backend.StageCode,
		JSON:  true,
		Messages: []backend.ChatMessage{
			{Role: backend.RoleSystem, Content: systemPrompt()},
			{Role: backend.RoleUser, Content: userPrompt(string(planJSON), binding, example)},
		},
	}
	r, attempts, err := backend.Call(ctx, g.backend, req, g.retry, parseReply)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("snippet generated", "attempts", attempts, "code", r.Code)
	return &Snippet{Code: r.Code, Explanation: r.Explanation, Source: SourceLLM}, nil
}

// parseReply accepts snippets that parse. Snippets that parse but use a
// forbidden capability are passed on so the sandbox reports them.
func parseReply(content string) (reply, error) {
	var r reply
	if err := backend.DecodeJSON(content, &r); err != nil {
		return r, err
	}
	r.Code = strings.TrimSpace(r.Code)
	if r.Code == "" {
		return r, errors.New("reply has no code")
	}
	if err := sandbox.Check(r.Code); err != nil {
		var forbidden *sandbox.Forbidden
		if !errors.As(err, &forbidden) {
			return r, err
		}
	}
	return r, nil
}

func systemPrompt() string {
	return `You write one expression that answers an analysis plan over a table named df.
The expression language has no statements, imports, loops or assignments.
Only these methods exist:
  df.Col(name) -> column
  df.Where(name, op, value) -> rows   (op: == != > >= < <= contains)
  df.Select(name, ...) / df.Head(n) / df.SortBy(name, descending) -> rows
  df.GroupBy(name).Sum(col) | .Mean(col) | .Min(col) | .Max(col) | .Count() -> rows
  df.Derive(target, name, op, number) -> rows with a new column (op: + - * /)
  df.Lookup(keyColumn, key, valueColumn) -> value
  df.Count() -> number of rows
  column.Sum() .Mean() .Min() .Max() .Count() .Unique() .First()
  column.Add(x) .Sub(x) .Mul(x) .Div(x) -> column
Functions: len, abs, round, ceil, floor. Allowed method names: ` + strings.Join(sandbox.AllowedMethods(), ", ") + `.
Use column names exactly as given. Reply with JSON only: {"code": "...", "explanation": "one sentence"}`
}

func userPrompt(planJSON string, binding *dataset.Binding, example string) string {
	var b strings.Builder
	if binding != nil {
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(binding.ColumnNames(), ", "))
	}
	fmt.Fprintf(&b, "Plan:\n%s\n", planJSON)
	if example != "" {
		fmt.Fprintf(&b, "A template for this kind of plan: %s\n", example)
	}
	return b.String()
}

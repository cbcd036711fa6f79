// Package explain turns an execution result into an answer for spreadsheet
// users, with the equivalent formula and the steps taken.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
)

// Input is what the explainer sees of a turn.
type Input struct {
	Utterance string
	Bound     plan.BoundPlan
	Code      string
	Result    sandbox.Result
}

// Explanation is the user-facing outcome.
type Explanation struct {
	Answer  string   `json:"answer"`
	Formula string   `json:"formula,omitempty"`
	Steps   []string `json:"steps"`
	// Failure is set when the answer explains why nothing was computed.
	Failure bool `json:"failure,omitempty"`
}

// Explainer writes answers with one model call per successful result.
type Explainer struct {
	backend backend.Backend
	retry   backend.RetryPolicy
	logger  *slog.Logger
}

// New creates an explainer.
func New(b backend.Backend, retry backend.RetryPolicy, logger *slog.Logger) *Explainer {
	return &Explainer{backend: b, retry: retry, logger: logging.Component(logger, "explain")}
}

type reply struct {
	Answer string   `json:"answer"`
	Steps  []string `json:"steps"`
}

// Explain answers in. Failed results get a deterministic explanation with
// no model call. For successful results a model error is returned.
func (e *Explainer) Explain(ctx context.Context, in Input) (*Explanation, error) {
	p := in.Bound.Plan
	out := &Explanation{Formula: Formula(p), Steps: Steps(p)}

	if !in.Result.OK() {
		out.Answer = FailureAnswer(in.Result)
		out.Failure = true
		return out, nil
	}

	req := backend.ChatRequest{
		Stage: backend.StageExplain,
		JSON:  true,
		Messages: []backend.ChatMessage{
			{Role: backend.RoleSystem, Content: systemPrompt},
			{Role: backend.RoleUser, Content: userPrompt(in, out)},
		},
	}
	r, attempts, err := backend.Call(ctx, e.backend, req, e.retry, parseReply)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("answer written", "attempts", attempts)

	out.Answer = ensureValue(r.Answer, in.Result)
	if len(r.Steps) > 0 {
		out.Steps = r.Steps
	}
	return out, nil
}

func parseReply(content string) (reply, error) {
	var r reply
	if err := backend.DecodeJSON(content, &r); err != nil {
		// A plain-text answer is still an answer.
		text := strings.TrimSpace(content)
		if text == "" || strings.HasPrefix(text, "{") {
			return r, err
		}
		return reply{Answer: text}, nil
	}
	r.Answer = strings.TrimSpace(r.Answer)
	if r.Answer == "" {
		return r, errors.New("reply has no answer")
	}
	return r, nil
}

// ensureValue makes sure a scalar answer states the computed number.
func ensureValue(answer string, res sandbox.Result) string {
	if !res.IsScalar() || strings.Contains(answer, res.ValueRepr) {
		return answer
	}
	return fmt.Sprintf("%s (result: %s)", strings.TrimRight(answer, " "), res.ValueRepr)
}

// FailureAnswer explains why a result has no value.
func FailureAnswer(res sandbox.Result) string {
	switch res.Kind {
	case sandbox.KindForbidden:
		return fmt.Sprintf("I can't do that here: %s. I can sum, average, count, filter, group, look up values or add calculated columns.", res.Reason)
	case sandbox.KindTimeout:
		return fmt.Sprintf("The calculation took too long and was stopped (%s). Try narrowing the question, for example with a filter.", res.Message)
	case sandbox.KindRuntimeFailure:
		return fmt.Sprintf("The calculation could not be completed: %s. Check that the columns hold the kind of values the question needs.", res.Message)
	default:
		return "The calculation did not produce a result."
	}
}

const systemPrompt = `You explain spreadsheet analysis results to Excel users.
Use Excel language (filters, SUM, PivotTable), never programming terms.
Answer the question directly in one to three sentences and state the number when the result is a number.
Reply with JSON only: {"answer": "...", "steps": ["Step 1: ...", "Step 2: ..."]}`

func userPrompt(in Input, out *Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Utterance)
	if g := in.Bound.Plan.Goal; g != "" {
		fmt.Fprintf(&b, "Goal: %s\n", g)
	}
	if len(out.Steps) > 0 {
		fmt.Fprintf(&b, "Steps taken:\n%s\n", strings.Join(out.Steps, "\n"))
	}
	if out.Formula != "" {
		fmt.Fprintf(&b, "Spreadsheet equivalent: %s\n", out.Formula)
	}
	fmt.Fprintf(&b, "Result (%s):\n%s\n", in.Result.ValueType, in.Result.ValueRepr)
	return b.String()
}

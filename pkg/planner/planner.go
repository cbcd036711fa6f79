// Package planner turns a data question into a structured analysis plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
)

// Exchange is an earlier turn offered to the model as context.
type Exchange struct {
	Utterance string
	Goal      string
	Answer    string
}

// Request is the input of one planning call.
type Request struct {
	Utterance string
	Binding   *dataset.Binding
	History   []Exchange
}

// Outcome is the planning result.
type Outcome struct {
	Plan plan.Plan
	// Raw is the last model reply, kept for debug output.
	Raw string
	// Degraded is set when the reply could not be parsed and the plan was
	// replaced by an unsupported one.
	Degraded bool
	Attempts int
}

// Planner makes the planning model call.
type Planner struct {
	backend backend.Backend
	retry   backend.RetryPolicy
	logger  *slog.Logger
}

// New creates a planner.
func New(b backend.Backend, retry backend.RetryPolicy, logger *slog.Logger) *Planner {
	return &Planner{backend: b, retry: retry, logger: logging.Component(logger, "planner")}
}

// Plan asks the model for a plan. Unparseable or invalid replies, after the
// retry policy is spent, degrade to an unsupported plan. Only transport
// failures and cancellation are returned as errors.
func (p *Planner) Plan(ctx context.Context, req Request) (*Outcome, error) {
	if req.Binding == nil {
		return nil, errors.New("planner: no dataset binding")
	}
	chat := backend.ChatRequest{
		Stage: backend.StagePlan,
		JSON:  true,
		Messages: []backend.ChatMessage{
			{Role: backend.RoleSystem, Content: systemPrompt},
			{Role: backend.RoleUser, Content: userPrompt(req)},
		},
	}

	var raw string
	parse := func(content string) (plan.Plan, error) {
		raw = content
		return Parse(content)
	}
	pl, attempts, err := backend.Call(ctx, p.backend, chat, p.retry, parse)
	switch {
	case err == nil:
		p.logger.Info("plan generated", "operation", pl.Operation, "columns", pl.Referenced(), "attempts", attempts)
		return &Outcome{Plan: pl, Raw: raw, Attempts: attempts}, nil
	case errors.Is(err, backend.ErrMalformed) && ctx.Err() == nil:
		p.logger.Warn("plan reply unusable, degrading to unsupported", "attempts", attempts, "error", err)
		return &Outcome{Plan: plan.Unsupported(req.Utterance), Raw: raw, Degraded: true, Attempts: attempts}, nil
	default:
		return nil, err
	}
}

// Parse decodes and validates a plan reply.
func Parse(content string) (plan.Plan, error) {
	var pl plan.Plan
	if err := backend.DecodeJSON(content, &pl); err != nil {
		return pl, err
	}
	pl.Operation = plan.Operation(strings.ToLower(strings.TrimSpace(string(pl.Operation))))
	pl.Aggregation = plan.Aggregation(strings.ToLower(strings.TrimSpace(string(pl.Aggregation))))
	if pl.Aggregation == "avg" || pl.Aggregation == "average" {
		pl.Aggregation = plan.AggMean
	}
	if err := pl.Validate(); err != nil {
		return pl, err
	}
	return pl, nil
}

const systemPrompt = `You plan analyses of a single spreadsheet table.
Return one JSON object with these fields:
  "operation": one of "aggregate", "filter", "groupby", "transform", "lookup", "unsupported"
  "columns": every column the answer needs, spelled as the user referred to them
  "measure": the numeric column being summarised (aggregate, groupby)
  "aggregation": one of "sum", "mean", "count", "min", "max"
  "group_by": the grouping column (groupby)
  "filters": [{"column": "...", "operator": "== != > >= < <= contains", "value": ...}]
  "sort": {"column": "...", "descending": true} (optional)
  "limit": number of rows to keep (optional)
  "transform": {"column": "...", "operator": "+ - * /", "operand": number, "target": "new column name"} (transform)
  "lookup": {"key_column": "...", "key": ..., "value_column": "..."} (lookup)
  "goal": one sentence describing the answer
  "steps": short human readable steps
Use "unsupported" when the question cannot be answered with these operations
(charts, writing files, editing the table, questions about other data).
Reply with JSON only.`

func userPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Table columns:\n")
	for _, c := range req.Binding.Columns {
		fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Type)
		if len(c.SampleValues) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(c.SampleValues, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Rows: %d\n", req.Binding.RowCount)
	if len(req.History) > 0 {
		b.WriteString("\nEarlier in this conversation:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "- Q: %s", h.Utterance)
			if h.Goal != "" {
				fmt.Fprintf(&b, " | plan: %s", h.Goal)
			}
			if h.Answer != "" {
				fmt.Fprintf(&b, " | A: %s", oneLine(h.Answer, 160))
			}
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", req.Utterance)
	return b.String()
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

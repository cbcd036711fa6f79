// Package plan defines the structured analysis plan produced by the planner
// and the bound plan produced by the schema resolver.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Operation is the kind of data operation a plan performs.
type Operation string

const (
	OpAggregate   Operation = "aggregate"
	OpFilter      Operation = "filter"
	OpGroupBy     Operation = "groupby"
	OpTransform   Operation = "transform"
	OpLookup      Operation = "lookup"
	OpUnsupported Operation = "unsupported"
)

// IsValid returns true for a known operation.
func (o Operation) IsValid() bool {
	switch o {
	case OpAggregate, OpFilter, OpGroupBy, OpTransform, OpLookup, OpUnsupported:
		return true
	default:
		return false
	}
}

// Aggregation is a reduction applied to a measure column.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggMean  Aggregation = "mean"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// IsValid returns true for a known aggregation.
func (a Aggregation) IsValid() bool {
	switch a {
	case AggSum, AggMean, AggCount, AggMin, AggMax:
		return true
	default:
		return false
	}
}

// Filter operators understood by the sandbox.
var Operators = []string{"==", "!=", ">", ">=", "<", "<=", "contains"}

// IsOperator reports whether op is a supported filter operator.
func IsOperator(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Filter restricts rows by comparing a column against a value.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Sort orders result rows.
type Sort struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// Transform derives a new column from an arithmetic operation.
type Transform struct {
	Column   string  `json:"column"`
	Operator string  `json:"operator"` // + - * /
	Operand  float64 `json:"operand"`
	Target   string  `json:"target"`
}

// Lookup fetches one value by key.
type Lookup struct {
	KeyColumn   string `json:"key_column"`
	Key         any    `json:"key"`
	ValueColumn string `json:"value_column"`
}

// Plan is the structured intermediate representation of a question.
type Plan struct {
	Operation   Operation   `json:"operation"`
	Columns     []string    `json:"columns"`
	Measure     string      `json:"measure,omitempty"`
	Aggregation Aggregation `json:"aggregation,omitempty"`
	GroupBy     string      `json:"group_by,omitempty"`
	Filters     []Filter    `json:"filters,omitempty"`
	Sort        *Sort       `json:"sort,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Transform   *Transform  `json:"transform,omitempty"`
	Lookup      *Lookup     `json:"lookup,omitempty"`
	Goal        string      `json:"goal"`
	Steps       []string    `json:"steps,omitempty"`
}

// ErrInvalidPlan is wrapped by Validate failures.
var ErrInvalidPlan = errors.New("invalid plan")

// Unsupported returns a plan that no code will be generated for.
func Unsupported(goal string) Plan {
	return Plan{Operation: OpUnsupported, Goal: goal}
}

// Validate checks that the fields required by the operation are present.
func (p *Plan) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, fmt.Sprintf(format, args...))
	}
	if !p.Operation.IsValid() {
		return fail("unknown operation %q", p.Operation)
	}
	if p.Operation == OpUnsupported {
		return nil
	}
	if p.Aggregation != "" && !p.Aggregation.IsValid() {
		return fail("unknown aggregation %q", p.Aggregation)
	}
	for _, f := range p.Filters {
		if f.Column == "" || !IsOperator(f.Operator) {
			return fail("filter needs a column and one of %s", strings.Join(Operators, " "))
		}
	}
	if p.Limit < 0 {
		return fail("limit must not be negative")
	}

	switch p.Operation {
	case OpAggregate:
		if p.Measure == "" && p.Aggregation != AggCount {
			return fail("aggregate needs a measure column")
		}
		if p.Aggregation == "" {
			return fail("aggregate needs an aggregation")
		}
	case OpGroupBy:
		if p.GroupBy == "" {
			return fail("groupby needs a group_by column")
		}
		if p.Aggregation == "" {
			return fail("groupby needs an aggregation")
		}
		if p.Measure == "" && p.Aggregation != AggCount {
			return fail("groupby needs a measure column")
		}
	case OpFilter:
		if len(p.Filters) == 0 {
			return fail("filter needs at least one filter")
		}
	case OpTransform:
		t := p.Transform
		if t == nil || t.Column == "" {
			return fail("transform needs a source column")
		}
		switch t.Operator {
		case "+", "-", "*", "/":
		default:
			return fail("transform operator must be one of + - * /")
		}
	case OpLookup:
		l := p.Lookup
		if l == nil || l.KeyColumn == "" || l.ValueColumn == "" || l.Key == nil {
			return fail("lookup needs key_column, key and value_column")
		}
	}

	if len(p.Referenced()) == 0 {
		return fail("plan references no columns")
	}
	return nil
}

// Referenced returns every column name the plan mentions, deduplicated in
// first-mention order.
func (p *Plan) Referenced() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, c := range p.Columns {
		add(c)
	}
	add(p.Measure)
	add(p.GroupBy)
	for _, f := range p.Filters {
		add(f.Column)
	}
	if p.Sort != nil {
		add(p.Sort.Column)
	}
	if p.Transform != nil {
		add(p.Transform.Column)
	}
	if p.Lookup != nil {
		add(p.Lookup.KeyColumn)
		add(p.Lookup.ValueColumn)
	}
	return out
}

// Rename returns a copy of p with every column reference passed through fn.
func (p Plan) Rename(fn func(string) string) Plan {
	out := p
	out.Columns = make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out.Columns[i] = fn(c)
	}
	if p.Measure != "" {
		out.Measure = fn(p.Measure)
	}
	if p.GroupBy != "" {
		out.GroupBy = fn(p.GroupBy)
	}
	if len(p.Filters) > 0 {
		out.Filters = make([]Filter, len(p.Filters))
		for i, f := range p.Filters {
			f.Column = fn(f.Column)
			out.Filters[i] = f
		}
	}
	if p.Sort != nil {
		s := *p.Sort
		s.Column = fn(s.Column)
		out.Sort = &s
	}
	if p.Transform != nil {
		t := *p.Transform
		t.Column = fn(t.Column)
		out.Transform = &t
	}
	if p.Lookup != nil {
		l := *p.Lookup
		l.KeyColumn = fn(l.KeyColumn)
		l.ValueColumn = fn(l.ValueColumn)
		out.Lookup = &l
	}
	out.Steps = append([]string(nil), p.Steps...)
	return out
}

// Match methods recorded by the resolver.
const (
	MatchExact      = "exact"
	MatchNormalized = "normalized"
	MatchSimilar    = "similar"
	MatchNone       = "none"
)

// Binding records how one raw column reference was resolved.
type Binding struct {
	Raw      string  `json:"raw"`
	Resolved string  `json:"resolved,omitempty"`
	Score    float64 `json:"score"`
	Method   string  `json:"method"`
}

// BoundPlan is a plan whose column references were resolved against a
// dataset schema. Plan holds the rewritten references; Unresolved lists the
// raw names that matched nothing.
type BoundPlan struct {
	Plan       Plan      `json:"plan"`
	Bindings   []Binding `json:"bindings"`
	Unresolved []string  `json:"unresolved,omitempty"`
}

// Resolved reports whether every reference was bound.
func (b *BoundPlan) Resolved() bool {
	return len(b.Unresolved) == 0
}

// ResolvedColumns returns the bound column names in reference order.
func (b *BoundPlan) ResolvedColumns() []string {
	out := make([]string, 0, len(b.Bindings))
	for _, bd := range b.Bindings {
		if bd.Resolved != "" {
			out = append(out, bd.Resolved)
		}
	}
	return out
}

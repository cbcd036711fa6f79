package codegen

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
)

// TemplateGenerator builds snippets directly from the plan. It needs no model
// and always produces the same code for the same plan.
type TemplateGenerator struct{}

// NewTemplate creates a template generator.
func NewTemplate() *TemplateGenerator { return &TemplateGenerator{} }

// Generate implements Generator.
func (TemplateGenerator) Generate(ctx context.Context, bp plan.BoundPlan, _ *dataset.Binding) (*Snippet, error) {
	if s, ok := refuse(bp); ok {
		return s, nil
	}
	if !bp.Resolved() {
		return nil, ErrUnresolved
	}
	code, explanation, err := Template(bp.Plan)
	if err != nil {
		return nil, err
	}
	return &Snippet{Code: code, Explanation: explanation, Source: SourceTemplate}, nil
}

// Template renders the permitted snippet for p.
func Template(p plan.Plan) (code, explanation string, err error) {
	var b strings.Builder
	b.WriteString("df")
	for _, f := range p.Filters {
		fmt.Fprintf(&b, ".Where(%s, %s, %s)", quote(f.Column), quote(f.Operator), literal(f.Value))
	}
	where := describeFilters(p.Filters)

	switch p.Operation {
	case plan.OpAggregate:
		if p.Aggregation == plan.AggCount && p.Measure == "" {
			b.WriteString(".Count()")
			return b.String(), "Count the rows" + where, nil
		}
		fmt.Fprintf(&b, ".Col(%s).%s()", quote(p.Measure), method(p.Aggregation))
		return b.String(), fmt.Sprintf("Compute the %s of %s%s", p.Aggregation, p.Measure, where), nil

	case plan.OpGroupBy:
		fmt.Fprintf(&b, ".GroupBy(%s)", quote(p.GroupBy))
		label := "count"
		if p.Aggregation == plan.AggCount {
			b.WriteString(".Count()")
		} else {
			fmt.Fprintf(&b, ".%s(%s)", method(p.Aggregation), quote(p.Measure))
			label = p.Measure
		}
		if p.Sort != nil {
			// Grouped frames only hold the key and the aggregate.
			sortCol := p.Sort.Column
			if sortCol != p.GroupBy {
				sortCol = label
			}
			fmt.Fprintf(&b, ".SortBy(%s, %t)", quote(sortCol), p.Sort.Descending)
		}
		if p.Limit > 0 {
			fmt.Fprintf(&b, ".Head(%d)", p.Limit)
		}
		what := "count the rows"
		if p.Aggregation != plan.AggCount {
			what = fmt.Sprintf("compute the %s of %s", p.Aggregation, p.Measure)
		}
		return b.String(), fmt.Sprintf("Group by %s and %s%s", p.GroupBy, what, where), nil

	case plan.OpFilter:
		if p.Sort != nil {
			fmt.Fprintf(&b, ".SortBy(%s, %t)", quote(p.Sort.Column), p.Sort.Descending)
		}
		if cols := selectable(p); len(cols) > 0 {
			quoted := make([]string, len(cols))
			for i, c := range cols {
				quoted[i] = quote(c)
			}
			fmt.Fprintf(&b, ".Select(%s)", strings.Join(quoted, ", "))
		}
		if p.Limit > 0 {
			fmt.Fprintf(&b, ".Head(%d)", p.Limit)
		}
		return b.String(), "Keep the rows" + where, nil

	case plan.OpTransform:
		t := p.Transform
		target := t.Target
		if target == "" {
			target = t.Column + " (adjusted)"
		}
		fmt.Fprintf(&b, ".Derive(%s, %s, %s, %s)", quote(target), quote(t.Column), quote(t.Operator), dataset.FormatNumber(t.Operand))
		if p.Limit > 0 {
			fmt.Fprintf(&b, ".Head(%d)", p.Limit)
		}
		return b.String(), fmt.Sprintf("Add %s as %s %s %s%s", target, t.Column, t.Operator, dataset.FormatNumber(t.Operand), where), nil

	case plan.OpLookup:
		l := p.Lookup
		fmt.Fprintf(&b, ".Lookup(%s, %s, %s)", quote(l.KeyColumn), literal(l.Key), quote(l.ValueColumn))
		return b.String(), fmt.Sprintf("Find %s where %s is %v", l.ValueColumn, l.KeyColumn, l.Key), nil

	default:
		return "", "", fmt.Errorf("no template for operation %q", p.Operation)
	}
}

// selectable returns the plan columns worth projecting for a filter result:
// none when the plan only names its filter columns.
func selectable(p plan.Plan) []string {
	filterCols := make(map[string]bool)
	for _, f := range p.Filters {
		filterCols[f.Column] = true
	}
	extra := false
	for _, c := range p.Columns {
		if !filterCols[c] {
			extra = true
		}
	}
	if !extra {
		return nil
	}
	return p.Columns
}

func method(a plan.Aggregation) string {
	switch a {
	case plan.AggMean:
		return "Mean"
	case plan.AggCount:
		return "Count"
	case plan.AggMin:
		return "Min"
	case plan.AggMax:
		return "Max"
	default:
		return "Sum"
	}
}

func describeFilters(filters []plan.Filter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s %s %v", f.Column, f.Operator, f.Value)
	}
	return " where " + strings.Join(parts, " and ")
}

func quote(s string) string { return strconv.Quote(s) }

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return `""`
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return dataset.FormatNumber(x)
	case int:
		return strconv.Itoa(x)
	default:
		return strconv.Quote(fmt.Sprint(x))
	}
}

package explain

import (
	"fmt"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
)

// tableName is the structured-reference name used in formulas.
const tableName = "Data"

// Formula renders the spreadsheet equivalent of p: a formula where one
// exists, otherwise the feature a spreadsheet user would reach for.
func Formula(p plan.Plan) string {
	switch p.Operation {
	case plan.OpAggregate:
		return aggregateFormula(p)
	case plan.OpGroupBy:
		var b strings.Builder
		fmt.Fprintf(&b, "PivotTable: Rows = %s, Values = %s", p.GroupBy, pivotValue(p))
		if len(p.Filters) > 0 {
			fmt.Fprintf(&b, ", Filters = %s", criteriaText(p.Filters))
		}
		if p.Sort != nil {
			fmt.Fprintf(&b, ", sorted %s", direction(p.Sort.Descending))
		}
		if p.Limit > 0 {
			fmt.Fprintf(&b, ", top %d", p.Limit)
		}
		return b.String()
	case plan.OpFilter:
		var b strings.Builder
		fmt.Fprintf(&b, "AutoFilter: %s", criteriaText(p.Filters))
		if p.Sort != nil {
			fmt.Fprintf(&b, "; Sort by %s %s", p.Sort.Column, direction(p.Sort.Descending))
		}
		if p.Limit > 0 {
			fmt.Fprintf(&b, "; first %d rows", p.Limit)
		}
		return b.String()
	case plan.OpTransform:
		t := p.Transform
		if t == nil {
			return ""
		}
		return fmt.Sprintf("=[@[%s]]%s%s (filled down)", t.Column, t.Operator, dataset.FormatNumber(t.Operand))
	case plan.OpLookup:
		l := p.Lookup
		if l == nil {
			return ""
		}
		return fmt.Sprintf("=XLOOKUP(%s, %s, %s)", criterionValue(l.Key), ref(l.KeyColumn), ref(l.ValueColumn))
	default:
		return ""
	}
}

func aggregateFormula(p plan.Plan) string {
	if len(p.Filters) == 0 {
		switch p.Aggregation {
		case plan.AggCount:
			col := p.Measure
			if col == "" && len(p.Columns) > 0 {
				col = p.Columns[0]
			}
			if col == "" {
				return fmt.Sprintf("=ROWS(%s)", tableName)
			}
			return fmt.Sprintf("=COUNTA(%s)", ref(col))
		default:
			return fmt.Sprintf("=%s(%s)", plainFunc(p.Aggregation), ref(p.Measure))
		}
	}

	criteria := make([]string, 0, len(p.Filters))
	for _, f := range p.Filters {
		criteria = append(criteria, ref(f.Column), criterion(f))
	}
	args := strings.Join(criteria, ", ")
	if p.Aggregation == plan.AggCount {
		return fmt.Sprintf("=COUNTIFS(%s)", args)
	}
	return fmt.Sprintf("=%s(%s, %s)", ifsFunc(p.Aggregation), ref(p.Measure), args)
}

func plainFunc(a plan.Aggregation) string {
	switch a {
	case plan.AggMean:
		return "AVERAGE"
	case plan.AggMin:
		return "MIN"
	case plan.AggMax:
		return "MAX"
	default:
		return "SUM"
	}
}

func ifsFunc(a plan.Aggregation) string {
	switch a {
	case plan.AggMean:
		return "AVERAGEIFS"
	case plan.AggMin:
		return "MINIFS"
	case plan.AggMax:
		return "MAXIFS"
	default:
		return "SUMIFS"
	}
}

func pivotValue(p plan.Plan) string {
	if p.Aggregation == plan.AggCount {
		return "Count of " + firstNonEmpty(p.Measure, p.GroupBy)
	}
	names := map[plan.Aggregation]string{
		plan.AggSum: "Sum", plan.AggMean: "Average", plan.AggMin: "Min", plan.AggMax: "Max",
	}
	return fmt.Sprintf("%s of %s", names[p.Aggregation], p.Measure)
}

func ref(col string) string { return fmt.Sprintf("%s[%s]", tableName, col) }

// criterion renders a filter as a *IFS criteria argument.
func criterion(f plan.Filter) string {
	v := fmt.Sprint(f.Value)
	if n, ok := f.Value.(float64); ok {
		v = dataset.FormatNumber(n)
	}
	switch f.Operator {
	case "==":
		if _, isNum := f.Value.(float64); isNum {
			return v
		}
		return fmt.Sprintf("%q", v)
	case "!=":
		return fmt.Sprintf("%q", "<>"+v)
	case "contains":
		return fmt.Sprintf("%q", "*"+v+"*")
	default:
		return fmt.Sprintf("%q", f.Operator+v)
	}
}

func criterionValue(v any) string {
	if n, ok := v.(float64); ok {
		return dataset.FormatNumber(n)
	}
	return fmt.Sprintf("%q", fmt.Sprint(v))
}

func criteriaText(filters []plan.Filter) string {
	if len(filters) == 0 {
		return "no conditions"
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s %s %v", f.Column, operatorWord(f.Operator), f.Value)
	}
	return strings.Join(parts, " and ")
}

func operatorWord(op string) string {
	switch op {
	case "==":
		return "equals"
	case "!=":
		return "does not equal"
	case ">":
		return "is greater than"
	case ">=":
		return "is at least"
	case "<":
		return "is less than"
	case "<=":
		return "is at most"
	case "contains":
		return "contains"
	default:
		return op
	}
}

func direction(desc bool) string {
	if desc {
		return "largest to smallest"
	}
	return "smallest to largest"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Steps describes p as spreadsheet actions, one per line.
func Steps(p plan.Plan) []string {
	var steps []string
	add := func(format string, args ...any) {
		steps = append(steps, fmt.Sprintf("Step %d: ", len(steps)+1)+fmt.Sprintf(format, args...))
	}
	if len(p.Filters) > 0 && p.Operation != plan.OpLookup {
		add("Filter the rows where %s (like AutoFilter)", criteriaText(p.Filters))
	}
	switch p.Operation {
	case plan.OpAggregate:
		if p.Aggregation == plan.AggCount {
			add("Count the remaining rows (like COUNTA)")
		} else {
			add("Take the %s of the %s column (like the %s function)", aggWord(p.Aggregation), p.Measure, plainFunc(p.Aggregation))
		}
	case plan.OpGroupBy:
		add("Group the rows by %s and show the %s (like a PivotTable)", p.GroupBy, strings.ToLower(pivotValue(p)))
	case plan.OpTransform:
		if t := p.Transform; t != nil {
			add("Add a column computing %s %s %s and fill it down", t.Column, t.Operator, dataset.FormatNumber(t.Operand))
		}
	case plan.OpLookup:
		if l := p.Lookup; l != nil {
			add("Find the row where %s is %v and read %s (like XLOOKUP)", l.KeyColumn, l.Key, l.ValueColumn)
		}
	case plan.OpUnsupported:
		add("Recognise that this request cannot be answered from the table")
	}
	if p.Sort != nil && p.Operation != plan.OpAggregate {
		add("Sort by %s from %s (like Sort)", p.Sort.Column, direction(p.Sort.Descending))
	}
	if p.Limit > 0 && p.Operation != plan.OpAggregate {
		add("Keep the first %d rows", p.Limit)
	}
	return steps
}

func aggWord(a plan.Aggregation) string {
	switch a {
	case plan.AggMean:
		return "average"
	case plan.AggMin:
		return "minimum"
	case plan.AggMax:
		return "maximum"
	default:
		return "total"
	}
}

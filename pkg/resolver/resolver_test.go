package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
)

var columns = []string{"Customer", "Amount", "Date"}

func TestMatch(t *testing.T) {
	r := New(0)
	tests := []struct {
		raw      string
		cols     []string
		resolved string
		method   string
	}{
		{"amount", columns, "Amount", plan.MatchExact},
		{"  AMOUNT ", columns, "Amount", plan.MatchExact},
		{"order_date", []string{"Order Date", "Ship Date"}, "Order Date", plan.MatchNormalized},
		{"Amout", columns, "Amount", plan.MatchSimilar},
		{"Customers", columns, "Customer", plan.MatchSimilar},
		{"Sales Amount", []string{"Amount", "Region"}, "Amount", plan.MatchSimilar},
		{"Qty", []string{"Quantity Ordered"}, "", plan.MatchNone},
		{"Revenue", columns, "", plan.MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			b := r.Match(tt.raw, tt.cols)
			assert.Equal(t, tt.method, b.Method)
			assert.Equal(t, tt.resolved, b.Resolved)
		})
	}
}

func TestMatch_TieGoesToFirstName(t *testing.T) {
	r := New(0.5)
	// "Date1" and "Date2" are equally far from "Date3".
	b := r.Match("Date3", []string{"Date2", "Date1"})
	assert.Equal(t, "Date1", b.Resolved)

	b = r.Match("amount", []string{"amount", "AMOUNT"})
	assert.Equal(t, "AMOUNT", b.Resolved, "exact duplicates resolve lexicographically too")
}

func TestResolve_RewritesPlan(t *testing.T) {
	p := plan.Plan{
		Operation:   plan.OpAggregate,
		Columns:     []string{"amount"},
		Measure:     "amount",
		Aggregation: plan.AggSum,
		Filters:     []plan.Filter{{Column: "customer", Operator: "==", Value: "Acme"}},
	}
	bound := New(0).Resolve(p, columns)

	require.True(t, bound.Resolved())
	assert.Equal(t, "Amount", bound.Plan.Measure)
	assert.Equal(t, []string{"Amount"}, bound.Plan.Columns)
	assert.Equal(t, "Customer", bound.Plan.Filters[0].Column)
	assert.Equal(t, []string{"Amount", "Customer"}, bound.ResolvedColumns())
	assert.Equal(t, "amount", p.Measure, "input plan is not modified")
}

func TestResolve_FlagsUnresolved(t *testing.T) {
	p := plan.Plan{
		Operation:   plan.OpAggregate,
		Columns:     []string{"Revenue"},
		Measure:     "Revenue",
		Aggregation: plan.AggSum,
	}
	bound := New(0).Resolve(p, []string{"Amount"})
	assert.False(t, bound.Resolved())
	assert.Equal(t, []string{"Revenue"}, bound.Unresolved)
	assert.Equal(t, "Revenue", bound.Plan.Measure)
}

func TestResolve_Deterministic(t *testing.T) {
	p := plan.Plan{Operation: plan.OpAggregate, Columns: []string{"amt total"}, Measure: "amt total", Aggregation: plan.AggSum}
	cols := []string{"Amt Totals", "Amt Total2", "Total"}
	first := New(0.5).Resolve(p, cols)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, New(0.5).Resolve(p, cols))
	}
}

func TestResolve_UnsupportedPlan(t *testing.T) {
	bound := New(0).Resolve(plan.Unsupported("draw a chart"), columns)
	assert.True(t, bound.Resolved())
	assert.Empty(t, bound.Bindings)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Amount", "amount"))
	assert.Equal(t, normalizedScore, Similarity("unit-price", "Unit Price"))
	assert.Less(t, Similarity("Revenue", "Amount"), DefaultThreshold)
}

package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{
			name: "aggregate ok",
			plan: Plan{Operation: OpAggregate, Columns: []string{"Amount"}, Measure: "Amount", Aggregation: AggSum},
		},
		{
			name: "count without measure ok",
			plan: Plan{Operation: OpAggregate, Columns: []string{"Customer"}, Aggregation: AggCount},
		},
		{
			name:    "aggregate without measure",
			plan:    Plan{Operation: OpAggregate, Columns: []string{"Amount"}, Aggregation: AggSum},
			wantErr: "measure",
		},
		{
			name:    "unknown operation",
			plan:    Plan{Operation: "pivot"},
			wantErr: "unknown operation",
		},
		{
			name:    "bad aggregation",
			plan:    Plan{Operation: OpAggregate, Measure: "Amount", Aggregation: "median"},
			wantErr: "unknown aggregation",
		},
		{
			name:    "groupby without key",
			plan:    Plan{Operation: OpGroupBy, Measure: "Amount", Aggregation: AggSum},
			wantErr: "group_by",
		},
		{
			name:    "filter without filters",
			plan:    Plan{Operation: OpFilter, Columns: []string{"Amount"}},
			wantErr: "at least one filter",
		},
		{
			name:    "filter with bad operator",
			plan:    Plan{Operation: OpFilter, Filters: []Filter{{Column: "Amount", Operator: "~", Value: 1}}},
			wantErr: "filter needs",
		},
		{
			name:    "transform bad operator",
			plan:    Plan{Operation: OpTransform, Transform: &Transform{Column: "Amount", Operator: "^"}},
			wantErr: "transform operator",
		},
		{
			name:    "lookup incomplete",
			plan:    Plan{Operation: OpLookup, Lookup: &Lookup{KeyColumn: "Customer"}},
			wantErr: "lookup needs",
		},
		{
			name: "unsupported always valid",
			plan: Unsupported("make me a chart"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReferenced_DedupesInOrder(t *testing.T) {
	p := Plan{
		Operation:   OpGroupBy,
		Columns:     []string{"amount", "customer"},
		Measure:     "amount",
		GroupBy:     "region",
		Aggregation: AggSum,
		Filters:     []Filter{{Column: "date", Operator: ">", Value: "2024-01-01"}},
		Sort:        &Sort{Column: "amount"},
	}
	assert.Equal(t, []string{"amount", "customer", "region", "date"}, p.Referenced())
}

func TestRename_DoesNotAlias(t *testing.T) {
	p := Plan{
		Operation: OpFilter,
		Columns:   []string{"amt"},
		Filters:   []Filter{{Column: "amt", Operator: ">", Value: 5}},
		Sort:      &Sort{Column: "amt"},
	}
	out := p.Rename(strings.ToUpper)

	assert.Equal(t, []string{"AMT"}, out.Columns)
	assert.Equal(t, "AMT", out.Filters[0].Column)
	assert.Equal(t, "AMT", out.Sort.Column)
	assert.Equal(t, "amt", p.Filters[0].Column)
	assert.Equal(t, "amt", p.Sort.Column)
}

func TestBoundPlan(t *testing.T) {
	b := BoundPlan{
		Bindings: []Binding{
			{Raw: "amount", Resolved: "Amount", Score: 1, Method: MatchExact},
			{Raw: "Revenue", Method: MatchNone},
		},
		Unresolved: []string{"Revenue"},
	}
	assert.False(t, b.Resolved())
	assert.Equal(t, []string{"Amount"}, b.ResolvedColumns())
}

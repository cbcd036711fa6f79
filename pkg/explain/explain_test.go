package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
)

func scalar(v float64, repr string) sandbox.Result {
	return sandbox.Result{Kind: sandbox.KindSuccess, ValueType: sandbox.TypeNumber, ValueRepr: repr, Scalar: &v}
}

func TestFormula(t *testing.T) {
	tests := []struct {
		name string
		plan plan.Plan
		want string
	}{
		{"sum", plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum}, "=SUM(Data[Amount])"},
		{"average", plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggMean}, "=AVERAGE(Data[Amount])"},
		{"count", plan.Plan{Operation: plan.OpAggregate, Columns: []string{"Customer"}, Aggregation: plan.AggCount}, "=COUNTA(Data[Customer])"},
		{
			"sumifs",
			plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum, Filters: []plan.Filter{
				{Column: "Customer", Operator: "==", Value: "Acme"},
				{Column: "Amount", Operator: ">", Value: 10.0},
			}},
			`=SUMIFS(Data[Amount], Data[Customer], "Acme", Data[Amount], ">10")`,
		},
		{
			"countifs contains",
			plan.Plan{Operation: plan.OpAggregate, Aggregation: plan.AggCount, Filters: []plan.Filter{
				{Column: "Customer", Operator: "contains", Value: "co"},
			}},
			`=COUNTIFS(Data[Customer], "*co*")`,
		},
		{
			"maxifs not equal",
			plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggMax, Filters: []plan.Filter{
				{Column: "Region", Operator: "!=", Value: "North"},
			}},
			`=MAXIFS(Data[Amount], Data[Region], "<>North")`,
		},
		{
			"pivot",
			plan.Plan{Operation: plan.OpGroupBy, GroupBy: "Region", Measure: "Amount", Aggregation: plan.AggSum, Sort: &plan.Sort{Descending: true}},
			"PivotTable: Rows = Region, Values = Sum of Amount, sorted largest to smallest",
		},
		{
			"autofilter",
			plan.Plan{Operation: plan.OpFilter, Filters: []plan.Filter{{Column: "Region", Operator: "==", Value: "North"}}, Limit: 5},
			"AutoFilter: Region equals North; first 5 rows",
		},
		{
			"fill down",
			plan.Plan{Operation: plan.OpTransform, Transform: &plan.Transform{Column: "Amount", Operator: "*", Operand: 1.2}},
			"=[@[Amount]]*1.2 (filled down)",
		},
		{
			"xlookup",
			plan.Plan{Operation: plan.OpLookup, Lookup: &plan.Lookup{KeyColumn: "Customer", Key: "Globex", ValueColumn: "Amount"}},
			`=XLOOKUP("Globex", Data[Customer], Data[Amount])`,
		},
		{"unsupported", plan.Unsupported("chart"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Formula(tt.plan))
		})
	}
}

func TestSteps(t *testing.T) {
	steps := Steps(plan.Plan{
		Operation: plan.OpGroupBy, GroupBy: "Region", Measure: "Amount", Aggregation: plan.AggSum,
		Filters: []plan.Filter{{Column: "Customer", Operator: "==", Value: "Acme"}},
		Sort:    &plan.Sort{Column: "Amount", Descending: true},
		Limit:   3,
	})
	require.Len(t, steps, 4)
	assert.Equal(t, "Step 1: Filter the rows where Customer equals Acme (like AutoFilter)", steps[0])
	assert.Contains(t, steps[1], "PivotTable")
	assert.Contains(t, steps[3], "first 3 rows")
}

func TestExplain_Success(t *testing.T) {
	b := backend.NewScripted().On(backend.StageExplain,
		backend.JSON(map[string]any{"answer": "The total of Amount is 350.5.", "steps": []string{"Step 1: Sum Amount"}}))
	e := New(b, backend.RetryPolicy{MaxRetries: 1}, logging.Nop())

	out, err := e.Explain(context.Background(), Input{
		Utterance: "What is the total of column Amount?",
		Bound:     plan.BoundPlan{Plan: plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum}},
		Code:      `df.Col("Amount").Sum()`,
		Result:    scalar(350.5, "350.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "The total of Amount is 350.5.", out.Answer)
	assert.Equal(t, "=SUM(Data[Amount])", out.Formula)
	assert.Equal(t, []string{"Step 1: Sum Amount"}, out.Steps)
	assert.False(t, out.Failure)

	req, _ := b.LastRequest(backend.StageExplain)
	assert.Contains(t, req.Messages[1].Content, "=SUM(Data[Amount])")
}

func TestExplain_AppendsMissingValue(t *testing.T) {
	b := backend.NewScripted().On(backend.StageExplain, backend.Text("The total is shown below."))
	e := New(b, backend.RetryPolicy{}, logging.Nop())

	out, err := e.Explain(context.Background(), Input{
		Bound:  plan.BoundPlan{Plan: plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum}},
		Result: scalar(350.5, "350.5"),
	})
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "350.5")
	assert.NotEmpty(t, out.Steps)
}

func TestExplain_FailureSkipsModel(t *testing.T) {
	b := backend.NewScripted()
	e := New(b, backend.RetryPolicy{}, logging.Nop())

	for _, res := range []sandbox.Result{
		sandbox.RuntimeFailure("division by zero"),
		sandbox.ForbiddenResult("filesystem access is not allowed"),
		sandbox.Timeout(0),
	} {
		out, err := e.Explain(context.Background(), Input{Result: res})
		require.NoError(t, err)
		assert.True(t, out.Failure)
		assert.NotEmpty(t, out.Answer)
	}
	assert.Equal(t, 0, b.Calls(backend.StageExplain))

	out, _ := e.Explain(context.Background(), Input{Result: sandbox.RuntimeFailure("division by zero")})
	assert.Contains(t, out.Answer, "division by zero")
}

func TestExplain_ModelFailureIsError(t *testing.T) {
	b := backend.NewScripted().On(backend.StageExplain, backend.Fail(backend.ErrUnavailable))
	e := New(b, backend.RetryPolicy{MaxRetries: 1}, logging.Nop())

	_, err := e.Explain(context.Background(), Input{Result: scalar(1, "1")})
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, 2, b.Calls(backend.StageExplain))
}

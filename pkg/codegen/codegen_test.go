package codegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
)

func sales(t *testing.T) *dataset.Table {
	t.Helper()
	table, err := dataset.NewTable("sales", []string{"Customer", "Region", "Amount", "Date"}, [][]string{
		{"Acme", "North", "100", "2024-01-05"},
		{"Globex", "South", "200.5", "2024-02-11"},
		{"Acme", "North", "50", "2024-03-01"},
	})
	require.NoError(t, err)
	return table
}

func TestTemplate_RunsInSandbox(t *testing.T) {
	table := sales(t)
	ex := sandbox.New(sandbox.Config{}, nil)

	tests := []struct {
		name string
		plan plan.Plan
		code string
		repr string
	}{
		{
			name: "sum",
			plan: plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum},
			code: `df.Col("Amount").Sum()`,
			repr: "350.5",
		},
		{
			name: "filtered mean",
			plan: plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggMean,
				Filters: []plan.Filter{{Column: "Customer", Operator: "==", Value: "Acme"}}},
			code: `df.Where("Customer", "==", "Acme").Col("Amount").Mean()`,
			repr: "75",
		},
		{
			name: "row count",
			plan: plan.Plan{Operation: plan.OpAggregate, Aggregation: plan.AggCount,
				Filters: []plan.Filter{{Column: "Amount", Operator: ">", Value: 60.0}}},
			code: `df.Where("Amount", ">", 60).Count()`,
			repr: "2",
		},
		{
			name: "lookup",
			plan: plan.Plan{Operation: plan.OpLookup, Lookup: &plan.Lookup{KeyColumn: "Customer", Key: "Globex", ValueColumn: "Amount"}},
			code: `df.Lookup("Customer", "Globex", "Amount")`,
			repr: "200.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, explanation, err := Template(tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, explanation)

			res := ex.Execute(context.Background(), code, table)
			require.Equal(t, sandbox.KindSuccess, res.Kind, res.Message)
			assert.Equal(t, tt.repr, res.ValueRepr)
		})
	}
}

func TestTemplate_TableShapes(t *testing.T) {
	table := sales(t)
	ex := sandbox.New(sandbox.Config{}, nil)

	plans := []plan.Plan{
		{Operation: plan.OpGroupBy, GroupBy: "Region", Measure: "Amount", Aggregation: plan.AggSum,
			Sort: &plan.Sort{Column: "Amount", Descending: true}, Limit: 1},
		{Operation: plan.OpGroupBy, GroupBy: "Customer", Aggregation: plan.AggCount, Sort: &plan.Sort{Column: "Customer"}},
		{Operation: plan.OpFilter, Columns: []string{"Customer", "Amount"},
			Filters: []plan.Filter{{Column: "Region", Operator: "==", Value: "North"}}, Sort: &plan.Sort{Column: "Amount"}},
		{Operation: plan.OpTransform, Transform: &plan.Transform{Column: "Amount", Operator: "*", Operand: 1.1, Target: "With tax"}},
	}
	for _, p := range plans {
		t.Run(string(p.Operation), func(t *testing.T) {
			code, _, err := Template(p)
			require.NoError(t, err)
			res := ex.Execute(context.Background(), code, table)
			require.Equal(t, sandbox.KindSuccess, res.Kind, "%s: %s", code, res.Message)
			assert.Equal(t, sandbox.TypeTable, res.ValueType)
		})
	}
}

func TestGenerate_RefusesUnsupported(t *testing.T) {
	bp := plan.BoundPlan{Plan: plan.Unsupported("draw a pie chart")}
	for _, g := range []Generator{NewTemplate(), NewLLM(backend.NewScripted(), backend.RetryPolicy{}, logging.Nop())} {
		s, err := g.Generate(context.Background(), bp, nil)
		require.NoError(t, err)
		assert.True(t, s.Forbidden)
		assert.Empty(t, s.Code)
		assert.Contains(t, s.Reason, "pie chart")
	}
}

func TestGenerate_RejectsUnresolved(t *testing.T) {
	bp := plan.BoundPlan{
		Plan:       plan.Plan{Operation: plan.OpAggregate, Measure: "Revenue", Aggregation: plan.AggSum},
		Unresolved: []string{"Revenue"},
	}
	b := backend.NewScripted()
	_, err := NewLLM(b, backend.RetryPolicy{}, logging.Nop()).Generate(context.Background(), bp, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, 0, b.Calls(backend.StageCode))

	_, err = NewTemplate().Generate(context.Background(), bp, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestLLMGenerate(t *testing.T) {
	table := sales(t)
	b := backend.NewScripted().On(backend.StageCode,
		backend.Text(`{"code": "df.Col(", "explanation": "broken"}`),
		backend.JSON(map[string]string{"code": `df.Col("Amount").Sum()`, "explanation": "Sum Amount"}))
	g := NewLLM(b, backend.RetryPolicy{MaxRetries: 1}, logging.Nop())

	bp := plan.BoundPlan{Plan: plan.Plan{Operation: plan.OpAggregate, Columns: []string{"Amount"}, Measure: "Amount", Aggregation: plan.AggSum}}
	s, err := g.Generate(context.Background(), bp, dataset.Bind(table, 3))
	require.NoError(t, err)
	assert.Equal(t, `df.Col("Amount").Sum()`, s.Code)
	assert.Equal(t, SourceLLM, s.Source)
	assert.Equal(t, 2, b.Calls(backend.StageCode))

	req, _ := b.LastRequest(backend.StageCode)
	assert.Contains(t, req.Messages[1].Content, "Customer, Region, Amount, Date")
	assert.Contains(t, req.Messages[1].Content, `df.Col("Amount").Sum()`)
}

func TestLLMGenerate_PassesForbiddenThrough(t *testing.T) {
	b := backend.NewScripted().On(backend.StageCode, backend.JSON(map[string]string{"code": `open("/etc/passwd")`}))
	g := NewLLM(b, backend.RetryPolicy{MaxRetries: 1}, logging.Nop())

	bp := plan.BoundPlan{Plan: plan.Plan{Operation: plan.OpAggregate, Measure: "Amount", Aggregation: plan.AggSum}}
	s, err := g.Generate(context.Background(), bp, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Calls(backend.StageCode))

	res := sandbox.New(sandbox.Config{}, nil).Execute(context.Background(), s.Code, sales(t))
	assert.Equal(t, sandbox.KindForbidden, res.Kind)
}

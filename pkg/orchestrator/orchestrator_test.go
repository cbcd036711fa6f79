package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/codegen"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/explain"
	"github.com/CDdanieldeng/excel-accelerator/pkg/intent"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/planner"
	"github.com/CDdanieldeng/excel-accelerator/pkg/resolver"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

const totalQuestion = "What is the total of column Amount?"

type fixture struct {
	o     *Orchestrator
	b     *backend.Scripted
	store *session.MemoryStore
	ref   string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	table, err := dataset.NewTable("sales", []string{"Customer", "Amount", "Date"}, [][]string{
		{"Acme", "100", "2024-01-05"},
		{"Globex", "200.5", "2024-02-11"},
		{"Acme", "50", "2024-03-01"},
	})
	require.NoError(t, err)
	reg := dataset.NewRegistry(3)
	bd, err := reg.Add(table)
	require.NoError(t, err)

	b := backend.NewScripted()
	retry := backend.RetryPolicy{MaxRetries: 1}
	store := session.NewMemoryStore()
	o, err := New(Deps{
		Datasets:   reg,
		Sessions:   store,
		Classifier: intent.New(b, retry, logging.Nop()),
		Planner:    planner.New(b, retry, logging.Nop()),
		Resolver:   resolver.New(0),
		Generator:  codegen.NewLLM(b, retry, logging.Nop()),
		Executor:   sandbox.New(sandbox.Config{Timeout: time.Second}, logging.Nop()),
		Explainer:  explain.New(b, retry, logging.Nop()),
	}, cfg, logging.Nop())
	require.NoError(t, err)
	return &fixture{o: o, b: b, store: store, ref: bd.Ref}
}

func (f *fixture) scriptTotal() {
	f.b.On(backend.StageIntent, backend.JSON(map[string]any{"intent": "data_analysis", "confidence": 0.9}))
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Amount"}, "measure": "Amount",
		"aggregation": "sum", "goal": "Total of Amount",
	}))
	f.b.On(backend.StageCode, backend.JSON(map[string]string{"code": `df.Col("Amount").Sum()`, "explanation": "Sum Amount"}))
	f.b.On(backend.StageExplain, backend.JSON(map[string]any{"answer": "The total of Amount is 350.5.", "steps": []string{"Step 1: Sum Amount"}}))
}

func (f *fixture) init(t *testing.T) string {
	t.Helper()
	res, err := f.o.Init(context.Background(), f.ref, "")
	require.NoError(t, err)
	return res.SessionID
}

func (f *fixture) send(t *testing.T, sessionID, utterance string) *Response {
	t.Helper()
	resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: sessionID, Utterance: utterance})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func assertLegalTrace(t *testing.T, resp *Response) {
	t.Helper()
	require.NotEmpty(t, resp.Debug.Trace)
	assert.Equal(t, StateStart, resp.Debug.Trace[0].From)
	for _, ev := range resp.Debug.Trace {
		assert.True(t, CanTransition(ev.From, ev.State), "%s -> %s", ev.From, ev.State)
	}
	assert.True(t, resp.State.Terminal())
	assert.Equal(t, resp.State, resp.Debug.Trace[len(resp.Debug.Trace)-1].State)
}

func TestMessage_TotalOfAmount(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	id := f.init(t)

	resp := f.send(t, id, totalQuestion)
	assert.Equal(t, StateDone, resp.State)
	assert.Empty(t, resp.Code)
	assert.Equal(t, intent.DataAnalysis, resp.Intent)
	require.NotNil(t, resp.Result)
	assert.Equal(t, sandbox.KindSuccess, resp.Result.Kind)
	assert.Equal(t, "350.5", resp.Result.ValueRepr)
	assert.Contains(t, resp.Answer, "350.5")
	assert.Equal(t, "=SUM(Data[Amount])", resp.Formula)
	assert.NotEmpty(t, resp.Thinking)

	require.NotNil(t, resp.Debug.Plan)
	assert.Equal(t, plan.OpAggregate, resp.Debug.Plan.Plan.Operation)
	assert.Equal(t, []string{"Amount"}, resp.Debug.Plan.ResolvedColumns())
	assert.False(t, resp.Debug.Recovered)
	assertLegalTrace(t, resp)

	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, string(StateDone), s.Turns[0].Terminal)
	assert.Equal(t, totalQuestion, s.Turns[0].Utterance)
}

func TestMessage_ChitchatSkipsPlanning(t *testing.T) {
	f := newFixture(t, Config{})
	f.b.On(backend.StageIntent, backend.JSON(map[string]any{"intent": "chitchat", "confidence": 0.99}))
	id := f.init(t)

	resp := f.send(t, id, "hello")
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, intent.Chitchat, resp.Intent)
	assert.Equal(t, intent.ChitchatReply, resp.Answer)
	assert.Nil(t, resp.Result)
	assert.Equal(t, 0, f.b.Calls(backend.StagePlan))
	assert.Equal(t, 0, f.b.Calls(backend.StageCode))
	assertLegalTrace(t, resp)
}

func TestMessage_ChitchatFallbackWhenModelDown(t *testing.T) {
	f := newFixture(t, Config{})
	f.b.On(backend.StageIntent, backend.Fail(backend.ErrUnavailable))
	id := f.init(t)

	resp := f.send(t, id, "hello")
	assert.Equal(t, StateDone, resp.State)
	assert.True(t, resp.Debug.Fallback)
	assert.Equal(t, 0, f.b.Calls(backend.StagePlan))
}

func TestMessage_UnclearAsksQuestion(t *testing.T) {
	f := newFixture(t, Config{})
	f.b.On(backend.StageIntent, backend.JSON(map[string]any{
		"intent": "unclear", "confidence": 0.6, "clarification": "Which column should I total?",
	}))
	id := f.init(t)

	resp := f.send(t, id, "total please")
	assert.Equal(t, StateDoneClarify, resp.State)
	assert.Equal(t, werrors.ErrUnclearIntent, resp.Code)
	assert.Equal(t, "Which column should I total?", resp.Clarification)
	assert.Equal(t, 0, f.b.Calls(backend.StagePlan))
	assertLegalTrace(t, resp)
}

func TestMessage_UnresolvedColumnClarifies(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Revenue"}, "measure": "Revenue",
		"aggregation": "sum", "goal": "Total revenue",
	}))
	id := f.init(t)

	resp := f.send(t, id, "What is the total Revenue?")
	assert.Equal(t, StateDoneClarify, resp.State)
	assert.Equal(t, werrors.ErrUnresolvedColumns, resp.Code)
	assert.Equal(t, []string{"Revenue"}, resp.Unresolved)
	assert.Contains(t, resp.Clarification, `"Revenue"`)
	assert.Contains(t, resp.Clarification, "Amount")
	assert.Equal(t, 0, f.b.Calls(backend.StageCode))
	assertLegalTrace(t, resp)

	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s.PendingClarification)
	assert.Equal(t, "What is the total Revenue?", s.PendingClarification.Utterance)

	// The reply is merged with the question that needed clarifying.
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Amount"}, "measure": "Amount", "aggregation": "sum",
	}))
	resp = f.send(t, id, "I meant Amount")
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, "What is the total Revenue? (I meant Amount)", resp.Debug.Utterance)
	req, _ := f.b.LastRequest(backend.StageIntent)
	assert.Contains(t, req.Messages[1].Content, "What is the total Revenue? (I meant Amount)")

	s, err = f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, s.PendingClarification)
	assert.Equal(t, "I meant Amount", s.Turns[1].Utterance)
}

func TestMessage_UnknownSession(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: "missing", Utterance: totalQuestion})
	assert.Nil(t, resp)
	assert.True(t, werrors.IsCode(err, werrors.ErrSessionNotFound))
	assert.Equal(t, 0, f.b.Calls(backend.StageIntent))
}

func TestMessage_RecoversSessionWithDatasetRef(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	lost := uuid.NewString()

	resp, err := f.o.Message(context.Background(), MessageRequest{
		SessionID: lost, Utterance: totalQuestion, DatasetRef: f.ref,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, lost, resp.SessionID)
	assert.True(t, resp.Debug.Recovered)

	s, err := f.store.Get(context.Background(), lost)
	require.NoError(t, err)
	assert.Equal(t, f.ref, s.DatasetRef)
	assert.Len(t, s.Turns, 1)

	_, err = f.o.Message(context.Background(), MessageRequest{
		SessionID: uuid.NewString(), Utterance: totalQuestion, DatasetRef: "ds_unknown",
	})
	assert.True(t, werrors.IsCode(err, werrors.ErrDatasetNotFound))
}

func TestMessage_RecoveryRejectsForeignIDs(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()

	for _, id := range []string{"../escaped", "lost-session", "a/b", ".."} {
		t.Run(id, func(t *testing.T) {
			resp, err := f.o.Message(context.Background(), MessageRequest{
				SessionID: id, Utterance: totalQuestion, DatasetRef: f.ref,
			})
			assert.Nil(t, resp)
			assert.True(t, werrors.IsCode(err, werrors.ErrInvalidRequest))
			_, err = f.store.Get(context.Background(), id)
			assert.ErrorIs(t, err, session.ErrNotFound)
		})
	}
	assert.Equal(t, 0, f.b.Calls(backend.StageIntent))
}

func TestMessage_EvictedMidTurnStaysEvicted(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	id := f.init(t)

	var evicted bool
	f.o.Observe(func(ev Event) {
		if ev.State == StateExecuted && ev.SessionID == id {
			evicted = f.store.Evict(context.Background(), id)
		}
	})

	resp := f.send(t, id, totalQuestion)
	assert.Equal(t, StateDone, resp.State)
	require.True(t, evicted)

	_, err := f.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestMessage_ClarificationClearedAfterError(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Revenue"}, "measure": "Revenue", "aggregation": "sum",
	}))
	id := f.init(t)

	resp := f.send(t, id, "What is the total Revenue?")
	require.Equal(t, StateDoneClarify, resp.State)

	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Amount"}, "measure": "Amount", "aggregation": "sum",
	}))
	f.b.On(backend.StageExplain, backend.Fail(backend.ErrUnavailable))
	resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: id, Utterance: "I meant Amount"})
	require.Error(t, err)
	require.Equal(t, StateDoneError, resp.State)

	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, s.PendingClarification)

	f.scriptTotal()
	resp = f.send(t, id, totalQuestion)
	assert.Equal(t, totalQuestion, resp.Debug.Utterance)
}

func TestMessage_RepeatedClarificationDoesNotNest(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "columns": []string{"Revenue"}, "measure": "Revenue", "aggregation": "sum",
	}))
	id := f.init(t)

	f.send(t, id, "What is the total Revenue?")
	resp := f.send(t, id, "the money column")
	require.Equal(t, StateDoneClarify, resp.State)
	assert.Equal(t, "What is the total Revenue? (the money column)", resp.Debug.Utterance)

	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s.PendingClarification)
	assert.Equal(t, "What is the total Revenue?", s.PendingClarification.Utterance)

	resp = f.send(t, id, "revenue means Amount")
	assert.Equal(t, "What is the total Revenue? (revenue means Amount)", resp.Debug.Utterance)
}

func TestMessage_RuntimeFailureStillDone(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StageCode, backend.JSON(map[string]string{"code": `df.Col("Amount").Div(0).Sum()`}))
	id := f.init(t)

	resp := f.send(t, id, totalQuestion)
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, werrors.ErrExecutionRuntimeFailure, resp.Code)
	require.NotNil(t, resp.Result)
	assert.Equal(t, sandbox.KindRuntimeFailure, resp.Result.Kind)
	assert.Contains(t, resp.Answer, "division by zero")
	assert.Equal(t, 0, f.b.Calls(backend.StageExplain))
	assertLegalTrace(t, resp)
}

func TestMessage_ForbiddenSnippet(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StageCode, backend.JSON(map[string]string{"code": `open("/etc/passwd")`}))
	id := f.init(t)

	resp := f.send(t, id, totalQuestion)
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, werrors.ErrSandboxForbidden, resp.Code)
	assert.Equal(t, sandbox.KindForbidden, resp.Result.Kind)
}

func TestMessage_UnreadablePlanIsRefused(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StagePlan, backend.Text("draw me a chart"))
	id := f.init(t)

	resp := f.send(t, id, "Make a pie chart of sales")
	assert.Equal(t, StateDone, resp.State)
	assert.True(t, resp.Debug.Degraded)
	assert.Equal(t, werrors.ErrSandboxForbidden, resp.Code)
	assert.Equal(t, 2, f.b.Calls(backend.StagePlan))
	assert.Equal(t, 0, f.b.Calls(backend.StageCode))
	assert.Contains(t, resp.Answer, "pie chart")
}

func TestMessage_ExplainerFailureIsError(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	f.b.On(backend.StageExplain, backend.Fail(backend.ErrUnavailable))
	id := f.init(t)

	resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: id, Utterance: totalQuestion})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, StateDoneError, resp.State)
	assert.Equal(t, werrors.ErrFlow, resp.Code)
	assert.ErrorIs(t, err, &werrors.Error{Code: werrors.ErrModelCallFailure})
	assert.Contains(t, resp.Answer, resp.RequestID)
	assert.Equal(t, 2, f.b.Calls(backend.StageExplain))
	assertLegalTrace(t, resp)
}

func TestMessage_DeadlineBoundsTurn(t *testing.T) {
	f := newFixture(t, Config{TurnDeadline: 150 * time.Millisecond})
	f.scriptTotal()
	f.b.On(backend.StagePlan, backend.Blocking())
	id := f.init(t)

	start := time.Now()
	resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: id, Utterance: totalQuestion})
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.ErrFlow))
	require.NotNil(t, resp)
	assert.Equal(t, StateDoneError, resp.State)
	assert.Equal(t, 0, f.b.Calls(backend.StageCode))
	assertLegalTrace(t, resp)

	// The session is usable again after a timed-out turn.
	f.b.On(backend.StagePlan, backend.JSON(map[string]any{
		"operation": "aggregate", "measure": "Amount", "aggregation": "sum",
	}))
	resp = f.send(t, id, totalQuestion)
	assert.Equal(t, StateDone, resp.State)
}

func TestMessage_IdenticalQuestionsResolveIdentically(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()

	var ops []plan.Operation
	var cols [][]string
	for i := 0; i < 2; i++ {
		resp := f.send(t, f.init(t), totalQuestion)
		require.NotNil(t, resp.Debug.Plan)
		ops = append(ops, resp.Debug.Plan.Plan.Operation)
		cols = append(cols, resp.Debug.Plan.ResolvedColumns())
	}
	assert.Equal(t, ops[0], ops[1])
	assert.Equal(t, cols[0], cols[1])
}

func TestMessage_HistoryReachesPlanner(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	id := f.init(t)

	f.send(t, id, totalQuestion)
	f.send(t, id, "And the average?")

	req, ok := f.b.LastRequest(backend.StagePlan)
	require.True(t, ok)
	assert.Contains(t, req.Messages[1].Content, totalQuestion)
}

func TestMessage_ConcurrentSessions(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = f.init(t)
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := f.o.Message(context.Background(), MessageRequest{SessionID: id, Utterance: totalQuestion})
			if assert.NoError(t, err) {
				assert.Equal(t, StateDone, resp.State)
			}
		}(ids[i%len(ids)])
	}
	wg.Wait()

	for _, id := range ids {
		s, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, s.Turns, 2, "session %s", id)
	}
}

func TestMessage_ObserverSeesEveryTransition(t *testing.T) {
	f := newFixture(t, Config{})
	f.scriptTotal()
	id := f.init(t)

	var mu sync.Mutex
	var events []Event
	f.o.Observe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	resp := f.send(t, id, totalQuestion)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, len(resp.Debug.Trace))
	for _, ev := range events {
		assert.Equal(t, resp.RequestID, ev.RequestID)
		assert.Equal(t, id, ev.SessionID)
	}
	assert.Equal(t, StateDone, events[len(events)-1].State)
}

func TestMessage_InvalidRequests(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.o.Message(context.Background(), MessageRequest{SessionID: "x", Utterance: "   "})
	assert.True(t, werrors.IsCode(err, werrors.ErrInvalidRequest))
	_, err = f.o.Message(context.Background(), MessageRequest{Utterance: "hello"})
	assert.True(t, werrors.IsCode(err, werrors.ErrInvalidRequest))
}

func TestInit(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.o.Init(context.Background(), f.ref, "analyst")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 3, res.Schema.ColumnCount)
	assert.Equal(t, 3, res.Schema.RowCount)
	assert.Contains(t, res.Schema.Summary, "- Amount (number)")

	s, err := f.store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "analyst", s.UserID)

	_, err = f.o.Init(context.Background(), "ds_nope", "")
	assert.True(t, werrors.IsCode(err, werrors.ErrDatasetNotFound))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateStart, StateIntentClassified))
	assert.True(t, CanTransition(StatePlanning, StateDoneClarify))
	assert.True(t, CanTransition(StateExecuted, StateDoneError))
	assert.False(t, CanTransition(StateChitchat, StatePlanning))
	assert.False(t, CanTransition(StateUnclear, StatePlanning))
	assert.False(t, CanTransition(StateDone, StateDoneError))
	assert.False(t, CanTransition(StateSchemaResolved, StateExecuted))
}

func TestUnresolvedQuestion(t *testing.T) {
	q := UnresolvedQuestion([]string{"Amout"}, []string{"Customer", "Amount", "Date"})
	assert.Equal(t, fmt.Sprintf("I couldn't find a column matching %q. Did you mean Amount? Available columns: Customer, Amount, Date.", "Amout"), q)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Planner")
}

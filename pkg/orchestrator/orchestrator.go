// Package orchestrator runs chat turns through the intent, planning,
// resolution, generation, execution and explanation stages.
//
// A turn is an explicit state machine. Every component failure is caught
// here and mapped to exactly one error code from pkg/errors; nothing below
// this package can end a turn with an unstructured failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

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

// Defaults applied by New for zero Config fields.
const (
	DefaultTurnDeadline = 60 * time.Second
	DefaultHistoryTurns = 3
)

// Classifier labels utterances.
type Classifier interface {
	Classify(ctx context.Context, utterance string, columns []string) intent.Classification
}

// Planner produces analysis plans.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Outcome, error)
}

// Resolver binds plan columns to a schema.
type Resolver interface {
	Resolve(p plan.Plan, columns []string) plan.BoundPlan
}

// Executor runs snippets.
type Executor interface {
	Execute(ctx context.Context, code string, table *dataset.Table) sandbox.Result
}

// Explainer writes answers.
type Explainer interface {
	Explain(ctx context.Context, in explain.Input) (*explain.Explanation, error)
}

// Deps are the collaborators of a turn.
type Deps struct {
	Datasets   dataset.Provider
	Sessions   session.Store
	Classifier Classifier
	Planner    Planner
	Resolver   Resolver
	Generator  codegen.Generator
	Executor   Executor
	Explainer  Explainer
}

func (d Deps) validate() error {
	var missing []string
	if d.Datasets == nil {
		missing = append(missing, "Datasets")
	}
	if d.Sessions == nil {
		missing = append(missing, "Sessions")
	}
	if d.Classifier == nil {
		missing = append(missing, "Classifier")
	}
	if d.Planner == nil {
		missing = append(missing, "Planner")
	}
	if d.Resolver == nil {
		missing = append(missing, "Resolver")
	}
	if d.Generator == nil {
		missing = append(missing, "Generator")
	}
	if d.Executor == nil {
		missing = append(missing, "Executor")
	}
	if d.Explainer == nil {
		missing = append(missing, "Explainer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Config holds turn policy.
type Config struct {
	// TurnDeadline bounds a whole turn, including waiting for the session.
	TurnDeadline time.Duration
	// HistoryTurns is how many earlier answered turns the planner sees.
	HistoryTurns int
	// MaxHistory bounds the turns kept per session.
	MaxHistory int
}

// Orchestrator runs turns. It is safe for concurrent use; turns on the same
// session are serialized through the session store.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = DefaultTurnDeadline
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	} else if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = session.DefaultMaxHistory
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logging.Component(logger, "orchestrator")}, nil
}

// Observe registers fn for the events of every turn.
func (o *Orchestrator) Observe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.RLock()
	observers := o.observers
	o.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Sessions returns the session store.
func (o *Orchestrator) Sessions() session.Store { return o.deps.Sessions }

// Datasets returns the dataset provider.
func (o *Orchestrator) Datasets() dataset.Provider { return o.deps.Datasets }

// -----------------------------------------------------------------------------
// Init
// -----------------------------------------------------------------------------

// InitResult is returned by Init.
type InitResult struct {
	SessionID string `json:"sessionId"`
	Schema    Schema `json:"schema"`
}

// Schema summarizes a bound dataset for the user.
type Schema struct {
	DatasetRef  string                     `json:"datasetRef"`
	Name        string                     `json:"name"`
	RowCount    int                        `json:"rowCount"`
	ColumnCount int                        `json:"columnCount"`
	Columns     []dataset.ColumnDescriptor `json:"columns"`
	Summary     string                     `json:"summary"`
}

// SchemaOf builds the schema summary of b.
func SchemaOf(b *dataset.Binding) Schema {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d rows, %d columns\n", b.Name, b.RowCount, len(b.Columns))
	for _, c := range b.Columns {
		fmt.Fprintf(&sb, "- %s (%s)", c.Name, c.Type)
		if len(c.SampleValues) > 0 {
			fmt.Fprintf(&sb, " e.g. %s", strings.Join(c.SampleValues, ", "))
		}
		sb.WriteString("\n")
	}
	return Schema{
		DatasetRef:  b.Ref,
		Name:        b.Name,
		RowCount:    b.RowCount,
		ColumnCount: len(b.Columns),
		Columns:     b.Columns,
		Summary:     strings.TrimRight(sb.String(), "\n"),
	}
}

// Init opens a session over datasetRef.
func (o *Orchestrator) Init(ctx context.Context, datasetRef, userID string) (*InitResult, error) {
	if strings.TrimSpace(datasetRef) == "" {
		return nil, werrors.InvalidRequest("datasetRef is required")
	}
	b, err := o.lookupDataset(ctx, datasetRef)
	if err != nil {
		return nil, err
	}
	s, err := o.deps.Sessions.Create(ctx, datasetRef, userID)
	if err != nil {
		return nil, werrors.Flow(err, "could not create a session")
	}
	o.logger.Info("session created", "session_id", s.ID, "dataset_ref", datasetRef)
	return &InitResult{SessionID: s.ID, Schema: SchemaOf(b)}, nil
}

func (o *Orchestrator) lookupDataset(ctx context.Context, ref string) (*dataset.Binding, error) {
	b, err := o.deps.Datasets.Lookup(ctx, ref)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, dataset.ErrNotFound):
		return nil, werrors.DatasetNotFound(ref)
	default:
		return nil, werrors.Flow(err, "could not load the dataset").WithContext("dataset_ref", ref)
	}
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

// MessageRequest is one user turn.
type MessageRequest struct {
	SessionID string
	Utterance string
	// DatasetRef recreates the session under SessionID when it is unknown.
	DatasetRef string
	// RequestID correlates logs and errors; one is generated when empty.
	RequestID string
}

// Response is the outcome of a turn.
type Response struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	State     State  `json:"state"`
	// Code is set for clarifications, failed results and errors.
	Code string `json:"code,omitempty"`

	Intent        intent.Label    `json:"intent,omitempty"`
	Answer        string          `json:"answer"`
	Formula       string          `json:"operationTranslation,omitempty"`
	Steps         []string        `json:"steps,omitempty"`
	Thinking      []string        `json:"thinkingSummary"`
	Clarification string          `json:"clarification,omitempty"`
	Unresolved    []string        `json:"unresolved,omitempty"`
	GeneratedCode string          `json:"generatedCode,omitempty"`
	Result        *sandbox.Result `json:"result,omitempty"`
	Debug         Debug           `json:"debug"`
}

// Debug is the internal trace of a turn.
type Debug struct {
	Utterance string          `json:"utterance"`
	RawPlan   string          `json:"rawPlan,omitempty"`
	Plan      *plan.BoundPlan `json:"plan,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Source    string          `json:"codeSource,omitempty"`
	Trace     []Event         `json:"trace"`
	Recovered bool            `json:"recovered,omitempty"`
	Fallback  bool            `json:"intentFallback,omitempty"`
}

// Message runs one turn. Request errors (unknown session, unknown dataset,
// empty utterance) are returned without a response. A turn that reaches
// StateDoneError returns both the response and the structured error.
func (o *Orchestrator) Message(ctx context.Context, req MessageRequest) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, werrors.InvalidRequest("utterance is required")
	}
	if req.SessionID == "" {
		return nil, werrors.InvalidRequest("sessionId is required")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()
	log := o.logger.With("request_id", req.RequestID, "session_id", req.SessionID)

	unlock, err := o.deps.Sessions.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, werrors.Flow(err, "timed out waiting for the previous turn of this session").
			WithContext("request_id", req.RequestID)
	}
	defer unlock()

	sess, recovered, err := o.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}
	binding, err := o.lookupDataset(ctx, sess.DatasetRef)
	if err != nil {
		return nil, err
	}
	if recovered {
		log.Info("session recovered", "dataset_ref", sess.DatasetRef)
	}

	effective := utterance
	if p := sess.PendingClarification; p != nil {
		effective = fmt.Sprintf("%s (%s)", p.Utterance, utterance)
	}

	t := &turn{
		o:         o,
		log:       log,
		sess:      sess,
		binding:   binding,
		utterance: effective,
		m:         newMachine(req.RequestID, sess.ID, o.emit),
		resp: &Response{
			RequestID: req.RequestID,
			SessionID: sess.ID,
			Debug:     Debug{Utterance: effective, Recovered: recovered},
		},
	}
	turnErr := t.run(ctx)
	resp := t.finish()

	o.record(sess, utterance, t)
	if err := o.deps.Sessions.Update(context.WithoutCancel(ctx), sess); errors.Is(err, session.ErrNotFound) {
		log.Info("session evicted during turn; turn not recorded")
	} else if err != nil {
		log.Error("session update failed", "error", err)
	}

	log.Info("turn finished", "state", resp.State, "code", resp.Code, "steps", len(resp.Debug.Trace))
	if turnErr != nil {
		return resp, turnErr
	}
	return resp, nil
}

// loadSession returns the session, recreating it under the same id when it
// is unknown and the request carries a dataset reference.
func (o *Orchestrator) loadSession(ctx context.Context, req MessageRequest) (*session.Session, bool, error) {
	sess, err := o.deps.Sessions.Get(ctx, req.SessionID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, false, werrors.Flow(err, "could not read the session")
	}
	if strings.TrimSpace(req.DatasetRef) == "" {
		return nil, false, werrors.SessionNotFound(req.SessionID).WithContext("request_id", req.RequestID)
	}
	// Only ids this service could have issued are recreated.
	if !session.ValidID(req.SessionID) {
		return nil, false, werrors.InvalidRequest("sessionId is not a valid session id").
			WithContext("request_id", req.RequestID)
	}
	if _, err := o.lookupDataset(ctx, req.DatasetRef); err != nil {
		return nil, false, err
	}

	sess, err = o.deps.Sessions.CreateWithID(ctx, req.SessionID, req.DatasetRef, "")
	if errors.Is(err, session.ErrExists) {
		sess, err = o.deps.Sessions.Get(ctx, req.SessionID)
	}
	if err != nil {
		return nil, false, werrors.Flow(err, "could not recreate the session")
	}
	return sess, true, nil
}

// record appends the turn to sess and updates the pending clarification.
func (o *Orchestrator) record(sess *session.Session, utterance string, t *turn) {
	resp := t.resp
	entry := session.Turn{
		Utterance: utterance,
		Intent:    string(resp.Intent),
		Plan:      resp.Debug.Plan,
		Code:      resp.GeneratedCode,
		Result:    resp.Result,
		Answer:    resp.Answer,
		Terminal:  string(resp.State),
		At:        time.Now(),
	}
	// A reply to a clarification stays attached to the question it answers,
	// so a second clarification does not nest the first.
	original := utterance
	if p := sess.PendingClarification; p != nil {
		original = p.Utterance
	}
	sess.AppendTurn(entry, o.cfg.MaxHistory)

	if resp.State == StateDoneClarify {
		sess.PendingClarification = &session.Clarification{
			Utterance: original,
			Question:  resp.Clarification,
			AskedAt:   entry.At,
		}
	} else {
		sess.PendingClarification = nil
	}
	sess.LastActiveAt = entry.At
}

// history returns earlier answered turns as planner context.
func (o *Orchestrator) history(sess *session.Session) []planner.Exchange {
	if o.cfg.HistoryTurns == 0 {
		return nil
	}
	var out []planner.Exchange
	for _, t := range sess.Turns {
		if t.Terminal != string(StateDone) || t.Plan == nil {
			continue
		}
		out = append(out, planner.Exchange{Utterance: t.Utterance, Goal: t.Plan.Plan.Goal, Answer: t.Answer})
	}
	if len(out) > o.cfg.HistoryTurns {
		out = out[len(out)-o.cfg.HistoryTurns:]
	}
	return out
}

// -----------------------------------------------------------------------------
// Turn
// -----------------------------------------------------------------------------

type turn struct {
	o         *Orchestrator
	log       *slog.Logger
	sess      *session.Session
	binding   *dataset.Binding
	utterance string
	m         *machine
	resp      *Response
}

// run drives the machine to a terminal state. The returned error is the
// structured cause of StateDoneError.
func (t *turn) run(ctx context.Context) error {
	columns := t.binding.ColumnNames()
	deps := t.o.deps

	cls := deps.Classifier.Classify(ctx, t.utterance, columns)
	if err := t.expired(ctx, "classifying the question"); err != nil {
		return err
	}
	t.resp.Intent = cls.Label
	t.resp.Debug.Fallback = cls.Fallback
	if err := t.step(StateIntentClassified, "Classified the question as %s", strings.ReplaceAll(string(cls.Label), "_", " ")); err != nil {
		return err
	}

	switch cls.Label {
	case intent.Chitchat:
		if err := t.step(StateChitchat, "Small talk, no calculation needed"); err != nil {
			return err
		}
		t.resp.Answer = intent.ChitchatReply
		return t.step(StateDone, "Replied")
	case intent.Unclear:
		if err := t.step(StateUnclear, "The question needs more detail"); err != nil {
			return err
		}
		question := cls.Question
		if question == "" {
			question = intent.DefaultQuestion(columns)
		}
		t.clarify(werrors.UnclearIntent(question), question, nil)
		return nil
	}

	if err := t.step(StatePlanning, "Planning how to answer from %d columns", len(columns)); err != nil {
		return err
	}
	outcome, err := deps.Planner.Plan(ctx, planner.Request{
		Utterance: t.utterance,
		Binding:   t.binding,
		History:   t.o.history(t.sess),
	})
	if err != nil {
		return t.fail(t.stageError(ctx, err, "plan", "planning"))
	}
	t.resp.Debug.RawPlan = outcome.Raw
	t.resp.Debug.Degraded = outcome.Degraded

	var bound plan.BoundPlan
	if outcome.Plan.Operation == plan.OpUnsupported {
		bound = plan.BoundPlan{Plan: outcome.Plan}
	} else {
		bound = deps.Resolver.Resolve(outcome.Plan, columns)
	}
	t.resp.Debug.Plan = &bound

	if !bound.Resolved() {
		question := UnresolvedQuestion(bound.Unresolved, columns)
		t.clarify(werrors.UnresolvedColumns(bound.Unresolved), question, bound.Unresolved)
		return nil
	}
	if err := t.step(StateSchemaResolved, "%s", describeBinding(bound)); err != nil {
		return err
	}

	snippet, err := deps.Generator.Generate(ctx, bound, t.binding)
	if err != nil {
		return t.fail(t.stageError(ctx, err, "code", "writing the calculation"))
	}
	t.resp.GeneratedCode = snippet.Code
	t.resp.Debug.Source = snippet.Source
	msg := "Wrote the calculation"
	if snippet.Forbidden {
		msg = "This request cannot be computed from the table"
	}
	if err := t.step(StateCodeGenerated, "%s", msg); err != nil {
		return err
	}

	var result sandbox.Result
	if snippet.Forbidden {
		result = sandbox.ForbiddenResult(snippet.Reason)
	} else {
		result = deps.Executor.Execute(ctx, snippet.Code, t.binding.Table())
	}
	if err := t.expired(ctx, "running the calculation"); err != nil {
		return err
	}
	t.resp.Result = &result
	if code := resultCode(result); code != "" {
		t.resp.Code = code
	}
	if err := t.step(StateExecuted, "%s", result.Summary()); err != nil {
		return err
	}

	ex, err := deps.Explainer.Explain(ctx, explain.Input{
		Utterance: t.utterance,
		Bound:     bound,
		Code:      snippet.Code,
		Result:    result,
	})
	if err != nil {
		return t.fail(t.stageError(ctx, err, "explain", "explaining the result"))
	}
	t.resp.Answer = ex.Answer
	t.resp.Formula = ex.Formula
	t.resp.Steps = ex.Steps
	if err := t.step(StateExplained, "Explained the result"); err != nil {
		return err
	}
	return t.step(StateDone, "Done")
}

// expired ends the turn when the deadline has passed.
func (t *turn) expired(ctx context.Context, stage string) error {
	if ctx.Err() == nil {
		return nil
	}
	return t.fail(t.deadlineError(ctx.Err(), stage))
}

func (t *turn) deadlineError(cause error, stage string) *werrors.Error {
	return werrors.Flow(cause, fmt.Sprintf("the question took longer than %s and was stopped while %s", t.o.cfg.TurnDeadline, stage)).
		WithContext("stage", stage).
		WithContext("request_id", t.m.requestID)
}

// stageError maps a component error to one structured error.
func (t *turn) stageError(ctx context.Context, err error, stage, doing string) *werrors.Error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return t.deadlineError(err, doing)
	}
	if e, ok := werrors.AsError(err); ok {
		return e
	}
	if errors.Is(err, codegen.ErrUnresolved) {
		return werrors.Flow(err, "the plan still had unresolved columns").WithContext("request_id", t.m.requestID)
	}
	return werrors.Flow(werrors.ModelCallFailure(err, stage), fmt.Sprintf("could not finish %s", doing)).
		WithContext("stage", stage).
		WithContext("request_id", t.m.requestID)
}

// step advances the machine. An illegal transition ends the turn in
// StateDoneError.
func (t *turn) step(next State, format string, args ...any) error {
	err := t.m.advance(next, format, args...)
	if err == nil {
		return nil
	}
	e := werrors.Flow(err, "the turn ended in an unexpected state").WithContext("request_id", t.m.requestID)
	t.resp.Code = e.Code
	t.resp.Answer = werrors.UserMessage(e, t.m.requestID, t.m.sessionID)
	t.log.Error("illegal transition", "error", err)
	return e
}

// fail ends the turn in StateDoneError with e as the cause.
func (t *turn) fail(e *werrors.Error) error {
	t.resp.Code = e.Code
	t.resp.Answer = werrors.UserMessage(e, t.m.requestID, t.m.sessionID)
	t.log.Warn("turn failed", "state", t.m.state, "error", werrors.Detail(e))
	// advance to DoneError is legal from every non-terminal state.
	_ = t.m.advance(StateDoneError, "%s", e.Message)
	return e
}

func (t *turn) clarify(e *werrors.Error, question string, unresolved []string) {
	t.resp.Code = e.Code
	t.resp.Clarification = question
	t.resp.Unresolved = unresolved
	t.resp.Answer = question
	_ = t.m.advance(StateDoneClarify, "Asked a follow-up question")
}

func (t *turn) finish() *Response {
	t.resp.State = t.m.state
	t.resp.Thinking = t.m.thinking()
	t.resp.Debug.Trace = t.m.trace
	return t.resp
}

// resultCode maps a failed execution to its error code.
func resultCode(r sandbox.Result) string {
	switch r.Kind {
	case sandbox.KindTimeout:
		return werrors.ErrSandboxTimeout
	case sandbox.KindForbidden:
		return werrors.ErrSandboxForbidden
	case sandbox.KindRuntimeFailure:
		return werrors.ErrExecutionRuntimeFailure
	default:
		return ""
	}
}

func describeBinding(bound plan.BoundPlan) string {
	if len(bound.Bindings) == 0 {
		return "No columns to match"
	}
	parts := make([]string, 0, len(bound.Bindings))
	for _, b := range bound.Bindings {
		if b.Method == plan.MatchExact {
			parts = append(parts, b.Resolved)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s -> %s", b.Raw, b.Resolved))
	}
	return "Using columns " + strings.Join(parts, ", ")
}

// UnresolvedQuestion asks which columns the unresolved names meant, naming
// the closest candidates.
func UnresolvedQuestion(unresolved, columns []string) string {
	var b strings.Builder
	quoted := make([]string, len(unresolved))
	for i, u := range unresolved {
		quoted[i] = fmt.Sprintf("%q", u)
	}
	fmt.Fprintf(&b, "I couldn't find a column matching %s.", strings.Join(quoted, ", "))

	candidates := closest(unresolved, columns, 3)
	if len(candidates) > 0 {
		fmt.Fprintf(&b, " Did you mean %s?", strings.Join(candidates, " or "))
	}
	shown := columns
	if len(shown) > 8 {
		shown = shown[:8]
	}
	if len(shown) > 0 {
		fmt.Fprintf(&b, " Available columns: %s.", strings.Join(shown, ", "))
	}
	return b.String()
}

// closest returns up to n columns most similar to any of names, best first.
func closest(names, columns []string, n int) []string {
	type cand struct {
		name  string
		score float64
	}
	best := make(map[string]float64)
	for _, name := range names {
		for _, c := range columns {
			if s := resolver.Similarity(name, c); s >= 0.4 && s > best[c] {
				best[c] = s
			}
		}
	}
	cands := make([]cand, 0, len(best))
	for name, score := range best {
		cands = append(cands, cand{name, score})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score == cands[j].score {
			return cands[i].name < cands[j].name
		}
		return cands[i].score > cands[j].score
	})
	out := make([]string, 0, n)
	for i := 0; i < len(cands) && i < n; i++ {
		out = append(out, cands[i].name)
	}
	return out
}

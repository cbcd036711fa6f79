package orchestrator

import (
	"fmt"
	"time"
)

// State is a node of the turn state machine.
type State string

const (
	StateStart            State = "start"
	StateIntentClassified State = "intent_classified"
	StateChitchat         State = "chitchat"
	StateUnclear          State = "unclear"
	StatePlanning         State = "planning"
	StateSchemaResolved   State = "schema_resolved"
	StateCodeGenerated    State = "code_generated"
	StateExecuted         State = "executed"
	StateExplained        State = "explained"

	StateDone        State = "done"
	StateDoneClarify State = "done_clarify"
	StateDoneError   State = "done_error"
)

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateDoneClarify, StateDoneError:
		return true
	default:
		return false
	}
}

// transitions lists the successors of every non-terminal state. Any
// non-terminal state may also move to StateDoneError.
var transitions = map[State][]State{
	StateStart:            {StateIntentClassified},
	StateIntentClassified: {StateChitchat, StateUnclear, StatePlanning},
	StateChitchat:         {StateDone},
	StateUnclear:          {StateDoneClarify},
	StatePlanning:         {StateSchemaResolved, StateDoneClarify},
	StateSchemaResolved:   {StateCodeGenerated},
	StateCodeGenerated:    {StateExecuted},
	StateExecuted:         {StateExplained},
	StateExplained:        {StateDone},
}

// CanTransition reports whether the machine may move from one state to
// another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateDoneError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Event is one state transition of a turn. Observers receive events as
// they happen; the list of event messages is the turn's thinking summary.
type Event struct {
	RequestID string    `json:"requestId"`
	SessionID string    `json:"sessionId"`
	From      State     `json:"from"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	ElapsedMs int64     `json:"elapsedMs"`
	At        time.Time `json:"at"`
}

// Observer receives turn events. It is called synchronously from the turn
// goroutine and must not block.
type Observer func(Event)

// machine tracks one turn's position and trace.
type machine struct {
	requestID string
	sessionID string
	state     State
	started   time.Time
	trace     []Event
	notify    func(Event)
}

func newMachine(requestID, sessionID string, notify func(Event)) *machine {
	return &machine{
		requestID: requestID,
		sessionID: sessionID,
		state:     StateStart,
		started:   time.Now(),
		notify:    notify,
	}
}

// advance moves to next. An illegal transition is a programming error and
// is turned into StateDoneError so the turn still terminates.
func (m *machine) advance(next State, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var err error
	if !CanTransition(m.state, next) {
		err = fmt.Errorf("illegal transition %s -> %s", m.state, next)
		next, msg = StateDoneError, err.Error()
	}
	ev := Event{
		RequestID: m.requestID,
		SessionID: m.sessionID,
		From:      m.state,
		State:     next,
		Message:   msg,
		ElapsedMs: time.Since(m.started).Milliseconds(),
		At:        time.Now(),
	}
	m.state = next
	m.trace = append(m.trace, ev)
	if m.notify != nil {
		m.notify(ev)
	}
	return err
}

// thinking returns the event messages in order.
func (m *machine) thinking() []string {
	out := make([]string, 0, len(m.trace))
	for _, ev := range m.trace {
		if ev.Message != "" {
			out = append(out, ev.Message)
		}
	}
	return out
}

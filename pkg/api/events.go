package api

import (
	"sync"
	"time"

	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
)

// -----------------------------------------------------------------------------
// Event payloads
// -----------------------------------------------------------------------------

// TurnCompleteEvent summarizes a finished turn for websocket listeners.
// Thinking events carry orchestrator.Event as is.
type TurnCompleteEvent struct {
	RequestID  string             `json:"requestId"`
	SessionID  string             `json:"sessionId"`
	State      orchestrator.State `json:"state"`
	Code       string             `json:"code,omitempty"`
	Answer     string             `json:"answer,omitempty"`
	Formula    string             `json:"operationTranslation,omitempty"`
	Unresolved []string           `json:"unresolved,omitempty"`
	Timestamp  string             `json:"timestamp"`
}

// NewTurnCompleteEvent builds the event for resp.
func NewTurnCompleteEvent(resp *orchestrator.Response) *TurnCompleteEvent {
	return &TurnCompleteEvent{
		RequestID:  resp.RequestID,
		SessionID:  resp.SessionID,
		State:      resp.State,
		Code:       resp.Code,
		Answer:     resp.Answer,
		Formula:    resp.Formula,
		Unresolved: resp.Unresolved,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// SessionEvictedEvent reports an idle-session sweep.
type SessionEvictedEvent struct {
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
	Timestamp string `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Broadcasting
// -----------------------------------------------------------------------------

// EventBroadcaster publishes engine events to live listeners.
type EventBroadcaster interface {
	BroadcastThinking(ev orchestrator.Event) error
	BroadcastTurnComplete(ev *TurnCompleteEvent) error
	BroadcastSessionEvicted(ev *SessionEvictedEvent) error
}

// HubEventBroadcaster publishes through a websocket Hub.
type HubEventBroadcaster struct {
	hub *Hub
}

// NewHubEventBroadcaster creates a broadcaster over hub.
func NewHubEventBroadcaster(hub *Hub) *HubEventBroadcaster {
	return &HubEventBroadcaster{hub: hub}
}

// BroadcastThinking publishes one state transition on the turns channel.
func (b *HubEventBroadcaster) BroadcastThinking(ev orchestrator.Event) error {
	return b.hub.Publish(ChannelTurns, ev.SessionID, &WSMessage{
		Type: EventTypeThinking,
		Data: ev,
	})
}

// BroadcastTurnComplete publishes the end of a turn on the turns channel.
func (b *HubEventBroadcaster) BroadcastTurnComplete(ev *TurnCompleteEvent) error {
	return b.hub.Publish(ChannelTurns, ev.SessionID, &WSMessage{
		Type: EventTypeTurnComplete,
		Data: ev,
	})
}

// BroadcastSessionEvicted publishes a sweep result on the status channel.
func (b *HubEventBroadcaster) BroadcastSessionEvicted(ev *SessionEvictedEvent) error {
	return b.hub.Publish(ChannelStatus, "", &WSMessage{
		Type: EventTypeSessionEvict,
		Data: ev,
	})
}

// Observer adapts b to orchestrator.Observe.
func Observer(b EventBroadcaster) orchestrator.Observer {
	return func(ev orchestrator.Event) {
		_ = b.BroadcastThinking(ev)
	}
}

// -----------------------------------------------------------------------------
// Mock Broadcaster (for testing)
// -----------------------------------------------------------------------------

// MockEventBroadcaster records events instead of sending them.
type MockEventBroadcaster struct {
	mu sync.Mutex

	Thinking []orchestrator.Event
	Complete []*TurnCompleteEvent
	Evicted  []*SessionEvictedEvent
}

// NewMockEventBroadcaster creates an empty recorder.
func NewMockEventBroadcaster() *MockEventBroadcaster {
	return &MockEventBroadcaster{}
}

func (m *MockEventBroadcaster) BroadcastThinking(ev orchestrator.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Thinking = append(m.Thinking, ev)
	return nil
}

func (m *MockEventBroadcaster) BroadcastTurnComplete(ev *TurnCompleteEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Complete = append(m.Complete, ev)
	return nil
}

func (m *MockEventBroadcaster) BroadcastSessionEvicted(ev *SessionEvictedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evicted = append(m.Evicted, ev)
	return nil
}

// Snapshot returns copies of the recorded events.
func (m *MockEventBroadcaster) Snapshot() ([]orchestrator.Event, []*TurnCompleteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orchestrator.Event(nil), m.Thinking...), append([]*TurnCompleteEvent(nil), m.Complete...)
}

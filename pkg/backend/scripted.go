package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Reply is one canned answer of a Scripted backend.
type Reply struct {
	Content string
	Err     error
	Delay   time.Duration
	Block   bool // wait until the request context ends
}

// Text replies with content.
func Text(content string) Reply { return Reply{Content: content} }

// JSON replies with v marshalled as JSON.
func JSON(v any) Reply {
	data, err := json.Marshal(v)
	if err != nil {
		return Reply{Err: err}
	}
	return Reply{Content: string(data)}
}

// Fail replies with err.
func Fail(err error) Reply { return Reply{Err: err} }

// Blocking never replies before the request context ends.
func Blocking() Reply { return Reply{Block: true} }

// Scripted is a Backend that answers from per-stage scripts. Replies for a
// stage are consumed in order; the last one repeats. It is used by tests and
// by the offline mode of the CLI.
type Scripted struct {
	mu      sync.Mutex
	scripts map[Stage][]Reply
	calls   map[Stage]int
	last    map[Stage]ChatRequest
}

// NewScripted creates an empty scripted backend.
func NewScripted() *Scripted {
	return &Scripted{
		scripts: make(map[Stage][]Reply),
		calls:   make(map[Stage]int),
		last:    make(map[Stage]ChatRequest),
	}
}

// On sets the replies for stage, replacing any earlier script.
func (s *Scripted) On(stage Stage, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[stage] = replies
	return s
}

// Calls returns how many requests stage received.
func (s *Scripted) Calls(stage Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

// LastRequest returns the most recent request for stage.
func (s *Scripted) LastRequest(stage Stage) (ChatRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.last[stage]
	return req, ok
}

func (s *Scripted) Name() string                         { return "scripted" }
func (s *Scripted) Type() Type                           { return TypeScripted }
func (s *Scripted) IsAvailable(ctx context.Context) bool { return true }

func (s *Scripted) Capabilities() Capabilities {
	return Capabilities{ContextLimit: 1 << 20, JSONMode: true, MaxTokens: 1 << 16}
}

func (s *Scripted) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	s.calls[req.Stage]++
	n := s.calls[req.Stage]
	s.last[req.Stage] = req
	script := s.scripts[req.Stage]
	s.mu.Unlock()

	if len(script) == 0 {
		return nil, fmt.Errorf("%w: no script for stage %q", ErrUnavailable, req.Stage)
	}
	idx := n - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	r := script[idx]

	if r.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Content == "" {
		return nil, ErrEmpty
	}
	return &ChatResponse{Content: r.Content, Model: "scripted", FinishReason: "stop"}, nil
}

// Package session holds per-conversation state for chat turns.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CDdanieldeng/excel-accelerator/pkg/plan"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
)

// DefaultMaxHistory bounds the turns kept per session.
const DefaultMaxHistory = 20

// Turn is one completed exchange.
type Turn struct {
	Utterance string          `json:"utterance"`
	Intent    string          `json:"intent"`
	Plan      *plan.BoundPlan `json:"plan,omitempty"`
	Code      string          `json:"code,omitempty"`
	Result    *sandbox.Result `json:"result,omitempty"`
	Answer    string          `json:"answer"`
	Terminal  string          `json:"terminal"`
	At        time.Time       `json:"at"`
}

// Clarification is a question the assistant asked and is waiting on. The
// next utterance is read as the reply.
type Clarification struct {
	Utterance string    `json:"utterance"`
	Question  string    `json:"question"`
	AskedAt   time.Time `json:"asked_at"`
}

// Session is the state of one conversation over one dataset.
type Session struct {
	ID                   string         `json:"id"`
	DatasetRef           string         `json:"dataset_ref"`
	UserID               string         `json:"user_id,omitempty"`
	Turns                []Turn         `json:"turns"`
	PendingClarification *Clarification `json:"pending_clarification,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	LastActiveAt         time.Time      `json:"last_active_at"`
}

// ErrInvalidID is returned for a session id that is not a generated
// identifier or cannot be used as a directory name.
var ErrInvalidID = errors.New("invalid session id")

// ValidID reports whether id has the form of a generated session id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// New creates a session with a fresh identifier.
func New(datasetRef, userID string) *Session {
	return NewWithID(uuid.New().String(), datasetRef, userID)
}

// NewWithID creates a session under a caller-chosen identifier. Recovery
// uses it to rebuild a lost session without changing the id clients hold.
func NewWithID(id, datasetRef, userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		DatasetRef:   datasetRef,
		UserID:       userID,
		Turns:        make([]Turn, 0),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// AppendTurn records a turn, dropping the oldest beyond max.
func (s *Session) AppendTurn(t Turn, max int) {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.Turns = append(s.Turns, t)
	if len(s.Turns) > max {
		s.Turns = append([]Turn(nil), s.Turns[len(s.Turns)-max:]...)
	}
	s.LastActiveAt = t.At
}

// Recent returns up to n of the latest turns, oldest first.
func (s *Session) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n > len(s.Turns) {
		n = len(s.Turns)
	}
	return s.Turns[len(s.Turns)-n:]
}

// Clone returns a deep enough copy that the store and callers never share
// mutable slices.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	if s.PendingClarification != nil {
		p := *s.PendingClarification
		c.PendingClarification = &p
	}
	return &c
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string    `json:"id"`
	DatasetRef   string    `json:"dataset_ref"`
	UserID       string    `json:"user_id,omitempty"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Summarize returns the listing view.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:           s.ID,
		DatasetRef:   s.DatasetRef,
		UserID:       s.UserID,
		TurnCount:    len(s.Turns),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
}

// Export writes the session as JSON plus one JSON line per turn under
// dir/<id>/ and returns that directory.
func (s *Session) Export(dir string) (path string, err error) {
	if !safeSegment(s.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s.ID)
	}
	path = filepath.Join(dir, s.ID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(s.Summarize(), "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(path, "session.json"), data, 0644); err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(path, "turns.jsonl"))
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc := json.NewEncoder(f)
	for _, t := range s.Turns {
		if err := enc.Encode(t); err != nil {
			return "", err
		}
	}
	return path, nil
}

// safeSegment reports whether id names a single directory below the export
// directory.
func safeSegment(id string) bool {
	return id != "" && !strings.Contains(id, "..") && !strings.ContainsAny(id, `/\:`) && filepath.Base(id) == id
}

package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session whose id is taken.
	ErrExists = errors.New("session already exists")
)

// Store is the session persistence boundary. Implementations serialize
// writers per session id while unrelated sessions proceed in parallel.
type Store interface {
	Create(ctx context.Context, datasetRef, userID string) (*Session, error)
	CreateWithID(ctx context.Context, id, datasetRef, userID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Upsert(ctx context.Context, s *Session) error
	// Update replaces a stored session. It returns ErrNotFound when the
	// session was evicted, so an evicted session is never brought back.
	Update(ctx context.Context, s *Session) error
	Evict(ctx context.Context, id string) bool
	// Lock blocks until the caller is the only writer for id, or ctx ends.
	Lock(ctx context.Context, id string) (unlock func(), err error)
	List(ctx context.Context) []Summary
}

type entry struct {
	session *Session
}

// MemoryStore keeps sessions in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	locksMu sync.Mutex
	locks   map[string]*writerSlot
}

// writerSlot is the per-session writer lock. refs counts holders and
// waiters; the slot is dropped when it reaches zero.
type writerSlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		locks:    make(map[string]*writerSlot),
	}
}

// Create stores a new session with a generated id.
func (m *MemoryStore) Create(ctx context.Context, datasetRef, userID string) (*Session, error) {
	return m.insert(New(datasetRef, userID))
}

// CreateWithID stores a new session under id. It returns ErrExists when a
// concurrent caller created it first.
func (m *MemoryStore) CreateWithID(ctx context.Context, id, datasetRef, userID string) (*Session, error) {
	return m.insert(NewWithID(id, datasetRef, userID))
}

func (m *MemoryStore) insert(s *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return nil, ErrExists
	}
	m.sessions[s.ID] = &entry{session: s.Clone()}
	return s, nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

// Upsert replaces the stored session with a copy of s.
func (m *MemoryStore) Upsert(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = &entry{session: s.Clone()}
	return nil
}

// Update replaces the stored session with a copy of s, only if it is still
// stored.
func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = &entry{session: s.Clone()}
	return nil
}

// Evict removes a session. It reports whether one was removed. A turn still
// running on the session cannot store it again.
func (m *MemoryStore) Evict(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Lock acquires the per-session writer slot.
func (m *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	m.locksMu.Lock()
	slot, ok := m.locks[id]
	if !ok {
		slot = &writerSlot{ch: make(chan struct{}, 1)}
		m.locks[id] = slot
	}
	slot.refs++
	m.locksMu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(id, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			m.release(id, slot)
		})
	}, nil
}

func (m *MemoryStore) release(id string, slot *writerSlot) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.locks, id)
	}
}

// lockCount returns the number of writer slots in use.
func (m *MemoryStore) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

// List returns summaries ordered by most recent activity.
func (m *MemoryStore) List(ctx context.Context) []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.session.Summarize())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes sessions inactive for longer than ttl and returns how
// many were removed. Sessions whose writer slot is held are skipped.
func (m *MemoryStore) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	n := 0
	for id, e := range m.sessions {
		if !e.session.LastActiveAt.Before(cutoff) {
			continue
		}
		if slot, ok := m.locks[id]; ok && slot.refs > 0 {
			continue
		}
		delete(m.sessions, id)
		n++
	}
	return n
}

// Sweep runs EvictIdle every interval until ctx ends.
func (m *MemoryStore) Sweep(ctx context.Context, interval, ttl time.Duration, onEvict func(int)) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(ttl); n > 0 && onEvict != nil {
				onEvict(n)
			}
		}
	}
}

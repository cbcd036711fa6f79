package dataset

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry is the in-memory dataset provider. Tables are registered once and
// never mutated afterwards.
type Registry struct {
	tables       map[string]*Binding
	sampleValues int
	mu           sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(sampleValues int) *Registry {
	return &Registry{
		tables:       make(map[string]*Binding),
		sampleValues: sampleValues,
	}
}

// NewRef returns a fresh dataset reference.
func NewRef() string {
	return "ds_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Add registers t, assigning a reference when t.Ref is empty.
func (r *Registry) Add(t *Table) (*Binding, error) {
	if t.Ref == "" {
		t.Ref = NewRef()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[t.Ref]; exists {
		return nil, fmt.Errorf("dataset %q already registered", t.Ref)
	}
	b := Bind(t, r.sampleValues)
	r.tables[t.Ref] = b
	return b, nil
}

// Lookup implements Provider.
func (r *Registry) Lookup(_ context.Context, ref string) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.tables[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return b, nil
}

// Remove drops a dataset.
func (r *Registry) Remove(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tables[ref]
	delete(r.tables, ref)
	return ok
}

// List returns all bindings sorted by reference.
func (r *Registry) List() []*Binding {
	r.mu.RLock()
	out := make([]*Binding, 0, len(r.tables))
	for _, b := range r.tables {
		out = append(out, b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Chain tries providers in order, returning the first binding found.
type Chain []Provider

// Lookup implements Provider.
func (c Chain) Lookup(ctx context.Context, ref string) (*Binding, error) {
	for _, p := range c {
		b, err := p.Lookup(ctx, ref)
		if err == nil {
			return b, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

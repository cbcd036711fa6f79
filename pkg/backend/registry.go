package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
)

// Registry manages available backends.
type Registry struct {
	backends map[string]Backend
	mu       sync.RWMutex
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry.
func (r *Registry) Register(name string, backend Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.backends[name] = backend
	return nil
}

// Get retrieves a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[name]
	return backend, ok
}

// List returns all registered backend names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.backends))
	for name := range r.backends {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Status returns availability status for all backends.
func (r *Registry) Status(ctx context.Context) map[string]Status {
	// IsAvailable may do network calls; do not hold the lock across them.
	r.mu.RLock()
	backends := make(map[string]Backend, len(r.backends))
	for name, b := range r.backends {
		backends[name] = b
	}
	r.mu.RUnlock()

	result := make(map[string]Status)
	for name, backend := range backends {
		result[name] = Status{
			Name:         name,
			Type:         backend.Type(),
			Available:    backend.IsAvailable(ctx),
			Capabilities: backend.Capabilities(),
		}
	}
	return result
}

// Status represents backend status.
type Status struct {
	Name         string       `json:"name"`
	Type         Type         `json:"type"`
	Available    bool         `json:"available"`
	Capabilities Capabilities `json:"capabilities"`
}

// FromConfig builds the backend selected by the llm config section.
func FromConfig(cfg config.LLMConfig) (Backend, error) {
	c := Config{
		Name:        cfg.Backend,
		Type:        Type(cfg.Backend),
		URL:         cfg.URL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey(),
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	switch c.Type {
	case TypeOpenAI, "":
		return NewOpenAI(c), nil
	case TypeGemini:
		return NewGemini(c), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q (want openai or gemini)", cfg.Backend)
	}
}

// Default creates a registry holding the configured backend under "default"
// and under its own name.
func Default(cfg config.LLMConfig) (*Registry, Backend, error) {
	b, err := FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	registry := NewRegistry()
	// Fresh registry: neither name can collide.
	_ = registry.Register(b.Name(), b)
	if b.Name() != "default" {
		_ = registry.Register("default", b)
	}
	return registry, b, nil
}

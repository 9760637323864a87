package limiter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds named strategies shared across request descriptors.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]*Strategy)}
}

// BuildRegistry constructs one strategy per named config.
func BuildRegistry(configs map[string]Config, opts ...Option) (*Registry, error) {
	registry := NewRegistry()
	for name, cfg := range configs {
		strategy, err := New(cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: %w", name, err)
		}
		if err := registry.Register(name, strategy); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a strategy under name.
func (r *Registry) Register(name string, strategy *Strategy) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("rate limit name is required")
	}
	if strategy == nil {
		return fmt.Errorf("rate limit %q: strategy is nil", name)
	}
	if strategy == none {
		strategy = &Strategy{kind: KindNone}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("rate limit %q already registered", name)
	}
	strategy.name = name
	r.strategies[name] = strategy
	return nil
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (*Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strategy, ok := r.strategies[strings.TrimSpace(name)]
	return strategy, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the state of every strategy sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if strategy, ok := r.Get(name); ok {
			snaps = append(snaps, strategy.Snapshot())
		}
	}
	return snaps
}

// Reset resets one strategy.
func (r *Registry) Reset(name string) error {
	strategy, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("rate limit %q not found", name)
	}
	strategy.Reset()
	return nil
}

// ResetAll resets every strategy.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, strategy := range r.strategies {
		strategy.Reset()
	}
}

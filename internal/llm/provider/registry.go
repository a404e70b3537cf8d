package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Config carries the settings a factory needs to build a provider.
type Config struct {
	Name              string
	APIKey            string
	BaseURL           string
	ProjectID         string
	Location          string
	Region            string
	RequestsPerMinute int
}

// Factory creates a provider from its configuration
type Factory func(cfg Config) (Provider, error)

// Registry manages provider factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registers a factory under name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has checks if a factory is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New builds the provider named by cfg.Name
func (r *Registry) New(cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider '%s' not found", cfg.Name)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider '%s': %w", cfg.Name, err)
	}
	return p, nil
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Global registry
var globalRegistry = NewRegistry()

// RegisterFactory registers a factory globally
func RegisterFactory(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// New builds a provider from the global registry
func New(cfg Config) (Provider, error) {
	return globalRegistry.New(cfg)
}

// Has checks if a factory exists in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// List returns all registered provider names from the global registry
func List() []string {
	return globalRegistry.List()
}

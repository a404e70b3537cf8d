// Package router resolves model aliases to provider clients.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/llminster/llminster/internal/llm/provider"
)

// ErrUnknownAlias is returned when neither the alias nor the default resolves.
var ErrUnknownAlias = errors.New("invalid alias and no valid default")

// Route is a resolved provider and model pair.
type Route struct {
	Provider string
	Model    string
}

// ProviderSpec configures one provider and the aliases of its models.
type ProviderSpec struct {
	provider.Config
	// Models maps a model name to its alias.
	Models map[string]string
}

// Entry is one row of the alias table.
type Entry struct {
	Alias string
	Route
}

// Router holds the alias table and caches bound clients.
type Router struct {
	aliases      map[string]Entry
	defaultAlias string
	specs        map[string]ProviderSpec
	build        func(provider.Config) (provider.Provider, error)
	instrument   bool
	logger       zerolog.Logger

	mu        sync.Mutex
	providers map[string]provider.Provider
	clients   map[Route]provider.Generator
}

// Option configures a Router.
type Option func(*Router)

// WithFactory overrides how providers are built.
func WithFactory(build func(provider.Config) (provider.Provider, error)) Option {
	return func(r *Router) { r.build = build }
}

// WithInstrumentation wraps every provider with tracing and metrics.
func WithInstrumentation(enabled bool) Option {
	return func(r *Router) { r.instrument = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New builds the alias table. Aliases are unique across all providers,
// compared case-insensitively.
func New(specs map[string]ProviderSpec, defaultAlias string, opts ...Option) (*Router, error) {
	r := &Router{
		aliases:      make(map[string]Entry),
		defaultAlias: defaultAlias,
		specs:        make(map[string]ProviderSpec, len(specs)),
		build:        provider.New,
		logger:       zerolog.Nop(),
		providers:    make(map[string]provider.Provider),
		clients:      make(map[Route]provider.Generator),
	}
	for _, opt := range opts {
		opt(r)
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		spec.Name = name
		r.specs[name] = spec

		for model, alias := range spec.Models {
			key := strings.ToLower(strings.TrimSpace(alias))
			if key == "" {
				return nil, fmt.Errorf("provider %s: model %s has an empty alias", name, model)
			}
			if existing, ok := r.aliases[key]; ok {
				return nil, fmt.Errorf("alias %q is used by both %s/%s and %s/%s",
					alias, existing.Provider, existing.Model, name, model)
			}
			r.aliases[key] = Entry{Alias: alias, Route: Route{Provider: name, Model: model}}
		}
	}

	return r, nil
}

// DefaultAlias returns the configured default alias.
func (r *Router) DefaultAlias() string {
	return r.defaultAlias
}

// Resolve looks alias up case-insensitively, falling back to the default alias.
func (r *Router) Resolve(alias string) (Route, error) {
	if e, ok := r.aliases[strings.ToLower(strings.TrimSpace(alias))]; ok {
		return e.Route, nil
	}
	if e, ok := r.aliases[strings.ToLower(strings.TrimSpace(r.defaultAlias))]; ok {
		if alias != "" {
			r.logger.Warn().Str("alias", alias).Str("default", r.defaultAlias).Msg("unknown alias, using default")
		}
		return e.Route, nil
	}
	return Route{}, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
}

// Client returns a generator bound to route, building the provider on first use.
func (r *Router) Client(route Route) (provider.Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[route]; ok {
		return c, nil
	}

	p, ok := r.providers[route.Provider]
	if !ok {
		spec, known := r.specs[route.Provider]
		if !known {
			return nil, fmt.Errorf("provider %s is not configured", route.Provider)
		}

		built, err := r.build(spec.Config)
		if err != nil {
			return nil, err
		}
		p = provider.NewRateLimitedProvider(built, spec.RequestsPerMinute)
		if r.instrument {
			p = provider.NewInstrumentedProvider(p, true)
		}
		r.providers[route.Provider] = p
	}

	c := provider.Bind(p, route.Model)
	r.clients[route] = c
	return c, nil
}

// ResolveClient resolves alias and returns the bound client.
func (r *Router) ResolveClient(alias string) (Route, provider.Generator, error) {
	route, err := r.Resolve(alias)
	if err != nil {
		return Route{}, nil, err
	}
	c, err := r.Client(route)
	if err != nil {
		return Route{}, nil, err
	}
	return route, c, nil
}

// Aliases returns the alias table sorted by alias.
func (r *Router) Aliases() []Entry {
	entries := make([]Entry, 0, len(r.aliases))
	for _, e := range r.aliases {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Alias) < strings.ToLower(entries[j].Alias)
	})
	return entries
}

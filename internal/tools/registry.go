// Package tools provides the capabilities the agent can call and the registry
// that resolves them by name.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"kubepulse/internal/agent"
)

// Provider supplies a set of capabilities.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	ListTools(ctx context.Context) ([]agent.Tool, error)
}

// resetter is implemented by providers that hold state which must be
// dropped together with the capability table.
type resetter interface {
	Reset()
}

// ErrNoCapabilities is returned when every provider failed to list tools.
var ErrNoCapabilities = errors.New("no capabilities available")

// Registry aggregates providers into one capability table. The table is
// built lazily on first use and shared until Invalidate is called.
// Concurrent first callers wait on a single in-flight build.
type Registry struct {
	providers []Provider
	log       logr.Logger

	group singleflight.Group

	mu         sync.RWMutex
	tools      []agent.Tool
	loaded     bool
	generation uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(log logr.Logger) *Registry {
	return &Registry{log: log}
}

// AddProvider registers a provider. Providers registered earlier win on
// name collisions.
func (r *Registry) AddProvider(p Provider) {
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
	r.Invalidate()
}

// Tools returns the cached capability table, building it if needed.
func (r *Registry) Tools(ctx context.Context) ([]agent.Tool, error) {
	r.mu.RLock()
	if r.loaded {
		tools := r.tools
		r.mu.RUnlock()
		return tools, nil
	}
	gen := r.generation
	r.mu.RUnlock()

	// The build outlives any single caller so that one cancelled request
	// cannot fail everybody waiting on it.
	v, err, shared := r.group.Do(fmt.Sprintf("tools/%d", gen), func() (any, error) {
		return r.load(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.log.V(1).Info("joined in-flight capability load")
	}
	return v.([]agent.Tool), nil
}

// Lookup resolves a single capability by name.
func (r *Registry) Lookup(ctx context.Context, name string) (agent.Tool, bool, error) {
	tools, err := r.Tools(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, t := range tools {
		if t.Name() == name {
			return t, true, nil
		}
	}
	return nil, false, nil
}

// Invalidate drops the whole capability table; the next Tools call rebuilds
// it from every provider.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.tools = nil
	r.loaded = false
	r.generation++
	providers := append([]Provider(nil), r.providers...)
	r.mu.Unlock()

	for _, p := range providers {
		if rs, ok := p.(resetter); ok {
			rs.Reset()
		}
	}
	r.log.Info("capability table invalidated")
}

// Close releases providers holding external resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	providers := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()

	var errs []error
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("tools: close %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) load(ctx context.Context, gen uint64) ([]agent.Tool, error) {
	r.mu.RLock()
	providers := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()

	var (
		all    []agent.Tool
		seen   = make(map[string]string)
		failed int
	)
	for _, p := range providers {
		list, err := p.ListTools(ctx)
		if err != nil {
			// External providers may not be ready yet; the rest still serve.
			r.log.Info("failed to list tools from provider, skipping", "provider", p.Name(), "error", err.Error())
			failed++
			continue
		}
		for _, t := range list {
			if owner, dup := seen[t.Name()]; dup {
				r.log.Info("duplicate capability ignored", "tool", t.Name(), "provider", p.Name(), "kept", owner)
				continue
			}
			seen[t.Name()] = p.Name()
			all = append(all, t)
		}
	}

	if failed > 0 && failed == len(providers) {
		return nil, fmt.Errorf("tools: %w: all %d providers failed", ErrNoCapabilities, failed)
	}
	if all == nil {
		all = []agent.Tool{}
	}

	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Name())
	}
	sort.Strings(names)

	// A partial table is served but not cached, so a provider that was down
	// gets another chance on the next call.
	if failed == 0 {
		r.mu.Lock()
		if r.generation == gen {
			r.tools = all
			r.loaded = true
		}
		r.mu.Unlock()
	}
	r.log.Info("capability table loaded", "tools", names, "failedProviders", failed)
	return all, nil
}

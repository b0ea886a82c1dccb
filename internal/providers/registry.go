package providers

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves providers by name.
type Registry struct {
	sync  map[string]SyncProvider
	async map[string]AsyncProvider
}

func NewRegistry() *Registry {
	return &Registry{
		sync:  map[string]SyncProvider{},
		async: map[string]AsyncProvider{},
	}
}

// RegisterSync adds p under its name and any aliases.
func (r *Registry) RegisterSync(p SyncProvider, aliases ...string) {
	for _, name := range append([]string{p.Name()}, aliases...) {
		r.sync[normalize(name)] = p
	}
}

// RegisterAsync adds p under its name and any aliases.
func (r *Registry) RegisterAsync(p AsyncProvider, aliases ...string) {
	for _, name := range append([]string{p.Name()}, aliases...) {
		r.async[normalize(name)] = p
	}
}

func (r *Registry) Sync(name string) (SyncProvider, error) {
	if p, ok := r.sync[normalize(name)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("providers: sync provider %q not configured", name)
}

func (r *Registry) Async(name string) (AsyncProvider, error) {
	if p, ok := r.async[normalize(name)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("providers: async provider %q not configured", name)
}

// Names lists every registered name.
func (r *Registry) Names() []string {
	seen := map[string]struct{}{}
	for k := range r.sync {
		seen[k] = struct{}{}
	}
	for k := range r.async {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

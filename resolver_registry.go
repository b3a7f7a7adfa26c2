package hydra

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResolverRegistry stores resolver functions keyed by name. Names are
// trimmed and lowercased on registration and lookup, and registering a
// taken name fails rather than silently replacing it.
type ResolverRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ResolverFunc
}

// NewResolverRegistry creates an empty registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{funcs: make(map[string]ResolverFunc)}
}

// Register adds a resolver function under name.
func (r *ResolverRegistry) Register(name string, fn ResolverFunc) error {
	key := normalizeResolverName(name)
	if key == "" {
		return fmt.Errorf("resolver name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("resolver %q cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[key]; exists {
		return fmt.Errorf("resolver %q already registered", key)
	}
	r.funcs[key] = fn
	return nil
}

// Resolve looks up a resolver function by name.
func (r *ResolverRegistry) Resolve(name string) (ResolverFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[normalizeResolverName(name)]
	return fn, ok
}

// Call invokes the named resolver with the raw argument text.
func (r *ResolverRegistry) Call(rc *ResolveContext, name, raw string) (any, error) {
	fn, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("resolver %q not registered", normalizeResolverName(name))
	}
	return fn(rc, raw)
}

// Names returns the registered names in sorted order.
func (r *ResolverRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered resolvers.
func (r *ResolverRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Clone returns a shallow copy that can be extended without affecting the
// original.
func (r *ResolverRegistry) Clone() *ResolverRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &ResolverRegistry{funcs: make(map[string]ResolverFunc, len(r.funcs))}
	for name, fn := range r.funcs {
		clone.funcs[name] = fn
	}
	return clone
}

func normalizeResolverName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

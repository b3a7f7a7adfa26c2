package hydra

import (
	"fmt"
	"strconv"
	"strings"
)

// Fields is the insertion-ordered form a plain mapping takes once
// instantiated. It preserves the composed key order that map[string]any
// would lose.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields creates an empty field set.
func NewFields() *Fields {
	return &Fields{values: make(map[string]any)}
}

// Set stores a value under key, keeping first-insertion order. It returns
// the receiver for chaining.
func (f *Fields) Set(key string, value any) *Fields {
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	value, ok := f.values[key]
	return value, ok
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.keys)
}

// Map returns a shallow copy as a plain map.
func (f *Fields) Map() map[string]any {
	out := make(map[string]any, len(f.values))
	for key, value := range f.values {
		out[key] = value
	}
	return out
}

// Partial is a deferred construction: the factory and its resolved kwargs
// are bound, and Call finishes the job with any late arguments layered on
// top.
type Partial struct {
	// Target is the qualified name the factory was registered under.
	Target string

	factory Factory
	keys    []string
	kwargs  map[string]any
}

// Call invokes the bound factory, with extra kwargs overriding the bound
// ones.
func (p *Partial) Call(extra map[string]any) (any, error) {
	if p == nil || p.factory == nil {
		return nil, &InstantiationError{Kind: ConstructorFailure, Err: fmt.Errorf("partial has no factory bound")}
	}
	merged := make(map[string]any, len(p.kwargs)+len(extra))
	for key, value := range p.kwargs {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	value, err := p.factory.New(merged)
	if err != nil {
		return nil, wrapConstructorError(p.Target, "", err)
	}
	return value, nil
}

// Kwargs returns a copy of the bound arguments.
func (p *Partial) Kwargs() map[string]any {
	out := make(map[string]any, len(p.kwargs))
	for key, value := range p.kwargs {
		out[key] = value
	}
	return out
}

// BoundKeys returns the bound argument names in their original order.
func (p *Partial) BoundKeys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

type instantiator struct {
	registry *Registry
	resolver *Resolver
	memo     map[*Node]any
	building map[*Node]bool
}

// InstantiateOption configures one instantiation walk.
type InstantiateOption func(*instantiator)

// WithInstantiateResolver lets the walk resolve interpolation nodes it
// encounters instead of requiring a fully resolved tree.
func WithInstantiateResolver(r *Resolver) InstantiateOption {
	return func(in *instantiator) {
		in.resolver = r
	}
}

// Instantiate builds the runtime value a resolved tree describes. Target
// mappings construct their arguments bottom-up and then invoke the
// registered factory; plain mappings become *Fields, sequences []any, and
// scalars their values. Nodes reached more than once build once and share
// the instance, and a target that transitively requires itself fails with a
// recursion error.
func Instantiate(root *Node, registry *Registry, opts ...InstantiateOption) (any, error) {
	in := &instantiator{
		registry: registry,
		memo:     make(map[*Node]any),
		building: make(map[*Node]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in.build(root, "")
}

func (in *instantiator) build(n *Node, path string) (any, error) {
	if n == nil {
		return nil, nil
	}
	if value, ok := in.memo[n]; ok {
		return value, nil
	}

	switch n.Kind() {
	case KindScalar:
		return n.Value(), nil

	case KindInterpolation:
		resolved, err := in.resolvedNode(n, path)
		if err != nil {
			return nil, err
		}
		return in.build(resolved, path)

	case KindSequence:
		items := make([]any, 0, n.Len())
		for i := 0; i < n.Len(); i++ {
			value, err := in.build(n.Item(i), appendPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		in.memo[n] = items
		return items, nil

	case KindMapping:
		fields := NewFields()
		for _, key := range n.Keys() {
			child, _ := n.Get(key)
			value, err := in.build(child, appendPath(path, key))
			if err != nil {
				return nil, err
			}
			fields.Set(key, value)
		}
		in.memo[n] = fields
		return fields, nil

	case KindTarget:
		return in.buildTarget(n, path)

	default:
		return nil, &InstantiationError{Kind: ConstructorFailure, Path: path, Err: fmt.Errorf("unexpected node kind %s", n.Kind())}
	}
}

func (in *instantiator) buildTarget(n *Node, path string) (any, error) {
	if in.building[n] {
		return nil, &InstantiationError{Kind: RecursiveTarget, Target: n.Target(), Path: path}
	}
	in.building[n] = true
	defer delete(in.building, n)

	kwargs := make(map[string]any, n.Len())
	for _, key := range n.Keys() {
		child, _ := n.Get(key)
		value, err := in.build(child, appendPath(path, key))
		if err != nil {
			return nil, err
		}
		kwargs[key] = value
	}

	factory, ok := in.registry.Resolve(n.Target())
	if !ok {
		err := &InstantiationError{Kind: UnresolvableTarget, Target: n.Target(), Path: path}
		if names := in.registry.Names(); len(names) > 0 {
			err.Err = fmt.Errorf("registered targets: %s", strings.Join(names, ", "))
		}
		return nil, err
	}

	if n.Partial() {
		partial := &Partial{
			Target:  n.Target(),
			factory: factory,
			keys:    n.Keys(),
			kwargs:  kwargs,
		}
		in.memo[n] = partial
		return partial, nil
	}

	value, err := factory.New(kwargs)
	if err != nil {
		return nil, wrapConstructorError(n.Target(), path, err)
	}
	in.memo[n] = value
	return value, nil
}

func (in *instantiator) resolvedNode(n *Node, path string) (*Node, error) {
	if n.memo != nil {
		return n.memo, nil
	}
	if in.resolver != nil {
		return in.resolver.resolveInterp(n, path)
	}
	return nil, &InterpolationError{
		Kind: Unresolved,
		Expr: n.Expr(),
		Path: path,
		Err:  fmt.Errorf("value was not resolved before instantiation"),
	}
}

package hydra

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/tanganke/hydra-program/internal/hydrate"
)

// Factory constructs a value from resolved constructor arguments.
type Factory interface {
	New(kwargs map[string]any) (any, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(kwargs map[string]any) (any, error)

// New implements Factory.
func (f FactoryFunc) New(kwargs map[string]any) (any, error) {
	return f(kwargs)
}

type registration struct {
	reverse []reflect.Type
}

// RegisterOption configures a single registration.
type RegisterOption func(*registration)

// WithReverse records the dynamic types of the samples as produced by this
// factory, enabling the serializer to map live objects back to the
// registered name.
func WithReverse(samples ...any) RegisterOption {
	return func(r *registration) {
		for _, sample := range samples {
			if sample == nil {
				continue
			}
			r.reverse = append(r.reverse, reflect.TypeOf(sample))
		}
	}
}

// Registry maps qualified target names to factories. Names are trimmed but
// case-sensitive, since they mirror symbol paths. Lookups fail closed: an
// unregistered name is an error at instantiation, never a dynamic load.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	reverse   map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		reverse:   make(map[reflect.Type]string),
	}
}

// Register adds a factory under the qualified name.
func (r *Registry) Register(name string, factory Factory, opts ...RegisterOption) error {
	key := strings.TrimSpace(name)
	if key == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %q cannot be nil", key)
	}
	var reg registration
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("target %q already registered", key)
	}
	for _, t := range reg.reverse {
		if prior, exists := r.reverse[t]; exists && prior != key {
			return fmt.Errorf("type %s already mapped to target %q", t, prior)
		}
	}
	r.factories[key] = factory
	for _, t := range reg.reverse {
		r.reverse[t] = key
	}
	return nil
}

// Resolve looks up the factory for a qualified name.
func (r *Registry) Resolve(name string) (Factory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[strings.TrimSpace(name)]
	return factory, ok
}

// ReverseLookup maps a dynamic type back to its registered target name.
func (r *Registry) ReverseLookup(t reflect.Type) (string, bool) {
	if r == nil || t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.reverse[t]
	return name, ok
}

// Names returns the registered target names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Clone returns a copy that can be extended without affecting the original.
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	if r == nil {
		return clone
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, factory := range r.factories {
		clone.factories[name] = factory
	}
	for t, name := range r.reverse {
		clone.reverse[t] = name
	}
	return clone
}

// Typed adapts a constructor taking a params struct into a Factory. Data
// kwargs (scalars, and maps/slices of scalars) are bound onto P by json tag
// through the hydrate decoder; kwargs holding live objects, such as values
// built by nested targets, are assigned to matching fields directly so the
// instance identity survives. A *Fields kwarg lands on a *Fields field, or
// on a map[string]any field as a plain map.
func Typed[P any](fn func(P) (any, error), opts ...hydrate.DecoderOption[P]) Factory {
	decoder := hydrate.NewDecoder[P](opts...)
	return FactoryFunc(func(kwargs map[string]any) (any, error) {
		data := make(map[string]any, len(kwargs))
		objects := make(map[string]any)
		for key, value := range kwargs {
			if isDataKwarg(value) {
				data[key] = value
			} else {
				objects[key] = value
			}
		}
		params, err := decoder.Decode(hydrate.Context{}, data)
		if err != nil {
			return nil, err
		}
		if len(objects) > 0 {
			if err := bindObjectKwargs(&params, objects); err != nil {
				return nil, err
			}
		}
		return fn(params)
	})
}

// isDataKwarg reports whether a value survives a JSON round-trip unchanged
// in meaning: scalars, and string-keyed maps or slices of such values.
func isDataKwarg(value any) bool {
	return isDataReflect(reflect.ValueOf(value))
}

func isDataReflect(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !isDataReflect(rv.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return false
		}
		iter := rv.MapRange()
		for iter.Next() {
			if !isDataReflect(iter.Value()) {
				return false
			}
		}
		return true
	case reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return isDataReflect(rv.Elem())
	default:
		return false
	}
}

// bindObjectKwargs assigns object-valued kwargs onto fields of the params
// struct, matching by json tag and then by case-insensitive field name.
func bindObjectKwargs(params any, objects map[string]any) error {
	pv := reflect.ValueOf(params)
	if pv.Kind() != reflect.Pointer || pv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("object kwargs need a struct params type, have %T", params)
	}
	elem := pv.Elem()
	for key, value := range objects {
		if err := bindObjectField(elem, key, value); err != nil {
			return err
		}
	}
	return nil
}

func bindObjectField(elem reflect.Value, key string, value any) error {
	t := elem.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonFieldName(field)
		if name == "-" {
			continue
		}
		if name != key && !strings.EqualFold(field.Name, key) {
			continue
		}
		fv := elem.Field(i)
		if value == nil {
			fv.Set(reflect.Zero(field.Type))
			return nil
		}
		if fields, ok := value.(*Fields); ok && field.Type == reflect.TypeOf(map[string]any(nil)) {
			fv.Set(reflect.ValueOf(fields.Map()))
			return nil
		}
		vv := reflect.ValueOf(value)
		if !vv.Type().AssignableTo(field.Type) {
			return fmt.Errorf("kwarg %q: cannot assign %s to field %s %s", key, vv.Type(), field.Name, field.Type)
		}
		fv.Set(vv)
		return nil
	}
	return fmt.Errorf("kwarg %q has no matching field in %s", key, t)
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

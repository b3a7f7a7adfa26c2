package hydra

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

type serializeConfig struct {
	registry *Registry
}

// SerializeOption configures one serialization walk.
type SerializeOption func(*serializeConfig)

// WithSerializeRegistry supplies the registry used to map live object types
// back to target names.
func WithSerializeRegistry(registry *Registry) SerializeOption {
	return func(cfg *serializeConfig) {
		cfg.registry = registry
	}
}

// Serialize re-expresses a live value graph as a config tree. Objects whose
// type has a registered reverse mapping become target mappings carrying
// their current exported field values; a value reached a second time is
// emitted as an interpolation referencing the first emission's path, so
// shared and cyclic graphs terminate. shape, usually the resolved tree the
// graph was built from, guides key ordering; it may be nil.
func Serialize(value any, shape *Node, opts ...SerializeOption) (*Node, error) {
	cfg := serializeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	s := &serializer{
		registry: cfg.registry,
		seen:     make(map[identityKey]string),
	}
	return s.walk(reflect.ValueOf(value), "", shape)
}

// identityKey identifies a referenceable value. Slices carry their length so
// overlapping views of one array only alias when they are the same view.
type identityKey struct {
	t reflect.Type
	p uintptr
	n int
}

type serializer struct {
	registry *Registry
	seen     map[identityKey]string
}

func (s *serializer) walk(rv reflect.Value, path string, shape *Node) (*Node, error) {
	if !rv.IsValid() {
		return Scalar(nil), nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Scalar(nil), nil
		}
		return s.walk(rv.Elem(), path, shape)
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return Scalar(nil), nil
		}
		if key, ok := identity(rv); ok {
			if prior, emitted := s.seen[key]; emitted {
				if prior == "" {
					return nil, &SerializationError{
						Kind: NonSerializableValue,
						Type: rv.Type().String(),
						Path: path,
						Err:  fmt.Errorf("graph cycles back to the root value"),
					}
				}
				return Interp("${" + prior + "}"), nil
			}
			s.seen[key] = path
		}
	}

	switch v := rv.Interface().(type) {
	case *Partial:
		return s.fromPartial(v, path, shape)
	case *Fields:
		return s.fromFields(v, path, shape)
	case *Node:
		return v.Clone(), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Scalar(rv.Bool()), nil
	case reflect.String:
		return Scalar(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Scalar(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Scalar(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Scalar(rv.Float()), nil

	case reflect.Pointer:
		if name, ok := s.registry.ReverseLookup(rv.Type()); ok {
			if rv.Elem().Kind() != reflect.Struct {
				return nil, s.nonSerializable(rv, path, "reverse-mapped type is not a struct pointer")
			}
			return s.fromStruct(name, rv.Elem(), path, shape)
		}
		if rv.Elem().Kind() == reflect.Struct {
			return nil, s.nonSerializable(rv, path, "no reverse mapping registered")
		}
		return s.walk(rv.Elem(), path, shape)

	case reflect.Struct:
		if name, ok := s.registry.ReverseLookup(rv.Type()); ok {
			return s.fromStruct(name, rv, path, shape)
		}
		return nil, s.nonSerializable(rv, path, "no reverse mapping registered")

	case reflect.Slice, reflect.Array:
		node := Sequence()
		for i := 0; i < rv.Len(); i++ {
			child, err := s.walk(rv.Index(i), appendPath(path, strconv.Itoa(i)), childShapeItem(shape, i))
			if err != nil {
				return nil, err
			}
			node.Append(child)
		}
		return node, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, s.nonSerializable(rv, path, "map keys must be strings")
		}
		keys := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			keys = append(keys, iter.Key().String())
		}
		sort.Strings(keys)
		keys = shapeOrdered(keys, shape)
		node := Mapping()
		for _, key := range keys {
			child, err := s.walk(rv.MapIndex(reflect.ValueOf(key)), appendPath(path, key), childShapeKey(shape, key))
			if err != nil {
				return nil, err
			}
			node.Set(key, child)
		}
		return node, nil

	default:
		return nil, s.nonSerializable(rv, path, "unsupported kind "+rv.Kind().String())
	}
}

func (s *serializer) fromPartial(p *Partial, path string, shape *Node) (*Node, error) {
	node := Target(p.Target).SetPartial(true)
	kwargs := p.Kwargs()
	for _, key := range shapeOrdered(p.BoundKeys(), shape) {
		child, err := s.walk(reflect.ValueOf(kwargs[key]), appendPath(path, key), childShapeKey(shape, key))
		if err != nil {
			return nil, err
		}
		node.Set(key, child)
	}
	return node, nil
}

func (s *serializer) fromFields(f *Fields, path string, shape *Node) (*Node, error) {
	node := Mapping()
	for _, key := range shapeOrdered(f.Keys(), shape) {
		value, _ := f.Get(key)
		child, err := s.walk(reflect.ValueOf(value), appendPath(path, key), childShapeKey(shape, key))
		if err != nil {
			return nil, err
		}
		node.Set(key, child)
	}
	return node, nil
}

// fromStruct emits a target mapping from the object's current exported
// fields, so mutation after construction is captured.
func (s *serializer) fromStruct(name string, sv reflect.Value, path string, shape *Node) (*Node, error) {
	node := Target(name)
	t := sv.Type()
	keys := make([]string, 0, t.NumField())
	values := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := jsonFieldName(field)
		if key == "-" {
			continue
		}
		keys = append(keys, key)
		values[key] = sv.Field(i)
	}
	for _, key := range shapeOrdered(keys, shape) {
		child, err := s.walk(values[key], appendPath(path, key), childShapeKey(shape, key))
		if err != nil {
			return nil, err
		}
		node.Set(key, child)
	}
	return node, nil
}

func (s *serializer) nonSerializable(rv reflect.Value, path, reason string) error {
	return &SerializationError{
		Kind: NonSerializableValue,
		Type: rv.Type().String(),
		Path: path,
		Err:  fmt.Errorf("%s", reason),
	}
}

// identity returns the tracking key for a referenceable value. Empty slices
// and maps are not tracked, since independent empty values can share the
// zero address.
func identity(rv reflect.Value) (identityKey, bool) {
	switch rv.Kind() {
	case reflect.Pointer:
		return identityKey{t: rv.Type(), p: rv.Pointer()}, true
	case reflect.Map:
		if rv.Len() == 0 {
			return identityKey{}, false
		}
		return identityKey{t: rv.Type(), p: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return identityKey{}, false
		}
		return identityKey{t: rv.Type(), p: rv.Pointer(), n: rv.Len()}, true
	default:
		return identityKey{}, false
	}
}

// shapeOrdered reorders keys to follow the shape node's key order where the
// two agree; keys the shape does not know keep their incoming order after.
func shapeOrdered(keys []string, shape *Node) []string {
	if shape == nil || !isMappingKind(shape) || len(keys) < 2 {
		return keys
	}
	have := make(map[string]bool, len(keys))
	for _, key := range keys {
		have[key] = true
	}
	ordered := make([]string, 0, len(keys))
	taken := make(map[string]bool, len(keys))
	for _, key := range shape.Keys() {
		if have[key] && !taken[key] {
			ordered = append(ordered, key)
			taken[key] = true
		}
	}
	for _, key := range keys {
		if !taken[key] {
			ordered = append(ordered, key)
			taken[key] = true
		}
	}
	return ordered
}

func childShapeKey(shape *Node, key string) *Node {
	if shape == nil || !isMappingKind(shape) {
		return nil
	}
	child, _ := shape.Get(key)
	return child
}

func childShapeItem(shape *Node, i int) *Node {
	if shape == nil || shape.Kind() != KindSequence || i >= shape.Len() {
		return nil
	}
	return shape.Item(i)
}

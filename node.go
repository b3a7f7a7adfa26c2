package hydra

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the variants a config node can take.
type Kind uint8

const (
	// KindScalar holds a single literal value (string, bool, int64, float64,
	// or nil).
	KindScalar Kind = iota + 1
	// KindMapping holds an insertion-ordered set of unique keys.
	KindMapping
	// KindSequence holds an ordered list of child nodes.
	KindSequence
	// KindInterpolation holds unresolved expression text such as
	// "${db.host}:${db.port}".
	KindInterpolation
	// KindTarget is a mapping that additionally names a constructible via a
	// qualified name; its entries are the constructor's keyword arguments.
	KindTarget
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	case KindInterpolation:
		return "interpolation"
	case KindTarget:
		return "target"
	default:
		return "invalid"
	}
}

// Node is one node of a hierarchical configuration tree. Trees are built by
// the composer, mutated in place by overrides, then frozen once interpolation
// resolution begins. Node is not safe for concurrent mutation; independent
// runs must each own their own tree.
type Node struct {
	kind    Kind
	value   any
	expr    string
	target  string
	partial bool
	keys    []string
	fields  map[string]*Node
	items   []*Node

	// memo caches the resolved form of an interpolation node. It belongs to
	// the run that owns the tree and is dropped by Clone.
	memo *Node
}

// Scalar returns a scalar node. Integer and float inputs are normalised to
// int64 and float64 so trees built in code compare equal to parsed ones.
func Scalar(value any) *Node {
	return &Node{kind: KindScalar, value: normalizeScalar(value)}
}

// Interp returns an interpolation node holding raw expression text.
func Interp(expr string) *Node {
	return &Node{kind: KindInterpolation, expr: expr}
}

// Mapping returns an empty mapping node; populate it with Set.
func Mapping() *Node {
	return &Node{kind: KindMapping, fields: map[string]*Node{}}
}

// Sequence returns a sequence node over the given items.
func Sequence(items ...*Node) *Node {
	return &Node{kind: KindSequence, items: append([]*Node(nil), items...)}
}

// Target returns a target mapping naming a constructible; its keyword
// arguments are added with Set.
func Target(name string) *Node {
	return &Node{kind: KindTarget, target: name, fields: map[string]*Node{}}
}

// Kind reports the node variant.
func (n *Node) Kind() Kind {
	if n == nil {
		return 0
	}
	return n.kind
}

// Value returns the literal held by a scalar node.
func (n *Node) Value() any {
	if n == nil || n.kind != KindScalar {
		return nil
	}
	return n.value
}

// Expr returns the raw expression text of an interpolation node.
func (n *Node) Expr() string {
	if n == nil {
		return ""
	}
	return n.expr
}

// Target returns the qualified name of a target node, or "".
func (n *Node) Target() string {
	if n == nil {
		return ""
	}
	return n.target
}

// Partial reports whether invocation of the target is deferred.
func (n *Node) Partial() bool {
	return n != nil && n.partial
}

// SetPartial marks a target node for deferred invocation. It returns n for
// chaining.
func (n *Node) SetPartial(partial bool) *Node {
	n.mustBe("SetPartial", KindTarget)
	n.partial = partial
	return n
}

// Set inserts or replaces key on a mapping or target node, preserving
// insertion order for new keys and position for existing ones. It returns n
// for chaining and panics when called on any other kind.
func (n *Node) Set(key string, child *Node) *Node {
	n.mustBe("Set", KindMapping, KindTarget)
	if n.fields == nil {
		n.fields = map[string]*Node{}
	}
	if _, exists := n.fields[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = child
	return n
}

// Get returns the child stored under key on a mapping or target node.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || (n.kind != KindMapping && n.kind != KindTarget) {
		return nil, false
	}
	child, ok := n.fields[key]
	return child, ok
}

// Delete removes key from a mapping or target node, reporting whether it was
// present.
func (n *Node) Delete(key string) bool {
	if n == nil || (n.kind != KindMapping && n.kind != KindTarget) {
		return false
	}
	if _, ok := n.fields[key]; !ok {
		return false
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the mapping keys in insertion order.
func (n *Node) Keys() []string {
	if n == nil || len(n.keys) == 0 {
		return nil
	}
	return append([]string(nil), n.keys...)
}

// Len returns the entry count of a mapping/target or the item count of a
// sequence.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.kind {
	case KindMapping, KindTarget:
		return len(n.keys)
	case KindSequence:
		return len(n.items)
	default:
		return 0
	}
}

// Items returns the children of a sequence node. The slice is a copy; the
// nodes are shared.
func (n *Node) Items() []*Node {
	if n == nil || n.kind != KindSequence || len(n.items) == 0 {
		return nil
	}
	return append([]*Node(nil), n.items...)
}

// Item returns the i-th child of a sequence node.
func (n *Node) Item(i int) *Node {
	if n == nil || n.kind != KindSequence || i < 0 || i >= len(n.items) {
		return nil
	}
	return n.items[i]
}

// Append adds items to a sequence node, returning n for chaining.
func (n *Node) Append(items ...*Node) *Node {
	n.mustBe("Append", KindSequence)
	n.items = append(n.items, items...)
	return n
}

// Lookup walks a dotted path through nested mappings and targets, returning
// the node it lands on.
func (n *Node) Lookup(path string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	if path == "" {
		return n, true
	}
	current := n
	for _, segment := range SplitPath(path) {
		child, ok := current.Get(segment)
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

// Native converts the subtree to plain Go values: scalars as themselves,
// sequences as []any, mappings and targets as map[string]any keyed by field
// name. Interpolation nodes yield their raw expression text.
func (n *Node) Native() any {
	switch n.kind {
	case KindScalar:
		return n.value
	case KindInterpolation:
		return n.expr
	case KindSequence:
		items := make([]any, 0, len(n.items))
		for _, item := range n.items {
			items = append(items, item.Native())
		}
		return items
	default:
		fields := make(map[string]any, len(n.keys))
		for _, key := range n.keys {
			fields[key] = n.fields[key].Native()
		}
		return fields
	}
}

// Clone returns a deep copy of the subtree. Resolution memos are not carried
// over; a cloned tree starts unresolved.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		kind:    n.kind,
		value:   n.value,
		expr:    n.expr,
		target:  n.target,
		partial: n.partial,
	}
	switch n.kind {
	case KindMapping, KindTarget:
		out.fields = make(map[string]*Node, len(n.fields))
		out.keys = append([]string(nil), n.keys...)
		for key, child := range n.fields {
			out.fields[key] = child.Clone()
		}
	case KindSequence:
		out.items = make([]*Node, len(n.items))
		for i, item := range n.items {
			out.items[i] = item.Clone()
		}
	}
	return out
}

// Equal reports structural equality. Mapping key order is ignored: two
// compositions that set the same keys to the same values are equal however
// the keys were interleaved. Sequence order is significant.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindScalar:
		return n.value == other.value
	case KindInterpolation:
		return n.expr == other.expr
	case KindSequence:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindMapping, KindTarget:
		if n.target != other.target || n.partial != other.partial {
			return false
		}
		if len(n.fields) != len(other.fields) {
			return false
		}
		for key, child := range n.fields {
			otherChild, ok := other.fields[key]
			if !ok || !child.Equal(otherChild) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a compact single-line form used in failure messages and
// tests.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.kind {
	case KindScalar:
		if s, ok := n.value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		return fmt.Sprintf("%v", n.value)
	case KindInterpolation:
		return n.expr
	case KindSequence:
		parts := make([]string, len(n.items))
		for i, item := range n.items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping, KindTarget:
		parts := make([]string, 0, len(n.keys)+2)
		if n.target != "" {
			parts = append(parts, fmt.Sprintf("_target_: %s", n.target))
		}
		if n.partial {
			parts = append(parts, "_partial_: true")
		}
		for _, key := range n.keys {
			parts = append(parts, fmt.Sprintf("%s: %s", key, n.fields[key].String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid>"
	}
}

// SortedKeys returns the mapping keys in lexical order, independent of
// insertion order.
func (n *Node) SortedKeys() []string {
	keys := n.Keys()
	sort.Strings(keys)
	return keys
}

func (n *Node) mustBe(op string, kinds ...Kind) {
	if n == nil {
		panic(fmt.Sprintf("hydra: %s on nil node", op))
	}
	for _, k := range kinds {
		if n.kind == k {
			return
		}
	}
	panic(fmt.Sprintf("hydra: %s on %s node", op, n.kind))
}

// SplitPath breaks a dotted path into its key segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath joins key segments into a dotted path.
func JoinPath(segments []string) string {
	return strings.Join(segments, ".")
}

func normalizeScalar(value any) any {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

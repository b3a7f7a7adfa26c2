package hydra

import (
	"errors"
	"fmt"
	"strings"
)

// CompositionErrorKind classifies defaults-list composition failures.
type CompositionErrorKind int

const (
	// MissingDefaultsEntry indicates an override step named a group with no
	// earlier step in the composed order.
	MissingDefaultsEntry CompositionErrorKind = iota + 1
	// CyclicDefaults indicates defaults steps reference each other
	// transitively.
	CyclicDefaults
	// MissingDocument indicates the loader has no document for a step's
	// group/selection name.
	MissingDocument
)

func (k CompositionErrorKind) String() string {
	switch k {
	case MissingDefaultsEntry:
		return "missing defaults entry"
	case CyclicDefaults:
		return "cyclic defaults"
	case MissingDocument:
		return "missing document"
	default:
		return "unknown"
	}
}

// CompositionError reports a failed defaults step alongside its position in
// the list.
type CompositionError struct {
	Kind      CompositionErrorKind
	Group     string
	Selection string
	Cycle     []string
	Err       error
}

func (e *CompositionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra: compose: %s", e.Kind)
	if e.Group != "" {
		fmt.Fprintf(&sb, " group=%q", e.Group)
	}
	if e.Selection != "" {
		fmt.Fprintf(&sb, " selection=%q", e.Selection)
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&sb, " cycle=%s", strings.Join(e.Cycle, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *CompositionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OverrideErrorKind classifies override parsing and application failures.
type OverrideErrorKind int

const (
	// MalformedOverride indicates the assignment string failed to parse.
	MalformedOverride OverrideErrorKind = iota + 1
	// UnknownKey indicates a plain assignment targeted a path absent from
	// the tree.
	UnknownKey
	// TypeConflict indicates strict mode rejected a shape change.
	TypeConflict
)

func (k OverrideErrorKind) String() string {
	switch k {
	case MalformedOverride:
		return "malformed override"
	case UnknownKey:
		return "unknown key"
	case TypeConflict:
		return "type conflict"
	default:
		return "unknown"
	}
}

// OverrideError carries the offending assignment text and the path it
// targeted.
type OverrideError struct {
	Kind  OverrideErrorKind
	Input string
	Path  string
	Err   error
}

func (e *OverrideError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra: override: %s", e.Kind)
	if e.Input != "" {
		fmt.Fprintf(&sb, " input=%q", e.Input)
	}
	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *OverrideError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InterpolationErrorKind classifies interpolation resolution failures.
type InterpolationErrorKind int

const (
	// InterpolationCycle indicates a reference chain revisited a path
	// already on the resolution stack.
	InterpolationCycle InterpolationErrorKind = iota + 1
	// Unresolved indicates a referenced path or function could not be
	// resolved and no fallback was given.
	Unresolved
)

func (k InterpolationErrorKind) String() string {
	switch k {
	case InterpolationCycle:
		return "cycle"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// InterpolationError names the expression and the node path that failed to
// resolve. Cycle failures carry the full reference chain.
type InterpolationError struct {
	Kind  InterpolationErrorKind
	Expr  string
	Path  string
	Cycle []string
	Err   error
}

func (e *InterpolationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra: interpolate: %s", e.Kind)
	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}
	if e.Expr != "" {
		fmt.Fprintf(&sb, " expr=%q", e.Expr)
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&sb, " chain=%s", strings.Join(e.Cycle, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *InterpolationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InstantiationErrorKind classifies object construction failures.
type InstantiationErrorKind int

const (
	// UnresolvableTarget indicates the registry holds no factory for the
	// qualified name.
	UnresolvableTarget InstantiationErrorKind = iota + 1
	// ConstructorFailure wraps an error raised by the target factory itself.
	ConstructorFailure
	// RecursiveTarget indicates a target's arguments transitively required
	// constructing the same node again.
	RecursiveTarget
)

func (k InstantiationErrorKind) String() string {
	switch k {
	case UnresolvableTarget:
		return "unresolvable target"
	case ConstructorFailure:
		return "constructor failure"
	case RecursiveTarget:
		return "recursive target"
	default:
		return "unknown"
	}
}

// InstantiationError reports which target at which tree path failed to build.
type InstantiationError struct {
	Kind   InstantiationErrorKind
	Target string
	Path   string
	Err    error
}

func (e *InstantiationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra: instantiate: %s", e.Kind)
	if e.Target != "" {
		fmt.Fprintf(&sb, " target=%q", e.Target)
	}
	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *InstantiationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SerializationErrorKind classifies graph serialization failures.
type SerializationErrorKind int

const (
	// NonSerializableValue indicates a runtime value with neither a
	// registered reverse mapping nor a structural shape.
	NonSerializableValue SerializationErrorKind = iota + 1
)

func (k SerializationErrorKind) String() string {
	switch k {
	case NonSerializableValue:
		return "non-serializable value"
	default:
		return "unknown"
	}
}

// SerializationError names the runtime type and graph path that could not be
// re-expressed as configuration.
type SerializationError struct {
	Kind SerializationErrorKind
	Type string
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra: serialize: %s", e.Kind)
	if e.Type != "" {
		fmt.Fprintf(&sb, " type=%s", e.Type)
	}
	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *SerializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapConstructorError attaches target metadata to a factory failure without
// discarding it. An InstantiationError already in the chain is returned as-is
// so nesting does not stack duplicate wrappers.
func wrapConstructorError(target, path string, err error) error {
	if err == nil {
		return nil
	}
	var instErr *InstantiationError
	if errors.As(err, &instErr) {
		return err
	}
	return &InstantiationError{
		Kind:   ConstructorFailure,
		Target: target,
		Path:   path,
		Err:    err,
	}
}

// wrapResolveError fills expression and path metadata on interpolation
// failures, preserving an existing InterpolationError untouched beyond empty
// fields.
func wrapResolveError(expr, path string, err error) error {
	if err == nil {
		return nil
	}
	var interpErr *InterpolationError
	if errors.As(err, &interpErr) {
		if interpErr.Expr == "" {
			interpErr.Expr = expr
		}
		if interpErr.Path == "" {
			interpErr.Path = path
		}
		return interpErr
	}
	return &InterpolationError{
		Kind: Unresolved,
		Expr: expr,
		Path: path,
		Err:  err,
	}
}

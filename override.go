package hydra

import (
	"fmt"
	"strconv"
	"strings"
)

// OverrideMode selects how an override mutates the composed tree.
type OverrideMode int

const (
	// OverrideSet replaces the value at an existing path.
	OverrideSet OverrideMode = iota + 1
	// OverrideAdd ("+path=v") sets the value, creating missing intermediate
	// mappings along the way.
	OverrideAdd
	// OverrideDelete ("~path") removes the key at the path.
	OverrideDelete
)

// Override is one parsed command-line assignment.
type Override struct {
	Mode    OverrideMode
	Path    []string
	Package string
	Value   *Node
	Input   string
}

// ParseOverride parses one assignment in the surface grammar: "path=value",
// "+path=value", "~path", with an optional "@pkg" suffix on the path that
// roots it under the named package.
func ParseOverride(s string) (Override, error) {
	o := Override{Input: s, Mode: OverrideSet}
	text := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(text, "+"):
		o.Mode = OverrideAdd
		text = text[1:]
	case strings.HasPrefix(text, "~"):
		o.Mode = OverrideDelete
		text = text[1:]
	}

	rawPath := text
	rawValue := ""
	hasValue := false
	if i := strings.Index(text, "="); i >= 0 {
		rawPath, rawValue, hasValue = text[:i], text[i+1:], true
	}
	if !hasValue && o.Mode != OverrideDelete {
		return o, &OverrideError{Kind: MalformedOverride, Input: s, Err: fmt.Errorf("missing '='")}
	}

	if path, pkg, ok := strings.Cut(rawPath, "@"); ok {
		if strings.TrimSpace(pkg) == "" {
			return o, &OverrideError{Kind: MalformedOverride, Input: s, Err: fmt.Errorf("empty package")}
		}
		rawPath = path
		o.Package = strings.TrimSpace(pkg)
	}
	rawPath = strings.TrimSpace(rawPath)
	if rawPath == "" {
		return o, &OverrideError{Kind: MalformedOverride, Input: s, Err: fmt.Errorf("empty path")}
	}
	o.Path = SplitPath(rawPath)
	for _, seg := range o.Path {
		if seg == "" {
			return o, &OverrideError{Kind: MalformedOverride, Input: s, Err: fmt.Errorf("empty path segment in %q", rawPath)}
		}
	}

	if hasValue && o.Mode != OverrideDelete {
		value, err := ParseLiteral(rawValue)
		if err != nil {
			return o, &OverrideError{Kind: MalformedOverride, Input: s, Path: rawPath, Err: err}
		}
		o.Value = value
	}
	return o, nil
}

type overrideConfig struct {
	strictTypes bool
}

// OverrideOption configures override application.
type OverrideOption func(*overrideConfig)

// WithStrictTypes rejects overrides that change a value's shape (scalar vs
// mapping vs sequence) instead of silently replacing it.
func WithStrictTypes() OverrideOption {
	return func(cfg *overrideConfig) {
		cfg.strictTypes = true
	}
}

// ApplyOverrides parses and applies assignments in order, mutating root in
// place. Later assignments win. The first failure aborts and leaves earlier
// assignments applied.
func ApplyOverrides(root *Node, overrides []string, opts ...OverrideOption) error {
	var cfg overrideConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, input := range overrides {
		o, err := ParseOverride(input)
		if err != nil {
			return err
		}
		if err := o.applyTo(root, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Apply applies one parsed override to root.
func (o Override) Apply(root *Node, opts ...OverrideOption) error {
	var cfg overrideConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return o.applyTo(root, cfg)
}

func (o Override) applyTo(root *Node, cfg overrideConfig) error {
	segments := o.segments()
	if len(segments) == 0 {
		return &OverrideError{Kind: MalformedOverride, Input: o.Input, Err: fmt.Errorf("empty path")}
	}
	switch o.Mode {
	case OverrideDelete:
		return o.applyDelete(root, segments)
	case OverrideAdd, OverrideSet:
		if o.Value == nil {
			return &OverrideError{Kind: MalformedOverride, Input: o.Input, Err: fmt.Errorf("missing value")}
		}
		return o.applySet(root, segments, o.Mode == OverrideAdd, cfg)
	default:
		return &OverrideError{Kind: MalformedOverride, Input: o.Input, Err: fmt.Errorf("invalid mode %d", o.Mode)}
	}
}

func (o Override) segments() []string {
	if o.Package == "" {
		return o.Path
	}
	return append(SplitPath(o.Package), o.Path...)
}

func (o Override) applySet(root *Node, segments []string, force bool, cfg overrideConfig) error {
	parent, err := o.walkToParent(root, segments, force, cfg)
	if err != nil {
		return err
	}
	last := segments[len(segments)-1]
	switch last {
	case targetKey:
		return o.setTargetName(parent)
	case partialKey:
		return o.setPartialFlag(parent)
	}

	existing, exists := parent.Get(last)
	if !exists && !force {
		return &OverrideError{Kind: UnknownKey, Input: o.Input, Path: JoinPath(segments)}
	}
	if exists && cfg.strictTypes && !shapeCompatible(existing, o.Value) {
		return &OverrideError{
			Kind:  TypeConflict,
			Input: o.Input,
			Path:  JoinPath(segments),
			Err:   fmt.Errorf("cannot replace %s with %s", existing.Kind(), o.Value.Kind()),
		}
	}
	parent.Set(last, o.Value.Clone())
	return nil
}

func (o Override) applyDelete(root *Node, segments []string) error {
	parent, err := o.walkToParent(root, segments, false, overrideConfig{})
	if err != nil {
		return err
	}
	last := segments[len(segments)-1]
	switch last {
	case targetKey:
		if parent.Kind() != KindTarget {
			return &OverrideError{Kind: UnknownKey, Input: o.Input, Path: JoinPath(segments)}
		}
		parent.kind = KindMapping
		parent.target = ""
		parent.partial = false
		return nil
	case partialKey:
		if parent.Kind() != KindTarget {
			return &OverrideError{Kind: UnknownKey, Input: o.Input, Path: JoinPath(segments)}
		}
		parent.partial = false
		return nil
	}
	if !parent.Delete(last) {
		return &OverrideError{Kind: UnknownKey, Input: o.Input, Path: JoinPath(segments)}
	}
	return nil
}

func (o Override) walkToParent(root *Node, segments []string, force bool, cfg overrideConfig) (*Node, error) {
	parent := root
	for i, seg := range segments[:len(segments)-1] {
		child, ok := parent.Get(seg)
		if ok && isMappingKind(child) {
			parent = child
			continue
		}
		if !force {
			return nil, &OverrideError{Kind: UnknownKey, Input: o.Input, Path: JoinPath(segments[:i+1])}
		}
		if ok && cfg.strictTypes {
			return nil, &OverrideError{
				Kind:  TypeConflict,
				Input: o.Input,
				Path:  JoinPath(segments[:i+1]),
				Err:   fmt.Errorf("cannot traverse %s", child.Kind()),
			}
		}
		child = Mapping()
		parent.Set(seg, child)
		parent = child
	}
	return parent, nil
}

func (o Override) setTargetName(parent *Node) error {
	name, ok := o.Value.Value().(string)
	if o.Value.Kind() != KindScalar || !ok || name == "" {
		return &OverrideError{
			Kind:  MalformedOverride,
			Input: o.Input,
			Err:   fmt.Errorf("%s must be a non-empty string", targetKey),
		}
	}
	parent.kind = KindTarget
	parent.target = name
	return nil
}

func (o Override) setPartialFlag(parent *Node) error {
	flag, ok := o.Value.Value().(bool)
	if o.Value.Kind() != KindScalar || !ok {
		return &OverrideError{
			Kind:  MalformedOverride,
			Input: o.Input,
			Err:   fmt.Errorf("%s must be a bool", partialKey),
		}
	}
	if parent.Kind() != KindTarget {
		return &OverrideError{
			Kind:  MalformedOverride,
			Input: o.Input,
			Err:   fmt.Errorf("%s requires a %s mapping", partialKey, targetKey),
		}
	}
	parent.partial = flag
	return nil
}

// shapeCompatible reports whether replacing old with next keeps the value's
// broad shape. Interpolations and null scalars are compatible with anything.
func shapeCompatible(old, next *Node) bool {
	if old.Kind() == KindInterpolation || next.Kind() == KindInterpolation {
		return true
	}
	if old.Kind() == KindScalar && old.Value() == nil {
		return true
	}
	switch {
	case isMappingKind(old):
		return isMappingKind(next)
	case old.Kind() == KindSequence:
		return next.Kind() == KindSequence
	default:
		return next.Kind() == KindScalar
	}
}

// ParseLiteral decodes a value in the override grammar: null, booleans,
// integers, floats, quoted strings, [sequences], {mappings}, and ${...}
// interpolations. Anything else is taken as a raw string.
func ParseLiteral(s string) (*Node, error) {
	sc := &literalScanner{src: strings.TrimSpace(s)}
	node, err := sc.value()
	if err != nil {
		return nil, err
	}
	sc.skipSpace()
	if !sc.eof() {
		return nil, fmt.Errorf("unexpected %q after value", sc.rest())
	}
	return node, nil
}

type literalScanner struct {
	src string
	pos int
}

func (sc *literalScanner) eof() bool { return sc.pos >= len(sc.src) }

func (sc *literalScanner) peek() byte { return sc.src[sc.pos] }

func (sc *literalScanner) rest() string { return sc.src[sc.pos:] }

func (sc *literalScanner) skipSpace() {
	for !sc.eof() && (sc.peek() == ' ' || sc.peek() == '\t') {
		sc.pos++
	}
}

func (sc *literalScanner) value() (*Node, error) {
	sc.skipSpace()
	if sc.eof() {
		return Scalar(""), nil
	}
	switch sc.peek() {
	case '[':
		return sc.sequence()
	case '{':
		return sc.mapping()
	case '\'', '"':
		text, err := sc.quoted()
		if err != nil {
			return nil, err
		}
		// Quoting fixes the type but not the interpolation status; the
		// resolver honors a leading backslash escape.
		if strings.Contains(text, "${") {
			return Interp(text), nil
		}
		return Scalar(text), nil
	default:
		return sc.bare()
	}
}

func (sc *literalScanner) sequence() (*Node, error) {
	sc.pos++ // consume '['
	seq := Sequence()
	sc.skipSpace()
	if !sc.eof() && sc.peek() == ']' {
		sc.pos++
		return seq, nil
	}
	for {
		item, err := sc.value()
		if err != nil {
			return nil, err
		}
		seq.Append(item)
		sc.skipSpace()
		if sc.eof() {
			return nil, fmt.Errorf("unterminated sequence")
		}
		switch sc.peek() {
		case ',':
			sc.pos++
		case ']':
			sc.pos++
			return seq, nil
		default:
			return nil, fmt.Errorf("expected ',' or ']' at %q", sc.rest())
		}
	}
}

func (sc *literalScanner) mapping() (*Node, error) {
	sc.pos++ // consume '{'
	m := Mapping()
	sc.skipSpace()
	if !sc.eof() && sc.peek() == '}' {
		sc.pos++
		return promoteTarget(m)
	}
	for {
		sc.skipSpace()
		key, err := sc.mappingKey()
		if err != nil {
			return nil, err
		}
		if _, dup := m.Get(key); dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		sc.skipSpace()
		if sc.eof() || sc.peek() != ':' {
			return nil, fmt.Errorf("expected ':' after key %q", key)
		}
		sc.pos++
		item, err := sc.value()
		if err != nil {
			return nil, err
		}
		m.Set(key, item)
		sc.skipSpace()
		if sc.eof() {
			return nil, fmt.Errorf("unterminated mapping")
		}
		switch sc.peek() {
		case ',':
			sc.pos++
		case '}':
			sc.pos++
			return promoteTarget(m)
		default:
			return nil, fmt.Errorf("expected ',' or '}' at %q", sc.rest())
		}
	}
}

func (sc *literalScanner) mappingKey() (string, error) {
	if sc.eof() {
		return "", fmt.Errorf("missing mapping key")
	}
	if sc.peek() == '\'' || sc.peek() == '"' {
		return sc.quoted()
	}
	start := sc.pos
	for !sc.eof() && sc.peek() != ':' && sc.peek() != ',' && sc.peek() != '}' {
		sc.pos++
	}
	key := strings.TrimSpace(sc.src[start:sc.pos])
	if key == "" {
		return "", fmt.Errorf("empty mapping key")
	}
	return key, nil
}

func (sc *literalScanner) quoted() (string, error) {
	quote := sc.peek()
	sc.pos++
	var sb strings.Builder
	for !sc.eof() {
		c := sc.peek()
		sc.pos++
		switch c {
		case quote:
			return sb.String(), nil
		case '\\':
			if sc.eof() {
				return "", fmt.Errorf("dangling escape in string")
			}
			e := sc.peek()
			sc.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteByte(e)
			default:
				// Unknown escapes pass through; "\$" in particular must
				// survive for the resolver's literal-"${" escape.
				sb.WriteByte('\\')
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// bare scans an unquoted value up to the enclosing delimiter, tracking ${...}
// nesting so interpolations may contain '}' and ','.
func (sc *literalScanner) bare() (*Node, error) {
	start := sc.pos
	depth := 0
	for !sc.eof() {
		c := sc.peek()
		if c == '$' && sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '{' {
			depth++
			sc.pos += 2
			continue
		}
		if depth > 0 {
			if c == '}' {
				depth--
			}
			sc.pos++
			continue
		}
		if c == ',' || c == ']' || c == '}' {
			break
		}
		sc.pos++
	}
	raw := strings.TrimSpace(sc.src[start:sc.pos])
	return classifyBare(raw), nil
}

func classifyBare(raw string) *Node {
	if strings.Contains(raw, "${") {
		return Interp(raw)
	}
	switch raw {
	case "null":
		return Scalar(nil)
	case "true":
		return Scalar(true)
	case "false":
		return Scalar(false)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Scalar(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Scalar(f)
	}
	return Scalar(raw)
}

func promoteTarget(m *Node) (*Node, error) {
	tn, ok := m.Get(targetKey)
	if !ok {
		return m, nil
	}
	name, isStr := tn.Value().(string)
	if tn.Kind() != KindScalar || !isStr || name == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", targetKey)
	}
	t := Target(name)
	if pn, ok := m.Get(partialKey); ok {
		flag, isBool := pn.Value().(bool)
		if pn.Kind() != KindScalar || !isBool {
			return nil, fmt.Errorf("%s must be a bool", partialKey)
		}
		t.SetPartial(flag)
	}
	for _, key := range m.Keys() {
		if key == targetKey || key == partialKey {
			continue
		}
		child, _ := m.Get(key)
		t.Set(key, child)
	}
	return t, nil
}

package hydra

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvLookup supplies environment variables to the env resolver function. The
// default reads the process environment; tests inject a closed map.
type EnvLookup func(name string) (string, bool)

type resolverConfig struct {
	funcs  *ResolverRegistry
	env    EnvLookup
	logger ResolveLogger
	cache  ProgramCache
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverConfig)

// WithResolverRegistry seeds the resolver with a clone of registry.
func WithResolverRegistry(registry *ResolverRegistry) ResolverOption {
	return func(cfg *resolverConfig) {
		if registry == nil {
			return
		}
		cfg.funcs = registry.Clone()
	}
}

// WithResolverFunc registers fn under name for this resolver.
func WithResolverFunc(name string, fn ResolverFunc) ResolverOption {
	return func(cfg *resolverConfig) {
		if cfg.funcs == nil {
			cfg.funcs = NewResolverRegistry()
		}
		_ = cfg.funcs.Register(name, fn)
	}
}

// WithEnvLookup replaces the environment source used by "${env:...}".
func WithEnvLookup(lookup EnvLookup) ResolverOption {
	return func(cfg *resolverConfig) {
		if lookup != nil {
			cfg.env = lookup
		}
	}
}

// WithResolveLogger attaches a logger for resolution events.
func WithResolveLogger(logger ResolveLogger) ResolverOption {
	return func(cfg *resolverConfig) {
		if logger == nil {
			cfg.logger = noopResolveLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithProgramCache shares a compiled-program cache across the expression
// resolver functions.
func WithProgramCache(cache ProgramCache) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.cache = cache
	}
}

// Resolver resolves "${...}" interpolation nodes against a composed tree.
// Resolution is lazy and memoized per node; the tree must not be mutated
// once the first value has been read. A Resolver belongs to one run and is
// not safe for concurrent use.
type Resolver struct {
	root   *Node
	funcs  *ResolverRegistry
	env    EnvLookup
	logger ResolveLogger
	cache  ProgramCache
	stack  []string
}

// NewResolver builds a resolver over root. The builtin functions env and
// decode, plus the expression engines, are registered unless the supplied
// registry already binds their names.
func NewResolver(root *Node, opts ...ResolverOption) *Resolver {
	cfg := resolverConfig{
		env:    os.LookupEnv,
		logger: noopResolveLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.funcs == nil {
		cfg.funcs = NewResolverRegistry()
	}
	r := &Resolver{
		root:   root,
		funcs:  cfg.funcs,
		env:    cfg.env,
		logger: cfg.logger,
		cache:  cfg.cache,
	}
	registerBuiltins(r.funcs)
	return r
}

// Root returns the tree the resolver reads from.
func (r *Resolver) Root() *Node {
	return r.root
}

// ResolvePath resolves the value at a dotted path, following interpolations
// and memoizing every node resolved along the way. Sequence items are
// addressed by integer segments ("jobs.0.name").
func (r *Resolver) ResolvePath(path string) (*Node, error) {
	node, ok, err := r.lookupResolved(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InterpolationError{Kind: Unresolved, Path: path, Err: fmt.Errorf("no value at path")}
	}
	return node, nil
}

// ResolveAll resolves every interpolation in the tree, replacing each
// interpolation node with its resolved form in place. After it returns the
// tree contains no interpolation nodes.
func (r *Resolver) ResolveAll() error {
	return r.resolveTree(r.root, "")
}

func (r *Resolver) resolveTree(n *Node, path string) error {
	switch n.Kind() {
	case KindMapping, KindTarget:
		for _, key := range n.Keys() {
			child, _ := n.Get(key)
			childPath := appendPath(path, key)
			resolved, err := r.resolveChild(child, childPath)
			if err != nil {
				return err
			}
			if resolved != child {
				n.Set(key, resolved)
			}
			if err := r.resolveTree(resolved, childPath); err != nil {
				return err
			}
		}
	case KindSequence:
		for i, item := range n.items {
			childPath := appendPath(path, strconv.Itoa(i))
			resolved, err := r.resolveChild(item, childPath)
			if err != nil {
				return err
			}
			n.items[i] = resolved
			if err := r.resolveTree(resolved, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolveChild(n *Node, path string) (*Node, error) {
	if n.Kind() != KindInterpolation {
		return n, nil
	}
	return r.resolveInterp(n, path)
}

// resolveInterp resolves one interpolation node, guarding against reference
// cycles through the path stack.
func (r *Resolver) resolveInterp(n *Node, path string) (*Node, error) {
	if n.memo != nil {
		return n.memo, nil
	}
	for i, entry := range r.stack {
		if entry == path {
			cycle := append(append([]string(nil), r.stack[i:]...), path)
			return nil, &InterpolationError{Kind: InterpolationCycle, Expr: n.expr, Path: path, Cycle: cycle}
		}
	}
	r.stack = append(r.stack, path)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	start := time.Now()
	resolved, err := r.resolveText(n.expr, path)
	r.logger.LogResolution(ResolveEvent{
		Engine:   "interpolation",
		Expr:     n.expr,
		Path:     path,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, wrapResolveError(n.expr, path, err)
	}
	n.memo = resolved
	return resolved, nil
}

// resolveText resolves a scalar's raw text. A text that is exactly one
// expression takes the referenced value and type; mixed text concatenates
// the parts as a string.
func (r *Resolver) resolveText(text, path string) (*Node, error) {
	spans, err := scanInterpolations(text)
	if err != nil {
		return nil, err
	}
	if len(spans) == 1 && spans[0].expr {
		return r.resolveExpr(spans[0].text, path)
	}
	var sb strings.Builder
	for _, span := range spans {
		if !span.expr {
			sb.WriteString(span.text)
			continue
		}
		node, err := r.resolveExpr(span.text, path)
		if err != nil {
			return nil, err
		}
		sb.WriteString(formatNode(node))
	}
	return Scalar(sb.String()), nil
}

var funcNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// resolveExpr resolves the inside of one ${...} span: nested spans first,
// then either a function call ("name:raw args") or a path with an optional
// default ("a.b" / "a.b,fallback").
func (r *Resolver) resolveExpr(inner, path string) (*Node, error) {
	substituted, err := r.substituteNested(inner, path)
	if err != nil {
		return nil, err
	}

	if name, raw, ok := strings.Cut(substituted, ":"); ok && funcNameRe.MatchString(strings.TrimSpace(name)) {
		return r.callFunc(strings.TrimSpace(name), raw, path)
	}

	ref, defaultRaw, hasDefault := cutTopLevel(substituted, ',')
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &InterpolationError{Kind: Unresolved, Expr: inner, Path: path, Err: fmt.Errorf("empty reference")}
	}
	node, ok, err := r.lookupResolved(ref)
	if err != nil {
		return nil, err
	}
	if ok {
		return node, nil
	}
	if hasDefault {
		return r.defaultValue(defaultRaw, path)
	}
	return nil, &InterpolationError{Kind: Unresolved, Expr: inner, Path: path, Err: fmt.Errorf("no value at %q", ref)}
}

// substituteNested resolves any ${...} spans inside an expression body and
// splices their string forms back into the text, innermost first.
func (r *Resolver) substituteNested(inner, path string) (string, error) {
	if !strings.Contains(inner, "${") {
		return inner, nil
	}
	spans, err := scanInterpolations(inner)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, span := range spans {
		if !span.expr {
			sb.WriteString(span.text)
			continue
		}
		node, err := r.resolveExpr(span.text, path)
		if err != nil {
			return "", err
		}
		sb.WriteString(formatNode(node))
	}
	return sb.String(), nil
}

func (r *Resolver) defaultValue(raw, path string) (*Node, error) {
	node, err := ParseLiteral(strings.TrimSpace(raw))
	if err != nil {
		return nil, &InterpolationError{Kind: Unresolved, Path: path, Err: fmt.Errorf("bad default: %w", err)}
	}
	if node.Kind() == KindInterpolation {
		return r.resolveText(node.Expr(), path)
	}
	return node, nil
}

func (r *Resolver) callFunc(name, raw, path string) (*Node, error) {
	fn, ok := r.funcs.Resolve(name)
	if !ok {
		return nil, &InterpolationError{
			Kind: Unresolved,
			Expr: name + ":" + raw,
			Path: path,
			Err:  fmt.Errorf("resolver %q not registered (have %s)", name, strings.Join(r.funcs.Names(), ", ")),
		}
	}
	value, err := fn(&ResolveContext{resolver: r, path: path}, raw)
	if err != nil {
		return nil, wrapResolveError(name+":"+raw, path, err)
	}
	node, err := valueToNode(value)
	if err != nil {
		return nil, &InterpolationError{Kind: Unresolved, Expr: name + ":" + raw, Path: path, Err: err}
	}
	if node.Kind() == KindInterpolation {
		return r.resolveText(node.Expr(), path)
	}
	return node, nil
}

// lookupResolved walks a dotted path from the root, resolving interpolation
// nodes it passes through. Integer segments index sequences.
func (r *Resolver) lookupResolved(path string) (*Node, bool, error) {
	current := r.root
	walked := ""
	for _, segment := range SplitPath(path) {
		if current.Kind() == KindInterpolation {
			resolved, err := r.resolveInterp(current, walked)
			if err != nil {
				return nil, false, err
			}
			current = resolved
		}
		next, ok := childAt(current, segment)
		if !ok {
			return nil, false, nil
		}
		current = next
		walked = appendPath(walked, segment)
	}
	if current.Kind() == KindInterpolation {
		resolved, err := r.resolveInterp(current, walked)
		if err != nil {
			return nil, false, err
		}
		current = resolved
	}
	return current, true, nil
}

func childAt(n *Node, segment string) (*Node, bool) {
	switch n.Kind() {
	case KindMapping, KindTarget:
		return n.Get(segment)
	case KindSequence:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= n.Len() {
			return nil, false
		}
		return n.Item(idx), true
	default:
		return nil, false
	}
}

// ResolveContext is handed to resolver functions; it exposes the surrounding
// resolution machinery without the mutable internals.
type ResolveContext struct {
	resolver *Resolver
	path     string
}

// Path returns the config path of the value being resolved.
func (rc *ResolveContext) Path() string {
	return rc.path
}

// Lookup resolves a dotted config path, reporting whether it exists.
func (rc *ResolveContext) Lookup(path string) (*Node, bool, error) {
	return rc.resolver.lookupResolved(path)
}

// Env reads one variable through the resolver's environment source.
func (rc *ResolveContext) Env(name string) (string, bool) {
	return rc.resolver.env(name)
}

// Logger returns the resolver's event logger.
func (rc *ResolveContext) Logger() ResolveLogger {
	return rc.resolver.logger
}

// Cache returns the shared program cache, or nil when none is configured.
func (rc *ResolveContext) Cache() ProgramCache {
	return rc.resolver.cache
}

// ResolverFunc implements one "${name:raw}" form. It receives the raw text
// after the colon, unsplit, so expression engines keep their own grammar.
type ResolverFunc func(rc *ResolveContext, raw string) (any, error)

func registerBuiltins(reg *ResolverRegistry) {
	builtins := map[string]ResolverFunc{
		"env":    envResolver,
		"decode": decodeResolver,
		"expr":   exprResolver,
		"cel":    celResolver,
		"js":     jsResolver,
	}
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, taken := reg.Resolve(name); taken {
			continue
		}
		_ = reg.Register(name, builtins[name])
	}
}

// envResolver implements "${env:NAME}" and "${env:NAME,default}". Values come
// back as strings; combine with decode for typed results.
func envResolver(rc *ResolveContext, raw string) (any, error) {
	args := SplitArgs(raw)
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("env: variable name required")
	}
	name := args[0]
	if value, ok := rc.Env(name); ok {
		return value, nil
	}
	if len(args) > 1 {
		return args[1], nil
	}
	return nil, fmt.Errorf("env: %q is not set", name)
}

// decodeResolver implements "${decode:raw}", parsing raw with the override
// literal grammar.
func decodeResolver(_ *ResolveContext, raw string) (any, error) {
	node, err := ParseLiteral(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return node, nil
}

// SplitArgs splits resolver arguments on commas that sit outside quotes,
// brackets, and nested interpolations, trimming surrounding space.
func SplitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var args []string
	rest := raw
	for {
		head, tail, more := cutTopLevel(rest, ',')
		args = append(args, strings.TrimSpace(head))
		if !more {
			return args
		}
		rest = tail
	}
}

// cutTopLevel splits s at the first sep outside quotes, brackets, and
// braces.
func cutTopLevel(s string, sep byte) (string, string, bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

type interpSpan struct {
	text string
	expr bool
}

// scanInterpolations splits raw scalar text into literal and ${...} spans.
// "\${" escapes to a literal "${"; quotes suspend brace tracking inside an
// expression body.
func scanInterpolations(text string) ([]interpSpan, error) {
	var spans []interpSpan
	var literal strings.Builder
	i := 0
	for i < len(text) {
		if text[i] == '\\' && i+2 < len(text) && text[i+1] == '$' && text[i+2] == '{' {
			literal.WriteString("${")
			i += 3
			continue
		}
		if text[i] == '$' && i+1 < len(text) && text[i+1] == '{' {
			if literal.Len() > 0 {
				spans = append(spans, interpSpan{text: literal.String()})
				literal.Reset()
			}
			body, next, err := scanExprBody(text, i+2)
			if err != nil {
				return nil, err
			}
			spans = append(spans, interpSpan{text: body, expr: true})
			i = next
			continue
		}
		literal.WriteByte(text[i])
		i++
	}
	if literal.Len() > 0 {
		spans = append(spans, interpSpan{text: literal.String()})
	}
	if len(spans) == 0 {
		spans = append(spans, interpSpan{text: ""})
	}
	return spans, nil
}

func scanExprBody(text string, start int) (string, int, error) {
	depth := 1
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '$':
			if i+1 < len(text) && text[i+1] == '{' {
				depth++
				i++
			}
		case '}':
			depth--
			if depth == 0 {
				return text[start:i], i + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("unterminated interpolation in %q", text)
}

// valueToNode lifts a resolver function result into the tree's node form.
func valueToNode(value any) (*Node, error) {
	switch v := value.(type) {
	case nil:
		return Scalar(nil), nil
	case *Node:
		return v, nil
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return Scalar(v), nil
	case []any:
		items := make([]*Node, 0, len(v))
		for _, item := range v {
			node, err := valueToNode(item)
			if err != nil {
				return nil, err
			}
			items = append(items, node)
		}
		return Sequence(items...), nil
	case []string:
		items := make([]*Node, 0, len(v))
		for _, item := range v {
			items = append(items, Scalar(item))
		}
		return Sequence(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		m := Mapping()
		for _, key := range keys {
			node, err := valueToNode(v[key])
			if err != nil {
				return nil, err
			}
			m.Set(key, node)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported resolver result type %T", value)
	}
}

// formatNode renders a resolved node for string concatenation.
func formatNode(n *Node) string {
	if n.Kind() != KindScalar {
		return n.String()
	}
	switch v := n.Value().(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func appendPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

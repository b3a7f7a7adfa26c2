package hydra

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testEnv(vars map[string]string) EnvLookup {
	return func(name string) (string, bool) {
		value, ok := vars[name]
		return value, ok
	}
}

func resolveValue(t *testing.T, r *Resolver, path string) any {
	t.Helper()
	node, err := r.ResolvePath(path)
	if err != nil {
		t.Fatalf("ResolvePath(%q): %v", path, err)
	}
	return node.Value()
}

func TestResolveReferences(t *testing.T) {
	root := Mapping().
		Set("name", Scalar("run")).
		Set("port", Scalar(8080)).
		Set("out", Interp("${name}")).
		Set("addr", Interp("${port}")).
		Set("url", Interp("${name}:${port}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "out"); got != "run" {
		t.Fatalf("out = %v, want run", got)
	}
	if got := resolveValue(t, r, "addr"); got != int64(8080) {
		t.Fatalf("addr = %v (%T), want int64 8080", got, got)
	}
	if got := resolveValue(t, r, "url"); got != "run:8080" {
		t.Fatalf("url = %v, want run:8080", got)
	}
}

func TestResolveDefaults(t *testing.T) {
	root := Mapping().
		Set("present", Scalar("here")).
		Set("a", Interp("${missing,8080}")).
		Set("b", Interp("${missing,hello}")).
		Set("c", Interp("${present,fallback}")).
		Set("d", Interp("${missing,[1, 2]}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "a"); got != int64(8080) {
		t.Fatalf("a = %v (%T), want int64 8080", got, got)
	}
	if got := resolveValue(t, r, "b"); got != "hello" {
		t.Fatalf("b = %v, want hello", got)
	}
	if got := resolveValue(t, r, "c"); got != "here" {
		t.Fatalf("c = %v, want here", got)
	}
	node, err := r.ResolvePath("d")
	if err != nil {
		t.Fatalf("ResolvePath(d): %v", err)
	}
	if node.Kind() != KindSequence || node.Len() != 2 {
		t.Fatalf("d = %s, want a two item sequence", node)
	}
}

func TestResolveNestedExpressions(t *testing.T) {
	root := Mapping().
		Set("tier", Scalar("prod")).
		Set("db", Mapping().
			Set("prod", Mapping().Set("host", Scalar("primary"))).
			Set("dev", Mapping().Set("host", Scalar("local")))).
		Set("active", Interp("${db.${tier}.host}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "active"); got != "primary" {
		t.Fatalf("active = %v, want primary", got)
	}
}

func TestResolveThroughReference(t *testing.T) {
	root := Mapping().
		Set("db", Mapping().Set("host", Scalar("h1"))).
		Set("alias", Interp("${db}")).
		Set("out", Interp("${alias.host}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "out"); got != "h1" {
		t.Fatalf("out = %v, want h1", got)
	}
}

func TestResolveEscape(t *testing.T) {
	root := Mapping().
		Set("raw", Interp(`\${literal}`)).
		Set("mixed", Interp(`cost: \${5} and ${n}`)).
		Set("n", Scalar(2))

	r := NewResolver(root)
	if got := resolveValue(t, r, "raw"); got != "${literal}" {
		t.Fatalf("raw = %v, want ${literal}", got)
	}
	if got := resolveValue(t, r, "mixed"); got != "cost: ${5} and 2" {
		t.Fatalf("mixed = %v", got)
	}
}

func TestResolveStringConcatenation(t *testing.T) {
	root := Mapping().
		Set("i", Scalar(1)).
		Set("f", Scalar(1.5)).
		Set("b", Scalar(true)).
		Set("z", Scalar(nil)).
		Set("out", Interp("v${i} ${f} ${b} ${z}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "out"); got != "v1 1.5 true null" {
		t.Fatalf("out = %q", got)
	}
}

func TestResolveSequenceIndexing(t *testing.T) {
	root := Mapping().
		Set("list", Sequence(Scalar(10), Interp("${list.0}"))).
		Set("first", Interp("${list.1}"))

	r := NewResolver(root)
	if got := resolveValue(t, r, "first"); got != int64(10) {
		t.Fatalf("first = %v, want 10", got)
	}
}

func TestResolveEnvFunction(t *testing.T) {
	root := Mapping().
		Set("home", Interp("${env:HOME}")).
		Set("port", Interp("${env:PORT,9000}")).
		Set("gone", Interp("${env:GONE}"))

	r := NewResolver(root, WithEnvLookup(testEnv(map[string]string{"HOME": "/tmp/x"})))
	if got := resolveValue(t, r, "home"); got != "/tmp/x" {
		t.Fatalf("home = %v", got)
	}
	if got := resolveValue(t, r, "port"); got != "9000" {
		t.Fatalf("port = %v (%T), want string 9000", got, got)
	}
	_, err := r.ResolvePath("gone")
	var ierr *InterpolationError
	if !errors.As(err, &ierr) || ierr.Kind != Unresolved {
		t.Fatalf("gone: err = %v, want unresolved", err)
	}
}

func TestResolveDecodeFunction(t *testing.T) {
	root := Mapping().
		Set("nums", Interp("${decode:[1, 2, 3]}")).
		Set("typed", Interp("${decode:${env:PORT}}"))

	r := NewResolver(root, WithEnvLookup(testEnv(map[string]string{"PORT": "8080"})))
	node, err := r.ResolvePath("nums")
	if err != nil {
		t.Fatalf("ResolvePath(nums): %v", err)
	}
	if node.Kind() != KindSequence || node.Len() != 3 {
		t.Fatalf("nums = %s, want three item sequence", node)
	}
	if got := resolveValue(t, r, "typed"); got != int64(8080) {
		t.Fatalf("typed = %v (%T), want int64 8080", got, got)
	}
}

func TestResolveCycleFails(t *testing.T) {
	build := func() *Node {
		return Mapping().
			Set("a", Interp("${b}")).
			Set("b", Interp("${a}"))
	}

	// A mutual cycle fails no matter which end resolution starts from.
	for _, start := range []string{"a", "b"} {
		_, err := NewResolver(build()).ResolvePath(start)
		var ierr *InterpolationError
		if !errors.As(err, &ierr) || ierr.Kind != InterpolationCycle {
			t.Fatalf("start %s: err = %v, want cycle", start, err)
		}
		if len(ierr.Cycle) < 2 {
			t.Fatalf("start %s: cycle chain = %v", start, ierr.Cycle)
		}
	}

	if err := NewResolver(build()).ResolveAll(); err == nil {
		t.Fatal("ResolveAll should fail on a cycle")
	}

	_, err := NewResolver(Mapping().Set("a", Interp("${a}"))).ResolvePath("a")
	var ierr *InterpolationError
	if !errors.As(err, &ierr) || ierr.Kind != InterpolationCycle {
		t.Fatalf("self reference: err = %v, want cycle", err)
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	build := func() *Node {
		return Mapping().
			Set("x", Interp("${y}")).
			Set("y", Scalar(1)).
			Set("z", Interp("${x}"))
	}

	forward := NewResolver(build())
	fx := resolveValue(t, forward, "x")
	fz := resolveValue(t, forward, "z")

	backward := NewResolver(build())
	bz := resolveValue(t, backward, "z")
	bx := resolveValue(t, backward, "x")

	if fx != bx || fz != bz {
		t.Fatalf("resolution order changed values: %v/%v vs %v/%v", fx, fz, bx, bz)
	}
}

func TestResolveAllReplacesInterpolations(t *testing.T) {
	root := Mapping().
		Set("name", Scalar("run")).
		Set("out", Interp("${name}")).
		Set("nested", Mapping().Set("deep", Interp("${name}"))).
		Set("list", Sequence(Interp("${name}")))

	r := NewResolver(root)
	if err := r.ResolveAll(); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	var check func(n *Node)
	check = func(n *Node) {
		if n.Kind() == KindInterpolation {
			t.Fatalf("interpolation survived: %s", n)
		}
		for _, key := range n.Keys() {
			child, _ := n.Get(key)
			check(child)
		}
		for i := 0; i < n.Len(); i++ {
			check(n.Item(i))
		}
	}
	check(root)

	deep, _ := root.Lookup("nested.deep")
	if deep.Value() != "run" {
		t.Fatalf("nested.deep = %v, want run", deep.Value())
	}
}

func TestResolveAllSharesReferencedSubtrees(t *testing.T) {
	root := Mapping().
		Set("db", Mapping().Set("host", Scalar("h"))).
		Set("mirror", Interp("${db}"))

	r := NewResolver(root)
	if err := r.ResolveAll(); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	db, _ := root.Get("db")
	mirror, _ := root.Get("mirror")
	if db != mirror {
		t.Fatal("mirror should alias the referenced subtree")
	}
}

func TestResolveUnknownFunction(t *testing.T) {
	root := Mapping().Set("v", Interp("${nope:1}"))
	_, err := NewResolver(root).ResolvePath("v")
	var ierr *InterpolationError
	if !errors.As(err, &ierr) || ierr.Kind != Unresolved {
		t.Fatalf("err = %v, want unresolved", err)
	}
	if !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("err = %v, want mention of registration", err)
	}
}

func TestResolveCustomFunction(t *testing.T) {
	root := Mapping().Set("v", Interp("${upper:${name}}")).Set("name", Scalar("run"))
	r := NewResolver(root, WithResolverFunc("upper", func(_ *ResolveContext, raw string) (any, error) {
		return strings.ToUpper(raw), nil
	}))
	if got := resolveValue(t, r, "v"); got != "RUN" {
		t.Fatalf("v = %v, want RUN", got)
	}
}

func TestResolveExprFunction(t *testing.T) {
	root := Mapping().
		Set("a", Scalar(21)).
		Set("calc", Interp(`${expr:cfg("a") * 2}`)).
		Set("greet", Interp(`${expr:env("WHO") + "!"}`))

	r := NewResolver(root, WithEnvLookup(testEnv(map[string]string{"WHO": "world"})))
	if got := resolveValue(t, r, "calc"); got != int64(42) {
		t.Fatalf("calc = %v (%T), want int64 42", got, got)
	}
	if got := resolveValue(t, r, "greet"); got != "world!" {
		t.Fatalf("greet = %v, want world!", got)
	}
}

func TestResolveCELFunction(t *testing.T) {
	root := Mapping().
		Set("a", Scalar(21)).
		Set("calc", Interp(`${cel:cfg("a") * 2}`)).
		Set("greet", Interp(`${cel:env("WHO") + "!"}`))

	r := NewResolver(root, WithEnvLookup(testEnv(map[string]string{"WHO": "world"})))
	if got := resolveValue(t, r, "calc"); got != int64(42) {
		t.Fatalf("calc = %v (%T), want int64 42", got, got)
	}
	if got := resolveValue(t, r, "greet"); got != "world!" {
		t.Fatalf("greet = %v, want world!", got)
	}
}

func TestResolveJSFunction(t *testing.T) {
	if !jsResolverAvailable() {
		t.Skip("js resolver requires the js_eval build tag")
	}
	root := Mapping().
		Set("a", Scalar(21)).
		Set("calc", Interp(`${js:cfg("a") * 2}`))
	r := NewResolver(root)
	if got := resolveValue(t, r, "calc"); got != int64(42) {
		t.Fatalf("calc = %v (%T), want int64 42", got, got)
	}
}

func TestResolveExprCycleThroughCfg(t *testing.T) {
	root := Mapping().
		Set("a", Interp(`${expr:cfg("b") + 1}`)).
		Set("b", Interp(`${expr:cfg("a") + 1}`))

	_, err := NewResolver(root).ResolvePath("a")
	var ierr *InterpolationError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v, want interpolation error", err)
	}
}

func TestResolveProgramCacheReuse(t *testing.T) {
	root := Mapping().
		Set("a", Interp(`${expr:1 + 1}`)).
		Set("b", Interp(`${expr:1 + 1}`))

	cache := NewMapProgramCache()
	r := NewResolver(root, WithProgramCache(cache))
	if got := resolveValue(t, r, "a"); got != int64(2) {
		t.Fatalf("a = %v", got)
	}
	if got := resolveValue(t, r, "b"); got != int64(2) {
		t.Fatalf("b = %v", got)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d programs, want 1", cache.Len())
	}
	if _, ok := cache.Get("expr:1 + 1"); !ok {
		t.Fatal("compiled program missing from cache")
	}
}

func TestResolveLoggerEvents(t *testing.T) {
	root := Mapping().
		Set("a", Scalar(1)).
		Set("v", Interp(`${expr:cfg("a")}`))

	var events []ResolveEvent
	r := NewResolver(root, WithResolveLogger(ResolveLoggerFunc(func(event ResolveEvent) {
		events = append(events, event)
	})))
	if got := resolveValue(t, r, "v"); got != int64(1) {
		t.Fatalf("v = %v", got)
	}

	engines := make(map[string]bool)
	for _, event := range events {
		engines[event.Engine] = true
		if event.Err != nil {
			t.Fatalf("unexpected event error: %v", event.Err)
		}
	}
	if !engines["expr"] || !engines["interpolation"] {
		t.Fatalf("engines seen = %v, want expr and interpolation", engines)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a, b", []string{"a", "b"}},
		{"'a,b', c", []string{"'a,b'", "c"}},
		{"[1,2], 3", []string{"[1,2]", "3"}},
	}
	for _, tt := range tests {
		if got := SplitArgs(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("SplitArgs(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestResolveErrorDetail(t *testing.T) {
	root := Mapping().Set("v", Interp("${missing.path}"))
	_, err := NewResolver(root).ResolvePath("v")
	var ierr *InterpolationError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v", err)
	}
	if ierr.Path != "v" {
		t.Fatalf("Path = %q, want v", ierr.Path)
	}
	if ierr.Expr == "" {
		t.Fatal("Expr should carry the failing expression")
	}
}

package hydra

import (
	"reflect"
	"testing"
)

func TestMappingOrder(t *testing.T) {
	m := Mapping().
		Set("host", Scalar("localhost")).
		Set("port", Scalar(5432)).
		Set("user", Scalar("admin"))

	if got, want := m.Keys(), []string{"host", "port", "user"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected insertion order %v, got %v", want, got)
	}

	// Replacing an existing key keeps its position.
	m.Set("port", Scalar(6543))
	if got, want := m.Keys(), []string{"host", "port", "user"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order preserved on replace, got %v", got)
	}
	port, ok := m.Get("port")
	if !ok || port.Value() != int64(6543) {
		t.Fatalf("expected replaced port value 6543, got %v", port.Value())
	}

	if !m.Delete("port") {
		t.Fatal("expected Delete to report the key present")
	}
	if m.Delete("port") {
		t.Fatal("expected second Delete to report the key absent")
	}
	if got, want := m.Keys(), []string{"host", "user"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v after delete, got %v", want, got)
	}
}

func TestScalarNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 42, int64(42)},
		{"int32", int32(7), int64(7)},
		{"uint16", uint16(9), int64(9)},
		{"float32", float32(1.5), float64(1.5)},
		{"string", "x", "x"},
		{"bool", true, true},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scalar(tt.in).Value(); got != tt.want {
				t.Fatalf("expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tree := Mapping().Set("db", Mapping().
		Set("host", Scalar("localhost")).
		Set("pool", Target("pool.New").Set("size", Scalar(8))))

	tests := []struct {
		name  string
		path  string
		found bool
		check func(*Node) bool
	}{
		{"nested scalar", "db.host", true, func(n *Node) bool { return n.Value() == "localhost" }},
		{"through target", "db.pool.size", true, func(n *Node) bool { return n.Value() == int64(8) }},
		{"empty path is self", "", true, func(n *Node) bool { return n.Kind() == KindMapping }},
		{"missing key", "db.name", false, nil},
		{"path through scalar", "db.host.x", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tree.Lookup(tt.path)
			if ok != tt.found {
				t.Fatalf("Lookup(%q) found=%v, expected %v", tt.path, ok, tt.found)
			}
			if tt.found && !tt.check(got) {
				t.Fatalf("Lookup(%q) returned unexpected node %s", tt.path, got)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Mapping().Set("list", Sequence(Scalar(1), Scalar(2))).
		Set("job", Target("job.New").SetPartial(true).Set("retries", Scalar(3)))

	copied := orig.Clone()
	if !orig.Equal(copied) {
		t.Fatal("expected clone to equal original")
	}

	copied.Set("extra", Scalar(true))
	list, _ := copied.Get("list")
	list.Append(Scalar(3))
	job, _ := copied.Get("job")
	job.Set("retries", Scalar(9))

	if _, ok := orig.Get("extra"); ok {
		t.Fatal("mutating the clone leaked into the original mapping")
	}
	if origList, _ := orig.Get("list"); origList.Len() != 2 {
		t.Fatalf("mutating the clone leaked into the original sequence: %s", origList)
	}
	origRetries, _ := orig.Lookup("job.retries")
	if origRetries.Value() != int64(3) {
		t.Fatalf("mutating the clone leaked into the original target: %v", origRetries.Value())
	}
	if !job.Partial() {
		t.Fatal("expected clone to carry the partial flag")
	}
}

func TestEqualIgnoresKeyOrder(t *testing.T) {
	a := Mapping().Set("x", Scalar(1)).Set("y", Scalar(2))
	b := Mapping().Set("y", Scalar(2)).Set("x", Scalar(1))
	if !a.Equal(b) {
		t.Fatal("expected mappings with distinct key order to compare equal")
	}

	c := Sequence(Scalar(1), Scalar(2))
	d := Sequence(Scalar(2), Scalar(1))
	if c.Equal(d) {
		t.Fatal("expected sequences with distinct order to compare unequal")
	}

	e := Target("a.New").Set("x", Scalar(1))
	f := Target("b.New").Set("x", Scalar(1))
	if e.Equal(f) {
		t.Fatal("expected targets with distinct names to compare unequal")
	}
}

func TestNodeString(t *testing.T) {
	n := Mapping().
		Set("name", Scalar("run")).
		Set("opt", Target("opt.SGD").Set("lr", Scalar(0.1))).
		Set("ref", Interp("${name}"))

	want := `{name: "run", opt: {_target_: opt.SGD, lr: 0.1}, ref: ${name}}`
	if got := n.String(); got != want {
		t.Fatalf("String() = %s, want %s", got, want)
	}
}

package hydra

import (
	"errors"
	"testing"
)

type linkA struct {
	Name string `json:"name"`
	B    *linkB `json:"b"`
}

type linkB struct {
	A *linkA `json:"a"`
}

func newLinkRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register("test.LinkA", FactoryFunc(func(map[string]any) (any, error) {
		return &linkA{}, nil
	}), WithReverse(&linkA{})); err != nil {
		t.Fatalf("register linkA: %v", err)
	}
	if err := reg.Register("test.LinkB", FactoryFunc(func(map[string]any) (any, error) {
		return &linkB{}, nil
	}), WithReverse(&linkB{})); err != nil {
		t.Fatalf("register linkB: %v", err)
	}
	return reg
}

func TestSerializeStructures(t *testing.T) {
	got, err := Serialize(map[string]any{
		"b": []any{"x", true},
		"a": int64(1),
	}, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := Mapping().
		Set("a", Scalar(1)).
		Set("b", Sequence(Scalar("x"), Scalar(true)))
	if !got.Equal(want) {
		t.Fatalf("Serialize = %s, want %s", got, want)
	}
	// Map keys come out sorted when no shape guides them.
	if keys := got.Keys(); keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestSerializeTargetObject(t *testing.T) {
	reg := newTestRegistry(t)
	opt := &testOptimizer{Algo: "sgd", LR: 0.1}

	got, err := Serialize(opt, nil, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !got.Equal(optimizerNode()) {
		t.Fatalf("Serialize = %s, want %s", got, optimizerNode())
	}
}

func TestSerializeCapturesMutation(t *testing.T) {
	reg := newTestRegistry(t)
	value, err := Instantiate(optimizerNode(), reg)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	opt := value.(*testOptimizer)
	opt.LR = 0.9

	got, err := Serialize(opt, nil, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	lr, _ := got.Get("lr")
	if lr.Value() != 0.9 {
		t.Fatalf("lr = %v, want the mutated 0.9", lr.Value())
	}
}

func TestSerializeSharedInstanceBackRef(t *testing.T) {
	reg := newTestRegistry(t)
	opt := &testOptimizer{Algo: "sgd", LR: 0.1}
	trainer := &testTrainer{Epochs: 3, Optimizer: opt}
	graph := NewFields().
		Set("opt", opt).
		Set("trainer", trainer)

	got, err := Serialize(graph, nil, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	ref, ok := got.Lookup("trainer.optimizer")
	if !ok {
		t.Fatalf("missing trainer.optimizer in %s", got)
	}
	if ref.Kind() != KindInterpolation || ref.Expr() != "${opt}" {
		t.Fatalf("trainer.optimizer = %s, want ${opt} back reference", ref)
	}
	first, _ := got.Lookup("opt")
	if first.Kind() != KindTarget {
		t.Fatalf("opt = %s, want the structural emission", first)
	}
}

func TestSerializeCyclicGraph(t *testing.T) {
	reg := newLinkRegistry(t)
	a := &linkA{Name: "a"}
	b := &linkB{A: a}
	a.B = b

	t.Run("terminates below the root", func(t *testing.T) {
		got, err := Serialize(NewFields().Set("pair", a), nil, WithSerializeRegistry(reg))
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		back, ok := got.Lookup("pair.b.a")
		if !ok || back.Kind() != KindInterpolation || back.Expr() != "${pair}" {
			t.Fatalf("pair.b.a = %v, want ${pair}", back)
		}
	})

	t.Run("root cycle fails", func(t *testing.T) {
		_, err := Serialize(a, nil, WithSerializeRegistry(reg))
		var serr *SerializationError
		if !errors.As(err, &serr) || serr.Kind != NonSerializableValue {
			t.Fatalf("err = %v, want non-serializable", err)
		}
	})
}

func TestSerializePartial(t *testing.T) {
	reg := newTestRegistry(t)
	node := Target("optim.SGD").SetPartial(true).
		Set("algo", Scalar("sgd"))

	value, err := Instantiate(node, reg)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	got, err := Serialize(value, node, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !got.Equal(node) {
		t.Fatalf("Serialize = %s, want %s", got, node)
	}
	if !got.Partial() {
		t.Fatal("partial flag should survive")
	}
}

func TestSerializeNonSerializable(t *testing.T) {
	_, err := Serialize(map[string]any{"ch": make(chan int)}, nil)
	var serr *SerializationError
	if !errors.As(err, &serr) || serr.Kind != NonSerializableValue {
		t.Fatalf("chan: err = %v, want non-serializable", err)
	}
	if serr.Path != "ch" {
		t.Fatalf("Path = %q, want ch", serr.Path)
	}

	_, err = Serialize(&testOptimizer{}, nil)
	if !errors.As(err, &serr) {
		t.Fatalf("unmapped struct: err = %v, want non-serializable", err)
	}
}

func TestSerializeShapeOrdering(t *testing.T) {
	shape := Mapping().
		Set("z", Scalar(0)).
		Set("a", Scalar(0))

	got, err := Serialize(map[string]any{"a": int64(2), "z": int64(1)}, shape)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if keys := got.Keys(); keys[0] != "z" || keys[1] != "a" {
		t.Fatalf("Keys = %v, want shape order z,a", keys)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	resolved := Mapping().
		Set("name", Scalar("run")).
		Set("trainer", Target("train.Trainer").
			Set("epochs", Scalar(5)).
			Set("optimizer", optimizerNode()).
			Set("extra", Mapping().Set("seed", Scalar(7)))).
		Set("tags", Sequence(Scalar("a"), Scalar("b")))

	value, err := Instantiate(resolved, reg)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	got, err := Serialize(value, resolved, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !got.Equal(resolved) {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, resolved)
	}
}

func TestSerializeAliasRoundTripRestoresSharing(t *testing.T) {
	reg := newTestRegistry(t)
	opt := optimizerNode()
	resolved := Mapping().
		Set("opt", opt).
		Set("mirror", opt)

	value, err := Instantiate(resolved, reg)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	tree, err := Serialize(value, resolved, WithSerializeRegistry(reg))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if err := NewResolver(tree).ResolveAll(); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	rebuilt, err := Instantiate(tree, reg)
	if err != nil {
		t.Fatalf("reinstantiate: %v", err)
	}
	fields := rebuilt.(*Fields)
	first, _ := fields.Get("opt")
	second, _ := fields.Get("mirror")
	if first.(*testOptimizer) != second.(*testOptimizer) {
		t.Fatal("back reference should rebuild the shared instance")
	}
}

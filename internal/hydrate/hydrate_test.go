package hydrate

import (
	"fmt"
	"strings"
	"testing"
)

type optimizerParams struct {
	Name     string  `json:"name"`
	LR       float64 `json:"lr"`
	Momentum float64 `json:"momentum"`
	Nesterov bool    `json:"nesterov"`
}

func TestDecodeParams(t *testing.T) {
	decoder := NewDecoder[optimizerParams]()
	got, err := decoder.Decode(Context{Target: "optim.SGD", Path: "optimizer"}, map[string]any{
		"name":     "sgd",
		"lr":       0.1,
		"momentum": 0.9,
		"nesterov": true,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := optimizerParams{Name: "sgd", LR: 0.1, Momentum: 0.9, Nesterov: true}
	if got != want {
		t.Fatalf("Decode = %+v, want %+v", got, want)
	}
}

func TestDecodeNilKwargs(t *testing.T) {
	decoder := NewDecoder[optimizerParams]()
	got, err := decoder.Decode(Context{}, nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if got != (optimizerParams{}) {
		t.Fatalf("Decode(nil) = %+v, want zero value", got)
	}
}

func TestDecodeUnknownFieldRejected(t *testing.T) {
	decoder := NewDecoder[optimizerParams](WithDisallowUnknownFields[optimizerParams]())
	_, err := decoder.Decode(Context{Target: "optim.SGD"}, map[string]any{
		"name":  "sgd",
		"decay": 0.01,
	})
	if err == nil {
		t.Fatal("unknown kwarg should fail with DisallowUnknownFields")
	}
	if !strings.Contains(err.Error(), `target "optim.SGD"`) {
		t.Fatalf("error should name the target, got %v", err)
	}
}

func TestDecodePreHookRenamesLegacyKey(t *testing.T) {
	decoder := NewDecoder[optimizerParams](
		WithPreHook[optimizerParams](func(_ Context, kwargs map[string]any) (map[string]any, error) {
			if rate, ok := kwargs["learning_rate"]; ok {
				kwargs["lr"] = rate
				delete(kwargs, "learning_rate")
			}
			return kwargs, nil
		}),
	)
	got, err := decoder.Decode(Context{}, map[string]any{"learning_rate": 0.05})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.LR != 0.05 {
		t.Fatalf("LR = %v, want 0.05", got.LR)
	}
}

func TestDecodePreHookDoesNotMutateCaller(t *testing.T) {
	kwargs := map[string]any{"learning_rate": 0.05}
	decoder := NewDecoder[optimizerParams](
		WithPreHook[optimizerParams](func(_ Context, current map[string]any) (map[string]any, error) {
			delete(current, "learning_rate")
			return current, nil
		}),
	)
	if _, err := decoder.Decode(Context{}, kwargs); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := kwargs["learning_rate"]; !ok {
		t.Fatal("caller map was mutated by the hook")
	}
}

func TestDecodePostHookValidates(t *testing.T) {
	decoder := NewDecoder[optimizerParams](
		WithPostHook[optimizerParams](func(_ Context, params *optimizerParams) error {
			if params.LR <= 0 {
				return fmt.Errorf("lr must be positive, got %v", params.LR)
			}
			return nil
		}),
	)
	if _, err := decoder.Decode(Context{}, map[string]any{"lr": 0.1}); err != nil {
		t.Fatalf("valid params: %v", err)
	}
	_, err := decoder.Decode(Context{}, map[string]any{"lr": -1.0})
	if err == nil || !strings.Contains(err.Error(), "post-hook") {
		t.Fatalf("err = %v, want post-hook failure", err)
	}
}

func TestDecodeCustomDecoder(t *testing.T) {
	decoder := NewDecoder[optimizerParams](
		WithCustomDecoder[optimizerParams](func(_ Context, kwargs map[string]any) (optimizerParams, error) {
			name, _ := kwargs["name"].(string)
			return optimizerParams{Name: strings.ToUpper(name)}, nil
		}),
	)
	got, err := decoder.Decode(Context{}, map[string]any{"name": "sgd"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "SGD" {
		t.Fatalf("Name = %q, want SGD", got.Name)
	}
}

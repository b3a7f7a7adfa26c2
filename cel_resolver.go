package hydra

import (
	"fmt"
	"strings"
	"time"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celResolver implements "${cel:...}" using cel-go. Expressions read
// resolved config values with cfg("dotted.path") and environment variables
// with env("NAME").
func celResolver(rc *ResolveContext, raw string) (any, error) {
	expression := strings.TrimSpace(raw)
	if expression == "" {
		return nil, fmt.Errorf("cel: expression must not be empty")
	}
	start := time.Now()
	result, err := runCEL(rc, expression)
	rc.Logger().LogResolution(ResolveEvent{
		Engine:   "cel",
		Expr:     expression,
		Path:     rc.Path(),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, fmt.Errorf("cel: %w", err)
	}
	return result, nil
}

func runCEL(rc *ResolveContext, expression string) (any, error) {
	env, err := buildCELEnv(rc)
	if err != nil {
		return nil, err
	}
	ast, err := loadOrParseCEL(rc.Cache(), env, expression)
	if err != nil {
		return nil, err
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	out, _, err := program.Eval(map[string]any{})
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

// loadOrParseCEL caches checked ASTs; programs are rebuilt per resolution
// because the helper bindings close over the current resolution context.
func loadOrParseCEL(cache ProgramCache, env *celgo.Env, expression string) (*celgo.Ast, error) {
	key := "cel:" + expression
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if ast, ok := cached.(*celgo.Ast); ok {
				return ast, nil
			}
		}
	}
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if cache != nil {
		cache.Set(key, checked)
	}
	return checked, nil
}

func buildCELEnv(rc *ResolveContext) (*celgo.Env, error) {
	return celgo.NewEnv(
		celgo.Function("cfg", celgo.Overload(
			"cfg_string",
			[]*celgo.Type{celgo.StringType},
			celgo.DynType,
			celgo.UnaryBinding(cfgBinding(rc)),
		)),
		celgo.Function("env", celgo.Overload(
			"env_string",
			[]*celgo.Type{celgo.StringType},
			celgo.StringType,
			celgo.UnaryBinding(envBinding(rc)),
		)),
	)
}

func cfgBinding(rc *ResolveContext) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		path, ok := arg.Value().(string)
		if !ok {
			return types.NewErr("cfg path must be a string")
		}
		node, found, err := rc.Lookup(path)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if !found {
			return types.NewErr("no value at %q", path)
		}
		value := node.Native()
		if value == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(value)
	}
}

func envBinding(rc *ResolveContext) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		name, ok := arg.Value().(string)
		if !ok {
			return types.NewErr("env name must be a string")
		}
		value, found := rc.Env(name)
		if !found {
			return types.NewErr("environment variable %q is not set", name)
		}
		return types.String(value)
	}
}

package hydra

import (
	"fmt"
	"strings"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprResolver implements "${expr:...}" using expr-lang. Expressions read
// resolved config values with cfg("dotted.path") and environment variables
// with env("NAME"); both raise when the name is missing.
func exprResolver(rc *ResolveContext, raw string) (any, error) {
	expression := strings.TrimSpace(raw)
	if expression == "" {
		return nil, fmt.Errorf("expr: expression must not be empty")
	}
	env := expressionEnv(rc)
	start := time.Now()
	result, err := runExpr(rc.Cache(), expression, env)
	rc.Logger().LogResolution(ResolveEvent{
		Engine:   "expr",
		Expr:     expression,
		Path:     rc.Path(),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, fmt.Errorf("expr: %w", err)
	}
	return result, nil
}

func runExpr(cache ProgramCache, expression string, env map[string]any) (any, error) {
	if cache == nil {
		return exprlang.Eval(expression, env)
	}
	program, err := loadOrCompileExpr(cache, expression)
	if err != nil {
		return nil, err
	}
	return exprlang.Run(program, env)
}

// loadOrCompileExpr compiles against an open environment so one cached
// program serves every resolution; the cfg and env helpers bind at run time.
func loadOrCompileExpr(cache ProgramCache, expression string) (*exprvm.Program, error) {
	key := "expr:" + expression
	if cached, ok := cache.Get(key); ok {
		if program, ok := cached.(*exprvm.Program); ok {
			return program, nil
		}
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	cache.Set(key, program)
	return program, nil
}

// expressionEnv builds the helper bindings shared by the expression engines.
// Values are read on demand through the resolver so referencing a config
// path participates in cycle detection.
func expressionEnv(rc *ResolveContext) map[string]any {
	return map[string]any{
		"cfg": func(path string) (any, error) {
			node, ok, err := rc.Lookup(path)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("no value at %q", path)
			}
			return node.Native(), nil
		},
		"env": func(name string) (string, error) {
			value, ok := rc.Env(name)
			if !ok {
				return "", fmt.Errorf("environment variable %q is not set", name)
			}
			return value, nil
		},
	}
}

//go:build js_eval

package hydra

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// jsResolver implements "${js:...}" using goja. The cfg and env helpers are
// injected into the runtime; the expression's value is the resolved result.
func jsResolver(rc *ResolveContext, raw string) (any, error) {
	expression := strings.TrimSpace(raw)
	if expression == "" {
		return nil, fmt.Errorf("js: expression must not be empty")
	}
	start := time.Now()
	result, err := runJS(rc, expression)
	rc.Logger().LogResolution(ResolveEvent{
		Engine:   "js",
		Expr:     expression,
		Path:     rc.Path(),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, fmt.Errorf("js: %w", err)
	}
	return result, nil
}

func runJS(rc *ResolveContext, expression string) (any, error) {
	program, err := loadOrCompileJS(rc.Cache(), expression)
	if err != nil {
		return nil, err
	}
	vm := goja.New()
	for name, helper := range expressionEnv(rc) {
		if err := vm.Set(name, helper); err != nil {
			return nil, err
		}
	}
	if program != nil {
		value, err := vm.RunProgram(program)
		if err != nil {
			return nil, err
		}
		return value.Export(), nil
	}
	value, err := vm.RunString(wrapJSExpression(expression))
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}

func loadOrCompileJS(cache ProgramCache, expression string) (*goja.Program, error) {
	if cache == nil {
		return nil, nil
	}
	key := "js:" + expression
	if cached, ok := cache.Get(key); ok {
		if program, ok := cached.(*goja.Program); ok {
			return program, nil
		}
	}
	program, err := goja.Compile("", wrapJSExpression(expression), false)
	if err != nil {
		return nil, err
	}
	cache.Set(key, program)
	return program, nil
}

func wrapJSExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

func jsResolverAvailable() bool {
	return true
}

//go:build !js_eval

package hydra

import "fmt"

// jsResolver is unavailable without the js_eval build tag.
func jsResolver(*ResolveContext, string) (any, error) {
	return nil, fmt.Errorf("js: resolver requires the js_eval build tag")
}

func jsResolverAvailable() bool {
	return false
}

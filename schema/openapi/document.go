package openapi

import (
	"fmt"
	"sort"

	hydra "github.com/tanganke/hydra-program"
)

// Components assembles named tree schemas into a components document, the
// fragment a driver embeds in a larger OpenAPI description.
func Components(trees map[string]*hydra.Node) (map[string]any, error) {
	names := make([]string, 0, len(trees))
	for name := range trees {
		if name == "" {
			return nil, fmt.Errorf("openapi: component names must not be empty")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make(map[string]any, len(names))
	for _, name := range names {
		schema, err := Generate(trees[name])
		if err != nil {
			return nil, fmt.Errorf("openapi: component %q: %w", name, err)
		}
		schemas[name] = schema
	}

	return map[string]any{
		"components": map[string]any{
			"schemas": schemas,
		},
	}, nil
}

// Package openapi renders config trees as OpenAPI-style schema objects, so
// drivers can publish the shape of a run's configuration to tooling that
// already understands that vocabulary.
package openapi

import (
	"fmt"

	hydra "github.com/tanganke/hydra-program"
)

// Generate returns a schema object describing the tree: mappings become
// objects with properties, sequences become arrays, scalars map to JSON
// types. Target mappings carry the qualified name as an x-target annotation.
func Generate(root *hydra.Node) (map[string]any, error) {
	return schemaForNode(root)
}

func schemaForNode(n *hydra.Node) (map[string]any, error) {
	if n == nil {
		return map[string]any{"type": "null"}, nil
	}

	switch n.Kind() {
	case hydra.KindScalar:
		return schemaForScalar(n.Value()), nil
	case hydra.KindSequence:
		return schemaForSequence(n)
	case hydra.KindMapping, hydra.KindTarget:
		return schemaForMapping(n)
	case hydra.KindInterpolation:
		return map[string]any{
			"type":   "string",
			"format": "interpolation",
		}, nil
	default:
		return nil, fmt.Errorf("openapi: unsupported node kind %s", n.Kind())
	}
}

func schemaForScalar(value any) map[string]any {
	switch value.(type) {
	case nil:
		return map[string]any{"type": "null"}
	case bool:
		return map[string]any{"type": "boolean"}
	case int64:
		return map[string]any{"type": "integer"}
	case float64:
		return map[string]any{"type": "number"}
	case string:
		return map[string]any{"type": "string"}
	default:
		return map[string]any{
			"type":   "string",
			"format": fmt.Sprintf("go:%T", value),
		}
	}
}

func schemaForSequence(n *hydra.Node) (map[string]any, error) {
	itemSchema := map[string]any{}
	if n.Len() > 0 {
		child, err := schemaForNode(n.Item(0))
		if err != nil {
			return nil, err
		}
		itemSchema = child
	}
	return map[string]any{
		"type":  "array",
		"items": itemSchema,
	}, nil
}

func schemaForMapping(n *hydra.Node) (map[string]any, error) {
	properties := make(map[string]any, n.Len())
	for _, key := range n.Keys() {
		child, _ := n.Get(key)
		schema, err := schemaForNode(child)
		if err != nil {
			return nil, err
		}
		properties[key] = schema
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if n.Kind() == hydra.KindTarget {
		schema["x-target"] = n.Target()
		if n.Partial() {
			schema["x-partial"] = true
		}
	}
	return schema, nil
}

package hydra

import (
	"fmt"
	"strings"
)

// FieldDescriptor describes one config path and its inferred type.
type FieldDescriptor struct {
	Path string
	Type string
}

// DeriveSchema flattens a resolved config tree into field descriptors, one
// per leaf, in tree order. Target mappings contribute a descriptor for the
// target name plus one per kwarg. Drivers use the result to present or
// validate the shape of a run's configuration.
func DeriveSchema(root *Node) []FieldDescriptor {
	return deriveFields(root, "")
}

func deriveFields(n *Node, prefix string) []FieldDescriptor {
	if n == nil {
		return nil
	}

	switch n.Kind() {
	case KindMapping, KindTarget:
		var fields []FieldDescriptor
		if n.Kind() == KindTarget {
			fields = append(fields, FieldDescriptor{
				Path: prefix,
				Type: "target:" + n.Target(),
			})
		} else if n.Len() == 0 {
			if prefix == "" {
				return nil
			}
			return []FieldDescriptor{{Path: prefix, Type: "map[string]any"}}
		}
		for _, key := range n.Keys() {
			child, _ := n.Get(key)
			fields = append(fields, deriveFields(child, joinPath(prefix, key))...)
		}
		return fields
	case KindSequence:
		elementType := "any"
		if n.Len() > 0 {
			elementType = nodeTypeName(n.Item(0))
		}
		return []FieldDescriptor{{Path: prefix, Type: "[]" + elementType}}
	case KindInterpolation:
		return []FieldDescriptor{{Path: prefix, Type: "interpolation"}}
	default:
		if prefix == "" {
			return nil
		}
		return []FieldDescriptor{{Path: prefix, Type: nodeTypeName(n)}}
	}
}

func nodeTypeName(n *Node) string {
	if n == nil {
		return "nil"
	}
	switch n.Kind() {
	case KindScalar:
		if n.Value() == nil {
			return "nil"
		}
		return fmt.Sprintf("%T", n.Value())
	case KindSequence:
		return "[]any"
	case KindTarget:
		return "target:" + n.Target()
	case KindInterpolation:
		return "interpolation"
	default:
		return "map[string]any"
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}

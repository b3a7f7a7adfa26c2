package hydra

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	targetKey   = "_target_"
	partialKey  = "_partial_"
	selfKey     = "_self_"
	defaultsKey = "defaults"
)

// Document is one named config document: its own body plus the defaults list
// that tells the composer which other documents to compose around it.
type Document struct {
	Name     string
	Defaults []Step
	Body     *Node
}

// ParseDocument decodes a YAML document and splits off its "defaults" key
// into composition steps. The remaining top-level keys form the body.
func ParseDocument(name string, data []byte) (*Document, error) {
	body, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("document %q: %w", name, err)
	}
	if body.Kind() != KindMapping {
		return nil, fmt.Errorf("document %q: top level must be a mapping, got %s", name, body.Kind())
	}

	doc := &Document{Name: name, Body: body}
	defaults, ok := body.Get(defaultsKey)
	if !ok {
		return doc, nil
	}
	if defaults.Kind() != KindSequence {
		return nil, fmt.Errorf("document %q: %s must be a sequence, got %s", name, defaultsKey, defaults.Kind())
	}
	for i, entry := range defaults.Items() {
		step, err := stepFromNode(entry)
		if err != nil {
			return nil, fmt.Errorf("document %q: %s entry %d: %w", name, defaultsKey, i, err)
		}
		doc.Defaults = append(doc.Defaults, step)
	}
	body.Delete(defaultsKey)
	return doc, nil
}

func stepFromNode(entry *Node) (Step, error) {
	switch entry.Kind() {
	case KindScalar:
		sel, ok := entry.Value().(string)
		if !ok || sel == "" {
			return Step{}, fmt.Errorf("scalar entry must name a document or %q, got %v", selfKey, entry.Value())
		}
		if sel == selfKey {
			return SelfStep(), nil
		}
		return DocStep(sel), nil
	case KindMapping:
		keys := entry.Keys()
		if len(keys) != 1 {
			return Step{}, fmt.Errorf("entry must hold exactly one group, got %d keys", len(keys))
		}
		selNode, _ := entry.Get(keys[0])
		sel, ok := selNode.Value().(string)
		if selNode.Kind() != KindScalar || !ok || sel == "" {
			return Step{}, fmt.Errorf("selection for %q must be a non-empty string", keys[0])
		}
		return parseStepKey(keys[0], sel)
	default:
		return Step{}, fmt.Errorf("entry must be a mapping or %q, got %s", selfKey, entry.Kind())
	}
}

func parseStepKey(key, selection string) (Step, error) {
	raw := key
	override := false
	if rest, ok := strings.CutPrefix(raw, "override "); ok {
		override = true
		raw = strings.TrimSpace(rest)
	}
	mount := MountDefault
	if group, m, ok := strings.Cut(raw, "@"); ok {
		if m == "" {
			return Step{}, fmt.Errorf("entry %q has an empty package mount", key)
		}
		raw = group
		mount = Mount(m)
	}
	if raw == "" {
		return Step{}, fmt.Errorf("entry %q has an empty group", key)
	}
	if override {
		step := OverrideStep(raw, selection)
		step.Mount = mount
		return step, nil
	}
	step := GroupStep(raw, selection)
	step.Mount = mount
	return step, nil
}

// Parse decodes a YAML document into a config tree. Mapping key order is
// preserved, string scalars containing "${" become interpolation nodes, and
// mappings carrying a _target_ key become target nodes.
func Parse(data []byte) (*Node, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return Mapping(), nil
	}
	return fromYAML(document.Content[0])
}

// ParseString decodes a YAML string into a config tree.
func ParseString(data string) (*Node, error) {
	return Parse([]byte(data))
}

// Encode renders a config tree back to YAML. Mapping keys come out in the
// tree's stored order; interpolation nodes come out as their raw "${...}"
// text, so an un-resolved tree round-trips losslessly. String scalars that
// contain a literal "${" are escaped so re-parsing and resolving restores
// the same value.
func Encode(n *Node) ([]byte, error) {
	root, err := toYAML(n)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeString renders a config tree back to a YAML string.
func EncodeString(n *Node) (string, error) {
	out, err := Encode(n)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Mapping(), nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		// Anchors are expanded into independent copies; the composed tree
		// has no aliasing of its own.
		return fromYAML(y.Alias)
	case yaml.ScalarNode:
		return scalarFromYAML(y)
	case yaml.SequenceNode:
		items := make([]*Node, 0, len(y.Content))
		for _, child := range y.Content {
			item, err := fromYAML(child)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return Sequence(items...), nil
	case yaml.MappingNode:
		return mappingFromYAML(y)
	default:
		return nil, fmt.Errorf("parse config: unsupported YAML node kind %d at line %d", y.Kind, y.Line)
	}
}

func scalarFromYAML(y *yaml.Node) (*Node, error) {
	var value any
	if err := y.Decode(&value); err != nil {
		return nil, fmt.Errorf("parse config: decode scalar at line %d: %w", y.Line, err)
	}
	if s, ok := value.(string); ok && strings.Contains(s, "${") {
		return Interp(s), nil
	}
	return Scalar(value), nil
}

func mappingFromYAML(y *yaml.Node) (*Node, error) {
	keys := make([]string, 0, len(y.Content)/2)
	children := make(map[string]*yaml.Node, len(y.Content)/2)
	for i := 0; i+1 < len(y.Content); i += 2 {
		keyNode := y.Content[i]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse config: mapping key at line %d must be a scalar", keyNode.Line)
		}
		key := keyNode.Value
		if _, dup := children[key]; dup {
			return nil, fmt.Errorf("parse config: duplicate mapping key %q at line %d", key, keyNode.Line)
		}
		keys = append(keys, key)
		children[key] = y.Content[i+1]
	}

	node := Mapping()
	if targetNode, ok := children[targetKey]; ok {
		if targetNode.Kind != yaml.ScalarNode || targetNode.Tag != "!!str" {
			return nil, fmt.Errorf("parse config: %s at line %d must be a string", targetKey, targetNode.Line)
		}
		node = Target(targetNode.Value)
		if partialNode, ok := children[partialKey]; ok {
			var partial bool
			if err := partialNode.Decode(&partial); err != nil {
				return nil, fmt.Errorf("parse config: %s at line %d must be a bool: %w", partialKey, partialNode.Line, err)
			}
			node.SetPartial(partial)
		}
	}

	for _, key := range keys {
		if node.Kind() == KindTarget && (key == targetKey || key == partialKey) {
			continue
		}
		child, err := fromYAML(children[key])
		if err != nil {
			return nil, err
		}
		node.Set(key, child)
	}
	return node, nil
}

func toYAML(n *Node) (*yaml.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("encode config: nil node")
	}
	switch n.kind {
	case KindScalar:
		var y yaml.Node
		value := n.value
		if s, ok := value.(string); ok && strings.Contains(s, "${") {
			// A literal "${" must re-parse as text, not as an interpolation.
			value = strings.ReplaceAll(s, "${", `\${`)
		}
		if err := y.Encode(value); err != nil {
			return nil, fmt.Errorf("encode config: scalar %v: %w", n.value, err)
		}
		return &y, nil
	case KindInterpolation:
		var y yaml.Node
		if err := y.Encode(n.expr); err != nil {
			return nil, fmt.Errorf("encode config: interpolation %q: %w", n.expr, err)
		}
		return &y, nil
	case KindSequence:
		y := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.items {
			child, err := toYAML(item)
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content, child)
		}
		return y, nil
	case KindMapping, KindTarget:
		y := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if n.kind == KindTarget {
			y.Content = append(y.Content, strNode(targetKey), strNode(n.target))
			if n.partial {
				y.Content = append(y.Content, strNode(partialKey), boolNode(true))
			}
		}
		for _, key := range n.keys {
			child, err := toYAML(n.fields[key])
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content, strNode(key), child)
		}
		return y, nil
	default:
		return nil, fmt.Errorf("encode config: invalid node kind %d", n.kind)
	}
}

func strNode(s string) *yaml.Node {
	var y yaml.Node
	_ = y.Encode(s)
	return &y
}

func boolNode(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", b)}
}

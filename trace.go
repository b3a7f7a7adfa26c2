package hydra

import (
	"encoding/json"
	"strings"
)

// Trace captures provenance information for a given path lookup across the
// composition steps that produced the effective value.
type Trace struct {
	Path  string       `json:"path"`
	Steps []Provenance `json:"steps"`
}

// Provenance details how a specific composition step contributed to a traced
// path. The last entry with Found set supplied the effective value.
type Provenance struct {
	Document  string `json:"document"`
	Group     string `json:"group,omitempty"`
	Selection string `json:"selection,omitempty"`
	Path      string `json:"path"`
	Value     any    `json:"value,omitempty"`
	Found     bool   `json:"found"`
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}

// Trace reports, step by step, which composed documents supplied a value at
// path. Steps that do not cover the path are reported with Found unset.
func (c *Composer) Trace(root *Document, path string) (Trace, error) {
	blocks, err := c.flatten(root)
	if err != nil {
		return Trace{}, err
	}
	trace := Trace{Path: path}
	for _, b := range blocks {
		prov := Provenance{
			Document:  b.document,
			Group:     b.group,
			Selection: b.selection,
			Path:      path,
		}
		if rel, ok := pathUnder(b.path, path); ok {
			if node, found := b.tree.Lookup(rel); found {
				prov.Found = true
				prov.Value = traceValue(node)
			}
		}
		trace.Steps = append(trace.Steps, prov)
	}
	return trace, nil
}

func pathUnder(mount, path string) (string, bool) {
	if mount == "" {
		return path, true
	}
	if path == mount {
		return "", true
	}
	if rest, ok := strings.CutPrefix(path, mount+"."); ok {
		return rest, true
	}
	return "", false
}

func traceValue(n *Node) any {
	if n.Kind() == KindScalar {
		return n.Value()
	}
	return n.String()
}

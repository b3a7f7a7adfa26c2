package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	hydra "github.com/tanganke/hydra-program"
)

// ErrETagMismatch reports a conditional save against a record that changed
// since the caller last loaded it.
var ErrETagMismatch = errors.New("snapshot: etag mismatch")

// Ref identifies one stored config tree for one pipeline run.
type Ref struct {
	// Run is the pipeline run identifier the tree belongs to.
	Run string
	// Name distinguishes trees within a run, such as "resolved" or "graph".
	Name string
}

// Identifier returns the canonical storage key "<run>/<name>".
func (r Ref) Identifier() (string, error) {
	run := strings.TrimSpace(r.Run)
	name := strings.TrimSpace(r.Name)
	if run == "" {
		return "", fmt.Errorf("snapshot: ref is missing a run identifier")
	}
	if name == "" {
		return "", fmt.Errorf("snapshot: ref is missing a name")
	}
	if strings.Contains(run, "/") || strings.Contains(name, "/") {
		return "", fmt.Errorf("snapshot: ref parts must not contain %q", "/")
	}
	return run + "/" + name, nil
}

// Meta is storage-owned metadata returned with every save and load.
type Meta struct {
	// SnapshotID is a stable identifier minted on first save.
	SnapshotID string `json:"snapshot_id,omitempty"`
	// ETag changes on every save and guards conditional writes.
	ETag string `json:"etag,omitempty"`
	// SavedAt records when the store accepted the tree.
	SavedAt time.Time `json:"saved_at,omitempty"`
	// Extra carries caller-supplied annotations, kept verbatim.
	Extra map[string]string `json:"extra,omitempty"`
}

// Store loads and saves one config tree per Ref. Implementations own key
// layout, timestamps, and identifier minting; callers own tree content.
type Store interface {
	Load(ctx context.Context, ref Ref) (*hydra.Node, Meta, bool, error)
	Save(ctx context.Context, ref Ref, tree *hydra.Node, meta Meta) (Meta, error)
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

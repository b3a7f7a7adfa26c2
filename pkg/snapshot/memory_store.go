package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	hydra "github.com/tanganke/hydra-program"
)

// MemoryStore is an in-memory Store for tests and examples. Trees are cloned
// on the way in and out, so callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	tree *hydra.Node
	meta Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Load(_ context.Context, ref Ref) (*hydra.Node, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, Meta{}, false, nil
	}
	return record.tree.Clone(), cloneMeta(record.meta), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Ref, tree *hydra.Node, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	if tree == nil {
		return Meta{}, errors.New("snapshot: nil tree")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, exists := s.records[key]
	if meta.ETag != "" && (!exists || prior.meta.ETag != meta.ETag) {
		return Meta{}, ErrETagMismatch
	}

	stored := cloneMeta(meta)
	if exists {
		stored.SnapshotID = prior.meta.SnapshotID
	}
	if stored.SnapshotID == "" {
		stored.SnapshotID = uuid.NewString()
	}
	stored.ETag = uuid.NewString()
	if stored.SavedAt.IsZero() {
		stored.SavedAt = time.Now().UTC()
	}

	s.records[key] = memoryRecord{tree: tree.Clone(), meta: stored}
	return cloneMeta(stored), nil
}

// Keys returns every stored identifier in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

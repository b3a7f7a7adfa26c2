package hydra

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// Loader supplies named config documents to the composer. The composer
// derives names as "group/selection", or the bare document name for
// ungrouped entries. Implementations report a missing name through the ok
// return, reserving the error for real failures.
type Loader interface {
	LoadDocument(name string) (*Document, bool, error)
}

// MapLoader is an in-memory Loader for tests, examples, and embedded
// configs. It is safe for concurrent use; returned documents are shared and
// must not be mutated by callers.
type MapLoader struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewMapLoader() *MapLoader {
	return &MapLoader{docs: map[string]*Document{}}
}

// Add stores a document under its name, replacing any previous entry.
func (l *MapLoader) Add(doc *Document) error {
	if doc == nil {
		return errors.New("hydra: nil document")
	}
	if doc.Name == "" {
		return errors.New("hydra: document name is required")
	}
	l.mu.Lock()
	l.docs[doc.Name] = doc
	l.mu.Unlock()
	return nil
}

// AddYAML parses src as a config document and stores it under name.
func (l *MapLoader) AddYAML(name, src string) error {
	doc, err := ParseDocument(name, []byte(src))
	if err != nil {
		return err
	}
	return l.Add(doc)
}

func (l *MapLoader) LoadDocument(name string) (*Document, bool, error) {
	l.mu.RLock()
	doc, ok := l.docs[name]
	l.mu.RUnlock()
	return doc, ok, nil
}

// Names returns the stored document names in lexical order.
func (l *MapLoader) Names() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.docs))
	for name := range l.docs {
		names = append(names, name)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}

// FSLoader reads documents from a file system, addressing "<name>.yaml"
// directly under its root. It never walks or lists directories.
type FSLoader struct {
	fsys fs.FS
	ext  string
}

func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{fsys: fsys, ext: ".yaml"}
}

func (l *FSLoader) LoadDocument(name string) (*Document, bool, error) {
	data, err := fs.ReadFile(l.fsys, name+l.ext)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hydra: read document %q: %w", name, err)
	}
	doc, err := ParseDocument(name, data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

package hydra

import (
	"errors"
	"strings"
)

// Mount names where a composed subtree attaches in the final tree.
type Mount string

const (
	// MountDefault attaches the subtree under the dotted path derived from
	// its group ("db/engine" mounts at "db.engine").
	MountDefault Mount = ""
	// MountGlobal attaches the subtree at the tree root.
	MountGlobal Mount = "_global_"
)

func (m Mount) mountPath(group string) string {
	switch m {
	case MountDefault:
		return strings.ReplaceAll(group, "/", ".")
	case MountGlobal:
		return ""
	default:
		return string(m)
	}
}

// Step is one defaults-list entry: select a document from a group, replace an
// earlier selection, or splice in the owning document's body.
type Step struct {
	Group     string
	Selection string
	Mount     Mount
	Override  bool
	Self      bool
}

// GroupStep selects document "group/selection" for composition.
func GroupStep(group, selection string) Step {
	return Step{Group: group, Selection: selection}
}

// DocStep selects a sibling document by name, merged at the owning
// document's mount rather than under a group path.
func DocStep(name string) Step {
	return Step{Selection: name}
}

// OverrideStep replaces the selection of an earlier step for the same group,
// keeping its position in the composition order.
func OverrideStep(group, selection string) Step {
	return Step{Group: group, Selection: selection, Override: true}
}

// SelfStep marks where the owning document's body enters the composition
// order. Documents that omit it compose their body first.
func SelfStep() Step {
	return Step{Self: true}
}

// Composer flattens defaults lists into an ordered sequence of partial trees
// and merges them into one config tree.
type Composer struct {
	loader Loader
}

func NewComposer(loader Loader) *Composer {
	return &Composer{loader: loader}
}

// Compose builds the config tree rooted at the given document. The result is
// independent of the loader's stored documents and safe to mutate.
func (c *Composer) Compose(root *Document) (*Node, error) {
	blocks, err := c.flatten(root)
	if err != nil {
		return nil, err
	}
	return mergeBlocks(blocks), nil
}

// ComposeNamed loads the named document and composes around it.
func (c *Composer) ComposeNamed(name string) (*Node, error) {
	doc, err := c.load(name)
	if err != nil {
		return nil, err
	}
	return c.Compose(doc)
}

func (c *Composer) load(name string) (*Document, error) {
	if c.loader == nil {
		return nil, errors.New("hydra: composer has no loader")
	}
	doc, ok, err := c.loader.LoadDocument(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompositionError{Kind: MissingDocument, Selection: name}
	}
	return doc, nil
}

func (c *Composer) flatten(root *Document) ([]block, error) {
	if root == nil {
		return nil, errors.New("hydra: nil root document")
	}
	if c.loader == nil {
		return nil, errors.New("hydra: composer has no loader")
	}
	state := &composeState{loader: c.loader, entries: map[string]*composedEntry{}}
	entry, err := state.build(root, "", "", MountDefault)
	if err != nil {
		return nil, err
	}
	return appendBlocks(entry, nil), nil
}

// composedEntry is one expanded defaults step: the selected document plus its
// own steps, recursively expanded. Overrides rewrite entries in place so the
// composition order never shifts.
type composedEntry struct {
	key       string
	group     string
	selection string
	mount     Mount
	doc       *Document
	steps     []composedStep
}

type composedStep struct {
	self  bool
	child *composedEntry
}

type composeState struct {
	loader  Loader
	entries map[string]*composedEntry
	stack   []string
}

func (s *composeState) build(doc *Document, group, selection string, mount Mount) (*composedEntry, error) {
	for _, name := range s.stack {
		if name == doc.Name {
			cycle := append(append([]string(nil), s.stack...), doc.Name)
			return nil, &CompositionError{Kind: CyclicDefaults, Group: group, Selection: selection, Cycle: cycle}
		}
	}
	s.stack = append(s.stack, doc.Name)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	entry := &composedEntry{group: group, selection: selection, mount: mount, doc: doc}
	steps := doc.Defaults
	if !containsSelf(steps) {
		steps = append([]Step{SelfStep()}, steps...)
	}
	for _, st := range steps {
		switch {
		case st.Self:
			entry.steps = append(entry.steps, composedStep{self: true})
		case st.Override:
			if err := s.applyOverride(group, st); err != nil {
				return nil, err
			}
		default:
			child, err := s.expand(group, st)
			if err != nil {
				return nil, err
			}
			entry.steps = append(entry.steps, composedStep{child: child})
		}
	}
	return entry, nil
}

func (s *composeState) expand(parentGroup string, st Step) (*composedEntry, error) {
	group := resolveGroup(parentGroup, st.Group)
	doc, err := s.loadSelection(group, st.Selection)
	if err != nil {
		return nil, err
	}
	entry, err := s.build(doc, group, st.Selection, st.Mount)
	if err != nil {
		return nil, err
	}
	entry.key = entryKey(group, st.Mount)
	s.entries[entry.key] = entry
	return entry, nil
}

func (s *composeState) applyOverride(parentGroup string, st Step) error {
	group := resolveGroup(parentGroup, st.Group)
	prior, ok := s.entries[entryKey(group, st.Mount)]
	if !ok {
		return &CompositionError{Kind: MissingDefaultsEntry, Group: group, Selection: st.Selection}
	}
	doc, err := s.loadSelection(group, st.Selection)
	if err != nil {
		return err
	}
	s.forget(prior)
	rebuilt, err := s.build(doc, group, st.Selection, prior.mount)
	if err != nil {
		return err
	}
	prior.selection = rebuilt.selection
	prior.doc = rebuilt.doc
	prior.steps = rebuilt.steps
	return nil
}

func (s *composeState) loadSelection(group, selection string) (*Document, error) {
	name := selection
	if group != "" {
		name = group + "/" + selection
	}
	doc, ok, err := s.loader.LoadDocument(name)
	if err != nil {
		return nil, &CompositionError{Kind: MissingDocument, Group: group, Selection: selection, Err: err}
	}
	if !ok {
		return nil, &CompositionError{Kind: MissingDocument, Group: group, Selection: selection}
	}
	return doc, nil
}

// forget drops registry entries for a subtree about to be replaced, so later
// overrides cannot bind to discarded steps.
func (s *composeState) forget(entry *composedEntry) {
	for _, st := range entry.steps {
		if st.child == nil {
			continue
		}
		if s.entries[st.child.key] == st.child {
			delete(s.entries, st.child.key)
		}
		s.forget(st.child)
	}
}

// block is one flattened composition unit: a document body and the dotted
// path it merges under.
type block struct {
	tree      *Node
	path      string
	document  string
	group     string
	selection string
}

func appendBlocks(entry *composedEntry, blocks []block) []block {
	for _, st := range entry.steps {
		if st.self {
			blocks = append(blocks, block{
				tree:      entry.doc.Body,
				path:      entry.mount.mountPath(entry.group),
				document:  entry.doc.Name,
				group:     entry.group,
				selection: entry.selection,
			})
			continue
		}
		blocks = appendBlocks(st.child, blocks)
	}
	return blocks
}

func mergeBlocks(blocks []block) *Node {
	root := Mapping()
	for _, b := range blocks {
		if b.tree == nil || b.tree.Len() == 0 {
			continue
		}
		dst := root
		if b.path != "" {
			dst = ensureMappingPath(root, b.path)
		}
		mergeNode(dst, b.tree)
	}
	return root
}

func ensureMappingPath(root *Node, path string) *Node {
	current := root
	for _, segment := range SplitPath(path) {
		child, ok := current.Get(segment)
		if !ok || !isMappingKind(child) {
			child = Mapping()
			current.Set(segment, child)
		}
		current = child
	}
	return current
}

// mergeNode merges src into dst: mappings merge key-by-key recursively,
// everything else replaces. A target name on src replaces dst's.
func mergeNode(dst, src *Node) {
	if src.kind == KindTarget {
		dst.kind = KindTarget
		dst.target = src.target
		dst.partial = src.partial
	}
	for _, key := range src.keys {
		sv := src.fields[key]
		if dv, ok := dst.fields[key]; ok && isMappingKind(dv) && isMappingKind(sv) {
			mergeNode(dv, sv)
			continue
		}
		dst.Set(key, sv.Clone())
	}
}

func isMappingKind(n *Node) bool {
	return n != nil && (n.kind == KindMapping || n.kind == KindTarget)
}

func containsSelf(steps []Step) bool {
	for _, st := range steps {
		if st.Self {
			return true
		}
	}
	return false
}

func resolveGroup(parentGroup, group string) string {
	if group == "" {
		return parentGroup
	}
	if rest, ok := strings.CutPrefix(group, "/"); ok {
		return rest
	}
	if parentGroup == "" {
		return group
	}
	return parentGroup + "/" + group
}

func entryKey(group string, mount Mount) string {
	if mount == MountDefault {
		return group
	}
	return group + "@" + string(mount)
}

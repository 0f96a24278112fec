// Package vfs maintains an in-memory model of filesystem state, seeded from
// an initial workspace listing and mutated only by applying trajectory
// events. It never touches real storage.
package vfs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/traceplay/replayd/domain"
)

// Node kinds.
const (
	KindFile      = "file"
	KindDirectory = "directory"
)

// ConflictError reports an event that is structurally inconsistent with the
// modeled state (e.g. moving a path that does not exist). Conflicts are
// non-fatal: the replay log is ground truth, so callers record a warning and
// continue.
type ConflictError struct {
	Op     domain.EventType
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Reason)
}

type node struct {
	kind       string
	contentRef string
}

// Model is the virtual filesystem tree. One replay session owns the model
// exclusively for mutation; reads may come from concurrent status queries.
type Model struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// New returns an empty model.
func New() *Model {
	return &Model{nodes: make(map[string]*node)}
}

// Seed populates the model from an initial workspace listing.
func (m *Model) Seed(listing []domain.ListingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range listing {
		p := normalize(entry.Path)
		if p == "" {
			continue
		}
		kind := KindFile
		if entry.Kind == KindDirectory {
			kind = KindDirectory
		}
		m.ensureParentsLocked(p)
		m.nodes[p] = &node{kind: kind}
	}
}

// Apply mutates the model for one event. It returns a ConflictError when the
// operation disagrees with the modeled state, but still applies the event's
// effect best-effort so the model keeps tracking the log.
func (m *Model) Apply(ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case domain.EventTypeFileRead:
		p := normalize(ev.FilePath)
		if n, ok := m.nodes[p]; !ok || n.kind != KindFile {
			return &ConflictError{Op: ev.Type, Path: p, Reason: "file does not exist in model"}
		}
		return nil

	case domain.EventTypeFileWrite:
		p := normalize(ev.FilePath)
		if n, ok := m.nodes[p]; ok && n.kind == KindDirectory {
			return &ConflictError{Op: ev.Type, Path: p, Reason: "path exists as a directory"}
		}
		m.ensureParentsLocked(p)
		m.nodes[p] = &node{kind: KindFile, contentRef: ev.ContentRef}
		return nil

	case domain.EventTypeFileEdit:
		p := normalize(ev.FilePath)
		n, ok := m.nodes[p]
		m.ensureParentsLocked(p)
		m.nodes[p] = &node{kind: KindFile, contentRef: ev.ContentRef}
		if !ok {
			return &ConflictError{Op: ev.Type, Path: p, Reason: "file does not exist in model"}
		}
		if n.kind != KindFile {
			return &ConflictError{Op: ev.Type, Path: p, Reason: "path exists as a directory"}
		}
		return nil

	case domain.EventTypeFileMove, domain.EventTypeFileRename:
		return m.relocateLocked(ev, true)

	case domain.EventTypeFileCopy:
		return m.relocateLocked(ev, false)

	case domain.EventTypeFileDelete:
		p := normalize(ev.FilePath)
		if _, ok := m.nodes[p]; !ok {
			return &ConflictError{Op: ev.Type, Path: p, Reason: "path does not exist in model"}
		}
		m.removeSubtreeLocked(p)
		return nil

	case domain.EventTypeDirCreate:
		p := normalize(ev.DirPath)
		if n, ok := m.nodes[p]; ok {
			if n.kind == KindFile {
				return &ConflictError{Op: ev.Type, Path: p, Reason: "path already exists as a file"}
			}
			return &ConflictError{Op: ev.Type, Path: p, Reason: "directory already exists"}
		}
		m.ensureParentsLocked(p)
		m.nodes[p] = &node{kind: KindDirectory}
		return nil
	}

	// Observation-only events (search, browse, context switches, errors)
	// never mutate the tree.
	return nil
}

// relocateLocked implements move/rename/copy. remove controls whether the
// source subtree is dropped afterwards.
func (m *Model) relocateLocked(ev domain.Event, remove bool) error {
	from := normalize(ev.OldPath)
	to := normalize(ev.NewPath)

	src, ok := m.nodes[from]
	if !ok {
		// Log wins: materialize the destination anyway so later events
		// against it do not cascade into spurious conflicts.
		m.ensureParentsLocked(to)
		m.nodes[to] = &node{kind: KindFile}
		return &ConflictError{Op: ev.Type, Path: from, Reason: "source path does not exist in model"}
	}

	m.ensureParentsLocked(to)
	moved := map[string]*node{to: {kind: src.kind, contentRef: src.contentRef}}
	prefix := from + "/"
	for p, n := range m.nodes {
		if strings.HasPrefix(p, prefix) {
			moved[to+"/"+strings.TrimPrefix(p, prefix)] = &node{kind: n.kind, contentRef: n.contentRef}
		}
	}
	if remove {
		m.removeSubtreeLocked(from)
	}
	for p, n := range moved {
		m.nodes[p] = n
	}
	return nil
}

func (m *Model) removeSubtreeLocked(p string) {
	delete(m.nodes, p)
	prefix := p + "/"
	for q := range m.nodes {
		if strings.HasPrefix(q, prefix) {
			delete(m.nodes, q)
		}
	}
}

// ensureParentsLocked creates implicit directory nodes for every ancestor.
func (m *Model) ensureParentsLocked(p string) {
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		if _, ok := m.nodes[dir]; !ok {
			m.nodes[dir] = &node{kind: KindDirectory}
		}
	}
}

// Exists reports whether the path is present in the model.
func (m *Model) Exists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[normalize(p)]
	return ok
}

// ListChildren returns the immediate children of a directory, sorted by
// path. The root listing is returned for an empty path.
func (m *Model) ListChildren(p string) []domain.ListingEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target := normalize(p)
	entries := []domain.ListingEntry{}
	for q, n := range m.nodes {
		parent := path.Dir(q)
		if parent == "." {
			parent = ""
		}
		if parent == target {
			entries = append(entries, domain.ListingEntry{Path: q, Kind: n.kind})
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })
	return entries
}

// Len returns the number of nodes in the model.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// normalize cleans a path to the model's canonical relative form.
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

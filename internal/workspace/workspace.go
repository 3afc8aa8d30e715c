// Package workspace is the in-memory registry of documents known to the
// engine. It is the single source of truth the graph cache, the composer
// and the planner enumerate.
package workspace

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/fragment"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Workspace holds the current snapshot of every document.
type Workspace struct {
	mu        sync.RWMutex
	docs      map[string]*Document
	version   uint64
	extractor *fragment.Extractor
}

func New(extractor *fragment.Extractor) *Workspace {
	if extractor == nil {
		extractor = fragment.NewExtractor(nil)
	}
	return &Workspace{docs: make(map[string]*Document), extractor: extractor}
}

// Extractor returns the fragment extractor documents are scanned with.
func (w *Workspace) Extractor() *fragment.Extractor { return w.extractor }

func normalize(p string) (string, error) {
	a := address.Document(p)
	if a.Kind() != address.KindDocument {
		return "", &address.Error{Input: p, Err: address.ErrEmptyPath}
	}
	return a.Path(), nil
}

// Put creates or replaces a document and re-extracts its fragments.
// created reports whether the path was previously unknown.
func (w *Workspace) Put(p, text string, modTime time.Time) (doc *Document, created bool, err error) {
	key, err := normalize(p)
	if err != nil {
		return nil, false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, existed := w.docs[key]
	w.version++
	doc = newDocument(key, text, modTime, w.version, w.extractor)
	w.docs[key] = doc
	return doc, !existed, nil
}

// Remove deletes a document and returns its last snapshot.
func (w *Workspace) Remove(p string) (*Document, error) {
	key, err := normalize(p)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(w.docs, key)
	w.version++
	return doc, nil
}

// Rename moves a document to a new path atomically. The text is kept; the
// returned snapshot carries the new path.
func (w *Workspace) Rename(oldPath, newPath string) (*Document, error) {
	from, err := normalize(oldPath)
	if err != nil {
		return nil, err
	}
	to, err := normalize(newPath)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[from]
	if !ok {
		return nil, fmt.Errorf("%s: %w", from, ErrNotFound)
	}
	if from == to {
		return doc, nil
	}
	if _, exists := w.docs[to]; exists {
		return nil, fmt.Errorf("%s: %w", to, ErrExists)
	}
	w.version++
	moved := newDocument(to, doc.Text, doc.ModTime, w.version, w.extractor)
	delete(w.docs, from)
	w.docs[to] = moved
	return moved, nil
}

func (w *Workspace) Get(p string) (*Document, bool) {
	key, err := normalize(p)
	if err != nil {
		return nil, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.docs[key]
	return doc, ok
}

func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.docs)
}

// Version increases on every mutation.
func (w *Workspace) Version() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Paths returns every document path in sorted order.
func (w *Workspace) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.docs))
	for p := range w.docs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Documents returns a sorted snapshot of every document.
func (w *Workspace) Documents() []*Document {
	return w.Match(address.Workspace())
}

// Match returns the documents belonging to the graph at a, sorted by path.
// Synthetic addresses match nothing.
func (w *Workspace) Match(a address.Address) []*Document {
	w.mu.RLock()
	var out []*Document
	if a.Kind() == address.KindDocument {
		if d, ok := w.docs[a.Path()]; ok {
			out = append(out, d)
		}
	} else {
		for p, d := range w.docs {
			if a.Matches(p) {
				out = append(out, d)
			}
		}
	}
	w.mu.RUnlock()
	slices.SortFunc(out, func(x, y *Document) int {
		switch {
		case x.Path < y.Path:
			return -1
		case x.Path > y.Path:
			return 1
		}
		return 0
	})
	return out
}

// Package depindex maps graph addresses to the live queries whose last plan
// touched them, so that a document change finds exactly the queries to
// re-plan.
package depindex

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/vaultgraph/internal/address"
)

// Change classifies a document change for AffectedBy.
type Change uint8

const (
	// ChangeGraph: the document's graph changed, or the document was
	// created, deleted or renamed.
	ChangeGraph Change = iota
	// ChangeMetadata: only text outside graph-data fragments changed, so
	// only the metadata graph (size, modification time) differs.
	ChangeMetadata
)

// ConsistencyError reports a broken index invariant. It indicates a bug.
type ConsistencyError struct {
	Problems []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("dependency index inconsistent: %s", strings.Join(e.Problems, "; "))
}

// Index is a reverse map from address to query IDs. Query IDs are interned
// as uint32 so each address holds a roaring bitmap.
type Index struct {
	mu sync.RWMutex

	byAddr map[address.Address]*roaring.Bitmap

	queryIntID map[string]uint32
	intToQuery map[uint32]string
	nextIntID  uint32

	deps map[string][]address.Address
}

func New() *Index {
	return &Index{
		byAddr:     make(map[address.Address]*roaring.Bitmap),
		queryIntID: make(map[string]uint32),
		intToQuery: make(map[uint32]string),
		deps:       make(map[string][]address.Address),
	}
}

// Register records that queryID depends on every address in deps,
// replacing whatever was registered for it before.
func (ix *Index) Register(queryID string, deps []address.Address) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.registerLocked(queryID, deps)
}

func (ix *Index) registerLocked(queryID string, deps []address.Address) {
	ix.unregisterLocked(queryID)

	id := ix.nextIntID
	ix.nextIntID++
	ix.queryIntID[queryID] = id
	ix.intToQuery[id] = queryID

	uniq := make([]address.Address, 0, len(deps))
	for _, a := range deps {
		if slices.Contains(uniq, a) {
			continue
		}
		uniq = append(uniq, a)
		bm, ok := ix.byAddr[a]
		if !ok {
			bm = roaring.New()
			ix.byAddr[a] = bm
		}
		bm.Add(id)
	}
	ix.deps[queryID] = uniq
}

// Unregister removes every entry of queryID.
func (ix *Index) Unregister(queryID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.unregisterLocked(queryID)
}

func (ix *Index) unregisterLocked(queryID string) {
	id, ok := ix.queryIntID[queryID]
	if !ok {
		return
	}
	for _, a := range ix.deps[queryID] {
		if bm, ok := ix.byAddr[a]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(ix.byAddr, a)
			}
		}
	}
	delete(ix.deps, queryID)
	delete(ix.queryIntID, queryID)
	delete(ix.intToQuery, id)
}

// AffectedBy returns the sorted IDs of queries that must be re-planned
// after the document at docPath changed: those registered against the
// document, any subtree containing it, the workspace, or the metadata
// graph. A metadata-only change affects only metadata readers.
func (ix *Index) AffectedBy(docPath string, change Change) []string {
	doc := address.Document(docPath)
	keys := []address.Address{address.Meta()}
	if change == ChangeGraph {
		keys = append(keys, doc, address.Workspace())
		for _, p := range address.SubtreePrefixes(doc.Path()) {
			keys = append(keys, address.Subtree(p))
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	acc := roaring.New()
	for _, k := range keys {
		if bm, ok := ix.byAddr[k]; ok {
			acc.Or(bm)
		}
	}
	out := make([]string, 0, acc.GetCardinality())
	it := acc.Iterator()
	for it.HasNext() {
		out = append(out, ix.intToQuery[it.Next()])
	}
	slices.Sort(out)
	return out
}

// Dependents returns the sorted IDs of queries registered against a itself.
func (ix *Index) Dependents(a address.Address) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm, ok := ix.byAddr[a]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	for _, id := range bm.ToArray() {
		out = append(out, ix.intToQuery[id])
	}
	slices.Sort(out)
	return out
}

// Dependencies returns what queryID is registered against.
func (ix *Index) Dependencies(queryID string) []address.Address {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Clone(ix.deps[queryID])
}

// Queries returns every registered query ID, sorted.
func (ix *Index) Queries() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.deps))
	for q := range ix.deps {
		out = append(out, q)
	}
	slices.Sort(out)
	return out
}

// Addresses returns every address some query is registered against, in
// address order.
func (ix *Index) Addresses() []address.Address {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]address.Address, 0, len(ix.byAddr))
	for a := range ix.byAddr {
		out = append(out, a)
	}
	slices.SortFunc(out, address.Compare)
	return out
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.deps)
}

// RenameQuery changes the ID of a registered query, keeping its entries.
func (ix *Index) RenameQuery(oldID, newID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.queryIntID[oldID]
	if !ok || oldID == newID {
		return
	}
	ix.unregisterLocked(newID)
	delete(ix.queryIntID, oldID)
	ix.queryIntID[newID] = id
	ix.intToQuery[id] = newID
	ix.deps[newID] = ix.deps[oldID]
	delete(ix.deps, oldID)
}

// Verify checks that the forward and reverse maps agree.
func (ix *Index) Verify() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var problems []string
	for q, deps := range ix.deps {
		id, ok := ix.queryIntID[q]
		if !ok {
			problems = append(problems, fmt.Sprintf("query %s has no id", q))
			continue
		}
		if ix.intToQuery[id] != q {
			problems = append(problems, fmt.Sprintf("id %d maps to %q, want %q", id, ix.intToQuery[id], q))
		}
		for _, a := range deps {
			if bm, ok := ix.byAddr[a]; !ok || !bm.Contains(id) {
				problems = append(problems, fmt.Sprintf("query %s missing from %s", q, a))
			}
		}
	}
	for a, bm := range ix.byAddr {
		if bm.IsEmpty() {
			problems = append(problems, fmt.Sprintf("empty entry for %s", a))
		}
		for _, id := range bm.ToArray() {
			q, ok := ix.intToQuery[id]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s holds unregistered id %d", a, id))
				continue
			}
			if !slices.Contains(ix.deps[q], a) {
				problems = append(problems, fmt.Sprintf("%s lists %s which does not depend on it", a, q))
			}
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return &ConsistencyError{Problems: problems}
	}
	return nil
}

// Rebuild replaces the whole index with the given registrations. Readers
// see either the old index or the new one, never a partial rebuild.
func (ix *Index) Rebuild(all map[string][]address.Address) {
	ids := make([]string, 0, len(all))
	for q := range all {
		ids = append(ids, q)
	}
	slices.Sort(ids)
	next := New()
	for _, q := range ids {
		next.registerLocked(q, all[q])
	}

	ix.mu.Lock()
	ix.byAddr = next.byAddr
	ix.queryIntID = next.queryIntID
	ix.intToQuery = next.intToQuery
	ix.deps = next.deps
	ix.nextIntID = next.nextIntID
	ix.mu.Unlock()
}

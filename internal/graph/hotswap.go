package graph

import (
	"sync"
)

// hotSwapEntry is a thread-safe holder for one document's cache entry.
// Readers get the entry that was current when they asked; a recompute
// publishes its result with Swap and never mutates a published entry.
type hotSwapEntry struct {
	mu      sync.RWMutex
	current *Entry
	loading int // recomputes in flight
}

// Load returns the published entry, or nil before the first recompute.
func (h *hotSwapEntry) Load() *Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Swap publishes next unless a newer document version is already
// published, so a slow recompute never rolls the slot back. It reports
// whether next was published.
func (h *hotSwapEntry) Swap(next *Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.Version > next.Version {
		return false
	}
	h.current = next
	return true
}

// Invalidate clears the published fingerprint and fragment memo so the
// next lookup recomputes. The published graph stays readable.
func (h *hotSwapEntry) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return
	}
	cp := *h.current
	cp.Fingerprint = fragmentFingerprintZero
	cp.memo = nil
	h.current = &cp
}

func (h *hotSwapEntry) beginLoading() {
	h.mu.Lock()
	h.loading++
	h.mu.Unlock()
}

func (h *hotSwapEntry) endLoading() {
	h.mu.Lock()
	h.loading--
	h.mu.Unlock()
}

// State reports Loading while a recompute is in flight, otherwise the
// state of the published entry.
func (h *hotSwapEntry) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.loading > 0 || h.current == nil {
		return StateLoading
	}
	return h.current.State
}

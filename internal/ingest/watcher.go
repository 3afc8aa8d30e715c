package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// eventChannelBuffer is the size of the watch event channel.
	eventChannelBuffer = 500

	// DefaultWatchDelay is how long file events accumulate before they are
	// turned into document events.
	DefaultWatchDelay = 100 * time.Millisecond
)

// Op is the kind of a document event.
type Op uint8

const (
	OpCreate Op = iota
	OpChange
	OpDelete
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpChange:
		return "change"
	case OpDelete:
		return "delete"
	default:
		return "rename"
	}
}

// Event is one document lifecycle notification. OldPath is set for renames.
type Event struct {
	Op      Op
	Path    string
	OldPath string
}

// Watcher turns fsnotify events under a directory into document events.
// Writes that leave a document's content unchanged are suppressed, and a
// removal followed by the creation of a file with identical content in the
// same batch is reported as a rename.
type Watcher struct {
	root    string
	matches func(rel string) bool
	delay   time.Duration
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Hash-based change detection
	hashMu sync.RWMutex
	hashes map[string]string

	events chan Event

	droppedEvents atomic.Int64
}

// NewWatcher watches root. matches filters workspace-relative paths; nil
// admits every file. delay <= 0 selects DefaultWatchDelay.
func NewWatcher(root string, matches func(string) bool, delay time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if matches == nil {
		matches = func(string) bool { return true }
	}
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	return &Watcher{
		root:    root,
		matches: matches,
		delay:   delay,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]fsnotify.Op),
		hashes:  make(map[string]string),
		events:  make(chan Event, eventChannelBuffer),
	}, nil
}

// Events returns the channel of document events. It is closed when the
// watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start adds watches for root and its subdirectories and begins
// processing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	w.logger.Info("Document watcher started", "root", w.root, "delay", w.delay)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SetHash records the content hash of a document loaded before watching.
func (w *Watcher) SetHash(path, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[path] = hash
}

func (w *Watcher) hash(path string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	h, ok := w.hashes[path]
	return h, ok
}

// DroppedEvents returns the number of events dropped due to channel overflow.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

func (w *Watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) skipDir(abs string) bool {
	base := filepath.Base(abs)
	if abs != w.root && strings.HasPrefix(base, ".") {
		return true
	}
	r, ok := w.rel(abs)
	// A directory is skipped when no document could live under it.
	return ok && !w.matches(r+"/x.md") && !w.matches(r+"/x")
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.flushPending(ctx)
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.skipDir(event.Name) {
				if err := w.addWatchesRecursive(event.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
	}
	rel, ok := w.rel(event.Name)
	if !ok || !w.matches(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[rel] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Document change detected", "path", rel, "op", event.Op.String())
}

// flushPending turns the accumulated file events into document events.
// Removals are resolved first so a matching creation in the same batch can
// be paired with one as a rename.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	paths := make([]string, 0, len(toProcess))
	for p := range toProcess {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	type present struct {
		path, hash string
	}
	var (
		gone     []string
		goneHash = map[string]string{}
		existing []present
	)
	for _, rel := range paths {
		content, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to read file for hash check", "path", rel, "error", err)
				continue
			}
			if h, ok := w.hash(rel); ok {
				gone = append(gone, rel)
				goneHash[rel] = h
			}
			continue
		}
		existing = append(existing, present{path: rel, hash: ContentHash(content)})
	}

	renamed := map[string]bool{}
	for _, p := range existing {
		if ctx.Err() != nil {
			return
		}
		old, hadHash := w.hash(p.path)
		if hadHash && old == p.hash {
			continue
		}
		if !hadHash {
			if from := pairRemoval(gone, goneHash, renamed, p.hash); from != "" {
				renamed[from] = true
				w.hashMu.Lock()
				delete(w.hashes, from)
				w.hashes[p.path] = p.hash
				w.hashMu.Unlock()
				w.sendEvent(Event{Op: OpRename, Path: p.path, OldPath: from})
				continue
			}
		}
		w.SetHash(p.path, p.hash)
		if hadHash {
			w.sendEvent(Event{Op: OpChange, Path: p.path})
		} else {
			w.sendEvent(Event{Op: OpCreate, Path: p.path})
		}
	}
	for _, rel := range gone {
		if renamed[rel] {
			continue
		}
		w.hashMu.Lock()
		delete(w.hashes, rel)
		w.hashMu.Unlock()
		w.sendEvent(Event{Op: OpDelete, Path: rel})
	}
}

func pairRemoval(gone []string, hashes map[string]string, taken map[string]bool, hash string) string {
	for _, g := range gone {
		if !taken[g] && hashes[g] == hash {
			return g
		}
	}
	return ""
}

func (w *Watcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent watch event", "path", event.Path, "op", event.Op.String())
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("Event channel full, dropping event", "path", event.Path, "total_dropped", dropped)
	}
}

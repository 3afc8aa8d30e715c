// Package ingest connects a host document store to the engine: it lists
// and reads documents, watches for changes, and forwards both as document
// lifecycle notifications.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sink receives document lifecycle notifications. *live.Coordinator
// implements it.
type Sink interface {
	OnDocumentCreated(ctx context.Context, path, text string, modTime time.Time) error
	OnDocumentChanged(ctx context.Context, path, text string, modTime time.Time) error
	OnDocumentDeleted(ctx context.Context, path string) error
	OnDocumentRenamed(ctx context.Context, oldPath, newPath string) error
}

// HashRecorder learns the content hash of documents loaded up front, so
// the first write that leaves one unchanged is suppressed. *Watcher
// implements it.
type HashRecorder interface {
	SetHash(path, hash string)
}

// Engine drives the ingestion process.
type Engine struct {
	Host Host
	Sink Sink
	// Hashes, when set, is seeded during Ingest.
	Hashes HashRecorder

	logger *slog.Logger
}

func NewEngine(host Host, sink Sink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Host: host, Sink: sink, logger: logger}
}

// Ingest loads every document of the host into the sink and returns how
// many were loaded. A document that cannot be read or is rejected by the
// sink is logged and skipped.
func (e *Engine) Ingest(ctx context.Context) (int, error) {
	paths, err := e.Host.ListDocuments()
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		text, mod, err := e.Host.ReadDocument(p)
		if err != nil {
			e.logger.Warn("Failed to read document", "path", p, "error", err)
			continue
		}
		if err := e.Sink.OnDocumentCreated(ctx, p, text, mod); err != nil {
			e.logger.Warn("Failed to load document", "path", p, "error", err)
			continue
		}
		if e.Hashes != nil {
			e.Hashes.SetHash(p, ContentHash([]byte(text)))
		}
		loaded++
	}
	e.logger.Info("Workspace loaded", "documents", loaded, "listed", len(paths))
	return loaded, nil
}

// Apply forwards one event to the sink, reading the document's current
// text for creations and changes.
func (e *Engine) Apply(ctx context.Context, ev Event) error {
	switch ev.Op {
	case OpCreate, OpChange:
		text, mod, err := e.Host.ReadDocument(ev.Path)
		if err != nil {
			return err
		}
		if ev.Op == OpCreate {
			return e.Sink.OnDocumentCreated(ctx, ev.Path, text, mod)
		}
		return e.Sink.OnDocumentChanged(ctx, ev.Path, text, mod)
	case OpDelete:
		return e.Sink.OnDocumentDeleted(ctx, ev.Path)
	case OpRename:
		return e.Sink.OnDocumentRenamed(ctx, ev.OldPath, ev.Path)
	default:
		return fmt.Errorf("unknown event op %d", ev.Op)
	}
}

// Run applies events until the channel is closed or ctx is done. Errors
// are logged per event.
func (e *Engine) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.Apply(ctx, ev); err != nil {
				e.logger.Warn("Failed to apply document event", "path", ev.Path, "op", ev.Op.String(), "error", err)
			}
		}
	}
}

// Package export writes graph snapshots into SQLite files so external
// tools can inspect them with plain SQL.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/rdf"
)

// Loader returns the graph at an address. *graph.Store implements it.
type Loader interface {
	Get(ctx context.Context, a address.Address) (*rdf.Graph, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS graphs (
	address TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	quad_count INTEGER NOT NULL,
	exported_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quads (
	snapshot TEXT NOT NULL,
	graph TEXT NOT NULL,
	subject TEXT NOT NULL,
	subject_kind INTEGER NOT NULL,
	predicate TEXT NOT NULL,
	object TEXT NOT NULL,
	object_kind INTEGER NOT NULL,
	datatype TEXT,
	lang TEXT
);
CREATE INDEX IF NOT EXISTS idx_quads_snapshot ON quads(snapshot, graph);
CREATE INDEX IF NOT EXISTS idx_quads_subject ON quads(subject);
`

// SQLiteExporter writes snapshots into one SQLite database. Exporting the
// same address again replaces its previous snapshot.
type SQLiteExporter struct {
	db        *sql.DB
	depsID    string
	batchSize int
	mu        sync.Mutex
}

// NewSQLiteExporter opens or creates the database at dbPath.
func NewSQLiteExporter(dbPath string) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Performance tuning for bulk insert
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	depsID, err := attachDeps(db, dbPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteExporter{db: db, depsID: depsID, batchSize: 10000}, nil
}

// DB exposes the underlying handle for readers in the same process.
func (e *SQLiteExporter) DB() *sql.DB { return e.db }

// Export loads the graph at a and writes it as the snapshot named by a.
// Quads keep the address of the document graph that owns them.
func (e *SQLiteExporter) Export(ctx context.Context, loader Loader, a address.Address) (int, error) {
	g, err := loader.Get(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", a, err)
	}
	return g.Len(), e.WriteGraph(ctx, a, g)
}

// WriteGraph stores g as the snapshot for a.
func (e *SQLiteExporter) WriteGraph(ctx context.Context, a address.Address, g *rdf.Graph) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := a.String()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quads WHERE snapshot = ?`, snapshot); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear snapshot %s: %w", snapshot, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO graphs (address, kind, quad_count, exported_at)
		VALUES (?, ?, ?, ?)`, snapshot, a.Kind().String(), g.Len(), time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write graph %s: %w", snapshot, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quads (snapshot, graph, subject, subject_kind, predicate, object, object_kind, datatype, lang)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	count := 0
	for q := range g.All() {
		if _, err := stmt.ExecContext(ctx, snapshot, q.Graph,
			q.Subject.Value, int(q.Subject.Kind),
			q.Predicate.Value,
			q.Object.Value, int(q.Object.Kind),
			nullable(q.Object.Datatype), nullable(q.Object.Lang)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("write quad: %w", err)
		}
		count++
		if count%e.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
	}
	_ = stmt.Close()
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Close closes the database.
func (e *SQLiteExporter) Close() error {
	err := e.db.Close()
	detachDeps(e.depsID)
	return err
}

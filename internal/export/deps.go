package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"lukechampine.com/blake3"
	"modernc.org/sqlite/vtab"

	"github.com/agentic-research/vaultgraph/internal/address"
)

// DependencySource is the read side of the dependency index.
// *depindex.Index implements it.
type DependencySource interface {
	Addresses() []address.Address
	Dependents(a address.Address) []string
	Queries() []string
}

// DepsModuleName is the SQLite module behind the dependencies table.
const DepsModuleName = "vaultgraph_deps"

const depsSchema = `
CREATE TABLE IF NOT EXISTS query_ids (
	id INTEGER PRIMARY KEY,
	query TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS dep_refs (
	address TEXT PRIMARY KEY,
	bitmap BLOB NOT NULL
);
`

// WriteDependencies replaces the exported dependency index with the
// current contents of src and returns how many addresses it wrote.
// dep_refs holds one roaring bitmap of query_ids per address; the
// dependencies virtual table expands them into (address, query) rows.
func (e *SQLiteExporter) WriteDependencies(ctx context.Context, src DependencySource) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	queries := src.Queries()
	ids := make(map[string]uint32, len(queries))
	for i, q := range queries {
		ids[q] = uint32(i)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for _, stmt := range []string{`DELETE FROM query_ids`, `DELETE FROM dep_refs`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("clear dependencies: %w", err)
		}
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO query_ids (id, query) VALUES (?, ?)`, ids[q], q); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("write query id %s: %w", q, err)
		}
	}

	var buf bytes.Buffer
	written := 0
	for _, a := range src.Addresses() {
		bm := roaring.New()
		for _, q := range src.Dependents(a) {
			if id, ok := ids[q]; ok {
				bm.Add(id)
			}
		}
		if bm.IsEmpty() {
			continue
		}
		buf.Reset()
		if _, err := bm.WriteTo(&buf); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("serialize bitmap for %s: %w", a, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO dep_refs (address, bitmap) VALUES (?, ?)`, a.String(), buf.Bytes()); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("write dependencies of %s: %w", a, err)
		}
		written++
	}
	return written, tx.Commit()
}

// attachDeps registers db with the deps module and declares the
// dependencies virtual table. The module argument is derived from the
// database path so reopening a file finds its table again.
func attachDeps(db *sql.DB, dbPath string) (string, error) {
	mod, err := registerDeps()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		abs = dbPath
	}
	sum := blake3.Sum256([]byte(abs))
	id := "db_" + hex.EncodeToString(sum[:8])
	mod.registerDB(id, db)

	if _, err := db.Exec(depsSchema); err != nil {
		mod.unregisterDB(id)
		return "", fmt.Errorf("create dependency tables: %w", err)
	}
	q := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS dependencies USING %s(%s)", DepsModuleName, id)
	if _, err := db.Exec(q); err != nil {
		mod.unregisterDB(id)
		return "", fmt.Errorf("create dependencies vtab: %w", err)
	}
	return id, nil
}

func detachDeps(id string) {
	if mod, err := registerDeps(); err == nil {
		mod.unregisterDB(id)
	}
}

var (
	depsOnce    sync.Once
	depsModule  *depsMod
	depsInitErr error
)

// depsMod implements vtab.Module. modernc.org/sqlite registers modules
// with the driver, not a connection, so there is one per process.
type depsMod struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

func registerDeps() (*depsMod, error) {
	depsOnce.Do(func() {
		depsModule = &depsMod{dbs: make(map[string]*sql.DB)}
		if err := vtab.RegisterModule(nil, DepsModuleName, depsModule); err != nil {
			depsInitErr = fmt.Errorf("register %s module: %w", DepsModuleName, err)
			depsModule = nil
		}
	})
	return depsModule, depsInitErr
}

func (m *depsMod) registerDB(id string, db *sql.DB) {
	m.mu.Lock()
	m.dbs[id] = db
	m.mu.Unlock()
}

func (m *depsMod) unregisterDB(id string) {
	m.mu.Lock()
	delete(m.dbs, id)
	m.mu.Unlock()
}

// Create is called with argv[0] module, argv[1] database, argv[2] table
// and the USING arguments after that.
func (m *depsMod) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("%s: missing database argument (expected USING %s(id))", DepsModuleName, DepsModuleName)
	}
	id := strings.TrimSpace(args[3])

	m.mu.RLock()
	db, ok := m.dbs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown database %q", DepsModuleName, id)
	}

	if err := ctx.Declare("CREATE TABLE x(address TEXT, query TEXT)"); err != nil {
		return nil, err
	}
	return &depsTable{db: db}, nil
}

func (m *depsMod) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

type depsTable struct {
	db *sql.DB
}

const (
	idxScan = iota
	idxEQ
	idxLike
	idxGlob
)

func (t *depsTable) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != 0 {
			continue
		}
		switch c.Op {
		case vtab.OpEQ:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = idxEQ
			info.EstimatedCost = 1
			info.EstimatedRows = 10
			return nil
		case vtab.OpLIKE:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = idxLike
			info.EstimatedCost = 100
			info.EstimatedRows = 100
			return nil
		case vtab.OpGLOB:
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = idxGlob
			info.EstimatedCost = 100
			info.EstimatedRows = 100
			return nil
		}
	}
	info.IdxNum = idxScan
	info.EstimatedCost = 1e6
	info.EstimatedRows = 1e6
	return nil
}

func (t *depsTable) Open() (vtab.Cursor, error) {
	return &depsCursor{table: t}, nil
}

func (t *depsTable) Disconnect() error { return nil }
func (t *depsTable) Destroy() error    { return nil }

type depsRow struct {
	address string
	query   string
}

type depsCursor struct {
	table *depsTable
	rows  []depsRow
	pos   int
}

func (c *depsCursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	c.rows = c.rows[:0]
	c.pos = 0

	var where string
	switch idxNum {
	case idxEQ:
		where = " WHERE address = ?"
	case idxLike:
		where = " WHERE address LIKE ?"
	case idxGlob:
		where = " WHERE address GLOB ?"
	default:
		return c.load("", nil)
	}
	pattern, ok := vals[0].(string)
	if !ok {
		return nil
	}
	return c.load(where, pattern)
}

// load collects the matching bitmaps and closes the scan before resolving
// query ids, which needs a second connection.
func (c *depsCursor) load(where string, arg any) error {
	type entry struct {
		address string
		blob    []byte
	}

	var args []any
	if where != "" {
		args = append(args, arg)
	}
	rows, err := c.table.db.Query("SELECT address, bitmap FROM dep_refs"+where, args...)
	if err != nil {
		return fmt.Errorf("%s: scan dep_refs: %w", DepsModuleName, err)
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.address, &e.blob); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("%s: scan dep_refs rows: %w", DepsModuleName, err)
	}
	_ = rows.Close()

	for _, e := range entries {
		if err := c.expand(e.address, e.blob); err != nil {
			return err
		}
	}
	return nil
}

// expand resolves the query ids of one bitmap into rows.
func (c *depsCursor) expand(addr string, blob []byte) error {
	rb := roaring.New()
	if err := rb.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("%s: unmarshal bitmap for %q: %w", DepsModuleName, addr, err)
	}
	ids := rb.ToArray()
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = "?"
	}
	q := fmt.Sprintf("SELECT query FROM query_ids WHERE id IN (%s) ORDER BY query", strings.Join(placeholders, ","))
	rows, err := c.table.db.Query(q, args...)
	if err != nil {
		return fmt.Errorf("%s: resolve query ids: %w", DepsModuleName, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var query string
		if err := rows.Scan(&query); err != nil {
			continue
		}
		c.rows = append(c.rows, depsRow{address: addr, query: query})
	}
	return rows.Err()
}

func (c *depsCursor) Next() error {
	c.pos++
	return nil
}

func (c *depsCursor) Eof() bool {
	return c.pos >= len(c.rows)
}

func (c *depsCursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	switch col {
	case 0:
		return c.rows[c.pos].address, nil
	case 1:
		return c.rows[c.pos].query, nil
	default:
		return nil, nil
	}
}

func (c *depsCursor) Rowid() (int64, error) {
	return int64(c.pos), nil
}

func (c *depsCursor) Close() error {
	c.rows = nil
	return nil
}

// Package graph implements the persistent, version-scoped module dependency
// graph. It tracks forward edges (a module's own
// dependencies) and maintains a reverse index so "who depends on X" is an
// indexed lookup, never a table scan.
//
// The graph is stored in a pure-Go SQLite database, one schema per version
// namespace, following the "small embedded persistence layer behind a
// narrow Go API" shape esmdev uses for its on-disk prebundle cache
// (esmdev/prebundle_cache.go) but upgraded from flat files to a queryable
// store since collect_affected needs graph traversal, not just key lookup.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ionifyjs/ionify/internal/hash"
	"github.com/ionifyjs/ionify/internal/version"
)

const schema = `
CREATE TABLE IF NOT EXISTS modules (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	supports_refresh INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS edges (
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'static',
	seq INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (from_id, to_id, kind)
);
CREATE INDEX IF NOT EXISTS edges_to_idx ON edges(to_id);
`

const (
	edgeStatic  = "static"
	edgeDynamic = "dynamic"
)

// Node is a single module's record in the graph. Deps and DynamicDeps are
// kept as separate sets so static imports and `import()`-only edges stay
// distinguishable; both sets feed the reverse index used by
// Dependents/CollectAffected, so a change reaches dependents through
// either kind of edge.
type Node struct {
	ID              string
	ContentHash     hash.Digest
	Kind            string // "js", "css-module", "asset", ...
	SupportsRefresh bool
	Deps            []string // statically imported specifiers, resolved to IDs
	DynamicDeps     []string // import()-only specifiers, resolved to IDs
}

// Store is a version-namespaced, persistent dependency graph.
type Store struct {
	root string

	mu      sync.Mutex
	db      *sql.DB
	version version.Hash
	dirty   bool

	flushInterval time.Duration
	stopFlush     chan struct{}
	flushDone     chan struct{}
}

// Open opens (creating if necessary) the graph database for one version
// namespace under root. Each version gets its own SQLite file so switching
// versions never requires migrating or clearing rows.
func Open(root string, v version.Hash) (*Store, error) {
	dir := filepath.Join(root, string(v))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("graph: mkdir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "graph.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, avoid SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: migrate: %w", err)
	}

	s := &Store{
		root:          root,
		db:            db,
		version:       v,
		flushInterval: 250 * time.Millisecond,
		stopFlush:     make(chan struct{}),
		flushDone:     make(chan struct{}),
	}
	go s.autoFlush()
	return s, nil
}

// autoFlush checkpoints roughly every flushInterval while the store is
// dirty, per its "flush periodically (~250ms) and on demand".
func (s *Store) autoFlush() {
	defer close(s.flushDone)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush(context.Background())
		case <-s.stopFlush:
			return
		}
	}
}

// Flush forces a WAL checkpoint. A no-op when nothing has changed since the
// last flush.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// Close stops the auto-flush loop, flushes, and closes the database.
func (s *Store) Close() error {
	close(s.stopFlush)
	<-s.flushDone
	s.Flush(context.Background())
	return s.db.Close()
}

// Record upserts a module's node and edges. It returns changed=true if the
// content hash, kind, refresh support, or edge set differs from what was
// previously recorded — callers use this to short-circuit unaffected work.
// Recording the same node twice with identical data is a no-op that still
// returns changed=false (idempotence, the design).
func (s *Store) Record(ctx context.Context, n Node) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.getLocked(ctx, n.ID)
	if err != nil {
		return false, err
	}
	if found && nodesEqual(existing, n) {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback()

	refresh := 0
	if n.SupportsRefresh {
		refresh = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO modules (id, content_hash, kind, supports_refresh) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content_hash=excluded.content_hash, kind=excluded.kind, supports_refresh=excluded.supports_refresh`,
		n.ID, n.ContentHash.String(), n.Kind, refresh,
	); err != nil {
		return false, fmt.Errorf("graph: upsert module: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE from_id = ?`, n.ID); err != nil {
		return false, fmt.Errorf("graph: clear edges: %w", err)
	}
	seq := 0
	for _, dep := range n.Deps {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (from_id, to_id, kind, seq) VALUES (?, ?, ?, ?)`, n.ID, dep, edgeStatic, seq,
		); err != nil {
			return false, fmt.Errorf("graph: insert edge: %w", err)
		}
		seq++
	}
	for _, dep := range n.DynamicDeps {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (from_id, to_id, kind, seq) VALUES (?, ?, ?, ?)`, n.ID, dep, edgeDynamic, seq,
		); err != nil {
			return false, fmt.Errorf("graph: insert edge: %w", err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("graph: commit: %w", err)
	}
	s.dirty = true
	return true, nil
}

func nodesEqual(a, b Node) bool {
	if a.ID != b.ID || a.ContentHash != b.ContentHash || a.Kind != b.Kind || a.SupportsRefresh != b.SupportsRefresh {
		return false
	}
	return sameSet(a.Deps, b.Deps) && sameSet(a.DynamicDeps, b.DynamicDeps)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Get returns a module's node, or found=false if it is not recorded.
func (s *Store) Get(ctx context.Context, id string) (Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (Node, bool, error) {
	var contentHash, kind string
	var refresh int
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, kind, supports_refresh FROM modules WHERE id = ?`, id,
	).Scan(&contentHash, &kind, &refresh)
	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("graph: get %s: %w", id, err)
	}

	deps, err := s.depsLocked(ctx, id, edgeStatic)
	if err != nil {
		return Node{}, false, err
	}
	dynDeps, err := s.depsLocked(ctx, id, edgeDynamic)
	if err != nil {
		return Node{}, false, err
	}

	digest, err := hash.ParseDigest(contentHash)
	if err != nil {
		return Node{}, false, fmt.Errorf("graph: corrupt content_hash for %s: %w", id, err)
	}
	return Node{ID: id, ContentHash: digest, Kind: kind, SupportsRefresh: refresh != 0, Deps: deps, DynamicDeps: dynDeps}, true, nil
}

// Deps returns the module IDs that id statically imports, in the order they
// were recorded (the order static specifiers appear in source).
func (s *Store) Deps(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depsLocked(ctx, id, edgeStatic)
}

// DynamicDeps returns the module IDs that id only reaches via import().
func (s *Store) DynamicDeps(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depsLocked(ctx, id, edgeDynamic)
}

func (s *Store) depsLocked(ctx context.Context, id, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT to_id FROM edges WHERE from_id = ? AND kind = ? ORDER BY seq`, id, kind)
	if err != nil {
		return nil, fmt.Errorf("graph: deps %s: %w", id, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, err
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

// Dependents returns the module IDs that directly depend on id, via the
// reverse edge index — O(matching rows), never a full table scan.
func (s *Store) Dependents(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT from_id FROM edges WHERE to_id = ? ORDER BY from_id`, id)
	if err != nil {
		return nil, fmt.Errorf("graph: dependents %s: %w", id, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			return nil, err
		}
		out = append(out, from)
	}
	return out, rows.Err()
}

// Remove deletes a module and all edges touching it.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM modules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("graph: remove module: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("graph: remove edges: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit: %w", err)
	}
	s.dirty = true
	return nil
}

// CollectAffected performs a breadth-first traversal of the reverse-edge
// graph starting at seeds, returning every module transitively dependent on
// them. Seeds are always included and always ordered first, then the
// remaining nodes in the (deterministic) order they were first discovered —
// the design requires a deterministic ordering for reproducible HMR update
// batches.
func (s *Store) CollectAffected(ctx context.Context, seeds []string) ([]string, error) {
	visited := make(map[string]struct{}, len(seeds))
	var order []string
	queue := append([]string(nil), seeds...)

	for _, seed := range seeds {
		if _, ok := visited[seed]; !ok {
			visited[seed] = struct{}{}
			order = append(order, seed)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		dependents, err := s.Dependents(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			order = append(order, d)
			queue = append(queue, d)
		}
	}

	return order, nil
}

// Snapshot returns every recorded node, for diagnostics and tests.
func (s *Store) Snapshot(ctx context.Context) ([]Node, error) {
	s.mu.Lock()
	ids, err := s.allIDsLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		n, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) allIDsLocked(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

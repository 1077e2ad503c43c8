// Package pool implements the connection factory (C3): opening and
// pooling connections to one backend, running schema bootstrap, and
// holding the anchor connection an in-memory backend needs to stay
// alive. database/sql already implements connection pooling internally;
// Pool adds the schema-lifecycle and anchor-connection behavior spec.md
// §4.3/§5 layer on top of it, the way the teacher's DoltStore wraps
// *sql.DB with its own open/bootstrap sequence.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/lockfile"
)

// Pool owns one backend's *sql.DB, its Dialect, and (for backends that
// need one) an anchor connection.
type Pool struct {
	Dialect *dialect.Dialect

	db     *sql.DB
	anchor *sql.Conn // non-nil only when Dialect.RequiresAnchor
}

// Open opens dsn through dialect.Open, applies session statements,
// bootstraps the schema (guarded by an advisory file lock when dsn
// names a real file, so two processes racing on first-open don't both
// try to CREATE TABLE), and — for backends where RequiresAnchor is set —
// acquires and holds one extra connection for the Pool's lifetime.
func Open(ctx context.Context, d *dialect.Dialect, dsn string) (*Pool, error) {
	db, err := d.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pool: open %s: %w", d.Name, err)
	}

	p := &Pool{Dialect: d, db: db}

	if err := p.bootstrap(ctx, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	if d.RequiresAnchor {
		anchor, err := db.Conn(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pool: acquire anchor connection: %w", err)
		}
		p.anchor = anchor
	}

	return p, nil
}

// DB returns the underlying *sql.DB for issuing statements. Acquisition
// and release are handled internally by database/sql's own pool; Pool's
// job ends at "the store is open and its schema exists."
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) bootstrap(ctx context.Context, dsn string) error {
	unlock, err := p.acquireBootstrapLock(dsn)
	if err != nil {
		return err
	}
	defer unlock()

	for _, stmt := range p.Dialect.SessionStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pool: session statement %q: %w", stmt, err)
		}
	}

	exists, err := p.schemaExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	for _, stmt := range p.Dialect.SchemaCreateStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pool: schema create: %w", err)
		}
	}
	return nil
}

func (p *Pool) schemaExists(ctx context.Context) (bool, error) {
	if p.Dialect.SchemaProbeQuery == "" {
		return false, nil
	}
	var n int
	if err := p.db.QueryRowContext(ctx, p.Dialect.SchemaProbeQuery).Scan(&n); err != nil {
		return false, fmt.Errorf("pool: schema probe: %w", err)
	}
	return n > 0, nil
}

// acquireBootstrapLock guards first-time schema creation with an
// advisory flock when dsn names a real filesystem path (the file-embedded
// sqlite dialect). In-memory (vfs=memdb) DSNs and client/server DSNs
// (mysql) get no lock; for the latter the database itself serializes
// concurrent DDL.
func (p *Pool) acquireBootstrapLock(dsn string) (func(), error) {
	path := filePathFromDSN(dsn)
	if path == "" {
		return func() {}, nil
	}
	lockPath := path + ".kvlite-bootstrap.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		// Best-effort: if the lock file can't be created (e.g. a
		// read-only or in-memory filesystem), proceed without it
		// rather than failing the whole open.
		return func() {}, nil
	}
	if err := lockfile.ExclusiveBlocking(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("pool: acquire bootstrap lock: %w", err)
	}
	return func() {
		_ = lockfile.Unlock(f)
		_ = f.Close()
	}, nil
}

func filePathFromDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		return ""
	}
	rest := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" || rest == ":memory:" || strings.Contains(dsn, "vfs=memdb") {
		return ""
	}
	return filepath.Clean(rest)
}

// Close releases the anchor connection (if held) and closes the
// underlying *sql.DB. For the in-memory dialect this is what actually
// destroys the store (spec.md §5).
func (p *Pool) Close() error {
	var err error
	if p.anchor != nil {
		err = p.anchor.Close()
	}
	if cerr := p.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Package memsqlite renders the in-memory variant of the file-embedded
// engine (spec.md §4.3 "an in-memory variant of the same engine"). It
// reuses the sqlite dialect's SQL verbatim — only the DSN and the
// RequiresAnchor/pooling behavior differ, per Design Notes §9 ("dialect
// differences become data, not types").
package memsqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/dialect/sqlite"
)

// ConnString builds a shared-cache in-memory SQLite DSN so that every
// connection opened against name sees the same store (spec.md §4.3
// "acquisitions for the in-memory variant may share the same underlying
// store via a shared-cache URI"). Distinct names address independent
// stores within one process; an empty name falls back to "kvlite", so
// every caller passing an empty name shares that one store.
func ConnString(name string) string {
	if name == "" {
		name = "kvlite"
	}
	return fmt.Sprintf("file:/%s?vfs=memdb&_pragma=foreign_keys(ON)", name)
}

// New returns the in-memory Dialect; maxParentKeys <= 0 uses
// entry.MaxParentKeys. The store it addresses is chosen by the DSN built
// with ConnString.
func New(maxParentKeys int) *dialect.Dialect {
	d := *sqlite.New(maxParentKeys) // copy: same SQL, different identity/open/anchor behavior
	d.Name = "memsqlite"
	d.Open = openDB
	d.RequiresAnchor = true
	return &d
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("memsqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memsqlite: ping: %w", err)
	}
	return db, nil
}

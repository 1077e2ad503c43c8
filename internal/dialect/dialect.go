// Package dialect renders the engine's SQL protocol (spec.md §4.3) for a
// specific backend. Per Design Notes §9 ("dialect differences become
// data, not types"), a single Dialect struct carries every SQL statement
// and connection detail a backend needs; internal/dialect/{sqlite,
// memsqlite,mysql,dolt} each construct one.
package dialect

import (
	"context"
	"database/sql"
)

// Dialect is the rendered SQL surface for one backend (C3 "Required SQL
// operations" table, spec.md §4.3).
type Dialect struct {
	// Name identifies the dialect for logging/tracing (e.g. "sqlite",
	// "memsqlite", "mysql", "dolt").
	Name string

	// DriverName is the database/sql driver name passed to sql.Open.
	DriverName string

	// MaxParentKeys is K, the number of parent hash/key column pairs
	// this backend's schema provisions (spec.md §3.1, K >= 3).
	MaxParentKeys int

	// Open builds a *sql.DB for dsn. Most dialects just call sql.Open;
	// the dolt dialect opens an embedded connector instead. The in-memory
	// dialect's anchor connection is held by internal/pool, driven by
	// RequiresAnchor (spec.md §4.3, §5).
	Open func(ctx context.Context, dsn string) (*sql.DB, error)

	// RequiresAnchor marks backends whose store is destroyed when its
	// last connection closes (spec.md §5 "anchor connection"). The pool
	// keeps one extra connection open for the cache's lifetime when
	// this is true.
	RequiresAnchor bool

	// SessionStatements (PRAGMAs or session variables) are executed once,
	// during pool bootstrap, on whichever connection database/sql hands
	// out; connections that database/sql opens later do not run them.
	SessionStatements []string

	// SchemaProbeQuery returns a single count that is non-zero when the
	// kv_entries table exists; zero triggers SchemaCreateStatements. The
	// probe checks only that the table exists, not its column set.
	SchemaProbeQuery string

	// SchemaCreateStatements create the entries table, its indexes, and
	// the self-referential cascading FKs on each parent pair (spec.md
	// §3.1).
	SchemaCreateStatements []string

	// UpsertEntry is the single logical upsert keyed by (partition,
	// key) (spec.md §4.3, §9 Open Question resolved per-dialect in
	// DESIGN.md).
	UpsertEntry string

	// ContainsEntry returns a row iff a non-expired row exists for
	// (partition, key).
	ContainsEntry string

	// CountAll / CountByPartition count non-expired rows.
	CountAll         string
	CountByPartition string

	// CountAllIgnoreExpiry / CountByPartitionIgnoreExpiry count rows
	// regardless of expiry. internal/engine does not issue them: Clear
	// reports the RowsAffected of its DELETE instead.
	CountAllIgnoreExpiry         string
	CountByPartitionIgnoreExpiry string

	// PeekEntry / PeekAll / PeekByPartition read without extending
	// expiry.
	PeekEntry        string
	PeekAll          string
	PeekByPartition  string

	// GetEntry reads one row (the same predicate as PeekEntry); when the
	// row is Sliding the engine then issues ExtendExpiry as a separate
	// statement, outside any transaction.
	GetEntry string

	// ExtendExpiry is the optimistic, guarded expiry-extending update:
	// "UPDATE ... SET utcExpiry = ? WHERE hash = ? AND utcExpiry = ?"
	// (spec.md §4.4 "guarded by the previously observed utcExpiry").
	ExtendExpiry string

	// GetAll / GetByPartition back getMany: fetch rows, the engine
	// issues ExtendExpiry afterwards as separate statements, outside any
	// transaction.
	GetAll         string
	GetByPartition string

	// DeleteEntry removes by (partition, key); cascades to children
	// via the schema's FK.
	DeleteEntry string

	// DeleteExpired is the eviction driver's bulk delete (spec.md
	// §4.5): "utcExpiry < now" across all partitions.
	DeleteExpired string

	// DeleteExpiredByPartition backs clear(partition, mode=ConsiderExpiry).
	DeleteExpiredByPartition string

	// DeleteAll / DeleteAllByPartition back clear(mode=IgnoreExpiry).
	DeleteAll             string
	DeleteAllByPartition string

	// Vacuum reclaims space; empty string if unsupported by this
	// backend (spec.md §4.3 "(optional)").
	Vacuum string

	// CacheSizeQuery returns occupied bytes; empty string if
	// unsupported.
	CacheSizeQuery string
}

// Package sqlite renders the file-embedded dialect (spec.md §4.3 "a
// file-embedded engine") on top of github.com/ncruces/go-sqlite3, a
// pure-Go, CGO-free SQLite driver. Connection-string construction is
// adapted from the teacher's storage.SQLiteConnString.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/entry"
)

const driverName = "sqlite3"

// ConnString builds a SQLite DSN with the pragmas the pool relies on:
// busy_timeout (avoids "database is locked" under concurrent writers),
// foreign_keys (entries cascade on parent removal, spec.md §3.1
// invariant 4), and WAL journal mode for concurrent readers. Honors
// KVLITE_LOCK_TIMEOUT (default 30s), mirroring the teacher's
// BD_LOCK_TIMEOUT/SQLiteConnString.
//
// maxCacheSizeMB and maxJournalSizeMB render PRAGMA cache_size and
// PRAGMA journal_size_limit (spec.md §4.7 "Page-count cap for
// file/embedded backends" / "Journal cap for file/embedded backends");
// a value <= 0 leaves the pragma unset, which means SQLite's own
// default applies.
func ConnString(path string, maxCacheSizeMB, maxJournalSizeMB int) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("KVLITE_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := busy / time.Millisecond

	var extra strings.Builder
	if maxCacheSizeMB > 0 {
		// Negative cache_size argument is KiB, not pages (sqlite.org/pragma.html#pragma_cache_size).
		fmt.Fprintf(&extra, "&_pragma=cache_size(-%d)", maxCacheSizeMB*1024)
	}
	if maxJournalSizeMB > 0 {
		fmt.Fprintf(&extra, "&_pragma=journal_size_limit(%d)", maxJournalSizeMB*1024*1024)
	}

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += sep + "_pragma=busy_timeout(" + strconv.FormatInt(int64(busyMs), 10) + ")"
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=foreign_keys") {
			conn += sep + "_pragma=foreign_keys(ON)"
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=journal_mode") {
			conn += sep + "_pragma=journal_mode(WAL)"
		}
		return conn + extra.String()
	}

	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)%s",
		path, busyMs, extra.String())
}

// New returns the Dialect for the file-embedded backend. maxParentKeys
// must match the column count rendered into SchemaCreateStatements.
func New(maxParentKeys int) *dialect.Dialect {
	if maxParentKeys <= 0 {
		maxParentKeys = entry.MaxParentKeys
	}
	return &dialect.Dialect{
		Name:              "sqlite",
		DriverName:        driverName,
		MaxParentKeys:     maxParentKeys,
		Open:              openDB,
		SessionStatements: []string{"PRAGMA foreign_keys = ON"},

		SchemaProbeQuery: `SELECT count(*) FROM sqlite_master WHERE type='table' AND name='kv_entries'`,

		SchemaCreateStatements: schemaStatements(maxParentKeys),

		UpsertEntry: upsertEntryStatement(maxParentKeys),

		ContainsEntry: `SELECT 1 FROM kv_entries WHERE partition = ? AND key = ? AND utcExpiry >= ? LIMIT 1`,

		CountAll:         `SELECT count(*) FROM kv_entries WHERE utcExpiry >= ?`,
		CountByPartition: `SELECT count(*) FROM kv_entries WHERE partition = ? AND utcExpiry >= ?`,

		CountAllIgnoreExpiry:         `SELECT count(*) FROM kv_entries`,
		CountByPartitionIgnoreExpiry: `SELECT count(*) FROM kv_entries WHERE partition = ?`,

		PeekEntry:       selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND key = ? AND utcExpiry >= ?`,
		PeekAll:         selectEntryStatement(maxParentKeys) + ` WHERE utcExpiry >= ?`,
		PeekByPartition: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND utcExpiry >= ?`,

		GetEntry: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND key = ? AND utcExpiry >= ?`,

		ExtendExpiry: `UPDATE kv_entries SET utcExpiry = ? WHERE hash = ? AND utcExpiry = ?`,

		GetAll:         selectEntryStatement(maxParentKeys) + ` WHERE utcExpiry >= ?`,
		GetByPartition: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND utcExpiry >= ?`,

		DeleteEntry: `DELETE FROM kv_entries WHERE partition = ? AND key = ?`,

		DeleteExpired:            `DELETE FROM kv_entries WHERE utcExpiry < ?`,
		DeleteExpiredByPartition: `DELETE FROM kv_entries WHERE partition = ? AND utcExpiry < ?`,

		DeleteAll:             `DELETE FROM kv_entries`,
		DeleteAllByPartition: `DELETE FROM kv_entries WHERE partition = ?`,

		Vacuum:         `VACUUM`,
		CacheSizeQuery: `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	}
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // file-embedded writers serialize; readers use WAL snapshot isolation
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}

func schemaStatements(maxParentKeys int) []string {
	var cols strings.Builder
	var fks strings.Builder
	var idx []string
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&cols, ",\n    parentHash%d INTEGER,\n    parentKey%d TEXT", i, i)
		fmt.Fprintf(&fks, ",\n    FOREIGN KEY (partition, parentKey%d) REFERENCES kv_entries(partition, key) ON DELETE CASCADE", i)
		idx = append(idx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_kv_parent%d ON kv_entries(partition, parentKey%d)`, i, i))
	}

	createEntries := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_entries (
    hash INTEGER PRIMARY KEY,
    partition TEXT NOT NULL,
    key TEXT NOT NULL,
    utcCreation INTEGER NOT NULL,
    utcExpiry INTEGER NOT NULL,
    interval INTEGER NOT NULL DEFAULT 0,
    compressed INTEGER NOT NULL DEFAULT 0,
    value BLOB%s,
    UNIQUE (partition, key)%s
)`, cols.String(), fks.String())

	stmts := []string{
		createEntries,
		`CREATE INDEX IF NOT EXISTS idx_kv_expiry ON kv_entries(utcExpiry)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_partition_key ON kv_entries(partition, key)`,
	}
	stmts = append(stmts, idx...)
	return stmts
}

func parentColumnList(maxParentKeys int) string {
	var b strings.Builder
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&b, ", parentHash%d, parentKey%d", i, i)
	}
	return b.String()
}

func selectEntryStatement(maxParentKeys int) string {
	return `SELECT hash, partition, key, utcCreation, utcExpiry, interval, compressed, value` +
		parentColumnList(maxParentKeys) + ` FROM kv_entries`
}

func upsertEntryStatement(maxParentKeys int) string {
	var placeholders strings.Builder
	var updates strings.Builder
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&placeholders, ", ?, ?")
		fmt.Fprintf(&updates, ", parentHash%d = excluded.parentHash%d, parentKey%d = excluded.parentKey%d", i, i, i, i)
	}
	return fmt.Sprintf(`INSERT INTO kv_entries
    (hash, partition, key, utcCreation, utcExpiry, interval, compressed, value%s)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?%s)
    ON CONFLICT(partition, key) DO UPDATE SET
        hash = excluded.hash,
        utcCreation = excluded.utcCreation,
        utcExpiry = excluded.utcExpiry,
        interval = excluded.interval,
        compressed = excluded.compressed,
        value = excluded.value%s`,
		parentColumnList(maxParentKeys), placeholders.String(), updates.String())
}

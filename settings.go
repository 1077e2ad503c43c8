package kvlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ilkerhalil/kvlite/internal/codec"
	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/dialect/memsqlite"
	"github.com/ilkerhalil/kvlite/internal/dialect/mysql"
	"github.com/ilkerhalil/kvlite/internal/dialect/sqlite"
	"github.com/ilkerhalil/kvlite/internal/logging"
	"github.com/ilkerhalil/kvlite/internal/pool"
	"github.com/ilkerhalil/kvlite/internal/watch"
)

// Backend selects the relational backend a Cache opens (spec.md §4.3: "a
// file-embedded engine, an in-memory variant of the same engine, and at
// least one client/server RDBMS").
type Backend int

const (
	// BackendSQLite is the file-embedded engine.
	BackendSQLite Backend = iota
	// BackendMemory is the in-memory variant, sharing the same SQL
	// surface as BackendSQLite (spec.md §9 "dialect differences become
	// data, not types").
	BackendMemory
	// BackendMySQL is the client/server RDBMS.
	BackendMySQL
	// BackendDolt is the embedded, version-controlled engine
	// (SPEC_FULL.md §D.4); only available in binaries built with CGO
	// enabled (github.com/dolthub/driver requirement).
	BackendDolt
)

// newDoltDialect is non-nil only in CGO-enabled builds (set by the init
// function in settings_dolt.go).
var newDoltDialect func(path, database string) (*dialect.Dialect, error)

// reservedInternalPartition is rejected by the façade's partition
// validation so callers can never collide with internal bookkeeping
// (SPEC_FULL.md §C "Insertion counter placement").
const reservedInternalPartition = "\x00kvlite-internal"

// Settings is the mutable configuration surface of spec.md §4.7. Callers
// construct it in code (loading it from a file or environment is a
// Non-goal, spec.md §1) and pass it to Open. Changing a data-source field
// (CacheName/CacheFile/Backend/MySQL) and calling Reconfigure opens a new
// connection pool and re-runs schema bootstrap (Design Notes §9 "explicit
// rebuild, not observer dispatch"); see Reconfigure for which Cache picks
// that pool up.
type Settings struct {
	// DefaultPartition is used by GetFromDefaultPartition and any add
	// call that omits a partition. Must be non-empty once Open is called.
	DefaultPartition string

	// StaticIntervalDays feeds AddStatic's interval (default 30 days).
	StaticIntervalDays int

	// InsertionCountBeforeAutoClean is the eviction driver's trigger
	// threshold (default 64, spec.md §4.5).
	InsertionCountBeforeAutoClean int64

	// MinValueLengthForCompression is C1's compression threshold in
	// bytes (default 4096, spec.md §4.1).
	MinValueLengthForCompression int

	// MaxCacheSizeMB / MaxJournalSizeMB are the page-cache and
	// journal-size caps of spec.md §4.7 ("Page-count cap for
	// file/embedded backends" / "Journal cap for file/embedded
	// backends"). BackendSQLite renders them as PRAGMA cache_size and
	// PRAGMA journal_size_limit; a value <= 0 leaves SQLite's own
	// default in effect. BackendMemory leaves both unset: an in-memory
	// store has no journal file and no durability motive for capping
	// its page cache. BackendMySQL/BackendDolt are server-mode engines
	// with their own buffer-pool/server configuration, outside a client
	// library's DSN, so neither applies these fields either.
	MaxCacheSizeMB   int
	MaxJournalSizeMB int

	// Backend selects the relational backend (default BackendSQLite).
	Backend Backend

	// CacheName addresses an in-memory store (BackendMemory); distinct
	// names are distinct, independently addressable caches.
	CacheName string

	// CacheFile is the file-embedded store's path (BackendSQLite) or
	// the Dolt repository directory (BackendDolt).
	CacheFile string

	// DoltDatabase names the database within an embedded Dolt
	// repository (BackendDolt only; default "kvlite").
	DoltDatabase string

	// MySQL configures a client/server backend (BackendMySQL).
	MySQL mysql.Config

	// RetryEnabled turns on exponential-backoff retry of transient
	// connection errors (internal/dialect/retry) for whichever Backend is
	// configured, embedded ones included. The transient-error list it
	// matches is drawn from MySQL-protocol client/server failures.
	RetryEnabled bool

	// WatchForExternalChanges, when true, watches CacheFile for external
	// replacement (e.g. a restored snapshot) and calls Reconfigure
	// automatically (SPEC_FULL.md §A.3). BackendSQLite/BackendDolt only.
	WatchForExternalChanges bool

	// Serializer/Compressor/Clock/Log are the collaborator interfaces of
	// spec.md §6. Nil fields fall back to the library defaults
	// (MsgpackSerializer, ZstdCompressor, SystemClock, NopLog).
	Serializer codec.Serializer
	Compressor codec.Compressor
	Clock      codec.Clock
	Log        logging.Log

	mu      sync.Mutex
	watcher *watch.Watcher
}

func (s *Settings) normalize() {
	if s.DefaultPartition == "" {
		s.DefaultPartition = "default"
	}
	if s.StaticIntervalDays <= 0 {
		s.StaticIntervalDays = 30
	}
	if s.InsertionCountBeforeAutoClean <= 0 {
		s.InsertionCountBeforeAutoClean = 64
	}
	if s.MinValueLengthForCompression <= 0 {
		s.MinValueLengthForCompression = codec.DefaultMinCompressionLength
	}
	if s.Serializer == nil {
		s.Serializer = codec.MsgpackSerializer{}
	}
	if s.Compressor == nil {
		s.Compressor = codec.ZstdCompressor{}
	}
	if s.Clock == nil {
		s.Clock = codec.SystemClock{}
	}
	if s.Log == nil {
		s.Log = logging.NopLog{}
	}
}

// staticIntervalSeconds is StaticIntervalDays expressed in seconds for
// AddStatic.
func (s *Settings) staticIntervalSeconds() int64 {
	return int64(s.StaticIntervalDays) * int64(24*time.Hour/time.Second)
}

// buildDialect renders the Dialect and connection string for the
// currently configured Backend.
func (s *Settings) buildDialect() (*dialect.Dialect, string, error) {
	switch s.Backend {
	case BackendSQLite:
		return sqlite.New(0), sqlite.ConnString(s.CacheFile, s.MaxCacheSizeMB, s.MaxJournalSizeMB), nil
	case BackendMemory:
		return memsqlite.New(0), memsqlite.ConnString(s.CacheName), nil
	case BackendMySQL:
		return mysql.New(0), mysql.DSN(s.MySQL), nil
	case BackendDolt:
		if newDoltDialect == nil {
			return nil, "", fmt.Errorf("kvlite: %w: BackendDolt requires a CGO-enabled build", ErrNotSupported)
		}
		d, err := newDoltDialect(s.CacheFile, s.DoltDatabase)
		if err != nil {
			return nil, "", err
		}
		return d, "", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown backend %d", ErrInvalidArgument, s.Backend)
	}
}

// Reconfigure opens a new connection pool and re-runs schema bootstrap
// against the current Settings field values (Design Notes §9 "explicit
// rebuild"), returning the pool and dialect to the caller. It is called
// once implicitly by Open. A Cache already opened from these Settings
// keeps using its own pool: only the WatchForExternalChanges callback
// swaps a Cache over to a newly built pool, and a pool returned by an
// explicit call is owned (and must be closed) by that caller.
func (s *Settings) Reconfigure(ctx context.Context) (*pool.Pool, *dialect.Dialect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize()

	d, dsn, err := s.buildDialect()
	if err != nil {
		return nil, nil, err
	}
	p, err := pool.Open(ctx, d, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("kvlite: reconfigure: %w", err)
	}
	return p, d, nil
}

func (s *Settings) startWatch(onChange func()) error {
	if !s.WatchForExternalChanges || s.CacheFile == "" {
		return nil
	}
	w, err := watch.New(s.CacheFile, onChange)
	if err != nil {
		return fmt.Errorf("kvlite: watch %s: %w", s.CacheFile, err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *Settings) stopWatch() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

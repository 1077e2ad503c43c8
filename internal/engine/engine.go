// Package engine implements the entry engine (C4) and the eviction
// driver (C5): upsert, expiry-extending read, peek, bulk read, contains,
// count, remove, clear, and the inline eviction trigger. It is grounded
// on the teacher's DoltStore SQL-wrapping idiom
// (internal/storage/dolt/store.go execContext/queryContext/
// queryRowContext: one OTel span per statement, server-mode retry,
// lock-error wrapping) generalized from the issue-tracker schema to the
// cache schema of spec.md §3.1.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilkerhalil/kvlite/internal/codec"
	"github.com/ilkerhalil/kvlite/internal/dialect/retry"
	"github.com/ilkerhalil/kvlite/internal/entry"
	"github.com/ilkerhalil/kvlite/internal/hash"
	"github.com/ilkerhalil/kvlite/internal/logging"
	"github.com/ilkerhalil/kvlite/internal/pool"
)

// ErrEncode wraps value-encoding failures from Add so callers can
// distinguish the one write-path error the façade re-raises (spec.md
// §4.6 "add re-raises only if the value fails to serialize") from
// storage failures, via errors.Is(err, ErrEncode).
var ErrEncode = errors.New("engine: encode value")

var tracer = otel.Tracer("github.com/ilkerhalil/kvlite/engine")

var metrics struct {
	retryCount    metric.Int64Counter
	evictionRuns  metric.Int64Counter
	evictedRows   metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/ilkerhalil/kvlite/engine")
	metrics.retryCount, _ = m.Int64Counter("kvlite.db.retry_count",
		metric.WithDescription("SQL operations retried due to server-mode transient errors"),
		metric.WithUnit("{retry}"))
	metrics.evictionRuns, _ = m.Int64Counter("kvlite.eviction.runs",
		metric.WithDescription("Eviction driver invocations"),
		metric.WithUnit("{run}"))
	metrics.evictedRows, _ = m.Int64Counter("kvlite.eviction.rows",
		metric.WithDescription("Rows removed by the eviction driver"),
		metric.WithUnit("{row}"))
}

// ClearMode selects clear's expiry behavior (spec.md §4.4).
type ClearMode int

const (
	// ConsiderExpiry removes only rows whose utcExpiry has passed.
	ConsiderExpiry ClearMode = iota
	// IgnoreExpiry removes every row matching the partition filter.
	IgnoreExpiry
)

// Config configures an Engine.
type Config struct {
	Pool                          *pool.Pool
	Codec                         *codec.Codec
	Clock                         codec.Clock
	Log                           logging.Log
	InsertionCountBeforeAutoClean int64
	// RetryEnabled turns on server-mode transient-error retry
	// (internal/dialect/retry), matching the teacher's serverMode flag.
	RetryEnabled bool
}

// Engine implements the entry engine and eviction driver over one open
// backend.
type Engine struct {
	pool   *pool.Pool
	codec  *codec.Codec
	clock  codec.Clock
	log    logging.Log
	retry  bool
	evictAt int64

	insertionCounter atomicCounter
}

// New constructs an Engine. insertionCountBeforeAutoClean <= 0 falls
// back to the spec.md §4.7 default of 64.
func New(cfg Config) *Engine {
	threshold := cfg.InsertionCountBeforeAutoClean
	if threshold <= 0 {
		threshold = 64
	}
	log := cfg.Log
	if log == nil {
		log = logging.NopLog{}
	}
	return &Engine{
		pool:    cfg.Pool,
		codec:   cfg.Codec,
		clock:   cfg.Clock,
		log:     log,
		retry:   cfg.RetryEnabled,
		evictAt: threshold,
	}
}

func (e *Engine) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", e.pool.Dialect.Name), attribute.String("db.operation", op), attribute.String("db.statement", spanSQL(query))))
	defer span.End()

	var result sql.Result
	err := retry.Do(ctx, e.retry, metrics.retryCount, func() error {
		var execErr error
		result, execErr = e.pool.DB().ExecContext(ctx, query, args...)
		return execErr
	})
	recordErr(span, err)
	return result, err
}

func (e *Engine) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", e.pool.Dialect.Name), attribute.String("db.operation", op), attribute.String("db.statement", spanSQL(query))))
	defer span.End()

	var rows *sql.Rows
	err := retry.Do(ctx, e.retry, metrics.retryCount, func() error {
		var queryErr error
		rows, queryErr = e.pool.DB().QueryContext(ctx, query, args...)
		return queryErr
	})
	recordErr(span, err)
	return rows, err
}

func (e *Engine) queryRow(ctx context.Context, op, query string, scan func(*sql.Row) error, args ...any) error {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", e.pool.Dialect.Name), attribute.String("db.operation", op), attribute.String("db.statement", spanSQL(query))))
	defer span.End()

	err := retry.Do(ctx, e.retry, metrics.retryCount, func() error {
		return scan(e.pool.DB().QueryRowContext(ctx, query, args...))
	})
	recordErr(span, err)
	return err
}

func recordErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

// Add upserts a row (spec.md §4.4 "Add (upsert) semantics").
func (e *Engine) Add(ctx context.Context, partition, key string, value any, utcExpiry, interval int64, parents []string) error {
	partition, key, interval = entry.Normalize(partition, key, interval)
	if len(parents) > e.pool.Dialect.MaxParentKeys {
		return fmt.Errorf("engine: %d parent keys exceeds backend limit %d", len(parents), e.pool.Dialect.MaxParentKeys)
	}

	data, compressed, err := e.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	h := hash.Of(partition, key)
	now := e.clock.NowUnixSeconds()

	args := []any{h, partition, key, now, utcExpiry, interval, compressed, data}
	for i := 0; i < e.pool.Dialect.MaxParentKeys; i++ {
		if i < len(parents) {
			args = append(args, hash.Of(partition, parents[i]), parents[i])
		} else {
			args = append(args, nil, nil)
		}
	}

	if _, err := e.exec(ctx, "add", e.pool.Dialect.UpsertEntry, args...); err != nil {
		return fmt.Errorf("engine: upsert: %w", err)
	}

	if e.insertionCounter.increment() >= e.evictAt {
		e.insertionCounter.reset()
		if err := e.Evict(ctx); err != nil {
			e.log.Warnf("eviction after insertion threshold failed: %v", err)
		}
	}
	return nil
}

// Get performs the expiry-extending read (spec.md §4.4 "Get semantics").
// It returns ok=false when the row is absent or its stored value cannot
// be decoded (in which case the offending row is removed).
func (e *Engine) Get(ctx context.Context, partition, key string, out any) (ok bool, err error) {
	ent, ok, err := e.GetItem(ctx, partition, key)
	if err != nil || !ok {
		return false, err
	}
	if derr := e.codec.Decode(ctx, ent.Value, ent.Compressed, out); derr != nil {
		e.log.Warnf("decode failed for %s/%s, removing: %v", partition, key, derr)
		_, _ = e.exec(ctx, "remove-corrupt", e.pool.Dialect.DeleteEntry, partition, key)
		return false, nil
	}
	return true, nil
}

// GetItem is Get but returns the full Entry (metadata + raw value).
func (e *Engine) GetItem(ctx context.Context, partition, key string) (*entry.Entry, bool, error) {
	now := e.clock.NowUnixSeconds()
	var ent *entry.Entry
	err := e.queryRow(ctx, "get", e.pool.Dialect.GetEntry, func(row *sql.Row) error {
		var scanErr error
		ent, scanErr = scanEntryRow(row, e.pool.Dialect.MaxParentKeys)
		return scanErr
	}, partition, key, now)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("engine: get: %w", err)
	}

	if ent.Lifetime() == entry.Sliding {
		newExpiry := now + ent.Interval
		// Optimistic, guarded by the observed utcExpiry (spec.md §4.4
		// point 2). Losing the race is fine: the caller still gets the
		// value it already read.
		_, _ = e.exec(ctx, "extend-expiry", e.pool.Dialect.ExtendExpiry, newExpiry, ent.Hash, ent.UTCExpiry)
		ent.UTCExpiry = newExpiry
	}
	return ent, true, nil
}

// Peek reads without extending expiry (spec.md §4.4 "Peek semantics").
func (e *Engine) Peek(ctx context.Context, partition, key string, out any) (ok bool, err error) {
	ent, ok, err := e.PeekItem(ctx, partition, key)
	if err != nil || !ok {
		return false, err
	}
	if derr := e.codec.Decode(ctx, ent.Value, ent.Compressed, out); derr != nil {
		e.log.Warnf("decode failed for %s/%s, removing: %v", partition, key, derr)
		_, _ = e.exec(ctx, "remove-corrupt", e.pool.Dialect.DeleteEntry, partition, key)
		return false, nil
	}
	return true, nil
}

// PeekItem is Peek but returns the full Entry.
func (e *Engine) PeekItem(ctx context.Context, partition, key string) (*entry.Entry, bool, error) {
	now := e.clock.NowUnixSeconds()
	var ent *entry.Entry
	err := e.queryRow(ctx, "peek", e.pool.Dialect.PeekEntry, func(row *sql.Row) error {
		var scanErr error
		ent, scanErr = scanEntryRow(row, e.pool.Dialect.MaxParentKeys)
		return scanErr
	}, partition, key, now)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("engine: peek: %w", err)
	}
	return ent, true, nil
}

// GetMany reads all non-expired entries for partition (empty = all
// partitions) and then extends expiry for sliding entries (spec.md §4.4
// "Bulk operations"). The read and the guarded ExtendExpiry updates are
// separate statements, not one transaction, and a failed update is
// ignored. Values are returned undecoded; decoding, and removing rows that
// fail to decode, is left to the caller.
func (e *Engine) GetMany(ctx context.Context, partition string) ([]*entry.Entry, error) {
	entries, err := e.bulkRead(ctx, partition, true)
	if err != nil {
		return nil, err
	}
	return e.extendAndFilter(ctx, entries)
}

// PeekMany is GetMany without expiry extension.
func (e *Engine) PeekMany(ctx context.Context, partition string) ([]*entry.Entry, error) {
	return e.bulkRead(ctx, partition, false)
}

func (e *Engine) bulkRead(ctx context.Context, partition string, extend bool) ([]*entry.Entry, error) {
	now := e.clock.NowUnixSeconds()
	var stmt string
	var args []any
	if partition == "" {
		if extend {
			stmt = e.pool.Dialect.GetAll
		} else {
			stmt = e.pool.Dialect.PeekAll
		}
		args = []any{now}
	} else {
		if extend {
			stmt = e.pool.Dialect.GetByPartition
		} else {
			stmt = e.pool.Dialect.PeekByPartition
		}
		args = []any{partition, now}
	}

	op := "peek-many"
	if extend {
		op = "get-many"
	}
	rows, err := e.query(ctx, op, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*entry.Entry
	for rows.Next() {
		ent, err := scanEntryRows(rows, e.pool.Dialect.MaxParentKeys)
		if err != nil {
			return nil, fmt.Errorf("engine: %s scan: %w", op, err)
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func (e *Engine) extendAndFilter(ctx context.Context, entries []*entry.Entry) ([]*entry.Entry, error) {
	now := e.clock.NowUnixSeconds()
	for _, ent := range entries {
		if ent.Lifetime() == entry.Sliding {
			newExpiry := now + ent.Interval
			_, _ = e.exec(ctx, "extend-expiry", e.pool.Dialect.ExtendExpiry, newExpiry, ent.Hash, ent.UTCExpiry)
			ent.UTCExpiry = newExpiry
		}
	}
	return entries, nil
}

// Contains reports whether a non-expired row exists for (partition,
// key).
func (e *Engine) Contains(ctx context.Context, partition, key string) (bool, error) {
	now := e.clock.NowUnixSeconds()
	var n int
	err := e.queryRow(ctx, "contains", e.pool.Dialect.ContainsEntry, func(row *sql.Row) error {
		return row.Scan(&n)
	}, partition, key, now)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("engine: contains: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of non-expired rows, optionally filtered by
// partition (spec.md §4.4 "Count/contains").
func (e *Engine) Count(ctx context.Context, partition string) (int64, error) {
	now := e.clock.NowUnixSeconds()
	stmt := e.pool.Dialect.CountAll
	args := []any{now}
	if partition != "" {
		stmt = e.pool.Dialect.CountByPartition
		args = []any{partition, now}
	}
	var n int64
	err := e.queryRow(ctx, "count", stmt, func(row *sql.Row) error { return row.Scan(&n) }, args...)
	if err != nil {
		return 0, fmt.Errorf("engine: count: %w", err)
	}
	return n, nil
}

// Remove deletes the row for (partition, key); the schema's FK cascades
// to any dependent rows (spec.md §3.1 invariant 4).
func (e *Engine) Remove(ctx context.Context, partition, key string) error {
	if _, err := e.exec(ctx, "remove", e.pool.Dialect.DeleteEntry, partition, key); err != nil {
		return fmt.Errorf("engine: remove: %w", err)
	}
	return nil
}

// Clear removes rows matching partition (empty = all partitions) per
// mode, returning the number of rows removed.
func (e *Engine) Clear(ctx context.Context, partition string, mode ClearMode) (int64, error) {
	if mode == ConsiderExpiry {
		if partition == "" {
			return e.evictWithCount(ctx)
		}
		now := e.clock.NowUnixSeconds()
		res, err := e.exec(ctx, "clear-expired-partition", e.pool.Dialect.DeleteExpiredByPartition, partition, now)
		if err != nil {
			return 0, fmt.Errorf("engine: clear: %w", err)
		}
		return res.RowsAffected()
	}

	stmt := e.pool.Dialect.DeleteAll
	var args []any
	if partition != "" {
		stmt = e.pool.Dialect.DeleteAllByPartition
		args = []any{partition}
	}
	res, err := e.exec(ctx, "clear", stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("engine: clear: %w", err)
	}
	return res.RowsAffected()
}

// Evict runs the eviction driver (C5): one bulk delete of expired rows
// across all partitions, relying on FK cascade for dependents (spec.md
// §4.5).
func (e *Engine) Evict(ctx context.Context) error {
	_, err := e.evictWithCount(ctx)
	return err
}

func (e *Engine) evictWithCount(ctx context.Context) (int64, error) {
	now := e.clock.NowUnixSeconds()
	res, err := e.exec(ctx, "evict", e.pool.Dialect.DeleteExpired, now)
	metrics.evictionRuns.Add(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("engine: evict: %w", err)
	}
	n, _ := res.RowsAffected()
	metrics.evictedRows.Add(ctx, n)
	return n, nil
}

// InsertionCount returns the current value of the per-process insertion
// counter driving the eviction trigger (SPEC_FULL.md §D.2 Stats).
func (e *Engine) InsertionCount() int64 {
	return e.insertionCounter.load()
}

// CacheSize returns occupied bytes if the dialect supports the probe,
// or (0, false) otherwise (spec.md §4.3 "(optional)").
func (e *Engine) CacheSize(ctx context.Context) (int64, bool, error) {
	if e.pool.Dialect.CacheSizeQuery == "" {
		return 0, false, nil
	}
	var n int64
	err := e.queryRow(ctx, "cache-size", e.pool.Dialect.CacheSizeQuery, func(row *sql.Row) error { return row.Scan(&n) })
	if err != nil {
		return 0, false, fmt.Errorf("engine: cache size: %w", err)
	}
	return n, true, nil
}

// Vacuum reclaims space if the dialect supports it (spec.md §4.3
// "(optional)").
func (e *Engine) Vacuum(ctx context.Context) error {
	if e.pool.Dialect.Vacuum == "" {
		return nil
	}
	_, err := e.exec(ctx, "vacuum", e.pool.Dialect.Vacuum)
	return err
}

package kvlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ilkerhalil/kvlite/internal/codec"
	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/engine"
	"github.com/ilkerhalil/kvlite/internal/entry"
	"github.com/ilkerhalil/kvlite/internal/logging"
	"github.com/ilkerhalil/kvlite/internal/pool"
)

// ClearMode selects Clear's expiry behavior (spec.md §4.4).
type ClearMode = engine.ClearMode

const (
	// ConsiderExpiry removes only rows whose expiry has already passed.
	ConsiderExpiry = engine.ConsiderExpiry
	// IgnoreExpiry removes every row matching the partition filter.
	IgnoreExpiry = engine.IgnoreExpiry
)

// Item is an entry together with its metadata, returned by GetItem/PeekItem
// (spec.md §4.6 "getItem<T> / peekItem<T>").
type Item[T any] struct {
	Value       T
	UTCCreation int64
	UTCExpiry   int64
	Interval    int64
}

// Stats is a point-in-time operational snapshot (SPEC_FULL.md §D.2).
type Stats struct {
	EntryCount       int64
	LastError        error
	InsertionCounter int64
}

// Cache is the public façade (C6): partition/key API, sliding/static/timed
// add variants, get-or-add, and validation/error-swallowing per spec.md
// §4.6/§7. The zero value is not usable; construct one with Open.
type Cache struct {
	settings *Settings
	pool     *pool.Pool
	dialect  *dialect.Dialect
	engine   *engine.Engine
	log      logging.Log

	sf singleflight.Group

	closed    atomic.Bool
	lastErrMu sync.Mutex
	lastErr   error
}

// Open builds a Cache from settings: renders the configured Backend's
// dialect, opens the connection pool, and runs schema bootstrap (spec.md
// §4.3 "Schema lifecycle"). settings is copied by reference and retained;
// mutate it only via Reconfigure-aware callers.
func Open(ctx context.Context, settings *Settings) (*Cache, error) {
	if settings == nil {
		settings = &Settings{}
	}
	p, d, err := settings.Reconfigure(ctx)
	if err != nil {
		return nil, err
	}
	settings.normalize()

	c := &Cache{
		settings: settings,
		pool:     p,
		dialect:  d,
		log:      settings.Log,
	}
	c.engine = engine.New(engine.Config{
		Pool:                          p,
		Codec:                         codec.New(settings.Serializer, settings.Compressor, settings.MinValueLengthForCompression),
		Clock:                         settings.Clock,
		Log:                           settings.Log,
		InsertionCountBeforeAutoClean: settings.InsertionCountBeforeAutoClean,
		RetryEnabled:                  settings.RetryEnabled,
	})

	if err := settings.startWatch(func() { c.reconfigureFromWatch(ctx) }); err != nil {
		_ = p.Close()
		return nil, err
	}

	return c, nil
}

// reconfigureFromWatch is the Settings.WatchForExternalChanges callback;
// failures are logged, not raised, since it runs off the caller's
// goroutine (SPEC_FULL.md §A.3).
func (c *Cache) reconfigureFromWatch(ctx context.Context) {
	p, d, err := c.settings.Reconfigure(ctx)
	if err != nil {
		c.log.Errorf("reconfigure after external change: %v", err)
		return
	}
	old := c.pool
	c.pool = p
	c.dialect = d
	c.engine = engine.New(engine.Config{
		Pool:                          p,
		Codec:                         codec.New(c.settings.Serializer, c.settings.Compressor, c.settings.MinValueLengthForCompression),
		Clock:                         c.settings.Clock,
		Log:                           c.settings.Log,
		InsertionCountBeforeAutoClean: c.settings.InsertionCountBeforeAutoClean,
		RetryEnabled:                  c.settings.RetryEnabled,
	})
	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Warnf("close previous pool after reconfigure: %v", err)
		}
	}
}

func (c *Cache) checkOpen() error {
	if c.closed.Load() {
		return ErrObjectDisposed
	}
	return nil
}

func (c *Cache) setLastErr(err error) {
	c.lastErrMu.Lock()
	c.lastErr = err
	c.lastErrMu.Unlock()
}

// LastError returns the most recent swallowed storage error, or nil if
// none has occurred since Open (spec.md §7 "lastError").
func (c *Cache) LastError() error {
	c.lastErrMu.Lock()
	defer c.lastErrMu.Unlock()
	return c.lastErr
}

func (c *Cache) partitionOrDefault(partition string) (string, error) {
	if partition == reservedInternalPartition {
		return "", fmt.Errorf("%w: partition is reserved", ErrInvalidArgument)
	}
	if partition == "" {
		return c.settings.DefaultPartition, nil
	}
	return partition, nil
}

func validateParents(parents []string) error {
	if len(parents) > entry.MaxParentKeys {
		return fmt.Errorf("%w: %d parent keys exceeds limit %d", ErrInvalidArgument, len(parents), entry.MaxParentKeys)
	}
	return nil
}

// AddSliding upserts value with utcExpiry = now + interval; every read
// within the window resets utcExpiry to now + interval (spec.md §4.6).
func (c *Cache) AddSliding(ctx context.Context, partition, key string, value any, intervalSeconds int64, parents ...string) error {
	return c.add(ctx, partition, key, value, c.settings.Clock.NowUnixSeconds()+intervalSeconds, intervalSeconds, parents)
}

// AddStatic upserts value with interval = Settings.StaticIntervalDays
// (default 30 days); behaves like AddSliding with a long default window
// (spec.md §4.6).
func (c *Cache) AddStatic(ctx context.Context, partition, key string, value any, parents ...string) error {
	return c.add(ctx, partition, key, value, -1, c.settings.staticIntervalSeconds(), parents)
}

// AddTimed upserts value with a fixed absolute expiry and interval = 0;
// reads never extend it (spec.md §4.6).
func (c *Cache) AddTimed(ctx context.Context, partition, key string, value any, utcExpiry int64, parents ...string) error {
	return c.add(ctx, partition, key, value, utcExpiry, 0, parents)
}

func (c *Cache) add(ctx context.Context, partition, key string, value any, utcExpiry, interval int64, parents []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	if value == nil {
		return fmt.Errorf("%w: value must not be nil", ErrInvalidArgument)
	}
	if err := validateParents(parents); err != nil {
		return err
	}
	partition, err := c.partitionOrDefault(partition)
	if err != nil {
		return err
	}
	if interval > 0 && utcExpiry < 0 {
		utcExpiry = c.settings.Clock.NowUnixSeconds() + interval
	}

	if err := c.engine.Add(ctx, partition, key, value, utcExpiry, interval, parents); err != nil {
		// Serialization failures are the one write-path error the
		// façade re-raises (spec.md §4.6 "re-raises only if the value
		// fails to serialize"); everything else is a storage failure,
		// swallowed per spec.md §7.
		if errors.Is(err, engine.ErrEncode) {
			return err
		}
		c.setLastErr(wrapStorageErr("add", err))
		c.log.Warnf("add %s/%s: %v", partition, key, err)
		return nil
	}
	return nil
}

// Get performs the expiry-extending read and decodes into a T (spec.md
// §4.6 "get<T>"). Reads never fail observably: a storage error returns
// ok=false with LastError set; a value that fails to decode is logged,
// its row removed, and ok=false returned without touching LastError.
func Get[T any](ctx context.Context, c *Cache, partition, key string) (value T, ok bool) {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return value, false
	}
	partition, err := c.partitionOrDefault(partition)
	if err != nil {
		c.setLastErr(err)
		return value, false
	}
	found, err := c.engine.Get(ctx, partition, key, &value)
	if err != nil {
		c.setLastErr(wrapStorageErr("get", err))
		c.log.Warnf("get %s/%s: %v", partition, key, err)
		return value, false
	}
	return value, found
}

// GetFromDefaultPartition is Get using Settings.DefaultPartition (spec.md
// §4.6 "getFromDefaultPartition<T>").
func GetFromDefaultPartition[T any](ctx context.Context, c *Cache, key string) (value T, ok bool) {
	return Get[T](ctx, c, "", key)
}

// Peek is Get without extending expiry (spec.md §4.6).
func Peek[T any](ctx context.Context, c *Cache, partition, key string) (value T, ok bool) {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return value, false
	}
	partition, err := c.partitionOrDefault(partition)
	if err != nil {
		c.setLastErr(err)
		return value, false
	}
	found, err := c.engine.Peek(ctx, partition, key, &value)
	if err != nil {
		c.setLastErr(wrapStorageErr("peek", err))
		c.log.Warnf("peek %s/%s: %v", partition, key, err)
		return value, false
	}
	return value, found
}

// GetItem is Get but returns metadata alongside the decoded value
// (spec.md §4.6 "getItem<T>").
func GetItem[T any](ctx context.Context, c *Cache, partition, key string) (Item[T], bool) {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return Item[T]{}, false
	}
	partition, perr := c.partitionOrDefault(partition)
	if perr != nil {
		c.setLastErr(perr)
		return Item[T]{}, false
	}
	ent, ok, err := c.engine.GetItem(ctx, partition, key)
	if err != nil {
		c.setLastErr(wrapStorageErr("getItem", err))
		c.log.Warnf("getItem %s/%s: %v", partition, key, err)
		return Item[T]{}, false
	}
	if !ok {
		return Item[T]{}, false
	}
	var v T
	if err := c.decode(ctx, ent, &v); err != nil {
		return Item[T]{}, false
	}
	return Item[T]{Value: v, UTCCreation: ent.UTCCreation, UTCExpiry: ent.UTCExpiry, Interval: ent.Interval}, true
}

// PeekItem is GetItem without extending expiry (spec.md §4.6).
func PeekItem[T any](ctx context.Context, c *Cache, partition, key string) (Item[T], bool) {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return Item[T]{}, false
	}
	partition, perr := c.partitionOrDefault(partition)
	if perr != nil {
		c.setLastErr(perr)
		return Item[T]{}, false
	}
	ent, ok, err := c.engine.PeekItem(ctx, partition, key)
	if err != nil {
		c.setLastErr(wrapStorageErr("peekItem", err))
		c.log.Warnf("peekItem %s/%s: %v", partition, key, err)
		return Item[T]{}, false
	}
	if !ok {
		return Item[T]{}, false
	}
	var v T
	if err := c.decode(ctx, ent, &v); err != nil {
		return Item[T]{}, false
	}
	return Item[T]{Value: v, UTCCreation: ent.UTCCreation, UTCExpiry: ent.UTCExpiry, Interval: ent.Interval}, true
}

func (c *Cache) decode(ctx context.Context, ent *entry.Entry, out any) error {
	cdc := codec.New(c.settings.Serializer, c.settings.Compressor, c.settings.MinValueLengthForCompression)
	if err := cdc.Decode(ctx, ent.Value, ent.Compressed, out); err != nil {
		c.log.Warnf("decode %s/%s: %v", ent.Partition, ent.Key, err)
		_ = c.engine.Remove(ctx, ent.Partition, ent.Key)
		return err
	}
	return nil
}

// GetMany reads every non-expired entry for partition (empty = every
// partition), extending expiry for sliding entries, and decodes each into
// a T (spec.md §4.6 "getMany<T>"). Entries that fail to decode are
// silently dropped and removed.
func GetMany[T any](ctx context.Context, c *Cache, partition string) []T {
	return bulkDecode[T](ctx, c, partition, true)
}

// PeekMany is GetMany without expiry extension (spec.md §4.6).
func PeekMany[T any](ctx context.Context, c *Cache, partition string) []T {
	return bulkDecode[T](ctx, c, partition, false)
}

func bulkDecode[T any](ctx context.Context, c *Cache, partition string, extend bool) []T {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return nil
	}
	var entries []*entry.Entry
	var err error
	if extend {
		entries, err = c.engine.GetMany(ctx, partition)
	} else {
		entries, err = c.engine.PeekMany(ctx, partition)
	}
	if err != nil {
		c.setLastErr(wrapStorageErr("bulkRead", err))
		c.log.Warnf("bulk read %s: %v", partition, err)
		return nil
	}
	out := make([]T, 0, len(entries))
	for _, ent := range entries {
		var v T
		if err := c.decode(ctx, ent, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Contains reports whether a non-expired row exists for (partition, key)
// (spec.md §4.6).
func (c *Cache) Contains(ctx context.Context, partition, key string) bool {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return false
	}
	partition, perr := c.partitionOrDefault(partition)
	if perr != nil {
		c.setLastErr(perr)
		return false
	}
	ok, err := c.engine.Contains(ctx, partition, key)
	if err != nil {
		c.setLastErr(wrapStorageErr("contains", err))
		c.log.Warnf("contains %s/%s: %v", partition, key, err)
		return false
	}
	return ok
}

// Count returns the number of non-expired rows in partition, or across
// all partitions if partition is empty (spec.md §4.6).
func (c *Cache) Count(ctx context.Context, partition string) int64 {
	return c.LongCount(ctx, partition)
}

// LongCount is Count; both names are exposed since spec.md §4.6 lists
// "count, longCount" as a pair mirroring the source's 32/64-bit split,
// which Go's single int64 makes identical here.
func (c *Cache) LongCount(ctx context.Context, partition string) int64 {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return 0
	}
	n, err := c.engine.Count(ctx, partition)
	if err != nil {
		c.setLastErr(wrapStorageErr("count", err))
		c.log.Warnf("count %s: %v", partition, err)
		return 0
	}
	return n
}

// Remove deletes the row for (partition, key); the schema's cascading FK
// removes dependents (spec.md §3.1 invariant 4).
func (c *Cache) Remove(ctx context.Context, partition, key string) {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return
	}
	partition, perr := c.partitionOrDefault(partition)
	if perr != nil {
		c.setLastErr(perr)
		return
	}
	if err := c.engine.Remove(ctx, partition, key); err != nil {
		c.setLastErr(wrapStorageErr("remove", err))
		c.log.Warnf("remove %s/%s: %v", partition, key, err)
	}
}

// Clear removes rows matching partition (empty = all partitions) per
// mode, returning the number removed (spec.md §4.6).
func (c *Cache) Clear(ctx context.Context, partition string, mode ClearMode) int64 {
	if err := c.checkOpen(); err != nil {
		c.setLastErr(err)
		return 0
	}
	n, err := c.engine.Clear(ctx, partition, mode)
	if err != nil {
		c.setLastErr(wrapStorageErr("clear", err))
		c.log.Warnf("clear %s: %v", partition, err)
		return 0
	}
	return n
}

// GetOrAddTimed reads (partition, key); on a miss it invokes valueGetter
// exactly once even under concurrent callers for the same key
// (golang.org/x/sync/singleflight), upserts the result as timed, and
// returns it (spec.md §4.6 "getOrAddTimed<T>").
func GetOrAddTimed[T any](ctx context.Context, c *Cache, partition, key string, utcExpiry int64, valueGetter func(ctx context.Context) (T, error), parents ...string) (T, error) {
	var zero T
	if err := c.checkOpen(); err != nil {
		return zero, err
	}
	if v, ok := Get[T](ctx, c, partition, key); ok {
		return v, nil
	}

	sfKey, perr := c.partitionOrDefault(partition)
	if perr != nil {
		return zero, perr
	}
	sfKey = sfKey + "\x00" + key

	result, err, _ := c.sf.Do(sfKey, func() (any, error) {
		v, err := valueGetter(ctx)
		if err != nil {
			return zero, err
		}
		if err := c.AddTimed(ctx, partition, key, v, utcExpiry, parents...); err != nil {
			return zero, err
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

// Stats returns a point-in-time operational snapshot (SPEC_FULL.md §D.2).
func (c *Cache) Stats(ctx context.Context) Stats {
	return Stats{
		EntryCount:       c.LongCount(ctx, ""),
		LastError:        c.LastError(),
		InsertionCounter: c.engine.InsertionCount(),
	}
}

// Vacuum reclaims space on backends that support it, or returns
// ErrNotSupported (spec.md §4.3 "(optional)").
func (c *Cache) Vacuum(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.dialect.Vacuum == "" {
		return ErrNotSupported
	}
	return c.engine.Vacuum(ctx)
}

// CacheSize returns occupied bytes on backends that support the probe, or
// ErrNotSupported (spec.md §4.3 "(optional)").
func (c *Cache) CacheSize(ctx context.Context) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	n, ok, err := c.engine.CacheSize(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotSupported
	}
	return n, nil
}

// Close releases the connection pool (and, for the in-memory backend, the
// anchor connection that kept the store alive) and stops any file
// watcher. After Close, the Add* methods, GetOrAddTimed, Vacuum and
// CacheSize return ErrObjectDisposed; the other operations return their
// zero result and record ErrObjectDisposed in LastError (spec.md §5/§6).
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if werr := c.settings.stopWatch(); werr != nil {
		err = werr
	}
	if perr := c.pool.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Package query implements a keyed read cache with TTL staleness and
// per-key in-flight deduplication.
//
// A Cache is an explicit instance: consumers receive it by injection, and
// tests build a fresh one per case.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultGCTime is how long a successful fetch stays fresh.
const DefaultGCTime = 300_000 * time.Millisecond

// Fetcher performs one idempotent read.
type Fetcher func(ctx context.Context) (any, error)

// Updater computes the next cached value from the previous one.
type Updater func(prev any) any

// Validator may veto a direct cache write by returning false.
type Validator func(ctx context.Context, next any) (bool, error)

// SetValue returns an Updater that ignores the previous value.
func SetValue(v any) Updater {
	return func(any) any { return v }
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry is a point-in-time copy of one cache slot.
type Entry struct {
	Key          Key
	Data         any
	IsLoading    bool
	IsRefreshing bool
	IsError      bool
	Err          error
	LastFetch    time.Time
}

// Value extracts typed data from an entry.
func Value[T any](e Entry) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}

// Options describes one use of a key.
type Options struct {
	Key          Key
	Fn           Fetcher
	DisableCache bool
	// GCTime overrides the cache default when positive.
	GCTime time.Duration
	// Delay defers the initial fetch triggered by Use.
	Delay time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for staleness checks.
func WithClock(c Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cache *Cache) { cache.logger = l }
}

// WithDefaultGCTime sets the freshness window used when Options.GCTime is zero.
func WithDefaultGCTime(d time.Duration) Option {
	return func(cache *Cache) {
		if d > 0 {
			cache.gcTime = d
		}
	}
}

// Cache stores read results keyed by Key.
type Cache struct {
	clock  Clock
	logger *slog.Logger
	gcTime time.Duration
	flight singleflight.Group

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	entry   Entry
	hasData bool
	gen     uint64
	// flying is set while a fetch runs; flights numbers them so a flight
	// that finish has retired is never joined.
	flying  bool
	flights uint64
	subs    map[*Subscription]struct{}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		clock:   realClock{},
		logger:  slog.Default(),
		gcTime:  DefaultGCTime,
		records: make(map[string]*record),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch serves the cached entry for opts.Key, fetching first when the entry
// has no data, caching is disabled, or the last fetch is older than the GC
// time. Fetch errors are recorded on the entry and never returned.
//
// Concurrent callers for the same key share one call to opts.Fn. A caller
// whose ctx ends stops waiting and gets the current snapshot; the shared
// fetch keeps running.
func (c *Cache) Fetch(ctx context.Context, opts Options) Entry {
	ch := c.start(ctx, opts)
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	return c.snapshot(opts.Key)
}

// start applies the staleness gate and, when a fetch is due, flips the
// loading flags and joins or launches the key's flight. It returns nil when
// the cache is served as-is.
//
// Each flight has its own singleflight key. finish retires the number under
// c.mu, so a caller that passes the gate afterwards starts a new flight even
// while singleflight still holds the old one.
func (c *Cache) start(ctx context.Context, opts Options) <-chan singleflight.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.ensureLocked(opts.Key)
	if !c.staleLocked(rec, opts) {
		return nil
	}
	if !rec.flying {
		rec.flying = true
		rec.flights++
	}
	flight := flightKey(opts.Key, rec.flights)

	if rec.hasData {
		rec.entry.IsRefreshing = true
	} else {
		rec.entry.IsLoading = true
	}
	rec.entry.IsError = false
	rec.entry.Err = nil
	c.notifyLocked(rec)

	fn := opts.Fn
	key := opts.Key
	return c.flight.DoChan(flight, func() (any, error) {
		data, err := call(ctx, fn)
		c.finish(key, data, err)
		return nil, nil
	})
}

func flightKey(key Key, n uint64) string {
	return key.String() + "#" + strconv.FormatUint(n, 10)
}

func (c *Cache) staleLocked(rec *record, opts Options) bool {
	if opts.Fn == nil {
		return false
	}
	if !rec.hasData || opts.DisableCache {
		return true
	}
	gc := opts.GCTime
	if gc <= 0 {
		gc = c.gcTime
	}
	return c.clock.Now().Sub(rec.entry.LastFetch) > gc
}

func (c *Cache) finish(key Key, data any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.ensureLocked(key)
	rec.flying = false
	rec.entry.IsLoading = false
	rec.entry.IsRefreshing = false
	rec.gen++

	if err != nil {
		rec.entry.IsError = true
		rec.entry.Err = err
		c.logger.Warn("query fetch failed", "key", key.String(), "error", err)
	} else {
		rec.entry.Data = data
		rec.hasData = true
		rec.entry.IsError = false
		rec.entry.Err = nil
		rec.entry.LastFetch = c.clock.Now()
		c.logger.Debug("query fetched", "key", key.String())
	}
	c.notifyLocked(rec)
}

func call(ctx context.Context, fn Fetcher) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// SetQueryData writes a key's value directly. update receives the current
// value (nil when absent); a nil update keeps it. When validate returns false
// the write is dropped and the previous value is returned with written=false.
// A validator error also drops the write and is returned.
//
// Writes are compare-and-swap on a per-key generation: if the entry changes
// while the validator runs, the update is recomputed from the new value.
func (c *Cache) SetQueryData(ctx context.Context, key Key, update Updater, validate Validator) (value any, written bool, err error) {
	for {
		c.mu.Lock()
		rec := c.ensureLocked(key)
		prev, gen := rec.entry.Data, rec.gen
		c.mu.Unlock()

		next := prev
		if update != nil {
			next = update(prev)
		}

		if validate != nil {
			ok, err := validate(ctx, next)
			if err != nil {
				return prev, false, fmt.Errorf("validating %s: %w", key, err)
			}
			if !ok {
				return prev, false, nil
			}
		}

		c.mu.Lock()
		if rec.gen != gen {
			c.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return prev, false, err
			}
			continue
		}
		rec.entry.Data = next
		rec.hasData = true
		rec.entry.IsError = false
		rec.entry.Err = nil
		if rec.entry.LastFetch.IsZero() {
			rec.entry.LastFetch = c.clock.Now()
		}
		rec.gen++
		c.notifyLocked(rec)
		c.mu.Unlock()
		return next, true, nil
	}
}

// Put stores v as an authoritative value, as if it had just been fetched:
// unlike SetQueryData it always restamps LastFetch.
func (c *Cache) Put(key Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.ensureLocked(key)
	rec.entry.Data = v
	rec.hasData = true
	rec.entry.IsError = false
	rec.entry.Err = nil
	rec.entry.LastFetch = c.clock.Now()
	rec.gen++
	c.notifyLocked(rec)
}

// Get returns the entry for key if it exists.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.String()]
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// Remove drops a key's data. Entries with live subscriptions are reset to
// empty instead of deleted so subscribers keep receiving changes.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.String()]
	if !ok {
		return
	}
	if len(rec.subs) == 0 {
		delete(c.records, key.String())
		return
	}
	rec.entry = Entry{Key: key}
	rec.hasData = false
	rec.gen++
	c.notifyLocked(rec)
}

// Keys lists cached keys in canonical order.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.records))
	for _, rec := range c.records {
		keys = append(keys, rec.entry.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (c *Cache) snapshot(key Key) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(key).entry
}

func (c *Cache) ensureLocked(key Key) *record {
	id := key.String()
	rec, ok := c.records[id]
	if !ok {
		rec = &record{entry: Entry{Key: key}, subs: make(map[*Subscription]struct{})}
		c.records[id] = rec
	}
	return rec
}

func (c *Cache) notifyLocked(rec *record) {
	for s := range rec.subs {
		select {
		case s.changes <- struct{}{}:
		default:
		}
	}
}

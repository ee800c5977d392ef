package query

import (
	"context"
	"sync"
	"time"
)

// Subscription is one consumer's live view of a key. All subscriptions to
// the same key observe the same entry.
type Subscription struct {
	cache   *Cache
	opts    Options
	changes chan struct{}

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// Use attaches a subscriber to opts.Key and triggers the initial gated
// fetch, after opts.Delay when set. It returns immediately; watch Changes
// and read Snapshot to follow the entry. ctx is handed to opts.Fn if this
// subscription starts the fetch.
func (c *Cache) Use(ctx context.Context, opts Options) *Subscription {
	s := &Subscription{
		cache:   c,
		opts:    opts,
		changes: make(chan struct{}, 1),
	}

	c.mu.Lock()
	c.ensureLocked(opts.Key).subs[s] = struct{}{}
	c.mu.Unlock()

	if opts.Delay > 0 {
		s.mu.Lock()
		s.timer = time.AfterFunc(opts.Delay, func() {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				c.start(ctx, opts)
			}
		})
		s.mu.Unlock()
		return s
	}

	c.start(ctx, opts)
	return s
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key { return s.opts.Key }

// Snapshot returns the current entry.
func (s *Subscription) Snapshot() Entry {
	return s.cache.snapshot(s.opts.Key)
}

// Changes signals after every state change of the entry. Signals coalesce:
// a reader that falls behind sees one pending signal, then reads Snapshot.
func (s *Subscription) Changes() <-chan struct{} {
	return s.changes
}

// Refetch re-runs the staleness gate. It does not force a fetch of fresh
// data unless the options disable caching.
func (s *Subscription) Refetch(ctx context.Context) Entry {
	return s.cache.Fetch(ctx, s.opts)
}

// Close detaches the subscriber and cancels a pending delayed fetch.
// A fetch already in flight is not interrupted.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cache.mu.Lock()
	if rec, ok := s.cache.records[s.opts.Key.String()]; ok {
		delete(rec.subs, s)
	}
	s.cache.mu.Unlock()
}

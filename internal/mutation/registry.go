// Package mutation implements a registry of named mutations whose
// loading/error/data state is shared by every reader of the same key.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/rxdesk/internal/query"
)

var (
	// ErrNoHandler is returned by Submit when no registration owns the key.
	ErrNoHandler = errors.New("mutation: no handler registered")
	// ErrOwnerConflict is returned by Register when the key already has a live owner.
	ErrOwnerConflict = errors.New("mutation: key already has an owner")
)

// SubmitFunc performs the side effect.
type SubmitFunc func(ctx context.Context, payload any) (any, error)

// Handler is the owner's set of callbacks. OnSuccess and OnError are optional.
type Handler struct {
	OnSubmit  SubmitFunc
	OnSuccess func(data any)
	OnError   func(err error)
}

// State is a point-in-time copy of one mutation key.
type State struct {
	Key       query.Key
	Data      any
	IsLoading bool
	IsError   bool
	Err       error
	LastFetch time.Time
	// NoOwner is set when the last Submit found no registered handler.
	NoOwner bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used to stamp LastFetch.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry holds mutation handlers and their shared state.
type Registry struct {
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	state State
	owner *Registration
	subs  map[chan struct{}]struct{}
}

// Registration is a live claim on a mutation key.
type Registration struct {
	reg *Registry
	key query.Key

	mu      sync.Mutex
	handler Handler
	done    bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:  realClock{},
		logger: slog.Default(),
		slots:  make(map[string]*slot),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register claims key for h. A key has at most one owner; a second claim
// fails with ErrOwnerConflict until the first is unregistered.
func (r *Registry) Register(key query.Key, h Handler) (*Registration, error) {
	if h.OnSubmit == nil {
		return nil, fmt.Errorf("registering %s: OnSubmit is required", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slotLocked(key)
	if s.owner != nil {
		return nil, fmt.Errorf("registering %s: %w", key, ErrOwnerConflict)
	}
	reg := &Registration{reg: r, key: key, handler: h}
	s.owner = reg
	s.state.NoOwner = false
	return reg, nil
}

// Key returns the registered key.
func (g *Registration) Key() query.Key { return g.key }

// Rebind replaces the owner's callbacks. Submits already running keep the
// callbacks they started with.
func (g *Registration) Rebind(h Handler) {
	if h.OnSubmit == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Unregister releases the key. The key's state is kept.
func (g *Registration) Unregister() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.mu.Unlock()

	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	if s, ok := g.reg.slots[g.key.String()]; ok && s.owner == g {
		s.owner = nil
	}
}

func (g *Registration) current() Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handler
}

// Submit runs the owner's OnSubmit with payload and records the outcome on
// the key's shared state, then calls OnSuccess or OnError. The result and
// error are also returned to the caller. With no owner, Submit records
// NoOwner and returns ErrNoHandler without touching data or loading state.
func (r *Registry) Submit(ctx context.Context, key query.Key, payload any) (any, error) {
	r.mu.Lock()
	s := r.slotLocked(key)
	if s.owner == nil {
		s.state.NoOwner = true
		r.notifyLocked(s)
		r.mu.Unlock()
		r.logger.Warn("submit without handler", "key", key.String())
		return nil, ErrNoHandler
	}
	h := s.owner.current()
	s.state.IsLoading = true
	s.state.NoOwner = false
	r.notifyLocked(s)
	r.mu.Unlock()

	data, err := invoke(ctx, h.OnSubmit, payload)

	r.mu.Lock()
	if err != nil {
		s.state.IsError = true
		s.state.Err = err
	} else {
		s.state.Data = data
		s.state.IsError = false
		s.state.Err = nil
	}
	s.state.IsLoading = false
	s.state.LastFetch = r.clock.Now()
	r.notifyLocked(s)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("mutation failed", "key", key.String(), "error", err)
		if h.OnError != nil {
			h.OnError(err)
		}
		return nil, err
	}
	if h.OnSuccess != nil {
		h.OnSuccess(data)
	}
	return data, nil
}

// Go runs Submit in its own goroutine. The outcome is observable only
// through State, Subscribe and the handler callbacks.
func (r *Registry) Go(ctx context.Context, key query.Key, payload any) {
	go func() {
		_, _ = r.Submit(ctx, key, payload)
	}()
}

func invoke(ctx context.Context, fn SubmitFunc, payload any) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("submit panicked: %v", rec)
		}
	}()
	return fn(ctx, payload)
}

// State returns the current state for key.
func (r *Registry) State(key query.Key) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotLocked(key).state
}

// HasOwner reports whether key has a live registration.
func (r *Registry) HasOwner(key query.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key.String()]
	return ok && s.owner != nil
}

// Subscribe returns a channel signalled on every state change of key and a
// cancel func that releases it.
func (r *Registry) Subscribe(key query.Key) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	r.slotLocked(key).subs[ch] = struct{}{}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if s, ok := r.slots[key.String()]; ok {
			delete(s.subs, ch)
		}
	}
}

func (r *Registry) slotLocked(key query.Key) *slot {
	id := key.String()
	s, ok := r.slots[id]
	if !ok {
		s = &slot{state: State{Key: key}, subs: make(map[chan struct{}]struct{})}
		r.slots[id] = s
	}
	return s
}

func (r *Registry) notifyLocked(s *slot) {
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

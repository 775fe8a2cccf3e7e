// Package resource shares expensive backing handles (embedded database
// files, network clients, object store buckets) among many logical users.
//
// Handles are reference counted and keyed by a connection string. The first
// Acquire for a key opens the handle, later ones reuse it, and the last
// Release closes it. A failed open is never cached, so the next Acquire for
// the same key retries.
package resource

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/metrics"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Registry maps keys to open handles and their reference counts.
// All mutations, including the open and close calls themselves, happen
// under one mutex, so two callers can never hold two physical handles for
// the same key.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *slog.Logger
}

type entry struct {
	key    string
	handle io.Closer
	refs   int
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Default is the process-wide registry used when a component is not given one.
var Default = NewRegistry(slog.Default())

// OrDefault returns r, or Default when r is nil.
func OrDefault(r *Registry) *Registry {
	if r == nil {
		return Default
	}
	return r
}

// Shared is one reference to a shared handle.
type Shared[T io.Closer] struct {
	reg      *Registry
	ent      *entry
	value    T
	released atomic.Bool
}

// Value returns the shared handle. It must not be closed directly.
func (s *Shared[T]) Value() T {
	return s.value
}

// Key returns the key the handle is registered under.
func (s *Shared[T]) Key() string {
	return s.ent.key
}

// Release drops this reference. The handle is closed and evicted when the
// last reference is released. Releasing twice is a no-op.
func (s *Shared[T]) Release() error {
	if s.released.Swap(true) {
		return nil
	}
	return s.reg.release(s.ent)
}

// Close implements io.Closer by releasing the reference.
func (s *Shared[T]) Close() error {
	return s.Release()
}

// Acquire returns a reference to the handle registered under key, calling
// open to create it if no live handle exists.
func Acquire[T io.Closer](r *Registry, key string, open func() (T, error)) (*Shared[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		value, ok := e.handle.(T)
		if !ok {
			return nil, fmt.Errorf("%w: shared handle %q has type %T", interfaces.ErrConfiguration, key, e.handle)
		}
		e.refs++
		r.log.Debug("Reusing shared handle", slog.String("key", key), slog.Int("refs", e.refs))
		return &Shared[T]{reg: r, ent: e, value: value}, nil
	}

	value, err := open()
	if err != nil {
		r.log.Debug("Failed to open shared handle", slog.String("key", key), "err", err)
		return nil, err
	}

	e := &entry{key: key, handle: value, refs: 1}
	r.entries[key] = e
	metrics.Store.SharedHandles.Inc()
	r.log.Debug("Opened shared handle", slog.String("key", key))

	return &Shared[T]{reg: r, ent: e, value: value}, nil
}

func (r *Registry) release(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.closed {
		return nil
	}

	e.refs--
	if e.refs > 0 {
		r.log.Debug("Released shared handle", slog.String("key", e.key), slog.Int("refs", e.refs))
		return nil
	}

	return r.closeEntry(e)
}

// closeEntry must be called with r.mu held.
func (r *Registry) closeEntry(e *entry) error {
	e.closed = true
	if current, ok := r.entries[e.key]; ok && current == e {
		delete(r.entries, e.key)
	}
	metrics.Store.SharedHandles.Dec()

	if err := e.handle.Close(); err != nil {
		r.log.Error("Failed to close shared handle", slog.String("key", e.key), "err", err)
		return fmt.Errorf("closing shared handle %q: %w", e.key, err)
	}
	r.log.Debug("Closed shared handle", slog.String("key", e.key))
	return nil
}

// Shutdown closes every remaining handle regardless of its reference count.
// References still held become no-ops on Release.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		e := r.entries[k]
		if e.refs > 0 {
			r.log.Warn("Closing shared handle with live references", slog.String("key", k), slog.Int("refs", e.refs))
		}
		err = multierr.Append(err, r.closeEntry(e))
	}
	return err
}

// Len returns the number of open handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Refs returns the live reference count for key, zero if it is not open.
func (r *Registry) Refs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refs
	}
	return 0
}

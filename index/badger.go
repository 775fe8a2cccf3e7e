// Package index records chunk metadata in an embedded badger database and
// answers layer and tag queries with lazy cursors.
//
// Entries are keyed by chunk path. Because every chunk path starts with its
// normalized layer, a recursive layer query is a key prefix scan.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/kvstore"
	"github.com/ruteri/chunkstore/metrics"
	"github.com/ruteri/chunkstore/resource"
	"go.uber.org/atomic"
)

const entriesMap = "index"

// BadgerIndex implements interfaces.MetadataIndex on a shared badger database.
type BadgerIndex struct {
	db          *kvstore.DB
	entries     *kvstore.Map
	openCursors *atomic.Int64
	log         *slog.Logger
}

// NewBadgerIndex opens (or reuses) the index database at path.
// An empty path selects a private in-memory database.
func NewBadgerIndex(reg *resource.Registry, path string, compress bool, log *slog.Logger) (*BadgerIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		path = kvstore.MemoryPrefix + "index-" + uuid.NewString()
	}

	db, err := kvstore.Open(reg, path, compress, log)
	if err != nil {
		return nil, err
	}

	return &BadgerIndex{
		db:          db,
		entries:     db.Map(entriesMap),
		openCursors: atomic.NewInt64(0),
		log:         log,
	}, nil
}

// Path returns the database path of the index.
func (x *BadgerIndex) Path() string {
	return x.db.Path()
}

// Add records entry under its chunk path.
func (x *BadgerIndex) Add(ctx context.Context, entry interfaces.IndexEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidState, err)
	}
	return x.entries.Put(entry.Path, data)
}

// Get returns the entry recorded for path.
func (x *BadgerIndex) Get(ctx context.Context, path string) (interfaces.IndexEntry, error) {
	data, err := x.entries.Get(path)
	if err == kvstore.ErrNotFound {
		return interfaces.IndexEntry{}, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, path)
	}
	if err != nil {
		return interfaces.IndexEntry{}, err
	}
	return decodeEntry(path, data)
}

// Query returns a cursor over the entries below layer matching query.
// layer must be normalized ("/a/b/").
func (x *BadgerIndex) Query(ctx context.Context, query, layer string) (interfaces.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.openCursors.Inc()
	metrics.Store.OpenCursors.Inc()
	return &Cursor{
		it:    x.entries.Iterate(layer),
		query: ParseQuery(query),
		onClose: func() {
			x.openCursors.Dec()
			metrics.Store.OpenCursors.Dec()
		},
	}, nil
}

// Delete removes the entries of paths.
func (x *BadgerIndex) Delete(ctx context.Context, paths []string) error {
	return x.entries.Delete(paths...)
}

// OpenCursors returns the number of cursors that have not been closed.
func (x *BadgerIndex) OpenCursors() int64 {
	return x.openCursors.Load()
}

// Close releases this reference to the shared database.
func (x *BadgerIndex) Close() error {
	if n := x.openCursors.Load(); n > 0 {
		x.log.Warn("Closing index with open cursors", slog.Int64("cursors", n))
	}
	return x.db.Close()
}

// Cursor iterates lazily over matching index entries. It holds a read
// transaction until it is exhausted or closed. Not safe for concurrent use.
type Cursor struct {
	it      *kvstore.Iterator
	query   Query
	current interfaces.IndexEntry
	err     error
	closed  bool
	onClose func()
}

// Next advances to the next matching entry.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	for c.it.Next() {
		if err := ctx.Err(); err != nil {
			c.err = err
			c.Close()
			return false
		}

		data, err := c.it.Value()
		if err != nil {
			c.err = err
			c.Close()
			return false
		}
		entry, err := decodeEntry(c.it.Key(), data)
		if err != nil {
			c.err = err
			c.Close()
			return false
		}
		if c.query.MatchesEntry(entry) {
			c.current = entry
			return true
		}
	}
	c.Close()
	return false
}

// Meta returns the metadata of the current entry.
func (c *Cursor) Meta() interfaces.ChunkMeta {
	return c.current.Meta
}

// Path returns the chunk path of the current entry.
func (c *Cursor) Path() string {
	return c.current.Path
}

// Entry returns the complete current entry.
func (c *Cursor) Entry() interfaces.IndexEntry {
	return c.current
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the iterator and its read transaction.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Close()
	c.onClose()
	return nil
}

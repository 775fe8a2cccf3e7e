// Package kvstore wraps an embedded badger database shared through the
// resource registry and split into named maps.
//
// A database is identified by its directory and compression setting. Every
// Open for the same pair reuses one physical badger handle, and the handle
// is closed when the last DB referencing it is closed. Paths starting with
// "mem:" open an in-memory database shared under that name.
package kvstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"go.uber.org/atomic"
)

// MemoryPrefix marks in-memory database names.
const MemoryPrefix = "mem:"

// ErrNotFound is returned when a key does not exist in a map.
var ErrNotFound = errors.New("key not found")

// DB is one reference to a shared badger database.
type DB struct {
	shared        *resource.Shared[*badger.DB]
	path          string
	compress      bool
	openIterators *atomic.Int64
	log           *slog.Logger
}

// HandleKey returns the registry key of the database at path.
func HandleKey(path string, compress bool) string {
	return fmt.Sprintf("badger://%s##%t", path, compress)
}

// Open returns a reference to the database at path, opening it if no other
// reference exists. Parent directories are created as needed.
func Open(reg *resource.Registry, path string, compress bool, log *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is empty", interfaces.ErrConfiguration)
	}
	if log == nil {
		log = slog.Default()
	}

	shared, err := resource.Acquire(resource.OrDefault(reg), HandleKey(path, compress), func() (*badger.DB, error) {
		opts := badger.DefaultOptions(path).WithLogger(nil)
		if strings.HasPrefix(path, MemoryPrefix) {
			opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
		} else if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating database directory: %w", interfaces.ErrStorage, err)
		}

		if compress {
			opts = opts.WithCompression(options.ZSTD)
		} else {
			opts = opts.WithCompression(options.None)
		}

		log.Debug("Opening badger database", slog.String("path", path), slog.Bool("compress", compress))
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: opening badger database at %s: %w", interfaces.ErrStorage, path, err)
		}
		return db, nil
	})
	if err != nil {
		return nil, err
	}

	return &DB{
		shared:        shared,
		path:          path,
		compress:      compress,
		openIterators: atomic.NewInt64(0),
		log:           log,
	}, nil
}

// Path returns the database directory or in-memory name.
func (db *DB) Path() string {
	return db.path
}

// Map returns the named map inside the database.
func (db *DB) Map(name string) *Map {
	return &Map{db: db, prefix: []byte(name + "/")}
}

// OpenIterators returns the number of iterators created through this DB
// that have not been closed.
func (db *DB) OpenIterators() int64 {
	return db.openIterators.Load()
}

// Close releases this reference to the shared database.
func (db *DB) Close() error {
	return db.shared.Release()
}

func (db *DB) handle() *badger.DB {
	return db.shared.Value()
}

// Map is a key space inside a database, separated by a key prefix.
type Map struct {
	db     *DB
	prefix []byte
}

func (m *Map) key(k string) []byte {
	out := make([]byte, 0, len(m.prefix)+len(k))
	out = append(out, m.prefix...)
	return append(out, k...)
}

// Get returns a copy of the value stored under k.
func (m *Map) Get(k string) ([]byte, error) {
	var value []byte
	err := m.db.handle().View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.key(k))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading key %s: %w", interfaces.ErrStorage, k, err)
	}
	return value, nil
}

// Has reports whether k exists.
func (m *Map) Has(k string) (bool, error) {
	err := m.db.handle().View(func(txn *badger.Txn) error {
		_, err := txn.Get(m.key(k))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading key %s: %w", interfaces.ErrStorage, k, err)
	}
	return true, nil
}

// Put stores value under k.
func (m *Map) Put(k string, value []byte) error {
	err := m.db.handle().Update(func(txn *badger.Txn) error {
		return txn.Set(m.key(k), value)
	})
	if err != nil {
		return fmt.Errorf("%w: writing key %s: %w", interfaces.ErrStorage, k, err)
	}
	return nil
}

// Delete removes the given keys in one transaction. Missing keys are ignored.
func (m *Map) Delete(keys ...string) error {
	err := m.db.handle().Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(m.key(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting keys: %w", interfaces.ErrStorage, err)
	}
	return nil
}

// Iterate returns an iterator over the keys of the map starting with prefix,
// in key order. The iterator holds a read transaction until it is closed.
func (m *Map) Iterate(prefix string) *Iterator {
	full := m.key(prefix)
	txn := m.db.handle().NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := txn.NewIterator(opts)
	it.Seek(full)

	m.db.openIterators.Inc()
	return &Iterator{
		m:      m,
		txn:    txn,
		it:     it,
		prefix: full,
	}
}

// Iterator walks a key range of a map. Not safe for concurrent use.
type Iterator struct {
	m       *Map
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	closed  bool
}

// Next advances to the next key and reports whether one exists.
func (i *Iterator) Next() bool {
	if i.closed {
		return false
	}
	if i.started {
		i.it.Next()
	}
	i.started = true
	return i.it.ValidForPrefix(i.prefix)
}

// Key returns the current key without the map prefix.
func (i *Iterator) Key() string {
	return string(i.it.Item().Key()[len(i.m.prefix):])
}

// Value returns a copy of the current value.
func (i *Iterator) Value() ([]byte, error) {
	v, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: reading value: %w", interfaces.ErrStorage, err)
	}
	return v, nil
}

// Close releases the iterator and its read transaction. Safe to call more than once.
func (i *Iterator) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
	i.m.db.openIterators.Dec()
}

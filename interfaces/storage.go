package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrConfiguration is returned when a store cannot be built from its
	// configuration: unknown backend kind, missing or malformed keys.
	ErrConfiguration = errors.New("invalid store configuration")

	// ErrChunkNotFound is returned when a requested chunk does not exist.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrNamespaceConflict is returned by merge strategies when chunks bind
	// the same prefix to different namespace URIs or have incompatible roots.
	ErrNamespaceConflict = errors.New("namespace conflict")

	// ErrInvalidState is returned when a merge strategy is driven out of order.
	ErrInvalidState = errors.New("invalid merge state")

	// ErrInvalidDocument is returned when an imported document cannot be parsed or split.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrStorage wraps failures reported by the underlying storage system.
	ErrStorage = errors.New("storage failure")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

// AddOptions carries the per-chunk data written into the metadata index.
type AddOptions struct {
	// CorrelationID groups all chunks of one import. Generated when empty.
	CorrelationID string

	// Tags are free-form labels the chunk can be queried by.
	Tags []string

	// Properties are key/value pairs the chunk can be queried by.
	Properties map[string]string
}

// DeleteResult reports the outcome of a bulk delete per path.
// A path that did not exist counts as deleted.
type DeleteResult struct {
	Deleted []string
	Failed  map[string]error
}

// Succeed records a successfully deleted path.
func (r *DeleteResult) Succeed(path string) {
	r.Deleted = append(r.Deleted, path)
}

// Fail records a path that could not be deleted.
func (r *DeleteResult) Fail(path string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[path] = err
}

// Err combines all per-path failures, ordered by path, or returns nil.
func (r DeleteResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	paths := make([]string, 0, len(r.Failed))
	for p := range r.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var err error
	for _, p := range paths {
		err = multierr.Append(err, fmt.Errorf("%s: %w", p, r.Failed[p]))
	}
	return err
}

// Cursor iterates lazily over the chunks matching a query.
// Cursors are not safe for concurrent use.
type Cursor interface {
	// Next advances to the next chunk. It returns false when the cursor is
	// exhausted, closed, the context is done or an error occurred.
	Next(ctx context.Context) bool

	// Meta returns the metadata of the current chunk.
	Meta() ChunkMeta

	// Path returns the storage path of the current chunk.
	Path() string

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the resources held by the cursor. Safe to call more than once.
	Close() error
}

// Store is the uniform chunk store used by the HTTP layer and importers.
type Store interface {
	// Get returns a cursor over the chunks in layer (recursively) matching query.
	// An empty query matches every chunk.
	Get(ctx context.Context, query, layer string) (Cursor, error)

	// GetOne opens the chunk stored under path.
	// Returns ErrChunkNotFound if the chunk does not exist.
	GetOne(ctx context.Context, path string) (io.ReadCloser, error)

	// Add persists chunk in layer, indexes its metadata and returns its path.
	Add(ctx context.Context, chunk []byte, meta ChunkMeta, layer string, opts AddOptions) (string, error)

	// Delete removes every given path independently.
	Delete(ctx context.Context, paths []string) DeleteResult

	// Close releases the backend and the index.
	Close() error
}

// ChunkBackend stores raw chunk bytes. It knows nothing about metadata.
type ChunkBackend interface {
	// GetOne opens the chunk stored under path.
	// Returns ErrChunkNotFound if the chunk does not exist.
	GetOne(ctx context.Context, path string) (io.ReadCloser, error)

	// Add persists chunk under a fresh unique path inside layer and returns the path.
	Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error)

	// Delete removes every given path independently. Missing paths succeed.
	Delete(ctx context.Context, paths []string) DeleteResult

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns a string identifying this backend's storage location.
	LocationURI() string

	// Close releases this backend's reference to any shared handle.
	Close() error
}

// BackendLocation is a parsed "kind=target" backend reference used by
// mirror configurations.
type BackendLocation struct {
	Raw    string
	Kind   string
	Target string
}

// ParseBackendLocation parses a "kind=target" string.
func ParseBackendLocation(s string) (BackendLocation, error) {
	kind, target, ok := strings.Cut(s, "=")
	kind = strings.TrimSpace(kind)
	if !ok || kind == "" {
		return BackendLocation{}, fmt.Errorf("%w: backend location %q must be kind=target", ErrConfiguration, s)
	}
	return BackendLocation{Raw: s, Kind: kind, Target: strings.TrimSpace(target)}, nil
}

// String returns the original location string.
func (loc BackendLocation) String() string {
	return loc.Raw
}

package interfaces

import "context"

// IndexEntry is the metadata recorded for one stored chunk.
type IndexEntry struct {
	Path          string
	Layer         string
	CorrelationID string
	Meta          ChunkMeta
	Tags          []string
	Properties    map[string]string
}

// MetadataIndex records chunk metadata and answers queries over it.
type MetadataIndex interface {
	// Add records the metadata of a chunk that has already been persisted.
	Add(ctx context.Context, entry IndexEntry) error

	// Query returns a cursor over entries in layer (recursively) matching query.
	Query(ctx context.Context, query, layer string) (Cursor, error)

	// Delete removes the entries of the given paths. Missing paths are ignored.
	Delete(ctx context.Context, paths []string) error

	// Close releases the index.
	Close() error
}

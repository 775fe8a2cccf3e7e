package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/metrics"
	"go.uber.org/multierr"
)

// IndexedStore combines a chunk backend with a metadata index.
// Chunk bytes go to the backend; metadata, tags and properties go to the index
// after the bytes have been persisted.
type IndexedStore struct {
	backend interfaces.ChunkBackend
	index   interfaces.MetadataIndex
	log     *slog.Logger
}

// NewIndexedStore creates a store over backend and index, taking ownership of both.
func NewIndexedStore(backend interfaces.ChunkBackend, index interfaces.MetadataIndex, log *slog.Logger) *IndexedStore {
	if log == nil {
		log = slog.Default()
	}
	return &IndexedStore{
		backend: backend,
		index:   index,
		log:     log,
	}
}

// Backend returns the underlying chunk backend.
func (s *IndexedStore) Backend() interfaces.ChunkBackend {
	return s.backend
}

// Get returns a lazy cursor over the chunks in layer matching query.
func (s *IndexedStore) Get(ctx context.Context, query, layer string) (interfaces.Cursor, error) {
	return s.index.Query(ctx, query, NormalizeLayer(layer))
}

// GetOne opens the chunk stored under path.
func (s *IndexedStore) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	r, err := s.backend.GetOne(ctx, path)
	metrics.Store.ObserveBackend(s.backend.Name(), "get", start, err)
	return r, err
}

// Add persists chunk and indexes its metadata. A correlation id is generated
// when opts doesn't carry one. If indexing fails the stored chunk is removed
// again so no unindexed bytes are left behind.
func (s *IndexedStore) Add(ctx context.Context, chunk []byte, meta interfaces.ChunkMeta, layer string, opts interfaces.AddOptions) (string, error) {
	if meta == nil {
		return "", fmt.Errorf("%w: chunk metadata is missing", interfaces.ErrInvalidState)
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	layer = NormalizeLayer(layer)

	start := time.Now()
	path, err := s.backend.Add(ctx, chunk, layer, correlationID)
	metrics.Store.ObserveBackend(s.backend.Name(), "add", start, err)
	if err != nil {
		return "", err
	}

	err = s.index.Add(ctx, interfaces.IndexEntry{
		Path:          path,
		Layer:         layer,
		CorrelationID: correlationID,
		Meta:          meta,
		Tags:          opts.Tags,
		Properties:    opts.Properties,
	})
	if err != nil {
		s.log.Error("Failed to index chunk, removing it",
			slog.String("path", path),
			"err", err)
		if rerr := s.backend.Delete(ctx, []string{path}).Err(); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		return "", err
	}

	s.log.Debug("Added chunk",
		slog.String("path", path),
		slog.String("correlation_id", correlationID),
		slog.Int("size", len(chunk)))
	return path, nil
}

// Delete removes paths from the backend and drops the index entries of the
// paths the backend deleted.
func (s *IndexedStore) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	start := time.Now()
	result := s.backend.Delete(ctx, paths)
	metrics.Store.ObserveBackend(s.backend.Name(), "delete", start, result.Err())

	if len(result.Deleted) == 0 {
		return result
	}

	if err := s.index.Delete(ctx, result.Deleted); err != nil {
		s.log.Error("Failed to remove index entries", "err", err)
		failed := result.Deleted
		result.Deleted = nil
		for _, p := range failed {
			result.Fail(p, err)
		}
	}
	return result
}

// Close releases the backend and the index.
func (s *IndexedStore) Close() error {
	return multierr.Append(s.backend.Close(), s.index.Close())
}

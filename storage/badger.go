package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/kvstore"
	"github.com/ruteri/chunkstore/resource"
)

// chunksMap is the named map holding chunk bytes inside the database.
const chunksMap = "chunks"

func init() {
	RegisterBackend(BadgerKind, func(_ context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		return NewBadgerBackend(sf.registry, cfg.Target, cfg.Compress, sf.log)
	})
}

// BadgerBackend implements a chunk backend on an embedded badger database.
// The database handle is shared through the resource registry, so every
// backend opened on the same path and compression setting uses one handle.
type BadgerBackend struct {
	db     *kvstore.DB
	chunks *kvstore.Map
	log    *slog.Logger
}

// NewBadgerBackend opens (or reuses) the database at path. When compress is
// set the database is created with ZSTD block compression.
func NewBadgerBackend(reg *resource.Registry, path string, compress bool, log *slog.Logger) (*BadgerBackend, error) {
	db, err := kvstore.Open(reg, path, compress, log)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{
		db:     db,
		chunks: db.Map(chunksMap),
		log:    log,
	}, nil
}

// GetOne returns the stored chunk. Returns ErrChunkNotFound if the key doesn't exist.
func (b *BadgerBackend) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := b.chunks.Get(path)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Add stores chunk under a fresh path.
func (b *BadgerBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	path := ChunkPath(layer, correlationID)
	if err := b.Put(ctx, path, chunk); err != nil {
		return "", err
	}
	return path, nil
}

// Put stores chunk under path.
func (b *BadgerBackend) Put(ctx context.Context, path string, chunk []byte) error {
	if err := b.chunks.Put(path, chunk); err != nil {
		return err
	}

	b.log.Debug("Stored chunk in badger",
		slog.String("path", path),
		slog.Int("size", len(chunk)))
	return nil
}

// Delete removes every path in its own transaction.
func (b *BadgerBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	var result interfaces.DeleteResult
	for _, p := range paths {
		if err := b.chunks.Delete(p); err != nil {
			result.Fail(p, err)
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns a unique identifier for this storage backend.
func (b *BadgerBackend) Name() string {
	return "badger"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *BadgerBackend) LocationURI() string {
	return fmt.Sprintf("badger://%s", b.db.Path())
}

// Close releases this backend's reference to the shared database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

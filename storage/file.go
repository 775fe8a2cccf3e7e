package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
)

func init() {
	RegisterBackend(FileKind, func(_ context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		return NewFileBackend(cfg.Target, sf.log)
	})
}

// FileBackend implements a chunk backend using the local file system.
// Every chunk is one file; layers are directories below the base directory.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file chunk backend rooted at baseDir,
// creating the directory if it doesn't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, errors.New("empty base directory")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// GetOne opens the chunk file. Returns ErrChunkNotFound if the file doesn't exist.
func (b *FileBackend) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	filePath := b.filePath(path)

	f, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open chunk file: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Opened chunk file", slog.String("path", filePath))
	return f, nil
}

// Add writes chunk to a new file inside the layer directory.
func (b *FileBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	path := ChunkPath(layer, correlationID)
	if err := b.Put(ctx, path, chunk); err != nil {
		return "", err
	}
	return path, nil
}

// Put writes chunk to a new file at path. It fails if the file already exists.
func (b *FileBackend) Put(ctx context.Context, path string, chunk []byte) error {
	filePath := b.filePath(path)

	// Create parent directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", interfaces.ErrStorage, err)
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to create chunk file: %w", interfaces.ErrStorage, err)
	}
	if _, err := f.Write(chunk); err != nil {
		f.Close()
		os.Remove(filePath)
		return fmt.Errorf("%w: failed to write chunk file: %w", interfaces.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(filePath)
		return fmt.Errorf("%w: failed to close chunk file: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Stored chunk in file",
		slog.String("path", filePath),
		slog.Int("size", len(chunk)))

	return nil
}

// Delete removes the chunk files. Files that don't exist count as deleted.
func (b *FileBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	var result interfaces.DeleteResult
	for _, p := range paths {
		err := os.Remove(b.filePath(p))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			b.log.Debug("Failed to delete chunk file", slog.String("path", p), "err", err)
			result.Fail(p, fmt.Errorf("%w: %w", interfaces.ErrStorage, err))
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// Close is a no-op; the file backend holds no shared handle.
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) filePath(path string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(cleanChunkPath(path)))
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// PathWriter is implemented by backends that can store a chunk under a path
// chosen by the caller. MirrorBackend uses it to keep paths identical across
// its children.
type PathWriter interface {
	interfaces.ChunkBackend
	Put(ctx context.Context, path string, chunk []byte) error
}

func init() {
	RegisterBackend(MirrorKind, func(ctx context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		children := make([]PathWriter, 0, len(cfg.MirrorTargets))
		closeAll := func() {
			for _, c := range children {
				c.Close()
			}
		}

		for _, target := range cfg.MirrorTargets {
			loc, err := interfaces.ParseBackendLocation(target)
			if err != nil {
				closeAll()
				return nil, err
			}
			if BackendKind(loc.Kind) == MirrorKind {
				closeAll()
				return nil, fmt.Errorf("nested mirror target %q", target)
			}

			backend, err := sf.BackendFor(ctx, cfg.Child(loc))
			if err != nil {
				closeAll()
				return nil, err
			}
			writer, ok := backend.(PathWriter)
			if !ok {
				backend.Close()
				closeAll()
				return nil, fmt.Errorf("backend %s cannot be mirrored", backend.Name())
			}
			children = append(children, writer)
		}

		return NewMirrorBackend(children, sf.log)
	})
}

// MirrorBackend writes every chunk to all child backends under the same path
// and reads from the first child that has it.
type MirrorBackend struct {
	backends []PathWriter
	log      *slog.Logger
}

// NewMirrorBackend creates a new mirror over backends, which it takes ownership of.
func NewMirrorBackend(backends []PathWriter, logger *slog.Logger) (*MirrorBackend, error) {
	if len(backends) == 0 {
		return nil, errors.New("no mirror backends")
	}
	// If no logger is provided, create a default one
	if logger == nil {
		logger = slog.Default()
	}

	return &MirrorBackend{
		backends: backends,
		log:      logger,
	}, nil
}

// GetOne opens the chunk from the first backend that has it.
// Returns ErrChunkNotFound only if every backend reports the chunk missing.
func (m *MirrorBackend) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	var errs []error
	allMissing := true

	for _, backend := range m.backends {
		r, err := backend.GetOne(ctx, path)
		if err == nil {
			m.log.Debug("Fetched chunk from mirror",
				slog.String("backend_name", backend.Name()),
				slog.String("path", path),
				slog.Duration("duration", time.Since(start)))
			return r, nil
		}

		if !errors.Is(err, interfaces.ErrChunkNotFound) {
			allMissing = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("path", path),
			"err", err)
	}

	if allMissing {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, path)
	}

	m.log.Error("All backends failed to fetch chunk",
		slog.String("path", path),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", path, errors.Join(errs...))
}

// Add stores chunk in every backend under one fresh path. It succeeds when
// at least one backend stored the chunk.
func (m *MirrorBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	start := time.Now()
	path := ChunkPath(layer, correlationID)
	errs := make([]error, len(m.backends))

	var g errgroup.Group
	for i, backend := range m.backends {
		i, backend := i, backend
		g.Go(func() error {
			errs[i] = backend.Put(ctx, path, chunk)
			return nil
		})
	}
	g.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", m.backends[i].Name(), err))
			m.log.Warn("Failed to store chunk to mirror backend",
				slog.String("backend_name", m.backends[i].Name()),
				slog.String("path", path),
				"err", err)
		}
	}

	if len(failed) == len(m.backends) {
		m.log.Error("All backends failed to store chunk",
			slog.Int("failed_backends", len(failed)),
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: all backends failed to store chunk: %w", interfaces.ErrStorage, errors.Join(failed...))
	}

	m.log.Debug("Stored chunk in mirror",
		slog.String("path", path),
		slog.Int("replicas", len(m.backends)-len(failed)),
		slog.Duration("duration", time.Since(start)))
	return path, nil
}

// Delete removes paths from every backend. A path is deleted only when every
// backend deleted it.
func (m *MirrorBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	results := make([]interfaces.DeleteResult, len(m.backends))

	var g errgroup.Group
	for i, backend := range m.backends {
		i, backend := i, backend
		g.Go(func() error {
			results[i] = backend.Delete(ctx, paths)
			return nil
		})
	}
	g.Wait()

	var result interfaces.DeleteResult
	for _, p := range paths {
		var err error
		for i, r := range results {
			if e, ok := r.Failed[p]; ok {
				err = multierr.Append(err, fmt.Errorf("%s: %w", m.backends[i].Name(), e))
			}
		}
		if err != nil {
			result.Fail(p, err)
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns the name of this backend
func (m *MirrorBackend) Name() string {
	return "mirror"
}

// LocationURI returns a combined location URI from all backends.
func (m *MirrorBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "mirror:[" + strings.Join(locations, ",") + "]"
}

// Close closes every child backend.
func (m *MirrorBackend) Close() error {
	var err error
	for _, backend := range m.backends {
		err = multierr.Append(err, backend.Close())
	}
	return err
}

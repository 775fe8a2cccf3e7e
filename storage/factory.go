package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/index"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
)

// BackendKind names a chunk backend implementation in configuration.
type BackendKind string

const (
	FileKind   BackendKind = "file"
	BadgerKind BackendKind = "badger"
	BlobKind   BackendKind = "blob"
	IPFSKind   BackendKind = "ipfs"
	VaultKind  BackendKind = "vault"
	MirrorKind BackendKind = "mirror"
)

// BackendConstructor builds a backend from its storage configuration.
type BackendConstructor func(ctx context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error)

var (
	constructorsMu sync.RWMutex
	constructors   = make(map[BackendKind]BackendConstructor)
)

// RegisterBackend makes a backend kind available to every StoreFactory.
// It panics if the kind is registered twice.
func RegisterBackend(kind BackendKind, c BackendConstructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	if _, dup := constructors[kind]; dup {
		panic(fmt.Sprintf("storage: backend %q registered twice", kind))
	}
	constructors[kind] = c
}

// RegisteredBackends returns the registered backend kinds in sorted order.
func RegisteredBackends() []string {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	kinds := make([]string, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// StoreFactory creates chunk backends and indexed stores from configuration.
// Backends acquire their expensive handles through the factory's registry.
type StoreFactory struct {
	log      *slog.Logger
	registry *resource.Registry
}

// NewStoreFactory creates a new factory. A nil registry selects resource.Default.
func NewStoreFactory(logger *slog.Logger, registry *resource.Registry) *StoreFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreFactory{
		log:      logger,
		registry: resource.OrDefault(registry),
	}
}

// Registry returns the resource registry used by backends built by this factory.
func (sf *StoreFactory) Registry() *resource.Registry {
	return sf.registry
}

// BackendFor creates the chunk backend selected by cfg.Backend.
// Unknown kinds and constructor failures are reported as interfaces.ErrConfiguration.
func (sf *StoreFactory) BackendFor(ctx context.Context, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
	kind := BackendKind(strings.ToLower(cfg.Backend))

	constructorsMu.RLock()
	construct, ok := constructors[kind]
	constructorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported backend %q (known: %s)",
			interfaces.ErrConfiguration, cfg.Backend, strings.Join(RegisteredBackends(), ", "))
	}

	sf.log.Debug("Creating chunk backend", slog.String("kind", string(kind)), slog.String("target", cfg.Target))
	backend, err := construct(ctx, sf, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s backend: %w", interfaces.ErrConfiguration, kind, err)
	}
	return backend, nil
}

// CreateStore builds the configured backend and metadata index and combines
// them into an IndexedStore.
func (sf *StoreFactory) CreateStore(ctx context.Context, cfg *config.Config) (*IndexedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := sf.BackendFor(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	idx, err := index.NewBadgerIndex(sf.registry, cfg.Index.Path, cfg.Index.Compress, sf.log)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("%w: opening index: %w", interfaces.ErrConfiguration, err)
	}

	sf.log.Info("Created chunk store",
		slog.String("backend", backend.Name()),
		slog.String("location", backend.LocationURI()),
		slog.String("index", idx.Path()))

	return NewIndexedStore(backend, idx, sf.log), nil
}

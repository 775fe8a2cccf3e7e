package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredBackends(t *testing.T) {
	assert.Equal(t, []string{"badger", "blob", "file", "ipfs", "mirror", "vault"}, RegisteredBackends())
	assert.Panics(t, func() {
		RegisterBackend(FileKind, nil)
	})
}

func TestBackendForUnknownKind(t *testing.T) {
	sf := NewStoreFactory(testLogger(), resource.NewRegistry(testLogger()))
	_, err := sf.BackendFor(context.Background(), config.StorageConfig{Backend: "mongodb", Target: "mongodb://localhost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestBackendForConstructorFailure(t *testing.T) {
	sf := NewStoreFactory(testLogger(), resource.NewRegistry(testLogger()))
	_, err := sf.BackendFor(context.Background(), config.StorageConfig{Backend: "ipfs", Target: "http://"})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestBackendForKinds(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		cfg      config.StorageConfig
		expected any
	}{
		{
			name:     "file",
			cfg:      config.StorageConfig{Backend: "file", Target: filepath.Join(dir, "files")},
			expected: &FileBackend{},
		},
		{
			name:     "badger",
			cfg:      config.StorageConfig{Backend: "BADGER", Target: filepath.Join(dir, "db"), Compress: true},
			expected: &BadgerBackend{},
		},
		{
			name:     "blob",
			cfg:      config.StorageConfig{Backend: "blob", Target: "mem://"},
			expected: &BlobBackend{},
		},
		{
			name: "mirror",
			cfg: config.StorageConfig{Backend: "mirror", MirrorTargets: []string{
				"file=" + filepath.Join(dir, "mirror-files"),
				"blob=mem://",
			}},
			expected: &MirrorBackend{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := resource.NewRegistry(testLogger())
			sf := NewStoreFactory(testLogger(), reg)

			backend, err := sf.BackendFor(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.expected, backend)
			checkRoundTrip(t, backend)

			require.NoError(t, backend.Close())
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestNestedMirrorRejected(t *testing.T) {
	sf := NewStoreFactory(testLogger(), resource.NewRegistry(testLogger()))
	_, err := sf.BackendFor(context.Background(), config.StorageConfig{
		Backend:       "mirror",
		MirrorTargets: []string{"mirror=anything"},
	})
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestCreateStore(t *testing.T) {
	reg := resource.NewRegistry(testLogger())
	sf := NewStoreFactory(testLogger(), reg)

	cfg, err := config.Load("", map[string]any{
		config.KeyStorageBackend: "badger",
		config.KeyStorageTarget:  filepath.Join(t.TempDir(), "chunks"),
	})
	require.NoError(t, err)

	store, err := sf.CreateStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, store.Close())
	assert.Equal(t, 0, reg.Len())

	_, err = sf.CreateStore(context.Background(), &config.Config{})
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readChunk(t *testing.T, b interfaces.ChunkBackend, path string) string {
	t.Helper()
	r, err := b.GetOne(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// checkRoundTrip exercises the full ChunkBackend contract.
func checkRoundTrip(t *testing.T, b interfaces.ChunkBackend) {
	t.Helper()
	ctx := context.Background()

	p1, err := b.Add(ctx, []byte("<a>one</a>"), "layer/sub", "cid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p1, "/layer/sub/cid"), p1)

	p2, err := b.Add(ctx, []byte("<a>two</a>"), "layer/sub", "cid")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	p3, err := b.Add(ctx, []byte("root"), "", "cid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p3, "/cid"), p3)

	assert.Equal(t, "<a>one</a>", readChunk(t, b, p1))
	assert.Equal(t, "<a>two</a>", readChunk(t, b, p2))
	assert.Equal(t, "root", readChunk(t, b, p3))

	_, err = b.GetOne(ctx, "/layer/sub/missing")
	assert.ErrorIs(t, err, interfaces.ErrChunkNotFound)

	result := b.Delete(ctx, []string{p1, "/layer/sub/missing"})
	require.NoError(t, result.Err())
	assert.ElementsMatch(t, []string{p1, "/layer/sub/missing"}, result.Deleted)

	_, err = b.GetOne(ctx, p1)
	assert.ErrorIs(t, err, interfaces.ErrChunkNotFound)
	assert.Equal(t, "<a>two</a>", readChunk(t, b, p2))

	assert.NotEmpty(t, b.Name())
	assert.NotEmpty(t, b.LocationURI())
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "chunks"), testLogger())
	require.NoError(t, err)
	defer b.Close()
	checkRoundTrip(t, b)
}

func TestFileBackendStaysInsideBaseDir(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(filepath.Join(dir, "chunks"), testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Put(context.Background(), "/../../escape", []byte("x")))
	assert.FileExists(t, filepath.Join(dir, "chunks", "escape"))
}

func TestBadgerBackend(t *testing.T) {
	reg := resource.NewRegistry(testLogger())
	b, err := NewBadgerBackend(reg, filepath.Join(t.TempDir(), "db"), true, testLogger())
	require.NoError(t, err)
	checkRoundTrip(t, b)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestBadgerBackendSharesHandle(t *testing.T) {
	reg := resource.NewRegistry(testLogger())
	path := filepath.Join(t.TempDir(), "db")

	a, err := NewBadgerBackend(reg, path, false, testLogger())
	require.NoError(t, err)
	b, err := NewBadgerBackend(reg, path, false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	p, err := a.Add(context.Background(), []byte("shared"), "/", "cid")
	require.NoError(t, err)
	assert.Equal(t, "shared", readChunk(t, b, p))

	require.NoError(t, a.Close())
	assert.Equal(t, "shared", readChunk(t, b, p))
	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestBlobBackend(t *testing.T) {
	reg := resource.NewRegistry(testLogger())
	b, err := NewBlobBackend(context.Background(), reg, "mem://", testLogger())
	require.NoError(t, err)
	checkRoundTrip(t, b)

	// a second backend on the same target reuses the bucket
	other, err := NewBlobBackend(context.Background(), reg, "mem://", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	require.NoError(t, other.Close())

	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestBlobBackendFileBucket(t *testing.T) {
	reg := resource.NewRegistry(testLogger())
	dir := filepath.ToSlash(t.TempDir())
	b, err := NewBlobBackend(context.Background(), reg, "file://"+dir, testLogger())
	require.NoError(t, err)
	defer b.Close()
	checkRoundTrip(t, b)
}

// fakeIPFS implements the version call and the MFS subset of the IPFS HTTP API.
type fakeIPFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *fakeIPFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	arg := r.URL.Query().Get("arg")
	switch r.URL.Path {
	case "/api/v0/version":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"Version": "0.20.0", "Commit": ""})
	case "/api/v0/files/write":
		data, err := readMultipartFile(r)
		if err != nil {
			ipfsError(w, err.Error())
			return
		}
		f.files[arg] = data
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
	case "/api/v0/files/read":
		data, ok := f.files[arg]
		if !ok {
			ipfsError(w, "file does not exist")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write(data)
	case "/api/v0/files/rm":
		if _, ok := f.files[arg]; !ok {
			ipfsError(w, "file does not exist")
			return
		}
		delete(f.files, arg)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func readMultipartFile(r *http.Request) ([]byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if ct == "application/x-directory" {
			continue
		}
		return io.ReadAll(part)
	}
}

func ipfsError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]any{"Message": msg, "Code": 0, "Type": "error"})
}

func TestIPFSBackend(t *testing.T) {
	fake := &fakeIPFS{files: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	reg := resource.NewRegistry(testLogger())
	b, err := NewIPFSBackend(reg, srv.URL+"/store", testLogger())
	require.NoError(t, err)
	checkRoundTrip(t, b)

	fake.mu.Lock()
	for name := range fake.files {
		assert.True(t, strings.HasPrefix(name, "/store/"), name)
	}
	fake.mu.Unlock()

	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.Len())
}

// fakeVault implements the KV v2 subset of the Vault HTTP API.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]any
	token   string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]any `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.secrets[key] = body.Data
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"version": 1}})
		case http.MethodGet:
			data, ok := f.secrets[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"errors":[]}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"data": data, "metadata": map[string]any{"version": 1}},
			})
		}
	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/") && r.Method == http.MethodDelete:
		delete(f.secrets, strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestVaultBackend(t *testing.T) {
	fake := &fakeVault{secrets: make(map[string]map[string]any), token: "root-token"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	reg := resource.NewRegistry(testLogger())
	b, err := NewVaultBackend(reg, srv.URL+"/chunks", "secret", "root-token", testLogger())
	require.NoError(t, err)
	checkRoundTrip(t, b)

	fake.mu.Lock()
	for key := range fake.secrets {
		assert.True(t, strings.HasPrefix(key, "chunks/"), key)
	}
	fake.mu.Unlock()

	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestVaultBackendBinaryChunk(t *testing.T) {
	fake := &fakeVault{secrets: make(map[string]map[string]any), token: "t"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	b, err := NewVaultBackend(resource.NewRegistry(testLogger()), srv.URL, "", "t", testLogger())
	require.NoError(t, err)
	defer b.Close()

	chunk := string([]byte{0, 1, 2, 0xff, '\n'})
	p, err := b.Add(context.Background(), []byte(chunk), "/bin", "cid")
	require.NoError(t, err)
	assert.Equal(t, chunk, readChunk(t, b, p))
}

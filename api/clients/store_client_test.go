package clients

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/chunkstore/httpserver"
	"github.com/ruteri/chunkstore/index"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"github.com/ruteri/chunkstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *StoreClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := resource.NewRegistry(logger)

	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "chunks"), logger)
	require.NoError(t, err)
	idx, err := index.NewBadgerIndex(reg, "", false, logger)
	require.NoError(t, err)
	store := storage.NewIndexedStore(backend, idx, logger)
	t.Cleanup(func() { store.Close() })

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{Log: logger}, httpserver.NewHandler(store, logger))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewStoreClient(strings.TrimPrefix(ts.URL, "http://"))
}

func TestStoreClient(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	resp, err := client.Import(ctx, "/layer/sub", strings.NewReader(`<root><a/><b/></root>`), "application/xml", interfaces.AddOptions{
		CorrelationID: "cid-1",
		Tags:          []string{"t1", "t2"},
		Properties:    map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cid-1", resp.CorrelationID)
	assert.Equal(t, 2, resp.Chunks)

	for _, query := range []string{"", "t2", "k=v"} {
		var out bytes.Buffer
		n, err := client.Export(ctx, "layer", query, &out)
		require.NoError(t, err, query)
		assert.Equal(t, interfaces.XMLHeader+"<root><a/><b/></root>", out.String())
		assert.Equal(t, int64(out.Len()), n)
	}

	_, err = client.Export(ctx, "layer", "missing", io.Discard)
	assert.ErrorIs(t, err, interfaces.ErrChunkNotFound)

	deleted, err := client.Delete(ctx, "/layer/sub/", "t1")
	require.NoError(t, err)
	assert.Len(t, deleted.Deleted, 2)

	_, err = client.Export(ctx, "/", "", io.Discard)
	assert.ErrorIs(t, err, interfaces.ErrChunkNotFound)
}

func TestStoreClientErrors(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Import(ctx, "x", strings.NewReader("not a document"), "", interfaces.AddOptions{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidDocument)

	_, err = client.Import(ctx, "x", strings.NewReader(`<root xmlns:p="a"><p:a/></root>`), "", interfaces.AddOptions{CorrelationID: "1"})
	require.NoError(t, err)
	_, err = client.Import(ctx, "x", strings.NewReader(`<root xmlns:p="b"><p:b/></root>`), "", interfaces.AddOptions{CorrelationID: "2"})
	require.NoError(t, err)
	_, err = client.Export(ctx, "x", "", io.Discard)
	assert.ErrorIs(t, err, interfaces.ErrNamespaceConflict)

	unreachable := NewStoreClient("http://127.0.0.1:1")
	_, err = unreachable.Export(ctx, "/", "", io.Discard)
	assert.Error(t, err)
}

package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/chunkstore/api"
	"github.com/ruteri/chunkstore/index"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"github.com/ruteri/chunkstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rootTag  = `<root xmlns="uri0" xmlns:ns1="uri1">`
	element1 = `<ns1:child id="1"/>`
	element2 = `<ns1:child id="2"/>`
	document = rootTag + element1 + element2 + `</root>`
)

func newTestStore(t *testing.T) *storage.IndexedStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := resource.NewRegistry(logger)
	backend, err := storage.NewBadgerBackend(reg, filepath.Join(t.TempDir(), "chunks"), false, logger)
	require.NoError(t, err)
	idx, err := index.NewBadgerIndex(reg, "", false, logger)
	require.NoError(t, err)
	store := storage.NewIndexedStore(backend, idx, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, store interfaces.Store) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{Log: logger}, NewHandler(store, logger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, contentType, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func importDoc(t *testing.T, ts *httptest.Server, layer, params, doc string) api.ImportResponse {
	t.Helper()
	status, body := doRequest(t, http.MethodPut, ts.URL+api.LayerPath(layer)+params, "application/xml", doc)
	require.Equal(t, http.StatusAccepted, status, body)

	var response api.ImportResponse
	require.NoError(t, json.Unmarshal([]byte(body), &response))
	return response
}

func TestImportAndExport(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	response := importDoc(t, ts, "cities/de", "?tags=capital&props=country:de", document)
	assert.NotEmpty(t, response.CorrelationID)
	assert.Equal(t, 2, response.Chunks)

	expected := interfaces.XMLHeader + rootTag + element1 + element2 + "</root>"
	for _, layer := range []string{"/store/cities/de/", "/store/cities", "/store/", "/store"} {
		status, body := doRequest(t, http.MethodGet, ts.URL+layer, "", "")
		assert.Equal(t, http.StatusOK, status, layer)
		assert.Equal(t, expected, body, layer)
	}

	for _, search := range []string{"capital", "country=de", "other capital"} {
		status, body := doRequest(t, http.MethodGet, ts.URL+"/store/?search="+strings.ReplaceAll(search, " ", "+"), "", "")
		assert.Equal(t, http.StatusOK, status, search)
		assert.Equal(t, expected, body, search)
	}

	status, _ := doRequest(t, http.MethodGet, ts.URL+"/store/?search=country=fr", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/store/cities/fr/", "", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExportMergesNamespaces(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	// Chunks are merged in path order, which starts with the correlation id.
	importDoc(t, ts, "a", "?correlation_id=import1", `<root xmlns:ns1="uri1"><ns1:x/></root>`)
	importDoc(t, ts, "a", "?correlation_id=import2", `<root xmlns:ns2="uri2"><ns2:y/></root>`)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/store/a", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, interfaces.XMLHeader+`<root xmlns:ns1="uri1" xmlns:ns2="uri2"><ns1:x/><ns2:y/></root>`, body)
}

func TestExportConflicts(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	importDoc(t, ts, "conflict", "", `<root xmlns:ns1="uri1"><ns1:x/></root>`)
	importDoc(t, ts, "conflict", "", `<root xmlns:ns1="other"><ns1:y/></root>`)
	status, _ := doRequest(t, http.MethodGet, ts.URL+"/store/conflict", "", "")
	assert.Equal(t, http.StatusConflict, status)

	importDoc(t, ts, "mixed", "", `<root><x/></root>`)
	status, body := doRequest(t, http.MethodPut, ts.URL+"/store/mixed", "", `{"type":"Point","coordinates":[0,0]}`)
	require.Equal(t, http.StatusAccepted, status, body)
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/store/mixed", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExportGeoJSON(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	const (
		f1 = `{"type":"Feature","properties":{"n":1},"geometry":null}`
		f2 = `{"type":"Feature","properties":{"n":2},"geometry":null}`
	)
	status, body := doRequest(t, http.MethodPost, ts.URL+"/store/geo", "application/geo+json",
		`{"type":"FeatureCollection","features":[`+f1+`,`+f2+`]}`)
	require.Equal(t, http.StatusAccepted, status, body)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/store/geo", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, interfaces.MimeTypeGeoJSON, resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[`+f1+`,`+f2+`]}`, string(data))
}

func TestImportInvalidDocument(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	status, _ := doRequest(t, http.MethodPut, ts.URL+"/store/x", "application/xml", "<root><a></root>")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = doRequest(t, http.MethodPut, ts.URL+"/store/x", "", "plain text")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	importDoc(t, ts, "del", "?tags=keep", `<root><a/></root>`)
	importDoc(t, ts, "del", "?tags=drop", `<root><b/><c/></root>`)

	status, body := doRequest(t, http.MethodDelete, ts.URL+"/store/del?search=drop", "", "")
	require.Equal(t, http.StatusOK, status, body)
	var response api.DeleteResponse
	require.NoError(t, json.Unmarshal([]byte(body), &response))
	assert.Len(t, response.Deleted, 2)
	assert.Empty(t, response.Failed)

	status, body = doRequest(t, http.MethodGet, ts.URL+"/store/del", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, interfaces.XMLHeader+"<root><a/></root>", body)

	status, body = doRequest(t, http.MethodDelete, ts.URL+"/store/del?search=nothing", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"deleted":[]}`, body)
}

// failingStore fails GetOne for one path.
type failingStore struct {
	interfaces.Store
	failPath func(path string) bool
}

func (s *failingStore) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	if s.failPath(path) {
		return nil, fmt.Errorf("%w: backend went away", interfaces.ErrStorage)
	}
	return s.Store.GetOne(ctx, path)
}

func chunkPaths(t *testing.T, store interfaces.Store) []string {
	t.Helper()
	ctx := context.Background()
	cursor, err := store.Get(ctx, "", "/")
	require.NoError(t, err)
	defer cursor.Close()
	var paths []string
	for cursor.Next(ctx) {
		paths = append(paths, cursor.Path())
	}
	require.NoError(t, cursor.Err())
	return paths
}

func TestExportStorageFailureBeforeStreaming(t *testing.T) {
	store := newTestStore(t)
	ts := newTestServer(t, store)
	importDoc(t, ts, "", "", document)
	paths := chunkPaths(t, store)
	require.Len(t, paths, 2)

	failing := newTestServer(t, &failingStore{Store: store, failPath: func(p string) bool { return p == paths[0] }})
	status, _ := doRequest(t, http.MethodGet, failing.URL+"/store/", "", "")
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestExportStorageFailureWhileStreaming(t *testing.T) {
	store := newTestStore(t)
	ts := newTestServer(t, store)
	importDoc(t, ts, "", "", document)
	paths := chunkPaths(t, store)
	require.Len(t, paths, 2)

	failing := newTestServer(t, &failingStore{Store: store, failPath: func(p string) bool { return p == paths[1] }})
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := client.Get(failing.URL + "/store/")
	if err == nil {
		_, err = io.ReadAll(resp.Body)
		resp.Body.Close()
	}
	assert.Error(t, err, "a truncated document must not look complete")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{interfaces.ErrChunkNotFound, http.StatusNotFound},
		{interfaces.ErrConfiguration, http.StatusInternalServerError},
		{interfaces.ErrNamespaceConflict, http.StatusConflict},
		{interfaces.ErrInvalidState, http.StatusBadRequest},
		{interfaces.ErrInvalidDocument, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", interfaces.ErrStorage), http.StatusBadGateway},
		{interfaces.ErrBackendUnavailable, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusFor(tt.err), tt.err.Error())
	}
}

package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, newTestStore(t))

	tests := []struct {
		path     string
		status   int
		expected string
	}{
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
		{"/drain", http.StatusOK, `{"status":"draining"}`},
		{"/drain", http.StatusOK, `{"status":"already draining"}`},
		{"/readyz", http.StatusServiceUnavailable, `{"status":"not ready"}`},
		{"/undrain", http.StatusOK, `{"status":"ready"}`},
		{"/undrain", http.StatusOK, `{"status":"already ready"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
	}
	for _, tt := range tests {
		status, body := doRequest(t, http.MethodGet, ts.URL+tt.path, "", "")
		assert.Equal(t, tt.status, status, tt.path)
		assert.JSONEq(t, tt.expected, body, tt.path)
	}
}

func TestNewWithMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{
		ListenAddr:  "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
		Log:         logger,
		EnablePprof: true,
	}, NewHandler(newTestStore(t), logger))
	require.NoError(t, err)
	assert.NotNil(t, srv.metricsSrv)
	assert.NotNil(t, srv.Handler())
}

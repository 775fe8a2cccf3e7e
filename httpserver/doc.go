/*
Package httpserver exposes a chunk store over HTTP.

# Endpoints

  - GET /store/{layer...}?search=q - Merged document of all matching chunks
  - PUT|POST /store/{layer...} - Import an XML or GeoJSON document
  - DELETE /store/{layer...}?search=q - Delete all matching chunks
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

See package api for parameters and response types.

# Streaming

Merged documents are streamed chunk by chunk and never held in memory. All
chunks are checked by the merge strategy before the response starts, so
namespace conflicts are reported as 409. A storage failure after the first
byte was sent cannot change the status anymore; the server then aborts the
connection so clients see a truncated transfer instead of a short document.

# Example Usage

	store, err := storage.NewStoreFactory(logger, nil).CreateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            10 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}, httpserver.NewHandler(store, logger))
	if err != nil {
		return err
	}
	srv.RunInBackground()
*/
package httpserver

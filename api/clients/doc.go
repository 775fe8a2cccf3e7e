/*
Package clients provides a client library for the chunk store HTTP API.

StoreClient wraps the store endpoint:

  - Import - Upload an XML or GeoJSON document into a layer
  - Export - Stream the merged document of all chunks matching a query
  - Delete - Remove all chunks matching a query

Error responses are mapped back onto the sentinel errors of package
interfaces, so callers can use errors.Is just like with a local store:

	client := clients.NewStoreClient("http://localhost:8080")
	if _, err := client.Export(ctx, "/cities", "capital", os.Stdout); errors.Is(err, interfaces.ErrChunkNotFound) {
		// nothing matched
	}
*/
package clients

/*
Package api holds the wire types shared by the chunk store HTTP server and
its clients.

# Store endpoint

	GET    /store/{layer...}?search=q   merged document of the matching chunks
	PUT    /store/{layer...}            import an XML or GeoJSON document
	POST   /store/{layer...}            same as PUT
	DELETE /store/{layer...}?search=q   delete the matching chunks

Layers are hierarchical and queries are recursive: a GET on /store/cities/
also returns chunks imported into /store/cities/de/. The search query is a
whitespace separated list of terms; a chunk matches if any term equals one
of its tags or one of its key=value properties. An empty query matches every
chunk in the layer.

Imports accept the tags, props and correlation_id parameters and answer with
202 Accepted and an ImportResponse. Deletes answer with a DeleteResponse.

Errors are reported as plain text with the status code derived from the
failure: 400 for invalid documents or merge requests, 404 when nothing
matched, 409 for conflicting namespaces, 502 for storage failures and 500
otherwise.

The clients subpackage implements a Go client for the endpoint.
*/
package api

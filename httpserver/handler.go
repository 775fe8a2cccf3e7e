package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/chunkstore/api"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/merge"
	"github.com/ruteri/chunkstore/splitter"
	"go.uber.org/atomic"
)

// maxDocumentSize is the maximum accepted size of an imported document (256MB).
const maxDocumentSize = 256 << 20

// Handler serves the store endpoint on top of a chunk store.
type Handler struct {
	store    interfaces.Store
	importer *splitter.Importer
	log      *slog.Logger
}

// NewHandler creates a new store endpoint handler.
func NewHandler(store interfaces.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:    store,
		importer: splitter.NewImporter(store, log),
		log:      log,
	}
}

// storeLayer returns the layer addressed by the wildcard part of the URL.
func storeLayer(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

// HandleGet merges every chunk in the layer that matches the search query
// and streams the result.
//
// URL format: GET /store/{layer...}?search=q
//
// All chunks are initialized with the merge strategy before the first byte
// is written, so conflicts are reported with a proper status code. A failure
// after streaming started aborts the connection, because the status line has
// already been sent.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	layer := storeLayer(r)
	query := r.URL.Query().Get(api.SearchParam)

	type match struct {
		path string
		meta interfaces.ChunkMeta
	}

	cursor, err := h.store.Get(ctx, query, layer)
	if err != nil {
		h.writeError(w, "Failed to query chunks", err)
		return
	}

	merger := merge.NewMerger(h.log)
	var matches []match
	for cursor.Next(ctx) {
		meta := cursor.Meta()
		if err := merger.Init(meta); err != nil {
			cursor.Close()
			h.writeError(w, "Failed to merge chunks", err)
			return
		}
		matches = append(matches, match{path: cursor.Path(), meta: meta})
	}
	err = cursor.Err()
	cursor.Close()
	if err != nil {
		h.writeError(w, "Failed to query chunks", err)
		return
	}

	if len(matches) == 0 {
		http.Error(w, "No chunks matched", http.StatusNotFound)
		return
	}

	start := time.Now()
	out := &countingWriter{w: w}
	w.Header().Set("Content-Type", matches[0].meta.MimeType())
	for _, m := range matches {
		if err := h.mergeChunk(ctx, merger, m.path, m.meta, out); err != nil {
			h.failStream(w, r, out, err)
			return
		}
	}
	if err := merger.Finish(out); err != nil {
		h.failStream(w, r, out, err)
		return
	}

	h.log.Debug("Merged chunks",
		slog.String("layer", layer),
		slog.String("query", query),
		slog.Int("chunks", len(matches)),
		slog.Int64("bytes", out.n),
		slog.Duration("duration", time.Since(start)))
}

func (h *Handler) mergeChunk(ctx context.Context, merger *merge.Merger, path string, meta interfaces.ChunkMeta, out io.Writer) error {
	chunk, err := h.store.GetOne(ctx, path)
	if err != nil {
		return err
	}
	defer chunk.Close()
	return merger.Merge(ctx, chunk, meta, out)
}

// failStream reports err while a merged document is being written.
func (h *Handler) failStream(w http.ResponseWriter, r *http.Request, out *countingWriter, err error) {
	if out.n == 0 {
		w.Header().Del("Content-Type")
		h.writeError(w, "Failed to merge chunks", err)
		return
	}
	h.log.Error("Merged document truncated, aborting response",
		slog.String("path", r.URL.Path),
		slog.Int64("written", out.n),
		"err", err)
	abortResponse(r)
}

// HandleImport splits the request body into chunks and adds them to the layer.
//
// URL format: PUT|POST /store/{layer...}?tags=a,b&props=k:v
//
// Response: 202 Accepted with an api.ImportResponse.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	opts := interfaces.AddOptions{
		CorrelationID: params.Get(api.CorrelationIDParam),
		Tags:          api.ParseList(params.Get(api.TagsParam)),
		Properties:    api.ParseProperties(params.Get(api.PropsParam)),
	}

	body := http.MaxBytesReader(w, r.Body, maxDocumentSize)
	result, err := h.importer.Import(r.Context(), body, r.Header.Get("Content-Type"), storeLayer(r), opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Document too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, "Failed to import document", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, api.ImportResponse{
		CorrelationID: result.CorrelationID,
		Chunks:        len(result.Paths),
	})
}

// HandleDelete removes every chunk in the layer that matches the search query.
//
// URL format: DELETE /store/{layer...}?search=q
//
// Response: api.DeleteResponse. The status is 200 when every chunk was
// deleted and derived from the failures otherwise.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cursor, err := h.store.Get(ctx, r.URL.Query().Get(api.SearchParam), storeLayer(r))
	if err != nil {
		h.writeError(w, "Failed to query chunks", err)
		return
	}
	var paths []string
	for cursor.Next(ctx) {
		paths = append(paths, cursor.Path())
	}
	err = cursor.Err()
	cursor.Close()
	if err != nil {
		h.writeError(w, "Failed to query chunks", err)
		return
	}

	response := api.DeleteResponse{Deleted: []string{}}
	status := http.StatusOK
	if len(paths) > 0 {
		result := h.store.Delete(ctx, paths)
		if result.Deleted != nil {
			response.Deleted = result.Deleted
		}
		if len(result.Failed) > 0 {
			response.Failed = make(map[string]string, len(result.Failed))
			for p, err := range result.Failed {
				response.Failed[p] = err.Error()
			}
			status = statusFor(result.Err())
			h.log.Error("Failed to delete chunks",
				slog.Int("failed", len(result.Failed)),
				"err", result.Err())
		}
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Debug(msg, "err", err)
	}
	http.Error(w, msg+": "+err.Error(), status)
}

// statusFor maps store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrChunkNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrNamespaceConflict):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrInvalidState), errors.Is(err, interfaces.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrStorage), errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type abortKey struct{}

// abortTruncated aborts the connection after the handler returns if it
// flagged its response as truncated. It must wrap every middleware that
// recovers panics, so the abort reaches the server.
func abortTruncated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aborted := atomic.NewBool(false)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), abortKey{}, aborted)))
		if aborted.Load() {
			panic(http.ErrAbortHandler)
		}
	})
}

func abortResponse(r *http.Request) {
	if aborted, ok := r.Context().Value(abortKey{}).(*atomic.Bool); ok {
		aborted.Store(true)
		return
	}
	panic(http.ErrAbortHandler)
}

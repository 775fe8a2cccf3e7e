package splitter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/chunkstore/interfaces"
)

// ImportResult describes the chunks added by one import.
type ImportResult struct {
	CorrelationID string
	Paths         []string
}

// Importer splits documents and adds their chunks to a store.
type Importer struct {
	store interfaces.Store
	log   *slog.Logger
}

// NewImporter creates an importer writing to store.
func NewImporter(store interfaces.Store, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{store: store, log: log}
}

// Import splits the document read from r and adds every chunk to layer.
// All chunks share one correlation id, taken from opts or generated. The
// splitter is selected from contentType, or from the first non-space byte
// of the document when the content type is empty or generic. If adding a
// chunk fails, the chunks already added are deleted again.
func (i *Importer) Import(ctx context.Context, r io.Reader, contentType, layer string, opts interfaces.AddOptions) (ImportResult, error) {
	start := time.Now()
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.NewString()
	}
	result := ImportResult{CorrelationID: opts.CorrelationID}

	br := bufio.NewReader(r)
	splitter, err := detect(contentType, br)
	if err != nil {
		return result, err
	}

	err = splitter.Split(ctx, br, func(c Chunk) error {
		path, err := i.store.Add(ctx, c.Data, c.Meta, layer, opts)
		if err != nil {
			return err
		}
		result.Paths = append(result.Paths, path)
		return nil
	})
	if err != nil {
		if len(result.Paths) > 0 {
			if derr := i.store.Delete(context.WithoutCancel(ctx), result.Paths).Err(); derr != nil {
				i.log.Error("Failed to remove chunks of failed import",
					slog.String("correlation_id", result.CorrelationID),
					"err", derr)
			}
			result.Paths = nil
		}
		return result, err
	}

	i.log.Info("Imported document",
		slog.String("correlation_id", result.CorrelationID),
		slog.String("layer", layer),
		slog.Int("chunks", len(result.Paths)),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

// detect selects a splitter for the document in br.
func detect(contentType string, br *bufio.Reader) (Splitter, error) {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch {
			case mediaType == "application/xml" || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml"):
				return XMLSplitter{}, nil
			case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
				return GeoJSONSplitter{}, nil
			}
		}
	}

	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, fmt.Errorf("%w: empty document", interfaces.ErrInvalidDocument)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			br.Discard(1)
			continue
		case '<':
			return XMLSplitter{}, nil
		case '{':
			return GeoJSONSplitter{}, nil
		}
		return nil, fmt.Errorf("%w: unknown document type", interfaces.ErrInvalidDocument)
	}
}

package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/chunkstore/interfaces"
)

// Merger picks a strategy from the chunks it is initialized with.
//
// XML chunks are merged with AllSameStrategy as long as their roots are
// identical. On the first differing root the merger switches to
// NamespaceStrategy and replays every chunk seen so far. GeoJSON chunks use
// GeoJSONStrategy. Mixing XML and GeoJSON chunks is rejected.
type Merger struct {
	log      *slog.Logger
	mimeType string
	strategy Strategy
	metas    []interfaces.ChunkMeta
}

// NewMerger creates a merger.
func NewMerger(log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{log: log}
}

// Strategy returns the strategy currently in use, or nil before the first Init.
func (m *Merger) Strategy() Strategy {
	return m.strategy
}

func (m *Merger) Init(meta interfaces.ChunkMeta) error {
	if meta == nil {
		return fmt.Errorf("%w: chunk metadata is missing", interfaces.ErrInvalidState)
	}
	if m.strategy == nil {
		switch meta.MimeType() {
		case interfaces.MimeTypeXML:
			m.strategy = NewAllSameStrategy()
		case interfaces.MimeTypeGeoJSON:
			m.strategy = NewGeoJSONStrategy()
		default:
			return fmt.Errorf("%w: unsupported chunk type %s", interfaces.ErrInvalidState, meta.MimeType())
		}
		m.mimeType = meta.MimeType()
	} else if meta.MimeType() != m.mimeType {
		return fmt.Errorf("%w: cannot merge %s with %s chunks", interfaces.ErrInvalidState, meta.MimeType(), m.mimeType)
	}

	err := m.strategy.Init(meta)
	if errors.Is(err, interfaces.ErrNamespaceConflict) {
		if _, ok := m.strategy.(*AllSameStrategy); ok {
			err = m.switchToNamespaces(meta)
		}
	}
	if err != nil {
		return err
	}

	m.metas = append(m.metas, meta)
	return nil
}

func (m *Merger) switchToNamespaces(meta interfaces.ChunkMeta) error {
	ns := NewNamespaceStrategy()
	for _, prev := range m.metas {
		if err := ns.Init(prev); err != nil {
			return err
		}
	}
	if err := ns.Init(meta); err != nil {
		return err
	}

	m.log.Debug("Chunk roots differ, merging namespaces", slog.Int("chunks", len(m.metas)+1))
	m.strategy = ns
	return nil
}

func (m *Merger) Merge(ctx context.Context, chunk io.Reader, meta interfaces.ChunkMeta, out io.Writer) error {
	if m.strategy == nil {
		return fmt.Errorf("%w: merge before init", interfaces.ErrInvalidState)
	}
	return m.strategy.Merge(ctx, chunk, meta, out)
}

func (m *Merger) Finish(out io.Writer) error {
	if m.strategy == nil {
		return fmt.Errorf("%w: finish before init", interfaces.ErrInvalidState)
	}
	return m.strategy.Finish(out)
}

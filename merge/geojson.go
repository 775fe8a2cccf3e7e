package merge

import (
	"context"
	"fmt"
	"io"

	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/metrics"
)

// GeoJSONStrategy merges GeoJSON chunks. A single chunk is written as is.
// Several chunks are wrapped in a FeatureCollection, or a GeometryCollection
// if none of them is a feature. Geometries merged into a FeatureCollection
// are wrapped into features.
type GeoJSONStrategy struct {
	state    State
	metas    map[*interfaces.GeoJSONChunkMeta]struct{}
	features int
	merged   int
}

// NewGeoJSONStrategy creates a GeoJSON merging strategy.
func NewGeoJSONStrategy() *GeoJSONStrategy {
	return &GeoJSONStrategy{metas: make(map[*interfaces.GeoJSONChunkMeta]struct{})}
}

func (s *GeoJSONStrategy) Name() string { return "geojson" }
func (s *GeoJSONStrategy) State() State { return s.state }

func (s *GeoJSONStrategy) Init(meta interfaces.ChunkMeta) error {
	if s.state == StateMerging || s.state == StateFinished {
		return fmt.Errorf("%w: cannot initialize geojson strategy in state %s", interfaces.ErrInvalidState, s.state)
	}
	gm, ok := meta.(*interfaces.GeoJSONChunkMeta)
	if !ok {
		return fmt.Errorf("%w: geojson strategy cannot merge %T", interfaces.ErrInvalidState, meta)
	}
	if _, ok := s.metas[gm]; ok {
		return nil
	}
	s.metas[gm] = struct{}{}
	if isFeature(gm) {
		s.features++
	}
	s.state = StateReady
	return nil
}

func (s *GeoJSONStrategy) Merge(ctx context.Context, chunk io.Reader, meta interfaces.ChunkMeta, out io.Writer) error {
	if s.state != StateReady && s.state != StateMerging {
		return fmt.Errorf("%w: cannot merge in state %s", interfaces.ErrInvalidState, s.state)
	}
	gm, ok := meta.(*interfaces.GeoJSONChunkMeta)
	if !ok {
		return fmt.Errorf("%w: geojson strategy cannot merge %T", interfaces.ErrInvalidState, meta)
	}
	if _, ok := s.metas[gm]; !ok {
		return fmt.Errorf("%w: chunk was not passed to Init", interfaces.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.single() {
		if s.merged > 0 {
			return fmt.Errorf("%w: single chunk merged twice", interfaces.ErrInvalidState)
		}
		if err := copyPayload(chunk, meta, out); err != nil {
			return err
		}
		s.merged++
		s.state = StateMerging
		metrics.Store.MergedChunks.WithLabelValues(s.Name()).Inc()
		return nil
	}

	prefix := ","
	if s.state == StateReady {
		prefix = s.collectionOpen()
	}
	wrap := s.features > 0 && !isFeature(gm)
	if wrap {
		prefix += `{"type":"Feature","geometry":`
	}
	if _, err := io.WriteString(out, prefix); err != nil {
		return err
	}
	s.state = StateMerging

	if err := copyPayload(chunk, meta, out); err != nil {
		return err
	}
	if wrap {
		if _, err := io.WriteString(out, "}"); err != nil {
			return err
		}
	}
	s.merged++
	metrics.Store.MergedChunks.WithLabelValues(s.Name()).Inc()
	return nil
}

func (s *GeoJSONStrategy) Finish(out io.Writer) error {
	if s.state == StateUninitialized || s.state == StateFinished {
		return fmt.Errorf("%w: cannot finish in state %s", interfaces.ErrInvalidState, s.state)
	}
	if !s.single() {
		closing := "]}"
		if s.state == StateReady {
			closing = s.collectionOpen() + closing
		}
		if _, err := io.WriteString(out, closing); err != nil {
			return err
		}
	}
	s.state = StateFinished
	return nil
}

func (s *GeoJSONStrategy) single() bool {
	return len(s.metas) == 1
}

func (s *GeoJSONStrategy) collectionOpen() string {
	if s.features > 0 {
		return `{"type":"FeatureCollection","features":[`
	}
	return `{"type":"GeometryCollection","geometries":[`
}

func isFeature(m *interfaces.GeoJSONChunkMeta) bool {
	return m.Type == "Feature"
}

// Package merge combines stored chunks back into a single document.
//
// A strategy is driven in three phases. Init is called once for every chunk
// that will be merged, Merge streams the chunks in the same or any other
// order, and Finish closes the document. Strategies are not safe for
// concurrent use.
package merge

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/metrics"
)

// XMLHeader is written before the merged root element.
const XMLHeader = interfaces.XMLHeader

// State is the lifecycle position of a strategy.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateMerging
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateMerging:
		return "merging"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Strategy is a merge strategy that reports its name and state.
type Strategy interface {
	interfaces.MergeStrategy

	// Name identifies the strategy in logs and metrics.
	Name() string

	// State returns the current lifecycle state.
	State() State
}

// foldFunc combines the accumulated root with the root of another chunk.
// It must not modify acc and returns ErrNamespaceConflict when the roots
// cannot be combined.
type foldFunc func(acc, root interfaces.XMLStartElement) (interfaces.XMLStartElement, error)

// xmlStrategy holds the state machine shared by the XML strategies.
// Only the root element of every chunk is reconciled.
type xmlStrategy struct {
	name  string
	fold  foldFunc
	state State
	root  interfaces.XMLStartElement
	metas map[metaKey]struct{}
}

// metaKey identifies chunk metadata by value, so a meta decoded again from
// the index matches the one passed to Init.
type metaKey struct {
	start, end int
	parents    string
}

func keyOf(m *interfaces.XMLChunkMeta) metaKey {
	var sb strings.Builder
	for _, p := range m.Parents {
		sb.WriteString(p.String())
	}
	return metaKey{start: m.Start, end: m.End, parents: sb.String()}
}

func newXMLStrategy(name string, fold foldFunc) *xmlStrategy {
	return &xmlStrategy{
		name:  name,
		fold:  fold,
		metas: make(map[metaKey]struct{}),
	}
}

func (s *xmlStrategy) Name() string { return s.name }
func (s *xmlStrategy) State() State { return s.state }

// Root returns the reconciled root element.
func (s *xmlStrategy) Root() interfaces.XMLStartElement { return s.root }

func (s *xmlStrategy) Init(meta interfaces.ChunkMeta) error {
	if s.state == StateMerging || s.state == StateFinished {
		return fmt.Errorf("%w: cannot initialize %s strategy in state %s", interfaces.ErrInvalidState, s.name, s.state)
	}
	xm, ok := meta.(*interfaces.XMLChunkMeta)
	if !ok {
		return fmt.Errorf("%w: %s strategy cannot merge %T", interfaces.ErrInvalidState, s.name, meta)
	}
	root, ok := xm.Root()
	if !ok {
		return fmt.Errorf("%w: chunk has no root element", interfaces.ErrInvalidState)
	}

	if s.state == StateUninitialized {
		s.root = root
	} else {
		folded, err := s.fold(s.root, root)
		if err != nil {
			return err
		}
		s.root = folded
	}

	s.metas[keyOf(xm)] = struct{}{}
	s.state = StateReady
	return nil
}

func (s *xmlStrategy) Merge(ctx context.Context, chunk io.Reader, meta interfaces.ChunkMeta, out io.Writer) error {
	if s.state != StateReady && s.state != StateMerging {
		return fmt.Errorf("%w: cannot merge in state %s", interfaces.ErrInvalidState, s.state)
	}
	xm, ok := meta.(*interfaces.XMLChunkMeta)
	if !ok {
		return fmt.Errorf("%w: %s strategy cannot merge %T", interfaces.ErrInvalidState, s.name, meta)
	}
	if _, ok := s.metas[keyOf(xm)]; !ok {
		return fmt.Errorf("%w: chunk was not passed to Init", interfaces.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.state == StateReady {
		if err := s.writeOpen(out); err != nil {
			return err
		}
		s.state = StateMerging
	}

	if err := copyPayload(chunk, meta, out); err != nil {
		return err
	}
	metrics.Store.MergedChunks.WithLabelValues(s.name).Inc()
	return nil
}

func (s *xmlStrategy) Finish(out io.Writer) error {
	switch s.state {
	case StateUninitialized, StateFinished:
		return fmt.Errorf("%w: cannot finish in state %s", interfaces.ErrInvalidState, s.state)
	case StateReady:
		if err := s.writeOpen(out); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(out, "</"+s.root.Name()+">"); err != nil {
		return err
	}
	s.state = StateFinished
	return nil
}

func (s *xmlStrategy) writeOpen(out io.Writer) error {
	_, err := io.WriteString(out, XMLHeader+s.root.String())
	return err
}

// copyPayload streams the payload range of chunk to out without buffering it.
func copyPayload(chunk io.Reader, meta interfaces.ChunkMeta, out io.Writer) error {
	start, end := int64(meta.StartOffset()), int64(meta.EndOffset())
	if start < 0 || end < start {
		return fmt.Errorf("%w: invalid chunk range [%d, %d)", interfaces.ErrInvalidState, start, end)
	}
	if _, err := io.CopyN(io.Discard, chunk, start); err != nil {
		return fmt.Errorf("%w: skipping chunk prefix: %w", interfaces.ErrStorage, err)
	}
	if _, err := io.CopyN(out, chunk, end-start); err != nil {
		return fmt.Errorf("%w: copying chunk payload: %w", interfaces.ErrStorage, err)
	}
	return nil
}

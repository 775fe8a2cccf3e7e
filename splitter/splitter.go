// Package splitter cuts imported documents into chunks that can be stored
// and queried individually and merged back later.
package splitter

import (
	"context"
	"io"

	"github.com/ruteri/chunkstore/interfaces"
)

// Chunk is one piece of a split document. Data is a complete document on
// its own; Meta locates the payload inside Data.
type Chunk struct {
	Data []byte
	Meta interfaces.ChunkMeta
}

// Splitter splits a document read from r and calls emit for every chunk in
// document order. Splitting stops at the first error returned by emit.
type Splitter interface {
	Split(ctx context.Context, r io.Reader, emit func(Chunk) error) error
}

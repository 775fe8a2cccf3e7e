package interfaces

import (
	"context"
	"io"
)

// MergeStrategy reassembles independently stored chunks into one document.
//
// Every chunk must be announced with Init before the first Merge, Merge is
// only valid for metadata previously passed to Init, and Finish is called
// exactly once. Strategies are not safe for concurrent use.
type MergeStrategy interface {
	// Init folds the chunk's metadata into the merged document structure.
	Init(meta ChunkMeta) error

	// Merge streams the payload of chunk to out, writing the document
	// prologue first if nothing has been written yet.
	Merge(ctx context.Context, chunk io.Reader, meta ChunkMeta, out io.Writer) error

	// Finish writes the closing structure of the document.
	Finish(out io.Writer) error
}

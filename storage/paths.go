package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

var uniqueCounter = atomic.NewUint64(0)

// UniqueID returns an identifier that no other call in this or any other
// process returns: a time ordered uuid followed by a process-wide sequence
// number. IDs created by one process sort in creation order, which keeps the
// chunks of an import in document order.
func UniqueID() string {
	id := uuid.Must(uuid.NewV7())
	return fmt.Sprintf("%x%x", id[:], uniqueCounter.Inc())
}

// NormalizeLayer returns layer in "/a/b/" form. The root layer is "/".
func NormalizeLayer(layer string) string {
	cleaned := path.Clean("/" + strings.Trim(layer, "/"))
	if cleaned == "/" {
		return "/"
	}
	return cleaned + "/"
}

// ChunkPath builds a fresh chunk path inside layer for the given correlation id.
func ChunkPath(layer, correlationID string) string {
	return NormalizeLayer(layer) + correlationID + UniqueID()
}

// cleanChunkPath makes path absolute and removes any ".." elements so it can
// be joined safely under a backend root.
func cleanChunkPath(p string) string {
	return path.Clean("/" + p)
}

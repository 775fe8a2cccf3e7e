// Package interfaces defines the core interfaces and types of the chunk store,
// separating interface definitions from implementations.
//
// # Chunk Metadata
//
// ChunkMeta: Describes where the payload of a chunk starts and ends and which
// document type it was split from. Two variants exist:
//
//   - XMLChunkMeta: the ancestor chain (XMLStartElement values, root first)
//     plus payload offsets
//   - GeoJSONChunkMeta: the GeoJSON type and the collection field the chunk
//     was taken from
//
// # Storage Interfaces
//
// Store: The uniform surface used by the HTTP layer and the importer. It
// combines a ChunkBackend with a MetadataIndex.
//
// ChunkBackend: Persists raw chunk bytes under unique paths (file, badger,
// blob, IPFS, Vault, mirror).
//
// MetadataIndex: Records chunk metadata and returns lazy Cursors for queries.
//
// # Merging
//
// MergeStrategy: Reassembles chunks into one document following the
// Init / Merge / Finish protocol.
//
// # Error Types
//
// Standard errors returned across the store, to be checked with errors.Is:
//
//   - ErrConfiguration: The store cannot be built from its configuration
//   - ErrChunkNotFound: Chunk not found in the storage system
//   - ErrNamespaceConflict: Chunks cannot be merged into one root
//   - ErrInvalidState: Merge strategy driven out of order
//   - ErrInvalidDocument: An imported document cannot be split
//   - ErrStorage: The underlying storage system failed
//   - ErrBackendUnavailable: Storage backend is not accessible
package interfaces

// Package storage provides chunk backends and the indexed chunk store.
//
// A chunk backend persists raw chunk bytes under hierarchical paths of the
// form "/layer/sub/<correlation-id><unique-id>". The backend kinds are:
//
//   - file: one file per chunk below a base directory
//   - badger: an embedded badger database, optionally zstd compressed
//   - blob: any gocloud.dev bucket (s3://, file://, mem://)
//   - ipfs: the mutable files API of an IPFS node
//   - vault: a HashiCorp Vault KV v2 mount, chunks stored base64 encoded
//   - mirror: writes every chunk to several of the above under one path
//
// Backends that hold connections or database handles acquire them through a
// resource.Registry, so all stores pointing at the same target share one
// handle. Closing a backend releases its reference.
//
// # Configuration
//
// Backends are selected by the "storage.backend" key and located by
// "storage.target":
//
//	storage:
//	  backend: blob
//	  target: s3://minio:minio123@chunks?endpoint=localhost:9000&region=us-east-1&disableSSL=true
//
// A mirror lists its children as kind=target pairs:
//
//	storage:
//	  backend: mirror
//	  mirror:
//	    targets: ["file=/var/lib/chunks", "ipfs=localhost:5001"]
//
// # Indexed store
//
// IndexedStore pairs a backend with a metadata index. Chunk metadata, tags
// and properties are written to the index after the bytes are stored, and
// queries run against the index only:
//
//	factory := storage.NewStoreFactory(logger, nil)
//	store, err := factory.CreateStore(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	cursor, err := store.Get(ctx, "capital country=de", "/cities")
package storage

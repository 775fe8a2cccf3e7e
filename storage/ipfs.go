package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
)

const defaultIPFSRoot = "/chunkstore"

func init() {
	RegisterBackend(IPFSKind, func(_ context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		return NewIPFSBackend(sf.registry, cfg.Target, sf.log)
	})
}

// ipfsClient is the shared handle of an IPFS API endpoint.
type ipfsClient struct {
	*shell.Shell
	httpClient *http.Client
}

func (c *ipfsClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// IPFSBackend implements a chunk backend on the mutable file system (MFS)
// of an IPFS node. Chunks are files below a root directory; layers are
// subdirectories.
type IPFSBackend struct {
	client      *resource.Shared[*ipfsClient]
	apiURL      string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the IPFS API at target.
// Target format: [http://]host:port[/mfs/root]. The root defaults to /chunkstore.
func NewIPFSBackend(reg *resource.Registry, target string, log *slog.Logger) (*IPFSBackend, error) {
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid IPFS target: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid IPFS target %q: missing host", target)
	}

	root := path.Clean("/" + strings.Trim(u.Path, "/"))
	if root == "/" {
		root = defaultIPFSRoot
	}
	apiURL := fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	shared, err := resource.Acquire(resource.OrDefault(reg), "ipfs://"+u.Host, func() (*ipfsClient, error) {
		httpClient := &http.Client{Timeout: 30 * time.Second}
		return &ipfsClient{
			Shell:      shell.NewShellWithClient(apiURL, httpClient),
			httpClient: httpClient,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	return &IPFSBackend{
		client:      shared,
		apiURL:      apiURL,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", u.Host, root),
	}, nil
}

func (b *IPFSBackend) mfsPath(p string) string {
	return b.root + cleanChunkPath(p)
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}

// GetOne reads the chunk file from MFS. Returns ErrChunkNotFound if the file doesn't exist.
func (b *IPFSBackend) GetOne(ctx context.Context, p string) (io.ReadCloser, error) {
	start := time.Now()
	mfsPath := b.mfsPath(p)

	reader, err := b.client.Value().FilesRead(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			b.log.Debug("Chunk not found in IPFS",
				slog.String("path", mfsPath),
				slog.Duration("duration", time.Since(start)))
			return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, p)
		}

		b.log.Error("Failed to fetch chunk from IPFS",
			slog.String("path", mfsPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	return reader, nil
}

// Add writes chunk to a new MFS file, creating parent directories.
func (b *IPFSBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	p := ChunkPath(layer, correlationID)
	if err := b.Put(ctx, p, chunk); err != nil {
		return "", err
	}
	return p, nil
}

// Put writes chunk to the MFS file for path.
func (b *IPFSBackend) Put(ctx context.Context, p string, chunk []byte) error {
	mfsPath := b.mfsPath(p)

	err := b.client.Value().FilesWrite(ctx, mfsPath, bytes.NewReader(chunk),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true))
	if err != nil {
		b.log.Error("Failed to add chunk to IPFS", slog.String("path", mfsPath), "err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Stored chunk in IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(chunk)))
	return nil
}

// Delete removes the chunk files. Files that don't exist count as deleted.
func (b *IPFSBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	var result interfaces.DeleteResult
	for _, p := range paths {
		err := b.client.Value().FilesRm(ctx, b.mfsPath(p), true)
		if err != nil && !isIPFSNotFound(err) {
			result.Fail(p, fmt.Errorf("%w: %w", interfaces.ErrStorage, err))
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return "ipfs"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

// Close releases this backend's reference to the shared API client.
func (b *IPFSBackend) Close() error {
	return b.client.Release()
}

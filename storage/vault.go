package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
)

func init() {
	RegisterBackend(VaultKind, func(_ context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		return NewVaultBackend(sf.registry, cfg.Target, cfg.VaultMount, cfg.VaultToken, sf.log)
	})
}

// vaultClient is the shared handle of a Vault server and token.
type vaultClient struct {
	*api.Client
	httpClient *http.Client
}

func (c *vaultClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// VaultBackend implements a chunk backend on a HashiCorp Vault KV v2 mount.
// Chunk bytes are stored base64 encoded under the "chunk" key of a secret.
type VaultBackend struct {
	client      *resource.Shared[*vaultClient]
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault chunk backend.
//
// Parameters:
//   - target: Vault server address with an optional data path (e.g. https://vault.example.com:8200/chunks)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - token: Vault token used for all requests
//   - log: Structured logger for operational insights
func NewVaultBackend(reg *resource.Registry, target, mountPath, token string, log *slog.Logger) (*VaultBackend, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid Vault address %q", target)
	}
	address := fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	// Ensure paths are properly formatted
	mountPath = strings.Trim(mountPath, "/")
	dataPath := strings.Trim(u.Path, "/")
	if mountPath == "" {
		mountPath = config.DefaultVaultMount
	}

	tokenHash := sha256.Sum256([]byte(token))
	key := fmt.Sprintf("vault://%s#%x", address, tokenHash[:8])

	shared, err := resource.Acquire(resource.OrDefault(reg), key, func() (*vaultClient, error) {
		httpClient := &http.Client{Timeout: 30 * time.Second}

		cfg := api.DefaultConfig()
		cfg.Address = address
		cfg.HttpClient = httpClient

		client, err := api.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Vault client: %w", err)
		}
		client.SetToken(token)
		return &vaultClient{Client: client, httpClient: httpClient}, nil
	})
	if err != nil {
		return nil, err
	}

	return &VaultBackend{
		client:      shared,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", u.Host, mountPath, dataPath),
	}, nil
}

// secretPath returns the KV v2 path below the data or metadata endpoint.
func (b *VaultBackend) secretPath(endpoint, p string) string {
	p = strings.TrimPrefix(cleanChunkPath(p), "/")
	if b.dataPath != "" {
		return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, endpoint, b.dataPath, p)
	}
	return fmt.Sprintf("%s/%s/%s", b.mountPath, endpoint, p)
}

// GetOne reads the chunk secret. Returns ErrChunkNotFound if no secret exists.
func (b *VaultBackend) GetOne(ctx context.Context, p string) (io.ReadCloser, error) {
	start := time.Now()
	secretPath := b.secretPath("data", p)

	secret, err := b.client.Value().Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", secretPath),
			"err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Chunk not found in Vault", slog.String("path", secretPath))
		return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, p)
	}

	// Extract data from the response (KV v2 format)
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// deleted versions come back with null data
		return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, p)
	}

	encoded, ok := data["chunk"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: chunk key not found in Vault data", interfaces.ErrStorage)
	}

	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid chunk encoding in Vault data: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Fetched chunk from Vault",
		slog.String("path", secretPath),
		slog.Int("size", len(chunk)),
		slog.Duration("duration", time.Since(start)))

	return io.NopCloser(bytes.NewReader(chunk)), nil
}

// Add writes chunk as a new secret.
func (b *VaultBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	p := ChunkPath(layer, correlationID)
	if err := b.Put(ctx, p, chunk); err != nil {
		return "", err
	}
	return p, nil
}

// Put writes chunk as the secret for path.
func (b *VaultBackend) Put(ctx context.Context, p string, chunk []byte) error {
	secretPath := b.secretPath("data", p)

	// Prepare data for Vault (KV v2 format)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"chunk": base64.StdEncoding.EncodeToString(chunk),
		},
	}

	if _, err := b.client.Value().Logical().WriteWithContext(ctx, secretPath, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Stored chunk in Vault",
		slog.String("path", secretPath),
		slog.Int("size", len(chunk)))
	return nil
}

// Delete removes every version and the metadata of each chunk secret.
// Vault reports success for secrets that don't exist.
func (b *VaultBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	var result interfaces.DeleteResult
	for _, p := range paths {
		if _, err := b.client.Value().Logical().DeleteWithContext(ctx, b.secretPath("metadata", p)); err != nil {
			result.Fail(p, fmt.Errorf("%w: %w", interfaces.ErrStorage, err))
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// Close releases this backend's reference to the shared client.
func (b *VaultBackend) Close() error {
	return b.client.Release()
}

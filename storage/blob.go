package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/interfaces"
	"github.com/ruteri/chunkstore/resource"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

func init() {
	RegisterBackend(BlobKind, func(ctx context.Context, sf *StoreFactory, cfg config.StorageConfig) (interfaces.ChunkBackend, error) {
		return NewBlobBackend(ctx, sf.registry, cfg.Target, sf.log)
	})
}

// BlobBackend implements a chunk backend on an object store bucket.
//
// The bucket is shared through the resource registry keyed by its connection
// string, so all backends pointing at the same endpoint reuse one client and
// its connection pool.
type BlobBackend struct {
	bucket      *resource.Shared[*blob.Bucket]
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewBlobBackend opens (or reuses) the bucket identified by target.
//
// Supported targets:
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=minio:9000&disableSSL=true
//   - mem:// - in-process bucket, mostly for tests
//   - file:///absolute/path - local directory bucket
func NewBlobBackend(ctx context.Context, reg *resource.Registry, target string, log *slog.Logger) (*BlobBackend, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket URL: %w", err)
	}

	var prefix string
	if u.Scheme == "s3" {
		prefix = strings.Trim(u.Path, "/")
		if prefix != "" {
			prefix += "/"
		}
	}

	shared, err := resource.Acquire(resource.OrDefault(reg), "blob://"+target, func() (*blob.Bucket, error) {
		return openBucket(ctx, u, log)
	})
	if err != nil {
		return nil, err
	}

	locationURI := target
	if u.User != nil {
		// never report credentials
		u.User = nil
		locationURI = u.String()
	}

	return &BlobBackend{
		bucket:      shared,
		prefix:      prefix,
		log:         log,
		locationURI: locationURI,
	}, nil
}

func openBucket(ctx context.Context, u *url.URL, log *slog.Logger) (*blob.Bucket, error) {
	if u.Scheme != "s3" {
		log.Debug("Opening bucket", slog.String("scheme", u.Scheme))
		return blob.OpenBucket(ctx, u.String())
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	awsConfig := &aws.Config{
		Region:     aws.String(region),
		DisableSSL: aws.Bool(query.Get("disableSSL") == "true"),
	}
	// Set custom endpoint for S3 compatible deployments.
	if endpoint := query.Get("endpoint"); endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if u.User != nil {
		secretKey, _ := u.User.Password()
		awsConfig.Credentials = credentials.NewStaticCredentials(u.User.Username(), secretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating amazon session: %w", err)
	}

	log.Debug("Opening S3 bucket", slog.String("bucket", u.Host), slog.String("region", region))
	return s3blob.OpenBucket(ctx, sess, u.Host, nil)
}

func (b *BlobBackend) key(path string) string {
	return b.prefix + strings.TrimPrefix(cleanChunkPath(path), "/")
}

// GetOne opens a streaming reader on the chunk object.
func (b *BlobBackend) GetOne(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := b.bucket.Value().NewReader(ctx, b.key(path), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrChunkNotFound, path)
		}
		b.log.Error("Failed to open chunk object", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrStorage, err)
	}
	return r, nil
}

// Add uploads chunk as a new object.
func (b *BlobBackend) Add(ctx context.Context, chunk []byte, layer, correlationID string) (string, error) {
	path := ChunkPath(layer, correlationID)
	if err := b.Put(ctx, path, chunk); err != nil {
		return "", err
	}
	return path, nil
}

// Put uploads chunk as the object for path.
func (b *BlobBackend) Put(ctx context.Context, path string, chunk []byte) error {
	if err := b.bucket.Value().WriteAll(ctx, b.key(path), chunk, nil); err != nil {
		b.log.Error("Failed to upload chunk object", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrStorage, err)
	}

	b.log.Debug("Stored chunk in bucket",
		slog.String("path", path),
		slog.Int("size", len(chunk)))
	return nil
}

// Delete removes the chunk objects. Objects that don't exist count as deleted.
func (b *BlobBackend) Delete(ctx context.Context, paths []string) interfaces.DeleteResult {
	var result interfaces.DeleteResult
	for _, p := range paths {
		err := b.bucket.Value().Delete(ctx, b.key(p))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			result.Fail(p, fmt.Errorf("%w: %w", interfaces.ErrStorage, err))
			continue
		}
		result.Succeed(p)
	}
	return result
}

// Name returns a unique identifier for this storage backend.
func (b *BlobBackend) Name() string {
	return "blob"
}

// LocationURI returns the bucket URL without credentials.
func (b *BlobBackend) LocationURI() string {
	return b.locationURI
}

// Close releases this backend's reference to the shared bucket.
func (b *BlobBackend) Close() error {
	return b.bucket.Release()
}

package provider

import (
	"bytes"
	"context"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/platewise/imagegate/internal/config"
	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// MinIO is the first-party object store adapter. It has no resizing
// pipeline, so every variant tier carries the original URL and
// GetOptimizedURL is the identity. What it gives up in features it returns
// in independence: the router leans on it as the backend that is always
// worth attempting.
type MinIO struct {
	client     *minio.Client
	bucket     string
	publicBase string
	logger     *utils.StructuredLogger
}

// NewMinIO creates the client and verifies nothing: bucket setup is an
// operational concern handled at deploy time.
func NewMinIO(cfg config.MinIOConfig, logger *utils.StructuredLogger) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidConfig, "minio: endpoint must be set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeInvalidConfig, "minio: create client")
	}

	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	return &MinIO{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:     logger.WithComponent("provider.minio"),
	}, nil
}

// Name returns the backend identifier.
func (p *MinIO) Name() types.Backend {
	return types.BackendMinIO
}

// Upload streams the object into the bucket. All five tiers get the same
// URL: minio serves the original at every size.
func (p *MinIO) Upload(ctx context.Context, data []byte, fileName string, opts types.UploadOptions) (*types.UploadedObject, error) {
	key := objectKey(opts.Folder, fileName)

	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: detectContentType(data),
	})
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "minio: put object").
			WithBackend(string(types.BackendMinIO)).
			WithDetail("key", key)
	}

	url := p.publicBase + "/" + key

	return &types.UploadedObject{
		URL:             url,
		BackendObjectID: key,
		Variants:        sameURLVariants(url),
	}, nil
}

// Delete removes the object from the bucket.
func (p *MinIO) Delete(ctx context.Context, backendObjectID string) (bool, error) {
	err := p.client.RemoveObject(ctx, p.bucket, backendObjectID, minio.RemoveObjectOptions{})
	if err != nil {
		return false, gwerrors.Wrap(err, gwerrors.ErrCodeDeleteFailed, "minio: remove object").
			WithBackend(string(types.BackendMinIO)).
			WithDetail("key", backendObjectID)
	}
	return true, nil
}

// GetOptimizedURL returns the input unchanged: minio has no transforms.
func (p *MinIO) GetOptimizedURL(url string, opts types.TransformOptions) string {
	return url
}

// IsAvailable checks the bucket exists and is reachable.
func (p *MinIO) IsAvailable(ctx context.Context) bool {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		p.logger.Debug("availability probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return exists
}

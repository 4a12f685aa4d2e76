package provider

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platewise/imagegate/internal/config"
	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// s3API is the slice of the S3 client the adapter uses. Narrowed for tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3CDN stores objects in an S3 bucket fronted by a CDN distribution. The
// CDN resizes at the edge via query parameters, so variants are plain URL
// templating and no derived objects are stored.
type S3CDN struct {
	client    s3API
	bucket    string
	cdnBase   string
	keyPrefix string
	logger    *utils.StructuredLogger
}

// NewS3CDN builds the adapter from configuration. Static credentials take
// precedence; otherwise the default AWS credential chain applies.
func NewS3CDN(ctx context.Context, cfg config.S3CDNConfig, logger *utils.StructuredLogger) (*S3CDN, error) {
	if cfg.Bucket == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidConfig, "s3cdn: bucket must be set")
	}
	if cfg.CDNBaseURL == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidConfig, "s3cdn: cdn_base_url must be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeInvalidConfig, "s3cdn: load aws config")
	}

	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	return &S3CDN{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    cfg.Bucket,
		cdnBase:   strings.TrimRight(cfg.CDNBaseURL, "/"),
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		logger:    logger.WithComponent("provider.s3cdn"),
	}, nil
}

// Name returns the backend identifier.
func (p *S3CDN) Name() types.Backend {
	return types.BackendS3CDN
}

// Upload puts the object and returns CDN URLs. Variant tiers are produced
// by width query parameters the CDN resolves at the edge.
func (p *S3CDN) Upload(ctx context.Context, data []byte, fileName string, opts types.UploadOptions) (*types.UploadedObject, error) {
	folder := opts.Folder
	if p.keyPrefix != "" {
		folder = p.keyPrefix + "/" + folder
	}
	key := objectKey(folder, fileName)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(detectContentType(data)),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "s3cdn: put object").
			WithBackend(string(types.BackendS3CDN)).
			WithDetail("key", key)
	}

	url := p.cdnBase + "/" + key

	obj := &types.UploadedObject{
		URL:             url,
		BackendObjectID: key,
	}
	if opts.GenerateVariants {
		obj.Variants = queryVariants(url, "w")
	} else {
		obj.Variants = map[types.VariantTier]string{types.TierOriginal: url}
	}
	return obj, nil
}

// Delete removes the object from the bucket.
func (p *S3CDN) Delete(ctx context.Context, backendObjectID string) (bool, error) {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(backendObjectID),
	})
	if err != nil {
		return false, gwerrors.Wrap(err, gwerrors.ErrCodeDeleteFailed, "s3cdn: delete object").
			WithBackend(string(types.BackendS3CDN)).
			WithDetail("key", backendObjectID)
	}
	return true, nil
}

// GetOptimizedURL appends edge-resize query parameters to a CDN URL. URLs
// outside this distribution are returned unchanged.
func (p *S3CDN) GetOptimizedURL(url string, opts types.TransformOptions) string {
	if !strings.HasPrefix(url, p.cdnBase) {
		return url
	}

	var params []string
	if opts.Width > 0 {
		params = append(params, fmt.Sprintf("w=%d", opts.Width))
	}
	if opts.Height > 0 {
		params = append(params, fmt.Sprintf("h=%d", opts.Height))
	}
	if opts.Quality > 0 {
		params = append(params, fmt.Sprintf("q=%d", opts.Quality))
	}
	if opts.Format != "" {
		params = append(params, "f="+opts.Format)
	}
	return appendQuery(url, strings.Join(params, "&"))
}

// IsAvailable heads the bucket. Any failure reads as unavailable.
func (p *S3CDN) IsAvailable(ctx context.Context) bool {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		p.logger.Debug("availability probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

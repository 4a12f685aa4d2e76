package types

import (
	"context"
)

// ProviderAdapter is the contract every storage backend satisfies. The
// router and storage service depend only on this interface; the four
// implementations live in internal/provider.
type ProviderAdapter interface {
	// Name returns the backend this adapter talks to.
	Name() Backend

	// Upload stores data under fileName and returns the public URL, the
	// backend-native object handle, and whatever variant tiers the backend
	// can produce. Backends without native resizing fill every tier with
	// the original URL.
	Upload(ctx context.Context, data []byte, fileName string, opts UploadOptions) (*UploadedObject, error)

	// Delete removes the object behind backendObjectID. The returned bool
	// is the backend's confirmation; backends that structurally cannot
	// delete return false with a nil error.
	Delete(ctx context.Context, backendObjectID string) (bool, error)

	// GetOptimizedURL derives a transform URL when the backend supports
	// on-the-fly transforms, otherwise returns url unchanged.
	GetOptimizedURL(url string, opts TransformOptions) string

	// IsAvailable is a lightweight reachability/credential probe. It never
	// panics or returns an error; any failure reads as false.
	IsAvailable(ctx context.Context) bool
}

// MetadataStore is the persistent side of the image catalog. The cache
// manager is its only caller; everything else goes through the cache.
type MetadataStore interface {
	InsertImage(ctx context.Context, meta *ImageMetadata) (*ImageMetadata, error)
	GetImage(ctx context.Context, id string) (*ImageMetadata, error)
	GetImageByURL(ctx context.Context, url string) (*ImageMetadata, error)
	UpdateImage(ctx context.Context, id string, upd ImageUpdate) (*ImageMetadata, error)
	SoftDeleteImage(ctx context.Context, id string) error
	ListImages(ctx context.Context, tenantID string, filter ImageFilter) ([]*ImageMetadata, error)

	// TouchImageAccess bumps access_count and last_accessed_at. Callers
	// treat it as best-effort.
	TouchImageAccess(ctx context.Context, id string) error
}

// QuotaStore persists per-(tenant, backend) usage rows.
type QuotaStore interface {
	GetQuota(ctx context.Context, tenantID string, backend Backend) (*ProviderQuota, error)
	ListQuotas(ctx context.Context, tenantID string) ([]*ProviderQuota, error)
	InsertQuota(ctx context.Context, quota *ProviderQuota) error

	// IncrementQuotaUsage atomically adds bytes to the monthly and lifetime
	// counters and bumps the request counters by one.
	IncrementQuotaUsage(ctx context.Context, tenantID string, backend Backend, bytes int64) error

	UpdateQuotaLimits(ctx context.Context, tenantID string, backend Backend, limits QuotaLimits) error

	// ResetMonthlyQuotas zeroes every row's monthly counters and stamps
	// last_reset_at.
	ResetMonthlyQuotas(ctx context.Context) error
}

package types

import (
	"time"
)

// Backend identifies one of the blob-storage systems an image can live in.
type Backend string

const (
	// BackendS3CDN is the primary high-capacity backend: an S3 bucket
	// fronted by a CDN distribution with edge resizing.
	BackendS3CDN Backend = "s3cdn"
	// BackendImgCDN is the secondary high-capacity backend: a hosted image
	// CDN with URL-path transforms.
	BackendImgCDN Backend = "imgcdn"
	// BackendMinIO is the first-party object store. Small limits, no native
	// resizing, but no external dependency either; the router uses it as
	// the guaranteed last resort.
	BackendMinIO Backend = "minio"
	// BackendPhotoArc is the photo archive backend. Upload-only: its API
	// has no delete operation.
	BackendPhotoArc Backend = "photoarc"
)

// AllBackends lists every backend in priority order.
var AllBackends = []Backend{BackendS3CDN, BackendImgCDN, BackendMinIO, BackendPhotoArc}

// Valid reports whether b is one of the four known backends.
func (b Backend) Valid() bool {
	switch b {
	case BackendS3CDN, BackendImgCDN, BackendMinIO, BackendPhotoArc:
		return true
	}
	return false
}

// ImageCategory classifies what an uploaded image is used for. Routing
// defaults are keyed on the category.
type ImageCategory string

const (
	CategoryProduct   ImageCategory = "product"
	CategoryProfile   ImageCategory = "profile"
	CategoryLogo      ImageCategory = "logo"
	CategoryIcon      ImageCategory = "icon"
	CategoryUserPhoto ImageCategory = "user-photo"
	CategoryMenuScan  ImageCategory = "menu-scan"
)

// Valid reports whether c is a known image category.
func (c ImageCategory) Valid() bool {
	switch c {
	case CategoryProduct, CategoryProfile, CategoryLogo, CategoryIcon, CategoryUserPhoto, CategoryMenuScan:
		return true
	}
	return false
}

// VariantTier names one of the five standard derived sizes of an image.
type VariantTier string

const (
	TierThumbnail VariantTier = "thumbnail"
	TierSmall     VariantTier = "small"
	TierMedium    VariantTier = "medium"
	TierLarge     VariantTier = "large"
	TierOriginal  VariantTier = "original"
)

// VariantTiers lists the tiers from smallest to largest.
var VariantTiers = []VariantTier{TierThumbnail, TierSmall, TierMedium, TierLarge, TierOriginal}

// TierWidths maps each resized tier to its target pixel width. TierOriginal
// is absent: it is never resized.
var TierWidths = map[VariantTier]int{
	TierThumbnail: 150,
	TierSmall:     300,
	TierMedium:    600,
	TierLarge:     1200,
}

// ImageStatus tracks the lifecycle of a stored image record.
type ImageStatus string

const (
	StatusPending   ImageStatus = "pending"
	StatusCompleted ImageStatus = "completed"
	StatusFailed    ImageStatus = "failed"
)

// ImageMetadata is one row of the image catalog. A record is soft-deleted by
// stamping DeletedAt; soft-deleted rows are excluded from every read path.
type ImageMetadata struct {
	ID              string                 `json:"id"`
	TenantID        string                 `json:"tenant_id"`
	Backend         Backend                `json:"backend"`
	Category        ImageCategory          `json:"category"`
	OriginalURL     string                 `json:"original_url"`
	CDNURL          string                 `json:"cdn_url,omitempty"`
	ThumbnailURL    string                 `json:"thumbnail_url,omitempty"`
	BackendObjectID string                 `json:"backend_object_id"`
	FileName        string                 `json:"file_name"`
	FileSizeBytes   int64                  `json:"file_size_bytes"`
	MimeType        string                 `json:"mime_type"`
	Width           int                    `json:"width,omitempty"`
	Height          int                    `json:"height,omitempty"`
	Variants        map[VariantTier]string `json:"variants,omitempty"`
	AltText         string                 `json:"alt_text,omitempty"`
	Caption         string                 `json:"caption,omitempty"`
	CacheControl    string                 `json:"cache_control,omitempty"`
	AccessCount     int64                  `json:"access_count"`
	LastAccessedAt  *time.Time             `json:"last_accessed_at,omitempty"`
	Status          ImageStatus            `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	DeletedAt       *time.Time             `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record has been soft-deleted.
func (m *ImageMetadata) Deleted() bool {
	return m.DeletedAt != nil
}

// ImageUpdate carries a partial update to an ImageMetadata row. Nil fields
// are left untouched.
type ImageUpdate struct {
	Status       *ImageStatus
	ErrorMessage *string
	OriginalURL  *string
	CDNURL       *string
	ThumbnailURL *string
	Variants     map[VariantTier]string
	AltText      *string
	Caption      *string
	CacheControl *string
	Width        *int
	Height       *int
}

// ImageFilter narrows a tenant listing.
type ImageFilter struct {
	Category ImageCategory
	Limit    int
	Offset   int
}

// ProviderQuota is one row of per-(tenant, backend) usage accounting.
// Monthly counters are soft limits: admission control checks them before an
// upload, but concurrent uploads may overshoot by one file (see the quota
// manager).
type ProviderQuota struct {
	TenantID                string    `json:"tenant_id"`
	Backend                 Backend   `json:"backend"`
	MonthlyUploadLimitBytes int64     `json:"monthly_upload_limit_bytes"`
	MonthlyRequestLimit     int64     `json:"monthly_request_limit"`
	MaxFileSizeBytes        int64     `json:"max_file_size_bytes"`
	CurrentMonthBytes       int64     `json:"current_month_bytes"`
	CurrentMonthRequests    int64     `json:"current_month_requests"`
	LastResetAt             time.Time `json:"last_reset_at"`
	TotalBytesUploaded      int64     `json:"total_bytes_uploaded"`
	TotalUploads            int64     `json:"total_uploads"`
	TotalRequests           int64     `json:"total_requests"`
	IsEnabled               bool      `json:"is_enabled"`
	Priority                int       `json:"priority"`
}

// QuotaLimits carries an update to a quota row's configured limits.
type QuotaLimits struct {
	MonthlyUploadLimitBytes *int64
	MonthlyRequestLimit     *int64
	MaxFileSizeBytes        *int64
	IsEnabled               *bool
	Priority                *int
}

// UploadRequest is the external upload interface of the gateway.
type UploadRequest struct {
	TenantID         string        `json:"tenant_id"`
	Category         ImageCategory `json:"category"`
	FileName         string        `json:"file_name"`
	MimeType         string        `json:"mime_type"`
	Data             []byte        `json:"-"`
	AltText          string        `json:"alt_text,omitempty"`
	Caption          string        `json:"caption,omitempty"`
	Optimize         bool          `json:"optimize"`
	GenerateVariants bool          `json:"generate_variants"`
}

// UploadResult is what an upload call returns. Exactly one of Image and
// Error is populated.
type UploadResult struct {
	Success           bool           `json:"success"`
	Image             *ImageMetadata `json:"image,omitempty"`
	Error             string         `json:"error,omitempty"`
	Backend           Backend        `json:"backend,omitempty"`
	OriginalSizeBytes int64          `json:"original_size_bytes,omitempty"`
	DurationMs        int64          `json:"duration_ms"`
}

// UploadOptions is passed through to a provider adapter.
type UploadOptions struct {
	Folder           string
	Optimize         bool
	GenerateVariants bool
}

// UploadedObject is what a provider adapter reports back after a successful
// upload. Width/Height are zero when the backend does not report dimensions.
type UploadedObject struct {
	URL             string
	BackendObjectID string
	Variants        map[VariantTier]string
	Width           int
	Height          int
}

// TransformOptions parameterizes an on-the-fly transform URL.
type TransformOptions struct {
	Width   int
	Height  int
	Quality int
	Format  string
}

// BackendUsage is one backend's slice of a tenant usage summary.
type BackendUsage struct {
	Backend              Backend `json:"backend"`
	CurrentMonthBytes    int64   `json:"current_month_bytes"`
	MonthlyUploadLimit   int64   `json:"monthly_upload_limit_bytes"`
	CurrentMonthRequests int64   `json:"current_month_requests"`
	MonthlyRequestLimit  int64   `json:"monthly_request_limit"`
	PercentOfLimit       float64 `json:"percent_of_limit"`
	Enabled              bool    `json:"enabled"`
}

// UsageSummary aggregates a tenant's quota rows.
type UsageSummary struct {
	TenantID      string         `json:"tenant_id"`
	TotalBytes    int64          `json:"total_bytes"`
	TotalRequests int64          `json:"total_requests"`
	Backends      []BackendUsage `json:"backends"`
}

// CacheStats reports metadata cache performance.
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

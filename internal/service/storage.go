// Package service contains the storage service, the gateway's public entry
// point. It drives router → provider adapter (with fallback) → cache
// manager → quota manager on every upload, and serves reads, deletes,
// optimized URLs, and usage summaries.
package service

import (
	"context"
	"time"

	"github.com/platewise/imagegate/internal/cache"
	"github.com/platewise/imagegate/internal/circuit"
	"github.com/platewise/imagegate/internal/metrics"
	"github.com/platewise/imagegate/internal/quota"
	"github.com/platewise/imagegate/internal/router"
	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/retry"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// Config holds storage service tunables.
type Config struct {
	// AdapterTimeout bounds one adapter network call; a timeout is an
	// ordinary adapter failure and the fallback chain continues.
	AdapterTimeout time.Duration

	// CacheControl is stamped onto every stored record for serving.
	CacheControl string
}

// Storage orchestrates uploads, reads, deletes, and usage reporting.
type Storage struct {
	router   *router.Router
	adapters map[types.Backend]types.ProviderAdapter
	cache    *cache.Manager
	quota    *quota.Manager
	store    types.MetadataStore
	retryer  *retry.Retryer
	breakers *circuit.Set
	metrics  *metrics.Collector
	logger   *utils.StructuredLogger
	config   Config
}

// New wires the storage service. metrics may be nil.
func New(
	rt *router.Router,
	adapters map[types.Backend]types.ProviderAdapter,
	cacheManager *cache.Manager,
	quotaManager *quota.Manager,
	store types.MetadataStore,
	retryer *retry.Retryer,
	collector *metrics.Collector,
	cfg Config,
	logger *utils.StructuredLogger,
) *Storage {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}
	if retryer == nil {
		retryer = retry.New(retry.DefaultConfig())
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	log := logger.WithComponent("storage")

	breakerCfg := circuit.DefaultConfig()
	breakerCfg.OnStateChange = func(backend types.Backend, from, to circuit.State) {
		log.Warn("backend circuit state changed", map[string]interface{}{
			"backend": backend,
			"from":    from.String(),
			"to":      to.String(),
		})
	}

	return &Storage{
		router:   rt,
		adapters: adapters,
		cache:    cacheManager,
		quota:    quotaManager,
		store:    store,
		retryer:  retryer,
		breakers: circuit.NewSet(breakerCfg),
		metrics:  collector,
		logger:   log,
		config:   cfg,
	}
}

// Upload runs the full pipeline: routing decision, adapter attempts in
// fallback order, metadata store, quota increment. The caller gets either a
// complete metadata record or a single explanatory error, never a partial
// result.
func (s *Storage) Upload(ctx context.Context, req *types.UploadRequest) *types.UploadResult {
	start := time.Now()

	if err := validateRequest(req); err != nil {
		return &types.UploadResult{
			Success:    false,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	size := int64(len(req.Data))
	decision := s.router.Decide(ctx, req.Category, size, req.TenantID)

	candidates := append([]types.Backend{decision.Backend}, decision.Fallbacks...)

	var lastErr error
	attempts := 0
	for _, backend := range candidates {
		adapter, ok := s.adapters[backend]
		if !ok {
			continue
		}

		breaker := s.breakers.For(backend)
		if err := breaker.Allow(); err != nil {
			lastErr = gwerrors.Wrap(err, gwerrors.ErrCodeProviderUnavailable, "backend circuit open").
				WithBackend(string(backend)).WithTenant(req.TenantID)
			s.logger.Warn("skipping backend with open circuit", map[string]interface{}{
				"tenant":  req.TenantID,
				"backend": backend,
			})
			continue
		}
		attempts++

		uploaded, err := s.attempt(ctx, adapter, req)
		breaker.Record(err)
		if err != nil {
			lastErr = err
			s.logger.Warn("backend upload failed, continuing fallback chain", map[string]interface{}{
				"tenant":  req.TenantID,
				"backend": backend,
				"attempt": attempts,
				"error":   err.Error(),
			})
			continue
		}

		meta, err := s.persist(ctx, req, backend, uploaded, size)
		if err != nil {
			// The blob landed but the catalog write failed; the upload did
			// not complete end-to-end.
			if s.metrics != nil {
				s.metrics.RecordUpload(backend, false, time.Since(start), size, attempts)
			}
			return &types.UploadResult{
				Success:           false,
				Error:             err.Error(),
				Backend:           backend,
				OriginalSizeBytes: size,
				DurationMs:        time.Since(start).Milliseconds(),
			}
		}

		if err := s.quota.IncrementUsage(ctx, req.TenantID, backend, size); err != nil {
			// Usage accounting is advisory; a failed increment must not
			// undo a completed upload.
			s.logger.Warn("quota increment failed after successful upload", map[string]interface{}{
				"tenant":  req.TenantID,
				"backend": backend,
				"error":   err.Error(),
			})
		}

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordUpload(backend, true, elapsed, size, attempts)
		}
		s.logger.Info("upload completed", map[string]interface{}{
			"tenant":   req.TenantID,
			"backend":  backend,
			"image_id": meta.ID,
			"bytes":    size,
			"attempts": attempts,
			"reason":   decision.Reason,
		})

		return &types.UploadResult{
			Success:           true,
			Image:             meta,
			Backend:           backend,
			OriginalSizeBytes: size,
			DurationMs:        elapsed.Milliseconds(),
		}
	}

	if lastErr == nil {
		lastErr = gwerrors.Newf(gwerrors.ErrCodeAllBackendsDown, "no backend accepted the upload (%s)", decision.Reason).
			WithTenant(req.TenantID)
	}

	if s.metrics != nil {
		s.metrics.RecordUpload(decision.Backend, false, time.Since(start), size, attempts)
	}
	s.logger.Error("upload failed on every backend", map[string]interface{}{
		"tenant": req.TenantID,
		"error":  lastErr.Error(),
	})

	return &types.UploadResult{
		Success:           false,
		Error:             lastErr.Error(),
		OriginalSizeBytes: size,
		DurationMs:        time.Since(start).Milliseconds(),
	}
}

// attempt runs one adapter upload under the per-call timeout and the retry
// policy for transient errors.
func (s *Storage) attempt(ctx context.Context, adapter types.ProviderAdapter, req *types.UploadRequest) (*types.UploadedObject, error) {
	var uploaded *types.UploadedObject

	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.config.AdapterTimeout)
		defer cancel()

		obj, err := adapter.Upload(callCtx, req.Data, req.FileName, types.UploadOptions{
			Folder:           req.TenantID,
			Optimize:         req.Optimize,
			GenerateVariants: req.GenerateVariants,
		})
		if err != nil {
			return err
		}
		uploaded = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uploaded, nil
}

// persist writes the completed metadata record through the cache manager.
func (s *Storage) persist(ctx context.Context, req *types.UploadRequest, backend types.Backend, uploaded *types.UploadedObject, size int64) (*types.ImageMetadata, error) {
	meta := &types.ImageMetadata{
		TenantID:        req.TenantID,
		Backend:         backend,
		Category:        req.Category,
		OriginalURL:     uploaded.URL,
		CDNURL:          uploaded.URL,
		ThumbnailURL:    uploaded.Variants[types.TierThumbnail],
		BackendObjectID: uploaded.BackendObjectID,
		FileName:        req.FileName,
		FileSizeBytes:   size,
		MimeType:        req.MimeType,
		Width:           uploaded.Width,
		Height:          uploaded.Height,
		Variants:        uploaded.Variants,
		AltText:         req.AltText,
		Caption:         req.Caption,
		CacheControl:    s.config.CacheControl,
		Status:          types.StatusCompleted,
	}
	return s.cache.Store(ctx, meta)
}

// GetImage returns the metadata for id, or nil on a miss.
func (s *Storage) GetImage(ctx context.Context, id string) *types.ImageMetadata {
	return s.cache.Get(ctx, id)
}

// GetImageByURL returns the metadata matching an original or CDN URL.
func (s *Storage) GetImageByURL(ctx context.Context, url string) *types.ImageMetadata {
	return s.cache.GetByURL(ctx, url)
}

// GetOptimizedURL resolves the best URL for a requested rendition. An
// already-generated variant whose tier covers the requested width wins;
// otherwise the owning adapter derives a transform URL; otherwise the CDN
// or original URL is returned unmodified.
func (s *Storage) GetOptimizedURL(meta *types.ImageMetadata, opts types.TransformOptions) string {
	if meta == nil {
		return ""
	}

	if opts.Width > 0 && len(meta.Variants) > 0 {
		if url, ok := meta.Variants[tierForWidth(opts.Width)]; ok && url != "" {
			return url
		}
	}

	if adapter, ok := s.adapters[meta.Backend]; ok {
		source := meta.CDNURL
		if source == "" {
			source = meta.OriginalURL
		}
		return adapter.GetOptimizedURL(source, opts)
	}

	if meta.CDNURL != "" {
		return meta.CDNURL
	}
	return meta.OriginalURL
}

// tierForWidth maps a requested width to the smallest variant tier that
// covers it: ≤150 thumbnail, ≤300 small, ≤600 medium, ≤1200 large, else
// original.
func tierForWidth(width int) types.VariantTier {
	switch {
	case width <= 150:
		return types.TierThumbnail
	case width <= 300:
		return types.TierSmall
	case width <= 600:
		return types.TierMedium
	case width <= 1200:
		return types.TierLarge
	default:
		return types.TierOriginal
	}
}

// UpdateImage applies a partial metadata update and returns the fresh record.
func (s *Storage) UpdateImage(ctx context.Context, id string, upd types.ImageUpdate) (*types.ImageMetadata, error) {
	return s.cache.Update(ctx, id, upd)
}

// Delete removes an image from the catalog. The backend-side delete is
// best-effort: its failure is logged, never fatal. The soft delete in the
// metadata store is the authority, and only its failure fails the call.
func (s *Storage) Delete(ctx context.Context, id string) error {
	meta := s.cache.Get(ctx, id)
	if meta == nil {
		return gwerrors.Newf(gwerrors.ErrCodeImageNotFound, "image %s not found", id)
	}

	if adapter, ok := s.adapters[meta.Backend]; ok {
		confirmed, err := adapter.Delete(ctx, meta.BackendObjectID)
		if err != nil {
			s.logger.Warn("backend delete failed, proceeding with soft delete", map[string]interface{}{
				"image_id": id,
				"backend":  meta.Backend,
				"error":    err.Error(),
			})
		}
		if s.metrics != nil {
			s.metrics.RecordDelete(meta.Backend, confirmed)
		}
	}

	return s.cache.Delete(ctx, id)
}

// ListForTenant reads a page of the tenant's catalog straight from the
// persistent store. Listing bypasses the LRU: it is not a single-key
// lookup.
func (s *Storage) ListForTenant(ctx context.Context, tenantID string, filter types.ImageFilter) ([]*types.ImageMetadata, error) {
	return s.store.ListImages(ctx, tenantID, filter)
}

// UsageSummary aggregates the tenant's quota rows.
func (s *Storage) UsageSummary(ctx context.Context, tenantID string) (*types.UsageSummary, error) {
	return s.quota.UsageSummary(ctx, tenantID)
}

// ProvisionTenant eagerly creates the tenant's quota rows on every backend.
func (s *Storage) ProvisionTenant(ctx context.Context, tenantID string) error {
	return s.quota.ProvisionTenant(ctx, tenantID)
}

// CacheStats exposes metadata cache statistics.
func (s *Storage) CacheStats() types.CacheStats {
	return s.cache.Stats()
}

// BreakerStats exposes the per-backend circuit breaker states.
func (s *Storage) BreakerStats() map[types.Backend]circuit.Stats {
	return s.breakers.Snapshot()
}

func validateRequest(req *types.UploadRequest) error {
	if req == nil {
		return gwerrors.New(gwerrors.ErrCodeValidationFailed, "nil upload request")
	}
	if req.TenantID == "" {
		return gwerrors.New(gwerrors.ErrCodeValidationFailed, "tenant_id is required")
	}
	if !req.Category.Valid() {
		return gwerrors.Newf(gwerrors.ErrCodeValidationFailed, "unknown image category %q", req.Category)
	}
	if len(req.Data) == 0 {
		return gwerrors.New(gwerrors.ErrCodeValidationFailed, "empty file")
	}
	if req.FileName == "" {
		return gwerrors.New(gwerrors.ErrCodeValidationFailed, "file_name is required")
	}
	return nil
}

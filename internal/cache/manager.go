package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// MetricsRecorder receives cache read outcomes. Satisfied by the metrics
// collector; nil disables recording.
type MetricsRecorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss()
}

// Manager is the single source of truth for metadata reads, writes, and
// soft-deletes. Reads walk memory → persistent store → miss; writes go to
// the store first and refresh the memory entry on success.
type Manager struct {
	lru     *LRUCache
	store   types.MetadataStore
	logger  *utils.StructuredLogger
	metrics MetricsRecorder

	// trackTimeout bounds the background access-tracking write.
	trackTimeout time.Duration
}

// ManagerConfig holds cache manager configuration.
type ManagerConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// NewManager creates a cache manager in front of the given store.
func NewManager(store types.MetadataStore, cfg ManagerConfig, logger *utils.StructuredLogger) *Manager {
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	return &Manager{
		lru:          NewLRUCache(cfg.MaxEntries, cfg.TTL),
		store:        store,
		logger:       logger.WithComponent("cache"),
		trackTimeout: 5 * time.Second,
	}
}

// SetMetrics attaches a metrics recorder. Not safe to call after the
// manager is in use.
func (m *Manager) SetMetrics(recorder MetricsRecorder) {
	m.metrics = recorder
}

// Get returns the metadata for id, or nil on a miss. Store read failures are
// logged and read as a miss: the read path fails soft.
func (m *Manager) Get(ctx context.Context, id string) *types.ImageMetadata {
	if meta := m.lru.Get(id); meta != nil {
		if m.metrics != nil {
			m.metrics.RecordCacheHit("memory")
		}
		m.trackAccess(meta.ID)
		return meta
	}

	meta, err := m.store.GetImage(ctx, id)
	if err != nil {
		m.logger.Warn("metadata read failed, treating as miss", map[string]interface{}{
			"image_id": id,
			"error":    err.Error(),
		})
		return nil
	}
	if meta == nil {
		if m.metrics != nil {
			m.metrics.RecordCacheMiss()
		}
		return nil
	}

	if m.metrics != nil {
		m.metrics.RecordCacheHit("store")
	}
	m.lru.Set(meta.ID, meta)
	m.trackAccess(meta.ID)
	return meta
}

// GetByURL returns the metadata whose original or CDN URL matches, or nil.
// URL lookups always hit the store; only the result is cached (keyed by id).
func (m *Manager) GetByURL(ctx context.Context, url string) *types.ImageMetadata {
	meta, err := m.store.GetImageByURL(ctx, url)
	if err != nil {
		m.logger.Warn("metadata url lookup failed, treating as miss", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return nil
	}
	if meta == nil {
		return nil
	}

	m.lru.Set(meta.ID, meta)
	m.trackAccess(meta.ID)
	return meta
}

// Store inserts a new metadata row and caches it. Missing ids are generated
// here so callers never hand out duplicates.
func (m *Manager) Store(ctx context.Context, meta *types.ImageMetadata) (*types.ImageMetadata, error) {
	if meta == nil {
		return nil, gwerrors.New(gwerrors.ErrCodeValidationFailed, "nil metadata")
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	stored, err := m.store.InsertImage(ctx, meta)
	if err != nil {
		return nil, err
	}

	m.lru.Set(stored.ID, stored)
	return stored, nil
}

// Update applies a partial update to the persistent row and refreshes the
// memory entry.
func (m *Manager) Update(ctx context.Context, id string, upd types.ImageUpdate) (*types.ImageMetadata, error) {
	updated, err := m.store.UpdateImage(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	m.lru.Set(updated.ID, updated)
	return updated, nil
}

// Delete soft-deletes the persistent row and evicts the memory entry
// immediately. The row survives with deleted_at stamped.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.SoftDeleteImage(ctx, id); err != nil {
		return err
	}

	m.lru.Delete(id)
	return nil
}

// Stats returns memory-cache statistics.
func (m *Manager) Stats() types.CacheStats {
	return m.lru.Stats()
}

// trackAccess bumps access counters in the background. Failures are caught
// and discarded; they never affect the caller's read result.
func (m *Manager) trackAccess(id string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Warn("access tracking panic discarded", map[string]interface{}{
					"image_id": id,
					"panic":    r,
				})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.trackTimeout)
		defer cancel()

		if err := m.store.TouchImageAccess(ctx, id); err != nil {
			m.logger.Debug("access tracking failed", map[string]interface{}{
				"image_id": id,
				"error":    err.Error(),
			})
		}
	}()
}

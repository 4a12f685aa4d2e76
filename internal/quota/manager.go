// Package quota implements per-(tenant, backend) admission control and usage
// accounting.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// Defaults is the static per-backend quota configuration applied when a
// tenant is provisioned.
type Defaults struct {
	MonthlyUploadLimitBytes int64
	MonthlyRequestLimit     int64
	MaxFileSizeBytes        int64
	Priority                int
}

// BackendDefaults maps each backend to its provisioning defaults. The two
// CDN backends carry the big limits; minio is deliberately small, photoarc
// is a low-volume archive.
var BackendDefaults = map[types.Backend]Defaults{
	types.BackendS3CDN: {
		MonthlyUploadLimitBytes: 25 * 1024 * 1024 * 1024, // 25 GiB
		MonthlyRequestLimit:     25000,
		MaxFileSizeBytes:        10 * 1024 * 1024,
		Priority:                1,
	},
	types.BackendImgCDN: {
		MonthlyUploadLimitBytes: 20 * 1024 * 1024 * 1024, // 20 GiB
		MonthlyRequestLimit:     20000,
		MaxFileSizeBytes:        25 * 1024 * 1024,
		Priority:                2,
	},
	types.BackendMinIO: {
		MonthlyUploadLimitBytes: 2 * 1024 * 1024 * 1024, // 2 GiB
		MonthlyRequestLimit:     5000,
		MaxFileSizeBytes:        5 * 1024 * 1024,
		Priority:                3,
	},
	types.BackendPhotoArc: {
		MonthlyUploadLimitBytes: 10 * 1024 * 1024 * 1024, // 10 GiB
		MonthlyRequestLimit:     2000,
		MaxFileSizeBytes:        15 * 1024 * 1024,
		Priority:                4,
	},
}

// Admission is the outcome of an admission-control check.
type Admission struct {
	Allowed bool
	Reason  string
}

// pairKey identifies a (tenant, backend) pair in the snapshot cache.
type pairKey struct {
	tenant  string
	backend types.Backend
}

// snapshot is a TTL-bounded cached quota row.
type snapshot struct {
	quota     *types.ProviderQuota // nil means "no row exists"
	fetchedAt time.Time
}

// Manager answers admission-control questions and records usage. Quota reads
// are cached per pair with a short TTL so routing decisions avoid a store
// round trip; the cache is invalidated on increment and on limit updates.
//
// CanUpload and IncrementUsage are deliberately not atomic with respect to
// each other. Two concurrent uploads can both pass the check before either
// increments, overshooting the monthly limit by up to one file. The limits
// are soft.
type Manager struct {
	store  types.QuotaStore
	logger *utils.StructuredLogger

	mu        sync.Mutex
	snapshots map[pairKey]snapshot
	ttl       time.Duration
}

// NewManager creates a quota manager with the given snapshot TTL.
func NewManager(store types.QuotaStore, snapshotTTL time.Duration, logger *utils.StructuredLogger) *Manager {
	if snapshotTTL <= 0 {
		snapshotTTL = time.Minute
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	return &Manager{
		store:     store,
		logger:    logger.WithComponent("quota"),
		snapshots: make(map[pairKey]snapshot),
		ttl:       snapshotTTL,
	}
}

// CanUpload checks whether a file of fileSizeBytes may be uploaded to
// backend on the tenant's account. Conditions are evaluated in a fixed
// order — disabled, max file size, monthly bytes, monthly requests — and the
// reason names the first violated one. No quota row means allowed: quotas
// fail open.
func (m *Manager) CanUpload(ctx context.Context, tenantID string, backend types.Backend, fileSizeBytes int64) Admission {
	quota, err := m.cachedQuota(ctx, tenantID, backend)
	if err != nil {
		// A store outage must not block every upload; the soft limit is
		// worth less than availability.
		m.logger.Warn("quota read failed, failing open", map[string]interface{}{
			"tenant":  tenantID,
			"backend": backend,
			"error":   err.Error(),
		})
		return Admission{Allowed: true}
	}
	if quota == nil {
		return Admission{Allowed: true}
	}

	if !quota.IsEnabled {
		return Admission{
			Allowed: false,
			Reason:  fmt.Sprintf("backend %s is disabled for tenant %s", backend, tenantID),
		}
	}
	if quota.MaxFileSizeBytes > 0 && fileSizeBytes > quota.MaxFileSizeBytes {
		return Admission{
			Allowed: false,
			Reason: fmt.Sprintf("file size %d exceeds per-file limit %d on backend %s",
				fileSizeBytes, quota.MaxFileSizeBytes, backend),
		}
	}
	if quota.MonthlyUploadLimitBytes > 0 && quota.CurrentMonthBytes+fileSizeBytes > quota.MonthlyUploadLimitBytes {
		return Admission{
			Allowed: false,
			Reason: fmt.Sprintf("monthly byte quota exhausted on backend %s: %d + %d > %d",
				backend, quota.CurrentMonthBytes, fileSizeBytes, quota.MonthlyUploadLimitBytes),
		}
	}
	if quota.MonthlyRequestLimit > 0 && quota.CurrentMonthRequests >= quota.MonthlyRequestLimit {
		return Admission{
			Allowed: false,
			Reason: fmt.Sprintf("monthly request quota exhausted on backend %s: %d of %d used",
				backend, quota.CurrentMonthRequests, quota.MonthlyRequestLimit),
		}
	}

	return Admission{Allowed: true}
}

// IncrementUsage records a successful upload of bytes and invalidates the
// pair's cached snapshot.
func (m *Manager) IncrementUsage(ctx context.Context, tenantID string, backend types.Backend, bytes int64) error {
	if err := m.store.IncrementQuotaUsage(ctx, tenantID, backend, bytes); err != nil {
		return err
	}
	m.Invalidate(tenantID, backend)
	return nil
}

// UpdateLimits applies a limits change and invalidates the pair's snapshot.
func (m *Manager) UpdateLimits(ctx context.Context, tenantID string, backend types.Backend, limits types.QuotaLimits) error {
	if err := m.store.UpdateQuotaLimits(ctx, tenantID, backend, limits); err != nil {
		return err
	}
	m.Invalidate(tenantID, backend)
	return nil
}

// ResetMonthlyQuotas zeroes every pair's monthly counters and drops the
// whole snapshot cache. Triggered on the monthly rollover.
func (m *Manager) ResetMonthlyQuotas(ctx context.Context) error {
	if err := m.store.ResetMonthlyQuotas(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.snapshots = make(map[pairKey]snapshot)
	m.mu.Unlock()

	m.logger.Info("monthly quotas reset")
	return nil
}

// ProvisionTenant eagerly creates a quota row for every backend from the
// static defaults table. Idempotent: existing rows are left alone.
func (m *Manager) ProvisionTenant(ctx context.Context, tenantID string) error {
	for _, backend := range types.AllBackends {
		defaults := BackendDefaults[backend]
		quota := &types.ProviderQuota{
			TenantID:                tenantID,
			Backend:                 backend,
			MonthlyUploadLimitBytes: defaults.MonthlyUploadLimitBytes,
			MonthlyRequestLimit:     defaults.MonthlyRequestLimit,
			MaxFileSizeBytes:        defaults.MaxFileSizeBytes,
			IsEnabled:               true,
			Priority:                defaults.Priority,
		}
		if err := m.store.InsertQuota(ctx, quota); err != nil {
			return err
		}
	}
	return nil
}

// UsageSummary aggregates a tenant's quota rows into totals and per-backend
// percent-of-limit figures.
func (m *Manager) UsageSummary(ctx context.Context, tenantID string) (*types.UsageSummary, error) {
	quotas, err := m.store.ListQuotas(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &types.UsageSummary{TenantID: tenantID}
	for _, q := range quotas {
		usage := types.BackendUsage{
			Backend:              q.Backend,
			CurrentMonthBytes:    q.CurrentMonthBytes,
			MonthlyUploadLimit:   q.MonthlyUploadLimitBytes,
			CurrentMonthRequests: q.CurrentMonthRequests,
			MonthlyRequestLimit:  q.MonthlyRequestLimit,
			Enabled:              q.IsEnabled,
		}
		if q.MonthlyUploadLimitBytes > 0 {
			usage.PercentOfLimit = 100 * float64(q.CurrentMonthBytes) / float64(q.MonthlyUploadLimitBytes)
		}
		summary.TotalBytes += q.CurrentMonthBytes
		summary.TotalRequests += q.CurrentMonthRequests
		summary.Backends = append(summary.Backends, usage)
	}
	return summary, nil
}

// Invalidate drops the cached snapshot for a pair.
func (m *Manager) Invalidate(tenantID string, backend types.Backend) {
	m.mu.Lock()
	delete(m.snapshots, pairKey{tenant: tenantID, backend: backend})
	m.mu.Unlock()
}

// Quota returns the pair's quota row, bypassing the snapshot cache.
func (m *Manager) Quota(ctx context.Context, tenantID string, backend types.Backend) (*types.ProviderQuota, error) {
	return m.store.GetQuota(ctx, tenantID, backend)
}

// cachedQuota returns the pair's quota row through the TTL snapshot cache.
func (m *Manager) cachedQuota(ctx context.Context, tenantID string, backend types.Backend) (*types.ProviderQuota, error) {
	key := pairKey{tenant: tenantID, backend: backend}

	m.mu.Lock()
	snap, ok := m.snapshots[key]
	m.mu.Unlock()

	if ok && time.Since(snap.fetchedAt) < m.ttl {
		return snap.quota, nil
	}

	quota, err := m.store.GetQuota(ctx, tenantID, backend)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.snapshots[key] = snapshot{quota: quota, fetchedAt: time.Now()}
	m.mu.Unlock()

	return quota, nil
}

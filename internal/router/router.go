// Package router picks the backend an upload should go to.
package router

import (
	"context"
	"fmt"

	"github.com/platewise/imagegate/internal/quota"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// DefaultSmallFileThreshold is the size below which uploads route to minio
// regardless of category: the CDN backends are reserved for bigger payloads.
const DefaultSmallFileThreshold = 100 * 1024

// lastResort is attempted unconditionally when the whole fallback chain is
// exhausted. It has no external dependency, just the smallest limits.
const lastResort = types.BackendMinIO

// categoryDefaults is the fixed mapping from image category to preferred
// backend.
var categoryDefaults = map[types.ImageCategory]types.Backend{
	types.CategoryProduct:   types.BackendS3CDN,
	types.CategoryUserPhoto: types.BackendS3CDN,
	types.CategoryProfile:   types.BackendImgCDN,
	types.CategoryLogo:      types.BackendImgCDN,
	types.CategoryIcon:      types.BackendMinIO,
	types.CategoryMenuScan:  types.BackendPhotoArc,
}

// fallbackOrders is the fixed, distinct two-backend fallback list per
// backend.
var fallbackOrders = map[types.Backend][]types.Backend{
	types.BackendS3CDN:    {types.BackendImgCDN, types.BackendMinIO},
	types.BackendImgCDN:   {types.BackendS3CDN, types.BackendMinIO},
	types.BackendMinIO:    {types.BackendS3CDN, types.BackendImgCDN},
	types.BackendPhotoArc: {types.BackendS3CDN, types.BackendImgCDN},
}

// Availability answers whether a backend is currently reachable. Satisfied
// by the health checker.
type Availability interface {
	Available(ctx context.Context, backend types.Backend) bool
}

// Admission answers whether a tenant may upload a file of a given size to a
// backend. Satisfied by the quota manager.
type Admission interface {
	CanUpload(ctx context.Context, tenantID string, backend types.Backend, fileSizeBytes int64) quota.Admission
}

// Observer receives routing events. Satisfied by the metrics collector;
// nil disables recording.
type Observer interface {
	RecordQuotaDenial(backend types.Backend)
}

// Decision is the outcome of a routing call: the chosen backend, the
// remaining fallback order for the caller to walk on upload failure, and a
// human-readable reason.
type Decision struct {
	Backend   types.Backend
	Fallbacks []types.Backend
	Reason    string
}

// Router makes deterministic backend decisions: category default → small-file
// override → availability walk over the fallback chain → guaranteed last
// resort.
type Router struct {
	availability       Availability
	admission          Admission
	smallFileThreshold int64
	logger             *utils.StructuredLogger
	observer           Observer
}

// New creates a router. A non-positive threshold falls back to the default
// 100 KiB.
func New(availability Availability, admission Admission, smallFileThreshold int64, logger *utils.StructuredLogger) *Router {
	if smallFileThreshold <= 0 {
		smallFileThreshold = DefaultSmallFileThreshold
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	return &Router{
		availability:       availability,
		admission:          admission,
		smallFileThreshold: smallFileThreshold,
		logger:             logger.WithComponent("router"),
	}
}

// SetObserver attaches a routing observer. Not safe to call once routing
// has started.
func (r *Router) SetObserver(observer Observer) {
	r.observer = observer
}

// Decide picks the backend for an upload. The evaluation order is fixed:
//
//  1. the category's static default backend;
//  2. files under the small-file threshold override the default to minio;
//  3. the candidate must be reachable and pass admission control, otherwise
//     its fallback list is walked in order under the same two checks;
//  4. with everything exhausted, minio is returned unconditionally.
func (r *Router) Decide(ctx context.Context, category types.ImageCategory, fileSizeBytes int64, tenantID string) Decision {
	candidate, ok := categoryDefaults[category]
	if !ok {
		candidate = lastResort
	}
	reason := fmt.Sprintf("category %s default", category)

	if fileSizeBytes < r.smallFileThreshold {
		candidate = lastResort
		reason = fmt.Sprintf("small file (%d bytes < %d threshold)", fileSizeBytes, r.smallFileThreshold)
	}

	if skip, why := r.rejects(ctx, candidate, tenantID, fileSizeBytes); !skip {
		return Decision{
			Backend:   candidate,
			Fallbacks: fallbackOrders[candidate],
			Reason:    reason,
		}
	} else {
		reason = why
	}

	for _, fallback := range fallbackOrders[candidate] {
		if skip, why := r.rejects(ctx, fallback, tenantID, fileSizeBytes); !skip {
			r.logger.Debug("primary backend skipped, fallback chosen", map[string]interface{}{
				"tenant":   tenantID,
				"primary":  candidate,
				"fallback": fallback,
				"reason":   reason,
			})
			return Decision{
				Backend:   fallback,
				Fallbacks: fallbackOrders[fallback],
				Reason:    fmt.Sprintf("fallback from %s: %s", candidate, reason),
			}
		} else {
			reason = fmt.Sprintf("%s; %s", reason, why)
		}
	}

	// Whole chain exhausted. Minio is always attempted.
	r.logger.Warn("fallback chain exhausted, using last resort", map[string]interface{}{
		"tenant":  tenantID,
		"primary": candidate,
		"reason":  reason,
	})
	return Decision{
		Backend:   lastResort,
		Fallbacks: nil,
		Reason:    fmt.Sprintf("last resort after exhausting chain: %s", reason),
	}
}

// rejects applies the two-part check for one backend. It returns true with
// an explanation when the backend must be skipped.
func (r *Router) rejects(ctx context.Context, backend types.Backend, tenantID string, fileSizeBytes int64) (bool, string) {
	if !r.availability.Available(ctx, backend) {
		return true, fmt.Sprintf("%s unavailable", backend)
	}
	if admission := r.admission.CanUpload(ctx, tenantID, backend, fileSizeBytes); !admission.Allowed {
		if r.observer != nil {
			r.observer.RecordQuotaDenial(backend)
		}
		return true, fmt.Sprintf("%s denied: %s", backend, admission.Reason)
	}
	return false, ""
}

// CategoryDefault exposes the static default for a category. Used by usage
// reporting and tests.
func CategoryDefault(category types.ImageCategory) types.Backend {
	if backend, ok := categoryDefaults[category]; ok {
		return backend
	}
	return lastResort
}

// FallbackOrder exposes the fixed fallback list for a backend.
func FallbackOrder(backend types.Backend) []types.Backend {
	return fallbackOrders[backend]
}

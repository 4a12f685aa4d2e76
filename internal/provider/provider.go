// Package provider contains the four backend adapters behind the
// types.ProviderAdapter contract.
//
// Two of them (s3cdn, imgcdn) are high-capacity CDN-backed backends with
// native transforms, minio is the small first-party object store and the
// router's guaranteed last resort, and photoarc is an upload-only photo
// archive. No other implementation exists; the set is closed.
package provider

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/platewise/imagegate/pkg/types"
)

// objectKey builds a collision-free object key: an optional folder, a fresh
// uuid, and the sanitized original file name for operator readability.
func objectKey(folder, fileName string) string {
	base := sanitizeFileName(fileName)
	return path.Join(folder, uuid.NewString()+"-"+base)
}

// sanitizeFileName strips path separators and whitespace from a client-
// provided file name.
func sanitizeFileName(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	if base == "" || base == "." {
		base = "upload"
	}
	return base
}

// detectContentType sniffs the payload's MIME type.
func detectContentType(data []byte) string {
	return http.DetectContentType(data)
}

// sameURLVariants fills every tier with the one URL a backend without native
// resizing can serve.
func sameURLVariants(url string) map[types.VariantTier]string {
	variants := make(map[types.VariantTier]string, len(types.VariantTiers))
	for _, tier := range types.VariantTiers {
		variants[tier] = url
	}
	return variants
}

// queryVariants fills the resized tiers with width-parameterized URLs and
// the original tier with the raw URL. Used by backends whose CDN resizes by
// query parameter.
func queryVariants(url, widthParam string) map[types.VariantTier]string {
	variants := make(map[types.VariantTier]string, len(types.VariantTiers))
	for tier, width := range types.TierWidths {
		variants[tier] = appendQuery(url, fmt.Sprintf("%s=%d", widthParam, width))
	}
	variants[types.TierOriginal] = url
	return variants
}

// appendQuery attaches a raw query fragment to a URL, picking ? or &.
func appendQuery(url, query string) string {
	if query == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + query
}

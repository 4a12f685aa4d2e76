package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platewise/imagegate/pkg/types"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"my photo (1).jpg", "my-photo--1-.jpg"},
		{"../../etc/passwd", "passwd"},
		{`c:\temp\shot.png`, "shot.png"},
		{"", "upload"},
		{"...", "..."},
		{"ünïcode.png", "-n-code.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFileName(tt.in), "input %q", tt.in)
	}
}

func TestObjectKeyIsCollisionFree(t *testing.T) {
	a := objectKey("tenant-1", "photo.jpg")
	b := objectKey("tenant-1", "photo.jpg")

	assert.NotEqual(t, a, b, "two uploads of the same name must not collide")
	assert.True(t, strings.HasPrefix(a, "tenant-1/"))
	assert.True(t, strings.HasSuffix(a, "-photo.jpg"))
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "https://x/y?w=150", appendQuery("https://x/y", "w=150"))
	assert.Equal(t, "https://x/y?a=1&w=150", appendQuery("https://x/y?a=1", "w=150"))
	assert.Equal(t, "https://x/y", appendQuery("https://x/y", ""))
}

func TestQueryVariants(t *testing.T) {
	variants := queryVariants("https://cdn.example.com/img.jpg", "w")

	assert.Len(t, variants, len(types.VariantTiers))
	assert.Equal(t, "https://cdn.example.com/img.jpg?w=150", variants[types.TierThumbnail])
	assert.Equal(t, "https://cdn.example.com/img.jpg?w=600", variants[types.TierMedium])
	assert.Equal(t, "https://cdn.example.com/img.jpg", variants[types.TierOriginal],
		"original tier carries the untransformed URL")
}

func TestSameURLVariants(t *testing.T) {
	variants := sameURLVariants("https://store.example.com/img.jpg")

	assert.Len(t, variants, len(types.VariantTiers))
	for _, tier := range types.VariantTiers {
		assert.Equal(t, "https://store.example.com/img.jpg", variants[tier])
	}
}

func TestDetectContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16))
	assert.Equal(t, "image/png", detectContentType(png))
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/imagegate/internal/cache"
	"github.com/platewise/imagegate/internal/health"
	"github.com/platewise/imagegate/internal/quota"
	"github.com/platewise/imagegate/internal/router"
	"github.com/platewise/imagegate/internal/service"
	"github.com/platewise/imagegate/pkg/retry"
	"github.com/platewise/imagegate/pkg/types"
)

// stubAdapter serves every call successfully.
type stubAdapter struct {
	backend types.Backend
}

func (s *stubAdapter) Name() types.Backend { return s.backend }

func (s *stubAdapter) Upload(_ context.Context, _ []byte, fileName string, _ types.UploadOptions) (*types.UploadedObject, error) {
	url := fmt.Sprintf("https://%s.example.com/%s", s.backend, fileName)
	variants := make(map[types.VariantTier]string)
	for _, tier := range types.VariantTiers {
		variants[tier] = url + "?tier=" + string(tier)
	}
	return &types.UploadedObject{URL: url, BackendObjectID: fileName, Variants: variants}, nil
}

func (s *stubAdapter) Delete(_ context.Context, _ string) (bool, error) { return true, nil }

func (s *stubAdapter) GetOptimizedURL(url string, opts types.TransformOptions) string {
	if opts.Width == 0 {
		return url
	}
	return fmt.Sprintf("%s?w=%d", url, opts.Width)
}

func (s *stubAdapter) IsAvailable(_ context.Context) bool { return true }

// memMetaStore is a minimal in-memory MetadataStore.
type memMetaStore struct {
	mu     sync.Mutex
	images map[string]*types.ImageMetadata
}

func (m *memMetaStore) InsertImage(_ context.Context, meta *types.ImageMetadata) (*types.ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *meta
	m.images[stored.ID] = &stored
	return &stored, nil
}

func (m *memMetaStore) GetImage(_ context.Context, id string) (*types.ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.images[id]
	if !ok || meta.Deleted() {
		return nil, nil
	}
	copied := *meta
	return &copied, nil
}

func (m *memMetaStore) GetImageByURL(_ context.Context, url string) (*types.ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.images {
		if !meta.Deleted() && (meta.OriginalURL == url || meta.CDNURL == url) {
			copied := *meta
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memMetaStore) UpdateImage(_ context.Context, id string, upd types.ImageUpdate) (*types.ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.images[id]
	if !ok {
		return nil, errors.New("not found")
	}
	if upd.AltText != nil {
		meta.AltText = *upd.AltText
	}
	if upd.Caption != nil {
		meta.Caption = *upd.Caption
	}
	copied := *meta
	return &copied, nil
}

func (m *memMetaStore) SoftDeleteImage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.images[id]
	if !ok {
		return errors.New("not found")
	}
	now := time.Now()
	meta.DeletedAt = &now
	return nil
}

func (m *memMetaStore) ListImages(_ context.Context, tenantID string, _ types.ImageFilter) ([]*types.ImageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ImageMetadata
	for _, meta := range m.images {
		if meta.TenantID == tenantID && !meta.Deleted() {
			copied := *meta
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memMetaStore) TouchImageAccess(_ context.Context, _ string) error { return nil }

// memQuotaStore is a minimal in-memory QuotaStore.
type memQuotaStore struct {
	mu   sync.Mutex
	rows map[string]*types.ProviderQuota
}

func (m *memQuotaStore) key(tenantID string, backend types.Backend) string {
	return tenantID + "/" + string(backend)
}

func (m *memQuotaStore) GetQuota(_ context.Context, tenantID string, backend types.Backend) (*types.ProviderQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[m.key(tenantID, backend)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (m *memQuotaStore) ListQuotas(_ context.Context, tenantID string) ([]*types.ProviderQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ProviderQuota
	for _, row := range m.rows {
		if row.TenantID == tenantID {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memQuotaStore) InsertQuota(_ context.Context, q *types.ProviderQuota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(q.TenantID, q.Backend)
	if _, exists := m.rows[key]; !exists {
		copied := *q
		m.rows[key] = &copied
	}
	return nil
}

func (m *memQuotaStore) IncrementQuotaUsage(_ context.Context, tenantID string, backend types.Backend, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(tenantID, backend)
	row, ok := m.rows[key]
	if !ok {
		row = &types.ProviderQuota{TenantID: tenantID, Backend: backend, IsEnabled: true}
		m.rows[key] = row
	}
	row.CurrentMonthBytes += bytes
	row.CurrentMonthRequests++
	return nil
}

func (m *memQuotaStore) UpdateQuotaLimits(_ context.Context, _ string, _ types.Backend, _ types.QuotaLimits) error {
	return nil
}

func (m *memQuotaStore) ResetMonthlyQuotas(_ context.Context) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	adapters := make(map[types.Backend]types.ProviderAdapter)
	for _, backend := range types.AllBackends {
		adapters[backend] = &stubAdapter{backend: backend}
	}

	metaStore := &memMetaStore{images: make(map[string]*types.ImageMetadata)}
	quotaStore := &memQuotaStore{rows: make(map[string]*types.ProviderQuota)}

	checker := health.NewChecker(adapters, nil, nil)
	quotaManager := quota.NewManager(quotaStore, time.Minute, nil)
	cacheManager := cache.NewManager(metaStore, cache.ManagerConfig{MaxEntries: 64, TTL: time.Minute}, nil)
	rt := router.New(checker, quotaManager, router.DefaultSmallFileThreshold, nil)
	retryer := retry.New(retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	storage := service.New(rt, adapters, cacheManager, quotaManager, metaStore, retryer, nil, service.Config{
		AdapterTimeout: time.Second,
		CacheControl:   "public, max-age=31536000, immutable",
	}, nil)

	return NewServer(storage, checker, Config{
		ListenAddr:   "127.0.0.1:0",
		CacheControl: "public, max-age=31536000, immutable",
	}, nil)
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func doUpload(t *testing.T, server *Server, fields map[string]string) *types.UploadResult {
	t.Helper()
	body, contentType := multipartUpload(t, fields, "photo.jpg", bytes.Repeat([]byte("x"), 512*1024))

	req := httptest.NewRequest(http.MethodPost, "/v1/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var result types.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return &result
}

func TestUploadEndpoint(t *testing.T) {
	server := newTestServer(t)

	result := doUpload(t, server, map[string]string{
		"tenant_id": "tenant-1",
		"category":  "product",
		"alt_text":  "a plate",
	})

	assert.True(t, result.Success)
	assert.Equal(t, types.BackendS3CDN, result.Backend)
	require.NotNil(t, result.Image)
	assert.Equal(t, "a plate", result.Image.AltText)
}

func TestUploadEndpointValidation(t *testing.T) {
	server := newTestServer(t)

	// Missing tenant_id.
	body, contentType := multipartUpload(t, map[string]string{"category": "product"}, "p.jpg", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/v1/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing file part entirely.
	req = httptest.NewRequest(http.MethodPost, "/v1/images", bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetImageEndpoint(t *testing.T) {
	server := newTestServer(t)
	result := doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	req := httptest.NewRequest(http.MethodGet, "/v1/images/"+result.Image.ID, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta types.ImageMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, result.Image.ID, meta.ID)
}

func TestGetImageNotFound(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/images/nope", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptimizedURLEndpoint(t *testing.T) {
	server := newTestServer(t)
	result := doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	req := httptest.NewRequest(http.MethodGet, "/v1/images/"+result.Image.ID+"/url?w=120", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Accept", rec.Header().Get("Vary"))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, result.Image.Variants[types.TierThumbnail], payload["url"],
		"a 120px request resolves to the thumbnail variant")
}

func TestUpdateImageEndpoint(t *testing.T) {
	server := newTestServer(t)
	result := doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	body := bytes.NewBufferString(`{"alt_text":"updated alt"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/images/"+result.Image.ID, body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta types.ImageMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "updated alt", meta.AltText)
}

func TestDeleteImageEndpoint(t *testing.T) {
	server := newTestServer(t)
	result := doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	req := httptest.NewRequest(http.MethodDelete, "/v1/images/"+result.Image.ID, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second read misses.
	req = httptest.NewRequest(http.MethodGet, "/v1/images/"+result.Image.ID, nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListImagesEndpoint(t *testing.T) {
	server := newTestServer(t)
	doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})
	doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-1/images", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Count  int                    `json:"count"`
		Images []*types.ImageMetadata `json:"images"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 2, payload.Count)
	assert.Len(t, payload.Images, 2)
}

func TestListImagesRejectsUnknownCategory(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-1/images?category=banner", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	server := newTestServer(t)
	doUpload(t, server, map[string]string{"tenant_id": "tenant-1", "category": "product"})

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-1/usage", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary types.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "tenant-1", summary.TenantID)
	assert.Equal(t, int64(512*1024), summary.TotalBytes)
}

func TestProvisionEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-7/provision", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-7/usage", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary types.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Backends, len(types.AllBackends))
}

func TestHealthzEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Contains(t, payload, "cache")
}

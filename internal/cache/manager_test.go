package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/imagegate/pkg/types"
)

// fakeStore is an in-memory MetadataStore that counts reads so tests can
// prove a warm cache never touches the persistent layer.
type fakeStore struct {
	mu         sync.Mutex
	images     map[string]*types.ImageMetadata
	getCalls   int
	touchCalls int
	failReads  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{images: make(map[string]*types.ImageMetadata)}
}

func (f *fakeStore) InsertImage(_ context.Context, meta *types.ImageMetadata) (*types.ImageMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *meta
	stored.CreatedAt = time.Now()
	f.images[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeStore) GetImage(_ context.Context, id string) (*types.ImageMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failReads {
		return nil, errors.New("store unavailable")
	}
	meta, ok := f.images[id]
	if !ok || meta.Deleted() {
		return nil, nil
	}
	copied := *meta
	return &copied, nil
}

func (f *fakeStore) GetImageByURL(_ context.Context, url string) (*types.ImageMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failReads {
		return nil, errors.New("store unavailable")
	}
	for _, meta := range f.images {
		if meta.Deleted() {
			continue
		}
		if meta.OriginalURL == url || meta.CDNURL == url {
			copied := *meta
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateImage(_ context.Context, id string, upd types.ImageUpdate) (*types.ImageMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.images[id]
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

func (f *fakeStore) SoftDeleteImage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.images[id]
	if !ok {
		return errors.New("not found")
	}
	now := time.Now()
	meta.DeletedAt = &now
	return nil
}

func (f *fakeStore) ListImages(_ context.Context, tenantID string, _ types.ImageFilter) ([]*types.ImageMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ImageMetadata
	for _, meta := range f.images {
		if meta.TenantID == tenantID && !meta.Deleted() {
			copied := *meta
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchImageAccess(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchCalls++
	return nil
}

func (f *fakeStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func newTestManager(t *testing.T, store types.MetadataStore) *Manager {
	t.Helper()
	return NewManager(store, ManagerConfig{MaxEntries: 16, TTL: time.Minute}, nil)
}

func TestManagerStoreAssignsID(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)

	stored, err := m.Store(context.Background(), testMeta(""))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID, "manager must assign an id when none is given")
}

func TestManagerStoreNil(t *testing.T) {
	m := newTestManager(t, newFakeStore())
	_, err := m.Store(context.Background(), nil)
	assert.Error(t, err)
}

func TestManagerSecondGetSkipsStore(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)

	stored, err := m.Store(context.Background(), testMeta("img-1"))
	require.NoError(t, err)

	// Both reads come out of memory: Store already populated the LRU.
	require.NotNil(t, m.Get(context.Background(), stored.ID))
	require.NotNil(t, m.Get(context.Background(), stored.ID))

	assert.Equal(t, 0, store.readCount(), "warm reads must not touch the persistent store")
}

func TestManagerGetFallsThroughToStore(t *testing.T) {
	store := newFakeStore()
	meta := testMeta("img-1")
	_, err := store.InsertImage(context.Background(), meta)
	require.NoError(t, err)

	m := newTestManager(t, store)

	got := m.Get(context.Background(), "img-1")
	require.NotNil(t, got)
	assert.Equal(t, 1, store.readCount())

	// The store hit populated the memory tier.
	require.NotNil(t, m.Get(context.Background(), "img-1"))
	assert.Equal(t, 1, store.readCount())
}

func TestManagerGetMiss(t *testing.T) {
	m := newTestManager(t, newFakeStore())
	assert.Nil(t, m.Get(context.Background(), "absent"))
}

func TestManagerGetFailsSoftOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.failReads = true
	m := newTestManager(t, store)

	assert.Nil(t, m.Get(context.Background(), "img-1"), "store errors read as a miss")
}

func TestManagerGetByURL(t *testing.T) {
	store := newFakeStore()
	meta := testMeta("img-1")
	_, err := store.InsertImage(context.Background(), meta)
	require.NoError(t, err)

	m := newTestManager(t, store)

	got := m.GetByURL(context.Background(), meta.OriginalURL)
	require.NotNil(t, got)
	assert.Equal(t, "img-1", got.ID)

	// The URL hit cached the record under its id.
	before := store.readCount()
	require.NotNil(t, m.Get(context.Background(), "img-1"))
	assert.Equal(t, before, store.readCount())

	assert.Nil(t, m.GetByURL(context.Background(), "https://nowhere.example.com/x.jpg"))
}

func TestManagerUpdateRefreshesCache(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)

	stored, err := m.Store(context.Background(), testMeta("img-1"))
	require.NoError(t, err)

	alt := "new alt text"
	updated, err := m.Update(context.Background(), stored.ID, types.ImageUpdate{AltText: &alt})
	require.NoError(t, err)
	assert.Equal(t, alt, updated.AltText)

	got := m.Get(context.Background(), stored.ID)
	require.NotNil(t, got)
	assert.Equal(t, alt, got.AltText, "memory entry must reflect the update")
}

func TestManagerDeleteEvictsAndHidesRecord(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)

	stored, err := m.Store(context.Background(), testMeta("img-1"))
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), stored.ID))

	assert.Nil(t, m.Get(context.Background(), stored.ID), "soft-deleted record must not be returned")

	// The row still exists in the store, just stamped.
	store.mu.Lock()
	raw := store.images[stored.ID]
	store.mu.Unlock()
	require.NotNil(t, raw)
	assert.True(t, raw.Deleted())
}

func TestManagerDeleteUnknown(t *testing.T) {
	m := newTestManager(t, newFakeStore())
	assert.Error(t, m.Delete(context.Background(), "absent"))
}

func TestManagerStats(t *testing.T) {
	m := newTestManager(t, newFakeStore())
	stats := m.Stats()
	assert.Equal(t, 16, stats.Capacity)
}

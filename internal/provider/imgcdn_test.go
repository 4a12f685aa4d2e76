package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/imagegate/internal/config"
	"github.com/platewise/imagegate/pkg/types"
)

func newImgCDNServer(t *testing.T, uploadStatus int) (*httptest.Server, *ImgCDN) {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/api/v1/files/upload", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(32<<20))

		_, header, err := r.FormFile("file")
		require.NoError(t, err)

		if uploadStatus != http.StatusOK {
			w.WriteHeader(uploadStatus)
			return
		}
		json.NewEncoder(w).Encode(imgcdnUploadResponse{
			FileID:   "file-123",
			URL:      server.URL + "/media/" + header.Filename,
			FilePath: "/media/" + header.Filename,
			Width:    800,
			Height:   600,
		})
	})
	mux.HandleFunc("/api/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	adapter, err := NewImgCDN(config.ImgCDNConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, nil)
	require.NoError(t, err)
	return server, adapter
}

func TestImgCDNUpload(t *testing.T) {
	server, adapter := newImgCDNServer(t, http.StatusOK)

	obj, err := adapter.Upload(context.Background(), []byte("fake image"), "logo.png", types.UploadOptions{
		Folder:           "tenant-1",
		Optimize:         true,
		GenerateVariants: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "file-123", obj.BackendObjectID)
	assert.Equal(t, server.URL+"/media/logo.png", obj.URL)
	assert.Equal(t, 800, obj.Width)
	assert.Equal(t, 600, obj.Height)

	// Variants splice a transform segment into the path.
	assert.Equal(t, server.URL+"/tr:w-150/media/logo.png", obj.Variants[types.TierThumbnail])
	assert.Equal(t, server.URL+"/tr:w-1200/media/logo.png", obj.Variants[types.TierLarge])
	assert.Equal(t, obj.URL, obj.Variants[types.TierOriginal])
}

func TestImgCDNUploadServerError(t *testing.T) {
	_, adapter := newImgCDNServer(t, http.StatusInternalServerError)

	_, err := adapter.Upload(context.Background(), []byte("x"), "logo.png", types.UploadOptions{})
	assert.Error(t, err)
}

func TestImgCDNDelete(t *testing.T) {
	_, adapter := newImgCDNServer(t, http.StatusOK)

	confirmed, err := adapter.Delete(context.Background(), "file-123")
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestImgCDNGetOptimizedURL(t *testing.T) {
	server, adapter := newImgCDNServer(t, http.StatusOK)

	url := adapter.GetOptimizedURL(server.URL+"/media/a.jpg", types.TransformOptions{
		Width: 300, Height: 200, Quality: 75, Format: "webp",
	})
	assert.Equal(t, server.URL+"/tr:w-300,h-200,q-75,f-webp/media/a.jpg", url)

	// No transform parameters: the URL passes through.
	plain := server.URL + "/media/a.jpg"
	assert.Equal(t, plain, adapter.GetOptimizedURL(plain, types.TransformOptions{}))

	// Foreign URLs pass through untouched.
	foreign := "https://other.example.com/a.jpg"
	assert.Equal(t, foreign, adapter.GetOptimizedURL(foreign, types.TransformOptions{Width: 300}))
}

func TestImgCDNIsAvailable(t *testing.T) {
	_, adapter := newImgCDNServer(t, http.StatusOK)
	assert.True(t, adapter.IsAvailable(context.Background()))

	down, err := NewImgCDN(config.ImgCDNConfig{BaseURL: "http://127.0.0.1:1", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.False(t, down.IsAvailable(context.Background()))
}

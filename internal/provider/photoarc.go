package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/platewise/imagegate/internal/config"
	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// PhotoArc is the backup photo archive adapter. The archive's API accepts
// uploads and serves size-named URLs but exposes no delete endpoint, so
// Delete always reports false. Removal from the catalog is handled entirely
// by the metadata soft delete.
type PhotoArc struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *utils.StructuredLogger
}

// photoArcUploadResponse is the archive's upload result payload.
type photoArcUploadResponse struct {
	ID   string `json:"id"`
	URLs struct {
		Raw     string `json:"raw"`
		Full    string `json:"full"`
		Regular string `json:"regular"`
		Small   string `json:"small"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewPhotoArc builds the adapter from configuration.
func NewPhotoArc(cfg config.PhotoArcConfig, logger *utils.StructuredLogger) (*PhotoArc, error) {
	if cfg.BaseURL == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidConfig, "photoarc: base_url must be set")
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	return &PhotoArc{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger.WithComponent("provider.photoarc"),
	}, nil
}

// Name returns the backend identifier.
func (p *PhotoArc) Name() types.Backend {
	return types.BackendPhotoArc
}

// Upload posts the photo and maps the archive's size-named URLs onto the
// five variant tiers.
func (p *PhotoArc) Upload(ctx context.Context, data []byte, fileName string, opts types.UploadOptions) (*types.UploadedObject, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("photo", sanitizeFileName(fileName))
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "photoarc: build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "photoarc: write multipart body")
	}
	if err := writer.Close(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "photoarc: finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/photos", &body)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "photoarc: build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeNetworkError, "photoarc: upload request").
			WithBackend(string(types.BackendPhotoArc))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, gwerrors.Newf(gwerrors.ErrCodeUploadFailed, "photoarc: upload returned %d: %s", resp.StatusCode, snippet).
			WithBackend(string(types.BackendPhotoArc))
	}

	var result photoArcUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeProviderResponse, "photoarc: decode upload response")
	}
	if result.ID == "" || result.URLs.Raw == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeProviderResponse, "photoarc: upload response missing id or raw url")
	}

	obj := &types.UploadedObject{
		URL:             result.URLs.Raw,
		BackendObjectID: result.ID,
		Width:           result.Width,
		Height:          result.Height,
	}
	if opts.GenerateVariants {
		obj.Variants = map[types.VariantTier]string{
			types.TierThumbnail: orElse(result.URLs.Thumb, result.URLs.Raw),
			types.TierSmall:     orElse(result.URLs.Small, result.URLs.Raw),
			types.TierMedium:    orElse(result.URLs.Regular, result.URLs.Raw),
			types.TierLarge:     orElse(result.URLs.Full, result.URLs.Raw),
			types.TierOriginal:  result.URLs.Raw,
		}
	} else {
		obj.Variants = map[types.VariantTier]string{types.TierOriginal: result.URLs.Raw}
	}
	return obj, nil
}

// Delete always reports false: the archive API cannot delete. The warning
// is deliberate so operators can see orphaned archive objects accumulating.
func (p *PhotoArc) Delete(ctx context.Context, backendObjectID string) (bool, error) {
	p.logger.Warn("photoarc cannot delete objects, archive copy remains", map[string]interface{}{
		"object_id": backendObjectID,
	})
	return false, nil
}

// GetOptimizedURL appends resize query parameters understood by the
// archive's image servers.
func (p *PhotoArc) GetOptimizedURL(url string, opts types.TransformOptions) string {
	var params []string
	if opts.Width > 0 {
		params = append(params, fmt.Sprintf("w=%d", opts.Width))
	}
	if opts.Height > 0 {
		params = append(params, fmt.Sprintf("h=%d", opts.Height))
	}
	if opts.Quality > 0 {
		params = append(params, fmt.Sprintf("q=%d", opts.Quality))
	}
	if opts.Format != "" {
		params = append(params, "fm="+opts.Format)
	}
	if len(params) == 0 {
		return url
	}
	return appendQuery(url, strings.Join(params, "&"))
}

// IsAvailable pings the archive API. Any failure reads as unavailable.
func (p *PhotoArc) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/ping", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("availability probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func orElse(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

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

// ImgCDN talks to a hosted image CDN over its HTTP API. Uploads go up as
// multipart form data; transforms are expressed as a /tr:... path segment
// the CDN resolves on the fly.
type ImgCDN struct {
	httpClient *http.Client
	baseURL    string
	uploadURL  string
	apiKey     string
	logger     *utils.StructuredLogger
}

// imgcdnUploadResponse is the API's upload result payload.
type imgcdnUploadResponse struct {
	FileID   string `json:"file_id"`
	URL      string `json:"url"`
	FilePath string `json:"file_path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// NewImgCDN builds the adapter from configuration.
func NewImgCDN(cfg config.ImgCDNConfig, logger *utils.StructuredLogger) (*ImgCDN, error) {
	if cfg.BaseURL == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidConfig, "imgcdn: base_url must be set")
	}
	uploadURL := cfg.UploadURL
	if uploadURL == "" {
		uploadURL = strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/files/upload"
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}

	return &ImgCDN{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		uploadURL:  uploadURL,
		apiKey:     cfg.APIKey,
		logger:     logger.WithComponent("provider.imgcdn"),
	}, nil
}

// Name returns the backend identifier.
func (p *ImgCDN) Name() types.Backend {
	return types.BackendImgCDN
}

// Upload posts the file as multipart form data and templates variant URLs
// from the returned file path.
func (p *ImgCDN) Upload(ctx context.Context, data []byte, fileName string, opts types.UploadOptions) (*types.UploadedObject, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", sanitizeFileName(fileName))
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "imgcdn: build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "imgcdn: write multipart body")
	}
	if opts.Folder != "" {
		_ = writer.WriteField("folder", opts.Folder)
	}
	if opts.Optimize {
		_ = writer.WriteField("optimize", "true")
	}
	if err := writer.Close(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "imgcdn: finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, &body)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUploadFailed, "imgcdn: build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeNetworkError, "imgcdn: upload request").
			WithBackend(string(types.BackendImgCDN))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, gwerrors.Newf(gwerrors.ErrCodeUploadFailed, "imgcdn: upload returned %d: %s", resp.StatusCode, snippet).
			WithBackend(string(types.BackendImgCDN))
	}

	var result imgcdnUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeProviderResponse, "imgcdn: decode upload response")
	}
	if result.URL == "" || result.FileID == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeProviderResponse, "imgcdn: upload response missing url or file_id")
	}

	obj := &types.UploadedObject{
		URL:             result.URL,
		BackendObjectID: result.FileID,
		Width:           result.Width,
		Height:          result.Height,
	}
	if opts.GenerateVariants {
		obj.Variants = p.pathVariants(result.URL)
	} else {
		obj.Variants = map[types.VariantTier]string{types.TierOriginal: result.URL}
	}
	return obj, nil
}

// Delete removes the file through the API.
func (p *ImgCDN) Delete(ctx context.Context, backendObjectID string) (bool, error) {
	url := p.baseURL + "/api/v1/files/" + backendObjectID

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false, gwerrors.Wrap(err, gwerrors.ErrCodeDeleteFailed, "imgcdn: build delete request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, gwerrors.Wrap(err, gwerrors.ErrCodeNetworkError, "imgcdn: delete request").
			WithBackend(string(types.BackendImgCDN))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, gwerrors.Newf(gwerrors.ErrCodeDeleteFailed, "imgcdn: delete returned %d", resp.StatusCode).
			WithBackend(string(types.BackendImgCDN))
	}
	return true, nil
}

// GetOptimizedURL inserts a /tr:... transform segment after the CDN base.
// URLs outside this CDN are returned unchanged.
func (p *ImgCDN) GetOptimizedURL(url string, opts types.TransformOptions) string {
	var params []string
	if opts.Width > 0 {
		params = append(params, fmt.Sprintf("w-%d", opts.Width))
	}
	if opts.Height > 0 {
		params = append(params, fmt.Sprintf("h-%d", opts.Height))
	}
	if opts.Quality > 0 {
		params = append(params, fmt.Sprintf("q-%d", opts.Quality))
	}
	if opts.Format != "" {
		params = append(params, "f-"+opts.Format)
	}
	if len(params) == 0 {
		return url
	}
	return p.transformURL(url, "tr:"+strings.Join(params, ","))
}

// IsAvailable pings the API. Any failure reads as unavailable.
func (p *ImgCDN) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/ping", nil)
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

// pathVariants templates the resized tiers with /tr:w-N path segments.
func (p *ImgCDN) pathVariants(url string) map[types.VariantTier]string {
	variants := make(map[types.VariantTier]string, len(types.VariantTiers))
	for tier, width := range types.TierWidths {
		variants[tier] = p.transformURL(url, fmt.Sprintf("tr:w-%d", width))
	}
	variants[types.TierOriginal] = url
	return variants
}

// transformURL splices a transform segment between the CDN base and the
// file path.
func (p *ImgCDN) transformURL(url, segment string) string {
	if !strings.HasPrefix(url, p.baseURL+"/") {
		return url
	}
	return p.baseURL + "/" + segment + strings.TrimPrefix(url, p.baseURL)
}

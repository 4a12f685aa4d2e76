// Package api exposes the gateway over HTTP. The surface is a small JSON
// API: uploads come in as multipart form posts, everything else is plain
// JSON in and out.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/platewise/imagegate/internal/health"
	"github.com/platewise/imagegate/internal/service"
	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// MaxUploadBytes caps one multipart upload. Larger files are rejected
// before any backend is contacted.
const MaxUploadBytes = 64 << 20

// Server is the HTTP front end.
type Server struct {
	storage        *service.Storage
	health         *health.Checker
	metricsHandler http.Handler
	logger         *utils.StructuredLogger
	cacheControl   string

	httpServer *http.Server
}

// Config holds server construction options.
type Config struct {
	ListenAddr string
	// CacheControl is sent on optimized-URL responses.
	CacheControl string
	// MetricsHandler serves GET /metrics; nil disables the endpoint.
	MetricsHandler http.Handler
}

// NewServer builds the server and its route table.
func NewServer(storage *service.Storage, checker *health.Checker, cfg Config, logger *utils.StructuredLogger) *Server {
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	s := &Server{
		storage:        storage,
		health:         checker,
		metricsHandler: cfg.MetricsHandler,
		logger:         logger.WithComponent("api"),
		cacheControl:   cfg.CacheControl,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealthz)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/images", s.handleUpload)
		r.Get("/images/{id}", s.handleGetImage)
		r.Get("/images/{id}/url", s.handleOptimizedURL)
		r.Patch("/images/{id}", s.handleUpdateImage)
		r.Delete("/images/{id}", s.handleDeleteImage)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/images", s.handleListImages)
			r.Get("/usage", s.handleUsage)
			r.Post("/provision", s.handleProvision)
		})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleUpload accepts a multipart form with a "file" part plus tenant_id
// and category fields. Optimization and variant generation default to on
// and can be switched off per request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		s.writeError(w, gwerrors.Wrap(err, gwerrors.ErrCodeValidationFailed, "invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, gwerrors.New(gwerrors.ErrCodeValidationFailed, "missing file part"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		s.writeError(w, gwerrors.Wrap(err, gwerrors.ErrCodeValidationFailed, "reading upload body"))
		return
	}
	if len(data) > MaxUploadBytes {
		s.writeError(w, gwerrors.Newf(gwerrors.ErrCodeValidationFailed, "file exceeds %d byte upload cap", MaxUploadBytes))
		return
	}

	req := &types.UploadRequest{
		TenantID:         r.FormValue("tenant_id"),
		Category:         types.ImageCategory(r.FormValue("category")),
		FileName:         header.Filename,
		MimeType:         header.Header.Get("Content-Type"),
		Data:             data,
		AltText:          r.FormValue("alt_text"),
		Caption:          r.FormValue("caption"),
		Optimize:         formBool(r, "optimize", true),
		GenerateVariants: formBool(r, "generate_variants", true),
	}

	result := s.storage.Upload(r.Context(), req)
	status := http.StatusCreated
	if !result.Success {
		status = http.StatusBadGateway
		if code := failureCode(result.Error); code != 0 {
			status = code
		}
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta := s.storage.GetImage(r.Context(), id)
	if meta == nil {
		s.writeError(w, gwerrors.Newf(gwerrors.ErrCodeImageNotFound, "image %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

// handleOptimizedURL resolves the best URL for a requested rendition and
// returns it with long-lived caching headers. Responses vary by Accept so
// format-negotiating CDNs stay correct.
func (s *Server) handleOptimizedURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta := s.storage.GetImage(r.Context(), id)
	if meta == nil {
		s.writeError(w, gwerrors.Newf(gwerrors.ErrCodeImageNotFound, "image %s not found", id))
		return
	}

	opts := types.TransformOptions{
		Width:   queryInt(r, "w"),
		Height:  queryInt(r, "h"),
		Quality: queryInt(r, "q"),
		Format:  r.URL.Query().Get("f"),
	}
	url := s.storage.GetOptimizedURL(meta, opts)

	if s.cacheControl != "" {
		w.Header().Set("Cache-Control", s.cacheControl)
	}
	w.Header().Set("Vary", "Accept")
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		AltText *string `json:"alt_text"`
		Caption *string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, gwerrors.Wrap(err, gwerrors.ErrCodeValidationFailed, "invalid JSON body"))
		return
	}

	meta, err := s.storage.UpdateImage(r.Context(), id, types.ImageUpdate{
		AltText: body.AltText,
		Caption: body.Caption,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.storage.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	filter := types.ImageFilter{
		Category: types.ImageCategory(r.URL.Query().Get("category")),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		s.writeError(w, gwerrors.Newf(gwerrors.ErrCodeValidationFailed, "unknown image category %q", filter.Category))
		return
	}

	images, err := s.storage.ListForTenant(r.Context(), tenant, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenant,
		"images":    images,
		"count":     len(images),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	summary, err := s.storage.UsageSummary(r.Context(), tenant)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := s.storage.ProvisionTenant(r.Context(), tenant); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"tenant_id": tenant, "status": "provisioned"})
}

// handleHealthz reports per-backend availability plus cache statistics.
// The endpoint is 200 as long as the process is serving; individual
// backends being down is reported in the body, not the status code.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.health != nil {
		resp["backends"] = s.health.Snapshot()
	}
	if s.storage != nil {
		resp["cache"] = s.storage.CacheStats()
		resp["circuits"] = s.storage.BreakerStats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := gwerrors.CodeOf(err)
	if code != "" {
		status = gwerrors.GetDefaultHTTPStatus(code)
	}
	var gw *gwerrors.GatewayError
	if errors.As(err, &gw) && gw.HTTPStatus != 0 {
		status = gw.HTTPStatus
	}
	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}

// failureCode maps an upload failure message back to an HTTP status. The
// storage service flattens errors into the result struct, so the message
// prefix is all that survives.
func failureCode(msg string) int {
	switch {
	case msg == "":
		return 0
	case strings.Contains(msg, string(gwerrors.ErrCodeValidationFailed)):
		return http.StatusBadRequest
	case strings.Contains(msg, string(gwerrors.ErrCodeAllBackendsDown)):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

func formBool(r *http.Request, key string, def bool) bool {
	v := r.FormValue(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

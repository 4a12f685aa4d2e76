// Package store implements the persistent metadata and quota stores on PostgreSQL.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	gwerrors "github.com/platewise/imagegate/pkg/errors"
	"github.com/platewise/imagegate/pkg/types"
)

//go:embed migrations
var migrationsFS embed.FS

// Connect creates and validates a pgx connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate runs all pending up migrations embedded in the binary.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Postgres implements types.MetadataStore and types.QuotaStore on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New wraps an established pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const imageColumns = `id, tenant_id, backend, category, original_url, cdn_url, thumbnail_url,
	backend_object_id, file_name, file_size_bytes, mime_type, width, height, variants,
	alt_text, caption, cache_control, access_count, last_accessed_at, status, error_message,
	created_at, updated_at, deleted_at`

// scanImage is the single total mapping from an image_metadata row to the
// typed struct. Every column addition goes through here.
func scanImage(row pgx.Row) (*types.ImageMetadata, error) {
	var (
		m           types.ImageMetadata
		variantsRaw []byte
	)
	err := row.Scan(
		&m.ID, &m.TenantID, &m.Backend, &m.Category, &m.OriginalURL, &m.CDNURL, &m.ThumbnailURL,
		&m.BackendObjectID, &m.FileName, &m.FileSizeBytes, &m.MimeType, &m.Width, &m.Height, &variantsRaw,
		&m.AltText, &m.Caption, &m.CacheControl, &m.AccessCount, &m.LastAccessedAt, &m.Status, &m.ErrorMessage,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(variantsRaw) > 0 {
		if err := json.Unmarshal(variantsRaw, &m.Variants); err != nil {
			return nil, fmt.Errorf("decode variants for image %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// InsertImage stores a new catalog row and returns it with generated
// timestamps filled in.
func (p *Postgres) InsertImage(ctx context.Context, meta *types.ImageMetadata) (*types.ImageMetadata, error) {
	variants, err := json.Marshal(meta.Variants)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "encode variants")
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO image_metadata (
			id, tenant_id, backend, category, original_url, cdn_url, thumbnail_url,
			backend_object_id, file_name, file_size_bytes, mime_type, width, height, variants,
			alt_text, caption, cache_control, status, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING `+imageColumns,
		meta.ID, meta.TenantID, meta.Backend, meta.Category, meta.OriginalURL, meta.CDNURL, meta.ThumbnailURL,
		meta.BackendObjectID, meta.FileName, meta.FileSizeBytes, meta.MimeType, meta.Width, meta.Height, variants,
		meta.AltText, meta.Caption, meta.CacheControl, meta.Status, meta.ErrorMessage,
	)

	stored, err := scanImage(row)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "insert image").WithTenant(meta.TenantID)
	}
	return stored, nil
}

// GetImage fetches a live (not soft-deleted) row by id. A missing row is
// (nil, nil): the cache manager treats this as a plain miss.
func (p *Postgres) GetImage(ctx context.Context, id string) (*types.ImageMetadata, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+imageColumns+`
		FROM image_metadata
		WHERE id = $1 AND deleted_at IS NULL`, id)

	meta, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "get image")
	}
	return meta, nil
}

// GetImageByURL fetches a live row whose original or CDN URL matches.
func (p *Postgres) GetImageByURL(ctx context.Context, url string) (*types.ImageMetadata, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+imageColumns+`
		FROM image_metadata
		WHERE (original_url = $1 OR cdn_url = $1) AND deleted_at IS NULL
		LIMIT 1`, url)

	meta, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "get image by url")
	}
	return meta, nil
}

// UpdateImage applies a partial update and returns the fresh row.
func (p *Postgres) UpdateImage(ctx context.Context, id string, upd types.ImageUpdate) (*types.ImageMetadata, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.OriginalURL != nil {
		add("original_url", *upd.OriginalURL)
	}
	if upd.CDNURL != nil {
		add("cdn_url", *upd.CDNURL)
	}
	if upd.ThumbnailURL != nil {
		add("thumbnail_url", *upd.ThumbnailURL)
	}
	if upd.Variants != nil {
		variants, err := json.Marshal(upd.Variants)
		if err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "encode variants")
		}
		add("variants", variants)
	}
	if upd.AltText != nil {
		add("alt_text", *upd.AltText)
	}
	if upd.Caption != nil {
		add("caption", *upd.Caption)
	}
	if upd.CacheControl != nil {
		add("cache_control", *upd.CacheControl)
	}
	if upd.Width != nil {
		add("width", *upd.Width)
	}
	if upd.Height != nil {
		add("height", *upd.Height)
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE image_metadata SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+imageColumns, args...)

	meta, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gwerrors.Newf(gwerrors.ErrCodeImageNotFound, "image %s not found", id)
	}
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "update image")
	}
	return meta, nil
}

// SoftDeleteImage stamps deleted_at. The row is never physically removed.
func (p *Postgres) SoftDeleteImage(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE image_metadata SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "soft delete image")
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.Newf(gwerrors.ErrCodeImageNotFound, "image %s not found", id)
	}
	return nil
}

// ListImages returns a page of a tenant's live rows, newest first.
func (p *Postgres) ListImages(ctx context.Context, tenantID string, filter types.ImageFilter) ([]*types.ImageMetadata, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + imageColumns + `
		FROM image_metadata
		WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []interface{}{tenantID}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "list images").WithTenant(tenantID)
	}
	defer rows.Close()

	var images []*types.ImageMetadata
	for rows.Next() {
		meta, err := scanImage(rows)
		if err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "scan image row")
		}
		images = append(images, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "iterate image rows")
	}
	return images, nil
}

// TouchImageAccess bumps access tracking counters. Best-effort by contract.
func (p *Postgres) TouchImageAccess(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE image_metadata
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "touch image access")
	}
	return nil
}

const quotaColumns = `tenant_id, backend, monthly_upload_limit_bytes, monthly_request_limit,
	max_file_size_bytes, current_month_bytes, current_month_requests, last_reset_at,
	total_bytes_uploaded, total_uploads, total_requests, is_enabled, priority`

func scanQuota(row pgx.Row) (*types.ProviderQuota, error) {
	var q types.ProviderQuota
	err := row.Scan(
		&q.TenantID, &q.Backend, &q.MonthlyUploadLimitBytes, &q.MonthlyRequestLimit,
		&q.MaxFileSizeBytes, &q.CurrentMonthBytes, &q.CurrentMonthRequests, &q.LastResetAt,
		&q.TotalBytesUploaded, &q.TotalUploads, &q.TotalRequests, &q.IsEnabled, &q.Priority,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuota fetches the (tenant, backend) row. A missing row is (nil, nil):
// the quota manager fails open on it.
func (p *Postgres) GetQuota(ctx context.Context, tenantID string, backend types.Backend) (*types.ProviderQuota, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+quotaColumns+`
		FROM provider_quotas
		WHERE tenant_id = $1 AND backend = $2`, tenantID, backend)

	q, err := scanQuota(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "get quota").WithTenant(tenantID).WithBackend(string(backend))
	}
	return q, nil
}

// ListQuotas returns all quota rows for a tenant ordered by priority.
func (p *Postgres) ListQuotas(ctx context.Context, tenantID string) ([]*types.ProviderQuota, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+quotaColumns+`
		FROM provider_quotas
		WHERE tenant_id = $1
		ORDER BY priority`, tenantID)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "list quotas").WithTenant(tenantID)
	}
	defer rows.Close()

	var quotas []*types.ProviderQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "scan quota row")
		}
		quotas = append(quotas, q)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "iterate quota rows")
	}
	return quotas, nil
}

// InsertQuota creates a quota row. Conflicts are ignored so tenant
// provisioning is idempotent.
func (p *Postgres) InsertQuota(ctx context.Context, quota *types.ProviderQuota) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO provider_quotas (
			tenant_id, backend, monthly_upload_limit_bytes, monthly_request_limit,
			max_file_size_bytes, is_enabled, priority
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, backend) DO NOTHING`,
		quota.TenantID, quota.Backend, quota.MonthlyUploadLimitBytes, quota.MonthlyRequestLimit,
		quota.MaxFileSizeBytes, quota.IsEnabled, quota.Priority,
	)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "insert quota").WithTenant(quota.TenantID)
	}
	return nil
}

// IncrementQuotaUsage adds bytes and one request to the monthly and lifetime
// counters in a single statement, so concurrent increments never lose
// updates. The check-then-increment pair as a whole stays non-atomic: the
// monthly limits are soft.
func (p *Postgres) IncrementQuotaUsage(ctx context.Context, tenantID string, backend types.Backend, bytes int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE provider_quotas SET
			current_month_bytes = current_month_bytes + $3,
			current_month_requests = current_month_requests + 1,
			total_bytes_uploaded = total_bytes_uploaded + $3,
			total_uploads = total_uploads + 1,
			total_requests = total_requests + 1
		WHERE tenant_id = $1 AND backend = $2`, tenantID, backend, bytes)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "increment quota usage").WithTenant(tenantID).WithBackend(string(backend))
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.Newf(gwerrors.ErrCodeQuotaNotFound, "no quota row for tenant %s backend %s", tenantID, backend)
	}
	return nil
}

// UpdateQuotaLimits applies a partial limits update.
func (p *Postgres) UpdateQuotaLimits(ctx context.Context, tenantID string, backend types.Backend, limits types.QuotaLimits) error {
	sets := []string{}
	args := []interface{}{tenantID, backend}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if limits.MonthlyUploadLimitBytes != nil {
		add("monthly_upload_limit_bytes", *limits.MonthlyUploadLimitBytes)
	}
	if limits.MonthlyRequestLimit != nil {
		add("monthly_request_limit", *limits.MonthlyRequestLimit)
	}
	if limits.MaxFileSizeBytes != nil {
		add("max_file_size_bytes", *limits.MaxFileSizeBytes)
	}
	if limits.IsEnabled != nil {
		add("is_enabled", *limits.IsEnabled)
	}
	if limits.Priority != nil {
		add("priority", *limits.Priority)
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE provider_quotas SET `+strings.Join(sets, ", ")+`
		WHERE tenant_id = $1 AND backend = $2`, args...)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "update quota limits").WithTenant(tenantID).WithBackend(string(backend))
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.Newf(gwerrors.ErrCodeQuotaNotFound, "no quota row for tenant %s backend %s", tenantID, backend)
	}
	return nil
}

// ResetMonthlyQuotas zeroes monthly counters across every row and stamps
// last_reset_at. Runs on the monthly rollover.
func (p *Postgres) ResetMonthlyQuotas(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE provider_quotas SET
			current_month_bytes = 0,
			current_month_requests = 0,
			last_reset_at = now()`)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeStoreWrite, "reset monthly quotas")
	}
	return nil
}

// LastResetBefore reports whether any quota row was last reset before the
// given month boundary. The scheduler uses it to decide if a rollover reset
// is due.
func (p *Postgres) LastResetBefore(ctx context.Context, boundary time.Time) (bool, error) {
	var due bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM provider_quotas WHERE last_reset_at < $1)`, boundary).Scan(&due)
	if err != nil {
		return false, gwerrors.Wrap(err, gwerrors.ErrCodeStoreRead, "check reset due")
	}
	return due, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"snapvault/internal/models"
)

// PostgresConfig tunes the pgx connection pool backing the repository.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ApplicationName     string
}

// Option mutates the Postgres configuration during construction.
type Option func(*PostgresConfig)

// WithPoolLimits bounds the connection pool size.
func WithPoolLimits(min, max int32) Option {
	return func(cfg *PostgresConfig) {
		cfg.MinConnections = min
		cfg.MaxConnections = max
	}
}

// WithConnLifetimes sets the maximum lifetime and idle time for pooled connections.
func WithConnLifetimes(lifetime, idle time.Duration) Option {
	return func(cfg *PostgresConfig) {
		cfg.MaxConnLifetime = lifetime
		cfg.MaxConnIdleTime = idle
	}
}

// WithApplicationName sets the application_name reported to Postgres.
func WithApplicationName(name string) Option {
	return func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	}
}

// Postgres persists the dataset to a Postgres database so that multiple API
// replicas share state.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a Postgres-backed repository and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	cfg := PostgresConfig{DSN: dsn}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &Postgres{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool, bounded by the provided context.
func (p *Postgres) Close(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) PutAlbum(ctx context.Context, album models.Album) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO albums (id, owner_id, identifier, privacy, access_code_hash, status, expires_at, max_file_size_mb, allow_videos, media_count, total_size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  owner_id = EXCLUDED.owner_id,
  identifier = EXCLUDED.identifier,
  privacy = EXCLUDED.privacy,
  access_code_hash = EXCLUDED.access_code_hash,
  status = EXCLUDED.status,
  expires_at = EXCLUDED.expires_at,
  max_file_size_mb = EXCLUDED.max_file_size_mb,
  allow_videos = EXCLUDED.allow_videos,
  media_count = EXCLUDED.media_count,
  total_size_bytes = EXCLUDED.total_size_bytes
`, album.ID, album.OwnerID, models.NormalizeIdentifier(album.Identifier), album.Privacy, album.AccessCodeHash,
		album.Status, album.ExpiresAt, album.MaxFileSizeMB, album.AllowVideos, album.MediaCount,
		album.TotalSizeBytes, album.CreatedAt.UTC())
	return err
}

const albumColumns = `id, owner_id, identifier, privacy, access_code_hash, status, expires_at, max_file_size_mb, allow_videos, media_count, total_size_bytes, created_at`

func scanAlbum(row pgx.Row) (models.Album, bool, error) {
	var album models.Album
	err := row.Scan(&album.ID, &album.OwnerID, &album.Identifier, &album.Privacy, &album.AccessCodeHash,
		&album.Status, &album.ExpiresAt, &album.MaxFileSizeMB, &album.AllowVideos, &album.MediaCount,
		&album.TotalSizeBytes, &album.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Album{}, false, nil
		}
		return models.Album{}, false, err
	}
	return album, true, nil
}

func (p *Postgres) GetAlbum(ctx context.Context, id string) (models.Album, bool, error) {
	return scanAlbum(p.pool.QueryRow(ctx, `SELECT `+albumColumns+` FROM albums WHERE id = $1`, id))
}

func (p *Postgres) GetAlbumByIdentifier(ctx context.Context, identifier string) (models.Album, bool, error) {
	return scanAlbum(p.pool.QueryRow(ctx, `SELECT `+albumColumns+` FROM albums WHERE identifier = $1`,
		models.NormalizeIdentifier(identifier)))
}

func (p *Postgres) AdjustAlbumCounters(ctx context.Context, albumID string, deltaMedia int, deltaBytes int64) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE albums SET
  media_count = GREATEST(0, media_count + $2),
  total_size_bytes = GREATEST(0, total_size_bytes + $3)
WHERE id = $1
`, albumID, deltaMedia, deltaBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateAccessCode(ctx context.Context, code models.AccessCode) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO access_codes (id, album_id, code_hash, encrypted_code, is_blacklisted, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, code.ID, code.AlbumID, code.CodeHash, code.EncryptedCode, code.IsBlacklisted, code.Note, code.CreatedAt.UTC())
	return err
}

func (p *Postgres) ListAccessCodes(ctx context.Context, albumID string) ([]models.AccessCode, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, album_id, code_hash, encrypted_code, is_blacklisted, note, created_at
FROM access_codes WHERE album_id = $1 ORDER BY created_at
`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []models.AccessCode
	for rows.Next() {
		var code models.AccessCode
		if err := rows.Scan(&code.ID, &code.AlbumID, &code.CodeHash, &code.EncryptedCode,
			&code.IsBlacklisted, &code.Note, &code.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (p *Postgres) SetAccessCodeBlacklist(ctx context.Context, id string, blacklisted bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE access_codes SET is_blacklisted = $2 WHERE id = $1`, id, blacklisted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertAttempt(ctx context.Context, attempt models.AccessAttempt) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO access_attempts (id, album_id, identifier, ip_address, device_id, success, attempted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, attempt.ID, attempt.AlbumID, models.NormalizeIdentifier(attempt.Identifier), attempt.IPAddress,
		attempt.DeviceID, attempt.Success, attempt.AttemptedAt.UTC())
	return err
}

func (p *Postgres) FailedAttempts(ctx context.Context, albumID, identifier, ip string, since time.Time) (FailureWindow, error) {
	row := p.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(MIN(attempted_at), 'epoch'::timestamptz)
FROM access_attempts
WHERE album_id = $1 AND identifier = $2 AND ip_address = $3 AND success = FALSE AND attempted_at >= $4
`, albumID, models.NormalizeIdentifier(identifier), ip, since.UTC())
	var window FailureWindow
	if err := row.Scan(&window.Count, &window.Oldest); err != nil {
		return FailureWindow{}, err
	}
	return window, nil
}

func (p *Postgres) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM access_attempts WHERE attempted_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) CreateMedia(ctx context.Context, media models.Media) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO media (id, album_id, type, status, file_name, mime_type, storage_key, provider, file_size_bytes, width, height, cdn_url, thumbnail_key, thumbnail_url, created_at, deleted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`, media.ID, media.AlbumID, media.Type, media.Status, media.FileName, media.MimeType, media.StorageKey,
		media.Provider, media.FileSizeBytes, media.Width, media.Height, media.CDNUrl, media.ThumbnailKey,
		media.ThumbnailURL, media.CreatedAt.UTC(), media.DeletedAt)
	return err
}

const mediaColumns = `id, album_id, type, status, file_name, mime_type, storage_key, provider, file_size_bytes, width, height, cdn_url, thumbnail_key, thumbnail_url, created_at, deleted_at`

func scanMedia(row pgx.Row) (models.Media, bool, error) {
	var media models.Media
	err := row.Scan(&media.ID, &media.AlbumID, &media.Type, &media.Status, &media.FileName, &media.MimeType,
		&media.StorageKey, &media.Provider, &media.FileSizeBytes, &media.Width, &media.Height, &media.CDNUrl,
		&media.ThumbnailKey, &media.ThumbnailURL, &media.CreatedAt, &media.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Media{}, false, nil
		}
		return models.Media{}, false, err
	}
	return media, true, nil
}

func (p *Postgres) GetMedia(ctx context.Context, id string) (models.Media, bool, error) {
	return scanMedia(p.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
}

func (p *Postgres) GetMediaByStorageKey(ctx context.Context, key string) (models.Media, bool, error) {
	return scanMedia(p.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE storage_key = $1`, key))
}

func (p *Postgres) UpdateMedia(ctx context.Context, media models.Media) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE media SET
  status = $2, width = $3, height = $4, file_size_bytes = $5, cdn_url = $6, thumbnail_key = $7, thumbnail_url = $8, deleted_at = $9
WHERE id = $1
`, media.ID, media.Status, media.Width, media.Height, media.FileSizeBytes, media.CDNUrl, media.ThumbnailKey,
		media.ThumbnailURL, media.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteMedia(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetUsage(ctx context.Context, ownerID string) (models.UsageStats, error) {
	row := p.pool.QueryRow(ctx, `
SELECT owner_id, photo_count, video_count, album_count, storage_used_bytes
FROM usage_stats WHERE owner_id = $1
`, ownerID)
	var stats models.UsageStats
	err := row.Scan(&stats.OwnerID, &stats.PhotoCount, &stats.VideoCount, &stats.AlbumCount, &stats.StorageUsedBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UsageStats{OwnerID: ownerID}, nil
		}
		return models.UsageStats{}, err
	}
	return stats, nil
}

func (p *Postgres) AdjustUsage(ctx context.Context, ownerID string, delta UsageDelta) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO usage_stats (owner_id, photo_count, video_count, album_count, storage_used_bytes)
VALUES ($1, GREATEST(0, $2::int), GREATEST(0, $3::int), GREATEST(0, $4::int), GREATEST(0, $5::bigint))
ON CONFLICT (owner_id) DO UPDATE SET
  photo_count = GREATEST(0, usage_stats.photo_count + $2),
  video_count = GREATEST(0, usage_stats.video_count + $3),
  album_count = GREATEST(0, usage_stats.album_count + $4),
  storage_used_bytes = GREATEST(0, usage_stats.storage_used_bytes + $5)
`, ownerID, delta.Photos, delta.Videos, delta.Albums, delta.StorageBytes)
	return err
}

var _ Repository = (*Postgres)(nil)

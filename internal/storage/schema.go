package storage

import "context"

// Schema statements are applied in order at startup. Each statement is
// idempotent so replicas can race on boot without coordination.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS albums (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	identifier TEXT NOT NULL UNIQUE,
	privacy TEXT NOT NULL,
	access_code_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	max_file_size_mb INTEGER NOT NULL DEFAULT 0,
	allow_videos BOOLEAN NOT NULL DEFAULT FALSE,
	media_count INTEGER NOT NULL DEFAULT 0,
	total_size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS access_codes (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL REFERENCES albums (id) ON DELETE CASCADE,
	code_hash TEXT NOT NULL,
	encrypted_code TEXT NOT NULL DEFAULT '',
	is_blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS access_codes_album_idx ON access_codes (album_id)`,
	`CREATE TABLE IF NOT EXISTS access_attempts (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	identifier TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	device_id TEXT NOT NULL DEFAULT '',
	success BOOLEAN NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS access_attempts_window_idx
	ON access_attempts (album_id, identifier, ip_address, attempted_at)`,
	`CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	provider TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	cdn_url TEXT NOT NULL DEFAULT '',
	thumbnail_key TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS media_album_idx ON media (album_id)`,
	`CREATE INDEX IF NOT EXISTS media_storage_key_idx ON media (storage_key)`,
	`CREATE TABLE IF NOT EXISTS usage_stats (
	owner_id TEXT PRIMARY KEY,
	photo_count INTEGER NOT NULL DEFAULT 0,
	video_count INTEGER NOT NULL DEFAULT 0,
	album_count INTEGER NOT NULL DEFAULT 0,
	storage_used_bytes BIGINT NOT NULL DEFAULT 0
)`,
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

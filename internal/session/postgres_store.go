package session

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

// PostgresStore persists sessions to a Postgres table, allowing multiple API
// replicas to share guest authentication state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const sessionTableDDL = `CREATE TABLE IF NOT EXISTS album_sessions (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	identifier TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	device_id TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	is_blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
	blacklisted_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ
)`

// NewPostgresStore opens a Postgres-backed session store using the provided
// DSN and ensures its table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	for _, stmt := range []string{
		sessionTableDDL,
		`CREATE INDEX IF NOT EXISTS album_sessions_album_idx ON album_sessions (album_id)`,
		`CREATE INDEX IF NOT EXISTS album_sessions_expiry_idx ON album_sessions (expires_at)`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
	}
	return store, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const sessionColumns = `id, album_id, identifier, token, device_id, ip_address, user_agent, created_at, last_used_at, expires_at, is_blacklisted, blacklisted_at, revoked_at`

func (s *PostgresStore) Save(ctx context.Context, session models.Session) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO album_sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (token) DO UPDATE SET
  last_used_at = EXCLUDED.last_used_at,
  expires_at = EXCLUDED.expires_at,
  is_blacklisted = EXCLUDED.is_blacklisted,
  blacklisted_at = EXCLUDED.blacklisted_at,
  revoked_at = EXCLUDED.revoked_at
`, session.ID, session.AlbumID, session.Identifier, session.Token, session.DeviceID, session.IPAddress,
		session.UserAgent, session.CreatedAt.UTC(), session.LastUsedAt.UTC(), session.ExpiresAt.UTC(),
		session.IsBlacklisted, session.BlacklistedAt, session.RevokedAt)
	return err
}

func scanSession(row pgx.Row) (models.Session, bool, error) {
	var session models.Session
	err := row.Scan(&session.ID, &session.AlbumID, &session.Identifier, &session.Token, &session.DeviceID,
		&session.IPAddress, &session.UserAgent, &session.CreatedAt, &session.LastUsedAt, &session.ExpiresAt,
		&session.IsBlacklisted, &session.BlacklistedAt, &session.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	return session, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (models.Session, bool, error) {
	return scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM album_sessions WHERE token = $1`, token))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (models.Session, bool, error) {
	return scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM album_sessions WHERE id = $1`, id))
}

func (s *PostgresStore) Update(ctx context.Context, session models.Session) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE album_sessions SET
  last_used_at = $2, is_blacklisted = $3, blacklisted_at = $4, revoked_at = $5
WHERE token = $1
`, session.Token, session.LastUsedAt.UTC(), session.IsBlacklisted, session.BlacklistedAt, session.RevokedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM album_sessions WHERE token = $1`, token)
	return err
}

func (s *PostgresStore) ListByAlbum(ctx context.Context, albumID string) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM album_sessions WHERE album_id = $1 ORDER BY created_at`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.ID, &session.AlbumID, &session.Identifier, &session.Token,
			&session.DeviceID, &session.IPAddress, &session.UserAgent, &session.CreatedAt,
			&session.LastUsedAt, &session.ExpiresAt, &session.IsBlacklisted, &session.BlacklistedAt,
			&session.RevokedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM album_sessions WHERE expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies the backing pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ Store = (*PostgresStore)(nil)

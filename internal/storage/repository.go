package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"snapvault/internal/models"
)

// ErrNotFound is returned by mutating operations when the target row does not
// exist. Read operations report absence through their boolean return instead.
var ErrNotFound = errors.New("storage: not found")

// UsageDelta describes an adjustment to an owner's usage counters. Negative
// values decrement; the store clamps every counter at zero.
type UsageDelta struct {
	Photos       int
	Videos       int
	Albums       int
	StorageBytes int64
}

// FailureWindow summarises failed access attempts inside a lockout window.
type FailureWindow struct {
	Count  int
	Oldest time.Time
}

// Repository exposes the datastore operations required by the access gate,
// quota ledger, and upload pipeline.
type Repository interface {
	Ping(ctx context.Context) error

	PutAlbum(ctx context.Context, album models.Album) error
	GetAlbum(ctx context.Context, id string) (models.Album, bool, error)
	GetAlbumByIdentifier(ctx context.Context, identifier string) (models.Album, bool, error)
	// AdjustAlbumCounters applies deltas to the album aggregate counters,
	// clamping both at zero.
	AdjustAlbumCounters(ctx context.Context, albumID string, deltaMedia int, deltaBytes int64) error

	CreateAccessCode(ctx context.Context, code models.AccessCode) error
	ListAccessCodes(ctx context.Context, albumID string) ([]models.AccessCode, error)
	SetAccessCodeBlacklist(ctx context.Context, id string, blacklisted bool) error

	// InsertAttempt appends to the attempt ledger. Rows are immutable.
	InsertAttempt(ctx context.Context, attempt models.AccessAttempt) error
	// FailedAttempts counts failed attempts for the (album, identifier, ip)
	// tuple since the given instant and reports the oldest qualifying time.
	FailedAttempts(ctx context.Context, albumID, identifier, ip string, since time.Time) (FailureWindow, error)
	// DeleteAttemptsBefore removes ledger rows older than the cutoff and
	// returns how many were removed.
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateMedia(ctx context.Context, media models.Media) error
	GetMedia(ctx context.Context, id string) (models.Media, bool, error)
	// GetMediaByStorageKey resolves the media row an upload target was
	// issued for, so the local upload endpoint can authorize writes.
	GetMediaByStorageKey(ctx context.Context, key string) (models.Media, bool, error)
	UpdateMedia(ctx context.Context, media models.Media) error
	DeleteMedia(ctx context.Context, id string) error

	GetUsage(ctx context.Context, ownerID string) (models.UsageStats, error)
	AdjustUsage(ctx context.Context, ownerID string, delta UsageDelta) error
}

// GenerateID returns a random 32-character hex identifier.
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

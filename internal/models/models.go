package models

import (
	"strings"
	"time"
)

// AlbumPrivacy controls whether an album requires access-code verification.
type AlbumPrivacy string

const (
	AlbumPrivate AlbumPrivacy = "private"
	AlbumPublic  AlbumPrivacy = "public"
)

// AlbumStatus tracks the album lifecycle.
type AlbumStatus string

const (
	AlbumActive   AlbumStatus = "active"
	AlbumArchived AlbumStatus = "archived"
	AlbumDeleted  AlbumStatus = "deleted"
)

// MediaType distinguishes photo and video items.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaStatus models the upload state machine for a media item.
type MediaStatus string

const (
	MediaUploading MediaStatus = "uploading"
	MediaReady     MediaStatus = "ready"
	MediaFailed    MediaStatus = "failed"
	MediaDeleted   MediaStatus = "deleted"
)

// Album is the projection of an album relevant to access control and uploads.
// Identifier is the public short handle used in share URLs; it is distinct
// from the internal ID and forms part of the session and lockout scoping key.
type Album struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"ownerId"`
	Identifier     string       `json:"identifier"`
	Privacy        AlbumPrivacy `json:"privacy"`
	AccessCodeHash string       `json:"-"`
	Status         AlbumStatus  `json:"status"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
	MaxFileSizeMB  int          `json:"maxFileSizeMb"`
	AllowVideos    bool         `json:"allowVideos"`
	MediaCount     int          `json:"mediaCount"`
	TotalSizeBytes int64        `json:"totalSizeBytes"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// AccessCode is one of potentially many valid codes for an album. The legacy
// single-hash field on Album coexists with these rows; any non-blacklisted
// code authorises a session.
type AccessCode struct {
	ID            string    `json:"id"`
	AlbumID       string    `json:"albumId"`
	CodeHash      string    `json:"-"`
	EncryptedCode string    `json:"-"`
	IsBlacklisted bool      `json:"isBlacklisted"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AccessAttempt is an immutable record of a single access-code verification
// call. Rows are never updated; a retention sweep removes them after 24h.
type AccessAttempt struct {
	ID          string    `json:"id"`
	AlbumID     string    `json:"albumId"`
	Identifier  string    `json:"identifier"`
	IPAddress   string    `json:"ipAddress"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Session is a bearer token proving prior successful access-code verification
// for a specific album + identifier pair. Blacklist and revocation are
// independent axes; either makes the session unusable.
type Session struct {
	ID            string     `json:"id"`
	AlbumID       string     `json:"albumId"`
	Identifier    string     `json:"identifier"`
	Token         string     `json:"-"`
	DeviceID      string     `json:"deviceId,omitempty"`
	IPAddress     string     `json:"ipAddress"`
	UserAgent     string     `json:"userAgent,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsedAt    time.Time  `json:"lastUsedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsBlacklisted bool       `json:"isBlacklisted"`
	BlacklistedAt *time.Time `json:"blacklistedAt,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
}

// TruncatedToken returns the owner-facing display form of the session token.
// The full token is never exposed after creation.
func (s Session) TruncatedToken() string {
	if len(s.Token) <= 8 {
		return s.Token
	}
	return s.Token[:8] + "…"
}

// Revoked reports whether the session has been explicitly revoked.
func (s Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether the session has passed its expiry at the given time.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Media is a single photo or video owned by an album.
type Media struct {
	ID            string      `json:"id"`
	AlbumID       string      `json:"albumId"`
	Type          MediaType   `json:"type"`
	Status        MediaStatus `json:"status"`
	FileName      string      `json:"fileName"`
	MimeType      string      `json:"mimeType"`
	StorageKey    string      `json:"storageKey"`
	Provider      string      `json:"provider"`
	FileSizeBytes int64       `json:"fileSizeBytes"`
	Width         int         `json:"width,omitempty"`
	Height        int         `json:"height,omitempty"`
	CDNUrl        string      `json:"cdnUrl,omitempty"`
	ThumbnailKey  string      `json:"-"`
	ThumbnailURL  string      `json:"thumbnailUrl,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	DeletedAt     *time.Time  `json:"deletedAt,omitempty"`
}

// UsageStats holds the per-owner counters consulted by the quota ledger.
// Counters never go below zero; decrements are clamped to tolerate
// double-delete races.
type UsageStats struct {
	OwnerID          string `json:"ownerId"`
	PhotoCount       int    `json:"photoCount"`
	VideoCount       int    `json:"videoCount"`
	AlbumCount       int    `json:"albumCount"`
	StorageUsedBytes int64  `json:"storageUsedBytes"`
}

// NormalizeIdentifier canonicalises a public album handle for lookups and
// scoping keys.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"snapvault/internal/models"
)

// Memory keeps the full dataset in process memory behind a mutex. It is safe
// for concurrent use and intended for development, tests, and single-instance
// deployments.
type Memory struct {
	mu       sync.RWMutex
	albums   map[string]models.Album
	byHandle map[string]string
	codes    map[string]models.AccessCode
	attempts []models.AccessAttempt
	media    map[string]models.Media
	usage    map[string]models.UsageStats
}

// NewMemory constructs an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		albums:   make(map[string]models.Album),
		byHandle: make(map[string]string),
		codes:    make(map[string]models.AccessCode),
		media:    make(map[string]models.Media),
		usage:    make(map[string]models.UsageStats),
	}
}

// Ping always reports success for the in-memory repository.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) PutAlbum(_ context.Context, album models.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.albums[album.ID] = album
	if handle := models.NormalizeIdentifier(album.Identifier); handle != "" {
		m.byHandle[handle] = album.ID
	}
	return nil
}

func (m *Memory) GetAlbum(_ context.Context, id string) (models.Album, bool, error) {
	m.mu.RLock()
	album, ok := m.albums[id]
	m.mu.RUnlock()
	return album, ok, nil
}

func (m *Memory) GetAlbumByIdentifier(_ context.Context, identifier string) (models.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHandle[models.NormalizeIdentifier(identifier)]
	if !ok {
		return models.Album{}, false, nil
	}
	album, ok := m.albums[id]
	return album, ok, nil
}

func (m *Memory) AdjustAlbumCounters(_ context.Context, albumID string, deltaMedia int, deltaBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	album, ok := m.albums[albumID]
	if !ok {
		return ErrNotFound
	}
	album.MediaCount = clampInt(album.MediaCount + deltaMedia)
	album.TotalSizeBytes = clampInt64(album.TotalSizeBytes + deltaBytes)
	m.albums[albumID] = album
	return nil
}

func (m *Memory) CreateAccessCode(_ context.Context, code models.AccessCode) error {
	m.mu.Lock()
	m.codes[code.ID] = code
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListAccessCodes(_ context.Context, albumID string) ([]models.AccessCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AccessCode
	for _, code := range m.codes {
		if code.AlbumID == albumID {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetAccessCodeBlacklist(_ context.Context, id string, blacklisted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[id]
	if !ok {
		return ErrNotFound
	}
	code.IsBlacklisted = blacklisted
	m.codes[id] = code
	return nil
}

func (m *Memory) InsertAttempt(_ context.Context, attempt models.AccessAttempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, attempt)
	m.mu.Unlock()
	return nil
}

func (m *Memory) FailedAttempts(_ context.Context, albumID, identifier, ip string, since time.Time) (FailureWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identifier = models.NormalizeIdentifier(identifier)
	var window FailureWindow
	for _, attempt := range m.attempts {
		if attempt.Success || attempt.AlbumID != albumID || attempt.IPAddress != ip {
			continue
		}
		if models.NormalizeIdentifier(attempt.Identifier) != identifier {
			continue
		}
		if attempt.AttemptedAt.Before(since) {
			continue
		}
		if window.Count == 0 || attempt.AttemptedAt.Before(window.Oldest) {
			window.Oldest = attempt.AttemptedAt
		}
		window.Count++
	}
	return window, nil
}

func (m *Memory) DeleteAttemptsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var removed int64
	for _, attempt := range m.attempts {
		if attempt.AttemptedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, attempt)
	}
	m.attempts = kept
	return removed, nil
}

func (m *Memory) CreateMedia(_ context.Context, media models.Media) error {
	m.mu.Lock()
	m.media[media.ID] = media
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetMedia(_ context.Context, id string) (models.Media, bool, error) {
	m.mu.RLock()
	media, ok := m.media[id]
	m.mu.RUnlock()
	return media, ok, nil
}

func (m *Memory) GetMediaByStorageKey(_ context.Context, key string) (models.Media, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, media := range m.media {
		if media.StorageKey == key {
			return media, true, nil
		}
	}
	return models.Media{}, false, nil
}

func (m *Memory) UpdateMedia(_ context.Context, media models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.media[media.ID]; !ok {
		return ErrNotFound
	}
	m.media[media.ID] = media
	return nil
}

func (m *Memory) DeleteMedia(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.media[id]; !ok {
		return ErrNotFound
	}
	delete(m.media, id)
	return nil
}

func (m *Memory) GetUsage(_ context.Context, ownerID string) (models.UsageStats, error) {
	m.mu.RLock()
	stats, ok := m.usage[ownerID]
	m.mu.RUnlock()
	if !ok {
		stats = models.UsageStats{OwnerID: ownerID}
	}
	return stats, nil
}

func (m *Memory) AdjustUsage(_ context.Context, ownerID string, delta UsageDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.usage[ownerID]
	if !ok {
		stats = models.UsageStats{OwnerID: ownerID}
	}
	stats.PhotoCount = clampInt(stats.PhotoCount + delta.Photos)
	stats.VideoCount = clampInt(stats.VideoCount + delta.Videos)
	stats.AlbumCount = clampInt(stats.AlbumCount + delta.Albums)
	stats.StorageUsedBytes = clampInt64(stats.StorageUsedBytes + delta.StorageBytes)
	m.usage[ownerID] = stats
	return nil
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

var _ Repository = (*Memory)(nil)

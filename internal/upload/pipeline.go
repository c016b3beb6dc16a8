// Package upload drives the media upload state machine: initiate issues a
// storage target and a pending row, confirm promotes the row to ready and
// settles counters, cancel and delete unwind it. Counter adjustments happen
// exactly once per transition, on UPLOADING→READY and READY→DELETED.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"snapvault/internal/access"
	"snapvault/internal/models"
	"snapvault/internal/provider"
	"snapvault/internal/quota"
	"snapvault/internal/storage"
)

// Pipeline coordinates albums, quota, storage providers, and media rows.
type Pipeline struct {
	repo      storage.Repository
	gate      *access.Gate
	quota     *quota.Ledger
	providers *provider.Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline wires the upload pipeline.
func NewPipeline(repo storage.Repository, gate *access.Gate, quotas *quota.Ledger, providers *provider.Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:      repo,
		gate:      gate,
		quota:     quotas,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the pipeline time source, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	if now != nil {
		p.now = now
	}
	return p
}

// InitiateParams describes one upload request.
type InitiateParams struct {
	AlbumID      string
	CallerID     string
	SessionToken string
	FileName     string
	MimeType     string
	SizeBytes    int64
}

// InitiateResult pairs the pending media row with the storage target the
// client uploads to.
type InitiateResult struct {
	Media  models.Media
	Target provider.UploadTarget
}

// Initiate validates the request, checks quota, creates the media row in the
// UPLOADING state, and issues an upload target from the active provider. No
// counters move yet; they settle on Confirm.
func (p *Pipeline) Initiate(ctx context.Context, params InitiateParams) (InitiateResult, error) {
	album, err := p.loadActiveAlbum(ctx, params.AlbumID)
	if err != nil {
		return InitiateResult{}, err
	}
	if err := p.authorize(ctx, album, params.CallerID, params.SessionToken); err != nil {
		return InitiateResult{}, err
	}

	fileName, err := SanitizeFileName(params.FileName)
	if err != nil {
		return InitiateResult{}, err
	}
	mediaType, err := ClassifyFile(fileName, params.MimeType)
	if err != nil {
		return InitiateResult{}, err
	}
	if mediaType == models.MediaVideo && !album.AllowVideos {
		return InitiateResult{}, failf(CodeValidation, "album does not accept videos")
	}

	active := p.providers.Active()
	if err := quota.ValidateFileSize(params.SizeBytes, album.MaxFileSizeMB, active.MaxUploadBytes()); err != nil {
		return InitiateResult{}, wrap(CodeValidation, "file size", err)
	}

	decision, err := p.checkQuota(ctx, album.OwnerID, mediaType, params.SizeBytes)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		return InitiateResult{}, failf(CodeQuotaExceeded, "quota: %s", decision.Reason)
	}

	id, err := storage.GenerateID()
	if err != nil {
		return InitiateResult{}, err
	}
	key := StorageKey(album.ID, id, fileName)
	media := models.Media{
		ID:            id,
		AlbumID:       album.ID,
		Type:          mediaType,
		Status:        models.MediaUploading,
		FileName:      fileName,
		MimeType:      params.MimeType,
		StorageKey:    key,
		Provider:      string(active.Tag()),
		FileSizeBytes: params.SizeBytes,
		CreatedAt:     p.now().UTC(),
	}
	if err := p.repo.CreateMedia(ctx, media); err != nil {
		return InitiateResult{}, fmt.Errorf("create media: %w", err)
	}
	target, err := active.UploadTarget(ctx, key, params.MimeType, params.SizeBytes)
	if err != nil {
		// Roll the pending row back so it does not linger as an orphan.
		if delErr := p.repo.DeleteMedia(ctx, id); delErr != nil {
			p.logger.Warn("failed to remove orphaned upload row", "media_id", id, "error", delErr)
		}
		return InitiateResult{}, wrap(CodeStorageFailed, "issue upload target", err)
	}
	return InitiateResult{Media: media, Target: target}, nil
}

// objectRewriter is satisfied by providers that hold the object bytes where
// the pipeline can reach them, letting confirm inspect and rewrite uploads.
// Direct-to-storage providers report dimensions through their own processing,
// so they don't implement it.
type objectRewriter interface {
	Open(key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader) (int64, error)
}

// ConfirmParams finalises an upload. Width and height are optional hints from
// client-side processing; when absent on a locally stored image, confirm
// derives them from the object itself.
type ConfirmParams struct {
	MediaID      string
	CallerID     string
	SessionToken string
	Width        int
	Height       int
	ThumbnailKey string
}

// Confirm moves a media row from UPLOADING to READY and settles the album and
// usage counters. Confirming an already-READY row is a no-op, so clients may
// retry safely; the counters move exactly once.
func (p *Pipeline) Confirm(ctx context.Context, params ConfirmParams) (models.Media, error) {
	media, album, err := p.loadMediaWithAlbum(ctx, params.MediaID)
	if err != nil {
		return models.Media{}, err
	}
	if err := p.authorize(ctx, album, params.CallerID, params.SessionToken); err != nil {
		return models.Media{}, err
	}
	switch media.Status {
	case models.MediaReady:
		return media, nil
	case models.MediaUploading:
	default:
		return models.Media{}, failf(CodeValidation, "media is %s, not awaiting confirmation", media.Status)
	}

	prov, err := p.providers.ByTag(provider.Tag(media.Provider))
	if err != nil {
		return models.Media{}, wrap(CodeStorageFailed, "resolve provider", err)
	}
	width, height := params.Width, params.Height
	if width == 0 && height == 0 && media.Type == models.MediaImage && CanSanitize(media.MimeType) {
		if store, ok := prov.(objectRewriter); ok {
			info, size, err := p.sanitizeStored(ctx, store, media.StorageKey)
			if err != nil {
				if CodeOf(err) == CodeValidation {
					// The uploaded bytes are not the image they claim to be.
					p.markFailed(ctx, media)
				}
				return models.Media{}, err
			}
			width, height = info.Width, info.Height
			media.FileSizeBytes = size
		}
	}
	media.Status = models.MediaReady
	media.Width = width
	media.Height = height
	media.CDNUrl = prov.DownloadURL(media.StorageKey)
	if params.ThumbnailKey != "" {
		media.ThumbnailKey = params.ThumbnailKey
		media.ThumbnailURL = prov.DownloadURL(params.ThumbnailKey)
	}
	if err := p.repo.UpdateMedia(ctx, media); err != nil {
		return models.Media{}, fmt.Errorf("update media: %w", err)
	}

	if err := p.repo.AdjustAlbumCounters(ctx, media.AlbumID, 1, media.FileSizeBytes); err != nil {
		return models.Media{}, fmt.Errorf("adjust album counters: %w", err)
	}
	if err := p.quota.RecordUpload(ctx, album.OwnerID, media.Type == models.MediaVideo, media.FileSizeBytes); err != nil {
		return models.Media{}, fmt.Errorf("record usage: %w", err)
	}
	return media, nil
}

// sanitizeStored re-encodes a stored image in place, stripping metadata, and
// reports the decoded dimensions and the rewritten byte size.
func (p *Pipeline) sanitizeStored(ctx context.Context, store objectRewriter, key string) (ImageInfo, int64, error) {
	reader, err := store.Open(key)
	if err != nil {
		return ImageInfo{}, 0, wrap(CodeStorageFailed, "open stored object", err)
	}
	clean, info, err := ReencodeImage(reader)
	closeErr := reader.Close()
	if err != nil {
		return ImageInfo{}, 0, err
	}
	if closeErr != nil {
		return ImageInfo{}, 0, wrap(CodeStorageFailed, "close stored object", closeErr)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader(clean)); err != nil {
		return ImageInfo{}, 0, wrap(CodeStorageFailed, "rewrite stored object", err)
	}
	return info, int64(len(clean)), nil
}

// markFailed parks a pending row in the FAILED state so the owner can see it
// and cancel. Best-effort: the confirm error is what the caller acts on.
func (p *Pipeline) markFailed(ctx context.Context, media models.Media) {
	media.Status = models.MediaFailed
	if err := p.repo.UpdateMedia(ctx, media); err != nil {
		p.logger.Warn("failed to mark media failed", "media_id", media.ID, "error", err)
	}
}

// Cancel abandons an in-flight upload. Only the album owner may cancel, only
// UPLOADING and FAILED rows qualify, and the row is hard-deleted since nothing
// was ever visible. The stored object, if any bytes landed, is removed
// best-effort.
func (p *Pipeline) Cancel(ctx context.Context, mediaID, callerID string) error {
	media, album, err := p.loadMediaWithAlbum(ctx, mediaID)
	if err != nil {
		return err
	}
	if callerID == "" || callerID != album.OwnerID {
		return failf(CodeUnauthorized, "only the album owner may cancel an upload")
	}
	if media.Status != models.MediaUploading && media.Status != models.MediaFailed {
		return failf(CodeValidation, "media is %s, not cancellable", media.Status)
	}
	if err := p.repo.DeleteMedia(ctx, media.ID); err != nil {
		return fmt.Errorf("delete media row: %w", err)
	}
	p.removeObjects(ctx, media)
	return nil
}

// Delete soft-deletes a READY media item: the row flips to DELETED, the album
// and usage counters decrement with clamping, and the stored objects are
// removed best-effort. Deleting an already-deleted item is a no-op.
func (p *Pipeline) Delete(ctx context.Context, mediaID, callerID string) error {
	media, album, err := p.loadMediaWithAlbum(ctx, mediaID)
	if err != nil {
		return err
	}
	if callerID == "" || callerID != album.OwnerID {
		return failf(CodeUnauthorized, "only the album owner may delete media")
	}
	switch media.Status {
	case models.MediaDeleted:
		return nil
	case models.MediaReady:
	default:
		return failf(CodeValidation, "media is %s, not deletable", media.Status)
	}

	now := p.now().UTC()
	media.Status = models.MediaDeleted
	media.DeletedAt = &now
	if err := p.repo.UpdateMedia(ctx, media); err != nil {
		return fmt.Errorf("update media: %w", err)
	}
	if err := p.repo.AdjustAlbumCounters(ctx, media.AlbumID, -1, -media.FileSizeBytes); err != nil {
		return fmt.Errorf("adjust album counters: %w", err)
	}
	if err := p.quota.RecordDelete(ctx, album.OwnerID, media.Type == models.MediaVideo, media.FileSizeBytes); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	p.removeObjects(ctx, media)
	return nil
}

// removeObjects deletes the primary object and thumbnail independently.
// Object deletion is best-effort: the rows of record already reflect the
// deletion, and providers treat absent keys as success, so failures here are
// retried by operators rather than failing the request.
func (p *Pipeline) removeObjects(ctx context.Context, media models.Media) {
	prov, err := p.providers.ByTag(provider.Tag(media.Provider))
	if err != nil {
		p.logger.Warn("cannot remove objects for unconfigured provider",
			"media_id", media.ID, "provider", media.Provider, "error", err)
		return
	}
	if err := prov.Delete(ctx, media.StorageKey); err != nil {
		p.logger.Warn("failed to delete stored object",
			"media_id", media.ID, "key", media.StorageKey, "error", err)
	}
	if media.ThumbnailKey != "" {
		if err := prov.Delete(ctx, media.ThumbnailKey); err != nil {
			p.logger.Warn("failed to delete thumbnail object",
				"media_id", media.ID, "key", media.ThumbnailKey, "error", err)
		}
	}
}

func (p *Pipeline) checkQuota(ctx context.Context, ownerID string, mediaType models.MediaType, sizeBytes int64) (quota.Decision, error) {
	if mediaType == models.MediaVideo {
		return p.quota.CanUploadVideo(ctx, ownerID, sizeBytes)
	}
	return p.quota.CanUploadPhoto(ctx, ownerID, sizeBytes)
}

// authorize maps gate denials to API-facing codes. A denied private album
// reads as not_found so callers cannot distinguish "exists but private" from
// "does not exist".
func (p *Pipeline) authorize(ctx context.Context, album models.Album, callerID, sessionToken string) error {
	err := p.gate.AuthorizeUpload(ctx, album, callerID, sessionToken)
	if err == nil {
		return nil
	}
	if errors.Is(err, access.ErrUnauthorized) {
		if album.Privacy == models.AlbumPrivate {
			return failf(CodeNotFound, "album not found")
		}
		return failf(CodeUnauthorized, "not authorized for album")
	}
	return fmt.Errorf("authorize upload: %w", err)
}

func (p *Pipeline) loadActiveAlbum(ctx context.Context, albumID string) (models.Album, error) {
	album, ok, err := p.repo.GetAlbum(ctx, albumID)
	if err != nil {
		return models.Album{}, fmt.Errorf("load album: %w", err)
	}
	if !ok || album.Status == models.AlbumDeleted {
		return models.Album{}, failf(CodeNotFound, "album not found")
	}
	if album.ExpiresAt != nil && !album.ExpiresAt.After(p.now().UTC()) {
		return models.Album{}, failf(CodeValidation, "album has expired")
	}
	return album, nil
}

func (p *Pipeline) loadMediaWithAlbum(ctx context.Context, mediaID string) (models.Media, models.Album, error) {
	media, ok, err := p.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return models.Media{}, models.Album{}, fmt.Errorf("load media: %w", err)
	}
	if !ok {
		return models.Media{}, models.Album{}, failf(CodeNotFound, "media not found")
	}
	album, ok, err := p.repo.GetAlbum(ctx, media.AlbumID)
	if err != nil {
		return models.Media{}, models.Album{}, fmt.Errorf("load album: %w", err)
	}
	if !ok {
		return models.Media{}, models.Album{}, failf(CodeNotFound, "album not found")
	}
	return media, album, nil
}

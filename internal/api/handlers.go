// Package api exposes the HTTP surface: access-code verification, session
// administration, and the upload lifecycle. Routing is hand-registered on a
// ServeMux with small path parsers, keeping the dependency surface to the
// standard library request plumbing.
package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"snapvault/internal/access"
	"snapvault/internal/models"
	"snapvault/internal/provider"
	"snapvault/internal/session"
	"snapvault/internal/storage"
	"snapvault/internal/upload"
)

// SessionTokenHeader carries the guest session token on upload requests.
const SessionTokenHeader = "X-Album-Session"

// PrincipalResolver identifies the authenticated owner making a request. The
// surrounding deployment terminates owner auth (gateway, JWT middleware);
// this package only consumes its verdict.
type PrincipalResolver interface {
	CallerID(r *http.Request) string
}

// HeaderPrincipal trusts an upstream-injected header for the caller identity.
type HeaderPrincipal struct {
	Header string
}

func (p HeaderPrincipal) CallerID(r *http.Request) string {
	header := p.Header
	if header == "" {
		header = "X-Owner-ID"
	}
	return strings.TrimSpace(r.Header.Get(header))
}

// Handler serves the API routes.
type Handler struct {
	repo      storage.Repository
	gate      *access.Gate
	sessions  *session.Manager
	pipeline  *upload.Pipeline
	principal PrincipalResolver
	local     *provider.Local
	logger    *slog.Logger
}

// Config wires the handler dependencies. Local is optional and enables the
// same-origin upload endpoint used by the local storage provider.
type Config struct {
	Repository storage.Repository
	Gate       *access.Gate
	Sessions   *session.Manager
	Pipeline   *upload.Pipeline
	Principal  PrincipalResolver
	Local      *provider.Local
	Logger     *slog.Logger
}

// NewHandler builds the API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	principal := cfg.Principal
	if principal == nil {
		principal = HeaderPrincipal{}
	}
	return &Handler{
		repo:      cfg.Repository,
		gate:      cfg.Gate,
		sessions:  cfg.Sessions,
		pipeline:  cfg.Pipeline,
		principal: principal,
		local:     cfg.Local,
		logger:    logger,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/albums/access", h.handleVerifyAccess)
	mux.HandleFunc("/api/albums/", h.handleAlbumSubtree)
	mux.HandleFunc("/api/sessions/revoke", h.handleRevokeSession)
	mux.HandleFunc("/api/uploads", h.handleInitiateUpload)
	mux.HandleFunc("/api/uploads/local", h.handleLocalUpload)
	mux.HandleFunc("/api/uploads/", h.handleUploadSubtree)
	mux.HandleFunc("/api/media/", h.handleMediaSubtree)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var body struct {
		AlbumID    string `json:"albumId"`
		Identifier string `json:"identifier"`
		Code       string `json:"code"`
		DeviceID   string `json:"deviceId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Identifier == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier and code are required")
		return
	}
	// Share links carry only the public handle; resolve it when the client
	// did not send the album id. A miss falls through with the id blank so
	// the gate's uniform-cost failure path handles it.
	if body.AlbumID == "" {
		if album, ok, err := h.repo.GetAlbumByIdentifier(r.Context(), body.Identifier); err != nil {
			h.logger.Error("album lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "verification failed")
			return
		} else if ok {
			body.AlbumID = album.ID
		}
	}
	result, err := h.gate.VerifyCode(r.Context(), access.VerifyParams{
		AlbumID:    body.AlbumID,
		Identifier: body.Identifier,
		Code:       body.Code,
		IPAddress:  clientIP(r),
		DeviceID:   body.DeviceID,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("access verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "verification failed")
		return
	}
	switch {
	case result.Locked:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"locked":   true,
			"unlockAt": result.UnlockAt.Format(time.RFC3339),
		})
	case result.Valid:
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":        true,
			"sessionToken": result.SessionToken,
			"expiresAt":    result.SessionExpiresAt.Format(time.RFC3339),
		})
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"valid":             false,
			"remainingAttempts": result.RemainingAttempts,
		})
	}
}

// handleAlbumSubtree routes /api/albums/{id}/sessions, the blacklist toggles,
// and /api/albums/{id}/codes.
func (h *Handler) handleAlbumSubtree(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/albums/")
	switch {
	case len(segments) == 2 && segments[1] == "sessions":
		h.handleListSessions(w, r, segments[0])
	case len(segments) == 4 && segments[1] == "sessions" && segments[3] == "blacklist":
		h.handleSetBlacklist(w, r, segments[0], segments[2], true)
	case len(segments) == 4 && segments[1] == "sessions" && segments[3] == "unblacklist":
		h.handleSetBlacklist(w, r, segments[0], segments[2], false)
	case len(segments) == 2 && segments[1] == "codes":
		h.handleAccessCodes(w, r, segments[0])
	default:
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	}
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request, albumID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	album, ok := h.requireOwner(w, r, albumID)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListByAlbum(r.Context(), album.ID)
	if err != nil {
		h.logger.Error("list sessions failed", "album_id", album.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not list sessions")
		return
	}
	type sessionView struct {
		ID            string     `json:"id"`
		Token         string     `json:"token"`
		DeviceID      string     `json:"deviceId,omitempty"`
		IPAddress     string     `json:"ipAddress"`
		CreatedAt     time.Time  `json:"createdAt"`
		LastUsedAt    time.Time  `json:"lastUsedAt"`
		ExpiresAt     time.Time  `json:"expiresAt"`
		IsBlacklisted bool       `json:"isBlacklisted"`
		RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:            s.ID,
			Token:         s.TruncatedToken(),
			DeviceID:      s.DeviceID,
			IPAddress:     s.IPAddress,
			CreatedAt:     s.CreatedAt,
			LastUsedAt:    s.LastUsedAt,
			ExpiresAt:     s.ExpiresAt,
			IsBlacklisted: s.IsBlacklisted,
			RevokedAt:     s.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *Handler) handleSetBlacklist(w http.ResponseWriter, r *http.Request, albumID, sessionID string, blacklisted bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	album, ok := h.requireOwner(w, r, albumID)
	if !ok {
		return
	}
	var err error
	if blacklisted {
		err = h.sessions.Blacklist(r.Context(), sessionID, album.ID)
	} else {
		err = h.sessions.Unblacklist(r.Context(), sessionID, album.ID)
	}
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("blacklist update failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not update session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isBlacklisted": blacklisted})
}

func (h *Handler) handleAccessCodes(w http.ResponseWriter, r *http.Request, albumID string) {
	album, ok := h.requireOwner(w, r, albumID)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Code string `json:"code"`
			Note string `json:"note"`
		}
		if err := decodeJSON(w, r, &body); err != nil || strings.TrimSpace(body.Code) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
			return
		}
		created, err := h.gate.CreateAccessCode(r.Context(), album.ID, body.Code, body.Note)
		if err != nil {
			h.logger.Error("create access code failed", "album_id", album.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not create code")
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		revealed, err := h.gate.ListAccessCodes(r.Context(), album.ID)
		if err != nil {
			h.logger.Error("list access codes failed", "album_id", album.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not list codes")
			return
		}
		type codeView struct {
			ID            string    `json:"id"`
			Code          string    `json:"code"`
			Note          string    `json:"note,omitempty"`
			IsBlacklisted bool      `json:"isBlacklisted"`
			CreatedAt     time.Time `json:"createdAt"`
		}
		views := make([]codeView, 0, len(revealed))
		for _, item := range revealed {
			views = append(views, codeView{
				ID:            item.Code.ID,
				Code:          item.Plaintext,
				Note:          item.Code.Note,
				IsBlacklisted: item.Code.IsBlacklisted,
				CreatedAt:     item.Code.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"codes": views})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := h.sessions.Revoke(r.Context(), body.Token); err != nil {
		h.logger.Error("session revoke failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not revoke session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (h *Handler) handleInitiateUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var body struct {
		AlbumID   string `json:"albumId"`
		FileName  string `json:"fileName"`
		MimeType  string `json:"mimeType"`
		SizeBytes int64  `json:"sizeBytes"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	result, err := h.pipeline.Initiate(r.Context(), upload.InitiateParams{
		AlbumID:      body.AlbumID,
		CallerID:     h.principal.CallerID(r),
		SessionToken: r.Header.Get(SessionTokenHeader),
		FileName:     body.FileName,
		MimeType:     body.MimeType,
		SizeBytes:    body.SizeBytes,
	})
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"media":  result.Media,
		"target": result.Target,
	})
}

// handleUploadSubtree routes /api/uploads/{id}/confirm and cancel.
func (h *Handler) handleUploadSubtree(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/uploads/")
	switch {
	case len(segments) == 2 && segments[1] == "confirm" && r.Method == http.MethodPost:
		h.handleConfirmUpload(w, r, segments[0])
	case len(segments) == 1 && r.Method == http.MethodDelete:
		if err := h.pipeline.Cancel(r.Context(), segments[0], h.principal.CallerID(r)); err != nil {
			h.writePipelineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	default:
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	}
}

func (h *Handler) handleConfirmUpload(w http.ResponseWriter, r *http.Request, mediaID string) {
	var body struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		ThumbnailKey string `json:"thumbnailKey"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	}
	media, err := h.pipeline.Confirm(r.Context(), upload.ConfirmParams{
		MediaID:      mediaID,
		CallerID:     h.principal.CallerID(r),
		SessionToken: r.Header.Get(SessionTokenHeader),
		Width:        body.Width,
		Height:       body.Height,
		ThumbnailKey: body.ThumbnailKey,
	})
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, media)
}

func (h *Handler) handleMediaSubtree(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/media/")
	if len(segments) != 1 || r.Method != http.MethodDelete {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
		return
	}
	if err := h.pipeline.Delete(r.Context(), segments[0], h.principal.CallerID(r)); err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleLocalUpload accepts the PUT bodies issued by the local storage
// provider's upload targets. The key must resolve to a pending upload row and
// the caller must pass the same authorization as initiate; otherwise any
// client could overwrite stored objects by guessing keys from download URLs.
func (h *Handler) handleLocalUpload(w http.ResponseWriter, r *http.Request) {
	if h.local == nil {
		writeError(w, http.StatusNotFound, "not_found", "local storage not configured")
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use PUT")
		return
	}
	key := r.URL.Query().Get("key")
	media, ok, err := h.repo.GetMediaByStorageKey(r.Context(), key)
	if err != nil {
		h.logger.Error("resolve upload key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not store object")
		return
	}
	if !ok || media.Status != models.MediaUploading {
		writeError(w, http.StatusNotFound, "not_found", "no pending upload for key")
		return
	}
	album, ok, err := h.repo.GetAlbum(r.Context(), media.AlbumID)
	if err != nil {
		h.logger.Error("load album failed", "album_id", media.AlbumID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not store object")
		return
	}
	if !ok || album.Status == models.AlbumDeleted {
		writeError(w, http.StatusNotFound, "not_found", "no pending upload for key")
		return
	}
	if err := h.gate.AuthorizeUpload(r.Context(), album, h.principal.CallerID(r), r.Header.Get(SessionTokenHeader)); err != nil {
		if errors.Is(err, access.ErrUnauthorized) {
			// Same shape as initiate: private albums do not reveal existence.
			if album.Privacy == models.AlbumPrivate {
				writeError(w, http.StatusNotFound, "not_found", "no pending upload for key")
			} else {
				writeError(w, http.StatusForbidden, "unauthorized", "not authorized for album")
			}
			return
		}
		h.logger.Error("authorize local upload failed", "media_id", media.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not store object")
		return
	}
	written, err := h.local.Put(r.Context(), key, r.Body)
	if err != nil {
		h.logger.Warn("local upload failed", "key", key, "error", err)
		writeError(w, http.StatusBadRequest, "upload_failed", "could not store object")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sizeBytes": written})
}

// requireOwner loads the album and checks the caller owns it. A missing album
// and a foreign album both read as not_found.
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request, albumID string) (models.Album, bool) {
	album, ok, err := h.repo.GetAlbum(r.Context(), albumID)
	if err != nil {
		h.logger.Error("load album failed", "album_id", albumID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load album")
		return models.Album{}, false
	}
	caller := h.principal.CallerID(r)
	if !ok || album.Status == models.AlbumDeleted || caller == "" || caller != album.OwnerID {
		writeError(w, http.StatusNotFound, "not_found", "album not found")
		return models.Album{}, false
	}
	return album, true
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	var pipelineErr *upload.Error
	if !errors.As(err, &pipelineErr) {
		h.logger.Error("upload pipeline failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "request failed")
		return
	}
	status := http.StatusInternalServerError
	switch pipelineErr.Code {
	case upload.CodeNotFound:
		status = http.StatusNotFound
	case upload.CodeUnauthorized:
		status = http.StatusForbidden
	case upload.CodeValidation:
		status = http.StatusBadRequest
	case upload.CodeQuotaExceeded:
		status = http.StatusForbidden
	case upload.CodeLocked:
		status = http.StatusTooManyRequests
	case upload.CodeStorageFailed:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(pipelineErr.Code), pipelineErr.Message)
}

// pathSegments splits the path remainder after the prefix into non-empty
// segments.
func pathSegments(path, prefix string) []string {
	remainder := strings.TrimPrefix(path, prefix)
	if remainder == path {
		return nil
	}
	parts := strings.Split(strings.Trim(remainder, "/"), "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

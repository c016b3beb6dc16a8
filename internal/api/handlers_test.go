package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"snapvault/internal/access"
	"snapvault/internal/models"
	"snapvault/internal/provider"
	"snapvault/internal/quota"
	"snapvault/internal/session"
	"snapvault/internal/storage"
	"snapvault/internal/upload"
)

type apiFixture struct {
	repo     *storage.Memory
	sessions *session.Manager
	gate     *access.Gate
	local    *provider.Local
	mux      *http.ServeMux
}

type testProvider struct{}

func (testProvider) Tag() provider.Tag                    { return provider.TagLocal }
func (testProvider) MaxUploadBytes() int64                { return 1 << 30 }
func (testProvider) DownloadURL(key string) string        { return "https://cdn.test/" + key }
func (testProvider) Delete(context.Context, string) error { return nil }
func (testProvider) UploadTarget(_ context.Context, key, contentType string, _ int64) (provider.UploadTarget, error) {
	return provider.UploadTarget{Method: "PUT", URL: "https://up.test/" + key}, nil
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := storage.NewMemory()
	sessions := session.NewManager(session.NewMemoryStore())
	ledger := access.NewLedger(repo, nil)
	gate := access.NewGate(repo, ledger, sessions, nil, nil)
	registry, err := provider.NewRegistry(testProvider{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	quotas := quota.NewLedger(repo, quota.StaticLimits{Limits: quota.PlanLimits{
		MaxPhotos: quota.Unlimited, MaxVideos: quota.Unlimited,
		MaxAlbums: quota.Unlimited, MaxStorageBytes: quota.Unlimited,
	}})
	pipeline := upload.NewPipeline(repo, gate, quotas, registry, nil)
	local, err := provider.NewLocal(provider.LocalConfig{Root: t.TempDir(), BaseURL: "/media"})
	if err != nil {
		t.Fatalf("new local provider: %v", err)
	}

	handler := NewHandler(Config{
		Repository: repo,
		Gate:       gate,
		Sessions:   sessions,
		Pipeline:   pipeline,
		Principal:  HeaderPrincipal{},
		Local:      local,
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	return &apiFixture{repo: repo, sessions: sessions, gate: gate, local: local, mux: mux}
}

func (f *apiFixture) seedAlbum(t *testing.T, code string) models.Album {
	t.Helper()
	hash, err := access.HashCode(code)
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	album := models.Album{
		ID:             "album-1",
		OwnerID:        "owner-1",
		Identifier:     "summer",
		Privacy:        models.AlbumPrivate,
		AccessCodeHash: hash,
		Status:         models.AlbumActive,
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.repo.PutAlbum(context.Background(), album); err != nil {
		t.Fatalf("put album: %v", err)
	}
	return album
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	f.mux.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestVerifyAccessEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "good-code")

	t.Run("success returns session token", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
			"albumId": "album-1", "identifier": "summer", "code": "good-code",
		}, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		payload := decodeBody(t, recorder)
		if payload["valid"] != true || payload["sessionToken"] == "" {
			t.Fatalf("unexpected payload %v", payload)
		}
	})

	t.Run("identifier alone resolves the album", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
			"identifier": "summer", "code": "good-code",
		}, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		payload := decodeBody(t, recorder)
		if payload["valid"] != true || payload["sessionToken"] == "" {
			t.Fatalf("unexpected payload %v", payload)
		}
	})

	t.Run("wrong code returns remaining attempts", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
			"albumId": "album-1", "identifier": "summer", "code": "wrong",
		}, nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", recorder.Code)
		}
		payload := decodeBody(t, recorder)
		if payload["valid"] != false {
			t.Fatalf("unexpected payload %v", payload)
		}
		if _, ok := payload["remainingAttempts"]; !ok {
			t.Fatalf("expected remainingAttempts, got %v", payload)
		}
	})

	t.Run("lockout returns 429 with unlock time", func(t *testing.T) {
		for i := 0; i < access.LockoutThreshold; i++ {
			fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
				"albumId": "album-1", "identifier": "summer", "code": "wrong",
			}, nil)
		}
		recorder := fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
			"albumId": "album-1", "identifier": "summer", "code": "good-code",
		}, nil)
		if recorder.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", recorder.Code)
		}
		payload := decodeBody(t, recorder)
		if payload["locked"] != true || payload["unlockAt"] == "" {
			t.Fatalf("unexpected payload %v", payload)
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{"albumId": "album-1"}, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("GET not allowed", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodGet, "/api/albums/access", nil, nil)
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", recorder.Code)
		}
	})
}

func TestUploadLifecycleEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "good-code")
	ownerHeaders := map[string]string{"X-Owner-ID": "owner-1"}

	recorder := fixture.do(t, http.MethodPost, "/api/uploads", map[string]any{
		"albumId": "album-1", "fileName": "beach.jpg", "mimeType": "image/jpeg", "sizeBytes": 2048,
	}, ownerHeaders)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	media := payload["media"].(map[string]any)
	mediaID := media["id"].(string)
	if media["status"] != string(models.MediaUploading) {
		t.Fatalf("expected uploading status, got %v", media["status"])
	}
	target := payload["target"].(map[string]any)
	if !strings.HasPrefix(target["url"].(string), "https://up.test/") {
		t.Fatalf("unexpected target %v", target)
	}

	recorder = fixture.do(t, http.MethodPost, "/api/uploads/"+mediaID+"/confirm", map[string]any{
		"width": 800, "height": 600,
	}, ownerHeaders)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	confirmed := decodeBody(t, recorder)
	if confirmed["status"] != string(models.MediaReady) {
		t.Fatalf("expected ready, got %v", confirmed["status"])
	}

	recorder = fixture.do(t, http.MethodDelete, "/api/media/"+mediaID, nil, ownerHeaders)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Deleting as a stranger is refused before it no-ops.
	recorder = fixture.do(t, http.MethodDelete, "/api/media/"+mediaID, nil, map[string]string{"X-Owner-ID": "stranger"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestLocalUploadEndpointAuthorization(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "good-code")
	ownerHeaders := map[string]string{"X-Owner-ID": "owner-1"}

	recorder := fixture.do(t, http.MethodPost, "/api/uploads", map[string]any{
		"albumId": "album-1", "fileName": "beach.jpg", "mimeType": "image/jpeg", "sizeBytes": 16,
	}, ownerHeaders)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	media := payload["media"].(map[string]any)
	key := media["storageKey"].(string)
	mediaID := media["id"].(string)

	putObject := func(key string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/uploads/local?key="+key, strings.NewReader("file-bytes-here!"))
		for name, value := range headers {
			req.Header.Set(name, value)
		}
		rec := httptest.NewRecorder()
		fixture.mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("anonymous caller cannot write", func(t *testing.T) {
		rec := putObject(key, nil)
		// Private album, so the refusal hides whether the key exists.
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		rec := putObject("album-1/unknown-key.jpg", ownerHeaders)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("owner stores the pending object", func(t *testing.T) {
		rec := putObject(key, ownerHeaders)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["sizeBytes"].(float64) != 16 {
			t.Fatalf("expected 16 bytes written, got %v", body["sizeBytes"])
		}
		reader, err := fixture.local.Open(key)
		if err != nil {
			t.Fatalf("open stored object: %v", err)
		}
		defer reader.Close()
	})

	t.Run("confirmed media is no longer writable", func(t *testing.T) {
		rec := fixture.do(t, http.MethodPost, "/api/uploads/"+mediaID+"/confirm", map[string]any{
			"width": 4, "height": 4,
		}, ownerHeaders)
		if rec.Code != http.StatusOK {
			t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec := putObject(key, ownerHeaders); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for confirmed media, got %d", rec.Code)
		}
	})
}

func TestUploadCancelEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "good-code")
	ownerHeaders := map[string]string{"X-Owner-ID": "owner-1"}

	recorder := fixture.do(t, http.MethodPost, "/api/uploads", map[string]any{
		"albumId": "album-1", "fileName": "beach.jpg", "mimeType": "image/jpeg", "sizeBytes": 100,
	}, ownerHeaders)
	payload := decodeBody(t, recorder)
	mediaID := payload["media"].(map[string]any)["id"].(string)

	recorder = fixture.do(t, http.MethodDelete, "/api/uploads/"+mediaID, nil, ownerHeaders)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if _, ok, _ := fixture.repo.GetMedia(context.Background(), mediaID); ok {
		t.Fatal("expected cancelled upload to be removed")
	}
}

func TestSessionAdminEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "good-code")
	ownerHeaders := map[string]string{"X-Owner-ID": "owner-1"}
	ctx := context.Background()

	sess, err := fixture.sessions.Create(ctx, session.CreateParams{AlbumID: "album-1", Identifier: "summer"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	t.Run("list shows truncated tokens", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodGet, "/api/albums/album-1/sessions", nil, ownerHeaders)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		payload := decodeBody(t, recorder)
		sessions := payload["sessions"].([]any)
		if len(sessions) != 1 {
			t.Fatalf("expected 1 session, got %d", len(sessions))
		}
		token := sessions[0].(map[string]any)["token"].(string)
		if token == sess.Token || !strings.HasSuffix(token, "…") {
			t.Fatalf("expected truncated token, got %q", token)
		}
	})

	t.Run("foreign owner sees not found", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodGet, "/api/albums/album-1/sessions", nil, map[string]string{"X-Owner-ID": "intruder"})
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", recorder.Code)
		}
	})

	t.Run("blacklist and unblacklist", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/albums/album-1/sessions/"+sess.ID+"/blacklist", nil, ownerHeaders)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if blocked, _ := fixture.sessions.IsBlocked(ctx, sess.Token); !blocked {
			t.Fatal("expected blacklisted session to be blocked")
		}
		recorder = fixture.do(t, http.MethodPost, "/api/albums/album-1/sessions/"+sess.ID+"/unblacklist", nil, ownerHeaders)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if blocked, _ := fixture.sessions.IsBlocked(ctx, sess.Token); blocked {
			t.Fatal("expected restored session")
		}
	})

	t.Run("revoke by token", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/sessions/revoke", map[string]string{"token": sess.Token}, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if blocked, _ := fixture.sessions.IsBlocked(ctx, sess.Token); !blocked {
			t.Fatal("expected revoked session to be blocked")
		}
	})
}

func TestAccessCodeAdminEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedAlbum(t, "legacy")
	ownerHeaders := map[string]string{"X-Owner-ID": "owner-1"}

	recorder := fixture.do(t, http.MethodPost, "/api/albums/album-1/codes", map[string]string{
		"code": "vip-code", "note": "for grandma",
	}, ownerHeaders)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodGet, "/api/albums/album-1/codes", nil, ownerHeaders)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	codes := payload["codes"].([]any)
	if len(codes) != 1 {
		t.Fatalf("expected 1 code, got %d", len(codes))
	}
	// Without an escrow the plaintext degrades rather than erroring.
	if codes[0].(map[string]any)["code"] != access.CodeUnavailable {
		t.Fatalf("expected degraded plaintext, got %v", codes[0])
	}

	// The new code verifies at the access endpoint.
	recorder = fixture.do(t, http.MethodPost, "/api/albums/access", map[string]string{
		"albumId": "album-1", "identifier": "summer", "code": "vip-code",
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected new code to verify, got %d", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	recorder := fixture.do(t, http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestUnknownRoutes(t *testing.T) {
	fixture := newAPIFixture(t)
	recorder := fixture.do(t, http.MethodGet, "/api/albums/x/unknown", nil, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

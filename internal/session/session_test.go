package session

import (
	"context"
	"testing"
	"time"

	"snapvault/internal/models"
)

func newTestManager(start time.Time) (*Manager, *time.Time) {
	now := start
	manager := NewManager(NewMemoryStore(), WithClock(func() time.Time { return now }))
	return manager, &now
}

func mustCreate(t *testing.T, manager *Manager) models.Session {
	t.Helper()
	sess, err := manager.Create(context.Background(), CreateParams{
		AlbumID:    "album-1",
		Identifier: "summer",
		IPAddress:  "10.0.0.1",
		DeviceID:   "device-a",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateMintsSevenDayToken(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(start)
	sess := mustCreate(t, manager)

	if len(sess.Token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sess.Token))
	}
	if !sess.ExpiresAt.Equal(start.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected 7 day expiry, got %v", sess.ExpiresAt)
	}
}

func TestVerifyReasons(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("not found for unknown token", func(t *testing.T) {
		manager, _ := newTestManager(start)
		verification, err := manager.Verify(ctx, "album-1", "summer", "missing")
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verification.Valid || verification.Reason != ReasonNotFound {
			t.Fatalf("expected not_found, got %+v", verification)
		}
	})

	t.Run("not found for wrong album scope", func(t *testing.T) {
		manager, _ := newTestManager(start)
		sess := mustCreate(t, manager)
		verification, err := manager.Verify(ctx, "other-album", "summer", sess.Token)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verification.Reason != ReasonNotFound {
			t.Fatalf("expected not_found, got %q", verification.Reason)
		}
	})

	t.Run("expired", func(t *testing.T) {
		manager, now := newTestManager(start)
		sess := mustCreate(t, manager)
		*now = now.Add(7*24*time.Hour + time.Second)
		verification, err := manager.Verify(ctx, "album-1", "summer", sess.Token)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verification.Reason != ReasonExpired {
			t.Fatalf("expected expired, got %q", verification.Reason)
		}
	})

	t.Run("blacklisted", func(t *testing.T) {
		manager, _ := newTestManager(start)
		sess := mustCreate(t, manager)
		if err := manager.Blacklist(ctx, sess.ID, "album-1"); err != nil {
			t.Fatalf("blacklist: %v", err)
		}
		verification, err := manager.Verify(ctx, "album-1", "summer", sess.Token)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verification.Reason != ReasonBlacklisted {
			t.Fatalf("expected blacklisted, got %q", verification.Reason)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		manager, _ := newTestManager(start)
		sess := mustCreate(t, manager)
		if err := manager.Revoke(ctx, sess.Token); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		verification, err := manager.Verify(ctx, "album-1", "summer", sess.Token)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verification.Reason != ReasonRevoked {
			t.Fatalf("expected revoked, got %q", verification.Reason)
		}
	})
}

func TestVerifyUpdatesLastUsed(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, now := newTestManager(start)
	sess := mustCreate(t, manager)
	ctx := context.Background()

	*now = now.Add(time.Hour)
	verification, err := manager.Verify(ctx, "album-1", "summer", sess.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verification.Session.LastUsedAt.Equal(*now) {
		t.Fatalf("expected last used %v, got %v", *now, verification.Session.LastUsedAt)
	}
}

func TestIsBlockedIsSupersetOfFailedVerify(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, now := newTestManager(start)
	ctx := context.Background()

	blocked, err := manager.IsBlocked(ctx, "unknown-token")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if !blocked {
		t.Fatal("unknown tokens are blocked")
	}

	sess := mustCreate(t, manager)
	blocked, err = manager.IsBlocked(ctx, sess.Token)
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Fatal("fresh session must not be blocked")
	}

	if err := manager.Blacklist(ctx, sess.ID, "album-1"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if blocked, _ = manager.IsBlocked(ctx, sess.Token); !blocked {
		t.Fatal("blacklisted session is blocked")
	}
	if err := manager.Unblacklist(ctx, sess.ID, "album-1"); err != nil {
		t.Fatalf("unblacklist: %v", err)
	}
	if blocked, _ = manager.IsBlocked(ctx, sess.Token); blocked {
		t.Fatal("unblacklisting restores the session")
	}

	*now = now.Add(8 * 24 * time.Hour)
	if blocked, _ = manager.IsBlocked(ctx, sess.Token); !blocked {
		t.Fatal("expired session is blocked")
	}
}

func TestRevokeIsIdempotentAndTerminal(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, now := newTestManager(start)
	sess := mustCreate(t, manager)
	ctx := context.Background()

	if err := manager.Revoke(ctx, sess.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	stored, ok, err := manager.store.Get(ctx, sess.Token)
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	firstRevokedAt := *stored.RevokedAt

	// A second revoke must not move the timestamp.
	*now = now.Add(time.Hour)
	if err := manager.Revoke(ctx, sess.Token); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	stored, _, _ = manager.store.Get(ctx, sess.Token)
	if !stored.RevokedAt.Equal(firstRevokedAt) {
		t.Fatal("revocation timestamp must not change on repeat revokes")
	}

	// Revoking an unknown token is a no-op.
	if err := manager.Revoke(ctx, "no-such-token"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}
}

func TestBlacklistScopedToAlbum(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(start)
	sess := mustCreate(t, manager)
	ctx := context.Background()

	if err := manager.Blacklist(ctx, sess.ID, "other-album"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound for foreign album, got %v", err)
	}
	// Blacklisting twice is idempotent.
	if err := manager.Blacklist(ctx, sess.ID, "album-1"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if err := manager.Blacklist(ctx, sess.ID, "album-1"); err != nil {
		t.Fatalf("repeat blacklist: %v", err)
	}
}

func TestPurgeExpiredRemovesOnlyAged(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, now := newTestManager(start)
	old := mustCreate(t, manager)
	ctx := context.Background()

	*now = now.Add(6 * 24 * time.Hour)
	fresh := mustCreate(t, manager)

	*now = now.Add(2 * 24 * time.Hour)
	if err := manager.PurgeExpired(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok, _ := manager.store.Get(ctx, old.Token); ok {
		t.Fatal("expected expired session to be purged")
	}
	if _, ok, _ := manager.store.Get(ctx, fresh.Token); !ok {
		t.Fatal("expected live session to survive the purge")
	}
}

func TestListByAlbumAndTruncatedToken(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(start)
	sess := mustCreate(t, manager)
	ctx := context.Background()

	sessions, err := manager.ListByAlbum(ctx, "album-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	truncated := sessions[0].TruncatedToken()
	if truncated == sess.Token {
		t.Fatal("expected truncated display token")
	}
	if len([]rune(truncated)) != 9 {
		t.Fatalf("expected 8 chars plus ellipsis, got %q", truncated)
	}
}

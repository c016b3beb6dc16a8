package access

import (
	"context"
	"log/slog"
	"time"

	"snapvault/internal/models"
	"snapvault/internal/storage"
)

const (
	// LockoutWindow is the trailing period over which failed attempts count
	// toward the lockout threshold.
	LockoutWindow = 15 * time.Minute
	// LockoutThreshold is the number of failed attempts that trips a lockout.
	LockoutThreshold = 5
	// AttemptRetention bounds how long ledger rows are kept.
	AttemptRetention = 24 * time.Hour
)

// LockoutStatus reports whether an (album, identifier, ip) tuple is locked
// out, and until when. The window slides: a new failure inside the window
// extends the effective lockout.
type LockoutStatus struct {
	Locked            bool
	UnlockAt          time.Time
	RemainingAttempts int
}

// Ledger appends verification attempts and evaluates lockout state over them.
type Ledger struct {
	repo   storage.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger constructs an attempt ledger over the given repository.
func NewLedger(repo storage.Repository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, now: time.Now}
}

// WithClock overrides the ledger time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// RecordAttempt appends an immutable row for a verification call and
// opportunistically prunes rows past the retention window. Prune failures are
// housekeeping, not correctness, so they are logged and swallowed.
func (l *Ledger) RecordAttempt(ctx context.Context, albumID, identifier, ip string, success bool, deviceID string) error {
	id, err := storage.GenerateID()
	if err != nil {
		return err
	}
	attempt := models.AccessAttempt{
		ID:          id,
		AlbumID:     albumID,
		Identifier:  models.NormalizeIdentifier(identifier),
		IPAddress:   ip,
		DeviceID:    deviceID,
		Success:     success,
		AttemptedAt: l.now().UTC(),
	}
	if err := l.repo.InsertAttempt(ctx, attempt); err != nil {
		return err
	}
	cutoff := l.now().UTC().Add(-AttemptRetention)
	if _, err := l.repo.DeleteAttemptsBefore(ctx, cutoff); err != nil {
		l.logger.Warn("failed to prune access attempts", "error", err)
	}
	return nil
}

// IsLockedOut evaluates the sliding-window lockout rule. The key is the
// (album, identifier, ip) tuple; deviceID is recorded on attempts but is
// deliberately not part of the key.
func (l *Ledger) IsLockedOut(ctx context.Context, albumID, identifier, ip string) (LockoutStatus, error) {
	since := l.now().UTC().Add(-LockoutWindow)
	window, err := l.repo.FailedAttempts(ctx, albumID, identifier, ip, since)
	if err != nil {
		return LockoutStatus{}, err
	}
	status := LockoutStatus{RemainingAttempts: LockoutThreshold - window.Count}
	if status.RemainingAttempts < 0 {
		status.RemainingAttempts = 0
	}
	if window.Count >= LockoutThreshold {
		status.Locked = true
		status.UnlockAt = window.Oldest.Add(LockoutWindow)
	}
	return status, nil
}

// Prune removes ledger rows older than the retention window. It backs the
// periodic sweep; RecordAttempt already prunes opportunistically.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	return l.repo.DeleteAttemptsBefore(ctx, l.now().UTC().Add(-AttemptRetention))
}

// Package quota enforces per-owner plan limits over the usage counters kept
// in storage. Enforcement is advisory at the edges: checks happen before an
// upload target is issued, and counters adjust when uploads are confirmed or
// media deleted, so a burst of concurrent uploads can briefly overshoot a cap
// rather than block legitimate traffic behind a global lock.
package quota

import (
	"context"
	"fmt"

	"snapvault/internal/storage"
)

// Unlimited marks a plan dimension with no numeric cap.
const Unlimited = -1

// trialPhotoCap is the hard photo ceiling during an owner's trial period,
// applied before any plan cap.
const trialPhotoCap = 3

// PlanLimits describes what an owner's current plan allows. A limit of
// Unlimited disables that dimension.
type PlanLimits struct {
	MaxPhotos       int
	MaxVideos       int
	MaxAlbums       int
	MaxStorageBytes int64
	// Trial marks the owner as inside an active trial period.
	Trial bool
	// TrialExpired marks an owner whose trial lapsed without upgrading;
	// all new uploads are blocked.
	TrialExpired bool
}

// LimitsResolver supplies the current plan limits for an owner. Billing is a
// separate system; this package only consumes its answers.
type LimitsResolver interface {
	LimitsFor(ctx context.Context, ownerID string) (PlanLimits, error)
}

// Decision is the outcome of a quota check. Reason is a stable
// machine-readable code when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

// Machine-readable denial reasons.
const (
	ReasonTrialLimit   = "trial_limit_reached"
	ReasonTrialExpired = "trial_expired"
	ReasonPlanLimit    = "plan_limit_reached"
	ReasonStorageLimit = "storage_limit_reached"
)

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Ledger answers quota questions and applies counter adjustments.
type Ledger struct {
	repo   storage.Repository
	limits LimitsResolver
}

// NewLedger wires the quota ledger over the usage repository and the plan
// limits source.
func NewLedger(repo storage.Repository, limits LimitsResolver) *Ledger {
	return &Ledger{repo: repo, limits: limits}
}

// CanUploadPhoto checks, in order: the trial photo cap, the expired-trial
// block, the plan's numeric photo cap, and the aggregate storage cap.
func (l *Ledger) CanUploadPhoto(ctx context.Context, ownerID string, sizeBytes int64) (Decision, error) {
	limits, usage, err := l.load(ctx, ownerID)
	if err != nil {
		return Decision{}, err
	}
	if limits.Trial && usage.PhotoCount >= trialPhotoCap {
		return deny(ReasonTrialLimit), nil
	}
	if limits.TrialExpired {
		return deny(ReasonTrialExpired), nil
	}
	if limits.MaxPhotos != Unlimited && usage.PhotoCount >= limits.MaxPhotos {
		return deny(ReasonPlanLimit), nil
	}
	return l.checkStorage(limits, usage.StorageUsedBytes, sizeBytes), nil
}

// CanUploadVideo mirrors the photo check without the trial cap: trials never
// include video, so an active trial is denied outright.
func (l *Ledger) CanUploadVideo(ctx context.Context, ownerID string, sizeBytes int64) (Decision, error) {
	limits, usage, err := l.load(ctx, ownerID)
	if err != nil {
		return Decision{}, err
	}
	if limits.Trial || limits.TrialExpired {
		reason := ReasonTrialLimit
		if limits.TrialExpired {
			reason = ReasonTrialExpired
		}
		return deny(reason), nil
	}
	if limits.MaxVideos != Unlimited && usage.VideoCount >= limits.MaxVideos {
		return deny(ReasonPlanLimit), nil
	}
	return l.checkStorage(limits, usage.StorageUsedBytes, sizeBytes), nil
}

// CanCreateAlbum checks the album-count dimension of the plan.
func (l *Ledger) CanCreateAlbum(ctx context.Context, ownerID string) (Decision, error) {
	limits, usage, err := l.load(ctx, ownerID)
	if err != nil {
		return Decision{}, err
	}
	if limits.TrialExpired {
		return deny(ReasonTrialExpired), nil
	}
	if limits.MaxAlbums != Unlimited && usage.AlbumCount >= limits.MaxAlbums {
		return deny(ReasonPlanLimit), nil
	}
	return allow(), nil
}

func (l *Ledger) checkStorage(limits PlanLimits, usedBytes, addBytes int64) Decision {
	if limits.MaxStorageBytes != Unlimited && usedBytes+addBytes > limits.MaxStorageBytes {
		return deny(ReasonStorageLimit)
	}
	return allow()
}

// ValidateFileSize enforces the per-file ceiling. maxMB comes from the album
// settings; zero falls through to the provider ceiling alone.
func ValidateFileSize(sizeBytes int64, maxMB int, providerMax int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("file size must be positive")
	}
	if maxMB > 0 && sizeBytes > int64(maxMB)<<20 {
		return fmt.Errorf("file exceeds album limit of %d MB", maxMB)
	}
	if providerMax > 0 && sizeBytes > providerMax {
		return fmt.Errorf("file exceeds storage limit of %d bytes", providerMax)
	}
	return nil
}

// RecordUpload increments the owner's counters after an upload is confirmed.
func (l *Ledger) RecordUpload(ctx context.Context, ownerID string, isVideo bool, sizeBytes int64) error {
	delta := storage.UsageDelta{StorageBytes: sizeBytes}
	if isVideo {
		delta.Videos = 1
	} else {
		delta.Photos = 1
	}
	return l.repo.AdjustUsage(ctx, ownerID, delta)
}

// RecordDelete decrements the owner's counters. The storage layer clamps at
// zero, so concurrent double-deletes cannot drive counters negative.
func (l *Ledger) RecordDelete(ctx context.Context, ownerID string, isVideo bool, sizeBytes int64) error {
	delta := storage.UsageDelta{StorageBytes: -sizeBytes}
	if isVideo {
		delta.Videos = -1
	} else {
		delta.Photos = -1
	}
	return l.repo.AdjustUsage(ctx, ownerID, delta)
}

func (l *Ledger) load(ctx context.Context, ownerID string) (PlanLimits, usageSnapshot, error) {
	limits, err := l.limits.LimitsFor(ctx, ownerID)
	if err != nil {
		return PlanLimits{}, usageSnapshot{}, fmt.Errorf("resolve plan limits: %w", err)
	}
	usage, err := l.repo.GetUsage(ctx, ownerID)
	if err != nil {
		return PlanLimits{}, usageSnapshot{}, fmt.Errorf("load usage: %w", err)
	}
	return limits, usageSnapshot{
		PhotoCount:       usage.PhotoCount,
		VideoCount:       usage.VideoCount,
		AlbumCount:       usage.AlbumCount,
		StorageUsedBytes: usage.StorageUsedBytes,
	}, nil
}

type usageSnapshot struct {
	PhotoCount       int
	VideoCount       int
	AlbumCount       int
	StorageUsedBytes int64
}

// StaticLimits is a LimitsResolver serving the same plan to every owner,
// useful for single-tenant deployments and tests.
type StaticLimits struct {
	Limits PlanLimits
}

// LimitsFor returns the configured plan regardless of owner.
func (s StaticLimits) LimitsFor(_ context.Context, _ string) (PlanLimits, error) {
	return s.Limits, nil
}

var _ LimitsResolver = StaticLimits{}

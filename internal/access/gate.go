package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapvault/internal/models"
	"snapvault/internal/session"
	"snapvault/internal/storage"
)

// ErrUnauthorized is returned when a caller may not act on a private album.
// It deliberately carries no detail about whether the album exists.
var ErrUnauthorized = errors.New("not authorized for album")

// Gate is the single entry point answering whether a caller may view or
// upload to a private album. It orchestrates the lockout evaluator, the
// stored code hashes, and the session store.
type Gate struct {
	repo     storage.Repository
	ledger   *Ledger
	sessions *session.Manager
	escrow   *Escrow
	logger   *slog.Logger
}

// NewGate wires the access gate. The escrow may be nil when owner-facing code
// retrieval is not configured.
func NewGate(repo storage.Repository, ledger *Ledger, sessions *session.Manager, escrow *Escrow, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, ledger: ledger, sessions: sessions, escrow: escrow, logger: logger}
}

// VerifyParams carries one access-code verification request.
type VerifyParams struct {
	AlbumID    string
	Identifier string
	Code       string
	IPAddress  string
	DeviceID   string
	UserAgent  string
}

// VerifyResult reports the outcome of a verification call. Exactly one of
// Valid, Locked, or a plain failure (both false) applies.
type VerifyResult struct {
	Valid             bool
	Locked            bool
	UnlockAt          time.Time
	SessionToken      string
	SessionExpiresAt  time.Time
	RemainingAttempts int
}

// VerifyCode checks a plaintext access code for an album. Lockout is checked
// first and short-circuits without recording an attempt. Otherwise the
// attempt is recorded unconditionally, success or failure, and a session is
// minted on success. The result shape never reveals whether the album exists:
// an unknown album behaves exactly like a wrong code, including the key
// derivation cost and the lockout bookkeeping.
func (g *Gate) VerifyCode(ctx context.Context, params VerifyParams) (VerifyResult, error) {
	status, err := g.ledger.IsLockedOut(ctx, params.AlbumID, params.Identifier, params.IPAddress)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("evaluate lockout: %w", err)
	}
	if status.Locked {
		return VerifyResult{Locked: true, UnlockAt: status.UnlockAt}, nil
	}

	hashes, albumOK, err := g.candidateHashes(ctx, params.AlbumID, params.Identifier)
	if err != nil {
		return VerifyResult{}, err
	}
	matched := VerifyAny(hashes, params.Code) && albumOK

	if err := g.ledger.RecordAttempt(ctx, params.AlbumID, params.Identifier, params.IPAddress, matched, params.DeviceID); err != nil {
		return VerifyResult{}, fmt.Errorf("record attempt: %w", err)
	}

	if !matched {
		after, err := g.ledger.IsLockedOut(ctx, params.AlbumID, params.Identifier, params.IPAddress)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("evaluate lockout: %w", err)
		}
		return VerifyResult{RemainingAttempts: after.RemainingAttempts}, nil
	}

	sess, err := g.sessions.Create(ctx, session.CreateParams{
		AlbumID:    params.AlbumID,
		Identifier: params.Identifier,
		IPAddress:  params.IPAddress,
		DeviceID:   params.DeviceID,
		UserAgent:  params.UserAgent,
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("create session: %w", err)
	}
	return VerifyResult{
		Valid:            true,
		SessionToken:     sess.Token,
		SessionExpiresAt: sess.ExpiresAt,
	}, nil
}

// candidateHashes collects the legacy single hash followed by all
// non-blacklisted access-code rows. When the album cannot be used it still
// returns no hashes so VerifyAny burns a uniform dummy derivation.
func (g *Gate) candidateHashes(ctx context.Context, albumID, identifier string) ([]string, bool, error) {
	album, ok, err := g.repo.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, false, fmt.Errorf("load album: %w", err)
	}
	if !ok || album.Status == models.AlbumDeleted ||
		models.NormalizeIdentifier(album.Identifier) != models.NormalizeIdentifier(identifier) {
		return nil, false, nil
	}
	var hashes []string
	if album.AccessCodeHash != "" {
		hashes = append(hashes, album.AccessCodeHash)
	}
	codes, err := g.repo.ListAccessCodes(ctx, albumID)
	if err != nil {
		return nil, false, fmt.Errorf("list access codes: %w", err)
	}
	for _, code := range codes {
		if !code.IsBlacklisted {
			hashes = append(hashes, code.CodeHash)
		}
	}
	return hashes, true, nil
}

// AuthorizeUpload decides whether the caller may add media to the album.
// Owners bypass session checks entirely. Anyone else must target a public
// album and present a session that both verifies and passes the stricter
// block check, so an owner revocation mid-upload still aborts the request.
func (g *Gate) AuthorizeUpload(ctx context.Context, album models.Album, callerID, sessionToken string) error {
	if callerID != "" && callerID == album.OwnerID {
		return nil
	}
	if album.Privacy != models.AlbumPublic {
		return ErrUnauthorized
	}
	verification, err := g.sessions.Verify(ctx, album.ID, album.Identifier, sessionToken)
	if err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if !verification.Valid {
		return ErrUnauthorized
	}
	blocked, err := g.sessions.IsBlocked(ctx, sessionToken)
	if err != nil {
		return fmt.Errorf("check session block: %w", err)
	}
	if blocked {
		return ErrUnauthorized
	}
	return nil
}

// CreateAccessCode hashes and stores a new code for the album, escrowing the
// plaintext when an escrow is configured so the owner can retrieve it later.
func (g *Gate) CreateAccessCode(ctx context.Context, albumID, plaintext, note string) (models.AccessCode, error) {
	hash, err := HashCode(plaintext)
	if err != nil {
		return models.AccessCode{}, fmt.Errorf("hash access code: %w", err)
	}
	id, err := storage.GenerateID()
	if err != nil {
		return models.AccessCode{}, err
	}
	code := models.AccessCode{
		ID:        id,
		AlbumID:   albumID,
		CodeHash:  hash,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if g.escrow != nil {
		encrypted, err := g.escrow.Encrypt(plaintext)
		if err != nil {
			return models.AccessCode{}, fmt.Errorf("escrow access code: %w", err)
		}
		code.EncryptedCode = encrypted
	}
	if err := g.repo.CreateAccessCode(ctx, code); err != nil {
		return models.AccessCode{}, err
	}
	return code, nil
}

// CodeUnavailable is shown to owners when escrowed plaintext cannot be
// recovered.
const CodeUnavailable = "code unavailable"

// RevealedCode pairs an access-code row with its recovered plaintext.
type RevealedCode struct {
	Code      models.AccessCode
	Plaintext string
}

// ListAccessCodes returns the album's codes with plaintexts recovered from
// escrow. Decryption failures degrade to CodeUnavailable rather than failing
// the listing.
func (g *Gate) ListAccessCodes(ctx context.Context, albumID string) ([]RevealedCode, error) {
	codes, err := g.repo.ListAccessCodes(ctx, albumID)
	if err != nil {
		return nil, err
	}
	out := make([]RevealedCode, 0, len(codes))
	for _, code := range codes {
		revealed := RevealedCode{Code: code, Plaintext: CodeUnavailable}
		if g.escrow != nil && code.EncryptedCode != "" {
			plaintext, err := g.escrow.Decrypt(code.EncryptedCode)
			if err != nil {
				g.logger.Warn("failed to decrypt access code", "code_id", code.ID, "error", err)
			} else {
				revealed.Plaintext = plaintext
			}
		}
		out = append(out, revealed)
	}
	return out, nil
}

// Package access implements access-code verification for private albums: the
// attempt ledger and lockout evaluation, code hashing, and the gate that ties
// them to session issuance.
package access

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	codeHashSaltLength = 16
	codeHashKeyLength  = 32
	codeHashIterations = 120000
)

// ErrCodeMismatch is returned when a candidate does not match a stored hash.
var ErrCodeMismatch = errors.New("access code mismatch")

// HashCode derives a salted hash of the plaintext access code in the encoded
// form pbkdf2$sha256$iterations$salt$key.
func HashCode(code string) (string, error) {
	salt := make([]byte, codeHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(code), salt, codeHashIterations, codeHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", codeHashIterations, encodedSalt, encodedKey), nil
}

// VerifyCode checks the candidate against one encoded hash using a
// constant-time comparison.
func VerifyCode(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify code: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify code: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify code: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify code: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify code: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrCodeMismatch
	}
	return nil
}

// dummyHash is verified against when an album has no codes configured, so
// that a failing verification costs at least one key derivation regardless of
// how many codes exist.
var dummyHash = mustHash("snapvault-dummy-code")

func mustHash(code string) string {
	hash, err := HashCode(code)
	if err != nil {
		panic(err)
	}
	return hash
}

// VerifyAny checks the candidate against every supplied hash in order,
// short-circuiting on the first match. When no hashes are configured it burns
// one derivation against the dummy hash so the caller's timing does not
// distinguish "no codes" from "all codes failed".
func VerifyAny(hashes []string, candidate string) bool {
	if len(hashes) == 0 {
		_ = VerifyCode(dummyHash, candidate)
		return false
	}
	for _, hash := range hashes {
		if hash == "" {
			continue
		}
		if VerifyCode(hash, candidate) == nil {
			return true
		}
	}
	return false
}

// Escrow encrypts access-code plaintext for later owner-facing retrieval.
// It is an operational convenience, not part of verification: losing the key
// degrades retrieval, never access checks.
type Escrow struct {
	aead cipher.AEAD
}

// NewEscrow derives an AES-256-GCM escrow from the configured secret.
func NewEscrow(secret string) (*Escrow, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("escrow secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init escrow cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init escrow gcm: %w", err)
	}
	return &Escrow{aead: aead}, nil
}

// Encrypt seals the plaintext, returning a base64 nonce+ciphertext blob.
func (e *Escrow) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *Escrow) Decrypt(encoded string) (string, error) {
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode escrow blob: %w", err)
	}
	if len(sealed) < e.aead.NonceSize() {
		return "", fmt.Errorf("escrow blob too short")
	}
	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open escrow blob: %w", err)
	}
	return string(plaintext), nil
}

package access

import (
	"errors"
	"strings"
	"testing"
)

func TestHashCodeRoundTrip(t *testing.T) {
	hash, err := HashCode("sunset-2024")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if err := VerifyCode(hash, "sunset-2024"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := VerifyCode(hash, "sunset-2025"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestHashCodeSaltsDiffer(t *testing.T) {
	first, err := HashCode("same-code")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	second, err := HashCode("same-code")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyCodeRejectsMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plain", "bcrypt$x$y$z$w", "pbkdf2$sha256$zero$a$b"} {
		if err := VerifyCode(hash, "anything"); err == nil {
			t.Fatalf("expected error for hash %q", hash)
		}
	}
}

func TestVerifyAny(t *testing.T) {
	match, err := HashCode("good-code")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	other, err := HashCode("other-code")
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}

	if !VerifyAny([]string{other, match}, "good-code") {
		t.Fatal("expected match against second hash")
	}
	if VerifyAny([]string{other, match}, "bad-code") {
		t.Fatal("expected no match")
	}
	if VerifyAny(nil, "anything") {
		t.Fatal("expected no match with no hashes")
	}
	if VerifyAny([]string{""}, "anything") {
		t.Fatal("expected empty hashes to be skipped")
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	escrow, err := NewEscrow("escrow-secret")
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	sealed, err := escrow.Encrypt("beach-party")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := escrow.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "beach-party" {
		t.Fatalf("expected round trip, got %q", plaintext)
	}
}

func TestEscrowWrongSecretFails(t *testing.T) {
	first, err := NewEscrow("secret-one")
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	second, err := NewEscrow("secret-two")
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	sealed, err := first.Encrypt("hidden")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := second.Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt with wrong secret to fail")
	}
}

func TestNewEscrowRequiresSecret(t *testing.T) {
	if _, err := NewEscrow("  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

package credential

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
)

func testKey() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	if _, err := New(nil, make([]byte, 16), nil); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New(nil, make([]byte, 64), nil); err == nil {
		t.Fatal("expected error for long key")
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	s, err := New(nil, testKey(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	plaintext := []byte("super-secret-access-token")
	sealed, err := s.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt() error: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed output must not contain the plaintext")
	}

	opened, err := s.decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt() error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("decrypt() = %q, want %q", opened, plaintext)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	s1, _ := New(nil, testKey(), nil)
	otherKey := make([]byte, KeySize)
	copy(otherKey, testKey())
	otherKey[0] ^= 0xFF
	s2, _ := New(nil, otherKey, nil)

	sealed, err := s1.encrypt([]byte("token"))
	if err != nil {
		t.Fatalf("encrypt() error: %v", err)
	}
	if _, err := s2.decrypt(sealed); err == nil {
		t.Fatal("expected decryption to fail with the wrong key")
	}
}

func TestDecrypt_TooShortSealedValue(t *testing.T) {
	s, _ := New(nil, testKey(), nil)
	if _, err := s.decrypt([]byte("short")); err == nil {
		t.Fatal("expected error for a sealed value shorter than the nonce")
	}
}

func TestEncrypt_ProducesDistinctNoncesEachCall(t *testing.T) {
	s, _ := New(nil, testKey(), nil)
	a, err := s.encrypt([]byte("same-plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.encrypt([]byte("same-plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("encrypting the same plaintext twice should never yield identical ciphertext")
	}
}

func TestIsRevoked(t *testing.T) {
	s, _ := New(nil, testKey(), nil)
	if s.IsRevoked(Token{Status: store.CredentialActive}) {
		t.Error("active token should not be reported as revoked")
	}
	if !s.IsRevoked(Token{Status: store.CredentialRevoked}) {
		t.Error("revoked token should be reported as revoked")
	}
}

func TestIsExpiring(t *testing.T) {
	s, _ := New(nil, testKey(), nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		within time.Duration
		want   bool
	}{
		{"zero expiry never expiring", time.Time{}, time.Hour, false},
		{"expires within window", now.Add(10 * time.Minute), time.Hour, true},
		{"expires outside window", now.Add(2 * time.Hour), time.Hour, false},
		{"already expired", now.Add(-time.Minute), time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := Token{OAuth2: oauth2.Token{Expiry: tt.expiry}}
			if got := s.IsExpiring(tok, tt.within, now); got != tt.want {
				t.Errorf("IsExpiring() = %v, want %v", got, tt.want)
			}
		})
	}
}

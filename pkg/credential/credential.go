// Package credential manages per-tenant, per-connector OAuth token storage.
// Access and refresh tokens are encrypted at rest with nacl/secretbox under
// one platform-wide key before they ever reach internal/store, the same shape the
// teacher uses for API keys and personal access tokens but generalized from
// a key name to a connector_type.
package credential

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
)

// KeySize is the required length of the encryption key.
const KeySize = 32

// Store manages connector credentials for tenants, encrypting tokens with a
// single platform-wide key before persisting them via internal/store.
type Store struct {
	db     store.DBTX
	key    *[KeySize]byte
	logger *slog.Logger
}

// New creates a credential Store. key must be exactly KeySize bytes, usually
// loaded from config as a base64-decoded secret.
func New(db store.DBTX, key []byte, logger *slog.Logger) (*Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("credential: encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	var k [KeySize]byte
	copy(k[:], key)
	return &Store{db: db, key: &k, logger: logger}, nil
}

// Token pairs the decrypted OAuth token with the status metadata stored
// alongside it.
type Token struct {
	OAuth2    oauth2.Token
	Status    store.CredentialStatus
	LastError *string
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, s.key), nil
}

func (s *Store) decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed credential too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := secretbox.Open(nil, sealed[24:], &nonce, s.key)
	if !ok {
		return nil, fmt.Errorf("credential: decryption failed, key mismatch or corrupted data")
	}
	return out, nil
}

// Get loads and decrypts a tenant's credential for a connector type.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID, connectorType store.ChannelType) (Token, error) {
	c, err := store.GetCredential(ctx, s.db, tenantID, connectorType)
	if err != nil {
		return Token{}, err
	}

	access, err := s.decrypt(c.EncryptedAccessToken)
	if err != nil {
		return Token{}, fmt.Errorf("decrypting access token: %w", err)
	}
	var refresh []byte
	if len(c.EncryptedRefreshToken) > 0 {
		refresh, err = s.decrypt(c.EncryptedRefreshToken)
		if err != nil {
			return Token{}, fmt.Errorf("decrypting refresh token: %w", err)
		}
	}

	tok := Token{
		OAuth2: oauth2.Token{
			AccessToken:  string(access),
			RefreshToken: string(refresh),
		},
		Status:    c.Status,
		LastError: c.LastError,
	}
	if c.ExpiresAt != nil {
		tok.OAuth2.Expiry = *c.ExpiresAt
	}
	return tok, nil
}

// Upsert encrypts and stores a connector's OAuth token, replacing any
// existing one for the (tenant, connector_type) pair.
func (s *Store) Upsert(ctx context.Context, tenantID uuid.UUID, connectorType store.ChannelType, tok oauth2.Token, scopes []string) error {
	encAccess, err := s.encrypt([]byte(tok.AccessToken))
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	var encRefresh []byte
	if tok.RefreshToken != "" {
		encRefresh, err = s.encrypt([]byte(tok.RefreshToken))
		if err != nil {
			return fmt.Errorf("encrypting refresh token: %w", err)
		}
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		t := tok.Expiry
		expiresAt = &t
	}

	_, err = store.UpsertCredential(ctx, s.db, store.ConnectorCredential{
		TenantID:              tenantID,
		ConnectorType:         connectorType,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             expiresAt,
		Scopes:                scopes,
		Status:                store.CredentialActive,
	})
	return err
}

// MarkError records an adapter-observed failure (invalid token, revoked
// scope) without discarding the stored token — a subsequent refresh may
// still succeed.
func (s *Store) MarkError(ctx context.Context, tenantID uuid.UUID, connectorType store.ChannelType, msg string) error {
	return store.MarkCredentialError(ctx, s.db, tenantID, connectorType, msg, store.CredentialError)
}

// Revoke marks a connector credential revoked. Prior publications made with
// it are not affected.
func (s *Store) Revoke(ctx context.Context, tenantID uuid.UUID, connectorType store.ChannelType) error {
	return store.RevokeCredential(ctx, s.db, tenantID, connectorType)
}

// IsRevoked reports whether a token's status prevents further use.
func (s *Store) IsRevoked(tok Token) bool {
	return tok.Status == store.CredentialRevoked
}

// IsExpiring reports whether a token expires within the given window.
func (s *Store) IsExpiring(tok Token, within time.Duration, now time.Time) bool {
	if tok.OAuth2.Expiry.IsZero() {
		return false
	}
	return tok.OAuth2.Expiry.Before(now.Add(within))
}

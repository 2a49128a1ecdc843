package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, tenant_id, connector_type, encrypted_access_token, encrypted_refresh_token, expires_at, scopes, status, last_error, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (ConnectorCredential, error) {
	var c ConnectorCredential
	err := row.Scan(&c.ID, &c.TenantID, &c.ConnectorType, &c.EncryptedAccessToken, &c.EncryptedRefreshToken,
		&c.ExpiresAt, &c.Scopes, &c.Status, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCredential loads a tenant's credential set for a connector type.
func GetCredential(ctx context.Context, db DBTX, tenantID uuid.UUID, connectorType ChannelType) (ConnectorCredential, error) {
	row := db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM connector_credentials
		WHERE tenant_id = $1 AND connector_type = $2`, tenantID, connectorType)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConnectorCredential{}, fmt.Errorf("no credential for tenant %s connector %s: %w", tenantID, connectorType, err)
	}
	if err != nil {
		return ConnectorCredential{}, fmt.Errorf("getting credential: %w", err)
	}
	return c, nil
}

// UpsertCredential inserts or replaces the encrypted token set for (tenant,
// connector_type).
func UpsertCredential(ctx context.Context, db DBTX, c ConnectorCredential) (ConnectorCredential, error) {
	row := db.QueryRow(ctx, `INSERT INTO connector_credentials
		(tenant_id, connector_type, encrypted_access_token, encrypted_refresh_token, expires_at, scopes, status, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant_id, connector_type) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = now()
		RETURNING `+credentialColumns,
		c.TenantID, c.ConnectorType, c.EncryptedAccessToken, c.EncryptedRefreshToken, c.ExpiresAt, c.Scopes, c.Status, c.LastError)
	return scanCredential(row)
}

// MarkCredentialError records an adapter-observed failure without revoking.
func MarkCredentialError(ctx context.Context, db DBTX, tenantID uuid.UUID, connectorType ChannelType, msg string, newStatus CredentialStatus) error {
	_, err := db.Exec(ctx, `UPDATE connector_credentials SET status = $3, last_error = $4, updated_at = now()
		WHERE tenant_id = $1 AND connector_type = $2`, tenantID, connectorType, newStatus, msg)
	if err != nil {
		return fmt.Errorf("marking credential error: %w", err)
	}
	return nil
}

// RevokeCredential marks a connector credential revoked (disconnect does not
// delete prior publications).
func RevokeCredential(ctx context.Context, db DBTX, tenantID uuid.UUID, connectorType ChannelType) error {
	_, err := db.Exec(ctx, `UPDATE connector_credentials SET status = 'revoked', updated_at = now()
		WHERE tenant_id = $1 AND connector_type = $2`, tenantID, connectorType)
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}
	return nil
}

// IsExpiring reports whether a credential's tokens expire within d.
func IsExpiring(c ConnectorCredential, within time.Duration, now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now.Add(within))
}

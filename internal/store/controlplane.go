package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetFeatureFlag loads a flag's global + per-tenant overrides.
func GetFeatureFlag(ctx context.Context, db DBTX, key string) (FeatureFlag, error) {
	var f FeatureFlag
	var perTenantRaw []byte
	err := db.QueryRow(ctx, `SELECT key, enabled_globally, enabled_per_tenant
		FROM public.feature_flags WHERE key = $1`, key).
		Scan(&f.Key, &f.EnabledGlobally, &perTenantRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return FeatureFlag{Key: key, EnabledGlobally: false}, nil
	}
	if err != nil {
		return FeatureFlag{}, fmt.Errorf("getting feature flag %q: %w", key, err)
	}
	f.EnabledPerTenant = map[string]bool{}
	if len(perTenantRaw) > 0 {
		_ = json.Unmarshal(perTenantRaw, &f.EnabledPerTenant)
	}
	return f, nil
}

// SetFeatureFlag upserts a flag's global state.
func SetFeatureFlag(ctx context.Context, db DBTX, key string, enabled bool) error {
	_, err := db.Exec(ctx, `INSERT INTO public.feature_flags (key, enabled_globally, enabled_per_tenant)
		VALUES ($1, $2, '{}')
		ON CONFLICT (key) DO UPDATE SET enabled_globally = excluded.enabled_globally`, key, enabled)
	if err != nil {
		return fmt.Errorf("setting feature flag %q: %w", key, err)
	}
	return nil
}

// CreatePlatformIncident raises an operator-visible incident. tenantID is
// nil for platform-wide incidents (circuit breaker trips raised against a
// single channel are tenant-scoped).
func CreatePlatformIncident(ctx context.Context, db DBTX, tenantID *uuid.UUID, incidentType string, detail any) (PlatformIncident, error) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return PlatformIncident{}, fmt.Errorf("marshaling incident detail: %w", err)
	}
	row := db.QueryRow(ctx, `INSERT INTO public.platform_incidents (tenant_id, type, detail)
		VALUES ($1, $2, $3) RETURNING id, tenant_id, type, detail, created_at`,
		tenantID, incidentType, detailJSON)

	var inc PlatformIncident
	if err := row.Scan(&inc.ID, &inc.TenantID, &inc.Type, &inc.Detail, &inc.CreatedAt); err != nil {
		return PlatformIncident{}, fmt.Errorf("creating platform incident: %w", err)
	}
	return inc, nil
}

// UpsertTenantRiskScore records the periodic tenant risk composite.
func UpsertTenantRiskScore(ctx context.Context, db DBTX, tenantID uuid.UUID, score float64, bucket RiskBucket) error {
	_, err := db.Exec(ctx, `INSERT INTO public.tenant_risk_scores (tenant_id, score, bucket, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id) DO UPDATE SET score = excluded.score, bucket = excluded.bucket, updated_at = now()`,
		tenantID, score, bucket)
	if err != nil {
		return fmt.Errorf("upserting tenant risk score: %w", err)
	}
	return nil
}

// GetTenantRiskScore reads the most recent composite for a tenant.
func GetTenantRiskScore(ctx context.Context, db DBTX, tenantID uuid.UUID) (TenantRiskScore, error) {
	var s TenantRiskScore
	err := db.QueryRow(ctx, `SELECT tenant_id, score, bucket, updated_at
		FROM public.tenant_risk_scores WHERE tenant_id = $1`, tenantID).
		Scan(&s.TenantID, &s.Score, &s.Bucket, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantRiskScore{TenantID: tenantID, Bucket: RiskLow}, nil
	}
	if err != nil {
		return TenantRiskScore{}, fmt.Errorf("getting tenant risk score: %w", err)
	}
	return s, nil
}

// ChannelFailuresSince counts ChannelPublishFailed events for a channel in a
// window, used by the auto-recovery pass's disable rule.
func ChannelFailuresSince(ctx context.Context, db DBTX, channelID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM publish_events
		WHERE channel_id = $1 AND event_type = $2 AND created_at >= $3`,
		channelID, EvtChannelPublishFailed, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting channel failures: %w", err)
	}
	return n, nil
}

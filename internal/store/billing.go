package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetCompanySubscription loads a tenant's plan. Tenants without a row are
// treated as on the free tier rather than erroring, since subscription rows
// are created lazily on first billing event.
func GetCompanySubscription(ctx context.Context, db DBTX, tenantID uuid.UUID) (CompanySubscription, error) {
	var s CompanySubscription
	err := db.QueryRow(ctx, `SELECT tenant_id, plan_code, status, current_period_end, updated_at
		FROM public.company_subscriptions WHERE tenant_id = $1`, tenantID).
		Scan(&s.TenantID, &s.PlanCode, &s.Status, &s.CurrentPeriodEnd, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CompanySubscription{TenantID: tenantID, PlanCode: "free", Status: "active"}, nil
	}
	if err != nil {
		return CompanySubscription{}, fmt.Errorf("getting subscription for tenant %s: %w", tenantID, err)
	}
	return s, nil
}

// GetCompanyUsage loads the usage counter for a tenant's current billing
// period, starting a fresh one at zero if none exists yet for periodStart.
func GetCompanyUsage(ctx context.Context, db DBTX, tenantID uuid.UUID, periodStart time.Time) (CompanyUsage, error) {
	var u CompanyUsage
	err := db.QueryRow(ctx, `SELECT tenant_id, period_start, posts_count, updated_at
		FROM public.company_usage WHERE tenant_id = $1 AND period_start = $2`, tenantID, periodStart).
		Scan(&u.TenantID, &u.PeriodStart, &u.PostsCount, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CompanyUsage{TenantID: tenantID, PeriodStart: periodStart, PostsCount: 0}, nil
	}
	if err != nil {
		return CompanyUsage{}, fmt.Errorf("getting usage for tenant %s: %w", tenantID, err)
	}
	return u, nil
}

// IncrementCompanyUsage bumps the posts_count for a tenant's billing period
// by delta, creating the row if it doesn't exist yet.
func IncrementCompanyUsage(ctx context.Context, db DBTX, tenantID uuid.UUID, periodStart time.Time, delta int) error {
	_, err := db.Exec(ctx, `INSERT INTO public.company_usage (tenant_id, period_start, posts_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, period_start) DO UPDATE SET
			posts_count = public.company_usage.posts_count + excluded.posts_count,
			updated_at = now()`,
		tenantID, periodStart, delta)
	if err != nil {
		return fmt.Errorf("incrementing usage for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Package controlplane implements the platform-wide and per-tenant
// operational switches: feature flags, publish breakers, maintenance mode,
// and the periodic auto-recovery pass. It folds the concerns the teacher
// splits across pkg/incident and pkg/tenantconfig into a single collaborator
// since this system has no separate incident-response product surface.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/northflare/postflow/internal/kvstate"
	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/pkg/guardrails"
)

const featureFlagCacheTTL = 30 * time.Second

// Plane reads and mutates the control-plane state shared by the publisher,
// scheduler, and automation runtime. db serves the global (public-schema)
// tables — feature_flags, platform_incidents, tenant_risk_scores; st, when
// set, lets the auto-recovery pass acquire tenant-scoped connections for the
// tenant-schema tables (channels, publish_events) it also has to inspect.
type Plane struct {
	db     store.DBTX
	st     *store.Store
	kv     *kvstate.Store
	logger *slog.Logger
}

// New creates a Plane. st may be nil for callers that never invoke
// RunAutoRecovery (it's only needed to reach tenant-scoped tables).
func New(db store.DBTX, st *store.Store, kv *kvstate.Store, logger *slog.Logger) *Plane {
	return &Plane{db: db, st: st, kv: kv, logger: logger}
}

// IsFeatureEnabled resolves a flag for a tenant, checking the KV cache
// before falling back to the database. A cache miss always queries the
// database rather than assuming a default, since flags gate real behavior
// changes.
func (p *Plane) IsFeatureEnabled(ctx context.Context, key string, tenantID *uuid.UUID) (bool, error) {
	cacheKey := key
	if tenantID != nil {
		cacheKey = key + ":" + tenantID.String()
	}
	if enabled, found := p.kv.GetCachedFeatureFlag(ctx, cacheKey); found {
		return enabled, nil
	}

	flag, err := store.GetFeatureFlag(ctx, p.db, key)
	if err != nil {
		return false, fmt.Errorf("resolving feature flag %q: %w", key, err)
	}

	enabled := flag.EnabledGlobally
	if tenantID != nil {
		if override, ok := flag.EnabledPerTenant[tenantID.String()]; ok {
			enabled = override
		}
	}

	p.kv.CacheFeatureFlag(ctx, cacheKey, enabled, featureFlagCacheTTL)
	return enabled, nil
}

const (
	globalBreakerFlag = "global_publish_breaker"
	maintenanceFlag   = "maintenance_mode"
)

func tenantBreakerName(tenantID uuid.UUID) string {
	return "tenant_publish_breaker:" + tenantID.String()
}

// IsGlobalPublishBreakerOpen checks the platform-wide publish breaker.
func (p *Plane) IsGlobalPublishBreakerOpen(ctx context.Context) bool {
	return p.kv.IsBreakerOpen(ctx, globalBreakerFlag)
}

// OpenGlobalPublishBreaker trips the platform-wide breaker, raising an
// incident. Used by the auto-recovery pass's rolling-failure-rate trigger
// or by an operator action.
func (p *Plane) OpenGlobalPublishBreaker(ctx context.Context, ttl time.Duration, reason string) error {
	if err := p.kv.SetBreakerOpen(ctx, globalBreakerFlag, ttl); err != nil {
		return err
	}
	_, err := store.CreatePlatformIncident(ctx, p.db, nil, "global_publish_breaker_tripped", map[string]string{"reason": reason})
	return err
}

// IsTenantPublishBreakerOpen checks a tenant's publish breaker.
func (p *Plane) IsTenantPublishBreakerOpen(ctx context.Context, tenantID uuid.UUID) bool {
	return p.kv.IsBreakerOpen(ctx, tenantBreakerName(tenantID))
}

// OpenTenantPublishBreaker trips a tenant's breaker, set automatically when
// tenant risk hits the configured threshold.
func (p *Plane) OpenTenantPublishBreaker(ctx context.Context, tenantID uuid.UUID, ttl time.Duration) error {
	if err := p.kv.SetBreakerOpen(ctx, tenantBreakerName(tenantID), ttl); err != nil {
		return err
	}
	_, err := store.CreatePlatformIncident(ctx, p.db, &tenantID, "tenant_publish_breaker_tripped", nil)
	return err
}

// IsMaintenanceMode reports whether the platform-wide read-only flag is set.
func (p *Plane) IsMaintenanceMode(ctx context.Context) (bool, error) {
	return p.IsFeatureEnabled(ctx, maintenanceFlag, nil)
}

// AutoRecoveryConfig holds the thresholds the periodic pass evaluates.
type AutoRecoveryConfig struct {
	HeartbeatTTL               time.Duration
	ChannelFailureWindow       time.Duration
	ChannelFailureThreshold    int
	TenantRiskThreshold        float64
	TenantThrottleTTL          time.Duration
	EnableTenantPublishBreaker bool
	GlobalFailureRateThreshold float64
}

// RunAutoRecovery performs the periodic checks: missing worker heartbeat,
// channel auto-disable on repeated failure, tenant throttling on risk, and
// the global breaker's rolling-failure-rate trigger. Channels and publish
// events live in each tenant's schema, so the channel-failure check and the
// global failure-rate sum both walk tenants with a tenant-scoped connection
// rather than querying the unscoped pool.
func (p *Plane) RunAutoRecovery(ctx context.Context, cfg AutoRecoveryConfig, workerIDs []string, tenants []store.Tenant, now time.Time) error {
	live, err := p.kv.ListHeartbeats(ctx)
	if err != nil {
		p.logger.Warn("listing heartbeats during auto-recovery", "error", err)
	} else {
		liveSet := make(map[string]bool, len(live))
		for _, id := range live {
			liveSet[id] = true
		}
		for _, id := range workerIDs {
			if !liveSet[id] {
				if _, err := store.CreatePlatformIncident(ctx, p.db, nil, "worker_heartbeat_missing", map[string]string{"worker_id": id}); err != nil {
					p.logger.Error("raising heartbeat incident", "worker_id", id, "error", err)
				}
			}
		}
	}

	since := now.Add(-cfg.ChannelFailureWindow)
	var failedTotal, publishTotal int

	for _, t := range tenants {
		if p.st == nil {
			p.logger.Warn("auto-recovery: no tenant store wired, skipping tenant-schema checks", "tenant_id", t.ID)
			break
		}
		if err := p.runTenantChecks(ctx, cfg, t, since, &failedTotal, &publishTotal); err != nil {
			p.logger.Warn("auto-recovery tenant pass failed", "tenant_id", t.ID, "error", err)
		}

		risk, err := store.GetTenantRiskScore(ctx, p.db, t.ID)
		if err != nil {
			p.logger.Warn("reading tenant risk during auto-recovery", "tenant_id", t.ID, "error", err)
			continue
		}
		if risk.Score >= cfg.TenantRiskThreshold {
			if err := p.kv.SetBreakerOpen(ctx, "tenant_throttle:"+t.ID.String(), cfg.TenantThrottleTTL); err != nil {
				p.logger.Warn("setting tenant throttle", "tenant_id", t.ID, "error", err)
			}
			if cfg.EnableTenantPublishBreaker {
				if err := p.OpenTenantPublishBreaker(ctx, t.ID, cfg.TenantThrottleTTL); err != nil {
					p.logger.Error("opening tenant publish breaker", "tenant_id", t.ID, "error", err)
				}
			}
		}
	}

	if publishTotal > 0 {
		rate := float64(failedTotal) / float64(publishTotal)
		if rate > cfg.GlobalFailureRateThreshold {
			if err := p.OpenGlobalPublishBreaker(ctx, cfg.TenantThrottleTTL, "rolling publish-failure rate exceeded threshold"); err != nil {
				p.logger.Error("opening global publish breaker", "error", err)
			}
		}
	}

	return nil
}

// runTenantChecks acquires a connection scoped to t's schema, auto-disables
// any channel that crossed the failure threshold in the window, and adds
// the tenant's publish outcome counts into the running global totals.
func (p *Plane) runTenantChecks(ctx context.Context, cfg AutoRecoveryConfig, t store.Tenant, since time.Time, failedTotal, publishTotal *int) error {
	conn, err := p.st.WithTenant(ctx, t.Schema)
	if err != nil {
		return fmt.Errorf("acquiring tenant connection: %w", err)
	}
	defer conn.Release()

	channelIDs, err := store.ListChannelIDs(ctx, conn)
	if err != nil {
		p.logger.Warn("listing channels during auto-recovery", "tenant_id", t.ID, "error", err)
	}
	for _, channelID := range channelIDs {
		n, err := store.ChannelFailuresSince(ctx, conn, channelID, since)
		if err != nil {
			p.logger.Warn("checking channel failures during auto-recovery", "channel_id", channelID, "error", err)
			continue
		}
		if n >= cfg.ChannelFailureThreshold {
			if err := store.DisableChannel(ctx, conn, channelID); err != nil {
				p.logger.Error("auto-disabling channel", "channel_id", channelID, "error", err)
				continue
			}
			if _, err := store.CreatePlatformIncident(ctx, p.db, &t.ID, "connector_disabled_repeated_failures", map[string]any{"channel_id": channelID, "failures": n}); err != nil {
				p.logger.Error("raising channel-disable incident", "channel_id", channelID, "error", err)
			}
		}
	}

	failed, total, err := store.RecentPublishCounts(ctx, conn, since)
	if err != nil {
		return fmt.Errorf("counting publish outcomes: %w", err)
	}
	*failedTotal += failed
	*publishTotal += total
	return nil
}

// ComputeAndStoreTenantRisk recomputes and persists a tenant's risk
// composite using the guardrails scoring formula.
func (p *Plane) ComputeAndStoreTenantRisk(ctx context.Context, tenantID uuid.UUID, in guardrails.TenantRiskInputs) error {
	score, bucket := guardrails.ComputeTenantRisk(in)
	return store.UpsertTenantRiskScore(ctx, p.db, tenantID, score, bucket)
}

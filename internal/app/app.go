// Package app wires every component into one of four runtime modes
// ("api", "scheduler", "worker", "migrate") from a single Config. Grounded
// on the teacher's internal/app: one Run entry point, one switch over the
// process mode, same defer-ordered shutdown of database/redis/HTTP.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/northflare/postflow/internal/audit"
	"github.com/northflare/postflow/internal/clock"
	"github.com/northflare/postflow/internal/config"
	"github.com/northflare/postflow/internal/httpserver"
	"github.com/northflare/postflow/internal/kvstate"
	"github.com/northflare/postflow/internal/platform"
	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/internal/telemetry"
	"github.com/northflare/postflow/pkg/adapter"
	"github.com/northflare/postflow/pkg/adapter/facebook"
	"github.com/northflare/postflow/pkg/adapter/instagram"
	"github.com/northflare/postflow/pkg/adapter/linkedin"
	"github.com/northflare/postflow/pkg/adapter/pinterest"
	"github.com/northflare/postflow/pkg/adapter/threads"
	"github.com/northflare/postflow/pkg/adapter/tiktok"
	"github.com/northflare/postflow/pkg/adapter/website"
	"github.com/northflare/postflow/pkg/adapter/xplatform"
	"github.com/northflare/postflow/pkg/automation"
	"github.com/northflare/postflow/pkg/content"
	"github.com/northflare/postflow/pkg/controlplane"
	"github.com/northflare/postflow/pkg/credential"
	"github.com/northflare/postflow/pkg/publisher"
	"github.com/northflare/postflow/pkg/queue"
	"github.com/northflare/postflow/pkg/scheduler"
	"github.com/northflare/postflow/pkg/tenant"
	"github.com/northflare/postflow/pkg/worker"
)

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts the mode cfg.Mode names.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting postflow", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
			return fmt.Errorf("running global migrations: %w", err)
		}
		logger.Info("global migrations applied")
		return runTenantMigrations(ctx, cfg, logger)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	key, err := decodeEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("loading encryption key: %w", err)
	}

	st := store.New(db)
	kv := kvstate.New(rdb, logger)
	q := queue.New(rdb)
	creds, err := credential.New(db, key, logger)
	if err != nil {
		return fmt.Errorf("creating credential store: %w", err)
	}
	plane := controlplane.New(db, st, kv, logger)
	adapters := buildAdapterRegistry(cfg)
	clk := clock.New()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, st, kv, q, plane, metricsReg)
	case "scheduler":
		return runScheduler(ctx, cfg, logger, st, kv, q, plane, clk)
	case "worker":
		return runWorker(ctx, cfg, logger, st, kv, q, adapters, creds, plane, clk)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runTenantMigrations applies the tenant migration set to every already
// provisioned tenant schema. New tenants get it at provisioning time
// (pkg/tenant.Provisioner); this path is for rolling a new migration out to
// tenants that already exist.
func runTenantMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	st := store.New(db)
	tenants, err := st.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		tenantURL, err := tenant.WithSearchPath(cfg.DatabaseURL, t.Schema)
		if err != nil {
			return fmt.Errorf("building tenant database URL for %s: %w", t.Slug, err)
		}
		if err := platform.RunTenantMigrations(tenantURL, cfg.MigrationsTenantDir); err != nil {
			return fmt.Errorf("running tenant migrations for %s: %w", t.Slug, err)
		}
		logger.Info("tenant migrations applied", "tenant", t.Slug, "schema", t.Schema)
	}
	return nil
}

func decodeEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("POSTFLOW_ENCRYPTION_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 key: %w", err)
	}
	if len(key) != credential.KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", credential.KeySize, len(key))
	}
	return key, nil
}

// buildAdapterRegistry registers every channel adapter the config has an
// account identifier for. A channel type left unconfigured is simply
// absent from the registry — publisher.PublishPost counts an active
// channel of that type as a permanent failure for the post.
func buildAdapterRegistry(cfg *config.Config) *adapter.Registry {
	reg := adapter.NewRegistry()
	if cfg.FacebookPageID != "" {
		reg.Register(facebook.New(cfg.FacebookPageID))
	}
	if cfg.InstagramIGUserID != "" {
		reg.Register(instagram.New(cfg.InstagramIGUserID))
	}
	if cfg.LinkedInAuthorURN != "" {
		reg.Register(linkedin.New(cfg.LinkedInAuthorURN))
	}
	if cfg.PinterestBoardID != "" {
		reg.Register(pinterest.New(cfg.PinterestBoardID))
	}
	if cfg.ThreadsUserID != "" {
		reg.Register(threads.New(cfg.ThreadsUserID))
	}
	if cfg.WebsiteBaseURL != "" {
		reg.Register(website.New(cfg.WebsiteBaseURL))
	}
	reg.Register(tiktok.New())
	reg.Register(xplatform.New())
	return reg
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, st *store.Store, kv *kvstate.Store, q *queue.Queue, plane *controlplane.Plane, metricsReg *prometheus.Registry) error {
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		OperatorToken:      cfg.OperatorToken,
	}, logger, db, rdb, metricsReg)

	// The api process doesn't run the scheduler beats itself, so the
	// force-tick operator action runs a standalone Scheduler against the
	// same store/queue — RunOnce never starts the interval loop.
	sched := scheduler.New(st, kv, q, clock.New(), logger, "api-adhoc", scheduler.DefaultConfig())
	ops := httpserver.NewOpsHandler(st, plane, q, sched, logger)
	ops.Routes(srv.OpsRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runScheduler(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *store.Store, kv *kvstate.Store, q *queue.Queue, plane *controlplane.Plane, clk clock.Clock) error {
	workerID := "scheduler-" + uuid.NewString()

	schedCfg := scheduler.Config{
		DuePostInterval:   cfg.SchedulerDuePostInterval,
		TimeRuleInterval:  cfg.SchedulerTimeRuleInterval,
		EventRuleInterval: cfg.SchedulerEventRuleInterval,
		HeartbeatInterval: cfg.SchedulerHeartbeatInterval,
		DuePostBatchSize:  cfg.SchedulerDuePostBatchSize,
		EventScanLimit:    cfg.SchedulerEventScanLimit,
		RecentRunWindow:   5 * time.Minute,
	}
	sched := scheduler.New(st, kv, q, clk, logger, workerID, schedCfg)

	go runAutoRecoveryLoop(ctx, cfg, logger, st, plane, workerID)

	return sched.Run(ctx)
}

// runAutoRecoveryLoop periodically evaluates the missing-heartbeat,
// channel-auto-disable, tenant-throttle, and global-breaker checks.
func runAutoRecoveryLoop(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *store.Store, plane *controlplane.Plane, workerID string) {
	ticker := time.NewTicker(cfg.AutoRecoveryInterval)
	defer ticker.Stop()

	recoveryCfg := controlplane.AutoRecoveryConfig{
		HeartbeatTTL:               cfg.WorkerMissingAfter,
		ChannelFailureWindow:       cfg.ChannelFailureWindow,
		ChannelFailureThreshold:    cfg.ChannelFailureThreshold,
		TenantRiskThreshold:        cfg.TenantRiskAlertThreshold,
		TenantThrottleTTL:          cfg.TenantThrottleTTL,
		EnableTenantPublishBreaker: cfg.EnableTenantPublishBreaker,
		GlobalFailureRateThreshold: cfg.SystemPublishFailureAlertThreshold,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := st.ListTenants(ctx)
			if err != nil {
				logger.Warn("auto-recovery: listing tenants", "error", err)
				continue
			}
			if err := plane.RunAutoRecovery(ctx, recoveryCfg, []string{workerID}, tenants, time.Now()); err != nil {
				logger.Warn("auto-recovery pass", "error", err)
			}
		}
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, st *store.Store, kv *kvstate.Store, q *queue.Queue, adapters *adapter.Registry, creds *credential.Store, plane *controlplane.Plane, clk clock.Clock) error {
	pub := publisher.New(st, kv, adapters, creds, plane, clk, logger)

	var gen content.ContentGenerator
	if cfg.OpenAIAPIKey != "" {
		gen = content.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	auto := automation.New(st, kv, q, gen, clk, logger)

	pool := worker.New(st, q, pub, auto, logger)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				worker.ReportDepth(ctx, q, logger)
			}
		}
	}()

	done := make(chan struct{}, 2)
	go func() { pool.RunPublishing(ctx, cfg.PublishWorkerConcurrency); done <- struct{}{} }()
	go func() { pool.RunAutomation(ctx, cfg.AutomationWorkerConcurrency); done <- struct{}{} }()

	logger.Info("worker started",
		"publish_concurrency", cfg.PublishWorkerConcurrency,
		"automation_concurrency", cfg.AutomationWorkerConcurrency)

	<-ctx.Done()
	<-done
	<-done
	logger.Info("worker stopped")
	return nil
}

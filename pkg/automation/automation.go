// Package automation executes queued automation runs: it advances a run
// through queued -> running -> {success, failed}, dispatches the
// rule's configured action, and evaluates guardrails for anything that
// produces publishable content. Grounded on the teacher's escalation
// engine's per-item state-advance style, generalized from a single alert
// state machine to four distinct action handlers.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northflare/postflow/internal/clock"
	"github.com/northflare/postflow/internal/kvstate"
	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/internal/telemetry"
	"github.com/northflare/postflow/pkg/content"
	"github.com/northflare/postflow/pkg/eventlog"
	"github.com/northflare/postflow/pkg/guardrails"
	"github.com/northflare/postflow/pkg/queue"
)

const (
	runDeadline         = 2 * time.Minute
	defaultGenAttempts  = 3
	eventRunStarted     = "RunStarted"
	eventRunCancelled   = "RunCancelled"
	eventActionFailed   = "ActionFailed"
	eventContentCreated = "ContentCreated"
)

func cancelFlag(runID uuid.UUID) string { return "automation_cancel:" + runID.String() }

// RequestCancellation marks a run for cancellation; the runtime checks this
// flag before the run starts and, for generate_post, once more before
// content generation begins.
func RequestCancellation(ctx context.Context, kv *kvstate.Store, runID uuid.UUID) error {
	return kv.SetBreakerOpen(ctx, cancelFlag(runID), runDeadline)
}

// Runtime executes queued automation runs.
type Runtime struct {
	store     *store.Store
	kv        *kvstate.Store
	queue     *queue.Queue
	generator content.ContentGenerator
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a Runtime.
func New(st *store.Store, kv *kvstate.Store, q *queue.Queue, gen content.ContentGenerator, clk clock.Clock, logger *slog.Logger) *Runtime {
	return &Runtime{store: st, kv: kv, queue: q, generator: gen, clock: clk, logger: logger}
}

func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExecuteRun is the single entry point invoked from the work queue for a
// queued automation run.
func (r *Runtime) ExecuteRun(ctx context.Context, tenantSchema string, tenantID, runID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, runDeadline)
	defer cancel()

	conn, err := r.store.WithTenant(ctx, tenantSchema)
	if err != nil {
		return fmt.Errorf("acquiring tenant connection: %w", err)
	}
	defer conn.Release()

	run, err := store.GetRun(ctx, conn, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	if run.Status != store.RunQueued {
		return nil
	}

	if r.kv.IsBreakerOpen(ctx, cancelFlag(runID)) {
		return r.finish(ctx, conn, tenantID, run, store.RunFailed, map[string]any{"cancelled": true}, eventRunCancelled)
	}

	rule, err := store.GetRule(ctx, conn, run.RuleID)
	if err != nil {
		return fmt.Errorf("loading rule %s: %w", run.RuleID, err)
	}

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		if err := store.TransitionRun(ctx, tx, runID, store.RunRunning, nil, true, false); err != nil {
			return err
		}
		return eventlog.New(tx).Automation(ctx, tenantID, runID, eventRunStarted, map[string]any{"action": rule.Action})
	}); err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}

	stats, status, actionErr := r.dispatch(ctx, conn, tenantSchema, tenantID, rule, run)
	finishEvent := ""
	if actionErr != nil {
		r.logger.Warn("automation action failed", "run_id", runID, "action", rule.Action, "error", actionErr)
		stats["error"] = actionErr.Error()
		finishEvent = eventActionFailed
	}

	telemetry.AutomationRunsTotal.WithLabelValues(string(rule.Action), string(status)).Inc()
	return r.finish(ctx, conn, tenantID, run, status, stats, finishEvent)
}

func (r *Runtime) finish(ctx context.Context, conn *pgxpool.Conn, tenantID uuid.UUID, run store.AutomationRun, status store.RunStatus, stats map[string]any, eventOverride string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling run stats: %w", err)
	}

	return withTx(ctx, conn, func(tx pgx.Tx) error {
		if err := store.TransitionRun(ctx, tx, run.ID, status, statsJSON, false, true); err != nil {
			return err
		}
		eventType := eventOverride
		if eventType == "" {
			eventType = "Run" + string(status)
		}
		return eventlog.New(tx).Automation(ctx, tenantID, run.ID, eventType, stats)
	})
}

// dispatch runs the rule's configured action and returns the stats to
// persist plus the run's terminal status. A returned error is recorded in
// stats but does not itself stop finish from being called — callers always
// reach a terminal run status.
func (r *Runtime) dispatch(ctx context.Context, conn *pgxpool.Conn, tenantSchema string, tenantID uuid.UUID, rule store.AutomationRule, run store.AutomationRun) (map[string]any, store.RunStatus, error) {
	switch rule.Action {
	case store.ActionGeneratePost:
		return r.generatePost(ctx, conn, tenantID, rule, run)
	case store.ActionSchedulePost:
		return r.schedulePost(ctx, conn, rule)
	case store.ActionPublishNow:
		return r.publishNow(ctx, conn, tenantSchema, tenantID, rule)
	case store.ActionSyncMetrics:
		return r.syncMetrics(ctx, rule)
	default:
		return map[string]any{}, store.RunFailed, fmt.Errorf("unknown action %q", rule.Action)
	}
}

type generatePostConfig struct {
	TemplateID uuid.UUID `json:"template_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Channels   []string  `json:"channels"`
}

type ruleGuardrailsConfig struct {
	guardrails.RuleConfig
	guardrails.QualityPolicy
}

func (r *Runtime) generatePost(ctx context.Context, conn *pgxpool.Conn, tenantID uuid.UUID, rule store.AutomationRule, run store.AutomationRun) (map[string]any, store.RunStatus, error) {
	var cfg generatePostConfig
	if err := json.Unmarshal(rule.ActionConfig, &cfg); err != nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("unmarshaling generate_post config: %w", err)
	}

	tmpl, err := store.GetContentTemplate(ctx, conn, cfg.TemplateID, rule.ProjectID)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}
	campaign, err := store.GetCampaign(ctx, conn, cfg.CampaignID)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	var brand map[string]any
	_ = json.Unmarshal(campaign.BrandProfile, &brand)

	prompt, err := content.RenderPrompt(tmpl.Prompt, map[string]any{
		"Brand":    brand,
		"Campaign": campaign.Name,
	})
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	if r.kv.IsBreakerOpen(ctx, cancelFlag(run.ID)) {
		return map[string]any{"cancelled": true}, store.RunFailed, nil
	}

	if r.generator == nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("generate_post: no content generator configured")
	}

	generated, err := content.GenerateWithRetry(ctx, r.generator, prompt, defaultGenAttempts)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	var gcfg ruleGuardrailsConfig
	_ = json.Unmarshal(rule.Guardrails, &gcfg)

	now := r.clock.Now()
	recentTitles, err := store.RecentTitles(ctx, conn, rule.ProjectID, now.AddDate(0, 0, -gcfg.DuplicateTopicDays))
	if err != nil {
		r.logger.Warn("loading recent titles for duplicate check", "error", err)
	}
	postsToday, err := store.CountPostsCreatedToday(ctx, conn, rule.ProjectID, now)
	if err != nil {
		r.logger.Warn("counting posts created today", "error", err)
	}

	violations := guardrails.Evaluate(gcfg.RuleConfig, guardrails.CheckInput{
		Now:                    now,
		PostsCreatedTodayCount: postsToday,
		NormalizedTitle:        guardrails.NormalizeTitle(generated.Title),
		RecentNormalizedTitles: recentTitles,
	})
	quality := guardrails.Score(gcfg.QualityPolicy, generated.Title, generated.Body, generated.RiskFlags)

	status := store.ContentDraft
	if len(violations) > 0 || len(generated.RiskFlags) > 0 || quality.ForbiddenMatch || quality.NeedsApproval || quality.ExceedsShapeLimits(gcfg.QualityPolicy) {
		status = store.ContentNeedsReview
	}

	violationStrs := make([]string, len(violations))
	for i, v := range violations {
		violationStrs[i] = string(v)
		telemetry.GuardrailViolationsTotal.WithLabelValues(string(v)).Inc()
	}

	runID := run.ID
	var item store.ContentItem
	err = withTx(ctx, conn, func(tx pgx.Tx) error {
		var txErr error
		item, txErr = store.CreateContentItem(ctx, tx, store.ContentItem{
			TenantID:            tenantID,
			ProjectID:           rule.ProjectID,
			RunID:               &runID,
			Title:               generated.Title,
			Body:                generated.Body,
			Hashtags:            generated.Hashtags,
			CTA:                 generated.CTA,
			Channels:            cfg.Channels,
			RiskFlags:           generated.RiskFlags,
			Status:              status,
			GuardrailViolations: violationStrs,
			Metadata:            mustJSON(map[string]any{"risk_score": quality.RiskScore, "tone_score": quality.ToneScore}),
		})
		if txErr != nil {
			return txErr
		}
		return eventlog.New(tx).Automation(ctx, tenantID, run.ID, eventContentCreated, map[string]any{"content_item_id": item.ID, "status": status})
	})
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	return map[string]any{
		"content_item_id": item.ID,
		"status":          status,
		"risk_score":      quality.RiskScore,
		"violations":      violationStrs,
	}, store.RunSuccess, nil
}

type schedulePostConfig struct {
	ContentItemID uuid.UUID `json:"content_item_id"`
	DelaySeconds  int       `json:"delay_seconds"`
}

func (r *Runtime) schedulePost(ctx context.Context, conn *pgxpool.Conn, rule store.AutomationRule) (map[string]any, store.RunStatus, error) {
	var cfg schedulePostConfig
	if err := json.Unmarshal(rule.ActionConfig, &cfg); err != nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("unmarshaling schedule_post config: %w", err)
	}

	item, err := store.GetContentItem(ctx, conn, cfg.ContentItemID)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}
	if item.Status != store.ContentApproved && item.Status != store.ContentDraft {
		return map[string]any{"content_item_id": item.ID}, store.RunFailed, fmt.Errorf("content item %s not schedulable from status %s", item.ID, item.Status)
	}

	post, err := store.CreatePost(ctx, conn, item.TenantID, item.ProjectID, item.Title, item.Body)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	publishAt := r.clock.Now().Add(time.Duration(cfg.DelaySeconds) * time.Second)
	if err := store.SchedulePost(ctx, conn, post.ID, publishAt); err != nil {
		return map[string]any{}, store.RunFailed, err
	}
	if err := store.UpdateContentItemStatus(ctx, conn, item.ID, store.ContentScheduled); err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	return map[string]any{"content_item_id": item.ID, "post_id": post.ID, "publish_at": publishAt}, store.RunSuccess, nil
}

type publishNowConfig struct {
	ContentItemID uuid.UUID `json:"content_item_id"`
}

func (r *Runtime) publishNow(ctx context.Context, conn *pgxpool.Conn, tenantSchema string, tenantID uuid.UUID, rule store.AutomationRule) (map[string]any, store.RunStatus, error) {
	var cfg publishNowConfig
	if err := json.Unmarshal(rule.ActionConfig, &cfg); err != nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("unmarshaling publish_now config: %w", err)
	}

	item, err := store.GetContentItem(ctx, conn, cfg.ContentItemID)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	post, err := store.CreatePost(ctx, conn, item.TenantID, item.ProjectID, item.Title, item.Body)
	if err != nil {
		return map[string]any{}, store.RunFailed, err
	}

	now := r.clock.Now()
	if err := store.SchedulePost(ctx, conn, post.ID, now); err != nil {
		return map[string]any{}, store.RunFailed, err
	}
	if err := store.TransitionToPublishing(ctx, conn, post.ID); err != nil {
		return map[string]any{}, store.RunFailed, err
	}
	if err := store.UpdateContentItemStatus(ctx, conn, item.ID, store.ContentPublished); err != nil {
		r.logger.Warn("updating content item status after publish_now dispatch", "content_item_id", item.ID, "error", err)
	}

	job := map[string]any{"tenant_id": tenantID, "tenant_schema": tenantSchema, "post_id": post.ID}
	if err := r.queue.Enqueue(ctx, queue.Publishing, post.ID.String(), job, now); err != nil {
		return map[string]any{"content_item_id": item.ID, "post_id": post.ID}, store.RunFailed, fmt.Errorf("enqueueing immediate publish job: %w", err)
	}

	return map[string]any{"content_item_id": item.ID, "post_id": post.ID}, store.RunSuccess, nil
}

type syncMetricsConfig struct {
	ProjectID uuid.UUID `json:"project_id"`
	Channels  []string  `json:"channels"`
}

func (r *Runtime) syncMetrics(ctx context.Context, rule store.AutomationRule) (map[string]any, store.RunStatus, error) {
	var cfg syncMetricsConfig
	if err := json.Unmarshal(rule.ActionConfig, &cfg); err != nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("unmarshaling sync_metrics config: %w", err)
	}

	job := map[string]any{"project_id": rule.ProjectID, "channels": cfg.Channels}
	if err := r.queue.Enqueue(ctx, queue.Analytics, uuid.NewString(), job, r.clock.Now()); err != nil {
		return map[string]any{}, store.RunFailed, fmt.Errorf("enqueueing metrics sync job: %w", err)
	}
	return map[string]any{"project_id": rule.ProjectID}, store.RunSuccess, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Package scheduler runs the three dispatch beats that turn stored state
// into work-queue jobs: due scheduled posts, time-based automation rules
// (cron/interval), and event-based automation rules. Grounded on the
// teacher's escalation engine's tenant-fanout ticker loop, generalized to
// three independent beats instead of one.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	"github.com/northflare/postflow/internal/clock"
	"github.com/northflare/postflow/internal/kvstate"
	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/internal/telemetry"
	"github.com/northflare/postflow/pkg/queue"
)

// Config holds the beat intervals and batch sizes. Defaults match the
// platform's documented operational cadence.
type Config struct {
	DuePostInterval   time.Duration
	TimeRuleInterval  time.Duration
	EventRuleInterval time.Duration
	HeartbeatInterval time.Duration
	DuePostBatchSize  int
	EventScanLimit    int
	// RecentRunWindow bounds the anti-stampede fingerprint lookback. Time-rule
	// fingerprints carry the minute, so two passes within the same minute
	// create at most one run.
	RecentRunWindow time.Duration
}

// DefaultConfig returns the platform's standard beat cadence.
func DefaultConfig() Config {
	return Config{
		DuePostInterval:   30 * time.Second,
		TimeRuleInterval:  30 * time.Second,
		EventRuleInterval: 20 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		DuePostBatchSize:  100,
		EventScanLimit:    200,
		RecentRunWindow:   5 * time.Minute,
	}
}

// Scheduler dispatches due work across every provisioned tenant.
type Scheduler struct {
	store    *store.Store
	kv       *kvstate.Store
	queue    *queue.Queue
	clock    clock.Clock
	logger   *slog.Logger
	workerID string
	cfg      Config
}

// New creates a Scheduler.
func New(st *store.Store, kv *kvstate.Store, q *queue.Queue, clk clock.Clock, logger *slog.Logger, workerID string, cfg Config) *Scheduler {
	return &Scheduler{store: st, kv: kv, queue: q, clock: clk, logger: logger, workerID: workerID, cfg: cfg}
}

// RunOnce runs the three dispatch beats a single time, outside the regular
// interval loop. Used by the operator API's force-tick action so an
// operator can drain a backlog without waiting for the next beat.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.tickDuePosts(ctx); err != nil {
		return fmt.Errorf("due-post beat: %w", err)
	}
	if err := s.tickTimeRules(ctx); err != nil {
		return fmt.Errorf("time-rule beat: %w", err)
	}
	if err := s.tickEventRules(ctx); err != nil {
		return fmt.Errorf("event-rule beat: %w", err)
	}
	return nil
}

// Run blocks, driving all four beats (three dispatch beats plus the worker
// heartbeat) until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"due_post_interval", s.cfg.DuePostInterval,
		"time_rule_interval", s.cfg.TimeRuleInterval,
		"event_rule_interval", s.cfg.EventRuleInterval)

	duePostTimer := s.clock.NewTimer(s.cfg.DuePostInterval)
	timeRuleTimer := s.clock.NewTimer(s.cfg.TimeRuleInterval)
	eventRuleTimer := s.clock.NewTimer(s.cfg.EventRuleInterval)
	heartbeatTimer := s.clock.NewTimer(s.cfg.HeartbeatInterval)
	defer duePostTimer.Stop()
	defer timeRuleTimer.Stop()
	defer eventRuleTimer.Stop()
	defer heartbeatTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-duePostTimer.C():
			if err := s.tickDuePosts(ctx); err != nil {
				s.logger.Error("due-post beat", "error", err)
			}
			duePostTimer.Reset(s.cfg.DuePostInterval)
		case <-timeRuleTimer.C():
			if err := s.tickTimeRules(ctx); err != nil {
				s.logger.Error("time-rule beat", "error", err)
			}
			timeRuleTimer.Reset(s.cfg.TimeRuleInterval)
		case <-eventRuleTimer.C():
			if err := s.tickEventRules(ctx); err != nil {
				s.logger.Error("event-rule beat", "error", err)
			}
			eventRuleTimer.Reset(s.cfg.EventRuleInterval)
		case <-heartbeatTimer.C():
			if err := s.kv.Heartbeat(ctx, s.workerID, s.cfg.HeartbeatInterval*3); err != nil {
				s.logger.Warn("scheduler heartbeat", "error", err)
			}
			heartbeatTimer.Reset(s.cfg.HeartbeatInterval)
		}
	}
}

func (s *Scheduler) forEachTenant(ctx context.Context, fn func(store.Tenant) error) error {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		if err := fn(t); err != nil {
			s.logger.Error("scheduler tenant pass", "tenant", t.Slug, "error", err)
		}
	}
	return nil
}

// tickDuePosts scans each tenant for scheduled posts whose publish_at has
// arrived and flips them to publishing within one transaction holding the
// SKIP LOCKED row lock, so two scheduler instances never dispatch the same
// post twice; the publish jobs are enqueued after that transaction commits.
func (s *Scheduler) tickDuePosts(ctx context.Context) error {
	now := s.clock.Now()
	return s.forEachTenant(ctx, func(t store.Tenant) error {
		var dispatched []store.Post
		err := s.store.TxWithTenant(ctx, t.Schema, func(ctx context.Context, tx pgx.Tx) error {
			due, err := store.ListDuePosts(ctx, tx, now, s.cfg.DuePostBatchSize)
			if err != nil {
				return err
			}
			for _, p := range due {
				if err := store.TransitionToPublishing(ctx, tx, p.ID); err != nil {
					return err
				}
				dispatched = append(dispatched, p)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("dispatching due posts for %s: %w", t.Slug, err)
		}

		for _, p := range dispatched {
			job := publishJob{TenantID: t.ID, TenantSchema: t.Schema, PostID: p.ID}
			if err := s.queue.Enqueue(ctx, queue.Publishing, p.ID.String(), job, now); err != nil {
				s.logger.Error("enqueueing publish job", "post_id", p.ID, "error", err)
				continue
			}
			telemetry.SchedulerDispatchedTotal.WithLabelValues("due_posts").Inc()
		}
		return nil
	})
}

type publishJob struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	TenantSchema string    `json:"tenant_schema"`
	PostID       uuid.UUID `json:"post_id"`
}

// automationJob is the payload enqueued for the automation runtime to pick
// up and execute a queued run.
type automationJob struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	TenantSchema string    `json:"tenant_schema"`
	RunID        uuid.UUID `json:"run_id"`
}

type timeTriggerConfig struct {
	CronExpr        string `json:"cron_expr"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// tickTimeRules evaluates every enabled cron/interval automation rule per
// tenant, dispatching at most one run per rule per minute via the
// {rule_id}:{trigger}:{YYYYmmddHHMM} fingerprint.
func (s *Scheduler) tickTimeRules(ctx context.Context) error {
	now := s.clock.Now()
	return s.forEachTenant(ctx, func(t store.Tenant) error {
		return s.store.TxWithTenant(ctx, t.Schema, func(ctx context.Context, tx pgx.Tx) error {
			rules, err := store.ListEnabledRules(ctx, tx)
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if rule.Trigger != store.TriggerCron && rule.Trigger != store.TriggerInterval {
					continue
				}
				due, err := s.timeRuleDue(ctx, tx, rule, now)
				if err != nil {
					s.logger.Warn("evaluating time rule", "rule_id", rule.ID, "error", err)
					continue
				}
				if !due {
					continue
				}
				if err := s.dispatchRun(ctx, tx, t, rule, now); err != nil {
					s.logger.Error("dispatching time-rule run", "rule_id", rule.ID, "error", err)
				}
			}
			return nil
		})
	})
}

func (s *Scheduler) timeRuleDue(ctx context.Context, tx pgx.Tx, rule store.AutomationRule, now time.Time) (bool, error) {
	var cfg timeTriggerConfig
	if err := json.Unmarshal(rule.TriggerConfig, &cfg); err != nil {
		return false, fmt.Errorf("unmarshaling trigger config: %w", err)
	}

	lastRun, found, err := store.MostRecentRunForRule(ctx, tx, rule.ID)
	if err != nil {
		return false, err
	}

	switch rule.Trigger {
	case store.TriggerCron:
		schedule, err := cron.ParseStandard(cfg.CronExpr)
		if err != nil {
			return false, fmt.Errorf("parsing cron expression %q: %w", cfg.CronExpr, err)
		}
		reference := now.Add(-time.Minute)
		if found {
			reference = lastRun.CreatedAt
		}
		return !schedule.Next(reference).After(now), nil

	case store.TriggerInterval:
		if cfg.IntervalSeconds <= 0 {
			return false, fmt.Errorf("interval rule %s has non-positive interval_seconds", rule.ID)
		}
		if !found {
			return true, nil
		}
		return now.Sub(lastRun.CreatedAt) >= time.Duration(cfg.IntervalSeconds)*time.Second, nil
	}
	return false, nil
}

func (s *Scheduler) dispatchRun(ctx context.Context, tx pgx.Tx, t store.Tenant, rule store.AutomationRule, now time.Time) error {
	fingerprint := fmt.Sprintf("%s:%s:%s", rule.ID, rule.Trigger, now.Format("200601021504"))
	recent, err := store.RecentRunExists(ctx, tx, fingerprint, now.Add(-s.cfg.RecentRunWindow))
	if err != nil {
		return err
	}
	if recent {
		return nil
	}

	run, err := store.CreateAutomationRun(ctx, tx, rule.TenantID, rule.ID, fingerprint)
	if err != nil {
		return err
	}

	job := automationJob{TenantID: t.ID, TenantSchema: t.Schema, RunID: run.ID}
	if err := s.queue.Enqueue(ctx, queue.Scheduling, run.ID.String(), job, now); err != nil {
		return fmt.Errorf("enqueueing automation job: %w", err)
	}
	telemetry.SchedulerDispatchedTotal.WithLabelValues(string(rule.Trigger)).Inc()
	return nil
}

type eventTriggerConfig struct {
	EventTypes []string `json:"event_types"`
	Statuses   []string `json:"statuses"`
}

// tickEventRules replays publish_events past each rule's saved cursor
// through an expr-lang filter built from the rule's trigger_config, firing
// a run per matching event and advancing the cursor past every event seen
// (not just matches) so a rule with no matches in a scan window doesn't
// keep rereading the same events forever.
func (s *Scheduler) tickEventRules(ctx context.Context) error {
	now := s.clock.Now()
	return s.forEachTenant(ctx, func(t store.Tenant) error {
		return s.store.TxWithTenant(ctx, t.Schema, func(ctx context.Context, tx pgx.Tx) error {
			rules, err := store.ListEnabledRules(ctx, tx)
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if rule.Trigger != store.TriggerEvent {
					continue
				}
				if err := s.processEventRule(ctx, tx, t, rule, now); err != nil {
					s.logger.Warn("processing event rule", "rule_id", rule.ID, "error", err)
				}
			}
			return nil
		})
	})
}

func (s *Scheduler) processEventRule(ctx context.Context, tx pgx.Tx, t store.Tenant, rule store.AutomationRule, now time.Time) error {
	var cfg eventTriggerConfig
	if err := json.Unmarshal(rule.TriggerConfig, &cfg); err != nil {
		return fmt.Errorf("unmarshaling event trigger config: %w", err)
	}

	cursorKey := rule.ID.String()
	cursorUnixNano, err := s.kv.GetEventCursor(ctx, cursorKey)
	if err != nil {
		return fmt.Errorf("reading event cursor: %w", err)
	}
	cursor := time.Unix(0, cursorUnixNano).UTC()
	if cursorUnixNano == 0 {
		cursor = now.Add(-time.Hour)
	}

	events, err := store.EventsAfter(ctx, tx, cursor, s.cfg.EventScanLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	program, err := expr.Compile(buildEventFilterExpr(cfg), expr.Env(eventFilterEnv{}))
	if err != nil {
		return fmt.Errorf("compiling event rule filter: %w", err)
	}

	for _, evt := range events {
		env := eventFilterEnv{EventType: evt.EventType, Status: string(evt.Status)}
		out, err := expr.Run(program, env)
		if err != nil {
			s.logger.Warn("evaluating event filter", "rule_id", rule.ID, "error", err)
			continue
		}
		matched, _ := out.(bool)
		if matched {
			fingerprint := fmt.Sprintf("%s:event:%s", rule.ID, evt.ID)
			if err := s.dispatchEventRun(ctx, tx, t, rule, fingerprint, now); err != nil {
				s.logger.Error("dispatching event-rule run", "rule_id", rule.ID, "event_id", evt.ID, "error", err)
			}
		}
	}

	latest := events[len(events)-1].CreatedAt
	if err := s.kv.SetEventCursor(ctx, cursorKey, latest.UnixNano()); err != nil {
		s.logger.Warn("advancing event cursor", "rule_id", rule.ID, "error", err)
	}
	return nil
}

type eventFilterEnv struct {
	EventType string
	Status    string
}

func buildEventFilterExpr(cfg eventTriggerConfig) string {
	clause := "true"
	if len(cfg.EventTypes) > 0 {
		clause += " && EventType in " + toStringList(cfg.EventTypes)
	}
	if len(cfg.Statuses) > 0 {
		clause += " && Status in " + toStringList(cfg.Statuses)
	}
	return clause
}

func toStringList(items []string) string {
	out := "["
	for i, v := range items {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}

func (s *Scheduler) dispatchEventRun(ctx context.Context, tx pgx.Tx, t store.Tenant, rule store.AutomationRule, fingerprint string, now time.Time) error {
	recent, err := store.RecentRunExists(ctx, tx, fingerprint, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if recent {
		return nil
	}

	run, err := store.CreateAutomationRun(ctx, tx, rule.TenantID, rule.ID, fingerprint)
	if err != nil {
		return err
	}

	job := automationJob{TenantID: t.ID, TenantSchema: t.Schema, RunID: run.ID}
	if err := s.queue.Enqueue(ctx, queue.Scheduling, run.ID.String(), job, now); err != nil {
		return fmt.Errorf("enqueueing automation job: %w", err)
	}
	telemetry.SchedulerDispatchedTotal.WithLabelValues("event").Inc()
	return nil
}

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

const ruleColumns = `id, tenant_id, project_id, name, trigger, trigger_config, action, action_config, guardrails, is_enabled, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (AutomationRule, error) {
	var r AutomationRule
	err := row.Scan(&r.ID, &r.TenantID, &r.ProjectID, &r.Name, &r.Trigger, &r.TriggerConfig,
		&r.Action, &r.ActionConfig, &r.Guardrails, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListEnabledRules returns every enabled automation rule for a tenant,
// scanned once per scheduler beat.
func ListEnabledRules(ctx context.Context, db DBTX) ([]AutomationRule, error) {
	rows, err := db.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE is_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled rules: %w", err)
	}
	defer rows.Close()

	var out []AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning automation rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateAutomationRule inserts a new rule.
func CreateAutomationRule(ctx context.Context, db DBTX, r AutomationRule) (AutomationRule, error) {
	row := db.QueryRow(ctx, `INSERT INTO automation_rules
		(tenant_id, project_id, name, trigger, trigger_config, action, action_config, guardrails, is_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+ruleColumns,
		r.TenantID, r.ProjectID, r.Name, r.Trigger, r.TriggerConfig, r.Action, r.ActionConfig, r.Guardrails, r.IsEnabled)
	return scanRule(row)
}

const runColumns = `id, tenant_id, rule_id, status, fingerprint, stats, started_at, finished_at, created_at`

func scanRun(row interface{ Scan(...any) error }) (AutomationRun, error) {
	var r AutomationRun
	err := row.Scan(&r.ID, &r.TenantID, &r.RuleID, &r.Status, &r.Fingerprint, &r.Stats,
		&r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	return r, err
}

// MostRecentRunForRule returns the latest run for a rule, if any — used to
// compute cron/interval "last fire" and the anti-stampede recent-run check.
func MostRecentRunForRule(ctx context.Context, db DBTX, ruleID uuid.UUID) (AutomationRun, bool, error) {
	row := db.QueryRow(ctx, `SELECT `+runColumns+` FROM automation_runs
		WHERE rule_id = $1 ORDER BY created_at DESC LIMIT 1`, ruleID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AutomationRun{}, false, nil
	}
	if err != nil {
		return AutomationRun{}, false, fmt.Errorf("getting most recent run for rule %s: %w", ruleID, err)
	}
	return r, true, nil
}

// RecentRunExists checks for a run with the given fingerprint created within
// the anti-stampede window in {queued, running, success, partial} — two
// scheduler passes within the same minute must create at most one run.
func RecentRunExists(ctx context.Context, db DBTX, fingerprint string, since time.Time) (bool, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM automation_runs
		WHERE fingerprint = $1 AND created_at >= $2
		AND status IN ('queued','running','success','partial')`, fingerprint, since).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking recent run fingerprint %q: %w", fingerprint, err)
	}
	return n > 0, nil
}

// CreateAutomationRun inserts a new queued run gated by its fingerprint.
func CreateAutomationRun(ctx context.Context, db DBTX, tenantID, ruleID uuid.UUID, fingerprint string) (AutomationRun, error) {
	row := db.QueryRow(ctx, `INSERT INTO automation_runs (tenant_id, rule_id, status, fingerprint, stats)
		VALUES ($1, $2, 'queued', $3, '{}') RETURNING `+runColumns,
		tenantID, ruleID, fingerprint)
	return scanRun(row)
}

// TransitionRun moves a run between states (queued -> running -> terminal).
// AutomationRun.status is mutated only by the automation runtime.
func TransitionRun(ctx context.Context, db DBTX, id uuid.UUID, status RunStatus, stats json.RawMessage, started, finished bool) error {
	var err error
	switch {
	case started && !finished:
		_, err = db.Exec(ctx, `UPDATE automation_runs SET status = $2, started_at = now() WHERE id = $1`, id, status)
	case finished:
		_, err = db.Exec(ctx, `UPDATE automation_runs SET status = $2, stats = $3, finished_at = now() WHERE id = $1`,
			id, status, stats)
	default:
		_, err = db.Exec(ctx, `UPDATE automation_runs SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("transitioning run %s to %s: %w", id, status, err)
	}
	return nil
}

// GetRun loads a single run by id.
func GetRun(ctx context.Context, db DBTX, id uuid.UUID) (AutomationRun, error) {
	row := db.QueryRow(ctx, `SELECT `+runColumns+` FROM automation_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return AutomationRun{}, fmt.Errorf("getting run %s: %w", id, err)
	}
	return r, nil
}

// GetRule loads a rule by id.
func GetRule(ctx context.Context, db DBTX, id uuid.UUID) (AutomationRule, error) {
	row := db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err != nil {
		return AutomationRule{}, fmt.Errorf("getting rule %s: %w", id, err)
	}
	return r, nil
}

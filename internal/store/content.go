package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const contentColumns = `id, tenant_id, project_id, run_id, title, body, hashtags, cta, channels, risk_flags, status, guardrail_violations, metadata, last_error, created_at, updated_at`

func scanContentItem(row interface{ Scan(...any) error }) (ContentItem, error) {
	var c ContentItem
	err := row.Scan(&c.ID, &c.TenantID, &c.ProjectID, &c.RunID, &c.Title, &c.Body, &c.Hashtags, &c.CTA,
		&c.Channels, &c.RiskFlags, &c.Status, &c.GuardrailViolations, &c.Metadata, &c.LastError,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateContentItem persists AI- or manually authored content.
func CreateContentItem(ctx context.Context, db DBTX, c ContentItem) (ContentItem, error) {
	row := db.QueryRow(ctx, `INSERT INTO content_items
		(tenant_id, project_id, run_id, title, body, hashtags, cta, channels, risk_flags, status, guardrail_violations, metadata, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+contentColumns,
		c.TenantID, c.ProjectID, c.RunID, c.Title, c.Body, c.Hashtags, c.CTA, c.Channels, c.RiskFlags,
		c.Status, c.GuardrailViolations, c.Metadata, c.LastError)
	return scanContentItem(row)
}

// GetContentItem loads a single content item by id.
func GetContentItem(ctx context.Context, db DBTX, id uuid.UUID) (ContentItem, error) {
	row := db.QueryRow(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)
	c, err := scanContentItem(row)
	if err != nil {
		return ContentItem{}, fmt.Errorf("getting content item %s: %w", id, err)
	}
	return c, nil
}

// UpdateContentItemStatus transitions a content item's status.
func UpdateContentItemStatus(ctx context.Context, db DBTX, id uuid.UUID, status ContentStatus) error {
	_, err := db.Exec(ctx, `UPDATE content_items SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating content item %s status: %w", id, err)
	}
	return nil
}

// ListContentItemsByStatus returns content items in scope for scheduling
// (approved, or draft if policy allows), for a project.
func ListContentItemsByStatus(ctx context.Context, db DBTX, projectID uuid.UUID, statuses []ContentStatus) ([]ContentItem, error) {
	rows, err := db.Query(ctx, `SELECT `+contentColumns+` FROM content_items
		WHERE project_id = $1 AND status = ANY($2) ORDER BY created_at ASC`, projectID, statuses)
	if err != nil {
		return nil, fmt.Errorf("listing content items by status: %w", err)
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning content item: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentTitles returns normalized titles of content created in a project
// within the last N days, for the duplicate_topic_days guardrail.
func RecentTitles(ctx context.Context, db DBTX, projectID uuid.UUID, since time.Time) ([]string, error) {
	rows, err := db.Query(ctx, `SELECT lower(trim(title)) FROM content_items
		WHERE project_id = $1 AND created_at >= $2`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("listing recent titles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning recent title: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetContentTemplate loads a template, verifying it belongs to the given
// tenant+project.
func GetContentTemplate(ctx context.Context, db DBTX, id, projectID uuid.UUID) (ContentTemplate, error) {
	var t ContentTemplate
	err := db.QueryRow(ctx, `SELECT id, tenant_id, project_id, name, prompt, created_at
		FROM content_templates WHERE id = $1 AND project_id = $2`, id, projectID).
		Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.Name, &t.Prompt, &t.CreatedAt)
	if err != nil {
		return ContentTemplate{}, fmt.Errorf("getting content template %s: %w", id, err)
	}
	return t, nil
}

// GetCampaign loads a campaign including its brand profile.
func GetCampaign(ctx context.Context, db DBTX, id uuid.UUID) (Campaign, error) {
	var c Campaign
	err := db.QueryRow(ctx, `SELECT id, tenant_id, project_id, name, brand_profile, created_at
		FROM campaigns WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.ProjectID, &c.Name, &c.BrandProfile, &c.CreatedAt)
	if err != nil {
		return Campaign{}, fmt.Errorf("getting campaign %s: %w", id, err)
	}
	return c, nil
}

// CreateApproval records an approval-gate decision for a content item.
func CreateApproval(ctx context.Context, db DBTX, tenantID, contentItemID uuid.UUID, status ApprovalStatus, reviewer, notes string) (Approval, error) {
	row := db.QueryRow(ctx, `INSERT INTO approvals (tenant_id, content_item_id, status, reviewer, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, tenant_id, content_item_id, status, reviewer, notes, created_at, updated_at`,
		tenantID, contentItemID, status, reviewer, notes)

	var a Approval
	if err := row.Scan(&a.ID, &a.TenantID, &a.ContentItemID, &a.Status, &a.Reviewer, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Approval{}, fmt.Errorf("creating approval: %w", err)
	}
	return a, nil
}

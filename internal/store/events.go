package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendPublishEvent writes one row to the append-only publish_events log.
// Events are only written inside the same transaction as the state
// transition they describe — callers must pass a tx-scoped DBTX.
func AppendPublishEvent(ctx context.Context, db DBTX, tenantID, postID uuid.UUID, channelID *uuid.UUID, eventType string, status EventStatus, attempt int, metadata any) (PublishEvent, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return PublishEvent{}, fmt.Errorf("marshaling event metadata: %w", err)
	}

	row := db.QueryRow(ctx, `INSERT INTO publish_events
		(tenant_id, post_id, channel_id, event_type, status, attempt, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, post_id, channel_id, event_type, status, attempt, metadata, created_at`,
		tenantID, postID, channelID, eventType, status, attempt, metaJSON)

	var e PublishEvent
	var metaRaw []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.PostID, &e.ChannelID, &e.EventType, &e.Status, &e.Attempt, &metaRaw, &e.CreatedAt); err != nil {
		return PublishEvent{}, fmt.Errorf("appending publish event: %w", err)
	}
	e.Metadata = metaRaw
	return e, nil
}

// LastAttempt returns the highest attempt number recorded for (post,
// channel), used to enforce strictly-increasing attempt numbers.
func LastAttempt(ctx context.Context, db DBTX, postID, channelID uuid.UUID) (int, error) {
	var n *int
	err := db.QueryRow(ctx, `SELECT max(attempt) FROM publish_events WHERE post_id = $1 AND channel_id = $2`,
		postID, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("getting last attempt for post %s channel %s: %w", postID, channelID, err)
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

// ConsecutiveFailures counts ChannelPublishFailed events for a channel
// within the last window with no intervening success, feeding the
// per-channel circuit breaker.
func ConsecutiveFailures(ctx context.Context, db DBTX, channelID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM publish_events
		WHERE channel_id = $1 AND event_type = $2 AND created_at >= $4
		AND created_at > COALESCE((
			SELECT max(created_at) FROM publish_events
			WHERE channel_id = $1 AND event_type = $3 AND created_at >= $4
		), '-infinity'::timestamptz)`,
		channelID, EvtChannelPublishFailed, EvtChannelPublishSuccess, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting consecutive failures for channel %s: %w", channelID, err)
	}
	return n, nil
}

// EventsAfter reads publish_events strictly after the cursor, ascending, for
// the event-rule scan.
func EventsAfter(ctx context.Context, db DBTX, after time.Time, limit int) ([]PublishEvent, error) {
	rows, err := db.Query(ctx, `SELECT id, tenant_id, post_id, channel_id, event_type, status, attempt, metadata, created_at
		FROM publish_events WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events after %s: %w", after, err)
	}
	defer rows.Close()

	var out []PublishEvent
	for rows.Next() {
		var e PublishEvent
		var metaRaw []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PostID, &e.ChannelID, &e.EventType, &e.Status, &e.Attempt, &metaRaw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning publish event: %w", err)
		}
		e.Metadata = metaRaw
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentPublishFailureRate computes the rolling publish-failure rate over a
// window, used by the global circuit breaker's auto-trip condition.
func RecentPublishFailureRate(ctx context.Context, db DBTX, since time.Time) (float64, error) {
	failed, total, err := RecentPublishCounts(ctx, db, since)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// RecentPublishCounts returns the raw failed/total publish outcome counts
// for a window in the caller's tenant schema. publish_events is tenant-scoped,
// so a platform-wide rate is the sum of each tenant's counts, not a single
// unscoped query — callers aggregating across tenants add these up before
// dividing.
func RecentPublishCounts(ctx context.Context, db DBTX, since time.Time) (failed, total int, err error) {
	err = db.QueryRow(ctx, `SELECT
			count(*) FILTER (WHERE event_type = $2),
			count(*) FILTER (WHERE event_type IN ($2, $3))
		FROM publish_events WHERE created_at >= $1`,
		since, EvtPostPublishFailed, EvtPostPublished).Scan(&failed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting publish outcomes: %w", err)
	}
	return failed, total, nil
}

// AppendAutomationEvent writes one row to the automation_events log.
func AppendAutomationEvent(ctx context.Context, db DBTX, tenantID, runID uuid.UUID, eventType string, detail any) (AutomationEvent, error) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return AutomationEvent{}, fmt.Errorf("marshaling automation event detail: %w", err)
	}
	row := db.QueryRow(ctx, `INSERT INTO automation_events (tenant_id, run_id, event_type, detail)
		VALUES ($1, $2, $3, $4) RETURNING id, tenant_id, run_id, event_type, detail, created_at`,
		tenantID, runID, eventType, detailJSON)

	var e AutomationEvent
	var detailRaw []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.RunID, &e.EventType, &detailRaw, &e.CreatedAt); err != nil {
		return AutomationEvent{}, fmt.Errorf("appending automation event: %w", err)
	}
	e.Detail = detailRaw
	return e, nil
}

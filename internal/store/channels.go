package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const channelColumns = `id, tenant_id, project_id, type, status, capabilities, sandbox, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var c Channel
	var capsRaw []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.ProjectID, &c.Type, &c.Status, &capsRaw, &c.Sandbox,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Channel{}, err
	}
	if len(capsRaw) > 0 {
		_ = json.Unmarshal(capsRaw, &c.Capabilities)
	}
	return c, nil
}

// GetChannel loads a channel by id.
func GetChannel(ctx context.Context, db DBTX, id uuid.UUID) (Channel, error) {
	row := db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	c, err := scanChannel(row)
	if err != nil {
		return Channel{}, fmt.Errorf("getting channel %s: %w", id, err)
	}
	return c, nil
}

// ListChannelsForProject returns the active delivery targets attached to a
// post's project — the Publisher delivers to each in turn.
func ListChannelsForProject(ctx context.Context, db DBTX, projectID uuid.UUID) ([]Channel, error) {
	rows, err := db.Query(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE project_id = $1 AND status = 'active' ORDER BY type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing channels for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChannelIDs returns every channel id in the caller's tenant schema,
// regardless of status. Used by the auto-recovery pass, which must inspect
// disabled channels too (a channel flaps back to active on enable, not on
// failure count alone).
func ListChannelIDs(ctx context.Context, db DBTX) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `SELECT id FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("listing channel ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning channel id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreateChannel attaches a new delivery target to a project. Uniqueness on
// (tenant, project, type) is enforced by a DB constraint.
func CreateChannel(ctx context.Context, db DBTX, tenantID, projectID uuid.UUID, typ ChannelType, caps Capabilities) (Channel, error) {
	capsJSON, _ := json.Marshal(caps)
	row := db.QueryRow(ctx, `INSERT INTO channels (tenant_id, project_id, type, status, capabilities)
		VALUES ($1, $2, $3, 'active', $4) RETURNING `+channelColumns,
		tenantID, projectID, typ, capsJSON)
	c, err := scanChannel(row)
	if err != nil {
		return Channel{}, fmt.Errorf("creating channel: %w", err)
	}
	return c, nil
}

// DisableChannel sets status=disabled, used by the circuit breaker and
// auto-recovery pass.
func DisableChannel(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE channels SET status = 'disabled', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("disabling channel %s: %w", id, err)
	}
	return nil
}

// EnableChannel re-enables a channel (manual operator action or successful
// credential refresh).
func EnableChannel(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE channels SET status = 'active', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("enabling channel %s: %w", id, err)
	}
	return nil
}

// SetChannelSandbox sets a deterministic sandbox scenario for test/demo
// environments.
func SetChannelSandbox(ctx context.Context, db DBTX, id uuid.UUID, scenario string) error {
	_, err := db.Exec(ctx, `UPDATE channels SET sandbox = $2, updated_at = now() WHERE id = $1`, id, scenario)
	if err != nil {
		return fmt.Errorf("setting sandbox scenario for channel %s: %w", id, err)
	}
	return nil
}

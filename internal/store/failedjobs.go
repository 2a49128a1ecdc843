package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateFailedJob records a job that exhausted its retry budget, landing it
// in the dead-letter queue for operator inspection.
func CreateFailedJob(ctx context.Context, db DBTX, tenantID uuid.UUID, queue string, payload, errMsg []byte) (FailedJob, error) {
	row := db.QueryRow(ctx, `INSERT INTO public.failed_jobs (tenant_id, queue, payload, error)
		VALUES ($1, $2, $3, $4)
		RETURNING id, tenant_id, queue, payload, error, created_at`,
		tenantID, queue, payload, string(errMsg))

	var j FailedJob
	if err := row.Scan(&j.ID, &j.TenantID, &j.Queue, &j.Payload, &j.Error, &j.CreatedAt); err != nil {
		return FailedJob{}, fmt.Errorf("creating failed job: %w", err)
	}
	return j, nil
}

// ListFailedJobs returns dead-lettered jobs for a queue, most recent first,
// for the operator API.
func ListFailedJobs(ctx context.Context, db DBTX, queue string, limit int) ([]FailedJob, error) {
	rows, err := db.Query(ctx, `SELECT id, tenant_id, queue, payload, error, created_at
		FROM public.failed_jobs WHERE queue = $1 ORDER BY created_at DESC LIMIT $2`, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed jobs for queue %q: %w", queue, err)
	}
	defer rows.Close()

	var out []FailedJob
	for rows.Next() {
		var j FailedJob
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Queue, &j.Payload, &j.Error, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning failed job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

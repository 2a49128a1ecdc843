package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const postColumns = `id, tenant_id, project_id, title, content, status, publish_at, last_error, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.TenantID, &p.ProjectID, &p.Title, &p.Content, &p.Status,
		&p.PublishAt, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetPost loads a single post by id, scoped to the tenant schema already set
// on db.
func GetPost(ctx context.Context, db DBTX, id uuid.UUID) (Post, error) {
	row := db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("getting post %s: %w", id, err)
	}
	return p, nil
}

// CreatePost inserts a new post in draft status.
func CreatePost(ctx context.Context, db DBTX, tenantID, projectID uuid.UUID, title, content string) (Post, error) {
	row := db.QueryRow(ctx, `INSERT INTO posts (tenant_id, project_id, title, content, status)
		VALUES ($1, $2, $3, $4, 'draft') RETURNING `+postColumns,
		tenantID, projectID, title, content)
	p, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("creating post: %w", err)
	}
	return p, nil
}

// SchedulePost transitions a post to scheduled with a publish_at timestamp.
// status=scheduled implies publish_at != NULL.
func SchedulePost(ctx context.Context, db DBTX, id uuid.UUID, publishAt time.Time) error {
	tag, err := db.Exec(ctx, `UPDATE posts SET status = 'scheduled', publish_at = $2, updated_at = now()
		WHERE id = $1`, id, publishAt)
	if err != nil {
		return fmt.Errorf("scheduling post %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduling post %s: not found", id)
	}
	return nil
}

// ListDuePosts selects posts ready for dispatch using SELECT ... FOR UPDATE
// SKIP LOCKED, so multiple scheduler instances can race safely.
// Must be called with a transaction (tx) so the FOR UPDATE lock is held
// until the caller commits.
func ListDuePosts(ctx context.Context, tx DBTX, now time.Time, limit int) ([]Post, error) {
	rows, err := tx.Query(ctx, `SELECT `+postColumns+` FROM posts
		WHERE status = 'scheduled' AND publish_at <= $1
		ORDER BY publish_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning due post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransitionToPublishing flips status=scheduled -> publishing. Only the
// scheduler calls this.
func TransitionToPublishing(ctx context.Context, tx DBTX, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE posts SET status = 'publishing', updated_at = now()
		WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("transitioning post %s to publishing: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transitioning post %s to publishing: not in scheduled status", id)
	}
	return nil
}

// RevertToScheduled reverts a post from publishing back to scheduled,
// advancing publish_at to publishAt so the scheduler doesn't re-dispatch it
// before the caller's backoff has elapsed.
func RevertToScheduled(ctx context.Context, db DBTX, id uuid.UUID, publishAt time.Time, lastError string) error {
	_, err := db.Exec(ctx, `UPDATE posts SET status = 'scheduled', publish_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, publishAt, lastError)
	if err != nil {
		return fmt.Errorf("reverting post %s to scheduled: %w", id, err)
	}
	return nil
}

// FinishPost sets the terminal status (published, published_partial, or
// failed) and optional last_error. Only the publisher calls this.
func FinishPost(ctx context.Context, db DBTX, id uuid.UUID, status PostStatus, lastError *string) error {
	_, err := db.Exec(ctx, `UPDATE posts SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("finishing post %s as %s: %w", id, status, err)
	}
	return nil
}

// CountPostsCreatedToday counts posts created today (UTC) in a project, used
// by the max_posts_per_day_project guardrail.
func CountPostsCreatedToday(ctx context.Context, db DBTX, projectID uuid.UUID, now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM posts WHERE project_id = $1 AND created_at >= $2`,
		projectID, dayStart).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting posts created today: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrAlreadyPublished signals that the (tenant, post, channel) uniqueness
// constraint already holds a row.
var ErrAlreadyPublished = errors.New("store: channel publication already exists")

// GetChannelPublication returns the existing publication for (post, channel)
// if one exists, used for the idempotency pre-flight check.
func GetChannelPublication(ctx context.Context, db DBTX, postID, channelID uuid.UUID) (ChannelPublication, bool, error) {
	var p ChannelPublication
	var metaRaw []byte
	err := db.QueryRow(ctx, `SELECT id, tenant_id, post_id, channel_id, external_post_id, metadata, created_at
		FROM channel_publications WHERE post_id = $1 AND channel_id = $2`, postID, channelID).
		Scan(&p.ID, &p.TenantID, &p.PostID, &p.ChannelID, &p.ExternalPostID, &metaRaw, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChannelPublication{}, false, nil
	}
	if err != nil {
		return ChannelPublication{}, false, fmt.Errorf("getting channel publication: %w", err)
	}
	p.Metadata = metaRaw
	return p, true, nil
}

// CreateChannelPublication records a successful delivery. The unique
// constraint on (tenant, post, channel) is the ultimate at-most-once guard
// even if the per-post lock were somehow lost.
func CreateChannelPublication(ctx context.Context, db DBTX, tenantID, postID, channelID uuid.UUID, externalPostID string, metadata any) (ChannelPublication, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return ChannelPublication{}, fmt.Errorf("marshaling publication metadata: %w", err)
	}

	row := db.QueryRow(ctx, `INSERT INTO channel_publications
		(tenant_id, post_id, channel_id, external_post_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, post_id, channel_id) DO NOTHING
		RETURNING id, tenant_id, post_id, channel_id, external_post_id, metadata, created_at`,
		tenantID, postID, channelID, externalPostID, metaJSON)

	var p ChannelPublication
	var metaRaw []byte
	if err := row.Scan(&p.ID, &p.TenantID, &p.PostID, &p.ChannelID, &p.ExternalPostID, &metaRaw, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelPublication{}, ErrAlreadyPublished
		}
		return ChannelPublication{}, fmt.Errorf("creating channel publication: %w", err)
	}
	p.Metadata = metaRaw
	return p, nil
}

// CreateWebsitePublication records a website-channel delivery with its
// tenant-unique slug.
func CreateWebsitePublication(ctx context.Context, db DBTX, tenantID, postID, channelID uuid.UUID, slug string) (WebsitePublication, error) {
	row := db.QueryRow(ctx, `INSERT INTO website_publications (tenant_id, post_id, channel_id, slug)
		VALUES ($1, $2, $3, $4) RETURNING id, tenant_id, post_id, channel_id, slug, created_at`,
		tenantID, postID, channelID, slug)

	var w WebsitePublication
	if err := row.Scan(&w.ID, &w.TenantID, &w.PostID, &w.ChannelID, &w.Slug, &w.CreatedAt); err != nil {
		return WebsitePublication{}, fmt.Errorf("creating website publication: %w", err)
	}
	return w, nil
}

// CountChannelPublications returns how many of a post's channels already
// have a successful publication, used for the published vs published_partial
// aggregation decision.
func CountChannelPublications(ctx context.Context, db DBTX, postID uuid.UUID) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM channel_publications WHERE post_id = $1`, postID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting channel publications: %w", err)
	}
	return n, nil
}

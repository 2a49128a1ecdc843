// Package eventlog is a thin wrapper enforcing that publish and automation
// events are only ever appended through a transaction-scoped handle,
// distinct from internal/audit's best-effort operator-action log. Readers
// rebuild state from this stream with no gaps only if every writer goes
// through here instead of calling internal/store directly.
package eventlog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/northflare/postflow/internal/store"
)

// Log appends events within a single transaction.
type Log struct {
	tx pgx.Tx
}

// New wraps a transaction the caller has already opened (the publisher and
// automation runtime begin it on their tenant-scoped connection) — Log
// never manages its own transaction lifecycle.
func New(tx pgx.Tx) *Log {
	return &Log{tx: tx}
}

// Publish appends a PublishEvent.
func (l *Log) Publish(ctx context.Context, tenantID, postID uuid.UUID, channelID *uuid.UUID, eventType string, status store.EventStatus, attempt int, metadata any) error {
	_, err := store.AppendPublishEvent(ctx, l.tx, tenantID, postID, channelID, eventType, status, attempt, metadata)
	return err
}

// Automation appends an AutomationEvent.
func (l *Log) Automation(ctx context.Context, tenantID, runID uuid.UUID, eventType string, detail any) error {
	_, err := store.AppendAutomationEvent(ctx, l.tx, tenantID, runID, eventType, detail)
	return err
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry records one operator action against a tenant's data, written
// by internal/audit's buffered writer.
type AuditLogEntry struct {
	ID         uuid.UUID
	Actor      string
	Action     string
	Resource   string
	ResourceID uuid.UUID
	Detail     json.RawMessage
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// CreateAuditLogEntry inserts one audit entry. db must already be scoped to
// the tenant's schema (see Store.WithTenant) — audit_log is a tenant table,
// not a shared one, so an operator can only ever see their own tenant's
// history even with raw database access.
func CreateAuditLogEntry(ctx context.Context, db DBTX, actor, action, resource string, resourceID uuid.UUID, detail json.RawMessage, ip netip.Addr, userAgent string) error {
	var ipArg any
	if ip.IsValid() {
		ipArg = ip.String()
	}
	var resourceIDArg any
	if resourceID != uuid.Nil {
		resourceIDArg = resourceID
	}
	if detail == nil {
		detail = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `INSERT INTO audit_log
		(actor, action, resource, resource_id, detail, ip_address, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		actor, action, resource, resourceIDArg, detail, ipArg, userAgent)
	if err != nil {
		return fmt.Errorf("creating audit log entry: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ListTenants returns every provisioned tenant, used by beats that fan out
// per-tenant (scheduler passes, auto-recovery, risk scoring).
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, slug FROM public.tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		t.Schema = SchemaName(t.Slug)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTenantBySlug resolves a tenant by slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	var t Tenant
	err := s.Pool.QueryRow(ctx, `SELECT id, name, slug FROM public.tenants WHERE slug = $1`, slug).
		Scan(&t.ID, &t.Name, &t.Slug)
	if err != nil {
		return Tenant{}, fmt.Errorf("getting tenant %q: %w", slug, err)
	}
	t.Schema = SchemaName(slug)
	return t, nil
}

// SchemaName returns the PostgreSQL schema name for a tenant slug.
func SchemaName(slug string) string {
	return "tenant_" + slug
}

// CreateTenant inserts the global tenant row. Schema creation and tenant
// migrations are the caller's responsibility (pkg/tenant.Provisioner).
func (s *Store) CreateTenant(ctx context.Context, name, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO public.tenants (name, slug) VALUES ($1, $2) RETURNING id`,
		name, slug,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating tenant: %w", err)
	}
	return id, nil
}

// DeleteTenant removes the global tenant row.
func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM public.tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	return nil
}

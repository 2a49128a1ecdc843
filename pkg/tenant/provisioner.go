package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northflare/postflow/internal/platform"
	"github.com/northflare/postflow/internal/store"
)

// slugPattern restricts tenant slugs to safe identifiers for schema names.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Provisioner handles creating and destroying tenant schemas.
type Provisioner struct {
	DB            *pgxpool.Pool
	Store         *store.Store
	DatabaseURL   string
	MigrationsDir string // path to tenant migration files
	Logger        *slog.Logger
}

// Provision creates a new tenant: inserts the global record, creates the
// PostgreSQL schema, and runs tenant migrations against it.
func (p *Provisioner) Provision(ctx context.Context, name, slug string) (*Info, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid tenant slug %q: must match %s", slug, slugPattern.String())
	}

	id, err := p.Store.CreateTenant(ctx, name, slug)
	if err != nil {
		return nil, fmt.Errorf("inserting tenant record: %w", err)
	}

	schema := store.SchemaName(slug)

	// Create the tenant schema. The slug is validated above so this is safe.
	if _, err := p.DB.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		_ = p.Store.DeleteTenant(ctx, id)
		return nil, fmt.Errorf("creating schema %s: %w", schema, err)
	}

	tenantURL, err := withSearchPath(p.DatabaseURL, schema)
	if err != nil {
		return nil, fmt.Errorf("building tenant database URL: %w", err)
	}

	if err := platform.RunTenantMigrations(tenantURL, p.MigrationsDir); err != nil {
		_, _ = p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		_ = p.Store.DeleteTenant(ctx, id)
		return nil, fmt.Errorf("running tenant migrations: %w", err)
	}

	p.Logger.Info("tenant provisioned", "tenant_id", id, "slug", slug, "schema", schema)

	return &Info{ID: id, Name: name, Slug: slug, Schema: schema}, nil
}

// Deprovision drops the tenant schema and removes the global record.
func (p *Provisioner) Deprovision(ctx context.Context, slug string) error {
	schema := store.SchemaName(slug)

	if _, err := p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}

	t, err := p.Store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("looking up tenant %q: %w", slug, err)
	}

	if err := p.Store.DeleteTenant(ctx, t.ID); err != nil {
		return fmt.Errorf("deleting tenant record: %w", err)
	}

	p.Logger.Info("tenant deprovisioned", "slug", slug, "schema", schema)
	return nil
}

// WithSearchPath appends search_path=<schema> to a PostgreSQL connection
// URL. Exported so callers outside this package (the migrate process) can
// build a tenant-scoped connection string without duplicating the query
// param logic.
func WithSearchPath(databaseURL, schema string) (string, error) {
	return withSearchPath(databaseURL, schema)
}

// withSearchPath appends search_path=<schema> to a PostgreSQL connection URL.
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

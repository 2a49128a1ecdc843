package tenant

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/northflare/postflow/internal/store"
)

// Resolver identifies the tenant slug for the current request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver resolves the tenant from the X-Tenant-Slug header. It is
// the only Resolver in this repository; no route resolves the tenant from a
// webhook payload.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	slug := r.Header.Get("X-Tenant-Slug")
	if slug == "" {
		return "", fmt.Errorf("missing X-Tenant-Slug header")
	}
	return slug, nil
}

// Middleware resolves the tenant via resolver, looks it up, acquires a
// connection pinned to its schema via store.WithTenant, and stashes both
// Info and the connection in the request context for downstream handlers.
// The connection is released once the handler returns.
func Middleware(st *store.Store, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, err := resolver.Resolve(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			t, err := st.GetTenantBySlug(r.Context(), slug)
			if err != nil {
				logger.Warn("resolving tenant", "slug", slug, "error", err)
				http.Error(w, "unknown tenant", http.StatusNotFound)
				return
			}

			conn, err := st.WithTenant(r.Context(), t.Schema)
			if err != nil {
				logger.Error("acquiring tenant connection", "slug", slug, "error", err)
				http.Error(w, "tenant unavailable", http.StatusServiceUnavailable)
				return
			}
			defer conn.Release()

			info := &Info{ID: t.ID, Name: t.Name, Slug: t.Slug, Schema: t.Schema}
			ctx := NewContext(r.Context(), info)
			ctx = NewConnContext(ctx, conn)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

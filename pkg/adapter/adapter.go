// Package adapter defines the channel delivery interface implemented by
// each social/publishing platform and a registry keyed by channel type,
// generalized from the teacher's messaging.Provider/Registry pair.
package adapter

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
)

// Content is the platform-agnostic payload a caller wants published. Not
// every adapter can render every field — Capabilities advertises what a
// given channel supports, and the publisher is responsible for checking
// before calling Publish.
type Content struct {
	Title     string
	Body      string
	Hashtags  []string
	CTA       string
	MediaURLs []string
	Slug      string // website-channel only
}

// Result is what a successful publish returns for persistence.
type Result struct {
	ExternalPostID string
	Metadata       map[string]any
}

// Adapter is implemented by each concrete channel (website, linkedin,
// facebook, instagram, tiktok, threads, x, pinterest).
type Adapter interface {
	// Type returns the channel type this adapter serves.
	Type() store.ChannelType

	// Capabilities describes what content shapes this channel accepts.
	Capabilities() store.Capabilities

	// ValidateCredentials performs a cheap upstream check that the given
	// token is still usable (e.g. a "whoami" call).
	ValidateCredentials(ctx context.Context, tok oauth2.Token) error

	// RefreshCredentials exchanges a refresh token for a new access token.
	// Returns the zero Token and a nil error if the platform does not
	// support refresh (the caller should treat the existing token as
	// long-lived).
	RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error)

	// Publish delivers content to the platform using tok, returning the
	// upstream post identifier on success. sandbox, when non-empty,
	// short-circuits the network call with a deterministic scenario
	// (simulate_success, simulate_rate_limit, simulate_auth_error) for
	// test and demo tenants.
	Publish(ctx context.Context, tok oauth2.Token, content Content, sandbox string) (Result, error)
}

// Registry holds all available channel adapters, keyed by channel type.
type Registry struct {
	adapters map[store.ChannelType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[store.ChannelType]Adapter)}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(t store.ChannelType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

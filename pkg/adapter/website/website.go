// Package website implements adapter.Adapter for the tenant's own site,
// the one channel that never requires an external OAuth token.
package website

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/pkg/adapter"
)

// Adapter publishes content as a page on the configured site via a simple
// webhook-shaped POST, the same integration style the teacher uses for
// outbound notifications.
type Adapter struct {
	httpClient *http.Client
	baseURL    string // publish endpoint, one per Adapter and shared by every tenant
}

// New creates a website Adapter posting to baseURL.
func New(baseURL string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}, baseURL: baseURL}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelWebsite }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: true, Image: true, Video: true, MaxLength: 100000}
}

// ValidateCredentials is a no-op: the website channel authenticates with a
// static deploy token baked into baseURL, not an OAuth credential.
func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error { return nil }

// RefreshCredentials is unsupported; the website channel never expires.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	return oauth2.Token{}, nil
}

type publishPayload struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Slug     string   `json:"slug"`
	Hashtags []string `json:"hashtags,omitempty"`
}

func (a *Adapter) Publish(ctx context.Context, tok oauth2.Token, content adapter.Content, sandbox string) (adapter.Result, error) {
	if handled, res, err := adapter.ApplySandbox(sandbox, string(a.Type())); handled {
		return res, err
	}

	body, err := json.Marshal(publishPayload{
		Title:    content.Title,
		Body:     content.Body,
		Slug:     content.Slug,
		Hashtags: content.Hashtags,
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("marshaling website payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return adapter.Result{}, fmt.Errorf("building website publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to website: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("website publish failed with status %d", resp.StatusCode)
	}

	return adapter.Result{ExternalPostID: content.Slug, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

// Package instagram implements adapter.Adapter for Instagram's content
// publishing API (container create + publish, Graph API family).
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/pkg/adapter"
)

const graphBase = "https://graph.facebook.com/v19.0"

// Adapter publishes image/reel posts to a connected Instagram business
// account. Instagram requires media; a text-only Content is rejected.
type Adapter struct {
	httpClient   *http.Client
	igUserID     string
}

// New creates an Instagram Adapter publishing as igUserID.
func New(igUserID string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 20 * time.Second}, igUserID: igUserID}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelInstagram }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: false, Image: true, Video: true, Reels: true, MaxLength: 2200}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, graphBase+"/"+a.igUserID+"?fields=id")
	if err != nil {
		return fmt.Errorf("validating instagram credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("instagram credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials is unsupported: Instagram shares Facebook's long-lived
// token exchange, handled at the Facebook connector level.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	return oauth2.Token{}, nil
}

func (a *Adapter) Publish(ctx context.Context, tok oauth2.Token, content adapter.Content, sandbox string) (adapter.Result, error) {
	if handled, res, err := adapter.ApplySandbox(sandbox, string(a.Type())); handled {
		return res, err
	}
	if len(content.MediaURLs) == 0 {
		return adapter.Result{}, fmt.Errorf("instagram requires at least one media URL")
	}

	caption := content.Body
	if content.CTA != "" {
		caption += "\n\n" + content.CTA
	}
	for _, h := range content.Hashtags {
		caption += " #" + h
	}

	containerResp, err := adapter.PostJSON(ctx, a.httpClient, tok, graphBase+"/"+a.igUserID+"/media", map[string]any{
		"image_url": content.MediaURLs[0],
		"caption":   caption,
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("creating instagram media container: %w", err)
	}
	defer containerResp.Body.Close()
	if containerResp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("instagram container creation failed: status %d", containerResp.StatusCode)
	}

	var container struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(containerResp.Body).Decode(&container); err != nil {
		return adapter.Result{}, fmt.Errorf("decoding instagram container response: %w", err)
	}

	publishResp, err := adapter.PostJSON(ctx, a.httpClient, tok, graphBase+"/"+a.igUserID+"/media_publish", map[string]any{
		"creation_id": container.ID,
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing instagram container: %w", err)
	}
	defer publishResp.Body.Close()
	if publishResp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("instagram publish failed: status %d", publishResp.StatusCode)
	}

	var published struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(publishResp.Body).Decode(&published)

	return adapter.Result{ExternalPostID: published.ID, Metadata: map[string]any{"container_id": container.ID}}, nil
}

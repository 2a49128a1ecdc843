// Package threads implements adapter.Adapter for Meta's Threads API
// (container create + publish, similar shape to Instagram's).
package threads

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

const apiBase = "https://graph.threads.net/v1.0"

// Adapter publishes text and image posts to a connected Threads profile.
type Adapter struct {
	httpClient *http.Client
	userID     string
}

// New creates a Threads Adapter publishing as userID.
func New(userID string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}, userID: userID}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelThreads }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: true, Image: true, Video: true, MaxLength: 500}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, apiBase+"/"+a.userID+"?fields=id")
	if err != nil {
		return fmt.Errorf("validating threads credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("threads credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials exchanges a short-lived Threads token for a long-lived
// one, mirroring the Graph API token-exchange shape.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, apiBase+"/refresh_access_token?grant_type=th_refresh_token")
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refreshing threads token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oauth2.Token{}, fmt.Errorf("threads token refresh failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding threads token refresh: %w", err)
	}

	return oauth2.Token{
		AccessToken: out.AccessToken,
		Expiry:      time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

func (a *Adapter) Publish(ctx context.Context, tok oauth2.Token, content adapter.Content, sandbox string) (adapter.Result, error) {
	if handled, res, err := adapter.ApplySandbox(sandbox, string(a.Type())); handled {
		return res, err
	}

	payload := map[string]any{"text": composeText(content), "media_type": "TEXT"}
	if len(content.MediaURLs) > 0 {
		payload["media_type"] = "IMAGE"
		payload["image_url"] = content.MediaURLs[0]
	}

	containerResp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/"+a.userID+"/threads", payload)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("creating threads container: %w", err)
	}
	defer containerResp.Body.Close()
	if containerResp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("threads container creation failed: status %d", containerResp.StatusCode)
	}

	var container struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(containerResp.Body).Decode(&container); err != nil {
		return adapter.Result{}, fmt.Errorf("decoding threads container response: %w", err)
	}

	publishResp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/"+a.userID+"/threads_publish", map[string]any{
		"creation_id": container.ID,
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing threads container: %w", err)
	}
	defer publishResp.Body.Close()
	if publishResp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("threads publish failed: status %d", publishResp.StatusCode)
	}

	var published struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(publishResp.Body).Decode(&published)

	return adapter.Result{ExternalPostID: published.ID, Metadata: map[string]any{"container_id": container.ID}}, nil
}

func composeText(c adapter.Content) string {
	text := c.Body
	if c.CTA != "" {
		text += "\n\n" + c.CTA
	}
	for _, h := range c.Hashtags {
		text += " #" + h
	}
	return text
}

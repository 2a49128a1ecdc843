// Package tiktok implements adapter.Adapter for TikTok's Content Posting
// API (video-only).
package tiktok

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

const apiBase = "https://open.tiktokapis.com/v2"

// Adapter publishes short-form video to a connected TikTok creator account.
type Adapter struct {
	httpClient *http.Client
}

// New creates a TikTok Adapter.
func New() *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelTikTok }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: false, Video: true, Shorts: true, MaxLength: 2200}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, apiBase+"/user/info/?fields=open_id")
	if err != nil {
		return fmt.Errorf("validating tiktok credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("tiktok credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials exchanges a TikTok refresh token for a new access
// token via the standard OAuth2 refresh grant.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return oauth2.Token{}, fmt.Errorf("tiktok: no refresh token available")
	}
	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/oauth/token/", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": tok.RefreshToken,
	})
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refreshing tiktok token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oauth2.Token{}, fmt.Errorf("tiktok token refresh failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding tiktok token refresh: %w", err)
	}

	return oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

func (a *Adapter) Publish(ctx context.Context, tok oauth2.Token, content adapter.Content, sandbox string) (adapter.Result, error) {
	if handled, res, err := adapter.ApplySandbox(sandbox, string(a.Type())); handled {
		return res, err
	}
	if len(content.MediaURLs) == 0 {
		return adapter.Result{}, fmt.Errorf("tiktok requires a video URL")
	}

	caption := content.Body
	for _, h := range content.Hashtags {
		caption += " #" + h
	}

	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/post/publish/video/init/", map[string]any{
		"post_info": map[string]any{"title": caption},
		"source_info": map[string]any{
			"source":   "PULL_FROM_URL",
			"video_url": content.MediaURLs[0],
		},
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to tiktok: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("tiktok publish failed: status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return adapter.Result{ExternalPostID: out.Data.PublishID, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

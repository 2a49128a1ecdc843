// Package xplatform implements adapter.Adapter for X (formerly Twitter)'s
// v2 Posts API.
package xplatform

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

const apiBase = "https://api.x.com/2"

// Adapter publishes short text posts to a connected X account.
type Adapter struct {
	httpClient *http.Client
}

// New creates an X Adapter.
func New() *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelX }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: true, Image: true, Video: true, MaxLength: 280}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, apiBase+"/users/me")
	if err != nil {
		return fmt.Errorf("validating x credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("x credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials exchanges an X refresh token for a new access token.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return oauth2.Token{}, fmt.Errorf("x: no refresh token available")
	}
	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/oauth2/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": tok.RefreshToken,
	})
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refreshing x token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oauth2.Token{}, fmt.Errorf("x token refresh failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding x token refresh: %w", err)
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

	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/tweets", map[string]any{
		"text": composeText(content),
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to x: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("x publish failed: status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return adapter.Result{ExternalPostID: out.Data.ID, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

func composeText(c adapter.Content) string {
	text := c.Body
	for _, h := range c.Hashtags {
		text += " #" + h
	}
	if len(text) > 280 {
		text = text[:277] + "..."
	}
	return text
}

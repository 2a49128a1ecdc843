// Package pinterest implements adapter.Adapter for Pinterest's Pins API.
package pinterest

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

const apiBase = "https://api.pinterest.com/v5"

// Adapter publishes image pins to a connected Pinterest board.
type Adapter struct {
	httpClient *http.Client
	boardID    string
}

// New creates a Pinterest Adapter publishing to boardID.
func New(boardID string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}, boardID: boardID}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelPinterest }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: false, Image: true, MaxLength: 500}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, apiBase+"/user_account")
	if err != nil {
		return fmt.Errorf("validating pinterest credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("pinterest credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials exchanges a Pinterest refresh token for a new access
// token.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return oauth2.Token{}, fmt.Errorf("pinterest: no refresh token available")
	}
	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/oauth/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": tok.RefreshToken,
	})
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refreshing pinterest token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oauth2.Token{}, fmt.Errorf("pinterest token refresh failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding pinterest token refresh: %w", err)
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
	if len(content.MediaURLs) == 0 {
		return adapter.Result{}, fmt.Errorf("pinterest requires an image URL")
	}

	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, apiBase+"/pins", map[string]any{
		"board_id":    a.boardID,
		"title":       content.Title,
		"description": content.Body,
		"media_source": map[string]any{
			"source_type": "image_url",
			"url":         content.MediaURLs[0],
		},
	})
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to pinterest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("pinterest publish failed: status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return adapter.Result{ExternalPostID: out.ID, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

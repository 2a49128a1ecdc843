// Package facebook implements adapter.Adapter for Facebook Page posts via
// the Graph API.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/pkg/adapter"
)

const graphBase = "https://graph.facebook.com/v19.0"

// Adapter publishes posts to a connected Facebook Page.
type Adapter struct {
	httpClient *http.Client
	pageID     string
}

// New creates a Facebook Adapter publishing to pageID.
func New(pageID string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}, pageID: pageID}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelFacebook }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: true, Image: true, Video: true, MaxLength: 63206}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, graphBase+"/"+a.pageID+"?fields=id")
	if err != nil {
		return fmt.Errorf("validating facebook credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("facebook credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials exchanges a short-lived Facebook token for a long-lived
// one via the standard Graph API token exchange.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	q := url.Values{"grant_type": {"fb_exchange_token"}, "fb_exchange_token": {tok.AccessToken}}
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, graphBase+"/oauth/access_token?"+q.Encode())
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refreshing facebook token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oauth2.Token{}, fmt.Errorf("facebook token exchange failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding facebook token exchange: %w", err)
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

	payload := map[string]any{"message": composeMessage(content)}
	if len(content.MediaURLs) > 0 {
		payload["link"] = content.MediaURLs[0]
	}

	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, graphBase+"/"+a.pageID+"/feed", payload)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to facebook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return adapter.Result{}, fmt.Errorf("facebook publish failed: status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return adapter.Result{ExternalPostID: out.ID, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

func composeMessage(c adapter.Content) string {
	msg := c.Body
	if c.CTA != "" {
		msg += "\n\n" + c.CTA
	}
	for _, h := range c.Hashtags {
		msg += " #" + h
	}
	return msg
}

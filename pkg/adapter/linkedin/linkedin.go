// Package linkedin implements adapter.Adapter for LinkedIn's UGC Posts API.
package linkedin

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

const (
	apiBase  = "https://api.linkedin.com/v2"
	whoamiURL = apiBase + "/me"
	postsURL  = apiBase + "/ugcPosts"
)

// Adapter publishes text and media posts to LinkedIn on behalf of a
// connected organization or member.
type Adapter struct {
	httpClient *http.Client
	authorURN  string
}

// New creates a LinkedIn Adapter posting as authorURN (an org or member
// URN resolved at connect time).
func New(authorURN string) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 15 * time.Second}, authorURN: authorURN}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelLinkedIn }

func (a *Adapter) Capabilities() store.Capabilities {
	return store.Capabilities{Text: true, Image: true, Video: true, MaxLength: 3000}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, tok oauth2.Token) error {
	resp, err := adapter.GetJSON(ctx, a.httpClient, tok, whoamiURL)
	if err != nil {
		return fmt.Errorf("validating linkedin credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("linkedin credentials rejected: status %d", resp.StatusCode)
	}
	return nil
}

// RefreshCredentials is unsupported in this adapter: LinkedIn's refresh
// flow runs through the shared OAuth2 client at the connect-handshake
// layer, not per-publish.
func (a *Adapter) RefreshCredentials(ctx context.Context, tok oauth2.Token) (oauth2.Token, error) {
	return oauth2.Token{}, nil
}

type ugcPostRequest struct {
	Author         string `json:"author"`
	LifecycleState string `json:"lifecycleState"`
	Specific       struct {
		ShareContent struct {
			ShareCommentary struct {
				Text string `json:"text"`
			} `json:"shareCommentary"`
			ShareMediaCategory string `json:"shareMediaCategory"`
		} `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
}

func (a *Adapter) Publish(ctx context.Context, tok oauth2.Token, content adapter.Content, sandbox string) (adapter.Result, error) {
	if handled, res, err := adapter.ApplySandbox(sandbox, string(a.Type())); handled {
		return res, err
	}

	req := ugcPostRequest{Author: a.authorURN, LifecycleState: "PUBLISHED"}
	req.Specific.ShareContent.ShareCommentary.Text = composeBody(content)
	if len(content.MediaURLs) > 0 {
		req.Specific.ShareContent.ShareMediaCategory = "IMAGE"
	} else {
		req.Specific.ShareContent.ShareMediaCategory = "NONE"
	}

	resp, err := adapter.PostJSON(ctx, a.httpClient, tok, postsURL, req)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("publishing to linkedin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return adapter.Result{}, classifyStatus(resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return adapter.Result{ExternalPostID: out.ID, Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

func composeBody(c adapter.Content) string {
	body := c.Body
	if c.CTA != "" {
		body += "\n\n" + c.CTA
	}
	for _, h := range c.Hashtags {
		body += " #" + h
	}
	return body
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("linkedin auth error: status %d", status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("linkedin rate limit: status %d", status)
	default:
		return fmt.Errorf("linkedin server error: status %d", status)
	}
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// PostJSON issues an OAuth2-authenticated POST with a JSON body, shared by
// every concrete platform adapter so the bearer-token plumbing isn't
// repeated eight times.
func PostJSON(ctx context.Context, client *http.Client, tok oauth2.Token, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	return client.Do(req)
}

// GetJSON issues an OAuth2-authenticated GET, used by ValidateCredentials
// "whoami" checks.
func GetJSON(ctx context.Context, client *http.Client, tok oauth2.Token, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	return client.Do(req)
}

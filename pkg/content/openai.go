package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIGenerator implements ContentGenerator against an OpenAI-compatible
// chat completions endpoint. There is no ecosystem Go SDK for this API
// wired anywhere in the retrieval pack, so this talks to it directly over
// net/http — the same way the original Python service's OpenAIProvider
// does with httpx, just without an httpx-equivalent library to reach for.
type OpenAIGenerator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIGenerator creates a generator against baseURL (e.g.
// "https://api.openai.com/v1") using apiKey and model.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []chatMessage     `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a deterministic social media content generator. " +
	"Return ONLY strict JSON with fields title, body, hashtags, cta — never markdown."

// Generate calls the chat completions endpoint once and decodes its JSON
// content into a GeneratedPost. Validation and correction retries are the
// caller's responsibility (see GenerateWithRetry).
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (GeneratedPost, error) {
	if g.apiKey == "" {
		return GeneratedPost{}, fmt.Errorf("openai generator: no API key configured")
	}

	reqBody := chatRequest{
		Model:          g.model,
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return GeneratedPost{}, fmt.Errorf("marshaling openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return GeneratedPost{}, fmt.Errorf("building openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return GeneratedPost{}, fmt.Errorf("calling openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return GeneratedPost{}, fmt.Errorf("openai api error %d: %s", resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GeneratedPost{}, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return GeneratedPost{}, fmt.Errorf("openai returned no content")
	}

	var post GeneratedPost
	if err := json.Unmarshal([]byte(out.Choices[0].Message.Content), &post); err != nil {
		return GeneratedPost{}, fmt.Errorf("decoding generated post JSON: %w", err)
	}
	return post, nil
}

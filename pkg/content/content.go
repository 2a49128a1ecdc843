// Package content renders automation content-generation prompts from
// campaign/template data and validates the structured result a
// ContentGenerator returns, with a bounded correction-retry loop for
// generators that return a shape the schema rejects.
package content

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/go-playground/validator/v10"
)

// GeneratedPost is the structured shape a ContentGenerator must produce.
// Field tags are enforced by go-playground/validator before the result is
// allowed to become a content_items row.
type GeneratedPost struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Body      string   `json:"body" validate:"required,max=10000"`
	Hashtags  []string `json:"hashtags" validate:"max=30,dive,max=50"`
	CTA       string   `json:"cta" validate:"max=500"`
	Channels  []string `json:"channels" validate:"max=8,dive,max=50"`
	RiskFlags []string `json:"risk_flags" validate:"max=20,dive,max=100"`
}

// ContentGenerator is implemented by whatever backs automation's
// generate_post action — a hosted LLM API, a local model server, or (in
// sandboxed tenants) a canned responder.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (GeneratedPost, error)
}

var validate = validator.New()

// RenderPrompt fills a content template against campaign brand-profile and
// rule action-config data. Templates use Go's text/template so authors can
// reference brand fields (`{{.Brand.Tone}}`) without the engine interpreting
// arbitrary expressions.
func RenderPrompt(templateBody string, data map[string]any) (string, error) {
	tmpl, err := template.New("content_prompt").Parse(templateBody)
	if err != nil {
		return "", fmt.Errorf("parsing content template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering content template: %w", err)
	}
	return buf.String(), nil
}

// Validate checks a generated post against its structural schema.
func Validate(p GeneratedPost) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("generated post failed validation: %w", err)
	}
	return nil
}

// CorrectionPrompt builds the follow-up prompt sent back to the generator
// after a validation failure, asking it to fix the specific problem instead
// of regenerating from scratch.
func CorrectionPrompt(original string, validationErr error) string {
	return fmt.Sprintf("%s\n\nYour previous response did not match the required shape: %s. Return corrected JSON only.",
		original, validationErr.Error())
}

// GenerateWithRetry calls gen.Generate at most maxAttempts times in total,
// switching to a correction prompt whenever the result fails validation and
// retrying with the same prompt when the generator itself errors.
func GenerateWithRetry(ctx context.Context, gen ContentGenerator, prompt string, maxAttempts int) (GeneratedPost, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		post, err := gen.Generate(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		if err := Validate(post); err != nil {
			lastErr = err
			prompt = CorrectionPrompt(prompt, err)
			continue
		}
		return post, nil
	}
	return GeneratedPost{}, fmt.Errorf("content generation failed after %d attempts: %w", maxAttempts, lastErr)
}

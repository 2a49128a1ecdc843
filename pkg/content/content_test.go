package content

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRenderPrompt(t *testing.T) {
	tmpl := "Write a post for {{.Brand}} about {{.Topic}} in a {{.Tone}} tone."
	data := map[string]any{"Brand": "Acme", "Topic": "Q1 launch", "Tone": "upbeat"}

	got, err := RenderPrompt(tmpl, data)
	if err != nil {
		t.Fatalf("RenderPrompt() error: %v", err)
	}
	want := "Write a post for Acme about Q1 launch in a upbeat tone."
	if got != want {
		t.Errorf("RenderPrompt() = %q, want %q", got, want)
	}
}

func TestRenderPrompt_InvalidTemplateErrors(t *testing.T) {
	_, err := RenderPrompt("{{.Unclosed", nil)
	if err == nil {
		t.Fatal("expected an error for a malformed template")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		post    GeneratedPost
		wantErr bool
	}{
		{
			name: "valid minimal post",
			post: GeneratedPost{Title: "A launch", Body: "We shipped something."},
		},
		{
			name:    "missing title",
			post:    GeneratedPost{Body: "We shipped something."},
			wantErr: true,
		},
		{
			name:    "missing body",
			post:    GeneratedPost{Title: "A launch"},
			wantErr: true,
		},
		{
			name:    "title too long",
			post:    GeneratedPost{Title: strings.Repeat("a", 201), Body: "body"},
			wantErr: true,
		},
		{
			name:    "too many hashtags",
			post:    GeneratedPost{Title: "t", Body: "b", Hashtags: make([]string, 31)},
			wantErr: true,
		},
		{
			name:    "hashtag too long",
			post:    GeneratedPost{Title: "t", Body: "b", Hashtags: []string{strings.Repeat("x", 51)}},
			wantErr: true,
		},
		{
			name: "cta at max length is fine",
			post: GeneratedPost{Title: "t", Body: "b", CTA: strings.Repeat("c", 500)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.post)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCorrectionPrompt_IncludesOriginalAndReason(t *testing.T) {
	got := CorrectionPrompt("original prompt", errors.New("title is required"))
	if !strings.Contains(got, "original prompt") {
		t.Error("correction prompt should retain the original prompt")
	}
	if !strings.Contains(got, "title is required") {
		t.Error("correction prompt should describe the validation failure")
	}
}

type fakeGenerator struct {
	responses []GeneratedPost
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (GeneratedPost, error) {
	f.prompts = append(f.prompts, prompt)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return GeneratedPost{}, f.errs[i]
	}
	return f.responses[i], nil
}

func TestGenerateWithRetry_SucceedsFirstTry(t *testing.T) {
	gen := &fakeGenerator{
		responses: []GeneratedPost{{Title: "t", Body: "b"}},
		errs:      []error{nil},
	}
	post, err := GenerateWithRetry(context.Background(), gen, "prompt", 3)
	if err != nil {
		t.Fatalf("GenerateWithRetry() error: %v", err)
	}
	if post.Title != "t" {
		t.Errorf("post.Title = %q, want %q", post.Title, "t")
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestGenerateWithRetry_RecoversAfterInvalidShape(t *testing.T) {
	gen := &fakeGenerator{
		responses: []GeneratedPost{{}, {Title: "fixed", Body: "fixed body"}},
		errs:      []error{nil, nil},
	}
	post, err := GenerateWithRetry(context.Background(), gen, "prompt", 3)
	if err != nil {
		t.Fatalf("GenerateWithRetry() error: %v", err)
	}
	if post.Title != "fixed" {
		t.Errorf("post.Title = %q, want %q", post.Title, "fixed")
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2", gen.calls)
	}
	if !strings.Contains(gen.prompts[1], "did not match the required shape") {
		t.Error("second attempt should use a correction prompt")
	}
}

func TestGenerateWithRetry_ExhaustsAttempts(t *testing.T) {
	gen := &fakeGenerator{
		responses: []GeneratedPost{{}, {}, {}},
		errs:      []error{nil, nil, nil},
	}
	_, err := GenerateWithRetry(context.Background(), gen, "prompt", 3)
	if err == nil {
		t.Fatal("expected an error after exhausting all attempts")
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestGenerateWithRetry_RetriesAfterGeneratorError(t *testing.T) {
	gen := &fakeGenerator{
		responses: []GeneratedPost{{}, {Title: "t", Body: "b"}},
		errs:      []error{errors.New("upstream timeout"), nil},
	}
	post, err := GenerateWithRetry(context.Background(), gen, "prompt", 3)
	if err != nil {
		t.Fatalf("GenerateWithRetry() error: %v", err)
	}
	if post.Title != "t" {
		t.Errorf("post.Title = %q, want %q", post.Title, "t")
	}
}

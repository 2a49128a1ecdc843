package providererror

import "testing"

func TestMap_Classification(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		errorCode  string
		message    string
		wantCat    Category
		wantRetry  bool
		wantCodeEq string
	}{
		{
			name:       "auth error by code token",
			provider:   "LinkedIn",
			errorCode:  "invalid_grant",
			message:    "the token has expired",
			wantCat:    CategoryAuth,
			wantRetry:  false,
			wantCodeEq: "invalid_grant",
		},
		{
			name:      "auth error by message only",
			provider:  "facebook",
			errorCode: "",
			message:   "request Unauthorized",
			wantCat:   CategoryAuth,
			wantRetry: false,
		},
		{
			name:      "rate limit by code",
			provider:  "instagram",
			errorCode: "too_many_requests",
			message:   "",
			wantCat:   CategoryRateLimit,
			wantRetry: true,
		},
		{
			name:      "rate limit by message",
			provider:  "x",
			errorCode: "weird_code",
			message:   "Rate Limit exceeded, slow down",
			wantCat:   CategoryRateLimit,
			wantRetry: true,
		},
		{
			name:      "content rejected",
			provider:  "tiktok",
			errorCode: "content_policy_rejected",
			message:   "violates community guidelines",
			wantCat:   CategoryContentRejected,
			wantRetry: false,
		},
		{
			name:      "server error",
			provider:  "youtube",
			errorCode: "service_unavailable",
			message:   "timeout talking to upstream",
			wantCat:   CategoryServerError,
			wantRetry: true,
		},
		{
			name:       "empty code becomes unknown_error and falls through to server error",
			provider:   "pinterest",
			errorCode:  "",
			message:    "something odd happened",
			wantCat:    CategoryServerError,
			wantRetry:  true,
			wantCodeEq: "unknown_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.provider, tt.errorCode, tt.message)
			if got.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCat)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
			if tt.wantCodeEq != "" && got.ErrorCode != tt.wantCodeEq {
				t.Errorf("ErrorCode = %q, want %q", got.ErrorCode, tt.wantCodeEq)
			}
			if got.SuggestedAction == "" {
				t.Error("SuggestedAction should never be empty")
			}
		})
	}
}

func TestMap_NormalizesProviderCase(t *testing.T) {
	got := Map("  LinkedIn  ", "auth_failed", "")
	if got.Provider != "linkedin" {
		t.Errorf("Provider = %q, want %q", got.Provider, "linkedin")
	}
}

func TestMap_AuthTakesPrecedenceOverRateLimit(t *testing.T) {
	// a code containing both an auth token and a rate token should hit
	// whichever case is checked first (auth).
	got := Map("slack", "auth_rate_throttle", "")
	if got.Category != CategoryAuth {
		t.Errorf("Category = %q, want %q", got.Category, CategoryAuth)
	}
}

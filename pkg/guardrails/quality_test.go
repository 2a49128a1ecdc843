package guardrails

import (
	"testing"

	"github.com/northflare/postflow/internal/store"
)

func TestScore_CapsAndExclamations(t *testing.T) {
	policy := QualityPolicy{}
	s := Score(policy, "", "THIS IS SHOUTING!!!", nil)

	if s.CapsRatio != 1.0 {
		t.Errorf("CapsRatio = %v, want 1.0 (all-letters body is all caps)", s.CapsRatio)
	}
	if s.ExclamationCount != 3 {
		t.Errorf("ExclamationCount = %d, want 3", s.ExclamationCount)
	}
}

func TestScore_NoLettersHasZeroCapsRatio(t *testing.T) {
	s := Score(QualityPolicy{}, "", "123 456", nil)
	if s.CapsRatio != 0 {
		t.Errorf("CapsRatio = %v, want 0 for a body with no letters", s.CapsRatio)
	}
}

func TestScore_ToneScoreFromBrandKeywords(t *testing.T) {
	policy := QualityPolicy{BrandVoiceKeywords: []string{"Launch", "Growth", "Partner"}}

	s := Score(policy, "", "We're thrilled about this launch and our growth.", nil)
	if s.ToneScore != 2.0/3.0 {
		t.Errorf("ToneScore = %v, want %v", s.ToneScore, 2.0/3.0)
	}
}

func TestScore_ToneScoreDefaultsToOneWithoutKeywords(t *testing.T) {
	s := Score(QualityPolicy{}, "", "anything at all", nil)
	if s.ToneScore != 1.0 {
		t.Errorf("ToneScore = %v, want 1.0 when no brand keywords are configured", s.ToneScore)
	}
}

func TestScore_ForbiddenTopicMatch(t *testing.T) {
	policy := QualityPolicy{ForbiddenTopics: []string{"politics"}}
	s := Score(policy, "", "a post about Politics and the election", nil)
	if !s.ForbiddenMatch {
		t.Error("expected ForbiddenMatch to be true")
	}
}

func TestScore_RiskScoreClampedAndNeedsApproval(t *testing.T) {
	policy := QualityPolicy{
		ForbiddenTopics:          []string{"lawsuit"},
		RequireApprovalRiskScore: 0.3,
	}
	s := Score(policy, "", "breaking news about our lawsuit", []string{"f1", "f2", "f3", "f4", "f5"})

	if s.RiskScore > 1.0 || s.RiskScore < 0 {
		t.Fatalf("RiskScore = %v, want value clamped to [0,1]", s.RiskScore)
	}
	if !s.NeedsApproval {
		t.Error("expected NeedsApproval to be true given the risk flags and forbidden-topic hit")
	}
}

func TestScore_RiskScoreClampsAtOne(t *testing.T) {
	policy := QualityPolicy{ForbiddenTopics: []string{"x"}}
	// ten risk flags at 0.22 each alone already exceeds 1.0.
	s := Score(policy, "", "contains x", []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"})
	if s.RiskScore != 1.0 {
		t.Errorf("RiskScore = %v, want clamped to 1.0", s.RiskScore)
	}
}

func TestExceedsShapeLimits(t *testing.T) {
	policy := QualityPolicy{MaxCapsRatio: 0.5, MaxExclamationCount: 1}

	tests := []struct {
		name string
		q    QualityScore
		want bool
	}{
		{"within limits", QualityScore{CapsRatio: 0.2, ExclamationCount: 0}, false},
		{"caps ratio too high", QualityScore{CapsRatio: 0.9, ExclamationCount: 0}, true},
		{"too many exclamations", QualityScore{CapsRatio: 0.1, ExclamationCount: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.ExceedsShapeLimits(policy); got != tt.want {
				t.Errorf("ExceedsShapeLimits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExceedsShapeLimits_ZeroThresholdsNeverTrip(t *testing.T) {
	q := QualityScore{CapsRatio: 1.0, ExclamationCount: 100}
	if q.ExceedsShapeLimits(QualityPolicy{}) {
		t.Error("a policy with zero-value thresholds should never trip shape limits")
	}
}

func TestComputeTenantRisk_Buckets(t *testing.T) {
	tests := []struct {
		name       string
		in         TenantRiskInputs
		wantBucket store.RiskBucket
	}{
		{
			name:       "clean tenant is low risk",
			in:         TenantRiskInputs{},
			wantBucket: store.RiskLow,
		},
		{
			name:       "moderate failures land medium",
			in:         TenantRiskInputs{PublishFailureRatio7d: 0.5, FlaggedContentRatio30d: 0.4},
			wantBucket: store.RiskMedium,
		},
		{
			name:       "heavy failures and abuse land high",
			in:         TenantRiskInputs{PublishFailureRatio7d: 0.8, FlaggedContentRatio30d: 0.6, RateLimitViolations: 50},
			wantBucket: store.RiskHigh,
		},
		{
			name:       "worst case lands critical",
			in:         TenantRiskInputs{PublishFailureRatio7d: 1.0, FlaggedContentRatio30d: 1.0, RateLimitViolations: 100},
			wantBucket: store.RiskCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, bucket := ComputeTenantRisk(tt.in)
			if bucket != tt.wantBucket {
				t.Errorf("ComputeTenantRisk() bucket = %v, want %v (score %v)", bucket, tt.wantBucket, score)
			}
			if score < 0 || score > 100 {
				t.Errorf("ComputeTenantRisk() score = %v, want in [0,100]", score)
			}
		})
	}
}

func TestComputeTenantRisk_AbuseRateCapsAtOne(t *testing.T) {
	// 500 rate-limit violations would push abuseRate to 5.0 uncapped.
	score, _ := ComputeTenantRisk(TenantRiskInputs{RateLimitViolations: 500})
	maxPossible := 0.20 * 100.0
	if score > maxPossible {
		t.Errorf("ComputeTenantRisk() score = %v, want capped contribution of at most %v from abuse alone", score, maxPossible)
	}
}

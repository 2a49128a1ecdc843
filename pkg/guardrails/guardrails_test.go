package guardrails

import (
	"testing"
	"time"
)

func TestQuietHoursContains(t *testing.T) {
	tests := []struct {
		name  string
		q     QuietHours
		t     time.Time
		want  bool
	}{
		{
			name: "inside a same-day window",
			q:    QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour},
			t:    time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "outside a same-day window",
			q:    QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour},
			t:    time.Date(2026, 1, 1, 16, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "start boundary is inclusive",
			q:    QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour},
			t:    time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "end boundary is exclusive",
			q:    QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour},
			t:    time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "wraps midnight, inside late window",
			q:    QuietHours{Start: 22 * time.Hour, End: 6 * time.Hour},
			t:    time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "wraps midnight, inside early window",
			q:    QuietHours{Start: 22 * time.Hour, End: 6 * time.Hour},
			t:    time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "wraps midnight, outside window",
			q:    QuietHours{Start: 22 * time.Hour, End: 6 * time.Hour},
			t:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Contains(tt.t); got != tt.want {
				t.Errorf("Contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cfg  RuleConfig
		in   CheckInput
		want []Violation
	}{
		{
			name: "no violations on empty config",
			cfg:  RuleConfig{},
			in:   CheckInput{Now: now},
			want: nil,
		},
		{
			name: "over the daily cap",
			cfg:  RuleConfig{MaxPostsPerDayProject: 3},
			in:   CheckInput{Now: now, PostsCreatedTodayCount: 3},
			want: []Violation{ViolationMaxPostsPerDay},
		},
		{
			name: "inside quiet hours",
			cfg:  RuleConfig{QuietHours: &QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour}},
			in:   CheckInput{Now: now},
			want: []Violation{ViolationQuietHours},
		},
		{
			name: "blackout date match",
			cfg:  RuleConfig{BlackoutDates: map[string]bool{"2026-03-05": true}},
			in:   CheckInput{Now: now},
			want: []Violation{ViolationBlackoutDate},
		},
		{
			name: "duplicate topic",
			cfg:  RuleConfig{DuplicateTopicDays: 7},
			in: CheckInput{
				Now:                    now,
				NormalizedTitle:        "q1 roadmap",
				RecentNormalizedTitles: []string{"other post", "q1 roadmap"},
			},
			want: []Violation{ViolationDuplicateTopic},
		},
		{
			name: "approval forced regardless of other checks",
			cfg:  RuleConfig{ApprovalRequired: true},
			in:   CheckInput{Now: now},
			want: []Violation{ViolationApprovalForced},
		},
		{
			name: "multiple violations accumulate in order",
			cfg: RuleConfig{
				MaxPostsPerDayProject: 1,
				QuietHours:            &QuietHours{Start: 13 * time.Hour, End: 15 * time.Hour},
			},
			in:   CheckInput{Now: now, PostsCreatedTodayCount: 5},
			want: []Violation{ViolationMaxPostsPerDay, ViolationQuietHours},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.cfg, tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Evaluate() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Evaluate()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := NormalizeTitle("  Q1 Roadmap  "); got != "q1 roadmap" {
		t.Errorf("NormalizeTitle() = %q, want %q", got, "q1 roadmap")
	}
}

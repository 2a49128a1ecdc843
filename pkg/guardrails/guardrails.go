// Package guardrails implements the pre-publish checks and AI-quality
// scoring that gate automation-generated content before it becomes a
// schedulable post.
package guardrails

import (
	"strings"
	"time"
)

// QuietHours blocks content during a configured window each day. Inclusive
// on Start, exclusive on End; wraps midnight when Start > End.
type QuietHours struct {
	Start time.Duration // offset from midnight, compared at minute precision
	End   time.Duration
}

// Contains reports whether t (interpreted in the tenant's local time) falls
// within the quiet window.
func (q QuietHours) Contains(t time.Time) bool {
	minuteOfDay := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if q.Start <= q.End {
		return minuteOfDay >= q.Start && minuteOfDay < q.End
	}
	// Wraps midnight: e.g. 22:00-06:00.
	return minuteOfDay >= q.Start || minuteOfDay < q.End
}

// RuleConfig holds the per-rule guardrail thresholds evaluated before
// materializing content or posts.
type RuleConfig struct {
	MaxPostsPerDayProject int
	QuietHours            *QuietHours
	BlackoutDates         map[string]bool // "YYYY-MM-DD"
	DuplicateTopicDays    int
	ApprovalRequired      bool
}

// Violation names a single guardrail that blocked or flagged an action.
type Violation string

const (
	ViolationMaxPostsPerDay  Violation = "max_posts_per_day_project"
	ViolationQuietHours      Violation = "quiet_hours"
	ViolationBlackoutDate    Violation = "blackout_dates"
	ViolationDuplicateTopic  Violation = "duplicate_topic"
	ViolationApprovalForced  Violation = "approval_required"
)

// CheckInput bundles the facts needed to evaluate RuleConfig against a
// candidate post/content item.
type CheckInput struct {
	Now                  time.Time
	PostsCreatedTodayCount int
	NormalizedTitle       string
	RecentNormalizedTitles []string
}

// Evaluate returns every guardrail violated by the candidate. An empty
// result means the action may proceed without forced review.
func Evaluate(cfg RuleConfig, in CheckInput) []Violation {
	var violations []Violation

	if cfg.MaxPostsPerDayProject > 0 && in.PostsCreatedTodayCount >= cfg.MaxPostsPerDayProject {
		violations = append(violations, ViolationMaxPostsPerDay)
	}
	if cfg.QuietHours != nil && cfg.QuietHours.Contains(in.Now) {
		violations = append(violations, ViolationQuietHours)
	}
	if len(cfg.BlackoutDates) > 0 {
		dateKey := in.Now.Format("2006-01-02")
		if cfg.BlackoutDates[dateKey] {
			violations = append(violations, ViolationBlackoutDate)
		}
	}
	if cfg.DuplicateTopicDays > 0 && in.NormalizedTitle != "" {
		for _, t := range in.RecentNormalizedTitles {
			if t == in.NormalizedTitle {
				violations = append(violations, ViolationDuplicateTopic)
				break
			}
		}
	}
	if cfg.ApprovalRequired {
		violations = append(violations, ViolationApprovalForced)
	}

	return violations
}

// NormalizeTitle applies the same normalization used for duplicate-topic
// comparisons: lowercased, trimmed.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

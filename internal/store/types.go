package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Post lifecycle: draft -> scheduled -> publishing -> {published,
// published_partial, failed} -> (scheduled again by retry policy).
type PostStatus string

const (
	PostDraft            PostStatus = "draft"
	PostScheduled        PostStatus = "scheduled"
	PostPublishing       PostStatus = "publishing"
	PostPublished        PostStatus = "published"
	PostPublishedPartial PostStatus = "published_partial"
	PostFailed           PostStatus = "failed"
)

type Post struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	Title     string
	Content   string
	Status    PostStatus
	PublishAt *time.Time
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChannelType string

const (
	ChannelWebsite   ChannelType = "website"
	ChannelLinkedIn  ChannelType = "linkedin"
	ChannelFacebook  ChannelType = "facebook"
	ChannelInstagram ChannelType = "instagram"
	ChannelTikTok    ChannelType = "tiktok"
	ChannelThreads   ChannelType = "threads"
	ChannelX         ChannelType = "x"
	ChannelPinterest ChannelType = "pinterest"
)

type ChannelStatus string

const (
	ChannelActive   ChannelStatus = "active"
	ChannelDisabled ChannelStatus = "disabled"
)

// Capabilities advertises what content shapes a channel/adapter accepts.
type Capabilities struct {
	Text      bool `json:"text"`
	Image     bool `json:"image"`
	Video     bool `json:"video"`
	Reels     bool `json:"reels"`
	Shorts    bool `json:"shorts"`
	MaxLength int  `json:"max_length"`
}

type Channel struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProjectID    uuid.UUID
	Type         ChannelType
	Status       ChannelStatus
	Capabilities Capabilities
	Sandbox      string // simulate_success | simulate_rate_limit | simulate_auth_error | ""
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChannelPublication struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	PostID          uuid.UUID
	ChannelID       uuid.UUID
	ExternalPostID  string
	Metadata        json.RawMessage
	CreatedAt       time.Time
}

type WebsitePublication struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PostID    uuid.UUID
	ChannelID uuid.UUID
	Slug      string
	CreatedAt time.Time
}

type EventStatus string

const (
	EventOK    EventStatus = "ok"
	EventError EventStatus = "error"
)

// Publish-event types written to publish_events.event_type. A post's
// terminal outcome is one of PostPublished, PostPublishedPartial or
// PostPublishFailed.
const (
	EvtPostScheduled         = "PostScheduled"
	EvtPostPublishingStarted = "PostPublishingStarted"
	EvtChannelPublishSuccess = "ChannelPublishSucceeded"
	EvtChannelPublishFailed  = "ChannelPublishFailed"
	EvtPostPublished         = "PostPublished"
	EvtPostPublishedPartial  = "PostPublishedPartial"
	EvtPostPublishFailed     = "PostPublishFailed"
)

type PublishEvent struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PostID     uuid.UUID
	ChannelID  *uuid.UUID
	EventType  string
	Status     EventStatus
	Attempt    int
	Metadata   json.RawMessage
	CreatedAt  time.Time
}

type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerEvent    TriggerKind = "event"
)

type ActionType string

const (
	ActionGeneratePost  ActionType = "generate_post"
	ActionSchedulePost  ActionType = "schedule_post"
	ActionPublishNow    ActionType = "publish_now"
	ActionSyncMetrics   ActionType = "sync_metrics"
)

type AutomationRule struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	ProjectID        uuid.UUID
	Name             string
	Trigger          TriggerKind
	TriggerConfig    json.RawMessage
	Action           ActionType
	ActionConfig     json.RawMessage
	Guardrails       json.RawMessage
	IsEnabled        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

type AutomationRun struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	RuleID     uuid.UUID
	Status     RunStatus
	Fingerprint string
	Stats      json.RawMessage
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

type AutomationEvent struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	RunID     uuid.UUID
	EventType string
	Detail    json.RawMessage
	CreatedAt time.Time
}

type ContentStatus string

const (
	ContentDraft       ContentStatus = "draft"
	ContentNeedsReview ContentStatus = "needs_review"
	ContentApproved    ContentStatus = "approved"
	ContentRejected    ContentStatus = "rejected"
	ContentScheduled   ContentStatus = "scheduled"
	ContentPublished   ContentStatus = "published"
	ContentFailed      ContentStatus = "failed"
)

type ContentItem struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	ProjectID           uuid.UUID
	RunID               *uuid.UUID
	Title               string
	Body                string
	Hashtags            []string
	CTA                 string
	Channels            []string
	RiskFlags           []string
	Status              ContentStatus
	GuardrailViolations []string
	Metadata            json.RawMessage
	LastError           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type ContentTemplate struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Prompt    string
	CreatedAt time.Time
}

type Campaign struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	BrandProfile json.RawMessage
	CreatedAt    time.Time
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Approval struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ContentItemID uuid.UUID
	Status        ApprovalStatus
	Reviewer      string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
	CredentialError   CredentialStatus = "error"
)

type ConnectorCredential struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	ConnectorType        ChannelType
	EncryptedAccessToken []byte
	EncryptedRefreshToken []byte
	ExpiresAt            *time.Time
	Scopes               []string
	Status               CredentialStatus
	LastError            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

type ChannelRetryPolicy struct {
	ChannelType        ChannelType
	MaxAttempts        int
	Backoff            BackoffKind
	RetryDelaySeconds  int
}

type PlatformRateLimit struct {
	Platform          ChannelType
	RequestsPerMinute int
}

type FeatureFlag struct {
	Key               string
	EnabledGlobally   bool
	EnabledPerTenant  map[string]bool
}

type PlatformIncident struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Type      string
	Detail    json.RawMessage
	CreatedAt time.Time
}

type RiskBucket string

const (
	RiskLow      RiskBucket = "low"
	RiskMedium   RiskBucket = "medium"
	RiskHigh     RiskBucket = "high"
	RiskCritical RiskBucket = "critical"
)

type TenantRiskScore struct {
	TenantID  uuid.UUID
	Score     float64
	Bucket    RiskBucket
	UpdatedAt time.Time
}

// CompanySubscription is the single billing-plan record per tenant; there is
// no separate usage-snapshot table duplicating it.
type CompanySubscription struct {
	TenantID        uuid.UUID
	PlanCode        string
	Status          string
	CurrentPeriodEnd time.Time
	UpdatedAt        time.Time
}

type CompanyUsage struct {
	TenantID     uuid.UUID
	PeriodStart  time.Time
	PostsCount   int
	UpdatedAt    time.Time
}

type FailedJob struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Queue     string
	Payload   json.RawMessage
	Error     string
	CreatedAt time.Time
}

type Tenant struct {
	ID     uuid.UUID
	Name   string
	Slug   string
	Schema string
}

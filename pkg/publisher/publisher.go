// Package publisher implements the single entry point that delivers a
// scheduled post to every channel attached to its project, handling
// idempotency, per-channel rate limiting, retry/backoff scheduling, and
// circuit breaking. Architecturally grounded on the teacher's
// escalation engine (stepwise state advance driven by a single exported
// entry point, heavy event-log annotation at each step).
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/northflare/postflow/internal/clock"
	"github.com/northflare/postflow/internal/kvstate"
	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/internal/telemetry"
	"github.com/northflare/postflow/pkg/adapter"
	"github.com/northflare/postflow/pkg/controlplane"
	"github.com/northflare/postflow/pkg/credential"
	"github.com/northflare/postflow/pkg/eventlog"
	"github.com/northflare/postflow/pkg/providererror"
	"github.com/northflare/postflow/pkg/queue"
)

const (
	postLockTTL        = 45 * time.Second
	maxPerPostWallTime = 120 * time.Second
	defaultMaxAttempts = 5
)

// Publisher delivers posts to channels. Construct one per process (worker
// mode); it holds no per-call state.
type Publisher struct {
	store    *store.Store
	kv       *kvstate.Store
	adapters *adapter.Registry
	creds    *credential.Store
	plane    *controlplane.Plane
	clock    clock.Clock
	logger   *slog.Logger

	breakers map[store.ChannelType]*gobreaker.CircuitBreaker
}

// New creates a Publisher.
func New(st *store.Store, kv *kvstate.Store, adapters *adapter.Registry, creds *credential.Store, plane *controlplane.Plane, clk clock.Clock, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:    st,
		kv:       kv,
		adapters: adapters,
		creds:    creds,
		plane:    plane,
		clock:    clk,
		logger:   logger,
		breakers: make(map[store.ChannelType]*gobreaker.CircuitBreaker),
	}
}

// withTx runs fn inside a transaction on an already tenant-scoped
// connection. The publisher uses connection-scoped transactions rather than
// Store.Tx since the caller already holds the tenant-pinned connection.
func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(tx pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Publisher) breakerFor(channelType store.ChannelType) *gobreaker.CircuitBreaker {
	if cb, ok := p.breakers[channelType]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publisher:" + string(channelType),
		MaxRequests: 1,
		Interval:    time.Hour,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				telemetry.CircuitBreakerTripsTotal.WithLabelValues(string(channelType)).Inc()
				p.logger.Warn("publisher circuit breaker opened", "channel_type", channelType)
			}
		},
	})
	p.breakers[channelType] = cb
	return cb
}

// channelOutcome is the per-channel delivery result after one attempt.
type channelOutcome string

const (
	outcomeSuccess      channelOutcome = "success"
	outcomeAlready      channelOutcome = "already_published"
	outcomeRetryable    channelOutcome = "retryable_failure"
	outcomePermanent    channelOutcome = "permanent_failure"
	outcomeRateLimited  channelOutcome = "rate_limited"
)

// retryableChannel records the attempt number a channel reached on a
// retryable failure, so aggregate can compare it against that channel
// type's ChannelRetryPolicy.
type retryableChannel struct {
	ChannelType store.ChannelType
	Attempt     int
}

// ErrSkipped is returned (never wrapped into a job failure) when the post's
// status no longer warrants a publish attempt.
var ErrSkipped = errors.New("publisher: post skipped, not in a publishable state")

// ErrBreakerOpen signals the caller should retry later; the job remains
// queued.
var ErrBreakerOpen = errors.New("publisher: publish breaker open")

// PublishPost is the single entry point invoked from the work queue.
func (p *Publisher) PublishPost(ctx context.Context, tenantSchema string, tenantID, postID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, maxPerPostWallTime)
	defer cancel()

	lockName := "publish:" + postID.String()
	locked, err := p.kv.AcquireLock(ctx, lockName, postLockTTL)
	if err != nil {
		return fmt.Errorf("acquiring publish lock for post %s: %w", postID, err)
	}
	if !locked {
		return fmt.Errorf("publisher: post %s already being processed", postID)
	}
	defer p.kv.ReleaseLock(ctx, lockName)

	conn, err := p.store.WithTenant(ctx, tenantSchema)
	if err != nil {
		return fmt.Errorf("acquiring tenant connection: %w", err)
	}
	defer conn.Release()

	post, err := store.GetPost(ctx, conn, postID)
	if err != nil {
		return fmt.Errorf("loading post %s: %w", postID, err)
	}
	if post.Status != store.PostScheduled && post.Status != store.PostPublishing {
		return ErrSkipped
	}

	if p.plane.IsGlobalPublishBreakerOpen(ctx) {
		return ErrBreakerOpen
	}
	if p.plane.IsTenantPublishBreakerOpen(ctx, tenantID) {
		return ErrBreakerOpen
	}

	channels, err := store.ListChannelsForProject(ctx, conn, post.ProjectID)
	if err != nil {
		return fmt.Errorf("listing channels for project %s: %w", post.ProjectID, err)
	}

	// retryable tracks the per-channel attempt number for every
	// retryable/rate-limited outcome, so aggregate can weigh each failing
	// channel against its own ChannelRetryPolicy instead of the post as a
	// whole.
	var succeeded, permanentFailed, retryableFailed int
	var retries []retryableChannel
	for _, ch := range channels {
		outcome, attempt, err := p.deliverToChannel(ctx, conn, tenantID, post, ch)
		telemetry.PublishAttemptsTotal.WithLabelValues(string(ch.Type), string(outcome)).Inc()
		switch outcome {
		case outcomeSuccess, outcomeAlready:
			succeeded++
		case outcomePermanent:
			permanentFailed++
		default:
			retryableFailed++
			retries = append(retries, retryableChannel{ChannelType: ch.Type, Attempt: attempt})
			if err != nil {
				p.logger.Warn("channel delivery failed", "post_id", postID, "channel_id", ch.ID, "outcome", outcome, "error", err)
			}
		}
	}

	return p.aggregate(ctx, conn, tenantID, post, len(channels), succeeded, permanentFailed, retryableFailed, retries)
}

func (p *Publisher) deliverToChannel(ctx context.Context, conn *pgxpool.Conn, tenantID uuid.UUID, post store.Post, ch store.Channel) (channelOutcome, int, error) {
	if _, found, err := store.GetChannelPublication(ctx, conn, post.ID, ch.ID); err != nil {
		return outcomeRetryable, 0, fmt.Errorf("checking existing publication: %w", err)
	} else if found {
		return outcomeAlready, 0, nil
	}

	bucketName := "platform_rate:" + string(ch.Type)
	limit, err := store.GetPlatformRateLimit(ctx, conn, ch.Type)
	if err != nil {
		return outcomeRetryable, 0, fmt.Errorf("loading rate limit for %s: %w", ch.Type, err)
	}
	count, err := p.kv.IncrWindowed(ctx, bucketName, time.Minute)
	if err != nil {
		p.logger.Warn("rate limit counter unavailable, failing open", "channel", ch.Type, "error", err)
	} else if int(count) > limit.RequestsPerMinute {
		_ = p.kv.SetBreakerOpen(ctx, "connector_backoff:"+ch.ID.String(), time.Minute)
		return outcomeRateLimited, 0, nil
	}

	attempt, err := store.LastAttempt(ctx, conn, post.ID, ch.ID)
	if err != nil {
		return outcomeRetryable, 0, fmt.Errorf("reading last attempt: %w", err)
	}
	attempt++

	a, ok := p.adapters.Get(ch.Type)
	if !ok {
		return outcomePermanent, attempt, fmt.Errorf("no adapter registered for channel type %s", ch.Type)
	}

	cb := p.breakerFor(ch.Type)
	callStart := p.clock.Now()
	var result adapter.Result
	_, cbErr := cb.Execute(func() (any, error) {
		tok, tokErr := p.creds.Get(ctx, tenantID, ch.Type)
		if tokErr != nil {
			return nil, tokErr
		}
		var pubErr error
		result, pubErr = a.Publish(ctx, tok.OAuth2, adapter.Content{
			Title: post.Title,
			Body:  post.Content,
		}, ch.Sandbox)
		return nil, pubErr
	})
	telemetry.PublishDurationSeconds.WithLabelValues(string(ch.Type)).Observe(p.clock.Now().Sub(callStart).Seconds())

	if cbErr != nil {
		outcome, err := p.handleChannelFailure(ctx, conn, tenantID, post, ch, attempt, cbErr)
		return outcome, attempt, err
	}

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		if _, err := store.CreateChannelPublication(ctx, tx, tenantID, post.ID, ch.ID, result.ExternalPostID, result.Metadata); err != nil {
			return err
		}
		return eventlog.New(tx).Publish(ctx, tenantID, post.ID, &ch.ID, store.EvtChannelPublishSuccess, store.EventOK, attempt, result.Metadata)
	}); err != nil {
		if errors.Is(err, store.ErrAlreadyPublished) {
			return outcomeAlready, attempt, nil
		}
		return outcomeRetryable, attempt, fmt.Errorf("recording channel publication: %w", err)
	}

	return outcomeSuccess, attempt, nil
}

func (p *Publisher) handleChannelFailure(ctx context.Context, conn *pgxpool.Conn, tenantID uuid.UUID, post store.Post, ch store.Channel, attempt int, cause error) (channelOutcome, error) {
	normalized := providererror.Map(string(ch.Type), "", cause.Error())

	if normalized.Category == "auth" {
		if err := p.creds.MarkError(ctx, tenantID, ch.Type, cause.Error()); err != nil {
			p.logger.Error("marking credential error", "channel_id", ch.ID, "error", err)
		}
	}

	outcome := outcomeRetryable
	if !normalized.Retryable {
		outcome = outcomePermanent
	}

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		return eventlog.New(tx).Publish(ctx, tenantID, post.ID, &ch.ID, store.EvtChannelPublishFailed, store.EventError, attempt, map[string]any{
			"category": normalized.Category,
			"message":  cause.Error(),
		})
	}); err != nil {
		p.logger.Error("recording publish failure event", "channel_id", ch.ID, "error", err)
	}

	failures, err := store.ConsecutiveFailures(ctx, conn, ch.ID, p.clock.Now().Add(-time.Hour))
	if err != nil {
		p.logger.Warn("checking consecutive failures", "channel_id", ch.ID, "error", err)
	} else if failures >= 5 {
		if err := store.DisableChannel(ctx, conn, ch.ID); err != nil {
			p.logger.Error("disabling channel after repeated failures", "channel_id", ch.ID, "error", err)
		} else if _, err := store.CreatePlatformIncident(ctx, conn, &tenantID, "connector_disabled_repeated_failures", map[string]any{"channel_id": ch.ID}); err != nil {
			p.logger.Error("raising channel-disable incident", "channel_id", ch.ID, "error", err)
		}
	}

	return outcome, cause
}

// aggregate finalizes the post's status once every channel has been
// attempted, re-queuing retryable failures within policy or marking the
// post failed/dead-lettered once attempts are exhausted.
func (p *Publisher) aggregate(ctx context.Context, conn *pgxpool.Conn, tenantID uuid.UUID, post store.Post, total, succeeded, permanentFailed, retryableFailed int, retries []retryableChannel) error {
	return withTx(ctx, conn, func(tx pgx.Tx) error {
		log := eventlog.New(tx)

		switch {
		case succeeded == total:
			if err := store.FinishPost(ctx, tx, post.ID, store.PostPublished, nil); err != nil {
				return err
			}
			return log.Publish(ctx, tenantID, post.ID, nil, store.EvtPostPublished, store.EventOK, 0, nil)

		case succeeded > 0 && succeeded+retryableFailed < total:
			if err := store.FinishPost(ctx, tx, post.ID, store.PostPublishedPartial, nil); err != nil {
				return err
			}
			return log.Publish(ctx, tenantID, post.ID, nil, store.EvtPostPublishedPartial, store.EventOK, 0, nil)

		case retryableFailed > 0 && permanentFailed == 0:
			return p.retryOrDeadLetter(ctx, tx, tenantID, post, retries)

		default:
			msg := fmt.Sprintf("%d of %d channels failed permanently", permanentFailed, total)
			if err := store.FinishPost(ctx, tx, post.ID, store.PostFailed, &msg); err != nil {
				return err
			}
			return log.Publish(ctx, tenantID, post.ID, nil, store.EvtPostPublishFailed, store.EventError, 0, map[string]string{"reason": msg})
		}
	})
}

// retryOrDeadLetter applies each failing channel's ChannelRetryPolicy: while
// any channel still has attempts left, the post is reverted to scheduled
// with publish_at advanced by the slowest not-yet-exhausted channel's
// backoff; once every retryable channel has reached its max_attempts, the
// post is finished as failed and dead-lettered to failed_jobs.
func (p *Publisher) retryOrDeadLetter(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, post store.Post, retries []retryableChannel) error {
	log := eventlog.New(tx)

	var maxDelay time.Duration
	exhausted := 0
	for _, r := range retries {
		policy, err := store.GetRetryPolicy(ctx, tx, r.ChannelType)
		if err != nil {
			return fmt.Errorf("loading retry policy for %s: %w", r.ChannelType, err)
		}
		if r.Attempt >= policy.MaxAttempts {
			exhausted++
			continue
		}
		if delay := ComputeRetryDelay(policy, r.Attempt); delay > maxDelay {
			maxDelay = delay
		}
	}

	if exhausted < len(retries) {
		return store.RevertToScheduled(ctx, tx, post.ID, p.clock.Now().Add(maxDelay), "retrying")
	}

	msg := fmt.Sprintf("%d channels exhausted max_attempts", len(retries))
	if err := store.FinishPost(ctx, tx, post.ID, store.PostFailed, &msg); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{"post_id": post.ID, "project_id": post.ProjectID})
	if err != nil {
		return fmt.Errorf("marshaling dead-letter payload: %w", err)
	}
	if _, err := store.CreateFailedJob(ctx, tx, tenantID, string(queue.Publishing), payload, []byte(msg)); err != nil {
		return fmt.Errorf("dead-lettering post %s: %w", post.ID, err)
	}

	return log.Publish(ctx, tenantID, post.ID, nil, store.EvtPostPublishFailed, store.EventError, 0, map[string]string{"reason": msg})
}

// ComputeRetryDelay returns how long to wait before the next attempt for a
// channel's configured backoff kind.
func ComputeRetryDelay(policy store.ChannelRetryPolicy, attempt int) time.Duration {
	base := time.Duration(policy.RetryDelaySeconds) * time.Second
	switch policy.Backoff {
	case store.BackoffLinear:
		return base * time.Duration(attempt)
	case store.BackoffExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = base
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxInterval = base * 64
		eb.MaxElapsedTime = 0
		eb.Reset()
		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = eb.NextBackOff()
		}
		return delay
	default:
		return base
	}
}

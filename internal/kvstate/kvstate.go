// Package kvstate is the Redis-backed coordination layer shared by the
// scheduler, publisher, and automation runtime: per-post locks, windowed
// rate counters, breaker flags, the event-rule cursor, webhook dedupe, and
// worker heartbeats. None of this state is authoritative — the database
// always is. IsBreakerOpen and GetCachedFeatureFlag degrade to a safe
// default on a Redis outage; the other methods return the Redis error to
// the caller.
package kvstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix          = "postflow:lock:"
	counterPrefix       = "postflow:counter:"
	breakerPrefix       = "postflow:breaker:"
	cursorPrefix        = "postflow:cursor:"
	webhookDedupPrefix  = "postflow:webhook:"
	heartbeatPrefix     = "postflow:heartbeat:"
	featureFlagPrefix   = "postflow:flag:"
)

// Store wraps a redis client with the key conventions and fail-open/closed
// policies described per-method below.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Store.
func New(rdb *redis.Client, logger *slog.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// AcquireLock sets a key with NX+TTL, returning true if the caller now holds
// it. Used to serialize publish attempts for a single post across scheduler
// and worker instances. Fails closed: a Redis error is
// treated as lock-not-acquired so callers don't double-publish during an
// outage.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := lockPrefix + name
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock deletes a lock key. Best-effort: callers rely on the TTL as
// the backstop if this fails.
func (s *Store) ReleaseLock(ctx context.Context, name string) {
	if err := s.rdb.Del(ctx, lockPrefix+name).Err(); err != nil {
		s.logger.Warn("releasing lock failed, relying on TTL", "lock", name, "error", err)
	}
}

// IncrWindowed increments a counter keyed by name and resets its expiry to
// window on every call, so the counter lapses once window passes with no
// increments. Used for per-platform rate admission.
func (s *Store) IncrWindowed(ctx context.Context, name string, window time.Duration) (int64, error) {
	key := counterPrefix + name
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing counter %q: %w", name, err)
	}
	return incr.Val(), nil
}

// PeekWindowed reads a counter without incrementing it. Returns 0 if unset.
func (s *Store) PeekWindowed(ctx context.Context, name string) (int64, error) {
	n, err := s.rdb.Get(ctx, counterPrefix+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter %q: %w", name, err)
	}
	return n, nil
}

// SetBreakerOpen flags a channel/platform breaker as open for ttl — a fast
// cross-process signal so other workers skip the publish attempt entirely
// rather than each tripping their own in-process gobreaker independently.
func (s *Store) SetBreakerOpen(ctx context.Context, name string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, breakerPrefix+name, "open", ttl).Err(); err != nil {
		return fmt.Errorf("setting breaker %q open: %w", name, err)
	}
	return nil
}

// IsBreakerOpen reports whether a breaker flag is set. A Redis error fails
// open (breaker considered closed) since per-adapter gobreakers are the
// authoritative circuit and this is only a fast-path hint.
func (s *Store) IsBreakerOpen(ctx context.Context, name string) bool {
	exists, err := s.rdb.Exists(ctx, breakerPrefix+name).Result()
	if err != nil {
		s.logger.Warn("breaker flag check failed, failing open", "breaker", name, "error", err)
		return false
	}
	return exists > 0
}

// ClearBreaker removes a breaker-open flag (operator reset or auto-recovery).
func (s *Store) ClearBreaker(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, breakerPrefix+name).Err(); err != nil {
		return fmt.Errorf("clearing breaker %q: %w", name, err)
	}
	return nil
}

// GetEventCursor returns the created_at (Unix nanoseconds) of the last
// publish event an event-rule scan processed, or zero if none has been
// recorded.
func (s *Store) GetEventCursor(ctx context.Context, ruleID string) (int64, error) {
	n, err := s.rdb.Get(ctx, cursorPrefix+ruleID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading event cursor for rule %s: %w", ruleID, err)
	}
	return n, nil
}

// SetEventCursor advances the cursor. Cursor writes are idempotent (always
// monotonic in the caller), so a failure here only risks reprocessing
// events on the next scan, not skipping them.
func (s *Store) SetEventCursor(ctx context.Context, ruleID string, cursor int64) error {
	if err := s.rdb.Set(ctx, cursorPrefix+ruleID, cursor, 0).Err(); err != nil {
		return fmt.Errorf("setting event cursor for rule %s: %w", ruleID, err)
	}
	return nil
}

// ErrDuplicateWebhook is returned by CheckWebhookDedupe when a delivery with
// the same idempotency key has already been processed.
var ErrDuplicateWebhook = errors.New("kvstate: duplicate webhook delivery")

// CheckWebhookDedupe records an inbound webhook's idempotency key, returning
// ErrDuplicateWebhook if it has been seen within ttl. A Redis error is
// returned wrapped, not as ErrDuplicateWebhook.
func (s *Store) CheckWebhookDedupe(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, webhookDedupPrefix+key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("checking webhook dedupe key %q: %w", key, err)
	}
	if !ok {
		return ErrDuplicateWebhook
	}
	return nil
}

// Heartbeat records that a worker instance is alive, for operator visibility
// into scheduler/worker liveness.
func (s *Store) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, heartbeatPrefix+workerID, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("recording heartbeat for %s: %w", workerID, err)
	}
	return nil
}

// ListHeartbeats returns the worker IDs with a live heartbeat, for the
// operator status endpoint.
func (s *Store) ListHeartbeats(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, heartbeatPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(heartbeatPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing heartbeats: %w", err)
	}
	return out, nil
}

// CacheFeatureFlag caches a feature flag's resolved boolean for a short TTL
// so the hot publish/automation paths don't hit Postgres on every check.
func (s *Store) CacheFeatureFlag(ctx context.Context, key string, enabled bool, ttl time.Duration) {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := s.rdb.Set(ctx, featureFlagPrefix+key, val, ttl).Err(); err != nil {
		s.logger.Warn("caching feature flag failed", "flag", key, "error", err)
	}
}

// GetCachedFeatureFlag returns the cached value and whether it was present.
// A Redis error or cache miss returns (false, false) — callers fall back to
// the database, since flags fail open toward the DB's value, never toward
// silently enabling or disabling a feature.
func (s *Store) GetCachedFeatureFlag(ctx context.Context, key string) (enabled bool, found bool) {
	val, err := s.rdb.Get(ctx, featureFlagPrefix+key).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

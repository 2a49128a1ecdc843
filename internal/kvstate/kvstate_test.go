package kvstate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, slog.Default())
}

func TestAcquireLock_SecondCallerFailsUntilReleased(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.AcquireLock(ctx, "post-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first AcquireLock: ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireLock(ctx, "post-1", time.Minute)
	if err != nil {
		t.Fatalf("second AcquireLock error: %v", err)
	}
	if ok {
		t.Fatal("second caller should not acquire an already-held lock")
	}

	s.ReleaseLock(ctx, "post-1")

	ok, err = s.AcquireLock(ctx, "post-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock after release: ok=%v err=%v", ok, err)
	}
}

func TestIncrWindowed_AccumulatesAndExpires(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.IncrWindowed(ctx, "linkedin:project-1", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindowed error: %v", err)
	}
	if n != 1 {
		t.Errorf("first increment = %d, want 1", n)
	}

	n, err = s.IncrWindowed(ctx, "linkedin:project-1", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindowed error: %v", err)
	}
	if n != 2 {
		t.Errorf("second increment = %d, want 2", n)
	}

	peeked, err := s.PeekWindowed(ctx, "linkedin:project-1")
	if err != nil {
		t.Fatalf("PeekWindowed error: %v", err)
	}
	if peeked != 2 {
		t.Errorf("PeekWindowed = %d, want 2", peeked)
	}
}

func TestPeekWindowed_UnsetReturnsZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.PeekWindowed(ctx, "never-touched")
	if err != nil {
		t.Fatalf("PeekWindowed error: %v", err)
	}
	if n != 0 {
		t.Errorf("PeekWindowed on unset key = %d, want 0", n)
	}
}

func TestBreakerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if s.IsBreakerOpen(ctx, "global") {
		t.Fatal("breaker should start closed")
	}

	if err := s.SetBreakerOpen(ctx, "global", time.Minute); err != nil {
		t.Fatalf("SetBreakerOpen error: %v", err)
	}
	if !s.IsBreakerOpen(ctx, "global") {
		t.Fatal("breaker should report open after SetBreakerOpen")
	}

	if err := s.ClearBreaker(ctx, "global"); err != nil {
		t.Fatalf("ClearBreaker error: %v", err)
	}
	if s.IsBreakerOpen(ctx, "global") {
		t.Fatal("breaker should report closed after ClearBreaker")
	}
}

func TestEventCursor_DefaultsToZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.GetEventCursor(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetEventCursor error: %v", err)
	}
	if n != 0 {
		t.Errorf("GetEventCursor on unset rule = %d, want 0", n)
	}

	if err := s.SetEventCursor(ctx, "rule-1", 42); err != nil {
		t.Fatalf("SetEventCursor error: %v", err)
	}
	n, err = s.GetEventCursor(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetEventCursor error: %v", err)
	}
	if n != 42 {
		t.Errorf("GetEventCursor = %d, want 42", n)
	}
}

func TestCheckWebhookDedupe_RejectsRepeat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CheckWebhookDedupe(ctx, "evt-1", time.Minute); err != nil {
		t.Fatalf("first delivery should not error: %v", err)
	}
	if err := s.CheckWebhookDedupe(ctx, "evt-1", time.Minute); err != ErrDuplicateWebhook {
		t.Fatalf("repeat delivery error = %v, want ErrDuplicateWebhook", err)
	}
}

func TestHeartbeat_ListsLiveWorkers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Heartbeat(ctx, "worker-a", time.Minute); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	if err := s.Heartbeat(ctx, "worker-b", time.Minute); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}

	live, err := s.ListHeartbeats(ctx)
	if err != nil {
		t.Fatalf("ListHeartbeats error: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range live {
		seen[id] = true
	}
	if !seen["worker-a"] || !seen["worker-b"] {
		t.Errorf("ListHeartbeats = %v, want both worker-a and worker-b", live)
	}
}

func TestFeatureFlagCache_RoundtripAndMiss(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, found := s.GetCachedFeatureFlag(ctx, "new_ui"); found {
		t.Fatal("uncached flag should report not found")
	}

	s.CacheFeatureFlag(ctx, "new_ui", true, time.Minute)
	enabled, found := s.GetCachedFeatureFlag(ctx, "new_ui")
	if !found || !enabled {
		t.Errorf("GetCachedFeatureFlag = (%v, %v), want (true, true)", enabled, found)
	}

	s.CacheFeatureFlag(ctx, "new_ui", false, time.Minute)
	enabled, found = s.GetCachedFeatureFlag(ctx, "new_ui")
	if !found || enabled {
		t.Errorf("GetCachedFeatureFlag after disabling = (%v, %v), want (false, true)", enabled, found)
	}
}

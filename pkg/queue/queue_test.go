package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

type postPayload struct {
	PostID string `json:"post_id"`
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, Publishing, "job-1", postPayload{PostID: "p1"}, time.Now()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	depth, err := q.Depth(ctx, Publishing)
	if err != nil {
		t.Fatalf("Depth error: %v", err)
	}
	if depth != 1 {
		t.Fatalf("Depth() = %d, want 1", depth)
	}

	job, err := q.Dequeue(ctx, Publishing, time.Second)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	if job.ID != "job-1" {
		t.Errorf("job.ID = %q, want %q", job.ID, "job-1")
	}

	var p postPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.PostID != "p1" {
		t.Errorf("payload.PostID = %q, want %q", p.PostID, "p1")
	}

	depth, err = q.Depth(ctx, Publishing)
	if err != nil {
		t.Fatalf("Depth error: %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() after dequeue = %d, want 0 (job moved to processing list)", depth)
	}

	if err := q.Ack(ctx, Publishing, job); err != nil {
		t.Fatalf("Ack error: %v", err)
	}
}

func TestDequeue_EmptyQueueReturnsErrNoJob(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Dequeue(ctx, Publishing, 50*time.Millisecond)
	if err != ErrNoJob {
		t.Fatalf("Dequeue() error = %v, want ErrNoJob", err)
	}
}

func TestNack_RetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, Publishing, "job-1", postPayload{PostID: "p1"}, time.Now()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	job, err := q.Dequeue(ctx, Publishing, time.Second)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}

	if err := q.Nack(ctx, Publishing, job, 3, time.Now()); err != nil {
		t.Fatalf("Nack error: %v", err)
	}

	depth, err := q.Depth(ctx, Publishing)
	if err != nil {
		t.Fatalf("Depth error: %v", err)
	}
	if depth != 1 {
		t.Fatalf("Depth() after first nack = %d, want 1 (re-enqueued with attempts < max)", depth)
	}

	job, err = q.Dequeue(ctx, Publishing, time.Second)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("job.Attempts = %d, want 1", job.Attempts)
	}
}

func TestNack_DropsJobAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, Publishing, "job-1", postPayload{PostID: "p1"}, time.Now()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	job, err := q.Dequeue(ctx, Publishing, time.Second)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	job.Attempts = 2 // one nack away from maxAttempts=3

	if err := q.Nack(ctx, Publishing, job, 3, time.Now()); err != nil {
		t.Fatalf("Nack error: %v", err)
	}

	depth, err := q.Depth(ctx, Publishing)
	if err != nil {
		t.Fatalf("Depth error: %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() after exhausting attempts = %d, want 0 (job should be dropped, not retried)", depth)
	}
}

// Package queue is a minimal Redis list-backed work queue for the three
// logical queues the worker processes drain: publishing, scheduler, and
// analytics jobs. Grounded on the same redis/go-redis/v9 client internal/kvstate
// already wires in, kept as a distinct collaborator since queue semantics
// (blocking pop, processing list, dead-letter) are a different concern from
// kvstate's ephemeral coordination state.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Name identifies one of the platform's logical work queues.
type Name string

const (
	Publishing Name = "publishing"
	Scheduling Name = "scheduler"
	Analytics  Name = "analytics"
)

func listKey(n Name) string       { return "postflow:queue:" + string(n) }
func processingKey(n Name) string { return "postflow:queue:" + string(n) + ":processing" }

// Job is the envelope every queue entry carries.
type Job struct {
	ID        string          `json:"id"`
	Queue     Name            `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Attempts  int             `json:"attempts"`
}

// Queue is a thin wrapper around a Redis list pair per logical queue: the
// main list jobs are pushed to, and a processing list a worker moves a job
// into atomically while handling it so a crashed worker's jobs are
// recoverable instead of silently dropped.
type Queue struct {
	rdb *redis.Client
}

// New creates a Queue.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a new job onto the named queue.
func (q *Queue) Enqueue(ctx context.Context, name Name, id string, payload any, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}
	job := Job{ID: id, Queue: name, Payload: body, EnqueuedAt: now}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job envelope: %w", err)
	}
	if err := q.rdb.LPush(ctx, listKey(name), jobJSON).Err(); err != nil {
		return fmt.Errorf("enqueueing job on %s: %w", name, err)
	}
	return nil
}

// ErrNoJob is returned when BLMove times out with nothing to dequeue.
var ErrNoJob = errors.New("queue: no job available")

// Dequeue blocking-moves one job from the queue's main list to its
// processing list, so Ack/Nack can find it again if the worker dies mid-job.
func (q *Queue) Dequeue(ctx context.Context, name Name, timeout time.Duration) (Job, error) {
	raw, err := q.rdb.BLMove(ctx, listKey(name), processingKey(name), "right", "left", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNoJob
	}
	if err != nil {
		return Job{}, fmt.Errorf("dequeueing from %s: %w", name, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshaling job envelope: %w", err)
	}
	return job, nil
}

// Ack removes a completed job from the processing list.
func (q *Queue) Ack(ctx context.Context, name Name, job Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job for ack: %w", err)
	}
	if err := q.rdb.LRem(ctx, processingKey(name), 1, jobJSON).Err(); err != nil {
		return fmt.Errorf("acking job on %s: %w", name, err)
	}
	return nil
}

// Nack removes the job from processing and, if attempts remain, re-enqueues
// it; otherwise drops it (the caller is expected to have already recorded a
// failed_jobs row for anything it doesn't want silently lost).
func (q *Queue) Nack(ctx context.Context, name Name, job Job, maxAttempts int, now time.Time) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job for nack: %w", err)
	}
	if err := q.rdb.LRem(ctx, processingKey(name), 1, jobJSON).Err(); err != nil {
		return fmt.Errorf("removing job from processing on %s: %w", name, err)
	}
	job.Attempts++
	if job.Attempts >= maxAttempts {
		return nil
	}
	retryJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling retried job: %w", err)
	}
	if err := q.rdb.LPush(ctx, listKey(name), retryJSON).Err(); err != nil {
		return fmt.Errorf("re-enqueueing job on %s: %w", name, err)
	}
	return nil
}

// Depth reports the main list's current length, sampled into the
// QueueDepth gauge by each worker's beat.
func (q *Queue) Depth(ctx context.Context, name Name) (int64, error) {
	n, err := q.rdb.LLen(ctx, listKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading depth for %s: %w", name, err)
	}
	return n, nil
}

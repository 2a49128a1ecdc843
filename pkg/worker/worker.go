// Package worker drains the publishing and scheduling queues, handing each
// job to pkg/publisher or pkg/automation and acking or dead-lettering it
// depending on the outcome. Grounded on the teacher's escalation engine's
// single-purpose Run loop, generalized to a small fixed-size pool per queue
// instead of one goroutine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northflare/postflow/internal/store"
	"github.com/northflare/postflow/internal/telemetry"
	"github.com/northflare/postflow/pkg/automation"
	"github.com/northflare/postflow/pkg/publisher"
	"github.com/northflare/postflow/pkg/queue"
)

const (
	dequeueTimeout = 5 * time.Second
	maxAttempts    = 5
)

// Pool drains one logical queue with a fixed number of concurrent workers.
type Pool struct {
	pool       *store.Store
	queue      *queue.Queue
	publisher  *publisher.Publisher
	automation *automation.Runtime
	logger     *slog.Logger
}

// New creates a Pool. Either publisher or automation may be nil if this
// process doesn't handle that queue's job type.
func New(pool *store.Store, q *queue.Queue, pub *publisher.Publisher, auto *automation.Runtime, logger *slog.Logger) *Pool {
	return &Pool{pool: pool, queue: q, publisher: pub, automation: auto, logger: logger}
}

type publishPayload struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	TenantSchema string    `json:"tenant_schema"`
	PostID       uuid.UUID `json:"post_id"`
}

type automationPayload struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	TenantSchema string    `json:"tenant_schema"`
	RunID        uuid.UUID `json:"run_id"`
}

// RunPublishing starts n concurrent workers draining queue.Publishing until
// ctx is cancelled.
func (p *Pool) RunPublishing(ctx context.Context, n int) {
	p.run(ctx, queue.Publishing, n, func(ctx context.Context, job queue.Job) error {
		var payload publishPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshaling publish job payload: %w", err)
		}
		err := p.publisher.PublishPost(ctx, payload.TenantSchema, payload.TenantID, payload.PostID)
		if errors.Is(err, publisher.ErrSkipped) || errors.Is(err, publisher.ErrBreakerOpen) {
			return nil
		}
		return err
	})
}

// RunAutomation starts n concurrent workers draining queue.Scheduling until
// ctx is cancelled.
func (p *Pool) RunAutomation(ctx context.Context, n int) {
	p.run(ctx, queue.Scheduling, n, func(ctx context.Context, job queue.Job) error {
		var payload automationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshaling automation job payload: %w", err)
		}
		return p.automation.ExecuteRun(ctx, payload.TenantSchema, payload.TenantID, payload.RunID)
	})
}

func (p *Pool) run(ctx context.Context, name queue.Name, n int, handle func(context.Context, queue.Job) error) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			p.loop(ctx, name, handle)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, name queue.Name, handle func(context.Context, queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, name, dequeueTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeueing job", "queue", name, "error", err)
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		err = handle(jobCtx, job)
		cancel()

		if err == nil {
			if ackErr := p.queue.Ack(ctx, name, job); ackErr != nil {
				p.logger.Error("acking job", "queue", name, "job_id", job.ID, "error", ackErr)
			}
			continue
		}

		p.logger.Warn("job failed", "queue", name, "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if job.Attempts+1 >= maxAttempts {
			if _, dlqErr := store.CreateFailedJob(ctx, p.pool.Pool, jobTenantID(job.Payload), string(name), job.Payload, []byte(err.Error())); dlqErr != nil {
				p.logger.Error("dead-lettering job", "queue", name, "job_id", job.ID, "error", dlqErr)
			}
		}
		if nackErr := p.queue.Nack(ctx, name, job, maxAttempts, time.Now()); nackErr != nil {
			p.logger.Error("nacking job", "queue", name, "job_id", job.ID, "error", nackErr)
		}
	}
}

func jobTenantID(payload json.RawMessage) uuid.UUID {
	var envelope struct {
		TenantID uuid.UUID `json:"tenant_id"`
	}
	_ = json.Unmarshal(payload, &envelope)
	return envelope.TenantID
}

// ReportDepth samples each logical queue's depth into the QueueDepth gauge.
// Intended to be called on a short interval from the worker or scheduler
// process.
func ReportDepth(ctx context.Context, q *queue.Queue, logger *slog.Logger) {
	for _, name := range []queue.Name{queue.Publishing, queue.Scheduling, queue.Analytics} {
		depth, err := q.Depth(ctx, name)
		if err != nil {
			logger.Warn("reading queue depth", "queue", name, "error", err)
			continue
		}
		telemetry.QueueDepth.WithLabelValues(string(name)).Set(float64(depth))
	}
}

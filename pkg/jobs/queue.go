// Package jobs runs detached background work. Jobs within a lane execute one
// at a time in enqueue order; failures are logged by the supervisor and never
// propagate to the caller. Post-turn extraction is the main customer: the
// turn finishes immediately while extraction catches up on its own lane.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
)

// dedupTTL bounds how long a job id suppresses re-enqueues
const dedupTTL = 5 * time.Minute

// Job is one unit of background work
type Job func(ctx context.Context) error

type jobRecord struct {
	id  string
	ctx context.Context
	job Job
}

type laneState struct {
	queue   []*jobRecord
	running bool
	mu      sync.Mutex
}

// Queue schedules detached jobs across serialized lanes
type Queue struct {
	lanes  map[string]*laneState
	seen   map[string]time.Time
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewQueue creates an empty job queue
func NewQueue(logger zerolog.Logger) *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		seen:   make(map[string]time.Time),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Enqueue schedules a job on a lane and returns immediately. The job runs on
// a detached copy of ctx, so the caller's cancellation does not abort it. A
// non-empty id deduplicates: a repeat within the TTL is dropped and Enqueue
// returns false.
func (q *Queue) Enqueue(ctx context.Context, lane, id string, job Job) bool {
	if lane == "" {
		lane = "default"
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	if id != "" {
		if enqueued, ok := q.seen[id]; ok && time.Since(enqueued) < dedupTTL {
			q.mu.Unlock()
			q.logger.Debug().Str("lane", lane).Str("job_id", id).Msg("Duplicate job dropped")
			return false
		}
		q.seen[id] = time.Now()
		q.pruneSeenLocked()
	}
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{}
		q.lanes[lane] = ls
	}
	q.mu.Unlock()

	record := &jobRecord{
		id:  id,
		ctx: tracing.CloneContext(ctx),
		job: job,
	}

	// Accounted here, not in drain: Wait must see the job the moment
	// Enqueue returns.
	q.wg.Add(1)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queued := len(ls.queue)
	ls.mu.Unlock()

	q.logger.Debug().Str("lane", lane).Str("job_id", id).Int("queued", queued).Msg("Job enqueued")
	go q.drain(lane, ls)
	return true
}

// pruneSeenLocked drops expired dedup entries. Caller holds q.mu.
func (q *Queue) pruneSeenLocked() {
	now := time.Now()
	for id, enqueued := range q.seen {
		if now.Sub(enqueued) >= dedupTTL {
			delete(q.seen, id)
		}
	}
}

// drain runs queued jobs for a lane one at a time
func (q *Queue) drain(lane string, ls *laneState) {
	ls.mu.Lock()
	if ls.running || len(ls.queue) == 0 {
		ls.mu.Unlock()
		return
	}
	ls.running = true
	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.supervise(lane, record)

		ls.mu.Lock()
		ls.running = false
		ls.mu.Unlock()
		q.drain(lane, ls)
	}()
}

// supervise executes one job, containing panics and logging failures
func (q *Queue) supervise(lane string, record *jobRecord) {
	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	runCtx, span := tracing.Span(runCtx, "jobs.run",
		attribute.String("lane", lane),
		attribute.String("job_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(runCtx, q.logger)
	start := time.Now()

	err := q.runContained(runCtx, record.job)
	duration := time.Since(start)
	observability.RecordJob(lane, duration, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Str("lane", lane).
			Str("job_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Background job failed")
		return
	}
	logger.Debug().
		Str("lane", lane).
		Str("job_id", record.id).
		Dur("duration", duration).
		Msg("Background job completed")
}

func (q *Queue) runContained(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

// QueueSize returns the number of waiting jobs on a lane
func (q *Queue) QueueSize(lane string) int {
	q.mu.Lock()
	ls, ok := q.lanes[lane]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Wait blocks until every enqueued job has finished or the timeout elapses.
// Returns false on timeout.
func (q *Queue) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close cancels running jobs and waits for them to return
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

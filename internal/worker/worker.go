// Package worker drives the job state machine: it claims pending jobs one at
// a time, dispatches them to the handler registered for their type, and
// reports the outcome back to the store. A handler failure never escapes the
// dispatch boundary; one bad job cannot stop the loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jimmitchell/vibereader/internal/jobs"
	"github.com/jimmitchell/vibereader/internal/store"
)

// staleCheckInterval is how often the daemon's recovery goroutine reclaims
// expired leases.
const staleCheckInterval = 1 * time.Minute

// Handler is the function executed for each claimed job. A nil return marks
// the job completed; a non-nil return fails it, consuming one attempt.
// Errors tagged jobs.Permanent terminalize the job immediately instead.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Queue is the slice of store behavior the worker needs. *store.Store
// implements it; tests substitute an in-memory fake.
type Queue interface {
	ClaimJob(ctx context.Context, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, errMsg string) error
	DiscardJob(ctx context.Context, id int64, errMsg string) error
	RecoverStaleClaims(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Worker claims and executes jobs. A random workerID distinguishes this
// process in the locked_by column.
type Worker struct {
	queue      Queue
	workerID   string
	staleAfter time.Duration
	handlers   map[jobs.Type]Handler
	log        *slog.Logger
}

// New creates a Worker. staleAfter is the lease: processing jobs claimed
// longer ago than this are treated as abandoned and reclaimed.
func New(q Queue, staleAfter time.Duration) *Worker {
	return &Worker{
		queue:      q,
		workerID:   uuid.New().String(),
		staleAfter: staleAfter,
		handlers:   make(map[jobs.Type]Handler),
		log:        slog.Default(),
	}
}

// Register associates h with the given job type. Must be called before the
// worker starts processing.
func (w *Worker) Register(t jobs.Type, h Handler) {
	w.handlers[t] = h
}

// ProcessNext claims and executes one job. Returns false when no pending job
// was available. Handler errors are converted into fail/discard calls and do
// not propagate; only store errors do.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimJob(ctx, w.workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.log.Info("executing job",
		"job_id", job.ID, "type", job.Type, "attempts", job.Attempts)

	handlerErr := w.dispatch(ctx, job)
	if handlerErr == nil {
		if err := w.queue.CompleteJob(ctx, job.ID); err != nil {
			return true, err
		}
		w.log.Info("job completed", "job_id", job.ID, "type", job.Type)
		return true, nil
	}

	w.log.Error("job handler failed",
		"job_id", job.ID, "type", job.Type, "attempts", job.Attempts,
		"permanent", jobs.IsPermanent(handlerErr), "error", handlerErr)

	if jobs.IsPermanent(handlerErr) {
		if err := w.queue.DiscardJob(ctx, job.ID, handlerErr.Error()); err != nil {
			return true, err
		}
		return true, nil
	}
	if err := w.queue.FailJob(ctx, job.ID, handlerErr.Error()); err != nil {
		return true, err
	}
	return true, nil
}

// dispatch runs the matching handler inside a panic boundary, so a panicking
// handler is recorded as a job failure instead of killing the process.
func (w *Worker) dispatch(ctx context.Context, job *store.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	h, ok := w.handlers[job.Type]
	if !ok {
		return jobs.Permanent(fmt.Errorf("no handler registered for job type %q", job.Type))
	}
	return h(ctx, job.Payload)
}

// Drain processes jobs until the queue is empty or maxJobs have been
// processed (success and failure both count); maxJobs <= 0 means unbounded.
// This is the cron-invocation model: it never sleeps. One lease recovery
// pass runs first so jobs stranded by a crashed worker re-enter the queue.
func (w *Worker) Drain(ctx context.Context, maxJobs int) (int, error) {
	if n, err := w.queue.RecoverStaleClaims(ctx, w.staleAfter); err != nil {
		return 0, err
	} else if n > 0 {
		w.log.Info("reclaimed stale jobs", "count", n)
	}

	processed := 0
	for maxJobs <= 0 || processed < maxJobs {
		ok, err := w.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

// Run is daemon mode: loop forever, sleeping for sleep whenever the queue is
// empty, until ctx is cancelled. A recovery goroutine reclaims expired
// leases on a fixed interval. Store errors are logged and retried after the
// sleep interval rather than terminating the daemon.
func (w *Worker) Run(ctx context.Context, sleep time.Duration) {
	go w.runStaleRecovery(ctx)

	w.log.Info("worker started", "worker_id", w.workerID, "sleep", sleep)
	for {
		ok, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping", "worker_id", w.workerID)
				return
			}
			w.log.Error("process next job", "error", err)
		}
		if ok && err == nil {
			continue
		}

		// Queue empty (or store hiccup): suspend instead of busy-polling.
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info("worker stopping", "worker_id", w.workerID)
			return
		case <-timer.C:
		}
	}
}

// runStaleRecovery periodically reclaims expired leases. Uses time.NewTicker
// (not time.After) to avoid timer leaks.
func (w *Worker) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.RecoverStaleClaims(ctx, w.staleAfter)
			if err != nil {
				w.log.Error("stale claim recovery", "error", err)
				continue
			}
			if n > 0 {
				w.log.Info("reclaimed stale jobs", "count", n)
			}
		}
	}
}

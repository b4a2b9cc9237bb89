// queue.go bounds concurrent subprocess execution. Jobs are admitted in
// arrival order; there is no priority or preemption, since reordering agent
// turns would violate conversational ordering expectations.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// QueueConfig configures the command queue.
type QueueConfig struct {
	// Concurrency is the number of jobs allowed to execute at once
	// (default: 2).
	Concurrency int `yaml:"concurrency"`
}

// Effective returns a copy with defaults filled in for zero values.
func (c QueueConfig) Effective() QueueConfig {
	out := c
	if out.Concurrency <= 0 {
		out.Concurrency = 2
	}
	return out
}

// RunFunc executes one admitted job. The CommandQueue is execution-agnostic;
// in production this is Runner.Run.
type RunFunc func(ctx context.Context, job *Job) (RunResult, error)

// OnWait is notified at most once per job, right before a job that had to
// wait starts executing.
type OnWait func(waited time.Duration, ahead int)

// CommandQueue admits invocation jobs FIFO, bounded by a fixed concurrency
// limit. Failure of one job never affects others; the queue itself never
// fails. Only the job's own result carries failure information.
type CommandQueue struct {
	limit  int
	run    RunFunc
	logger *slog.Logger

	mu      sync.Mutex
	active  int
	waiters []*queueWaiter
}

type queueWaiter struct {
	ready chan struct{}
}

// NewCommandQueue creates a queue that executes jobs via run.
func NewCommandQueue(cfg QueueConfig, run RunFunc, logger *slog.Logger) *CommandQueue {
	cfg = cfg.Effective()
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandQueue{
		limit:  cfg.Concurrency,
		run:    run,
		logger: logger.With("component", "queue"),
	}
}

// Enqueue submits a job and blocks until it completes. If the job had to
// wait for a slot, onWait fires once with the wait duration and the number
// of jobs that were ahead of it at submission. The returned error only
// reflects the job's own setup failure or a context cancelled while
// waiting, never another job's outcome.
func (q *CommandQueue) Enqueue(ctx context.Context, job *Job, onWait OnWait) (RunResult, error) {
	start := time.Now()

	q.mu.Lock()
	if q.active < q.limit {
		q.active++
		q.mu.Unlock()
	} else {
		w := &queueWaiter{ready: make(chan struct{})}
		ahead := len(q.waiters)
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-w.ready:
		case <-ctx.Done():
			if !q.abandon(w) {
				// The slot was handed over concurrently; give it back.
				q.release()
			}
			return RunResult{}, ctx.Err()
		}

		waited := time.Since(start)
		q.logger.Debug("job admitted after wait", "waited", waited, "ahead", ahead)
		if onWait != nil {
			onWait(waited, ahead)
		}
	}

	defer q.release()
	return q.run(ctx, job)
}

// Depth returns the number of jobs currently waiting for a slot.
func (q *CommandQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// release frees a slot, handing it to the oldest waiter if any.
func (q *CommandQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(w.ready)
		return
	}
	q.active--
}

// abandon removes a waiter that gave up (context cancelled). Returns false
// when the waiter was already admitted.
func (q *CommandQueue) abandon(w *queueWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, cand := range q.waiters {
		if cand == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

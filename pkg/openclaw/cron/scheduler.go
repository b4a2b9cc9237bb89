// scheduler.go is the dispatch loop: it sleeps until the earliest pending
// next-run instant, fires due jobs into the pipeline and records their
// outcome. Each pass goes through EnsureLoaded, so external edits to the
// store file are picked up between ticks.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// maxSleep caps how long the loop sleeps so newly added or externally
// edited jobs are noticed promptly.
const maxSleep = 10 * time.Second

// JobHandler executes one due job's payload through the pipeline. The
// returned error is recorded on the job state; it never stops the loop.
type JobHandler func(ctx context.Context, job Job) error

// Scheduler drives the store's due jobs into a handler.
type Scheduler struct {
	store   *Store
	handler JobHandler
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(store *Store, handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  logger.With("component", "cron"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.EnsureLoaded(); err != nil {
		return err
	}
	jobs, _ := s.store.Jobs()
	s.logger.Info("cron scheduler started", "jobs", len(jobs))

	go s.loop(ctx)
	return nil
}

// Stop halts the loop and waits for in-flight job dispatches.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		delay := s.nextDelay()
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
			s.dispatchDue(ctx)
		}
	}
}

// nextDelay computes how long to sleep before the next pass.
func (s *Scheduler) nextDelay() time.Duration {
	wake, err := s.store.NextWakeMs()
	if err != nil {
		s.logger.Warn("cron store load failed", "err", err)
		return maxSleep
	}
	if wake <= 0 {
		return maxSleep
	}
	delay := time.Duration(wake-nowMs()) * time.Millisecond
	if delay < 0 {
		return 0
	}
	if delay > maxSleep {
		return maxSleep
	}
	return delay
}

// dispatchDue fires every due job. Schedules advance before execution so a
// slow handler can't cause refires; outcomes are recorded after.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	due, err := s.store.Due(nowMs())
	if err != nil {
		s.logger.Warn("cron store load failed", "err", err)
		return
	}

	for _, job := range due {
		if err := s.store.BeginRun(job.ID); err != nil {
			s.logger.Warn("cron job begin failed", "job", job.ID, "err", err)
			continue
		}

		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.logger.Info("cron job firing", "job", job.ID, "name", job.Name)

			runErr := s.handler(ctx, job)
			if runErr != nil {
				s.logger.Warn("cron job failed", "job", job.ID, "err", runErr)
			}
			if err := s.store.FinishRun(job.ID, runErr); err != nil {
				s.logger.Warn("cron job finish failed", "job", job.ID, "err", err)
			}
		}(job)
	}
}

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	q := NewCommandQueue(QueueConfig{Concurrency: 2}, func(ctx context.Context, job *Job) (RunResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return RunResult{}, nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), &Job{}, nil)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

// blockingQueue returns a single-slot queue whose jobs block until release
// is closed, signalling each admission on started.
func blockingQueue(record func(*Job)) (q *CommandQueue, started chan struct{}, release chan struct{}) {
	started = make(chan struct{}, 16)
	release = make(chan struct{})
	q = NewCommandQueue(QueueConfig{Concurrency: 1}, func(ctx context.Context, job *Job) (RunResult, error) {
		started <- struct{}{}
		<-release
		if record != nil {
			record(job)
		}
		return RunResult{}, nil
	}, nil)
	return q, started, release
}

func waitForDepth(t *testing.T, q *CommandQueue, depth int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Depth() == depth {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue depth never reached %d (now %d)", depth, q.Depth())
}

func TestQueueFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	q, started, release := blockingQueue(func(job *Job) {
		mu.Lock()
		order = append(order, len(job.Argv))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	start := func(id int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), &Job{Argv: make([]string, id)}, nil)
		}()
	}

	start(1)
	<-started // job 1 holds the slot
	for id := 2; id <= 4; id++ {
		start(id)
		waitForDepth(t, q, id-1)
	}

	close(release)
	wg.Wait()

	for i, id := range order {
		if id != i+1 {
			t.Fatalf("order = %v, want submission order", order)
		}
	}
}

func TestQueueOnWaitFiresOnceForWaiters(t *testing.T) {
	q, started, release := blockingQueue(nil)

	var firstNotified, secondNotified atomic.Int32
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Enqueue(context.Background(), &Job{}, func(time.Duration, int) {
			firstNotified.Add(1)
		})
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Enqueue(context.Background(), &Job{}, func(waited time.Duration, ahead int) {
			secondNotified.Add(1)
			if ahead != 0 {
				t.Errorf("ahead = %d, want 0", ahead)
			}
		})
	}()
	waitForDepth(t, q, 1)

	close(release)
	wg.Wait()

	if n := firstNotified.Load(); n != 0 {
		t.Errorf("immediately admitted job notified %d times", n)
	}
	if n := secondNotified.Load(); n != 1 {
		t.Errorf("waiting job notified %d times, want 1", n)
	}
}

func TestQueueCancelWhileWaiting(t *testing.T) {
	q, started, release := blockingQueue(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Enqueue(context.Background(), &Job{}, nil)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, &Job{}, nil)
		errCh <- err
	}()
	waitForDepth(t, q, 1)

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if q.Depth() != 0 {
		t.Errorf("abandoned waiter left in queue, depth = %d", q.Depth())
	}

	close(release)
	wg.Wait()

	// New jobs must still be admitted after the cancelled waiter.
	done := make(chan struct{})
	go func() {
		q.Enqueue(context.Background(), &Job{}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stuck after a cancelled waiter")
	}
}

func TestQueueFailureIsolation(t *testing.T) {
	boom := errors.New("boom")
	q := NewCommandQueue(QueueConfig{Concurrency: 1}, func(ctx context.Context, job *Job) (RunResult, error) {
		if len(job.Argv) == 0 {
			return RunResult{}, boom
		}
		return RunResult{Stdout: "ok"}, nil
	}, nil)

	if _, err := q.Enqueue(context.Background(), &Job{}, nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	res, err := q.Enqueue(context.Background(), &Job{Argv: []string{"x"}}, nil)
	if err != nil || res.Stdout != "ok" {
		t.Errorf("second job affected by first failure: %v %v", res, err)
	}
}

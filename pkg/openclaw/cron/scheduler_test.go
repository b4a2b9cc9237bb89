package cron

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSchedulerDispatchesDueJob(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cron.json"), nil)
	job, err := store.Add("fast", "", Schedule{Kind: KindEvery, Every: 10, Unit: "ms"},
		Payload{Kind: PayloadSystemEvent, Text: "tick"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	fired := make(chan Job, 8)
	sched := NewScheduler(store, func(ctx context.Context, j Job) error {
		fired <- j
		return nil
	}, nil)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	select {
	case j := <-fired:
		if j.ID != job.ID {
			t.Errorf("fired job %s, want %s", j.ID, job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("due job never dispatched")
	}
}

func TestSchedulerRecordsHandlerError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cron.json"), nil)
	job, err := store.Add("failing", "", Schedule{Kind: KindEvery, Every: 10, Unit: "ms"},
		Payload{Kind: PayloadSystemEvent, Text: "tick"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	fired := make(chan struct{}, 8)
	sched := NewScheduler(store, func(ctx context.Context, j Job) error {
		fired <- struct{}{}
		return errors.New("handler boom")
	}, nil)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-fired
	sched.Stop()

	got, _, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.LastStatus != "error" || got.State.LastError != "handler boom" {
		t.Errorf("state = %+v, want handler error recorded", got.State)
	}
}

func TestSchedulerAdvancesBeforeExecution(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cron.json"), nil)
	job, err := store.Add("slow", "", Schedule{Kind: KindEvery, Every: 1, Unit: "h"},
		Payload{Kind: PayloadSystemEvent, Text: "tick"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.RunNow(job.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	sched := NewScheduler(store, func(ctx context.Context, j Job) error {
		close(entered)
		<-release
		return nil
	}, nil)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-entered
	// While the handler is still running, the schedule has already moved on.
	got, _, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.NextRunAtMs <= time.Now().Add(30*time.Minute).UnixMilli() {
		t.Errorf("next run = %d, want advanced a full interval before execution", got.State.NextRunAtMs)
	}

	close(release)
	sched.Stop()
}

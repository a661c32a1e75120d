package jobs

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFires(t *testing.T, fires *atomic.Int32, within time.Duration) bool {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return false
		case <-ticker.C:
			if fires.Load() > 0 {
				return true
			}
		}
	}
}

func TestSchedulerFiresJob(t *testing.T) {
	store := newTestStore(t)
	job := downloadJob("every-second")
	job.Schedule = "* * * * * *"
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int32
	sched := NewScheduler(store, func(job *Job) {
		if job.Name == "every-second" {
			fires.Add(1)
		}
	})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if !waitFires(t, &fires, 2500*time.Millisecond) {
		t.Fatalf("handler did not fire within 2.5s")
	}
}

func TestSchedulerSkipsDisabledAndUnscheduled(t *testing.T) {
	store := newTestStore(t)
	disabled := downloadJob("disabled")
	disabled.Schedule = "* * * * * *"
	disabled.Enabled = false
	if err := store.Add(disabled); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(downloadJob("manual")); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int32
	sched := NewScheduler(store, func(job *Job) { fires.Add(1) })
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Errorf("expected no fires, got %d", n)
	}
}

func TestSchedulerReloadPicksUpNewJobs(t *testing.T) {
	store := newTestStore(t)

	var fires atomic.Int32
	sched := NewScheduler(store, func(job *Job) { fires.Add(1) })
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	job := downloadJob("added-later")
	job.Schedule = "* * * * * *"
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}

	if !waitFires(t, &fires, 2500*time.Millisecond) {
		t.Fatalf("reloaded job did not fire within 2.5s")
	}
}

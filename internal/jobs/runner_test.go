package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/expmirror/internal/transfer"
)

type funcExecutor func(ctx context.Context, job *Job) (*transfer.Summary, error)

func (f funcExecutor) Execute(ctx context.Context, job *Job) (*transfer.Summary, error) {
	return f(ctx, job)
}

func TestRunnerConcurrency(t *testing.T) {
	var running, maxSeen int32
	exec := funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	})

	runner := NewRunner(nil, exec, 2)
	runner.Start(context.Background())
	defer runner.Stop()

	for i := 0; i < 5; i++ {
		if _, err := runner.Enqueue(downloadJob(fmt.Sprintf("job-%d", i)), "test", ""); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if !runner.WaitIdle(2 * time.Second) {
		t.Fatal("runner did not go idle")
	}
	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestRunnerSameJobRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 3)
	exec := funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		mu.Lock()
		order = append(order, job.Source)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		done <- struct{}{}
		return nil, nil
	})

	runner := NewRunner(nil, exec, 4)
	runner.Start(context.Background())
	defer runner.Stop()

	for _, src := range []string{"ws/a", "ws/b", "ws/c"} {
		job := downloadJob("same")
		job.Source = src
		if _, err := runner.Enqueue(job, "test", ""); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for runs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "ws/a,ws/b,ws/c" {
		t.Errorf("expected FIFO order, got %v", order)
	}
}

func TestRunnerRecordsAndNotifies(t *testing.T) {
	store := newTestStore(t)
	job := downloadJob("nightly")
	job.Notify = "telegram:42"
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	exec := funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		s := transfer.NewSummary("Download Summary", "Download Count")
		s.Add("metrics", 3)
		s.Fail()
		return s, nil
	})

	type delivered struct{ target, msg string }
	got := make(chan delivered, 1)
	runner := NewRunner(store, exec, 1)
	runner.SetNotifier(func(target, message string) error {
		got <- delivered{target, message}
		return nil
	})
	runner.Start(context.Background())
	defer runner.Stop()

	id, err := runner.Enqueue(job, "cron", "")
	if err != nil {
		t.Fatal(err)
	}

	var d delivered
	select {
	case d = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no report delivered")
	}
	if d.target != "telegram:42" {
		t.Errorf("expected job target, got %q", d.target)
	}
	if !strings.Contains(d.msg, "Job nightly (download) ok") || !strings.Contains(d.msg, "metrics") {
		t.Errorf("unexpected report:\n%s", d.msg)
	}

	saved, err := store.Get("nightly")
	if err != nil {
		t.Fatal(err)
	}
	if saved.LastRun == nil || saved.LastRun.ID != id {
		t.Fatalf("expected last run %s, got %+v", id, saved.LastRun)
	}
	if saved.LastRun.Resources != 3 || saved.LastRun.Failed != 1 || saved.LastRun.Trigger != "cron" {
		t.Errorf("unexpected run record %+v", saved.LastRun)
	}
}

func TestRunnerFailedRun(t *testing.T) {
	store := newTestStore(t)
	job := downloadJob("broken")
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 1)
	runner := NewRunner(store, funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		return nil, errors.New("workspace missing")
	}), 1)
	runner.SetNotifier(func(target, message string) error {
		got <- target + "|" + message
		return nil
	})
	runner.Start(context.Background())
	defer runner.Stop()

	if _, err := runner.Enqueue(job, "http", "telegram:7"); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if !strings.HasPrefix(msg, "telegram:7|") {
			t.Errorf("expected override target, got %q", msg)
		}
		if !strings.Contains(msg, "failed") || !strings.Contains(msg, "workspace missing") {
			t.Errorf("unexpected report %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report delivered")
	}

	saved, err := store.Get("broken")
	if err != nil {
		t.Fatal(err)
	}
	if saved.LastRun == nil || saved.LastRun.Status != StatusFailed || saved.LastRun.Error != "workspace missing" {
		t.Errorf("unexpected run record %+v", saved.LastRun)
	}
}

func TestRunnerRejectsAfterStop(t *testing.T) {
	runner := NewRunner(nil, funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		return nil, nil
	}), 1)
	if _, err := runner.Enqueue(downloadJob("early"), "test", ""); err == nil {
		t.Error("expected error before Start")
	}
	runner.Start(context.Background())
	runner.Stop()
	if _, err := runner.Enqueue(downloadJob("late"), "test", ""); err == nil {
		t.Error("expected error after Stop")
	}
}

func TestRunnerStopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	runner := NewRunner(nil, funcExecutor(func(ctx context.Context, job *Job) (*transfer.Summary, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	}), 1)
	runner.Start(context.Background())

	if _, err := runner.Enqueue(downloadJob("long"), "test", ""); err != nil {
		t.Fatal(err)
	}
	<-started
	runner.Stop()

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("run context was not canceled")
	}
}

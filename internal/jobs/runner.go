package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/user/expmirror/internal/transfer"
)

// Executor runs the engine a job names and returns its summary.
type Executor interface {
	Execute(ctx context.Context, job *Job) (*transfer.Summary, error)
}

// NotifyFunc sends a finished run's report to a delivery target.
type NotifyFunc func(target, message string) error

// Run is one queued execution of a job.
type Run struct {
	ID      string
	Job     *Job
	Trigger string
	// Notify overrides the job's own delivery target when set.
	Notify string
}

func (r *Run) target() string {
	if r.Notify != "" {
		return r.Notify
	}
	return r.Job.Notify
}

// Runner manages per-job lanes with a global concurrency semaphore. Runs
// of one job execute in order; the semaphore bounds how many jobs run at
// once.
type Runner struct {
	store  *Store
	exec   Executor
	notify NotifyFunc

	lanes     map[string]chan *Run
	semaphore *semaphore.Weighted
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunner creates a Runner that allows up to maxConcurrent jobs to run
// simultaneously. store may be nil, in which case runs are not recorded.
func NewRunner(store *Store, exec Executor, maxConcurrent int64) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		store:     store,
		exec:      exec,
		lanes:     make(map[string]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// SetNotifier sets the function that receives run reports.
func (r *Runner) SetNotifier(fn NotifyFunc) {
	r.notify = fn
}

// Start initialises the runner's context. Must be called before Enqueue.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight runs, closes all lanes and waits for them.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	for name, lane := range r.lanes {
		close(lane)
		delete(r.lanes, name)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Enqueue queues a run of job and returns its run ID.
func (r *Runner) Enqueue(job *Job, trigger, notify string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil || r.ctx.Err() != nil {
		return "", fmt.Errorf("runner is not running")
	}
	run := &Run{ID: uuid.NewString(), Job: job, Trigger: trigger, Notify: notify}

	lane, exists := r.lanes[job.Name]
	if !exists {
		lane = make(chan *Run, 100)
		r.lanes[job.Name] = lane
		r.wg.Add(1)
		go r.processLane(lane)
	}

	select {
	case lane <- run:
		slog.Info("job queued", "name", job.Name, "run_id", run.ID, "trigger", trigger)
		return run.ID, nil
	default:
		return "", fmt.Errorf("queue full for job %s", job.Name)
	}
}

func (r *Runner) processLane(lane chan *Run) {
	defer r.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := r.semaphore.Acquire(r.ctx, 1); err != nil {
				return
			}
			r.active.Add(1)
			r.process(run)
			r.active.Add(-1)
			r.semaphore.Release(1)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) process(run *Run) {
	rec := RunRecord{ID: run.ID, Trigger: run.Trigger, Started: time.Now()}
	summary, err := r.exec.Execute(r.ctx, run.Job)
	rec.Finished = time.Now()
	rec.Status = StatusOK
	if summary != nil {
		rec.Resources = summary.Total()
		rec.Failed = summary.Failed()
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		slog.Error("job failed", "name", run.Job.Name, "run_id", run.ID, "error", err)
	} else {
		slog.Info("job finished", "name", run.Job.Name, "run_id", run.ID,
			"resources", rec.Resources, "failed", rec.Failed, "elapsed", rec.Finished.Sub(rec.Started))
	}

	if r.store != nil {
		if err := r.store.RecordRun(run.Job.Name, rec); err != nil {
			slog.Warn("failed to record run", "name", run.Job.Name, "error", err)
		}
	}

	target := run.target()
	if target == "" || r.notify == nil {
		return
	}
	if err := r.notify(target, Report(run.Job, rec, summary)); err != nil {
		slog.Error("report delivery failed", "name", run.Job.Name, "target", target, "error", err)
	}
}

// WaitIdle blocks until no runs are executing, or the timeout expires.
// Returns true if idle, false if timed out.
func (r *Runner) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if r.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Report renders a finished run as a plain-text message.
func Report(job *Job, rec RunRecord, summary *transfer.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s (%s) %s in %s\n", job.Name, job.Kind, rec.Status,
		rec.Finished.Sub(rec.Started).Round(time.Second))
	if rec.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.Error)
	}
	if summary != nil && !summary.Empty() {
		b.WriteString("\n")
		summary.Render(&b)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Package jobs stores named mirror jobs and runs them on demand, on a cron
// schedule or from the HTTP trigger server.
package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/expmirror/internal/catalog"
)

// Kind selects the engine a job runs.
type Kind string

const (
	KindDownload Kind = "download"
	KindCopy     Kind = "copy"
)

// Job is a saved download or copy. Copy jobs with an Output read from that
// canonical root; without one they read from the live source platform.
type Job struct {
	Name        string     `json:"name"`
	Kind        Kind       `json:"kind"`
	Source      string     `json:"source"`
	Destination string     `json:"destination,omitempty"`
	Output      string     `json:"output,omitempty"`
	Resources   []string   `json:"resources,omitempty"`
	Ignore      []string   `json:"ignore,omitempty"`
	Schedule    string     `json:"schedule,omitempty"`
	Notify      string     `json:"notify,omitempty"`
	Enabled     bool       `json:"enabled"`
	LastRun     *RunRecord `json:"last_run,omitempty"`
}

// RunRecord is the outcome of the most recent run of a job.
type RunRecord struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Status    string    `json:"status"`
	Resources int       `json:"resources"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Validate checks a job before it is stored.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Source == "" {
		return fmt.Errorf("job %s: source is required", j.Name)
	}
	switch j.Kind {
	case KindDownload:
		if j.Output == "" {
			return fmt.Errorf("job %s: download jobs need an output directory", j.Name)
		}
		if _, err := catalog.Expand(j.Resources, j.Ignore); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
	case KindCopy:
		if j.Destination == "" {
			return fmt.Errorf("job %s: copy jobs need a destination", j.Name)
		}
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.Name, j.Kind)
	}
	if j.Schedule != "" {
		if _, err := cronParser.Parse(j.Schedule); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
		}
	}
	return nil
}

// Store is a JSON-file-backed store for jobs.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore creates a Store at the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path used by this store.
func (s *Store) Path() string {
	return s.path
}

// List returns all jobs. Returns an empty slice if the file doesn't exist.
func (s *Store) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		return []*Job{}, nil
	}
	return jobs, nil
}

// Get finds a job by name.
func (s *Store) Get(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

// Add validates and appends a job. Names are unique.
func (s *Store) Add(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job already exists: %s", job.Name)
		}
	}
	return s.save(append(jobs, job))
}

// Remove deletes a job by name.
func (s *Store) Remove(name string) error {
	return s.update(name, func(jobs []*Job, i int) []*Job {
		return append(jobs[:i], jobs[i+1:]...)
	})
}

// SetEnabled toggles the enabled flag for a job.
func (s *Store) SetEnabled(name string, enabled bool) error {
	return s.update(name, func(jobs []*Job, i int) []*Job {
		jobs[i].Enabled = enabled
		return jobs
	})
}

// RecordRun stores rec as the job's last run.
func (s *Store) RecordRun(name string, rec RunRecord) error {
	return s.update(name, func(jobs []*Job, i int) []*Job {
		jobs[i].LastRun = &rec
		return jobs
	})
}

func (s *Store) update(name string, fn func(jobs []*Job, i int) []*Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i, job := range jobs {
		if job.Name == name {
			return s.save(fn(jobs, i))
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

func (s *Store) load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal jobs: %w", err)
	}
	return jobs, nil
}

// save writes the job list with a temp file and rename.
func (s *Store) save(jobs []*Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp jobs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp jobs file: %w", err)
	}
	return nil
}

// Package scheduler runs background work for the daemon: interval tasks that
// live as long as the scheduler, and one-shot jobs such as a boot restore.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/logging"
)

// ErrNotRunning is returned by Submit when the scheduler refuses work.
var ErrNotRunning = errors.New("scheduler not running")

// TaskFunc performs one unit of work. ctx is cancelled by Stop.
type TaskFunc func(ctx context.Context) error

// Task is run every Interval while the scheduler is running.
type Task struct {
	ID         string
	Interval   time.Duration
	RunOnStart bool
	Timeout    time.Duration // per run; zero means none
	Func       TaskFunc
}

// TaskStatus reports the history of an interval task.
type TaskStatus struct {
	ID           string        `json:"id"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
}

// JobStats counts one-shot jobs.
type JobStats struct {
	Submitted int64 `json:"submitted"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
}

// Scheduler runs tasks and jobs until stopped. A stopped scheduler can be
// started again.
type Scheduler struct {
	logger *logging.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	status  map[string]*TaskStatus
	jobs    JobStats
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler. A nil logger uses the default.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		logger: logger.WithComponent("scheduler"),
		tasks:  make(map[string]*Task),
		status: make(map[string]*TaskStatus),
	}
}

// AddTask registers an interval task. Tasks added while running start at once.
func (s *Scheduler) AddTask(t *Task) error {
	switch {
	case t.ID == "":
		return fmt.Errorf("task ID is required")
	case t.Interval <= 0:
		return fmt.Errorf("task %s: interval must be positive", t.ID)
	case t.Func == nil:
		return fmt.Errorf("task %s: function is required", t.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t
	s.status[t.ID] = &TaskStatus{ID: t.ID}
	if s.running {
		s.startTask(t)
	}
	s.logger.Debug("task added", "id", t.ID, "interval", t.Interval)
	return nil
}

// Submit runs fn once in the background. It fails with ErrNotRunning when the
// scheduler has not been started or has been stopped.
func (s *Scheduler) Submit(name string, fn TaskFunc) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("submit %s: %w", name, ErrNotRunning)
	}
	ctx := s.ctx
	s.jobs.Submitted++
	s.jobs.InFlight++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.call(ctx, name, fn)

		s.mu.Lock()
		s.jobs.InFlight--
		if err != nil {
			s.jobs.Failed++
		}
		s.mu.Unlock()
	}()
	return nil
}

// Start launches every registered task. Starting twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	for _, t := range s.tasks {
		s.startTask(t)
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels tasks and jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wait blocks until in-flight jobs and task runs return. Interval tasks keep
// the scheduler busy until Stop, so Wait is only useful for job-only use.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tasks returns the status of every interval task ordered by ID.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Task returns the status of one task.
func (s *Scheduler) Task(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[id]
	if !ok {
		return TaskStatus{}, false
	}
	return *st, true
}

// Jobs returns one-shot job counters.
func (s *Scheduler) Jobs() JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs
}

// startTask must be called with s.mu held.
func (s *Scheduler) startTask(t *Task) {
	s.wg.Add(1)
	go s.loop(s.ctx, t)
}

func (s *Scheduler) loop(ctx context.Context, t *Task) {
	defer s.wg.Done()

	if t.RunOnStart {
		s.runTask(ctx, t)
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := clock.Now()
	err := s.call(ctx, t.ID, t.Func)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[t.ID]
	st.LastRun = start
	st.LastDuration = clock.Since(start)
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
		st.Failures++
	}
}

// call runs fn, turning a panic into an error.
func (s *Scheduler) call(ctx context.Context, name string, fn TaskFunc) (err error) {
	start := clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
		if err != nil {
			s.logger.Warn("run failed", "name", name, "error", err, "duration", clock.Since(start))
			return
		}
		s.logger.Debug("run completed", "name", name, "duration", clock.Since(start))
	}()
	return fn(ctx)
}

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bothost/pkg/logger"
	"bothost/pkg/metrics"

	"github.com/thejerf/suture/v4"
)

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// DelayedJob is a job whose first run waits one interval instead of
// running at start.
type DelayedJob interface {
	Job
	SkipFirstRun() bool
}

// Func adapts a function to the Job interface.
type Func struct {
	JobName string
	Every   time.Duration
	Delay   bool
	Fn      func(ctx context.Context) error
}

func (f *Func) Name() string { return f.JobName }

func (f *Func) Interval() time.Duration { return f.Every }

func (f *Func) SkipFirstRun() bool { return f.Delay }

func (f *Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Options tunes the supervisor that restarts panicking jobs.
type Options struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// Manager runs every registered job as a supervised service. A failed
// iteration is logged and the job waits its normal interval; a panic
// restarts the job under the supervisor's failure backoff.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	sup    *suture.Supervisor

	mu      sync.Mutex
	jobs    []Job
	started bool
	done    <-chan error
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	return NewManagerWithOptions(parent, Options{})
}

// NewManagerWithOptions creates a job manager with explicit supervisor settings.
func NewManagerWithOptions(parent context.Context, opts Options) *Manager {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.FailureDecay == 0 {
		opts.FailureDecay = 30
	}
	if opts.FailureBackoff == 0 {
		opts.FailureBackoff = 15 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	sup := suture.New("jobs", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.WarnCtx(ctx, "job supervisor: %s", e)
		},
		FailureThreshold: opts.FailureThreshold,
		FailureDecay:     opts.FailureDecay,
		FailureBackoff:   opts.FailureBackoff,
		Timeout:          opts.ShutdownTimeout,
	})
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		sup:    sup,
		jobs:   make([]Job, 0),
	}
}

// Register adds a job to the manager. Jobs registered after Start are ignored.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		logger.WarnCtx(m.ctx, "job %s registered after start, ignoring", job.Name())
		return
	}
	m.jobs = append(m.jobs, job)
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for _, job := range m.jobs {
		m.sup.Add(&jobService{job: job})
	}
	m.done = m.sup.ServeBackground(m.ctx)
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until the supervisor has stopped every job.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// jobService is the suture service around one job. The same value is
// reused across restarts.
type jobService struct {
	job    Job
	served bool
}

func (s *jobService) String() string {
	return s.job.Name()
}

func (s *jobService) Serve(ctx context.Context) error {
	interval := s.job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	// after a panic restart, wait an interval before running again
	restarted := s.served
	s.served = true
	delayed, ok := s.job.(DelayedJob)
	if !restarted && !(ok && delayed.SkipFirstRun()) {
		s.execute(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *jobService) execute(ctx context.Context) {
	name := s.job.Name()
	start := time.Now()
	outcome := "success"
	defer func() {
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.JobRunsTotal.WithLabelValues(name, outcome).Inc()
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			panic(fmt.Sprintf("job %s: %v", name, r))
		}
	}()

	if err := s.job.Run(ctx); err != nil {
		outcome = "error"
		logger.WarnCtx(ctx, "background job %s failed: %v", name, err)
	}
}

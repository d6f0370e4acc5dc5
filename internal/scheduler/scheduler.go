package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type JobFunc func(ctx context.Context) error

type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	Skips     int64         `json:"skips"`
	LastRun   time.Time     `json:"last_run,omitzero"`
	LastError string        `json:"last_error,omitempty"`
	Running   bool          `json:"running"`
}

// Scheduler runs each registered job on its own fixed interval, one tick
// loop per job, with an explicit Start/Stop lifecycle. A job never overlaps
// itself: a tick that fires while the previous run is still in flight is
// skipped and counted. Job panics are recovered and recorded as the job's
// last error.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	mu      sync.Mutex
	runs    int64
	skips   int64
	lastRun time.Time
	lastErr string
	running bool
}

func New(clock Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{clock: clock, logger: logger}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		// create the ticker before spawning the loop so that every
		// ticker is registered with the clock by the time Start returns
		ticker := s.clock.NewTicker(j.interval)
		s.wg.Add(1)
		go s.loop(ctx, j, ticker)
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		statuses = append(statuses, JobStatus{
			Name:      j.name,
			Interval:  j.interval,
			Runs:      j.runs,
			Skips:     j.skips,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
			Running:   j.running,
		})
		j.mu.Unlock()
	}
	return statuses
}

func (s *Scheduler) loop(ctx context.Context, j *job, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// each tick runs on its own goroutine so the loop keeps
			// receiving; the running guard turns an overlapping tick
			// into a recorded skip instead of a queued run
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(ctx, j)
			}()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	j.mu.Lock()
	if j.running {
		j.skips++
		j.mu.Unlock()
		s.logger.Warn("previous run still in flight, skipping tick", "job", j.name)
		return
	}
	j.running = true
	j.mu.Unlock()

	start := s.clock.Now()
	err := s.invoke(ctx, j)

	j.mu.Lock()
	j.running = false
	j.runs++
	j.lastRun = start
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", j.name, "error", err)
	}
}

func (s *Scheduler) invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(ctx)
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/observability"
)

// DefaultMaxDurationSeconds bounds a single job run when a job doesn't
// specify its own max_duration_seconds.
const DefaultMaxDurationSeconds = 300

// DefaultRetryBackoff and DefaultMaxRetryBackoff drive the exponential
// backoff between retry attempts, grounded on nexus's cron retryDelay.
const (
	DefaultRetryBackoff    = 5 * time.Second
	DefaultMaxRetryBackoff = 5 * time.Minute
)

// Executor dispatches a cron job's payload (prompt, skill, or pipeline) to
// the Agent Pool, returning the session the run happened in. The
// Scheduler owns retry/timeout/history bookkeeping; Executor only owns
// doing the work.
type Executor interface {
	Execute(ctx context.Context, job *domain.CronJob) error
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, job *domain.CronJob) error

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.CronJob) error { return f(ctx, job) }

// Scheduler runs enabled CronJobs from a JobStore on their parsed
// schedules, executing each through an Executor under a hard per-run
// timeout, retrying failures with exponential backoff, and recording
// every run to an ExecutionStore.
type Scheduler struct {
	jobs     JobStore
	history  ExecutionStore
	executor Executor
	logger   *observability.Logger
	now      func() time.Time
	tick     time.Duration

	mu        sync.Mutex
	schedules map[string]Schedule
	nextRun   map[string]time.Time
	attempts  map[string]int
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *observability.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Scheduler. executor dispatches due jobs; jobs/history
// default to in-memory stores if nil.
func New(jobs JobStore, history ExecutionStore, executor Executor, opts ...Option) *Scheduler {
	if jobs == nil {
		jobs = NewMemoryJobStore()
	}
	if history == nil {
		history = NewMemoryExecutionStore()
	}
	s := &Scheduler{
		jobs:      jobs,
		history:   history,
		executor:  executor,
		logger:    observability.NewLogger(observability.LogConfig{}),
		now:       time.Now,
		tick:      time.Second,
		schedules: make(map[string]Schedule),
		nextRun:   make(map[string]time.Time),
		attempts:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterJob validates and stores a job, computing its first NextRunAt.
func (s *Scheduler) RegisterJob(ctx context.Context, job *domain.CronJob) error {
	sched, err := ParseSchedule(job.Schedule, "")
	if err != nil {
		return err
	}
	if job.MaxDurationSeconds <= 0 {
		job.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	now := job.CreatedAt
	if now.IsZero() {
		now = s.now()
	}
	next := sched.Next(s.now())
	job.NextRunAt = &next

	if err := s.jobs.Put(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	s.schedules[job.ID] = sched
	s.nextRun[job.ID] = next
	s.mu.Unlock()
	return nil
}

// UnregisterJob removes a job from both the store and the in-memory
// schedule cache.
func (s *Scheduler) UnregisterJob(ctx context.Context, id string) error {
	if err := s.jobs.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.schedules, id)
	delete(s.nextRun, id)
	s.mu.Unlock()
	return nil
}

// Start runs the scheduler's tick loop until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunDue(loopCtx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunDue executes every enabled job whose NextRunAt has passed, returning
// how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	jobs, err := s.jobs.ListEnabled(ctx)
	if err != nil {
		s.log().Error(ctx, "scheduler: list enabled jobs failed", "error", err)
		return 0
	}

	now := s.now()
	ran := 0
	for _, job := range jobs {
		s.mu.Lock()
		next, ok := s.nextRun[job.ID]
		s.mu.Unlock()
		if !ok || now.Before(next) {
			continue
		}
		s.runOne(ctx, job, now)
		ran++
	}
	return ran
}

// RunNow executes a single job immediately, bypassing its schedule (used
// by the manual-trigger operation in §6).
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	s.runOne(ctx, job, s.now())
	return nil
}

func (s *Scheduler) runOne(ctx context.Context, job *domain.CronJob, now time.Time) {
	maxDuration := time.Duration(job.MaxDurationSeconds) * time.Second
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDurationSeconds * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, maxDuration)
	defer cancel()

	start := time.Now()
	err := s.executor.Execute(runCtx, job)
	duration := time.Since(start)

	status := domain.ExecutionSuccess
	errMsg := ""
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		status = domain.ExecutionTimeout
		errMsg = "execution exceeded max_duration_seconds"
	case err != nil:
		status = domain.ExecutionError
		errMsg = err.Error()
	}

	entry := &domain.ExecutionHistoryEntry{
		JobID:      job.ID,
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Error:      errMsg,
		CreatedAt:  now,
	}
	if appendErr := s.history.Append(ctx, entry); appendErr != nil {
		s.log().Error(ctx, "scheduler: append execution history failed", "error", appendErr)
	}

	job.RunCount++
	job.LastRunStatus = status
	job.LastRunDurationMS = duration.Milliseconds()
	job.LastRunError = errMsg
	job.LastRunAt = &now
	if status == domain.ExecutionSuccess {
		job.SuccessCount++
	} else {
		job.FailCount++
	}

	s.mu.Lock()
	sched := s.schedules[job.ID]
	s.mu.Unlock()

	delay, shouldRetry := s.nextRetryDelay(job, status)
	var next time.Time
	if shouldRetry {
		next = now.Add(delay)
	} else {
		s.mu.Lock()
		delete(s.attempts, job.ID)
		s.mu.Unlock()
		next = sched.Next(now)
	}
	job.NextRunAt = &next

	s.mu.Lock()
	s.nextRun[job.ID] = next
	s.mu.Unlock()

	if putErr := s.jobs.Put(ctx, job); putErr != nil {
		s.log().Error(ctx, "scheduler: persist job after run failed", "job_id", job.ID, "error", putErr)
	}
}

// nextRetryDelay reports whether the run should be retried (rather than
// waiting for the next natural schedule tick) and, if so, after how long,
// using exponential backoff capped at DefaultMaxRetryBackoff. job.RetryCount
// is the configured maximum number of retry attempts; the live attempt
// counter is tracked separately so it can reset to zero after a success
// without mutating the job's configuration.
func (s *Scheduler) nextRetryDelay(job *domain.CronJob, status domain.ExecutionStatus) (time.Duration, bool) {
	if status == domain.ExecutionSuccess {
		return 0, false
	}

	s.mu.Lock()
	attempt := s.attempts[job.ID] + 1
	if attempt > job.RetryCount {
		s.mu.Unlock()
		return 0, false
	}
	s.attempts[job.ID] = attempt
	s.mu.Unlock()

	delay := DefaultRetryBackoff << (attempt - 1)
	if delay > DefaultMaxRetryBackoff {
		delay = DefaultMaxRetryBackoff
	}
	return delay, true
}

func (s *Scheduler) log() *observability.Logger {
	return s.logger
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
)

func TestParseScheduleInterval(t *testing.T) {
	sched, err := ParseSchedule("30s", "")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := sched.Next(now)
	if next.Sub(now) != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", next.Sub(now))
	}
}

func TestParseScheduleCron(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * *", "")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next := sched.Next(now)
	if next.Hour() != 9 {
		t.Fatalf("expected next run at 09:00, got %v", next)
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	if _, err := ParseSchedule("not a schedule", ""); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerRunDueExecutesAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobStore()
	history := NewMemoryExecutionStore()

	calls := 0
	exec := ExecutorFunc(func(ctx context.Context, job *domain.CronJob) error {
		calls++
		return nil
	})

	s := New(jobs, history, exec)
	job := &domain.CronJob{ID: "job-1", Schedule: "1s", Enabled: true, RetryCount: 2}
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	// Force the job due by rewinding its next-run time.
	s.mu.Lock()
	s.nextRun["job-1"] = time.Now().Add(-time.Second)
	s.mu.Unlock()

	ran := s.RunDue(ctx)
	if ran != 1 {
		t.Fatalf("expected 1 run, got %d", ran)
	}
	if calls != 1 {
		t.Fatalf("expected executor called once, got %d", calls)
	}

	entries, err := history.List(ctx, "job-1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected one success entry, got %+v", entries)
	}
}

func TestSchedulerRetriesOnFailure(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobStore()
	history := NewMemoryExecutionStore()

	exec := ExecutorFunc(func(ctx context.Context, job *domain.CronJob) error {
		return errors.New("boom")
	})

	s := New(jobs, history, exec)
	job := &domain.CronJob{ID: "job-1", Schedule: "1h", Enabled: true, RetryCount: 1}
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	before := time.Now()
	s.runOne(ctx, job, before)

	s.mu.Lock()
	next := s.nextRun["job-1"]
	s.mu.Unlock()

	if !next.Before(before.Add(time.Hour)) {
		t.Fatalf("expected retry backoff sooner than the 1h schedule, got %v", next)
	}
}

func TestSchedulerTimeoutMarksExecutionTimeout(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobStore()
	history := NewMemoryExecutionStore()

	exec := ExecutorFunc(func(ctx context.Context, job *domain.CronJob) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s := New(jobs, history, exec)
	job := &domain.CronJob{ID: "job-1", Schedule: "1h", Enabled: true, MaxDurationSeconds: 1}
	if err := s.RegisterJob(ctx, job); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	s.runOne(ctx, job, time.Now())

	entries, err := history.List(ctx, "job-1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != domain.ExecutionTimeout {
		t.Fatalf("expected timeout entry, got %+v", entries)
	}
}

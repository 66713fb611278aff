package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

func TestJobQueue_ScheduleCoalesces(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{})

	id1 := q.Schedule("Fluffy", "Fluffy (cat)", 1, 0)
	id2 := q.Schedule("Fluffy", "Fluffy (cat)\nloves yarn", 2, 5)

	if id1 != id2 {
		t.Errorf("duplicate schedule should coalesce, got %q and %q", id1, id2)
	}

	job, err := q.Job("Fluffy")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Priority != 5 {
		t.Errorf("priority should rise to the max, got %d", job.Priority)
	}
	if job.ContentVersion != 2 {
		t.Errorf("content should refresh to the newer version, got v%d", job.ContentVersion)
	}

	stats := q.Stats()
	if stats[types.JobPending] != 1 {
		t.Errorf("expected 1 pending job, got %v", stats)
	}
}

func TestJobQueue_ClaimPriorityThenAge(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{})

	q.Schedule("old-low", "a", 1, 0)
	time.Sleep(2 * time.Millisecond)
	q.Schedule("new-low", "b", 1, 0)
	q.Schedule("high", "c", 1, 9)

	first, _ := q.Claim()
	if first == nil || first.EntityName != "high" {
		t.Fatalf("highest priority should claim first, got %+v", first)
	}
	second, _ := q.Claim()
	if second == nil || second.EntityName != "old-low" {
		t.Fatalf("equal priority should claim oldest first, got %+v", second)
	}

	// Claimed jobs are processing; claiming again yields the remaining one
	// and then nothing.
	third, _ := q.Claim()
	if third == nil || third.EntityName != "new-low" {
		t.Fatalf("expected new-low, got %+v", third)
	}
	if job, _ := q.Claim(); job != nil {
		t.Errorf("nothing should remain claimable, got %+v", job)
	}
}

func TestJobQueue_FailBacksOffThenTerminal(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{MaxAttempts: 2, BackoffBase: time.Hour})

	q.Schedule("Fluffy", "text", 1, 0)
	job, _ := q.Claim()

	q.Fail(job.ID, errors.New("provider down"))

	pending, err := q.Job("Fluffy")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if pending.Status != types.JobPending || pending.Attempts != 1 {
		t.Fatalf("first failure should requeue: %+v", pending)
	}
	if !pending.NotBefore.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("backoff should defer the retry, NotBefore=%v", pending.NotBefore)
	}

	// Deferred job is not claimable yet.
	claimed, retryIn := q.Claim()
	if claimed != nil {
		t.Fatalf("deferred job should not claim, got %+v", claimed)
	}
	if retryIn <= 0 {
		t.Errorf("claim should report the wait until eligibility, got %v", retryIn)
	}

	// Second failure exhausts the budget.
	q.Requeue(job.ID, 0)
	job2, _ := q.Claim()
	if job2 == nil {
		t.Fatal("requeued job should claim")
	}
	q.Fail(job2.ID, errors.New("provider still down"))

	failed, _ := q.Job("Fluffy")
	if failed.Status != types.JobFailed {
		t.Fatalf("expected terminal failed, got %+v", failed)
	}
	if claimed, _ := q.Claim(); claimed != nil {
		t.Errorf("failed jobs must never auto-retry, claimed %+v", claimed)
	}
}

func TestJobQueue_RequeuePreservesAttempts(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{MaxAttempts: 3})

	q.Schedule("Fluffy", "text", 1, 0)
	job, _ := q.Claim()
	q.Requeue(job.ID, 0)

	requeued, _ := q.Job("Fluffy")
	if requeued.Attempts != 0 {
		t.Errorf("requeue must not consume an attempt, got %d", requeued.Attempts)
	}
	if requeued.Status != types.JobPending {
		t.Errorf("requeued job should be pending, got %s", requeued.Status)
	}
}

func TestJobQueue_RescheduleFailedJob(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{MaxAttempts: 1})

	q.Schedule("Fluffy", "text", 1, 0)
	job, _ := q.Claim()
	q.Fail(job.ID, errors.New("boom"))

	if _, err := q.Reschedule("nobody"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := q.Reschedule("Fluffy"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	revived, _ := q.Job("Fluffy")
	if revived.Status != types.JobPending || revived.Attempts != 0 || revived.LastError != "" {
		t.Errorf("reschedule should reset the retry budget: %+v", revived)
	}
}

func TestJobQueue_CompleteKeepsRefreshedJob(t *testing.T) {
	q := NewJobQueue(JobQueueConfig{})

	q.Schedule("Fluffy", "v1 text", 1, 0)
	job, _ := q.Claim()

	// Content changes while the worker is embedding v1.
	q.Schedule("Fluffy", "v2 text", 2, 0)

	q.Complete(job.ID, job.ContentVersion)

	pending, err := q.Job("Fluffy")
	if err != nil {
		t.Fatalf("refreshed job should survive completion of the stale pass: %v", err)
	}
	if pending.Status != types.JobPending || pending.ContentVersion != 2 {
		t.Errorf("expected pending v2 job, got %+v", pending)
	}

	// Completing the v2 pass drops the job.
	job2, _ := q.Claim()
	q.Complete(job2.ID, job2.ContentVersion)
	if _, err := q.Job("Fluffy"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("completed job should be gone, got %v", err)
	}
}

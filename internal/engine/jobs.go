// Package engine coordinates the knowledge graph: temporal storage, the
// background embedding pipeline, hybrid search, and confidence decay.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// ErrJobNotFound is returned when a job id or entity name has no job.
var ErrJobNotFound = fmt.Errorf("embedding job not found")

// JobQueueConfig tunes retry behavior.
type JobQueueConfig struct {
	// MaxAttempts before a job goes terminal failed. Default: 5.
	MaxAttempts int

	// BackoffBase is the first retry delay; attempt n waits
	// base * 2^n, capped at BackoffCap. Defaults: 1s, 5m.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// JobQueue holds embedding jobs in memory, keyed by entity name. Durability
// comes from the store, not the queue: every entity whose embedding is
// missing or stale is re-scheduled by recovery at startup, so losing the
// in-memory state loses no work.
//
// Claiming is priority-then-age, and the pending → processing transition is
// atomic under the queue lock so two workers can never claim the same job.
type JobQueue struct {
	mu     sync.Mutex
	config JobQueueConfig

	// byEntity holds the active (pending or processing) job per entity.
	// Completed jobs are dropped; failed jobs are kept for inspection and
	// manual rescheduling.
	byEntity map[string]*types.EmbeddingJob

	// wake signals workers that a job may be claimable.
	wake chan struct{}
}

// NewJobQueue creates an empty queue.
func NewJobQueue(config JobQueueConfig) *JobQueue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = 5 * time.Minute
	}
	return &JobQueue{
		config:   config,
		byEntity: make(map[string]*types.EmbeddingJob),
		wake:     make(chan struct{}, 1),
	}
}

// Schedule enqueues an embedding job for an entity. Idempotent per entity:
// an existing pending or processing job is coalesced (its priority is raised
// to max(existing, requested) and its text and content version are refreshed
// to the newest content) rather than duplicated. A failed job is replaced by
// a fresh one.
func (q *JobQueue) Schedule(entityName, text string, contentVersion, priority int) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()

	if existing, ok := q.byEntity[entityName]; ok && existing.Status != types.JobFailed {
		if priority > existing.Priority {
			existing.Priority = priority
		}
		if contentVersion >= existing.ContentVersion {
			existing.Text = text
			existing.ContentVersion = contentVersion
		}
		existing.UpdatedAt = now
		q.signal()
		return existing.ID
	}

	job := &types.EmbeddingJob{
		ID:             uuid.New().String(),
		EntityName:     entityName,
		Text:           text,
		ContentVersion: contentVersion,
		Priority:       priority,
		Status:         types.JobPending,
		NotBefore:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	q.byEntity[entityName] = job
	q.signal()
	return job.ID
}

// Claim atomically takes the highest-priority oldest eligible pending job,
// marking it processing. Returns nil when nothing is claimable; the second
// result is the wait until the next deferred job becomes eligible (zero when
// there is none).
func (q *JobQueue) Claim() (*types.EmbeddingJob, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var best *types.EmbeddingJob
	var nextEligible time.Time

	for _, job := range q.byEntity {
		if job.Status != types.JobPending {
			continue
		}
		if job.NotBefore.After(now) {
			if nextEligible.IsZero() || job.NotBefore.Before(nextEligible) {
				nextEligible = job.NotBefore
			}
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}

	if best == nil {
		if nextEligible.IsZero() {
			return nil, 0
		}
		return nil, nextEligible.Sub(now)
	}

	best.Status = types.JobProcessing
	best.UpdatedAt = now
	snapshot := *best
	return &snapshot, 0
}

// Complete finishes a successfully processed job. processedVersion is the
// content version the worker actually embedded; if the entity was
// re-scheduled with newer content while this job was processing, the job
// returns to pending for another pass instead of being dropped.
func (q *JobQueue) Complete(jobID string, processedVersion int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for name, job := range q.byEntity {
		if job.ID != jobID {
			continue
		}
		if job.ContentVersion > processedVersion {
			job.Status = types.JobPending
			job.NotBefore = time.Now().UTC()
			job.UpdatedAt = job.NotBefore
			q.signal()
			return
		}
		delete(q.byEntity, name)
		return
	}
}

// Fail records a provider failure. The job is re-queued with exponential
// backoff until MaxAttempts, then parked in the terminal failed state.
func (q *JobQueue) Fail(jobID string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(jobID)
	if job == nil {
		return
	}

	now := time.Now().UTC()
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	job.UpdatedAt = now

	if job.Attempts >= q.config.MaxAttempts {
		job.Status = types.JobFailed
		log.Printf("[queue] job for %q failed terminally after %d attempts: %s",
			job.EntityName, job.Attempts, job.LastError)
		return
	}

	job.Status = types.JobPending
	job.NotBefore = now.Add(q.backoff(job.Attempts))
	q.signal()
}

// Requeue returns a claimed job to pending without consuming a retry
// attempt. Used when the failure was not the provider's fault: a rate-limit
// wait that timed out, or an index write that needs another pass.
func (q *JobQueue) Requeue(jobID string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(jobID)
	if job == nil {
		return
	}
	now := time.Now().UTC()
	job.Status = types.JobPending
	job.NotBefore = now.Add(delay)
	job.UpdatedAt = now
	q.signal()
}

// Reschedule revives a terminally failed job for the named entity with a
// fresh retry budget. This is the manual-intervention path; it returns
// ErrJobNotFound when the entity has no failed job.
func (q *JobQueue) Reschedule(entityName string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byEntity[entityName]
	if !ok || job.Status != types.JobFailed {
		return "", fmt.Errorf("%w: no failed job for entity %q", ErrJobNotFound, entityName)
	}

	now := time.Now().UTC()
	job.Status = types.JobPending
	job.Attempts = 0
	job.LastError = ""
	job.NotBefore = now
	job.UpdatedAt = now
	q.signal()
	return job.ID, nil
}

// Job returns a snapshot of the active job for an entity.
func (q *JobQueue) Job(entityName string) (*types.EmbeddingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byEntity[entityName]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q", ErrJobNotFound, entityName)
	}
	snapshot := *job
	return &snapshot, nil
}

// Stats summarizes the queue by status.
func (q *JobQueue) Stats() map[types.JobStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[types.JobStatus]int)
	for _, job := range q.byEntity {
		stats[job.Status]++
	}
	return stats
}

// Wake returns the channel workers block on between claims.
func (q *JobQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *JobQueue) backoff(attempts int) time.Duration {
	delay := q.config.BackoffBase
	for i := 0; i < attempts && delay < q.config.BackoffCap; i++ {
		delay *= 2
	}
	if delay > q.config.BackoffCap {
		delay = q.config.BackoffCap
	}
	return delay
}

func (q *JobQueue) findLocked(jobID string) *types.EmbeddingJob {
	for _, job := range q.byEntity {
		if job.ID == jobID {
			return job
		}
	}
	return nil
}

func (q *JobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

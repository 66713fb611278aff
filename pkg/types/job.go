package types

import "time"

// JobStatus represents the lifecycle state of an embedding job.
type JobStatus string

const (
	// JobPending indicates the job is queued and eligible for claiming
	// once its NotBefore time has passed.
	JobPending JobStatus = "pending"

	// JobProcessing indicates a worker has claimed the job.
	JobProcessing JobStatus = "processing"

	// JobCompleted indicates the embedding was generated and persisted.
	JobCompleted JobStatus = "completed"

	// JobFailed indicates the job exhausted its retry budget. Terminal:
	// it is never retried automatically and must be rescheduled manually.
	JobFailed JobStatus = "failed"
)

// EmbeddingJob tracks one unit of embedding-generation work for an entity.
// Jobs are created when an entity is created or its observations change,
// and drained by the background worker pool.
type EmbeddingJob struct {
	// ID uniquely identifies the job.
	ID string `json:"id"`

	// EntityName is the entity whose text is to be embedded.
	EntityName string `json:"entityName"`

	// Text is the exact content to embed, captured at scheduling time.
	Text string `json:"text"`

	// ContentVersion is the entity version the text was captured from.
	// Embedding writes are tagged with it so a worker holding stale content
	// can never overwrite a newer embedding.
	ContentVersion int `json:"contentVersion"`

	// Priority orders claiming: higher first, ties broken by age.
	Priority int `json:"priority"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// Attempts counts provider failures so far.
	Attempts int `json:"attempts"`

	// LastError holds the most recent failure message, if any.
	LastError string `json:"lastError,omitempty"`

	// NotBefore defers claiming until the retry backoff has elapsed.
	NotBefore time.Time `json:"notBefore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusRunning  JobStatus = "running"
	StatusSuccess  JobStatus = "success"
	StatusFailed   JobStatus = "failed"
	StatusRetrying JobStatus = "retrying"
)

// legalTransitions encodes the job state machine:
// pending → running → (retrying → running)* → success | failed.
var legalTransitions = map[JobStatus][]JobStatus{
	StatusPending:  {StatusRunning},
	StatusRunning:  {StatusRunning, StatusSuccess, StatusFailed, StatusRetrying},
	StatusRetrying: {StatusRunning, StatusFailed},
}

// CanTransition reports whether from → to is a legal status move.
// running → running is allowed so MarkRunning stays idempotent across
// redeliveries.
func CanTransition(from, to JobStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// JobError is the normalized failure shape persisted on a job. Stack is
// only populated outside production environments.
type JobError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack,omitempty"`
}

// Metadata travels with a job through the transport and drives chaining.
type Metadata struct {
	ChainNext bool   `json:"chain_next"`
	Manual    bool   `json:"manual"`
	Trigger   string `json:"trigger,omitempty"` // cron | admin | chain | cli
}

// Job is one tracked execution of a single pipeline stage.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	JobKey      string          `json:"job_key"`
	Stage       Stage           `json:"stage"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	ParentJobID *uuid.UUID      `json:"parent_job_id,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  *int64          `json:"duration_ms,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DeadLetterEntry is archived for every job that exhausts its attempt
// budget, keyed dlq:{queue}:{job_id} in the cache with a retention TTL.
type DeadLetterEntry struct {
	QueueName string          `json:"queue_name"`
	JobID     uuid.UUID       `json:"job_id"`
	Payload   json.RawMessage `json:"payload"`
	Error     JobError        `json:"error"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
}

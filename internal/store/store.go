// Package store persists Job records. The pipeline treats it as a narrow
// collaborator: create with a uniqueness-checked job key, find, and partial
// update. Jobs are never deleted here; retention is an external concern.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// ErrDuplicateKey is returned by Create when a job with the same job_key
// already exists. Callers recover by fetching the existing row.
var ErrDuplicateKey = errors.New("job key already exists")

// ErrNotFound is returned by the find and update operations when the job
// does not exist.
var ErrNotFound = errors.New("job not found")

// JobUpdate is a partial update. Nil fields are left untouched.
type JobUpdate struct {
	Status            *domain.JobStatus
	IncrementAttempts bool
	Result            json.RawMessage
	Error             *domain.JobError
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DurationMS        *int64
}

type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	FindByKey(ctx context.Context, jobKey string) (*domain.Job, error)
	Update(ctx context.Context, id uuid.UUID, u JobUpdate) (*domain.Job, error)
}

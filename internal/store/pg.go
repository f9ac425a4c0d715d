package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

const jobColumns = `id, job_key, stage, status, attempts, result, error,
	metadata, parent_job_id, started_at, completed_at, duration_ms,
	created_at, updated_at`

// PG is the PostgreSQL-backed Store.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// Create inserts the job. ON CONFLICT DO NOTHING plus the absent RETURNING
// row signals a job_key collision, reported as ErrDuplicateKey so the caller
// can fall back to FindByKey.
func (s *PG) Create(ctx context.Context, job *domain.Job) error {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, job_key, stage, status, metadata, parent_job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_key) DO NOTHING
		RETURNING created_at, updated_at`,
		job.ID, job.JobKey, job.Stage, job.Status, meta, job.ParentJobID)

	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PG) FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PG) FindByKey(ctx context.Context, jobKey string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_key = $1`, jobKey)
	return scanJob(row)
}

// Update applies the non-nil fields of u and returns the updated row.
func (s *PG) Update(ctx context.Context, id uuid.UUID, u JobUpdate) (*domain.Job, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if u.Status != nil {
		add("status = $%d", *u.Status)
	}
	if u.IncrementAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}
	if u.Result != nil {
		add("result = $%d", u.Result)
	}
	if u.Error != nil {
		errJSON, err := json.Marshal(u.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal job error: %w", err)
		}
		add("error = $%d", errJSON)
	}
	if u.StartedAt != nil {
		add("started_at = $%d", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		add("completed_at = $%d", *u.CompletedAt)
	}
	if u.DurationMS != nil {
		add("duration_ms = $%d", *u.DurationMS)
	}

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + jobColumns
	return scanJob(s.pool.QueryRow(ctx, query, args...))
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	job := &domain.Job{}
	var meta []byte
	var errJSON []byte
	err := row.Scan(
		&job.ID,
		&job.JobKey,
		&job.Stage,
		&job.Status,
		&job.Attempts,
		&job.Result,
		&errJSON,
		&meta,
		&job.ParentJobID,
		&job.StartedAt,
		&job.CompletedAt,
		&job.DurationMS,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	return job, nil
}

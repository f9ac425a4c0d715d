// Package orchestrator is the single entry point for starting pipeline
// stages: it computes dedup keys, creates job records, and enqueues the
// stage message. Scheduling is idempotent within the dedup window — a second
// automatic trigger in the same window returns the existing job instead of
// erroring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/metrics"
	"github.com/joeumn/etsy-gen-sub000/internal/queue"
	"github.com/joeumn/etsy-gen-sub000/internal/store"
)

// Enqueuer is the slice of the queue transport the orchestrator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, dedupID string, msg queue.Message) (bool, error)
}

// Options configures one RunStage call.
type Options struct {
	Manual      bool
	ParentJobID *uuid.UUID
	Trigger     string // cron | admin | chain | cli
	ChainNext   bool
}

type Orchestrator struct {
	store     store.Store
	transport Enqueuer
	keys      DedupKeyStrategy
	logger    *slog.Logger
	now       func() time.Time
}

func New(st store.Store, transport Enqueuer, keys DedupKeyStrategy, logger *slog.Logger) *Orchestrator {
	if keys == nil {
		keys = FixedWindow{Window: 6 * time.Hour}
	}
	return &Orchestrator{
		store:     st,
		transport: transport,
		keys:      keys,
		logger:    logger,
		now:       time.Now,
	}
}

// RunStage schedules one stage execution. Manual runs always get a unique
// key; automatic runs share a key per dedup window, and a key collision is
// resolved by returning the existing job. Only a freshly created job is
// enqueued, with its job key doubling as the transport dedup id.
func (o *Orchestrator) RunStage(ctx context.Context, stage domain.Stage, opts Options) (*domain.Job, error) {
	now := o.now()
	var jobKey string
	if opts.Manual {
		jobKey = manualKey(stage, now)
	} else {
		jobKey = o.keys.Key(stage, now)
	}

	job := &domain.Job{
		JobKey: jobKey,
		Stage:  stage,
		Status: domain.StatusPending,
		Metadata: domain.Metadata{
			ChainNext: opts.ChainNext,
			Manual:    opts.Manual,
			Trigger:   opts.Trigger,
		},
		ParentJobID: opts.ParentJobID,
	}

	err := o.store.Create(ctx, job)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, ferr := o.store.FindByKey(ctx, jobKey)
		if ferr != nil {
			return nil, fmt.Errorf("fetch deduped job %q: %w", jobKey, ferr)
		}
		o.logger.Info("stage run deduplicated",
			"stage", stage, "job_key", jobKey, "job_id", existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create job for %s: %w", stage, err)
	}

	queueName := domain.QueueName(stage)
	inserted, err := o.transport.Enqueue(ctx, queueName, jobKey, queue.Message{
		JobID:    job.ID,
		Stage:    stage,
		Metadata: job.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s on %s: %w", job.ID, queueName, err)
	}
	if !inserted {
		// The transport refused a duplicate in-flight message; the job row
		// stands and the live message will carry its stage run.
		o.logger.Warn("transport deduplicated enqueue",
			"stage", stage, "job_key", jobKey, "job_id", job.ID)
	}

	metrics.JobsEnqueued.WithLabelValues(string(stage), trigger(opts.Trigger)).Inc()
	o.logger.Info("stage run scheduled",
		"stage", stage, "job_id", job.ID, "job_key", jobKey,
		"manual", opts.Manual, "chain_next", opts.ChainNext)
	return job, nil
}

// NextStage exposes the pipeline order.
func (o *Orchestrator) NextStage(stage domain.Stage) (domain.Stage, bool) {
	return domain.NextStage(stage)
}

// ChainPipelineFrom runs startStage with chaining enabled whenever a
// successor exists, so the whole remaining pipeline follows on success.
func (o *Orchestrator) ChainPipelineFrom(ctx context.Context, startStage domain.Stage, opts Options) (*domain.Job, error) {
	_, hasNext := domain.NextStage(startStage)
	opts.ChainNext = hasNext
	return o.RunStage(ctx, startStage, opts)
}

func trigger(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

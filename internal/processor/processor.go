// Package processor turns a registered stage runner into a queue consumer.
// It owns the job status transitions, timing, the circuit-breaker gate
// around the runner call, and the fire-and-forget post-processing steps
// (metrics, dead-letter archiving, next-stage chaining). The authoritative
// state transition always happens first; a post-hook failure is logged and
// never corrupts the recorded status.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/breaker"
	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/metrics"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
	"github.com/joeumn/etsy-gen-sub000/internal/queue"
	"github.com/joeumn/etsy-gen-sub000/internal/runner"
	"github.com/joeumn/etsy-gen-sub000/internal/store"
)

// Chainer schedules the next stage after a successful run.
type Chainer interface {
	RunStage(ctx context.Context, stage domain.Stage, opts orchestrator.Options) (*domain.Job, error)
}

// DeadLetterer archives a terminally failed job. Implementations must not
// return errors to the caller; archiving is best effort.
type DeadLetterer interface {
	Put(ctx context.Context, entry domain.DeadLetterEntry)
}

type Processor struct {
	store      store.Store
	breaker    *breaker.Breaker
	chainer    Chainer
	deadLetter DeadLetterer
	logger     *slog.Logger
	production bool
	now        func() time.Time
}

func New(st store.Store, brk *breaker.Breaker, chainer Chainer, dl DeadLetterer,
	logger *slog.Logger, production bool) *Processor {
	return &Processor{
		store:      st,
		breaker:    brk,
		chainer:    chainer,
		deadLetter: dl,
		logger:     logger,
		production: production,
		now:        time.Now,
	}
}

// MarkRunning transitions the job to running, increments attempts, and
// stamps started_at. Safe to call again on redelivery.
func (p *Processor) MarkRunning(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	running := domain.StatusRunning
	started := p.now()
	job, err := p.store.Update(ctx, jobID, store.JobUpdate{
		Status:            &running,
		IncrementAttempts: true,
		StartedAt:         &started,
	})
	if err != nil {
		return nil, fmt.Errorf("mark running %s: %w", jobID, err)
	}
	return job, nil
}

// MarkSuccess records the terminal success with result and timing.
func (p *Processor) MarkSuccess(ctx context.Context, job *domain.Job, result json.RawMessage) (*domain.Job, error) {
	success := domain.StatusSuccess
	completed := p.now()
	duration := durationMS(job.StartedAt, completed)
	updated, err := p.store.Update(ctx, job.ID, store.JobUpdate{
		Status:      &success,
		Result:      result,
		CompletedAt: &completed,
		DurationMS:  &duration,
	})
	if err != nil {
		return nil, fmt.Errorf("mark success %s: %w", job.ID, err)
	}
	return updated, nil
}

// MarkFailure persists the normalized error and timing, with status retrying
// or failed as instructed by the caller.
func (p *Processor) MarkFailure(ctx context.Context, job *domain.Job, cause error, status domain.JobStatus) (*domain.Job, error) {
	jerr := normalizeError(cause, !p.production)
	completed := p.now()
	duration := durationMS(job.StartedAt, completed)
	updated, err := p.store.Update(ctx, job.ID, store.JobUpdate{
		Status:      &status,
		Error:       &jerr,
		CompletedAt: &completed,
		DurationMS:  &duration,
	})
	if err != nil {
		return nil, fmt.Errorf("mark failure %s: %w", job.ID, err)
	}
	return updated, nil
}

// Consumer builds the queue consumer for one stage. The returned error (if
// any) hands redelivery control back to the transport's retry policy.
func (p *Processor) Consumer(stage domain.Stage, sr runner.StageRunner) queue.Consumer {
	return func(ctx context.Context, d *queue.Delivery) error {
		log := p.logger.With(
			"stage", stage,
			"job_id", d.Message.JobID,
			"attempt", d.Attempt,
			"last_attempt", d.LastAttempt(),
		)

		// A settled job can still arrive again: the transport redelivers
		// when a lease lapsed after the terminal transition was recorded.
		// Acknowledge those instead of re-running the stage.
		current, err := p.store.FindByID(ctx, d.Message.JobID)
		if err != nil {
			log.Error("job lookup failed", "err", err)
			return err
		}
		if current.Status.Terminal() {
			log.Warn("redelivery of settled job acknowledged", "status", current.Status)
			return nil
		}

		job, err := p.MarkRunning(ctx, d.Message.JobID)
		if err != nil {
			// Store outage: let the transport redeliver without consuming
			// breaker state.
			log.Error("mark running failed", "err", err)
			return err
		}

		if err := p.breaker.Allow(ctx, d.Queue); err != nil {
			metrics.CircuitOpenRejections.WithLabelValues(d.Queue).Inc()
			log.Warn("execution rejected by circuit breaker")
			p.failAttempt(ctx, d, job, err, log)
			return err
		}

		result, runErr := sr.Run(ctx, d.Message.JobID, d.Message.Metadata)
		if runErr != nil {
			if berr := p.breaker.RecordFailure(ctx, d.Queue); berr != nil {
				log.Error("breaker record failure failed", "err", berr)
			}
			log.Error("stage runner failed", "err", runErr)
			p.failAttempt(ctx, d, job, runErr, log)
			return runErr
		}

		if berr := p.breaker.RecordSuccess(ctx, d.Queue); berr != nil {
			log.Error("breaker record success failed", "err", berr)
		}

		updated, err := p.MarkSuccess(ctx, job, result)
		if err != nil {
			log.Error("mark success failed", "err", err)
			return err
		}
		log.Info("stage run succeeded", "duration_ms", deref(updated.DurationMS))

		p.runHooks(ctx, log, []hook{
			{"metrics", func(context.Context) error {
				observeDuration(stage, "success", updated.DurationMS)
				return nil
			}},
			{"chain-next", func(ctx context.Context) error {
				return p.chainNext(ctx, stage, updated)
			}},
		})
		return nil
	}
}

// failAttempt applies the failure transition for one delivery: retrying when
// attempts remain, failed plus dead-letter archiving on the last attempt.
func (p *Processor) failAttempt(ctx context.Context, d *queue.Delivery, job *domain.Job, cause error, log *slog.Logger) {
	status := domain.StatusRetrying
	if d.LastAttempt() {
		status = domain.StatusFailed
	}

	updated, err := p.MarkFailure(ctx, job, cause, status)
	if err != nil {
		log.Error("mark failure failed", "status", status, "err", err)
		updated = job
	}

	hooks := []hook{
		{"metrics", func(context.Context) error {
			metrics.JobFailures.WithLabelValues(string(job.Stage)).Inc()
			observeDuration(job.Stage, "failure", updated.DurationMS)
			return nil
		}},
	}
	if d.LastAttempt() {
		hooks = append(hooks, hook{"dead-letter", func(ctx context.Context) error {
			payload, _ := json.Marshal(d.Message)
			p.deadLetter.Put(ctx, domain.DeadLetterEntry{
				QueueName: d.Queue,
				JobID:     job.ID,
				Payload:   payload,
				Error:     normalizeError(cause, !p.production),
				Attempts:  d.Attempt,
				FailedAt:  p.now(),
			})
			return nil
		}})
	}
	p.runHooks(ctx, log, hooks)
}

func (p *Processor) chainNext(ctx context.Context, stage domain.Stage, job *domain.Job) error {
	if !job.Metadata.ChainNext {
		return nil
	}
	next, ok := domain.NextStage(stage)
	if !ok {
		return nil
	}
	nextHasSuccessor := false
	if _, ok := domain.NextStage(next); ok {
		nextHasSuccessor = true
	}
	parent := job.ID
	_, err := p.chainer.RunStage(ctx, next, orchestrator.Options{
		ParentJobID: &parent,
		ChainNext:   nextHasSuccessor,
		Trigger:     "chain",
	})
	return err
}

// hook is one independently failable post-processing step.
type hook struct {
	name string
	fn   func(ctx context.Context) error
}

func (p *Processor) runHooks(ctx context.Context, log *slog.Logger, hooks []hook) {
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			log.Error("post-hook failed", "hook", h.name, "err", err)
		}
	}
}

func observeDuration(stage domain.Stage, status string, durationMS *int64) {
	if durationMS == nil {
		return
	}
	metrics.JobDuration.WithLabelValues(string(stage), status).
		Observe(float64(*durationMS) / 1000)
}

func durationMS(started *time.Time, completed time.Time) int64 {
	if started == nil {
		return 0
	}
	return completed.Sub(*started).Milliseconds()
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Package cron drives the automatic pipeline triggers. Each stage gets one
// schedule entry; expressions are validated at registration and bad entries
// are skipped, never fatal. Stage offsets in the default schedules keep a
// stage's consumer from racing its own upstream producer within one cycle.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
)

const fireTimeout = 30 * time.Second

// Runner is the orchestrator surface the trigger drives.
type Runner interface {
	ChainPipelineFrom(ctx context.Context, stage domain.Stage, opts orchestrator.Options) (*domain.Job, error)
}

type Trigger struct {
	cron    *cron.Cron
	orch    Runner
	logger  *slog.Logger
	enabled bool
}

func New(orch Runner, logger *slog.Logger, enabled bool) *Trigger {
	return &Trigger{
		cron:    cron.New(),
		orch:    orch,
		logger:  logger,
		enabled: enabled,
	}
}

// Register adds one entry per stage from specs (stage name → 5-field cron
// expression) and returns how many were accepted. With the trigger disabled
// nothing is scheduled.
func (t *Trigger) Register(specs map[string]string) int {
	if !t.enabled {
		t.logger.Info("cron trigger disabled, skipping schedule registration")
		return 0
	}

	registered := 0
	for name, spec := range specs {
		stage, err := domain.ParseStage(name)
		if err != nil {
			t.logger.Error("skipping cron entry for unknown stage", "stage", name)
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			t.logger.Error("skipping invalid cron expression",
				"stage", name, "spec", spec, "err", err)
			continue
		}

		s := stage
		if _, err := t.cron.AddFunc(spec, func() { t.fire(s) }); err != nil {
			t.logger.Error("cron registration failed", "stage", name, "err", err)
			continue
		}
		t.logger.Info("cron entry registered", "stage", name, "spec", spec)
		registered++
	}
	return registered
}

// fire runs one scheduled trigger. Errors are logged and swallowed so a
// failing stage can never take down the scheduler process.
func (t *Trigger) fire(stage domain.Stage) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	job, err := t.orch.ChainPipelineFrom(ctx, stage, orchestrator.Options{Trigger: "cron"})
	if err != nil {
		t.logger.Error("scheduled stage run failed", "stage", stage, "err", err)
		return
	}
	t.logger.Info("scheduled stage run", "stage", stage, "job_id", job.ID)
}

func (t *Trigger) Start() {
	if !t.enabled {
		return
	}
	t.cron.Start()
}

// Stop halts scheduling and waits for running entries to return.
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()
}

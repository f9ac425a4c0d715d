// Package runner defines the contract between the pipeline core and the
// business logic that actually scrapes, analyzes, generates, and lists.
package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// StageRunner executes one stage's business logic. Implementations must
// tolerate re-invocation with the same job id, since retries re-run them.
type StageRunner interface {
	Run(ctx context.Context, jobID uuid.UUID, meta domain.Metadata) (json.RawMessage, error)
}

// Func adapts a plain function to StageRunner.
type Func func(ctx context.Context, jobID uuid.UUID, meta domain.Metadata) (json.RawMessage, error)

func (f Func) Run(ctx context.Context, jobID uuid.UUID, meta domain.Metadata) (json.RawMessage, error) {
	return f(ctx, jobID, meta)
}

// Registry maps stages to runners so new stages plug in without touching the
// processor.
type Registry struct {
	runners map[domain.Stage]StageRunner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[domain.Stage]StageRunner)}
}

func (r *Registry) Register(stage domain.Stage, sr StageRunner) {
	r.runners[stage] = sr
}

func (r *Registry) Lookup(stage domain.Stage) (StageRunner, error) {
	sr, ok := r.runners[stage]
	if !ok {
		return nil, fmt.Errorf("no runner registered for stage %q", stage)
	}
	return sr, nil
}

func (r *Registry) Stages() []domain.Stage {
	stages := make([]domain.Stage, 0, len(r.runners))
	for s := range r.runners {
		stages = append(stages, s)
	}
	return stages
}

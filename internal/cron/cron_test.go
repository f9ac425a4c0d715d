package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
)

type fakeRunner struct {
	calls []domain.Stage
	opts  []orchestrator.Options
	err   error
}

func (f *fakeRunner) ChainPipelineFrom(_ context.Context, stage domain.Stage, opts orchestrator.Options) (*domain.Job, error) {
	f.calls = append(f.calls, stage)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: uuid.New(), Stage: stage}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidatesExpressions(t *testing.T) {
	trig := New(&fakeRunner{}, discard(), true)

	n := trig.Register(map[string]string{
		"scrape":   "0 */6 * * *",
		"analyze":  "5 */6 * * *",
		"generate": "not a cron spec",
		"list":     "15 */6 * * *",
	})
	if n != 3 {
		t.Errorf("registered %d entries, want 3 (invalid expression skipped)", n)
	}
}

func TestRegisterSkipsUnknownStage(t *testing.T) {
	trig := New(&fakeRunner{}, discard(), true)

	n := trig.Register(map[string]string{
		"scrape":  "0 */6 * * *",
		"publish": "0 */6 * * *",
	})
	if n != 1 {
		t.Errorf("registered %d entries, want 1 (unknown stage skipped)", n)
	}
}

func TestDisabledTriggerRegistersNothing(t *testing.T) {
	trig := New(&fakeRunner{}, discard(), false)
	if n := trig.Register(map[string]string{"scrape": "0 */6 * * *"}); n != 0 {
		t.Errorf("disabled trigger registered %d entries", n)
	}
}

func TestFireRunsStageWithCronTrigger(t *testing.T) {
	r := &fakeRunner{}
	trig := New(r, discard(), true)

	trig.fire(domain.StageScrape)
	if len(r.calls) != 1 || r.calls[0] != domain.StageScrape {
		t.Fatalf("fire calls = %v", r.calls)
	}
	if r.opts[0].Trigger != "cron" || r.opts[0].Manual {
		t.Errorf("fire options = %+v", r.opts[0])
	}
}

func TestFireSwallowsErrors(t *testing.T) {
	r := &fakeRunner{err: errors.New("store down")}
	trig := New(r, discard(), true)

	// Must not panic or propagate; the scheduler keeps running.
	trig.fire(domain.StageList)
	if len(r.calls) != 1 {
		t.Error("runner not invoked")
	}
}

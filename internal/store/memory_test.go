package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func TestMemoryCreateDuplicateKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &domain.Job{JobKey: "scrape:auto:1", Stage: domain.StageScrape}
	if err := m.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	if first.ID == uuid.Nil {
		t.Fatal("Create must assign an id")
	}
	if first.Status != domain.StatusPending {
		t.Fatalf("new job status = %s, want pending", first.Status)
	}

	dup := &domain.Job{JobKey: "scrape:auto:1", Stage: domain.StageScrape}
	if err := m.Create(ctx, dup); err != ErrDuplicateKey {
		t.Fatalf("duplicate create err = %v, want ErrDuplicateKey", err)
	}

	got, err := m.FindByKey(ctx, "scrape:auto:1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Errorf("FindByKey returned %s, want %s", got.ID, first.ID)
	}
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &domain.Job{JobKey: "analyze:auto:1", Stage: domain.StageAnalyze}
	if err := m.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	running := domain.StatusRunning
	started := time.Now()
	got, err := m.Update(ctx, job.ID, JobUpdate{
		Status:            &running,
		IncrementAttempts: true,
		StartedAt:         &started,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusRunning || got.Attempts != 1 || got.StartedAt == nil {
		t.Errorf("update not applied: %+v", got)
	}

	success := domain.StatusSuccess
	completed := started.Add(2 * time.Second)
	dur := int64(2000)
	got, err = m.Update(ctx, job.ID, JobUpdate{
		Status:      &success,
		Result:      json.RawMessage(`{"items":3}`),
		CompletedAt: &completed,
		DurationMS:  &dur,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusSuccess || got.DurationMS == nil || *got.DurationMS != 2000 {
		t.Errorf("terminal update not applied: %+v", got)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts must not change without IncrementAttempts, got %d", got.Attempts)
	}

	if _, err := m.Update(ctx, uuid.New(), JobUpdate{}); err != ErrNotFound {
		t.Errorf("update of missing job err = %v, want ErrNotFound", err)
	}
}

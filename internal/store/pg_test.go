package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joeumn/etsy-gen-sub000/internal/db"
	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/migrate"
)

// TestPGRoundTrip runs against a real database when TEST_DATABASE_URL is set.
func TestPGRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := migrate.Run(ctx, pool); err != nil {
		t.Fatal(err)
	}

	s := NewPG(pool)
	key := "scrape:manual:" + time.Now().Format("20060102150405.000000")

	job := &domain.Job{
		JobKey:   key,
		Stage:    domain.StageScrape,
		Metadata: domain.Metadata{Manual: true, Trigger: "test"},
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	dup := &domain.Job{JobKey: key, Stage: domain.StageScrape}
	if err := s.Create(ctx, dup); err != ErrDuplicateKey {
		t.Fatalf("duplicate create err = %v, want ErrDuplicateKey", err)
	}

	got, err := s.FindByKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || !got.Metadata.Manual {
		t.Errorf("FindByKey mismatch: %+v", got)
	}

	running := domain.StatusRunning
	now := time.Now()
	updated, err := s.Update(ctx, job.ID, JobUpdate{
		Status:            &running,
		IncrementAttempts: true,
		StartedAt:         &now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.StatusRunning || updated.Attempts != 1 {
		t.Errorf("update mismatch: %+v", updated)
	}
}

package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/kv"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPutGetList(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory(), time.Hour, discard())

	jobID := uuid.New()
	entry := domain.DeadLetterEntry{
		QueueName: "pipeline.scrape",
		JobID:     jobID,
		Payload:   json.RawMessage(`{"job_id":"x"}`),
		Error:     domain.JobError{Message: "boom", Name: "runtimeError"},
		Attempts:  3,
		FailedAt:  time.Now().Truncate(time.Second),
	}
	s.Put(ctx, entry)

	got, ok, err := s.Get(ctx, "pipeline.scrape", jobID)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Error.Message != "boom" || got.Attempts != 3 {
		t.Errorf("entry mismatch: %+v", got)
	}

	// A second put for the same job overwrites rather than duplicating.
	s.Put(ctx, entry)
	entries, err := s.List(ctx, "pipeline.scrape")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("List returned %d entries, want 1", len(entries))
	}

	other, err := s.List(ctx, "pipeline.analyze")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("wrong-queue List returned %d entries", len(other))
	}
}

type failingKV struct{ kv.KV }

func (f failingKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestPutIsFireAndForget(t *testing.T) {
	// A cache failure must not panic or propagate.
	s := New(failingKV{kv.NewMemory()}, time.Hour, discard())
	s.Put(context.Background(), domain.DeadLetterEntry{
		QueueName: "pipeline.list",
		JobID:     uuid.New(),
	})
}

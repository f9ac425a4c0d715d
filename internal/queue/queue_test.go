package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func TestBackoffDelayCurve(t *testing.T) {
	base := 60 * time.Second
	// Expected centers: 60s, 120s, 240s. Jitter is ±25%.
	for attempt, center := range map[int]time.Duration{
		1: 60 * time.Second,
		2: 120 * time.Second,
		3: 240 * time.Second,
	} {
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt, base)
			lo, hi := center*3/4, center*5/4
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	d := backoffDelay(30, 60*time.Second)
	if d > maxBackoff*5/4 {
		t.Errorf("delay %v exceeds cap with jitter", d)
	}
}

func TestMemoryEnqueueDedup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	msg := Message{JobID: uuid.New(), Stage: domain.StageScrape}

	ok, err := m.Enqueue(ctx, "pipeline.scrape", "k1", msg)
	if err != nil || !ok {
		t.Fatalf("first enqueue = %v, %v", ok, err)
	}
	ok, err = m.Enqueue(ctx, "pipeline.scrape", "k1", msg)
	if err != nil || ok {
		t.Fatalf("duplicate enqueue accepted while in flight: %v, %v", ok, err)
	}

	// After the message reaches a terminal state the dedup id is free again.
	d, err := m.Claim(ctx, "pipeline.scrape", "w1")
	if err != nil || d == nil {
		t.Fatalf("claim = %v, %v", d, err)
	}
	if err := m.Complete(ctx, d); err != nil {
		t.Fatal(err)
	}
	ok, err = m.Enqueue(ctx, "pipeline.scrape", "k1", msg)
	if err != nil || !ok {
		t.Fatalf("re-enqueue after completion = %v, %v", ok, err)
	}
}

func TestMemoryClaimAttemptsAndRetry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{MaxAttempts: 3, BackoffBase: time.Millisecond})
	msg := Message{JobID: uuid.New(), Stage: domain.StageAnalyze}

	if _, err := m.Enqueue(ctx, "q", "k", msg); err != nil {
		t.Fatal(err)
	}

	d, _ := m.Claim(ctx, "q", "w1")
	if d == nil || d.Attempt != 1 || d.LastAttempt() {
		t.Fatalf("first claim: %+v", d)
	}
	if err := m.Retry(ctx, d, context.DeadlineExceeded); err != nil {
		t.Fatal(err)
	}

	// Message is delayed by backoff; wait it out.
	time.Sleep(5 * time.Millisecond)
	d, _ = m.Claim(ctx, "q", "w1")
	if d == nil || d.Attempt != 2 {
		t.Fatalf("second claim: %+v", d)
	}
	_ = m.Retry(ctx, d, context.DeadlineExceeded)

	time.Sleep(10 * time.Millisecond)
	d, _ = m.Claim(ctx, "q", "w1")
	if d == nil || d.Attempt != 3 || !d.LastAttempt() {
		t.Fatalf("third claim must be the last attempt: %+v", d)
	}
}

func TestStaleSettleIgnoredAfterLeaseLoss(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{MaxAttempts: 3, Lease: 50 * time.Millisecond, BackoffBase: time.Millisecond})

	if _, err := m.Enqueue(ctx, "q", "k", Message{JobID: uuid.New()}); err != nil {
		t.Fatal(err)
	}

	stale, _ := m.Claim(ctx, "q", "worker-a")
	if stale == nil {
		t.Fatal("first claim returned nothing")
	}

	// Lease expires, the reaper requeues, another worker re-claims.
	time.Sleep(60 * time.Millisecond)
	if n, err := m.ReapStalled(ctx); err != nil || n != 1 {
		t.Fatalf("reap = %d, %v", n, err)
	}
	live, _ := m.Claim(ctx, "q", "worker-b")
	if live == nil || live.Attempt != 2 {
		t.Fatalf("re-claim: %+v", live)
	}

	// The overrunning worker settles its stale claim: must not touch the
	// live one.
	if err := m.Fail(ctx, stale, context.DeadlineExceeded); err != nil {
		t.Fatal(err)
	}
	if got := m.States("q")["k"]; got != "running" {
		t.Fatalf("stale fail clobbered live claim: state = %q", got)
	}

	// The live worker's settle still lands.
	if err := m.Complete(ctx, live); err != nil {
		t.Fatal(err)
	}
	if got := m.States("q")["k"]; got != "completed" {
		t.Fatalf("live completion lost: state = %q", got)
	}
}

func TestReapFailsExhaustedMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{MaxAttempts: 1, Lease: time.Millisecond})

	if _, err := m.Enqueue(ctx, "q", "k", Message{JobID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	d, _ := m.Claim(ctx, "q", "w1")
	if d == nil || !d.LastAttempt() {
		t.Fatalf("claim: %+v", d)
	}

	// A stall on the final attempt must not earn another delivery.
	time.Sleep(5 * time.Millisecond)
	if _, err := m.ReapStalled(ctx); err != nil {
		t.Fatal(err)
	}
	if got := m.States("q")["k"]; got != "failed" {
		t.Fatalf("state after reaping final attempt = %q, want failed", got)
	}
	if d2, _ := m.Claim(ctx, "q", "w2"); d2 != nil {
		t.Fatalf("exhausted message re-delivered: %+v", d2)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.MaxAttempts != 3 || o.BackoffBase != 60*time.Second ||
		o.Lease != 15*time.Minute || o.CompletedRetention != 500 ||
		o.FailedRetention != 2000 {
		t.Errorf("unexpected defaults: %+v", o)
	}
}

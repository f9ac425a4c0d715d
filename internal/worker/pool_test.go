package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/queue"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolCompletesSuccessfulDeliveries(t *testing.T) {
	transport := queue.NewMemory(queue.Options{BackoffBase: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := queue.Message{JobID: uuid.New(), Stage: domain.StageScrape}
	if _, err := transport.Enqueue(ctx, "q", "k1", msg); err != nil {
		t.Fatal(err)
	}

	var handled atomic.Int32
	pool := &Pool{
		Queue:       "q",
		Concurrency: 2,
		Timeout:     time.Second,
		Transport:   transport,
		Logger:      discard(),
		Consume: func(_ context.Context, d *queue.Delivery) error {
			handled.Add(1)
			if d.Message.JobID != msg.JobID {
				t.Errorf("payload mismatch: %+v", d.Message)
			}
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool {
		return transport.States("q")["k1"] == "completed"
	})
	cancel()
	<-done

	if handled.Load() != 1 {
		t.Errorf("consumer invoked %d times, want 1", handled.Load())
	}
}

func TestPoolRetriesUntilExhaustionThenFails(t *testing.T) {
	transport := queue.NewMemory(queue.Options{MaxAttempts: 3, BackoffBase: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := transport.Enqueue(ctx, "q", "k1", queue.Message{JobID: uuid.New()}); err != nil {
		t.Fatal(err)
	}

	var attempts atomic.Int32
	pool := &Pool{
		Queue:       "q",
		Concurrency: 1,
		Timeout:     time.Second,
		Transport:   transport,
		Logger:      discard(),
		Consume: func(context.Context, *queue.Delivery) error {
			attempts.Add(1)
			return errors.New("always broken")
		},
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return transport.States("q")["k1"] == "failed"
	})
	cancel()
	<-done

	if got := attempts.Load(); got != 3 {
		t.Errorf("consumer invoked %d times, want 3", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	transport := queue.NewMemory(queue.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 6; i++ {
		if _, err := transport.Enqueue(ctx, "q", uuid.NewString(), queue.Message{JobID: uuid.New()}); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	pool := &Pool{
		Queue:       "q",
		Concurrency: 2,
		Timeout:     time.Second,
		Transport:   transport,
		Logger:      discard(),
		Consume: func(context.Context, *queue.Delivery) error {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	waitFor(t, 3*time.Second, func() bool {
		states := transport.States("q")
		for _, s := range states {
			if s != "completed" {
				return false
			}
		}
		return len(states) == 6
	})
	cancel()
	<-done

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", peak)
	}
}

func TestPoolAppliesExecutionTimeout(t *testing.T) {
	transport := queue.NewMemory(queue.Options{MaxAttempts: 1, BackoffBase: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := transport.Enqueue(ctx, "q", "k1", queue.Message{JobID: uuid.New()}); err != nil {
		t.Fatal(err)
	}

	pool := &Pool{
		Queue:       "q",
		Concurrency: 1,
		Timeout:     10 * time.Millisecond,
		Transport:   transport,
		Logger:      discard(),
		Consume: func(ctx context.Context, _ *queue.Delivery) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool {
		return transport.States("q")["k1"] == "failed"
	})
	cancel()
	<-done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

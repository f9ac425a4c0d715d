// Package worker runs the per-stage consumer pools. Work is pulled, not
// pushed: each goroutine claims one message at a time, so back-pressure
// comes from the transport and a slow stage cannot flood the process.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/queue"
)

const idleSleep = 500 * time.Millisecond

// Transport is the queue surface a pool consumes from.
type Transport interface {
	Claim(ctx context.Context, queue, workerID string) (*queue.Delivery, error)
	Retry(ctx context.Context, d *queue.Delivery, cause error) error
	Complete(ctx context.Context, d *queue.Delivery) error
	Fail(ctx context.Context, d *queue.Delivery, cause error) error
}

// Pool consumes one queue with bounded concurrency.
type Pool struct {
	Queue       string
	Concurrency int
	Timeout     time.Duration // hard wall-clock limit per execution
	Transport   Transport
	Consume     queue.Consumer
	Logger      *slog.Logger
}

// Run blocks until ctx is canceled and every in-flight execution has
// finished. In-flight runners are not interrupted on shutdown beyond the
// execution timeout; an abandoned message is recovered via its lease.
func (p *Pool) Run(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}

	p.Logger.Info("worker pool starting",
		"queue", p.Queue, "concurrency", concurrency)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		workerID := uuid.NewString()
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()
	p.Logger.Info("worker pool stopped", "queue", p.Queue)
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		d, err := p.Transport.Claim(ctx, p.Queue, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Logger.Error("claim failed", "queue", p.Queue, "err", err)
			sleepCtx(ctx, idleSleep)
			continue
		}
		if d == nil {
			sleepCtx(ctx, idleSleep)
			continue
		}

		p.handle(ctx, d)
	}
}

// handle executes one delivery under the hard timeout and settles it with
// the transport. The consumer owns job status and dead-lettering; the pool
// owns message-level retry accounting.
func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.Consume(execCtx, d)
	if err == nil {
		if cerr := p.Transport.Complete(ctx, d); cerr != nil {
			p.Logger.Error("complete failed",
				"queue", p.Queue, "message_id", d.MessageID, "err", cerr)
		}
		return
	}

	log := p.Logger.With(
		"queue", p.Queue,
		"message_id", d.MessageID,
		"job_id", d.Message.JobID,
		"attempt", d.Attempt,
		"last_attempt", d.LastAttempt(),
		"err", err,
	)

	if d.LastAttempt() {
		log.Error("delivery failed permanently")
		if ferr := p.Transport.Fail(ctx, d, err); ferr != nil {
			log.Error("terminal fail transition failed", "fail_err", ferr)
		}
		return
	}

	log.Warn("delivery failed, scheduling retry")
	if rerr := p.Transport.Retry(ctx, d, err); rerr != nil {
		log.Error("retry transition failed", "retry_err", rerr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Package queue provides durable, at-least-once delivery of stage-execution
// messages. One named queue exists per pipeline stage. Enqueue deduplicates
// on a caller-supplied id while a message for that id is still live, claims
// hand out a lease equal to the execution timeout, and failed deliveries are
// redelivered with exponential backoff until the attempt budget runs out.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// Message is the payload carried for one stage execution.
type Message struct {
	JobID    uuid.UUID       `json:"job_id"`
	Stage    domain.Stage    `json:"stage"`
	Metadata domain.Metadata `json:"metadata"`
}

// Delivery is one claimed attempt of a message. LockedBy identifies the
// claiming worker; settle operations are fenced on it so a worker that
// overran its lease cannot clobber a re-claimed message.
type Delivery struct {
	MessageID      uuid.UUID
	Queue          string
	DedupID        string
	Message        Message
	Attempt        int // 1-based, incremented at claim time
	MaxAttempts    int
	LockedBy       string
	LeaseExpiresAt time.Time
}

// LastAttempt reports whether a failure of this delivery exhausts the
// message's attempt budget.
func (d *Delivery) LastAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// Consumer processes a claimed delivery. A non-nil error triggers redelivery
// (or a terminal failure on the last attempt).
type Consumer func(ctx context.Context, d *Delivery) error

// Transport is the queue contract the orchestrator and workers depend on.
type Transport interface {
	// Enqueue submits a message. Returns false when a live message with the
	// same dedup id already exists on the queue.
	Enqueue(ctx context.Context, queue, dedupID string, msg Message) (bool, error)
	// Claim leases the next due message, or returns nil when the queue is
	// empty (normal idle state).
	Claim(ctx context.Context, queue, workerID string) (*Delivery, error)
	// Retry reschedules a failed delivery with backoff.
	Retry(ctx context.Context, d *Delivery, cause error) error
	// Complete finishes a delivery successfully.
	Complete(ctx context.Context, d *Delivery) error
	// Fail terminally fails a delivery.
	Fail(ctx context.Context, d *Delivery, cause error) error
}

// Options tune a transport. Zero values fall back to the defaults below.
type Options struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	Lease              time.Duration // claim lease; equals the execution timeout
	CompletedRetention int           // completed messages kept per queue
	FailedRetention    int           // failed messages kept per queue
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 60 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 15 * time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 500
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 2000
	}
	return o
}

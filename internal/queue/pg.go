package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is the PostgreSQL-backed Transport. Claiming uses FOR UPDATE SKIP LOCKED
// so contending workers move on immediately instead of blocking.
type PG struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *slog.Logger
}

func NewPG(pool *pgxpool.Pool, opts Options, logger *slog.Logger) *PG {
	return &PG{pool: pool, opts: opts.withDefaults(), logger: logger}
}

func (q *PG) Enqueue(ctx context.Context, queue, dedupID string, msg Message) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message: %w", err)
	}

	var id string
	err = q.pool.QueryRow(ctx, `
		INSERT INTO queue_messages (queue, dedup_id, payload, max_attempts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (queue, dedup_id) WHERE state IN ('pending', 'running') DO NOTHING
		RETURNING id`,
		queue, dedupID, payload, q.opts.MaxAttempts).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// A live message with this dedup id is already in flight.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	return true, nil
}

// claimSQL leases the next due message. Attempts are incremented at claim
// time so a crash mid-execution still consumes the attempt once the stalled
// message is requeued and re-claimed.
const claimSQL = `
WITH candidate AS (
    SELECT id FROM queue_messages
    WHERE queue = $1
      AND state = 'pending'
      AND scheduled_at <= NOW()
    ORDER BY scheduled_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_messages SET
    state            = 'running',
    attempts         = attempts + 1,
    locked_by        = $2,
    lease_expires_at = NOW() + ($3 * interval '1 millisecond'),
    updated_at       = NOW()
FROM candidate
WHERE queue_messages.id = candidate.id
RETURNING queue_messages.id, queue_messages.queue, queue_messages.dedup_id,
    queue_messages.payload, queue_messages.attempts,
    queue_messages.max_attempts, queue_messages.locked_by,
    queue_messages.lease_expires_at`

func (q *PG) Claim(ctx context.Context, queue, workerID string) (*Delivery, error) {
	row := q.pool.QueryRow(ctx, claimSQL, queue, workerID, q.opts.Lease.Milliseconds())

	d := &Delivery{}
	var payload []byte
	err := row.Scan(&d.MessageID, &d.Queue, &d.DedupID, &payload,
		&d.Attempt, &d.MaxAttempts, &d.LockedBy, &d.LeaseExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim on %s: %w", queue, err)
	}
	if err := json.Unmarshal(payload, &d.Message); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", d.MessageID, err)
	}
	return d, nil
}

// Settle updates are fenced on the claiming worker and a live lease. A
// worker that overran its lease finds its claim gone (the reaper requeued
// the message, possibly re-claimed by someone else) and its transition is
// ignored rather than clobbering the live claim.
func (q *PG) Retry(ctx context.Context, d *Delivery, cause error) error {
	delay := backoffDelay(d.Attempt, q.opts.BackoffBase)
	ct, err := q.pool.Exec(ctx, `
		UPDATE queue_messages SET
			state            = 'pending',
			scheduled_at     = NOW() + ($1 * interval '1 millisecond'),
			lease_expires_at = NULL,
			locked_by        = NULL,
			last_error       = $2,
			updated_at       = NOW()
		WHERE id = $3 AND state = 'running'
		  AND locked_by = $4 AND lease_expires_at > NOW()`,
		delay.Milliseconds(), cause.Error(), d.MessageID, d.LockedBy)
	if err != nil {
		return fmt.Errorf("retry %s: %w", d.MessageID, err)
	}
	if ct.RowsAffected() == 0 {
		q.logger.Warn("stale retry transition ignored",
			"message_id", d.MessageID, "locked_by", d.LockedBy)
	}
	return nil
}

func (q *PG) Complete(ctx context.Context, d *Delivery) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE queue_messages SET
			state            = 'completed',
			lease_expires_at = NULL,
			locked_by        = NULL,
			finished_at      = NOW(),
			updated_at       = NOW()
		WHERE id = $1 AND state = 'running'
		  AND locked_by = $2 AND lease_expires_at > NOW()`, d.MessageID, d.LockedBy)
	if err != nil {
		return fmt.Errorf("complete %s: %w", d.MessageID, err)
	}
	if ct.RowsAffected() == 0 {
		q.logger.Warn("stale completion ignored",
			"message_id", d.MessageID, "locked_by", d.LockedBy)
		return nil
	}
	q.trim(ctx, d.Queue, "completed", q.opts.CompletedRetention)
	return nil
}

func (q *PG) Fail(ctx context.Context, d *Delivery, cause error) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE queue_messages SET
			state            = 'failed',
			lease_expires_at = NULL,
			locked_by        = NULL,
			last_error       = $1,
			finished_at      = NOW(),
			updated_at       = NOW()
		WHERE id = $2 AND state = 'running'
		  AND locked_by = $3 AND lease_expires_at > NOW()`,
		cause.Error(), d.MessageID, d.LockedBy)
	if err != nil {
		return fmt.Errorf("fail %s: %w", d.MessageID, err)
	}
	if ct.RowsAffected() == 0 {
		q.logger.Warn("stale fail transition ignored",
			"message_id", d.MessageID, "locked_by", d.LockedBy)
		return nil
	}
	q.trim(ctx, d.Queue, "failed", q.opts.FailedRetention)
	return nil
}

// trim keeps the newest keep finished messages per queue and state, for
// operational visibility without unbounded growth. Best effort.
func (q *PG) trim(ctx context.Context, queue, state string, keep int) {
	_, err := q.pool.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue = $1 AND state = $2
			ORDER BY finished_at DESC
			OFFSET $3
		)`, queue, state, keep)
	if err != nil {
		q.logger.Warn("queue trim failed", "queue", queue, "state", state, "err", err)
	}
}

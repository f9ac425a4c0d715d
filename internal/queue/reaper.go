package queue

import (
	"context"
	"time"
)

// reaperLockKey is the PostgreSQL advisory lock key for reaper election.
// Only one reaper runs across all worker processes at a time.
const reaperLockKey = int64(0x504C4E51)

// ReapStalled settles running messages whose lease expired: the worker
// stalled or died without acknowledging. Messages with attempts remaining
// go back to pending for immediate redelivery; a stall on the final attempt
// fails the message so the attempt budget holds. The attempt consumed at
// claim time is not refunded.
func (q *PG) ReapStalled(ctx context.Context) (int, error) {
	rows, err := q.pool.Query(ctx, `
		WITH stalled AS (
			SELECT id FROM queue_messages
			WHERE state = 'running' AND lease_expires_at < NOW()
			ORDER BY lease_expires_at ASC
			LIMIT 500
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_messages SET
			state            = CASE WHEN queue_messages.attempts >= queue_messages.max_attempts
			                        THEN 'failed' ELSE 'pending' END,
			scheduled_at     = NOW(),
			lease_expires_at = NULL,
			locked_by        = NULL,
			last_error       = CASE WHEN queue_messages.attempts >= queue_messages.max_attempts
			                        THEN 'lease expired on final attempt'
			                        ELSE queue_messages.last_error END,
			finished_at      = CASE WHEN queue_messages.attempts >= queue_messages.max_attempts
			                        THEN NOW() ELSE queue_messages.finished_at END,
			updated_at       = NOW()
		FROM stalled
		WHERE queue_messages.id = stalled.id
		RETURNING queue_messages.id, queue_messages.queue,
			queue_messages.attempts, queue_messages.state`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, queueName, state string
		var attempts int
		if err := rows.Scan(&id, &queueName, &attempts, &state); err != nil {
			continue
		}
		n++
		q.logger.Warn("stalled message reaped",
			"message_id", id, "queue", queueName, "attempts", attempts, "state", state)
	}
	return n, rows.Err()
}

// RunReaper competes for the advisory lock and, on winning, reaps stalled
// messages every interval until ctx is canceled. The lock is held on a
// dedicated connection so it auto-releases if the process crashes; losers
// sleep and retry the election.
func (q *PG) RunReaper(ctx context.Context, interval time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := q.pool.Acquire(ctx)
		if err != nil {
			q.logger.Error("reaper: acquire failed", "err", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		var won bool
		err = conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock($1)`, reaperLockKey).Scan(&won)
		if err != nil || !won {
			conn.Release()
			sleepCtx(ctx, 10*time.Second)
			continue
		}

		q.logger.Info("reaper: won election")
		q.reapLoop(ctx, interval)
		conn.Release()
	}
}

func (q *PG) reapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.ReapStalled(ctx)
			if err != nil {
				q.logger.Error("reaper: reap failed", "err", err)
				return
			}
			if n > 0 {
				q.logger.Info("reaper: requeued stalled messages", "count", n)
			}
		}
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

// Package deadletter archives terminally failed jobs in the key-value cache
// for diagnostics. Writes are fire-and-forget: a dead-letter failure is
// logged and never masks the original job failure.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/kv"
)

const DefaultTTL = 30 * 24 * time.Hour

type Store struct {
	kv     kv.KV
	ttl    time.Duration
	logger *slog.Logger
}

func New(store kv.KV, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: store, ttl: ttl, logger: logger}
}

func entryKey(queue string, jobID uuid.UUID) string {
	return fmt.Sprintf("dlq:%s:%s", queue, jobID)
}

// Put archives entry. Errors are logged, not returned.
func (s *Store) Put(ctx context.Context, entry domain.DeadLetterEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("dead-letter marshal failed",
			"queue", entry.QueueName, "job_id", entry.JobID, "err", err)
		return
	}
	key := entryKey(entry.QueueName, entry.JobID)
	if err := s.kv.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Error("dead-letter write failed",
			"queue", entry.QueueName, "job_id", entry.JobID, "err", err)
		return
	}
	s.logger.Info("job dead-lettered",
		"queue", entry.QueueName, "job_id", entry.JobID, "attempts", entry.Attempts)
}

// Get returns the entry for a job, or false when none is archived.
func (s *Store) Get(ctx context.Context, queue string, jobID uuid.UUID) (*domain.DeadLetterEntry, bool, error) {
	data, ok, err := s.kv.Get(ctx, entryKey(queue, jobID))
	if err != nil || !ok {
		return nil, false, err
	}
	var entry domain.DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode dead-letter entry: %w", err)
	}
	return &entry, true, nil
}

// List returns all archived entries for a queue.
func (s *Store) List(ctx context.Context, queue string) ([]domain.DeadLetterEntry, error) {
	keys, err := s.kv.Keys(ctx, "dlq:"+queue+":")
	if err != nil {
		return nil, fmt.Errorf("list dead letters for %s: %w", queue, err)
	}

	entries := make([]domain.DeadLetterEntry, 0, len(keys))
	for _, key := range keys {
		data, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // expired between scan and read
		}
		var entry domain.DeadLetterEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("skipping undecodable dead-letter entry", "key", key, "err", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

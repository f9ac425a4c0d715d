package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id             uuid.UUID
	dedupID        string
	msg            Message
	attempts       int
	scheduledAt    time.Time
	state          string // pending | running | completed | failed
	lockedBy       string
	leaseExpiresAt time.Time
}

// Memory is an in-process Transport for tests and local development. It
// honors the same dedup and attempt semantics as the PG transport but keeps
// everything in a mutex-guarded map.
type Memory struct {
	mu       sync.Mutex
	opts     Options
	messages map[string][]*memoryMessage // queue → messages
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:     opts.withDefaults(),
		messages: make(map[string][]*memoryMessage),
	}
}

func (m *Memory) Enqueue(_ context.Context, queue, dedupID string, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mm := range m.messages[queue] {
		if mm.dedupID == dedupID && (mm.state == "pending" || mm.state == "running") {
			return false, nil
		}
	}
	m.messages[queue] = append(m.messages[queue], &memoryMessage{
		id:          uuid.New(),
		dedupID:     dedupID,
		msg:         msg,
		scheduledAt: time.Now(),
		state:       "pending",
	})
	return true, nil
}

func (m *Memory) Claim(_ context.Context, queue, workerID string) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, mm := range m.messages[queue] {
		if mm.state == "pending" && !mm.scheduledAt.After(now) {
			mm.state = "running"
			mm.attempts++
			mm.lockedBy = workerID
			mm.leaseExpiresAt = now.Add(m.opts.Lease)
			return &Delivery{
				MessageID:      mm.id,
				Queue:          queue,
				DedupID:        mm.dedupID,
				Message:        mm.msg,
				Attempt:        mm.attempts,
				MaxAttempts:    m.opts.MaxAttempts,
				LockedBy:       workerID,
				LeaseExpiresAt: mm.leaseExpiresAt,
			}, nil
		}
	}
	return nil, nil
}

func (m *Memory) Retry(_ context.Context, d *Delivery, _ error) error {
	return m.transition(d, "pending", backoffDelay(d.Attempt, m.opts.BackoffBase))
}

func (m *Memory) Complete(_ context.Context, d *Delivery) error {
	return m.transition(d, "completed", 0)
}

func (m *Memory) Fail(_ context.Context, d *Delivery, _ error) error {
	return m.transition(d, "failed", 0)
}

// transition settles a delivery with the same fencing as the PG transport:
// only the claiming worker may settle, and only while its lease is live.
func (m *Memory) transition(d *Delivery, state string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, mm := range m.messages[d.Queue] {
		if mm.id == d.MessageID && mm.state == "running" &&
			mm.lockedBy == d.LockedBy && mm.leaseExpiresAt.After(now) {
			mm.state = state
			mm.lockedBy = ""
			mm.leaseExpiresAt = time.Time{}
			if state == "pending" {
				mm.scheduledAt = now.Add(delay)
			}
		}
	}
	return nil
}

// ReapStalled mirrors the PG reaper for local development: lease-expired
// running messages return to pending, or fail outright when the attempt
// budget is already spent.
func (m *Memory) ReapStalled(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	n := 0
	for _, msgs := range m.messages {
		for _, mm := range msgs {
			if mm.state != "running" || mm.leaseExpiresAt.After(now) {
				continue
			}
			if mm.attempts >= m.opts.MaxAttempts {
				mm.state = "failed"
			} else {
				mm.state = "pending"
				mm.scheduledAt = now
			}
			mm.lockedBy = ""
			mm.leaseExpiresAt = time.Time{}
			n++
		}
	}
	return n, nil
}

// States returns the terminal/live state per dedup id, newest message wins.
// Test helper.
func (m *Memory) States(queue string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	for _, mm := range m.messages[queue] {
		out[mm.dedupID] = mm.state
	}
	return out
}

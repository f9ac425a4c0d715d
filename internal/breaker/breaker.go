// Package breaker implements a per-queue circuit breaker guarding stage
// execution. Closed is normal operation; five consecutive failures open the
// circuit; after the cool-down one trial call is let through (half-open) and
// its outcome decides between closing and re-opening.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow when the queue's circuit rejects
// execution. Callers treat it like a stage-runner failure for retry
// accounting, without paying for the downstream call.
var ErrCircuitOpen = errors.New("circuit breaker open")

type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// State is the persisted breaker record for one queue.
type State struct {
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure"`
	State       CircuitState `json:"state"`
}

// StateStore persists breaker state per queue name. Memory (process-local,
// cleared on restart) is the default; a shared store makes the breaker
// correct across horizontally scaled workers.
type StateStore interface {
	Get(ctx context.Context, queue string) (State, error)
	Put(ctx context.Context, queue string, s State) error
}

type Options struct {
	Threshold    int           // consecutive failures that open the circuit
	Cooldown     time.Duration // open → half-open delay
	SuccessDecay int           // failures healed per success while closed; 0 means 1, negative resets to zero
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 5
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 60 * time.Second
	}
	if o.SuccessDecay == 0 {
		o.SuccessDecay = 1
	}
	return o
}

// Breaker tracks failures per queue. The mutex guards the read-modify-write
// of breaker state within one process; with a shared StateStore a
// cross-process race can overshoot the threshold by a few calls, which is
// acceptable for a trip-early gate.
type Breaker struct {
	mu    sync.Mutex
	store StateStore
	opts  Options
	now   func() time.Time
}

func New(store StateStore, opts Options) *Breaker {
	return &Breaker{store: store, opts: opts.withDefaults(), now: time.Now}
}

// Allow decides whether an execution for queue may proceed. While open it
// rejects until the cool-down elapses, then flips to half-open and admits
// exactly one trial; further calls are rejected until that trial resolves.
func (b *Breaker) Allow(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store.Get(ctx, queue)
	if err != nil {
		return err
	}

	switch s.State {
	case StateOpen:
		if b.now().Sub(s.LastFailure) < b.opts.Cooldown {
			return ErrCircuitOpen
		}
		s.State = StateHalfOpen
		if err := b.store.Put(ctx, queue, s); err != nil {
			return err
		}
		return nil
	case StateHalfOpen:
		// A trial call is already in flight.
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess heals the breaker. A success while half-open closes the
// circuit and clears the count; while closed, the failure count decays by
// SuccessDecay (floored at zero) so isolated failures heal without a full
// reset. A negative SuccessDecay clears the count outright.
func (b *Breaker) RecordSuccess(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store.Get(ctx, queue)
	if err != nil {
		return err
	}

	if s.State == StateHalfOpen {
		return b.store.Put(ctx, queue, State{State: StateClosed})
	}

	if b.opts.SuccessDecay < 0 {
		s.Failures = 0
	} else {
		s.Failures -= b.opts.SuccessDecay
		if s.Failures < 0 {
			s.Failures = 0
		}
	}
	s.State = StateClosed
	return b.store.Put(ctx, queue, s)
}

// RecordFailure counts a failure; reaching the threshold (or failing the
// half-open trial) opens the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store.Get(ctx, queue)
	if err != nil {
		return err
	}

	s.Failures++
	s.LastFailure = b.now()
	if s.State == StateHalfOpen || s.Failures >= b.opts.Threshold {
		s.State = StateOpen
	} else {
		s.State = StateClosed
	}
	return b.store.Put(ctx, queue, s)
}

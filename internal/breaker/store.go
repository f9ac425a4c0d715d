package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/joeumn/etsy-gen-sub000/internal/kv"
)

// MemoryStore keeps breaker state in a process-local map. State is lost on
// restart and not shared across worker processes; that trade-off is accepted
// for single-instance deployments.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, queue string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[queue]
	if !ok {
		return State{State: StateClosed}, nil
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, queue string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[queue] = s
	return nil
}

// KVStore persists breaker state in the key-value cache so it survives
// restarts and is visible to every worker process.
type KVStore struct {
	kv kv.KV
}

func NewKVStore(store kv.KV) *KVStore {
	return &KVStore{kv: store}
}

func stateKey(queue string) string {
	return "breaker:" + queue
}

func (s *KVStore) Get(ctx context.Context, queue string) (State, error) {
	data, ok, err := s.kv.Get(ctx, stateKey(queue))
	if err != nil {
		return State{}, fmt.Errorf("get breaker state for %s: %w", queue, err)
	}
	if !ok {
		return State{State: StateClosed}, nil
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode breaker state for %s: %w", queue, err)
	}
	return st, nil
}

func (s *KVStore) Put(ctx context.Context, queue string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, stateKey(queue), data, 0); err != nil {
		return fmt.Errorf("put breaker state for %s: %w", queue, err)
	}
	return nil
}

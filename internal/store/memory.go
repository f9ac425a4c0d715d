package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// Memory is a mutex-guarded in-memory Store for tests and local development.
type Memory struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Job
	key  map[string]uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		byID: make(map[uuid.UUID]*domain.Job),
		key:  make(map[string]uuid.UUID),
	}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.key[job.JobKey]; ok {
		return ErrDuplicateKey
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	cp := *job
	m.byID[job.ID] = &cp
	m.key[job.JobKey] = job.ID
	return nil
}

func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) FindByKey(_ context.Context, jobKey string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.key[jobKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, u JobUpdate) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.IncrementAttempts {
		job.Attempts++
	}
	if u.Result != nil {
		job.Result = u.Result
	}
	if u.Error != nil {
		cp := *u.Error
		job.Error = &cp
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
	if u.DurationMS != nil {
		d := *u.DurationMS
		job.DurationMS = &d
	}
	job.UpdatedAt = time.Now()

	cp := *job
	return &cp, nil
}

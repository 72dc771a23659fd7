package store

import (
	"context"
	"sync"

	"credrelay/internal/credential"
	"credrelay/pkg/platform/sentinel"
)

// Memory is an in-process idempotency store for tests and local development.
// It enforces the same uniqueness contract as the PostgreSQL store.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]credential.Record
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]credential.Record)}
}

func (s *Memory) Find(_ context.Context, subjectID credential.SubjectID) (credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[subjectID.String()]
	if !ok {
		return credential.Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *Memory) Insert(_ context.Context, rec credential.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.SubjectID.String()
	if _, ok := s.recs[key]; ok {
		return sentinel.ErrConflict
	}
	s.recs[key] = rec
	return nil
}

package quota

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store for tests and the dummy setup.
type MemoryStore struct {
	mu     sync.Mutex
	quotas map[string]Quota
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotas: make(map[string]Quota)}
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(clientID), nil
}

func (s *MemoryStore) Consume(_ context.Context, clientID string) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.get(clientID)
	if q.Remaining <= 0 {
		return q, ErrQuotaExhausted
	}
	q.Remaining--
	q.Used++
	s.quotas[clientID] = q
	return q, nil
}

func (s *MemoryStore) TopUp(_ context.Context, clientID string, amount int64) (Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.get(clientID)
	q.Remaining += amount
	s.quotas[clientID] = q
	return q, nil
}

func (s *MemoryStore) get(clientID string) Quota {
	q, ok := s.quotas[clientID]
	if !ok {
		return Quota{ClientID: clientID}
	}
	return q
}

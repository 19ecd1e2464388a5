package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
// It mirrors database row semantics: every read returns a copy, and writes
// are rejected when the caller's version is stale.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*domain.Attempt),
	}
}

func (s *AttemptStore) Create(_ context.Context, attempt *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt.Version = 1
	s.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (s *AttemptStore) Update(_ context.Context, attempt *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attempt.ID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if stored.Version != attempt.Version {
		return domain.ErrAttemptConflict
	}
	attempt.Version++
	s.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (s *AttemptStore) FindByID(_ context.Context, id string) (*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt.Clone(), nil
}

func (s *AttemptStore) FindAll(_ context.Context) ([]*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*domain.Attempt, 0, len(s.attempts))
	for _, attempt := range s.attempts {
		all = append(all, attempt.Clone())
	}
	return all, nil
}

func (s *AttemptStore) FindByUser(_ context.Context, userID string) ([]*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*domain.Attempt
	for _, attempt := range s.attempts {
		if attempt.UserID == userID {
			found = append(found, attempt.Clone())
		}
	}
	return found, nil
}

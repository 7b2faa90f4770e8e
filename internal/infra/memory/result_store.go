package memory

import (
	"context"
	"sync"
	"time"

	"exam-session-service/internal/domain"
)

// ResultStore keeps results in memory. Append-only, like the real store:
// there is no update or delete path.
type ResultStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	results []domain.Result
}

func NewResultStore() *ResultStore {
	return &ResultStore{clock: time.Now}
}

// NewResultStoreWithClock is test-only for deterministic timestamps.
func NewResultStoreWithClock(now func() time.Time) *ResultStore {
	return &ResultStore{clock: now}
}

func (s *ResultStore) Save(_ context.Context, result domain.Result) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.SubmittedAt = s.clock()
	s.results = append(s.results, result)
	return result, nil
}

// Saved returns a copy of everything persisted so far.
func (s *ResultStore) Saved() []domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Result, len(s.results))
	copy(out, s.results)
	return out
}

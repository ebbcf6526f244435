package admission

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It exists for tests and
// single-node development; production deployments use the Postgres or Redis
// store, since in-process state cannot synchronize independent API instances.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	counters map[string]int64

	// now is swappable so tests can control expiry without sleeping.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

func (s *MemoryStore) ClaimKey(_ context.Context, key string, maxExecution time.Duration) (ClaimResult, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.ExpiresAt.After(now) {
		if rec.State == StateCompleted {
			return ClaimResult{Outcome: ClaimCompleted, Response: rec.Response}, nil
		}
		return ClaimResult{Outcome: ClaimPending}, nil
	}

	s.records[key] = &Record{
		Key:       key,
		State:     StatePending,
		ClaimedAt: now,
		ExpiresAt: now.Add(maxExecution),
	}
	return ClaimResult{Outcome: ClaimAcquired}, nil
}

func (s *MemoryStore) CompleteKey(_ context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.State != StatePending {
		return fmt.Errorf("complete %q: no pending claim", key)
	}
	rec.State = StateCompleted
	rec.Response = &resp
	rec.CompletedAt = now
	rec.ExpiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryStore) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.State == StatePending {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, key string) (*Record, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) IncrementCounter(_ context.Context, id Identifier, windowStart time.Time, _ time.Duration) (int64, error) {
	k := fmt.Sprintf("%s|%s|%d", id.Type, id.Value, windowStart.UnixMilli())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[k]++
	return s.counters[k], nil
}

package memory

import (
	"context"
	"sync"
	"time"

	repo "orderapi/internal/repository"
)

type idemEntry struct {
	done      bool
	payload   []byte
	expiresAt time.Time
}

// REDIS_ADDR が無いときの冪等キー保存先（プロセス内だけ有効）
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idemEntry
	now     func() time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[string]idemEntry),
		now:     time.Now,
	}
}

func (s *IdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (repo.IdempotencyState, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.done {
			return repo.IdempotencyDone, e.payload, nil
		}
		return repo.IdempotencyInProgress, nil, nil
	}

	s.entries[key] = idemEntry{expiresAt: now.Add(ttl)}
	return repo.IdempotencyNew, nil, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idemEntry{done: true, payload: payload, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

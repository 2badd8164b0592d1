package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory for local runs and tests. Expired entries are only
// dropped by Purge.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	now = now.UTC()
	id := digest([]byte(key))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && now.Before(existing.ExpiresAt) {
		outcome, err := resolve(existing, fingerprint)
		return outcome, existing, err
	}
	entry := Entry{Fingerprint: fingerprint, ClaimedAt: now, ExpiresAt: now.Add(effectiveTTL(ttl))}
	s.entries[id] = entry
	return Acquired, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := digest([]byte(key))

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[id]
	if ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.entries[id] = completed(resp, fingerprint, existing.ClaimedAt, now, effectiveTTL(ttl))
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key, fingerprint string) error {
	id := digest([]byte(key))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && existing.Fingerprint == fingerprint {
		delete(s.entries, id)
	}
	return nil
}

// Purge removes up to limit expired entries and reports how many went. A non-positive limit
// removes all of them.
func (s *MemoryStore) Purge(now time.Time, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed == limit {
			break
		}
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed
}

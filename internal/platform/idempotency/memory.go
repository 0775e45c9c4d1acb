package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStore keeps keys in process memory. It suits tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	records map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{clock: clock, records: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.clock().UTC()
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	entry, ok := s.records[id]
	if !ok {
		record := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now}
		s.records[id] = memoryEntry{record: record, expiresAt: now.Add(ttl)}
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	if entry.record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if entry.record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: entry.record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: entry.record}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.clock().UTC()
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := now
	if entry, ok := s.records[id]; ok {
		if entry.record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		createdAt = entry.record.CreatedAt
	}
	s.records[id] = memoryEntry{record: completedRecord(fingerprint, resp, createdAt), expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, storageKey(key))
	return nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, entry := range s.records {
		if !now.Before(entry.expiresAt) {
			delete(s.records, id)
		}
	}
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency"

// RedisStore shares keys across API instances. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a store whose keys live under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + storageKey(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pending := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: s.clock().UTC()}
	data, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode reservation: %w", err)
	}

	// The existing key may expire between SetNX and Get; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}

		existing, found, err := s.load(ctx, key)
		if err != nil {
			return Reservation{}, err
		}
		if !found {
			continue
		}
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing}, nil
	}
	return Reservation{}, errors.New("idempotency: reservation contended")
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	createdAt := s.clock().UTC()
	existing, found, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		createdAt = existing.CreatedAt
	}

	data, err := json.Marshal(completedRecord(fingerprint, resp, createdAt))
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

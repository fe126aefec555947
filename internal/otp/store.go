package otp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a pending one-time code for a single email address.
type Record struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists pending codes keyed by flow-qualified, normalized email.
// Get must return (nil, nil) when no record exists; expiry is the caller's
// concern so that a stale record can be reported as expired rather than
// silently absent.
type Store interface {
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a mutex-guarded map store for tests and single-instance
// deployments. Pending codes do not survive a process restart.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Put stores rec under key, replacing any prior record.
func (s *MemoryStore) Put(_ context.Context, key string, rec Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = rec
	return nil
}

// Get returns the record for key, or nil when none exists.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Delete removes the record for key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

// RedisStore keeps pending codes in Redis so they survive API restarts.
// Entries are written with twice the logical TTL: within the grace window a
// lookup still sees the stale record and can answer "expired" instead of
// "no pending request".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fixit:otp"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Put stores rec under key, replacing any prior record.
func (s *RedisStore) Put(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+":"+key, payload, 2*ttl).Err()
}

// Get returns the record for key, or nil when Redis has no entry.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	payload, err := s.client.Get(ctx, s.prefix+":"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes the record for key if present.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+":"+key).Err()
}

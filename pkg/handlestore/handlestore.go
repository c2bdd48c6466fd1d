// Package handlestore keeps the last known poll state for a dispatched
// remote task handle, so a runner's Submit/Poll cycle survives process
// restarts and can be shared across horizontally scaled instances of the
// workflow service. A Redis-backed store is used when REDIS_ADDR is
// configured; an in-process map is used otherwise.
package handlestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
)

// Store records and retrieves poll results keyed by a runner-assigned
// handle. Entries are expected to be deleted once a terminal result has
// been delivered to the caller, mirroring the teacher's one-shot channel
// semantics for a task outcome.
type Store interface {
	Set(ctx context.Context, handle string, result remotetask.PollResult) error
	Get(ctx context.Context, handle string) (remotetask.PollResult, bool, error)
	Delete(ctx context.Context, handle string) error
}

// MemoryStore is an in-process Store, used when no Redis address is
// configured. It keeps local dev and unit tests dependency-free.
type MemoryStore struct {
	mu      sync.Mutex
	results map[string]remotetask.PollResult
}

// NewMemoryStore constructs an empty in-process handle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]remotetask.PollResult)}
}

func (s *MemoryStore) Set(_ context.Context, handle string, result remotetask.PollResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[handle] = result
	return nil
}

func (s *MemoryStore) Get(_ context.Context, handle string) (remotetask.PollResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[handle]
	return res, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, handle)
	return nil
}

// RedisStore is a Redis-backed Store, keyed by a fixed prefix plus the
// handle ID, with an optional TTL so abandoned handles self-clean.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "workflow-engine:handles:"
	TTL      time.Duration // expiration for handle entries, default 1 hour
}

// NewRedisStore creates a RedisStore from opts.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "workflow-engine:handles:"
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(handle string) string {
	return s.prefix + handle
}

func (s *RedisStore) Set(ctx context.Context, handle string, result remotetask.PollResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("handlestore: marshal poll result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(handle), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("handlestore: set %q in redis: %w", handle, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, handle string) (remotetask.PollResult, bool, error) {
	data, err := s.client.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return remotetask.PollResult{}, false, nil
		}
		return remotetask.PollResult{}, false, fmt.Errorf("handlestore: get %q from redis: %w", handle, err)
	}

	var result remotetask.PollResult
	if err := json.Unmarshal(data, &result); err != nil {
		return remotetask.PollResult{}, false, fmt.Errorf("handlestore: unmarshal poll result: %w", err)
	}
	return result, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.Del(ctx, s.key(handle)).Err(); err != nil {
		return fmt.Errorf("handlestore: delete %q from redis: %w", handle, err)
	}
	return nil
}

// Close releases the underlying Redis client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

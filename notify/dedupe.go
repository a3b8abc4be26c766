package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers event ids that were already delivered.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewMemoryDeduper keeps ids for ttl; ttl <= 0 keeps them for the process lifetime.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time)}
}

func (m *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[eventID]
	if !ok {
		return false, nil
	}
	if m.ttl > 0 && time.Since(at) > m.ttl {
		delete(m.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryDeduper) Mark(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = time.Now()
	return nil
}

// RedisDeduper shares delivered ids across dispatcher instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(eventID string) string {
	return "offerflow:delivered:" + eventID
}

func (r *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := r.client.Get(ctx, dedupeKey(eventID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return r.client.SetNX(ctx, dedupeKey(eventID), 1, r.ttl).Err()
}

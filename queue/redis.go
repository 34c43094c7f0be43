package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stompd/broker/frame"
)

// RedisStoreConfig configures an external-service-backed durable store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix; defaults to "queue:"
	Options  *redis.Options
}

// RedisStore is a Redis-list-backed durable Store. Each destination is one
// Redis list: Enqueue does RPUSH (tail), Dequeue does LPOP (head), and
// Requeue does LPUSH (head) rather than reusing Enqueue's RPUSH, so a
// requeued frame lands ahead of everything appended since.
type RedisStore struct {
	client *redis.Client
	prefix string
	index  string

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore opens a client against config.Addr and verifies
// connectivity before returning.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	var client *redis.Client
	if config.Options != nil {
		client = redis.NewClient(config.Options)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis: %w", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "queue:"
	}

	return &RedisStore{client: client, prefix: prefix, index: prefix + "index"}, nil
}

// NewRedisStoreWithClient wraps an already-constructed client, for tests
// that point it at a fake or embedded Redis instance.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "queue:"
	}
	return &RedisStore{client: client, prefix: prefix, index: prefix + "index"}
}

func (r *RedisStore) listKey(destination string) string {
	return r.prefix + destination
}

func (r *RedisStore) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Enqueue implements Store.
func (r *RedisStore) Enqueue(ctx context.Context, destination string, f *frame.Frame) error {
	if r.isClosed() {
		return ErrStoreClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("queue: marshal frame: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, r.listKey(destination), data)
	pipe.SAdd(ctx, r.index, destination)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Requeue implements Store, reinserting at the head via LPUSH.
func (r *RedisStore) Requeue(ctx context.Context, destination string, f *frame.Frame) error {
	if r.isClosed() {
		return ErrStoreClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("queue: marshal frame: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, r.listKey(destination), data)
	pipe.SAdd(ctx, r.index, destination)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return nil
}

// Dequeue implements Store.
func (r *RedisStore) Dequeue(ctx context.Context, destination string) (*frame.Frame, bool, error) {
	if r.isClosed() {
		return nil, false, ErrStoreClosed
	}

	data, err := r.client.LPop(ctx, r.listKey(destination)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("queue: dequeue: %w", err)
	}

	var f frame.Frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, false, fmt.Errorf("queue: unmarshal frame: %w", err)
	}
	return &f, true, nil
}

// Size implements Store.
func (r *RedisStore) Size(ctx context.Context, destination string) (int, error) {
	if r.isClosed() {
		return 0, ErrStoreClosed
	}

	n, err := r.client.LLen(ctx, r.listKey(destination)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	return int(n), nil
}

// HasFrames implements Store.
func (r *RedisStore) HasFrames(ctx context.Context, destination string) (bool, error) {
	n, err := r.Size(ctx, destination)
	return n > 0, err
}

// Destinations implements Store.
func (r *RedisStore) Destinations(ctx context.Context) ([]string, error) {
	if r.isClosed() {
		return nil, ErrStoreClosed
	}

	destinations, err := r.client.SMembers(ctx, r.index).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: destinations: %w", err)
	}

	out := make([]string, 0, len(destinations))
	for _, d := range destinations {
		n, err := r.Size(ctx, d)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// Drain implements Store.
func (r *RedisStore) Drain(ctx context.Context, destination string, fn func(*frame.Frame) bool) error {
	return drain(ctx, r, destination, fn)
}

// Close implements Store.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	r.closed = true
	return r.client.Close()
}

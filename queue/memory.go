package queue

import (
	"context"
	"sync"

	"github.com/stompd/broker/frame"
)

// MemoryStore is an in-memory, non-durable Store: a FIFO slice-backed deque
// per destination. Reference implementation; survives nothing across
// restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string][]*frame.Frame
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string][]*frame.Frame)}
}

// Enqueue implements Store.
func (m *MemoryStore) Enqueue(ctx context.Context, destination string, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	m.queues[destination] = append(m.queues[destination], f)
	return nil
}

// Dequeue implements Store.
func (m *MemoryStore) Dequeue(ctx context.Context, destination string) (*frame.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrStoreClosed
	}

	q := m.queues[destination]
	if len(q) == 0 {
		return nil, false, nil
	}

	f := q[0]
	m.queues[destination] = q[1:]
	return f, true, nil
}

// Requeue implements Store, reinserting at the head.
func (m *MemoryStore) Requeue(ctx context.Context, destination string, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	m.queues[destination] = append([]*frame.Frame{f}, m.queues[destination]...)
	return nil
}

// Size implements Store.
func (m *MemoryStore) Size(ctx context.Context, destination string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	return len(m.queues[destination]), nil
}

// HasFrames implements Store.
func (m *MemoryStore) HasFrames(ctx context.Context, destination string) (bool, error) {
	n, err := m.Size(ctx, destination)
	return n > 0, err
}

// Destinations implements Store.
func (m *MemoryStore) Destinations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]string, 0, len(m.queues))
	for destination, q := range m.queues {
		if len(q) > 0 {
			out = append(out, destination)
		}
	}
	return out, nil
}

// Drain implements Store.
func (m *MemoryStore) Drain(ctx context.Context, destination string, fn func(*frame.Frame) bool) error {
	return drain(ctx, m, destination, fn)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.closed = true
	m.queues = nil
	return nil
}

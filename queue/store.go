// Package queue implements point-to-point destination semantics: a pluggable
// durable Store behind FIFO enqueue/dequeue/requeue, and the QueueManager
// that decides whether an incoming SEND is delivered directly or buffered.
package queue

import (
	"context"
	"errors"

	"github.com/stompd/broker/frame"
)

var (
	// ErrStoreClosed is returned by every Store operation once Close has
	// been called.
	ErrStoreClosed = errors.New("queue: store is closed")
)

// Store is the durable backing for queue destinations. Implementations must
// preserve FIFO order per destination, with Requeue reinserting at the head
// so a frame pulled back off a dropped delivery is redelivered before any
// frame enqueued after it.
type Store interface {
	// Enqueue appends frame to the tail of destination's queue.
	Enqueue(ctx context.Context, destination string, f *frame.Frame) error

	// Dequeue removes and returns the frame at the head of destination's
	// queue, or (nil, false) if empty.
	Dequeue(ctx context.Context, destination string) (*frame.Frame, bool, error)

	// Requeue reinserts frame at the head of destination's queue.
	Requeue(ctx context.Context, destination string, f *frame.Frame) error

	// Size returns the number of frames currently queued for destination.
	Size(ctx context.Context, destination string) (int, error)

	// HasFrames reports whether destination has at least one queued
	// frame.
	HasFrames(ctx context.Context, destination string) (bool, error)

	// Destinations returns the destinations that currently have at least
	// one queued frame.
	Destinations(ctx context.Context) ([]string, error)

	// Drain dequeues destination's frames one at a time, in FIFO order,
	// passing each already-dequeued frame to fn, until the queue is empty
	// or fn returns false. Frames not yet reached when fn returns false
	// are left untouched in the store. This is the async iterator the
	// port names; the drainer that replays buffered frames to a
	// newly-arrived subscriber is the intended caller.
	Drain(ctx context.Context, destination string, fn func(*frame.Frame) bool) error

	// Close releases any resources held by the store. Further operations
	// fail with ErrStoreClosed.
	Close() error
}

// drain implements the Drain contract in terms of Dequeue, shared by every
// Store backend so the stop-early/empty/error semantics only need to be
// gotten right once.
func drain(ctx context.Context, store Store, destination string, fn func(*frame.Frame) bool) error {
	for {
		f, ok, err := store.Dequeue(ctx, destination)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(f) {
			return nil
		}
	}
}

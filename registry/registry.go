// Package registry tracks, per destination, which (connection, id) pairs
// are subscribed, shared at broker scope between the queue manager and the
// topic manager.
package registry

import (
	"sync"

	"github.com/stompd/broker/conn"
)

// Subscription identifies where a delivered MESSAGE should land: a specific
// connection and the client-chosen subscription id it used.
type Subscription struct {
	Connection conn.Connection
	ID         string
}

// Registry is the subscription registry. The zero value is not usable; use
// New. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[conn.Connection]string // destination -> connection -> id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{subs: make(map[string]map[conn.Connection]string)}
}

// Subscribe adds (connection, id) to destination's subscriber set.
// Idempotent: subscribing the same connection to the same destination again
// just updates its id.
func (r *Registry) Subscribe(c conn.Connection, destination, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.subs[destination]
	if !ok {
		bucket = make(map[conn.Connection]string)
		r.subs[destination] = bucket
	}
	bucket[c] = id
}

// Unsubscribe removes the (connection, id) entry for destination. A no-op
// if the entry is not present. The destination key is removed if the
// bucket becomes empty.
func (r *Registry) Unsubscribe(c conn.Connection, destination, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.subs[destination]
	if !ok {
		return
	}
	if existing, ok := bucket[c]; !ok || existing != id {
		return
	}
	delete(bucket, c)
	if len(bucket) == 0 {
		delete(r.subs, destination)
	}
}

// Disconnect removes every entry belonging to c, across all destinations.
func (r *Registry) Disconnect(c conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for destination, bucket := range r.subs {
		if _, ok := bucket[c]; !ok {
			continue
		}
		delete(bucket, c)
		if len(bucket) == 0 {
			delete(r.subs, destination)
		}
	}
}

// Subscribers returns the current subscriber set for destination. The
// returned slice is a snapshot; mutating it does not affect the registry.
func (r *Registry) Subscribers(destination string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.subs[destination]
	out := make([]Subscription, 0, len(bucket))
	for c, id := range bucket {
		out = append(out, Subscription{Connection: c, ID: id})
	}
	return out
}

// SubscriberCount returns the number of subscribers of destination, or the
// total across all destinations if destination is "".
func (r *Registry) SubscriberCount(destination string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if destination != "" {
		return len(r.subs[destination])
	}
	total := 0
	for _, bucket := range r.subs {
		total += len(bucket)
	}
	return total
}

// Destinations returns the destinations that currently have at least one
// subscriber.
func (r *Registry) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.subs))
	for destination := range r.subs {
		out = append(out, destination)
	}
	return out
}

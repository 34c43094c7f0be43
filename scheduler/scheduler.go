// Package scheduler implements the two pluggable delivery policies: which
// subscriber receives a queue message, and which destination a queue
// scheduler favors. Both are synchronous and pure; determinism across
// choices is never promised.
package scheduler

import (
	"math/rand"

	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/registry"
)

// SubscriberScheduler picks one subscriber to deliver a message to, or
// reports none when subscribers is empty.
type SubscriberScheduler interface {
	Choice(subscribers []registry.Subscription, f *frame.Frame) (registry.Subscription, bool)
}

// QueueScheduler picks one destination from a set of candidate queue
// destinations for the given connection, or reports none when destinations
// is empty.
type QueueScheduler interface {
	Choice(destinations []string, c conn.Connection) (string, bool)
}

// RandomSubscriberScheduler picks uniformly at random among all eligible
// subscribers.
type RandomSubscriberScheduler struct{}

// Choice implements SubscriberScheduler.
func (RandomSubscriberScheduler) Choice(subscribers []registry.Subscription, _ *frame.Frame) (registry.Subscription, bool) {
	if len(subscribers) == 0 {
		return registry.Subscription{}, false
	}
	return subscribers[rand.Intn(len(subscribers))], true
}

// ReliableSubscriberScheduler prefers subscribers whose connection reports
// ReliableSubscriber() true, falling back to a uniform pick among all
// subscribers when none are reliable.
type ReliableSubscriberScheduler struct{}

// Choice implements SubscriberScheduler.
func (ReliableSubscriberScheduler) Choice(subscribers []registry.Subscription, _ *frame.Frame) (registry.Subscription, bool) {
	if len(subscribers) == 0 {
		return registry.Subscription{}, false
	}

	reliable := make([]registry.Subscription, 0, len(subscribers))
	for _, s := range subscribers {
		if s.Connection.ReliableSubscriber() {
			reliable = append(reliable, s)
		}
	}
	if len(reliable) > 0 {
		return reliable[rand.Intn(len(reliable))], true
	}
	return subscribers[rand.Intn(len(subscribers))], true
}

// RandomQueueScheduler picks uniformly at random among the candidate
// destination names.
type RandomQueueScheduler struct{}

// Choice implements QueueScheduler.
func (RandomQueueScheduler) Choice(destinations []string, _ conn.Connection) (string, bool) {
	if len(destinations) == 0 {
		return "", false
	}
	return destinations[rand.Intn(len(destinations))], true
}

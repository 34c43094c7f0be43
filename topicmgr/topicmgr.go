// Package topicmgr implements fan-out destination semantics: every current
// subscriber of a destination receives its own copy of a sent frame, with
// no buffering for absent subscribers.
package topicmgr

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/pkg/logger"
	"github.com/stompd/broker/registry"
)

// ErrMissingDestination is raised when a SEND frame destined for a topic
// has no destination header.
var ErrMissingDestination = errors.New("topicmgr: missing destination header")

// Manager fans a sent frame out to every current subscriber of its
// destination, pruning any subscriber whose delivery fails.
type Manager struct {
	registry *registry.Registry
	log      logger.Logger
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Registry *registry.Registry
	Logger   logger.Logger
}

// NewManager constructs a topic manager over the given registry.
func NewManager(config ManagerConfig) *Manager {
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{registry: config.Registry, log: log}
}

// Send normalizes f into a MESSAGE and delivers an independent copy to
// every subscriber of its destination. A subscriber whose SendFrame fails
// is unsubscribed from this destination once the fan-out loop completes.
func (m *Manager) Send(ctx context.Context, f *frame.Frame) error {
	destination, ok := f.Header(frame.HeaderDestination)
	if !ok || destination == "" {
		return ErrMissingDestination
	}

	f.Command = frame.MESSAGE
	f.Headers.SetDefault(frame.HeaderMessageID, uuid.NewString())

	subscribers := m.registry.Subscribers(destination)

	var failed []registry.Subscription
	for _, sub := range subscribers {
		copyFrame := &frame.Frame{
			Command: f.Command,
			Headers: append(frame.Headers(nil), f.Headers...),
			Body:    f.Body,
		}
		copyFrame.Headers.Set(frame.HeaderSubscription, sub.ID)

		if err := sub.Connection.SendFrame(ctx, copyFrame); err != nil {
			m.log.Warn("topic delivery failed, pruning subscriber", "destination", destination, "subscription", sub.ID, "err", err)
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		m.registry.Unsubscribe(sub.Connection, destination, sub.ID)
	}

	return nil
}

// Subscribe delegates to the registry.
func (m *Manager) Subscribe(c conn.Connection, destination, id string) {
	m.registry.Subscribe(c, destination, id)
}

// Unsubscribe delegates to the registry.
func (m *Manager) Unsubscribe(c conn.Connection, destination, id string) {
	m.registry.Unsubscribe(c, destination, id)
}

// Disconnect delegates to the registry.
func (m *Manager) Disconnect(c conn.Connection) {
	m.registry.Disconnect(c)
}

package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/registry"
	"github.com/stompd/broker/scheduler"
)

// ErrMissingDestination is raised when a SEND frame destined for a queue
// has no destination header.
var ErrMissingDestination = errors.New("queue: missing destination header")

// Manager routes SEND frames to a single queue subscriber, or buffers them
// in the durable Store when no subscriber is currently eligible.
type Manager struct {
	store     Store
	registry  *registry.Registry
	scheduler scheduler.SubscriberScheduler

	mu      sync.Mutex
	pending map[registry.Subscription]*frame.Frame
}

// ManagerConfig configures a Manager. Scheduler defaults to
// scheduler.RandomSubscriberScheduler if nil.
type ManagerConfig struct {
	Store     Store
	Registry  *registry.Registry
	Scheduler scheduler.SubscriberScheduler
}

// NewManager constructs a queue manager over the given store and registry.
func NewManager(config ManagerConfig) *Manager {
	if config.Scheduler == nil {
		config.Scheduler = scheduler.RandomSubscriberScheduler{}
	}
	return &Manager{
		store:     config.Store,
		registry:  config.Registry,
		scheduler: config.Scheduler,
		pending:   make(map[registry.Subscription]*frame.Frame),
	}
}

// Send normalizes f into a MESSAGE and either delivers it directly to one
// eligible subscriber or enqueues it in the store when none is eligible.
func (m *Manager) Send(ctx context.Context, f *frame.Frame) error {
	destination, ok := f.Header(frame.HeaderDestination)
	if !ok || destination == "" {
		return ErrMissingDestination
	}

	f.Command = frame.MESSAGE
	f.Headers.SetDefault(frame.HeaderMessageID, uuid.NewString())

	all := m.registry.Subscribers(destination)

	m.mu.Lock()
	eligible := make([]registry.Subscription, 0, len(all))
	for _, s := range all {
		if _, busy := m.pending[s]; !busy {
			eligible = append(eligible, s)
		}
	}
	m.mu.Unlock()

	if len(eligible) == 0 {
		return m.store.Enqueue(ctx, destination, f)
	}

	selected, ok := m.scheduler.Choice(eligible, f)
	if !ok {
		return m.store.Enqueue(ctx, destination, f)
	}

	f.Headers.Set(frame.HeaderSubscription, selected.ID)
	return selected.Connection.SendFrame(ctx, f)
}

// Subscribe delegates to the registry.
func (m *Manager) Subscribe(c conn.Connection, destination, id string) {
	m.registry.Subscribe(c, destination, id)
}

// Unsubscribe delegates to the registry.
func (m *Manager) Unsubscribe(c conn.Connection, destination, id string) {
	m.registry.Unsubscribe(c, destination, id)
}

// pendingFrame is one in-flight frame collected by Disconnect for requeue.
type pendingFrame struct {
	destination string
	frame       *frame.Frame
}

// Disconnect requeues any frame left pending for the departing connection's
// subscriptions, then unbinds it from the registry.
func (m *Manager) Disconnect(ctx context.Context, c conn.Connection) error {
	m.mu.Lock()
	var toRequeue []pendingFrame
	for sub, f := range m.pending {
		if sub.Connection != c {
			continue
		}
		destination, _ := f.Header(frame.HeaderDestination)
		toRequeue = append(toRequeue, pendingFrame{destination: destination, frame: f})
		delete(m.pending, sub)
	}
	m.mu.Unlock()

	for _, item := range toRequeue {
		if err := m.store.Requeue(ctx, item.destination, item.frame); err != nil {
			return err
		}
	}

	m.registry.Disconnect(c)
	return nil
}

// Close propagates close to the store.
func (m *Manager) Close() error {
	return m.store.Close()
}

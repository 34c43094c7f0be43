// Package broker wires the shared broker-scope state (registry, queue
// store, managers, authenticator) and constructs a per-session Engine for
// each accepted connection.
package broker

import (
	"context"

	"github.com/stompd/broker/auth"
	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/engine"
	"github.com/stompd/broker/pkg/logger"
	"github.com/stompd/broker/queue"
	"github.com/stompd/broker/registry"
	"github.com/stompd/broker/scheduler"
	"github.com/stompd/broker/topicmgr"
)

// Config configures a Broker. Store and Authenticator are required;
// SubscriberScheduler and Logger fall back to reasonable defaults.
type Config struct {
	Store               queue.Store
	Authenticator       auth.Authenticator
	SubscriberScheduler scheduler.SubscriberScheduler
	Logger              logger.Logger
}

// Broker holds the state shared across every session: the subscription
// registry, the queue manager (and its store), and the topic manager. One
// Broker serves an entire listener's worth of connections.
type Broker struct {
	registry *registry.Registry
	queueMgr *queue.Manager
	topicMgr *topicmgr.Manager
	authn    auth.Authenticator
	log      logger.Logger
}

// New constructs a Broker from config.
func New(config Config) *Broker {
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}

	reg := registry.New()
	queueMgr := queue.NewManager(queue.ManagerConfig{
		Store:     config.Store,
		Registry:  reg,
		Scheduler: config.SubscriberScheduler,
	})
	topicMgr := topicmgr.NewManager(topicmgr.ManagerConfig{
		Registry: reg,
		Logger:   log,
	})

	return &Broker{
		registry: reg,
		queueMgr: queueMgr,
		topicMgr: topicMgr,
		authn:    config.Authenticator,
		log:      log,
	}
}

// NewSession constructs the per-connection protocol engine for c, bound to
// this broker's shared state.
func (b *Broker) NewSession(c conn.Connection) *engine.Engine {
	return engine.New(engine.Config{
		Connection:    c,
		Authenticator: b.authn,
		QueueManager:  b.queueMgr,
		TopicManager:  b.topicMgr,
		Logger:        b.log,
	})
}

// Serve runs one connection's session to completion: constructs its
// engine and drives it until disconnect, Closed, or ctx cancellation.
func (b *Broker) Serve(ctx context.Context, c conn.Connection) error {
	return b.NewSession(c).Run(ctx)
}

// Close releases the broker-scope resources (the queue store).
func (b *Broker) Close() error {
	return b.queueMgr.Close()
}

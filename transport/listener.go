package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stompd/broker/pkg/logger"
)

// ListenerConfig configures the TCP (optionally TLS) listener that accepts
// STOMP connections.
type ListenerConfig struct {
	Address      string
	TLSConfig    *tls.Config
	ConnConfig   Config
	Pool         PoolConfig
	AcceptJitter time.Duration
}

func DefaultListenerConfig(address string) ListenerConfig {
	return ListenerConfig{
		Address:    address,
		ConnConfig: DefaultConfig(),
		Pool:       DefaultPoolConfig(),
	}
}

// Handler processes one accepted session to completion. The listener
// removes the connection from its pool when Handler returns, regardless of
// outcome.
type Handler func(ctx context.Context, c *Conn) error

// Listener accepts raw connections, wraps each in a Conn, and dispatches it
// to a Handler on its own goroutine.
type Listener struct {
	config   ListenerConfig
	log      logger.Logger
	listener net.Listener
	pool     *Pool
	handler  Handler

	connSeq  atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

func NewListener(config ListenerConfig, handler Handler, log logger.Logger) *Listener {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		config:  config,
		log:     log,
		pool:    NewPool(config.Pool, log),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listening socket and begins accepting connections in the
// background. It returns once the socket is bound.
func (l *Listener) Start() error {
	var err error
	if l.config.TLSConfig != nil {
		l.listener, err = tls.Listen("tcp", l.config.Address, l.config.TLSConfig)
	} else {
		l.listener, err = net.Listen("tcp", l.config.Address)
	}
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.config.Address, err)
	}

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		netConn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.log.Warn("accept failed", "err", err)
			continue
		}

		if l.config.Pool.MaxConnections > 0 && l.pool.Len() >= l.config.Pool.MaxConnections {
			_ = netConn.Close()
			l.rejected.Add(1)
			continue
		}

		l.wg.Add(1)
		go l.serve(netConn)
	}
}

func (l *Listener) serve(netConn net.Conn) {
	defer l.wg.Done()

	id := fmt.Sprintf("conn-%d-%d", time.Now().UnixNano(), l.connSeq.Add(1))
	c := New(netConn, id, l.config.ConnConfig)

	if err := l.pool.Add(c); err != nil {
		_ = c.Close()
		l.rejected.Add(1)
		return
	}
	defer l.pool.Remove(id)

	l.accepted.Add(1)
	if err := l.handler(l.ctx, c); err != nil {
		l.log.Warn("session ended with error", "conn", id, "err", err)
	}
	_ = c.Close()
}

func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Active:   uint64(l.pool.Len()),
	}
}

type ListenerStats struct {
	Accepted uint64
	Rejected uint64
	Active   uint64
}

// Close stops accepting new connections, closes every tracked session, and
// waits for their handler goroutines to return.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()

	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}
	_ = l.pool.Close()
	l.wg.Wait()
	return err
}

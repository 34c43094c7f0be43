// Package engine implements the per-session STOMP protocol state machine:
// Initial (pre-CONNECT) -> Connected -> Closed.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stompd/broker/auth"
	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/pkg/logger"
)

type sessionState int

const (
	stateInitial sessionState = iota
	stateConnected
	stateClosed
)

// QueueManager is the subset of queue.Manager the engine depends on.
type QueueManager interface {
	Send(ctx context.Context, f *frame.Frame) error
	Subscribe(c conn.Connection, destination, id string)
	Unsubscribe(c conn.Connection, destination, id string)
	Disconnect(ctx context.Context, c conn.Connection) error
}

// TopicManager is the subset of topicmgr.Manager the engine depends on.
type TopicManager interface {
	Send(ctx context.Context, f *frame.Frame) error
	Subscribe(c conn.Connection, destination, id string)
	Unsubscribe(c conn.Connection, destination, id string)
	Disconnect(c conn.Connection)
}

// Config wires one Engine to its connection and the broker-scope managers
// it routes through.
type Config struct {
	Connection    conn.Connection
	Authenticator auth.Authenticator
	QueueManager  QueueManager
	TopicManager  TopicManager
	Logger        logger.Logger
}

// Engine is the per-session protocol state machine. Not safe for
// concurrent use: one goroutine per session reads frames sequentially and
// drives HandleFrame/Run.
type Engine struct {
	conn  conn.Connection
	authn auth.Authenticator
	queue QueueManager
	topic TopicManager
	log   logger.Logger

	mu        sync.Mutex
	state     sessionState
	sessionID string
}

// New constructs an Engine in the Initial state.
func New(config Config) *Engine {
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		conn:  config.Connection,
		authn: config.Authenticator,
		queue: config.QueueManager,
		topic: config.TopicManager,
		log:   log,
		state: stateInitial,
	}
}

// isQueueDestination reports whether destination routes to the queue
// manager (the /queue/ prefix) rather than the topic manager (the
// default).
func isQueueDestination(destination string) bool {
	return strings.HasPrefix(destination, "/queue/")
}

// Run reads and dispatches frames from the connection until it
// disconnects, the session transitions to Closed, or ctx is cancelled.
// Every exit path unbinds the session from both managers.
func (e *Engine) Run(ctx context.Context) error {
	defer e.teardown(ctx)

	for {
		if e.currentState() == stateClosed {
			return nil
		}

		f, err := e.conn.ReceiveFrame(ctx)
		if err != nil {
			if errors.Is(err, conn.ErrClientDisconnected) {
				return nil
			}
			return err
		}

		e.HandleFrame(ctx, f)
	}
}

func (e *Engine) currentState() sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) teardown(ctx context.Context) {
	if err := e.queue.Disconnect(ctx, e.conn); err != nil {
		e.log.Error("queue manager disconnect failed", "err", err)
	}
	e.topic.Disconnect(e.conn)
}

// HandleFrame processes exactly one inbound frame to completion: dispatch,
// receipt law, and error-to-ERROR-frame conversion. It never returns an
// error for protocol-level failures; those are converted to an ERROR frame
// sent back to the client. A non-nil return indicates ctx was already
// cancelled before any work began.
func (e *Engine) HandleFrame(ctx context.Context, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.currentState() == stateInitial && f.Command != frame.CONNECT && f.Command != frame.STOMP {
		e.sendError(ctx, ErrNotConnected.Error(), nil)
		return nil
	}

	handlerErr := e.dispatch(ctx, f)

	if handlerErr != nil {
		e.sendError(ctx, handlerErr.Error(), nil)
		return nil
	}

	if receiptID, ok := f.Header(frame.HeaderReceipt); ok && f.Command != frame.CONNECT && f.Command != frame.STOMP {
		if err := e.conn.SendFrame(ctx, frame.NewReceipt(receiptID)); err != nil {
			e.log.Error("failed to send receipt", "err", err)
		}
	}

	return nil
}

func (e *Engine) dispatch(ctx context.Context, f *frame.Frame) error {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		return e.handleConnect(ctx, f)
	case frame.SEND:
		return e.handleSend(ctx, f)
	case frame.SUBSCRIBE:
		return e.handleSubscribe(ctx, f)
	case frame.UNSUBSCRIBE:
		return e.handleUnsubscribe(ctx, f)
	case frame.DISCONNECT:
		return e.handleDisconnect(ctx, f)
	case frame.BEGIN, frame.COMMIT, frame.ABORT:
		return e.handleTransactionFrame(ctx, f)
	case frame.ACK, frame.NACK:
		return e.handleAckNack(ctx, f)
	default:
		return ErrUnknownCommand
	}
}

func (e *Engine) handleConnect(ctx context.Context, f *frame.Frame) error {
	acceptVersion, ok := f.Header(frame.HeaderAcceptVer)
	if !ok || strings.TrimSpace(acceptVersion) == "" {
		e.sendVersionError(ctx, ErrMissingAcceptVersion.Error())
		return nil
	}

	versions := strings.Split(acceptVersion, ",")
	supported := false
	for _, v := range versions {
		if strings.TrimSpace(v) == frame.SupportedVersion {
			supported = true
			break
		}
	}
	if !supported {
		e.sendVersionError(ctx, ErrUnsupportedVersion.Error())
		return nil
	}

	token, ok := f.Header(frame.HeaderToken)
	if !ok || token == "" {
		e.sendVersionError(ctx, ErrMissingToken.Error())
		return nil
	}

	authenticated, err := e.authn.AuthenticateFromToken(ctx, token)
	if err != nil || !authenticated {
		e.sendVersionError(ctx, ErrAuthFailed.Error())
		return nil
	}

	sessionID := uuid.NewString()
	e.mu.Lock()
	e.state = stateConnected
	e.sessionID = sessionID
	e.mu.Unlock()

	if err := e.conn.SendFrame(ctx, frame.NewConnected(sessionID)); err != nil {
		e.log.Error("failed to send CONNECTED", "err", err)
	}
	return nil
}

// sendVersionError sends the ERROR frame the spec requires for CONNECT/STOMP
// rejection: a version header, text/plain content-type, and a body
// explaining the failure.
func (e *Engine) sendVersionError(ctx context.Context, reason string) {
	f := frame.NewError(reason, []byte(reason))
	f.Headers.Set(frame.HeaderVersion, frame.SupportedVersion)
	f.Headers.Set(frame.HeaderContentType, frame.TextPlain)
	if err := e.conn.SendFrame(ctx, f); err != nil {
		e.log.Error("failed to send ERROR", "err", err)
	}
}

func (e *Engine) sendError(ctx context.Context, reason string, body []byte) {
	f := frame.NewError(reason, body)
	f.Headers.Set(frame.HeaderContentType, frame.TextPlain)
	if err := e.conn.SendFrame(ctx, f); err != nil {
		e.log.Error("failed to send ERROR", "err", err)
	}
}

func (e *Engine) handleSend(ctx context.Context, f *frame.Frame) error {
	destination, ok := f.Header(frame.HeaderDestination)
	if !ok || destination == "" {
		return ErrMissingDestination
	}
	if isQueueDestination(destination) {
		return e.queue.Send(ctx, f)
	}
	return e.topic.Send(ctx, f)
}

func (e *Engine) handleSubscribe(_ context.Context, f *frame.Frame) error {
	id, ok := f.Header(frame.HeaderID)
	if !ok || id == "" {
		return ErrMissingID
	}
	destination, ok := f.Header(frame.HeaderDestination)
	if !ok || destination == "" {
		return ErrMissingDestination
	}
	if isQueueDestination(destination) {
		e.queue.Subscribe(e.conn, destination, id)
	} else {
		e.topic.Subscribe(e.conn, destination, id)
	}
	return nil
}

func (e *Engine) handleUnsubscribe(_ context.Context, f *frame.Frame) error {
	id, ok := f.Header(frame.HeaderID)
	if !ok || id == "" {
		return ErrMissingID
	}
	destination, ok := f.Header(frame.HeaderDestination)
	if !ok || destination == "" {
		return ErrMissingDestination
	}
	if isQueueDestination(destination) {
		e.queue.Unsubscribe(e.conn, destination, id)
	} else {
		e.topic.Unsubscribe(e.conn, destination, id)
	}
	return nil
}

func (e *Engine) handleDisconnect(_ context.Context, _ *frame.Frame) error {
	e.mu.Lock()
	e.state = stateClosed
	e.mu.Unlock()
	return nil
}

// handleTransactionFrame recognizes BEGIN/COMMIT/ABORT at the dispatch
// layer without implementing transaction buffering or replay: it validates
// the required transaction header and returns successfully.
func (e *Engine) handleTransactionFrame(_ context.Context, f *frame.Frame) error {
	txn, ok := f.Header(frame.HeaderTransaction)
	if !ok || txn == "" {
		return ErrMissingTransaction
	}
	return nil
}

// handleAckNack recognizes ACK/NACK at the dispatch layer without
// implementing acknowledgement semantics: it accepts the frame and returns
// successfully.
func (e *Engine) handleAckNack(_ context.Context, _ *frame.Frame) error {
	return nil
}

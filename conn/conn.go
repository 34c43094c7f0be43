// Package conn defines the transport-facing port the protocol engine and
// schedulers depend on, without committing to TCP, WebSocket, or any other
// concrete transport.
package conn

import (
	"context"
	"errors"

	"github.com/stompd/broker/frame"
)

// ErrClientDisconnected is returned by ReceiveFrame when the transport has
// reached end-of-stream.
var ErrClientDisconnected = errors.New("conn: client disconnected")

// Connection is the capability a transport must expose to the broker core.
// No other capability is assumed.
type Connection interface {
	// ReceiveFrame blocks until a full frame is available, ctx is
	// cancelled, or the transport reaches EOF (ErrClientDisconnected).
	ReceiveFrame(ctx context.Context) (*frame.Frame, error)

	// SendFrame blocks until the frame has been written to the transport.
	SendFrame(ctx context.Context, f *frame.Frame) error

	// ReliableSubscriber reports whether this connection advertises that
	// it will acknowledge delivery, consulted only by the
	// reliable-preferring subscriber scheduler.
	ReliableSubscriber() bool
}

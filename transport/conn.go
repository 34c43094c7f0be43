// Package transport adapts a raw net.Conn into the conn.Connection port the
// engine depends on: frame-level Receive/Send instead of byte streams, plus
// the per-connection reliable-subscriber capability the scheduler consumes.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
)

// Config tunes the raw socket a Conn wraps. KeepAlive is plain TCP
// keepalive, not STOMP heart-beating (the protocol's heartbeat negotiation
// is out of scope for this broker).
type Config struct {
	KeepAlive     time.Duration
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeepAlive:     30 * time.Second,
		ReadDeadline:  0,
		WriteDeadline: 30 * time.Second,
	}
}

// Conn is a conn.Connection backed by a net.Conn. A frame.Decoder reads
// frames off the socket; ReliableSubscriber is derived once, from the
// CONNECT frame's "reliable" header, and cached for the connection's
// lifetime.
type Conn struct {
	id     string
	raw    net.Conn
	dec    *frame.Decoder
	enc    *frame.Encoder
	config Config

	reliable atomic.Bool
	closed   atomic.Bool
}

var _ conn.Connection = (*Conn)(nil)

// New wraps raw in a Conn identified by id.
func New(raw net.Conn, id string, config Config) *Conn {
	if tcpConn, ok := raw.(*net.TCPConn); ok && config.KeepAlive > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(config.KeepAlive)
	}
	return &Conn{
		id:     id,
		raw:    raw,
		dec:    frame.NewDecoder(raw),
		enc:    frame.NewEncoder(raw),
		config: config,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) IsTLS() bool {
	_, ok := c.raw.(*tls.Conn)
	return ok
}

// ReceiveFrame blocks until a full frame has been read. The deadline is
// reapplied before every read since STOMP frames can arrive far apart on
// an idle, otherwise-healthy connection.
func (c *Conn) ReceiveFrame(_ context.Context) (*frame.Frame, error) {
	if c.config.ReadDeadline > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.config.ReadDeadline))
	}

	f, err := c.dec.Next()
	if err != nil {
		if c.closed.Load() {
			return nil, conn.ErrClientDisconnected
		}
		return nil, translateReadErr(err)
	}

	if f.Command == frame.CONNECT || f.Command == frame.STOMP {
		if v, ok := f.Header(headerReliable); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				c.reliable.Store(b)
			}
		}
	}

	return f, nil
}

func (c *Conn) SendFrame(_ context.Context, f *frame.Frame) error {
	if c.config.WriteDeadline > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.config.WriteDeadline))
	}
	return c.enc.Encode(f)
}

// ReliableSubscriber reports whether the client's CONNECT frame advertised
// "reliable:true". Consumed only by scheduler.ReliableSubscriberScheduler.
func (c *Conn) ReliableSubscriber() bool {
	return c.reliable.Load()
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.raw.Close()
}

const headerReliable = "reliable"

// translateReadErr maps the ways a dead connection shows up at the frame
// codec back to the single ClientDisconnected signal the port contract
// promises. A clean EOF between frames surfaces from the codec as
// frame.ErrEmptyBuffer (frame/codec.go's parseFrame, reading the command
// line); an EOF partway through a frame surfaces as frame.ErrIncompleteFrame
// (the codec only returns that error on a mid-read io.EOF, which is itself
// evidence the underlying connection is gone, not a parse failure to
// recover from). Bare io.EOF/io.ErrUnexpectedEOF and a read-deadline
// timeout are handled too, in case the codec is ever run directly over a
// reader that doesn't go through parseFrame's own EOF translation.
func translateReadErr(err error) error {
	if errors.Is(err, frame.ErrEmptyBuffer) || errors.Is(err, frame.ErrIncompleteFrame) {
		return conn.ErrClientDisconnected
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return conn.ErrClientDisconnected
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return conn.ErrClientDisconnected
	}
	return err
}

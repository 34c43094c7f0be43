package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	serverRaw, clientRaw := net.Pipe()
	server := New(serverRaw, "server", DefaultConfig())
	client := New(clientRaw, "client", DefaultConfig())
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestConn_SendReceiveRoundTrip(t *testing.T) {
	server, client := pipeConns(t)
	ctx := context.Background()

	f := frame.New(frame.SEND)
	f.Headers.Set(frame.HeaderDestination, "/queue/a")
	f.Body = []byte("hello")

	done := make(chan error, 1)
	go func() { done <- server.SendFrame(ctx, f) }()

	got, err := client.ReceiveFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, frame.SEND, got.Command)
	assert.Equal(t, []byte("hello"), got.Body)
}

func TestConn_ReliableSubscriberDefaultsFalse(t *testing.T) {
	_, client := pipeConns(t)
	assert.False(t, client.ReliableSubscriber())
}

func TestConn_ReliableSubscriberSetFromConnectHeader(t *testing.T) {
	server, client := pipeConns(t)
	ctx := context.Background()

	connectFrame := frame.New(frame.CONNECT)
	connectFrame.Headers.Set(frame.HeaderAcceptVer, "1.2")
	connectFrame.Headers.Set("reliable", "true")

	go func() { _ = server.SendFrame(ctx, connectFrame) }()

	_, err := client.ReceiveFrame(ctx)
	require.NoError(t, err)
	assert.True(t, client.ReliableSubscriber())
}

func TestConn_ReceiveAfterCloseReturnsClientDisconnected(t *testing.T) {
	server, client := pipeConns(t)
	require.NoError(t, client.Close())
	_ = server.Close()

	_, err := client.ReceiveFrame(context.Background())
	assert.ErrorIs(t, err, conn.ErrClientDisconnected)
}

func TestConn_ReceiveOnCleanPeerEOFReturnsClientDisconnected(t *testing.T) {
	server, client := pipeConns(t)

	go func() { _ = server.Close() }()

	_, err := client.ReceiveFrame(context.Background())
	assert.ErrorIs(t, err, conn.ErrClientDisconnected)
	assert.NotErrorIs(t, err, frame.ErrEmptyBuffer)
}

func TestConn_ReceiveOnMidFrameEOFReturnsClientDisconnected(t *testing.T) {
	server, client := pipeConns(t)

	go func() {
		_, _ = server.raw.Write([]byte("CONNECT\naccept-version:1.2\n\npartial-body"))
		_ = server.Close()
	}()

	_, err := client.ReceiveFrame(context.Background())
	assert.ErrorIs(t, err, conn.ErrClientDisconnected)
	assert.NotErrorIs(t, err, frame.ErrIncompleteFrame)
}

func TestConn_IDAndRemoteAddr(t *testing.T) {
	server, _ := pipeConns(t)
	assert.Equal(t, "server", server.ID())
	assert.NotNil(t, server.RemoteAddr())
	assert.False(t, server.IsTLS())
}

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stompd/broker/auth"
	"github.com/stompd/broker/conn"
	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/queue"
	"github.com/stompd/broker/registry"
	"github.com/stompd/broker/topicmgr"
)

type fakeConnection struct {
	mu       sync.Mutex
	received []*frame.Frame
	fail     bool
	reliable bool
}

func (f *fakeConnection) ReceiveFrame(context.Context) (*frame.Frame, error) { return nil, nil }

func (f *fakeConnection) SendFrame(_ context.Context, fr *frame.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.received = append(f.received, fr)
	return nil
}

func (f *fakeConnection) ReliableSubscriber() bool { return f.reliable }

func (f *fakeConnection) frames() []*frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*frame.Frame, len(f.received))
	copy(out, f.received)
	return out
}

func newTestBroker() (*registry.Registry, *queue.Manager, *topicmgr.Manager, *auth.StaticTokenAuthenticator) {
	reg := registry.New()
	queueMgr := queue.NewManager(queue.ManagerConfig{Store: queue.NewMemoryStore(), Registry: reg})
	topicMgr := topicmgr.NewManager(topicmgr.ManagerConfig{Registry: reg})
	authn := auth.NewStaticTokenAuthenticator()
	authn.Add("good")
	return reg, queueMgr, topicMgr, authn
}

func connectFrame(token string) *frame.Frame {
	f := frame.New(frame.CONNECT)
	f.Headers.Set(frame.HeaderAcceptVer, "1.2")
	f.Headers.Set(frame.HeaderToken, token)
	return f
}

func subscribeFrame(id, destination string) *frame.Frame {
	f := frame.New(frame.SUBSCRIBE)
	f.Headers.Set(frame.HeaderID, id)
	f.Headers.Set(frame.HeaderDestination, destination)
	return f
}

func sendFrame(destination, body string) *frame.Frame {
	f := frame.New(frame.SEND)
	f.Headers.Set(frame.HeaderDestination, destination)
	f.Body = []byte(body)
	return f
}

func connectEngine(t *testing.T, c *fakeConnection, reg *registry.Registry, queueMgr *queue.Manager, topicMgr *topicmgr.Manager, authn *auth.StaticTokenAuthenticator) *Engine {
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})
	require.NoError(t, e.HandleFrame(context.Background(), connectFrame("good")))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.CONNECTED, frames[0].Command)
	return e
}

// Scenario 1: connect, subscribe, send-to-queue with one subscriber.
func TestScenario_ConnectSubscribeSendToQueue(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	ctx := context.Background()

	a := &fakeConnection{}
	engineA := connectEngine(t, a, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineA.HandleFrame(ctx, subscribeFrame("s1", "/queue/a")))

	b := &fakeConnection{}
	engineB := connectEngine(t, b, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineB.HandleFrame(ctx, sendFrame("/queue/a", "hello")))

	aFrames := a.frames()
	require.Len(t, aFrames, 2) // CONNECTED, MESSAGE
	msg := aFrames[1]
	assert.Equal(t, frame.MESSAGE, msg.Command)
	dest, _ := msg.Header(frame.HeaderDestination)
	assert.Equal(t, "/queue/a", dest)
	sub, _ := msg.Header(frame.HeaderSubscription)
	assert.Equal(t, "s1", sub)
	msgID, ok := msg.Header(frame.HeaderMessageID)
	assert.True(t, ok)
	assert.NotEmpty(t, msgID)
	assert.Equal(t, "hello", string(msg.Body))

	bFrames := b.frames()
	assert.Len(t, bFrames, 1) // just CONNECTED, no MESSAGE
}

// Scenario 2: send-to-queue with no subscribers is buffered, a later
// subscribe does not retroactively deliver it.
func TestScenario_SendToQueueNoSubscribersThenSubscribe(t *testing.T) {
	reg, _, topicMgr, authn := newTestBroker()
	store := queue.NewMemoryStore()
	queueMgr := queue.NewManager(queue.ManagerConfig{Store: store, Registry: reg})
	ctx := context.Background()

	b := &fakeConnection{}
	engineB := connectEngine(t, b, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineB.HandleFrame(ctx, sendFrame("/queue/b", "m1")))

	a := &fakeConnection{}
	engineA := connectEngine(t, a, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineA.HandleFrame(ctx, subscribeFrame("s1", "/queue/b")))

	aFrames := a.frames()
	assert.Len(t, aFrames, 1) // only CONNECTED, no retroactive delivery

	has, err := store.HasFrames(ctx, "/queue/b")
	require.NoError(t, err)
	assert.True(t, has)
}

// Scenario 3 & 4: topic fan-out, with a failing subscriber pruned after
// the send returns.
func TestScenario_TopicFanOutAndPruneFailingSubscriber(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	ctx := context.Background()

	a := &fakeConnection{}
	engineA := connectEngine(t, a, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineA.HandleFrame(ctx, subscribeFrame("sa", "/topic/x")))

	b := &fakeConnection{}
	engineB := connectEngine(t, b, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineB.HandleFrame(ctx, subscribeFrame("sb", "/topic/x")))
	b.mu.Lock()
	b.fail = true // B fails every send from here on
	b.mu.Unlock()

	c := &fakeConnection{}
	engineC := connectEngine(t, c, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineC.HandleFrame(ctx, subscribeFrame("sc", "/topic/x")))

	d := &fakeConnection{}
	engineD := connectEngine(t, d, reg, queueMgr, topicMgr, authn)
	require.NoError(t, engineD.HandleFrame(ctx, sendFrame("/topic/x", "hi")))

	assert.Len(t, a.frames(), 2) // CONNECTED, MESSAGE
	assert.Len(t, c.frames(), 2) // CONNECTED, MESSAGE
	assert.Len(t, d.frames(), 1) // publisher receives nothing back

	subs := reg.Subscribers("/topic/x")
	var ids []string
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.NotContains(t, ids, "sb")
}

// Scenario 5: receipt on SUBSCRIBE.
func TestScenario_ReceiptOnSubscribe(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	ctx := context.Background()

	a := &fakeConnection{}
	engineA := connectEngine(t, a, reg, queueMgr, topicMgr, authn)

	f := subscribeFrame("s1", "/queue/q")
	f.Headers.Set(frame.HeaderReceipt, "r42")
	require.NoError(t, engineA.HandleFrame(ctx, f))

	frames := a.frames()
	require.Len(t, frames, 2) // CONNECTED, RECEIPT
	assert.Equal(t, frame.RECEIPT, frames[1].Command)
	receiptID, ok := frames[1].Header(frame.HeaderReceiptID)
	assert.True(t, ok)
	assert.Equal(t, "r42", receiptID)

	assert.Equal(t, 1, reg.SubscriberCount("/queue/q"))
}

// Scenario 6: a command before CONNECT yields an ERROR mentioning
// "Not connected"; no enqueue occurs.
func TestScenario_CommandBeforeConnect(t *testing.T) {
	reg, _, topicMgr, authn := newTestBroker()
	store := queue.NewMemoryStore()
	queueMgr := queue.NewManager(queue.ManagerConfig{Store: store, Registry: reg})
	ctx := context.Background()

	c := &fakeConnection{}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	require.NoError(t, e.HandleFrame(ctx, sendFrame("/queue/x", "body")))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.ERROR, frames[0].Command)
	msg, _ := frames[0].Header(frame.HeaderMessage)
	assert.Contains(t, msg, "Not connected")

	assert.Empty(t, reg.Subscribers("/queue/x"))

	has, err := store.HasFrames(ctx, "/queue/x")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestEngine_ConnectMissingAcceptVersion(t *testing.T) {
	_, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	f := frame.New(frame.CONNECT)
	f.Headers.Set(frame.HeaderToken, "good")
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.ERROR, frames[0].Command)
	version, ok := frames[0].Header(frame.HeaderVersion)
	assert.True(t, ok)
	assert.Equal(t, frame.SupportedVersion, version)
}

func TestEngine_ConnectUnsupportedVersion(t *testing.T) {
	_, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	f := frame.New(frame.CONNECT)
	f.Headers.Set(frame.HeaderAcceptVer, "1.0,1.1")
	f.Headers.Set(frame.HeaderToken, "good")
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.ERROR, frames[0].Command)
}

func TestEngine_ConnectMissingToken(t *testing.T) {
	_, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	f := frame.New(frame.CONNECT)
	f.Headers.Set(frame.HeaderAcceptVer, "1.2")
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.ERROR, frames[0].Command)
}

func TestEngine_ConnectAuthFailure(t *testing.T) {
	_, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	f := connectFrame("bad-token")
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.ERROR, frames[0].Command)
}

func TestEngine_ReceiptNotSentForConnect(t *testing.T) {
	_, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	f := connectFrame("good")
	f.Headers.Set(frame.HeaderReceipt, "should-not-appear")

	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame.CONNECTED, frames[0].Command)
}

func TestEngine_UnknownCommandAfterConnect(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	f := &frame.Frame{Command: "wiggle"}
	require.NoError(t, e.HandleFrame(context.Background(), f))

	frames := c.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, frame.ERROR, frames[1].Command)
}

func TestEngine_DisconnectTransitionsToClosed(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	require.NoError(t, e.HandleFrame(context.Background(), frame.New(frame.DISCONNECT)))
	assert.Equal(t, stateClosed, e.currentState())
}

func TestEngine_SubscribeMissingHeaders(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	require.NoError(t, e.HandleFrame(context.Background(), frame.New(frame.SUBSCRIBE)))
	frames := c.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, frame.ERROR, frames[1].Command)
}

func TestEngine_TransactionFramesRecognizedNotImplemented(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	for _, cmd := range []string{frame.BEGIN, frame.COMMIT, frame.ABORT} {
		f := frame.New(cmd)
		f.Headers.Set(frame.HeaderTransaction, "t1")
		f.Headers.Set(frame.HeaderReceipt, "r-"+cmd)
		require.NoError(t, e.HandleFrame(context.Background(), f))
	}

	frames := c.frames()
	// CONNECTED + one RECEIPT per transaction frame.
	require.Len(t, frames, 4)
	for _, f := range frames[1:] {
		assert.Equal(t, frame.RECEIPT, f.Command)
	}
}

func TestEngine_TransactionFrameMissingHeader(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	require.NoError(t, e.HandleFrame(context.Background(), frame.New(frame.BEGIN)))
	frames := c.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, frame.ERROR, frames[1].Command)
}

func TestEngine_AckNackAccepted(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &fakeConnection{}
	e := connectEngine(t, c, reg, queueMgr, topicMgr, authn)

	for _, cmd := range []string{frame.ACK, frame.NACK} {
		f := frame.New(cmd)
		f.Headers.Set(frame.HeaderID, "m1")
		f.Headers.Set(frame.HeaderReceipt, "r-"+cmd)
		require.NoError(t, e.HandleFrame(context.Background(), f))
	}

	frames := c.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, frame.RECEIPT, frames[1].Command)
	assert.Equal(t, frame.RECEIPT, frames[2].Command)
}

type scriptedConnection struct {
	fakeConnection
	script []*frame.Frame
	idx    int
}

func (s *scriptedConnection) ReceiveFrame(context.Context) (*frame.Frame, error) {
	if s.idx >= len(s.script) {
		return nil, conn.ErrClientDisconnected
	}
	f := s.script[s.idx]
	s.idx++
	return f, nil
}

func TestEngine_RunUnbindsOnClientDisconnect(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &scriptedConnection{script: []*frame.Frame{connectFrame("good"), subscribeFrame("s1", "/queue/a")}}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 0, reg.SubscriberCount("/queue/a"))
}

func TestEngine_RunStopsOnDisconnectFrame(t *testing.T) {
	reg, queueMgr, topicMgr, authn := newTestBroker()
	c := &scriptedConnection{script: []*frame.Frame{connectFrame("good"), frame.New(frame.DISCONNECT)}}
	e := New(Config{Connection: c, Authenticator: authn, QueueManager: queueMgr, TopicManager: topicMgr})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, stateClosed, e.currentState())
	assert.Equal(t, 0, reg.SubscriberCount("/queue/a"))
}

package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stompd/broker/frame"
	"github.com/stompd/broker/registry"
)

type fakeConnection struct {
	reliable bool
}

func (f *fakeConnection) ReceiveFrame(context.Context) (*frame.Frame, error) { return nil, nil }
func (f *fakeConnection) SendFrame(context.Context, *frame.Frame) error      { return nil }
func (f *fakeConnection) ReliableSubscriber() bool                           { return f.reliable }

func TestRandomSubscriberScheduler_EmptyInput(t *testing.T) {
	var s RandomSubscriberScheduler
	_, ok := s.Choice(nil, frame.New(frame.MESSAGE))
	assert.False(t, ok)
}

func TestRandomSubscriberScheduler_PicksAMember(t *testing.T) {
	var s RandomSubscriberScheduler
	subs := []registry.Subscription{
		{Connection: &fakeConnection{}, ID: "s1"},
		{Connection: &fakeConnection{}, ID: "s2"},
	}

	chosen, ok := s.Choice(subs, frame.New(frame.MESSAGE))
	assert.True(t, ok)
	assert.Contains(t, []string{"s1", "s2"}, chosen.ID)
}

func TestReliableSubscriberScheduler_EmptyInput(t *testing.T) {
	var s ReliableSubscriberScheduler
	_, ok := s.Choice(nil, frame.New(frame.MESSAGE))
	assert.False(t, ok)
}

func TestReliableSubscriberScheduler_PrefersReliable(t *testing.T) {
	var s ReliableSubscriberScheduler
	reliable := &fakeConnection{reliable: true}
	subs := []registry.Subscription{
		{Connection: &fakeConnection{reliable: false}, ID: "unreliable"},
		{Connection: reliable, ID: "reliable"},
	}

	for i := 0; i < 20; i++ {
		chosen, ok := s.Choice(subs, frame.New(frame.MESSAGE))
		assert.True(t, ok)
		assert.Equal(t, "reliable", chosen.ID)
	}
}

func TestReliableSubscriberScheduler_FallsBackWhenNoneReliable(t *testing.T) {
	var s ReliableSubscriberScheduler
	subs := []registry.Subscription{
		{Connection: &fakeConnection{reliable: false}, ID: "s1"},
		{Connection: &fakeConnection{reliable: false}, ID: "s2"},
	}

	chosen, ok := s.Choice(subs, frame.New(frame.MESSAGE))
	assert.True(t, ok)
	assert.Contains(t, []string{"s1", "s2"}, chosen.ID)
}

func TestRandomQueueScheduler_EmptyInput(t *testing.T) {
	var s RandomQueueScheduler
	_, ok := s.Choice(nil, &fakeConnection{})
	assert.False(t, ok)
}

func TestRandomQueueScheduler_PicksAMember(t *testing.T) {
	var s RandomQueueScheduler
	chosen, ok := s.Choice([]string{"/queue/a", "/queue/b"}, &fakeConnection{})
	assert.True(t, ok)
	assert.Contains(t, []string{"/queue/a", "/queue/b"}, chosen)
}

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mpenc/transcript"
)

func msgId(b byte) transcript.MessageId {
	var id transcript.MessageId
	id[0] = b
	return id
}

func testConfig() Config {
	return Config{
		BroadcastLatency:   20 * time.Millisecond,
		FinTimeoutRatio:    4,
		FinConsistentRatio: 1,
		FullAckInterval:    20 * time.Millisecond,
	}
}

func TestAcceptPublishesMsgAccepted(t *testing.T) {
	s := New("alice", []string{"alice", "bob"}, testConfig())
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	err := s.Accept(transcript.Message{Id: msgId(1), Author: "alice", Recipients: []string{"bob"}, Kind: transcript.Payload})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, MsgAccepted, events[0].Kind)
}

func TestAcceptBuffersMessageWithMissingParent(t *testing.T) {
	s := New("alice", []string{"alice", "bob"}, testConfig())
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	err := s.Accept(transcript.Message{Id: msgId(2), Author: "bob", Parents: []transcript.MessageId{msgId(1)}, Recipients: []string{"alice"}, Kind: transcript.Payload})
	require.NoError(t, err)
	assert.Empty(t, events, "buffered message must not yet be accepted")

	_, ok := s.Transcript().Get(msgId(2))
	assert.False(t, ok)
}

func TestBufferedMessageAcceptsOnceParentArrives(t *testing.T) {
	s := New("alice", []string{"alice", "bob"}, testConfig())

	require.NoError(t, s.Accept(transcript.Message{Id: msgId(2), Author: "bob", Parents: []transcript.MessageId{msgId(1)}, Recipients: []string{"alice"}, Kind: transcript.Payload}))
	require.NoError(t, s.Accept(transcript.Message{Id: msgId(1), Author: "alice", Recipients: []string{"bob"}, Kind: transcript.Payload}))

	_, ok := s.Transcript().Get(msgId(2))
	assert.True(t, ok, "buffered message should drain once its parent arrives")
}

func TestBufferedMessageTimesOutAndPublishesNotAccepted(t *testing.T) {
	s := New("alice", []string{"alice", "bob"}, testConfig())
	events := make(chan Event, 4)
	s.Subscribe(func(e Event) { events <- e })

	require.NoError(t, s.Accept(transcript.Message{Id: msgId(2), Author: "bob", Parents: []transcript.MessageId{msgId(1)}, Recipients: []string{"alice"}, Kind: transcript.Payload}))

	select {
	case e := <-events:
		assert.Equal(t, NotAccepted, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected NotAccepted within the buffer timeout")
	}
}

func TestFinTransitionsToPartedWhenConsistent(t *testing.T) {
	s := New("alice", []string{"alice", "bob"}, testConfig())
	require.NoError(t, s.Accept(transcript.Message{Id: msgId(1), Author: "alice", Recipients: []string{"bob"}, Kind: transcript.Payload}))
	require.NoError(t, s.Accept(transcript.Message{Id: msgId(2), Author: "bob", Parents: []transcript.MessageId{msgId(1)}, Recipients: []string{"alice"}, Kind: transcript.ExplicitAck}))

	done := make(chan State, 1)
	err := s.Fin(transcript.Message{Id: msgId(3), Author: "alice", Parents: []transcript.MessageId{msgId(2)}, Recipients: []string{"bob"}, Kind: transcript.Consistency, Close: true}, func(st State) { done <- st })
	require.NoError(t, err)
	assert.Equal(t, Parting, s.State())

	require.NoError(t, s.Accept(transcript.Message{Id: msgId(4), Author: "bob", Parents: []transcript.MessageId{msgId(3)}, Recipients: []string{"alice"}, Kind: transcript.ExplicitAck}))

	select {
	case st := <-done:
		assert.Equal(t, Parted, st)
	case <-time.After(time.Second):
		t.Fatal("expected fin to resolve via the grace timer")
	}
}

func TestFinTransitionsToPartFailedOnHardTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FinTimeoutRatio = 1
	cfg.BroadcastLatency = 10 * time.Millisecond
	s := New("alice", []string{"alice", "bob"}, cfg)

	// An unacked Payload message keeps the transcript inconsistent so
	// the hard timeout, not the grace timer, must resolve the fin.
	require.NoError(t, s.Accept(transcript.Message{Id: msgId(1), Author: "alice", Recipients: []string{"bob"}, Kind: transcript.Payload}))

	done := make(chan State, 1)
	err := s.Fin(transcript.Message{Id: msgId(2), Author: "alice", Parents: []transcript.MessageId{msgId(1)}, Recipients: []string{"bob"}, Kind: transcript.Consistency, Close: true}, func(st State) { done <- st })
	require.NoError(t, err)

	select {
	case st := <-done:
		assert.Equal(t, PartFailed, st)
	case <-time.After(time.Second):
		t.Fatal("expected fin to resolve via the hard timeout")
	}
}

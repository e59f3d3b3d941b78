package serverorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakePacketIdIsDeterministic(t *testing.T) {
	id1 := MakePacketId([]byte("hello"), "alice", []string{"bob", "alice"})
	id2 := MakePacketId([]byte("hello"), "alice", []string{"alice", "bob"})
	assert.Equal(t, id1, id2, "member order must not affect the packet id")

	id3 := MakePacketId([]byte("different"), "alice", []string{"alice", "bob"})
	assert.NotEqual(t, id1, id3)
}

func TestBootstrapSyncsOnFirstAccept(t *testing.T) {
	o := New()
	assert.False(t, o.IsSynced())

	id := MakePacketId([]byte("p"), "alice", nil)
	require.NoError(t, o.AcceptInitial(id, PacketId{}, "alice", nil, "alice"))
	assert.True(t, o.IsSynced())
	assert.True(t, o.Ongoing())
}

func TestBootstrapRejectsNonSelfSender(t *testing.T) {
	o := New()
	id := MakePacketId([]byte("p"), "bob", nil)
	err := o.AcceptInitial(id, PacketId{}, "bob", nil, "alice")
	assert.Error(t, err)
}

func TestFullLifecycleAcceptsInOrder(t *testing.T) {
	o := New()
	members := []string{"alice", "bob"}
	initId := MakePacketId([]byte("init"), "alice", members)
	require.NoError(t, o.AcceptInitial(initId, PacketId{}, "alice", members, "alice"))

	require.NoError(t, o.AcceptIntermediate(initId))
	require.NoError(t, o.AcceptFinal(initId, initId, members))

	assert.False(t, o.Ongoing())
	assert.Equal(t, initId, o.PrevFinal())
	assert.ElementsMatch(t, members, o.PrevChannelMembers())
}

func TestSecondInitialRejectedWhileOngoing(t *testing.T) {
	o := New()
	members := []string{"alice", "bob"}
	initId := MakePacketId([]byte("init"), "alice", members)
	require.NoError(t, o.AcceptInitial(initId, PacketId{}, "alice", members, "alice"))

	other := MakePacketId([]byte("other"), "bob", members)
	err := o.AcceptInitial(other, PacketId{}, "bob", members, "alice")
	assert.Error(t, err)
}

func TestIntermediateRejectsMismatchedPacket(t *testing.T) {
	o := New()
	members := []string{"alice", "bob"}
	initId := MakePacketId([]byte("init"), "alice", members)
	require.NoError(t, o.AcceptInitial(initId, PacketId{}, "alice", members, "alice"))

	wrong := MakePacketId([]byte("wrong"), "alice", members)
	err := o.AcceptIntermediate(wrong)
	assert.Error(t, err)
}

func TestAbortLeavesPrevPfUnchanged(t *testing.T) {
	o := New()
	members := []string{"alice"}
	initId := MakePacketId([]byte("init"), "alice", members)
	require.NoError(t, o.AcceptInitial(initId, PacketId{}, "alice", nil, "alice"))
	o.Abort()

	assert.False(t, o.Ongoing())
	assert.Equal(t, PacketId{}, o.PrevFinal())

	// A fresh initial packet can now be accepted since prevPf is unchanged.
	another := MakePacketId([]byte("another"), "alice", members)
	require.NoError(t, o.AcceptInitial(another, PacketId{}, "alice", nil, "alice"))
}

func TestAcceptInitialRejectsPrevPfMismatch(t *testing.T) {
	o := New()
	members := []string{"alice"}
	initId := MakePacketId([]byte("init"), "alice", members)
	require.NoError(t, o.AcceptInitial(initId, PacketId{}, "alice", nil, "alice"))
	require.NoError(t, o.AcceptIntermediate(initId))
	require.NoError(t, o.AcceptFinal(initId, initId, members))

	next := MakePacketId([]byte("next"), "alice", members)
	err := o.AcceptInitial(next, PacketId{}, "alice", members, "alice")
	assert.Error(t, err, "must supply the now-current prevPf")

	require.NoError(t, o.AcceptInitial(next, initId, "alice", members, "alice"))
}

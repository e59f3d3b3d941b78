package ske

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticDirectory is an in-memory Directory fake for tests.
type staticDirectory struct {
	keys map[string]ed25519.PublicKey
}

func newStaticDirectory() *staticDirectory {
	return &staticDirectory{keys: make(map[string]ed25519.PublicKey)}
}

func (d *staticDirectory) StaticPublicKey(member string) (ed25519.PublicKey, error) {
	key, ok := d.keys[member]
	if !ok {
		return nil, assert.AnError
	}
	return key, nil
}

// runCommit drives a full commit -> upflow -> downflow exchange among
// members[0..n-1] and returns each participant's Member once every
// signature has propagated.
func runCommit(t *testing.T, members []string) map[string]*Member {
	t.Helper()
	dir := newStaticDirectory()
	states := make(map[string]*Member, len(members))
	for _, id := range members {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		dir.keys[id] = pub
		states[id] = NewMember(id, priv, dir)
	}

	msg, err := states[members[0]].Commit(members[1:])
	require.NoError(t, err)

	for !msg.Down {
		next := states[msg.Dest]
		msg, err = next.Upflow(msg)
		require.NoError(t, err)
	}

	// msg is now the first downflow broadcast carrying the last signer's
	// signature; deliver to everyone else until convergence.
	pending := []*Message{msg}
	source := msg.Source
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]
		for _, id := range members {
			if id == cur.Source {
				continue
			}
			reply, err := states[id].Downflow(cur)
			require.NoError(t, err)
			if reply != nil {
				pending = append(pending, reply)
			}
		}
		_ = source
	}
	return states
}

func TestCommitAllMembersAuthenticate(t *testing.T) {
	members := []string{"alice", "bob", "carol", "dave", "erin"}
	states := runCommit(t, members)

	want := states["alice"].SessionId()
	for _, id := range members {
		assert.Equal(t, want, states[id].SessionId(), "member %s", id)
		assert.True(t, states[id].IsSessionAcknowledged(), "member %s", id)
	}
}

func TestCommitRejectsEmptyMemberSet(t *testing.T) {
	priv, pub := testKeyPair(t)
	dir := newStaticDirectory()
	dir.keys["alice"] = pub
	m := NewMember("alice", priv, dir)
	_, err := m.Commit(nil)
	assert.Error(t, err)
}

func TestDownflowRejectsDuplicateMembers(t *testing.T) {
	priv, pub := testKeyPair(t)
	dir := newStaticDirectory()
	dir.keys["alice"] = pub
	m := NewMember("alice", priv, dir)
	m.members = []string{"alice", "bob"}

	_, err := m.Downflow(&Message{
		Members: []string{"alice", "alice"},
		Nonces:  [][32]byte{{1}, {2}},
		PubKeys: []ed25519.PublicKey{pub, pub},
	})
	assert.Error(t, err)
}

func TestDownflowRejectsBadSignature(t *testing.T) {
	members := []string{"alice", "bob"}
	dir := newStaticDirectory()
	states := make(map[string]*Member, len(members))
	for _, id := range members {
		priv, pub := testKeyPair(t)
		dir.keys[id] = pub
		states[id] = NewMember(id, priv, dir)
	}

	msg, err := states["alice"].Commit([]string{"bob"})
	require.NoError(t, err)
	msg, err = states["bob"].Upflow(msg)
	require.NoError(t, err)
	require.True(t, msg.Down)

	// Tamper with bob's signature before alice verifies it.
	tampered := append([]byte(nil), msg.SessionSignatures[1]...)
	tampered[0] ^= 0xFF
	msg.SessionSignatures[1] = tampered

	_, err = states["alice"].Downflow(msg)
	assert.Error(t, err)
}

// deliverDownflow feeds cur and every reply it provokes to each member in
// recipients until the broadcast converges.
func deliverDownflow(t *testing.T, states map[string]*Member, recipients []string, cur *Message) {
	t.Helper()
	pending := []*Message{cur}
	for len(pending) > 0 {
		msg := pending[0]
		pending = pending[1:]
		for _, id := range recipients {
			if id == msg.Source {
				continue
			}
			reply, err := states[id].Downflow(msg)
			require.NoError(t, err)
			if reply != nil {
				pending = append(pending, reply)
			}
		}
	}
}

func TestAkaJoinExcludeRefreshQuitLifecycle(t *testing.T) {
	members := []string{"alice", "bob"}
	dir := newStaticDirectory()
	states := make(map[string]*Member, 3)
	for _, id := range members {
		priv, pub := testKeyPair(t)
		dir.keys[id] = pub
		states[id] = NewMember(id, priv, dir)
	}

	msg, err := states["alice"].Commit([]string{"bob"})
	require.NoError(t, err)
	for !msg.Down {
		msg, err = states[msg.Dest].Upflow(msg)
		require.NoError(t, err)
	}
	deliverDownflow(t, states, members, msg)
	for _, id := range members {
		require.True(t, states[id].IsSessionAcknowledged(), "member %s", id)
	}

	// Join carol.
	carolPriv, carolPub := testKeyPair(t)
	dir.keys["carol"] = carolPub
	states["carol"] = NewMember("carol", carolPriv, dir)
	allMembers := []string{"alice", "bob", "carol"}

	joinMsg, err := states["alice"].AkaJoin([]string{"carol"})
	require.NoError(t, err)
	assert.Equal(t, "carol", joinMsg.Dest)
	assert.False(t, joinMsg.Down)
	for !joinMsg.Down {
		joinMsg, err = states[joinMsg.Dest].Upflow(joinMsg)
		require.NoError(t, err)
	}
	deliverDownflow(t, states, allMembers, joinMsg)

	wantSid := states["alice"].SessionId()
	for _, id := range allMembers {
		assert.True(t, states[id].IsSessionAcknowledged(), "member %s", id)
		assert.Equal(t, wantSid, states[id].SessionId(), "member %s", id)
		assert.ElementsMatch(t, allMembers, states[id].Members(), "member %s", id)
	}

	// Exclude bob.
	remaining := []string{"alice", "carol"}
	excludeMsg, err := states["alice"].AkaExclude([]string{"bob"})
	require.NoError(t, err)
	assert.True(t, excludeMsg.Down)
	deliverDownflow(t, states, remaining, excludeMsg)
	for _, id := range remaining {
		assert.True(t, states[id].IsSessionAcknowledged(), "member %s", id)
		assert.ElementsMatch(t, remaining, states[id].Members(), "member %s", id)
	}

	// Refresh alice's ephemeral key; everyone re-authenticates.
	refreshMsg, err := states["alice"].AkaRefresh()
	require.NoError(t, err)
	assert.True(t, refreshMsg.Down)
	deliverDownflow(t, states, remaining, refreshMsg)
	for _, id := range remaining {
		assert.True(t, states[id].IsSessionAcknowledged(), "member %s", id)
	}

	// Quit reveals alice's ephemeral private key.
	revealed := states["alice"].AkaQuit()
	assert.Len(t, revealed, ed25519.PrivateKeySize)
}

func TestAkaJoinRejectsAlreadyMember(t *testing.T) {
	priv, pub := testKeyPair(t)
	dir := newStaticDirectory()
	dir.keys["alice"] = pub
	m := NewMember("alice", priv, dir)
	m.members = []string{"alice", "bob"}
	_, err := m.AkaJoin([]string{"bob"})
	assert.Error(t, err)
}

func TestAkaExcludeRejectsSelfExclusion(t *testing.T) {
	priv, pub := testKeyPair(t)
	dir := newStaticDirectory()
	dir.keys["alice"] = pub
	m := NewMember("alice", priv, dir)
	m.members = []string{"alice", "bob"}
	_, err := m.AkaExclude([]string{"alice"})
	assert.Error(t, err)
}

func testKeyPair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, pub
}

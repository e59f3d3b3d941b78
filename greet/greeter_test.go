package greet

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mpenc/ske"
)

type testDirectory struct {
	keys map[string]ed25519.PublicKey
}

func (d *testDirectory) StaticPublicKey(member string) (ed25519.PublicKey, error) {
	k, ok := d.keys[member]
	if !ok {
		return nil, assert.AnError
	}
	return k, nil
}

func newGreeters(t *testing.T, members []string) map[string]*Greeter {
	t.Helper()
	dir := &testDirectory{keys: make(map[string]ed25519.PublicKey)}
	greeters := make(map[string]*Greeter, len(members))
	for _, id := range members {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		dir.keys[id] = pub
		greeters[id] = New(id, ske.NewMember(id, priv, dir))
	}
	return greeters
}

// runStart drives a full initial-agreement handshake and returns every
// participant's Greeter once all have reached READY.
func runStart(t *testing.T, members []string) map[string]*Greeter {
	t.Helper()
	greeters := newGreeters(t, members)

	pkt, err := greeters[members[0]].Start(members[1:])
	require.NoError(t, err)

	pending := []*Packet{pkt}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		targets := []string{cur.Dest}
		if cur.Dest == "" {
			targets = allExcept(members, cur.Source)
		}
		for _, target := range targets {
			out, err := greeters[target].ProcessIncoming(cur)
			require.NoError(t, err)
			if out != nil {
				pending = append(pending, out)
			}
		}
	}
	return greeters
}

func allExcept(members []string, exclude string) []string {
	var out []string
	for _, m := range members {
		if m != exclude {
			out = append(out, m)
		}
	}
	return out
}

func TestStartReachesReadyWithSharedKeyAndSessionId(t *testing.T) {
	members := []string{"alice", "bob", "carol"}
	greeters := runStart(t, members)

	wantKey := greeters["alice"].GroupKey()
	wantSid := greeters["alice"].SessionId()
	require.Len(t, wantKey, 32)

	for _, id := range members {
		assert.Equal(t, Ready, greeters[id].State(), "member %s", id)
		assert.Equal(t, wantKey, greeters[id].GroupKey(), "member %s", id)
		assert.Equal(t, wantSid, greeters[id].SessionId(), "member %s", id)
	}
}

func TestTypeFlagsRoundTrip(t *testing.T) {
	f := TypeFlags{Aux: true, Down: true, Gka: true, Ske: true, Op: OpExclude, Init: true, Recover: true}
	got := DecodeTypeFlags(f.Encode())
	assert.Equal(t, f, got)
}

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	p := &Packet{
		Source:  "alice",
		Dest:    "bob",
		Flags:   TypeFlags{Gka: true, Ske: true, Op: OpStart, Init: true},
		Members: []string{"alice", "bob"},
		Nonces:  [][32]byte{{1}, {2}},
		PubKeys: []ed25519.PublicKey{pub},
		IntKeys: [][32]byte{{3}, {4}},
	}

	buf, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Source, got.Source)
	assert.Equal(t, p.Dest, got.Dest)
	assert.Equal(t, p.Flags, got.Flags)
	assert.Equal(t, p.Members, got.Members)
	assert.Equal(t, p.Nonces, got.Nonces)
	assert.Equal(t, p.IntKeys, got.IntKeys)
	assert.Len(t, got.PubKeys, 1)
}

func TestProcessIncomingIgnoresMessageFromSelf(t *testing.T) {
	greeters := newGreeters(t, []string{"alice", "bob"})
	out, err := greeters["alice"].ProcessIncoming(&Packet{Source: "alice", Members: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Nil(t, out)
}

// drainPackets feeds pkt and every reply it provokes to greeters until no
// more outgoing packets are produced.
func drainPackets(t *testing.T, greeters map[string]*Greeter, allMembers []string, pkt *Packet) {
	t.Helper()
	pending := []*Packet{pkt}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		targets := []string{cur.Dest}
		if cur.Dest == "" {
			targets = allExcept(allMembers, cur.Source)
		}
		for _, target := range targets {
			g, ok := greeters[target]
			if !ok {
				continue
			}
			out, err := g.ProcessIncoming(cur)
			require.NoError(t, err)
			if out != nil {
				pending = append(pending, out)
			}
		}
	}
}

func TestJoinExtendsMembershipAndReAuthenticates(t *testing.T) {
	dir := &testDirectory{keys: make(map[string]ed25519.PublicKey)}
	greeters := make(map[string]*Greeter)
	for _, id := range []string{"alice", "bob"} {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		dir.keys[id] = pub
		greeters[id] = New(id, ske.NewMember(id, priv, dir))
	}

	members := []string{"alice", "bob"}
	pkt, err := greeters["alice"].Start([]string{"bob"})
	require.NoError(t, err)
	drainPackets(t, greeters, members, pkt)
	for _, id := range members {
		require.Equal(t, Ready, greeters[id].State(), "member %s", id)
	}

	carolPub, carolPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir.keys["carol"] = carolPub
	greeters["carol"] = New("carol", ske.NewMember("carol", carolPriv, dir))

	allMembers := []string{"alice", "bob", "carol"}
	joinPkt, err := greeters["alice"].Join([]string{"carol"})
	require.NoError(t, err)
	assert.Equal(t, OpJoin, joinPkt.Flags.Op)

	drainPackets(t, greeters, allMembers, joinPkt)

	wantKey := greeters["alice"].GroupKey()
	wantSid := greeters["alice"].SessionId()
	for _, id := range allMembers {
		assert.Equal(t, Ready, greeters[id].State(), "member %s", id)
		assert.Equal(t, wantKey, greeters[id].GroupKey(), "member %s", id)
		assert.Equal(t, wantSid, greeters[id].SessionId(), "member %s", id)
	}
}

func TestProcessIncomingIgnoresWhenSelfAbsent(t *testing.T) {
	greeters := newGreeters(t, []string{"alice", "bob"})
	out, err := greeters["alice"].ProcessIncoming(&Packet{Source: "bob", Members: []string{"bob", "carol"}})
	require.NoError(t, err)
	assert.Nil(t, out)
}

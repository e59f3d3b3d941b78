// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package hybrid

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/pkidir"
	"github.com/sage-x-project/mpenc/session"
)

func newTestIdentity(t *testing.T, dir *pkidir.Directory, name string) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = dir.Register(name, pub, time.Hour)
	require.NoError(t, err)
	return priv
}

func TestSessionInitialState(t *testing.T) {
	hub := channel.NewHub()
	dir := pkidir.New([]byte("test-key"))
	priv := newTestIdentity(t, dir, "alice")

	s := New("alice", priv, dir, hub.Join("alice"), session.Config{})
	assert.Equal(t, "cos_", s.State())
}

// TestHybridSessionEndToEnd drives two members through channel entry, a
// two-party greeting, and a data message, asserting the receiver gets
// back exactly the bytes the sender sent.
func TestHybridSessionEndToEnd(t *testing.T) {
	hub := channel.NewHub()
	dir := pkidir.New([]byte("shared-signing-key"))

	alicePriv := newTestIdentity(t, dir, "alice")
	bobPriv := newTestIdentity(t, dir, "bob")

	cfg := session.Config{BroadcastLatency: 20 * time.Millisecond}
	alice := New("alice", alicePriv, dir, hub.Join("alice"), cfg)
	bob := New("bob", bobPriv, dir, hub.Join("bob"), cfg)

	var mu sync.Mutex
	var bobEvents []Event
	bob.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		bobEvents = append(bobEvents, e)
	})

	require.NoError(t, alice.Execute(Action{Join: true}))
	require.NoError(t, bob.Execute(Action{Join: true}))

	aliceState := alice.State()
	bobState := bob.State()
	assert.Equal(t, byte('C'), aliceState[0], "alice should be in the channel")
	assert.Equal(t, byte('C'), bobState[0], "bob should be in the channel")

	require.NoError(t, alice.Execute(Action{Include: []string{"bob"}}))

	aliceState = alice.State()
	bobState = bob.State()
	require.Contains(t, aliceState, "O", "alice's greeting should have synced server order")
	require.Contains(t, aliceState, "S", "alice should hold an established epoch slot")
	require.Contains(t, bobState, "O", "bob's greeting should have synced server order")
	require.Contains(t, bobState, "S", "bob should hold an established epoch slot")

	const content = "hello bob, this is alice"
	require.NoError(t, alice.Execute(Action{Contents: []byte(content)}))

	mu.Lock()
	defer mu.Unlock()
	var got *Event
	for i := range bobEvents {
		if bobEvents[i].Kind == MsgAccepted && bobEvents[i].Author == "alice" && bobEvents[i].Body != nil {
			got = &bobEvents[i]
		}
	}
	require.NotNil(t, got, "bob should have accepted alice's message")
	assert.Equal(t, content, string(got.Body))
}

// TestRunOwnOperationRejectsConcurrentDifferentAction exercises the
// engine's at-most-one-own-operation rule directly, without depending on
// timing from a real greeting handshake.
func TestRunOwnOperationRejectsConcurrentDifferentAction(t *testing.T) {
	hub := channel.NewHub()
	dir := pkidir.New([]byte("test-key"))
	priv := newTestIdentity(t, dir, "alice")
	s := New("alice", priv, dir, hub.Join("alice"), session.Config{})

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.runOwnOperation("opA", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	_, err := s.runOwnOperation("opB", func() error { return nil })
	require.Error(t, err)
	assert.True(t, mpencerr.Is(err, mpencerr.KindOperationInProgress))

	close(release)
	wg.Wait()

	// Once opA has finished, a fresh operation is free to run.
	_, err = s.runOwnOperation("opB", func() error { return nil })
	assert.NoError(t, err)
}

func TestActionKeyIsOrderIndependentAcrossMembers(t *testing.T) {
	a := Action{Include: []string{"bob", "carol"}}
	b := Action{Include: []string{"carol", "bob"}}
	assert.Equal(t, actionKey(a), actionKey(b))
	assert.True(t, strings.HasPrefix(actionKey(a), "greet:"))
}

func TestSendWithoutEstablishedGroupFails(t *testing.T) {
	hub := channel.NewHub()
	dir := pkidir.New([]byte("test-key"))
	priv := newTestIdentity(t, dir, "alice")
	s := New("alice", priv, dir, hub.Join("alice"), session.Config{})

	err := s.Send([]byte("no group yet"))
	require.Error(t, err)
	assert.True(t, mpencerr.Is(err, mpencerr.KindStateViolation))
}

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

// Package hybrid implements the outer session controller that drives a
// channel's membership notices and packets into a running Greeter and a
// chain of SessionBase sub-sessions: it is the one piece an application
// actually holds onto, everything below it (greeting, message security,
// transcript) is wired together here.
package hybrid

import (
	"crypto/ed25519"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/greet"
	"github.com/sage-x-project/mpenc/internal/logger"
	"github.com/sage-x-project/mpenc/msgsec"
	"github.com/sage-x-project/mpenc/serverorder"
	"github.com/sage-x-project/mpenc/session"
	"github.com/sage-x-project/mpenc/ske"
)

// maxEpochs bounds how many past sub-sessions' keys a receiver keeps
// around for trial decryption across a key-rotation boundary.
const maxEpochs = 2

// EventKind classifies a published Event. The first five values mirror
// session.EventKind's ordering so forwarded sub-session events need no
// translation table.
type EventKind int

const (
	MsgAccepted EventKind = iota
	MsgFullyAcked
	NotAccepted
	NotFullyAcked
	NotDecrypted
	StateChange
	MembersChange
)

// Event is published to every Subscribe-r, synchronously and in
// registration order.
type Event struct {
	Kind   EventKind
	Id     [20]byte
	Author string
	Len    int

	// Body is the decrypted content of a received Payload message,
	// set only for the Event that reports its acceptance.
	Body []byte

	// State is the four-letter channel/serverorder/sub-session/synced
	// notation (e.g. "COSJ"), set on StateChange.
	State string

	// Members/Include/Exclude describe a MembersChange notice.
	Members []string
	Include []string
	Exclude []string
}

// epochSlot is one still-relevant sub-session: its message-security
// epoch, its membership, the ephemeral signing keys to verify incoming
// data messages against, and the SessionBase accepting its transcript.
type epochSlot struct {
	epoch      msgsec.Epoch
	members    []string
	signerKeys map[string]ed25519.PublicKey
	sub        *session.SessionBase
}

// Session is the per-conversation controller an application holds. It is
// safe for concurrent use: every entry point (Execute, Send, the
// channel's OnRecv callback) takes an internal lock, but releases it
// before making any outbound channel.Send call, since the in-memory
// Hub delivers synchronously and a Send can loop back into this same
// Session's recv callback via another member's reply.
type Session struct {
	self string
	priv ed25519.PrivateKey
	dir  ske.Directory
	ch   channel.Channel
	cfg  session.Config

	mu sync.Mutex

	channelMembers []string
	inChannel      bool

	order  *serverorder.Order
	opId   serverorder.PacketId
	curOp  string
	greeter *greet.Greeter

	selfEphPriv ed25519.PrivateKey
	slots       []*epochSlot

	taskExclude map[string]bool
	taskLeave   map[string]bool

	// justSynced latches once per rotation, for the outer FSM's J/j
	// letter; cleared the next time recv or Execute observes it.
	justSynced bool

	ongoingKey string
	sf         singleflight.Group

	subscribers []func(Event)
}

// New creates a Session for self, identified to peers by priv's public
// key and resolved through dir, driven by ch. ch.OnRecv is wired to
// this Session immediately; callers must not also register their own
// handler on ch.
func New(self string, priv ed25519.PrivateKey, dir ske.Directory, ch channel.Channel, cfg session.Config) *Session {
	s := &Session{
		self:        self,
		priv:        priv,
		dir:         dir,
		ch:          ch,
		cfg:         cfg.WithDefaults(),
		order:       serverorder.New(),
		taskExclude: make(map[string]bool),
		taskLeave:   make(map[string]bool),
	}
	ch.OnRecv(s.recv)
	return s
}

// Subscribe registers fn for every Event this Session publishes. It
// returns a canceller that removes the subscription.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[idx] = nil
	}
}

// publish must be called with s.mu held; it copies the subscriber list
// so a subscriber calling back into Subscribe/unsubscribe mid-publish
// cannot corrupt this iteration.
func (s *Session) publishLocked(e Event) {
	subs := append([]func(Event)(nil), s.subscribers...)
	for _, fn := range subs {
		if fn != nil {
			fn(e)
		}
	}
}

// State returns the four-letter channel/serverorder/sub-session/synced
// notation describing the current outer FSM state. Observing a "J"
// (just rotated) latches it back down to "j" for the next call, so a
// caller polling State after every Event sees the transition exactly
// once.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	letters := s.lettersLocked()
	s.justSynced = false
	return letters
}

func (s *Session) lettersLocked() string {
	c := byte('c')
	if s.inChannel {
		c = 'C'
	}
	o := byte('o')
	if s.order.IsSynced() {
		o = 'O'
	}
	sst := byte('s')
	if len(s.slots) > 0 {
		sst = 'S'
	}
	j := byte('_')
	if o == 'O' {
		j = 'j'
		if s.justSynced {
			j = 'J'
		}
	}
	return string([]byte{c, o, sst, j})
}

// recv is wired as ch's sole OnRecv handler. It locks, mutates state,
// and collects any reply to forward, then unlocks before sending —
// sending while holding the lock would deadlock the in-memory Hub's
// synchronous broadcast the moment a reply loops back to this member.
func (s *Session) recv(in channel.Incoming) {
	s.mu.Lock()
	if in.IsNotice() {
		s.handleNoticeLocked(in)
		s.mu.Unlock()
		s.runAutoKick()
		return
	}
	out, err := s.handlePayloadLocked(in)
	s.mu.Unlock()
	if err != nil {
		logger.Warn("hybrid: dropping undeliverable packet", logger.String("sender", in.Sender), logger.Error(err))
		return
	}
	if out != nil {
		if sendErr := s.ch.Send(*out); sendErr != nil {
			logger.Warn("hybrid: failed to forward greeting packet", logger.Error(sendErr))
		}
	}
}

func membersExcept(members []string, self string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}

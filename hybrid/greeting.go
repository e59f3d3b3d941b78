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
	"sort"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/greet"
	"github.com/sage-x-project/mpenc/internal/logger"
	"github.com/sage-x-project/mpenc/metrics"
	"github.com/sage-x-project/mpenc/msgsec"
	"github.com/sage-x-project/mpenc/serverorder"
	"github.com/sage-x-project/mpenc/session"
	"github.com/sage-x-project/mpenc/ske"
)

// handleNoticeLocked applies a channel membership notice. Called with
// s.mu held.
func (s *Session) handleNoticeLocked(in channel.Incoming) {
	s.channelMembers = append([]string(nil), in.Members...)

	for _, m := range in.Leave {
		if m == s.self {
			s.teardownLocked()
			s.inChannel = false
			s.publishLocked(Event{Kind: StateChange, State: s.lettersLocked()})
			return
		}
		if !s.taskLeave[m] {
			s.taskExclude[m] = true
		}
	}
	for _, m := range in.Enter {
		if m == s.self {
			s.inChannel = true
		}
	}

	s.publishLocked(Event{Kind: MembersChange, Members: s.channelMembers, Include: in.Enter, Exclude: in.Leave})
}

// teardownLocked drops all per-conversation state, matching the spec's
// "leave: self tears down all state atomically." Group key material is
// released by letting the SessionBase/Greeter objects be collected;
// Stop cancels their timers first.
func (s *Session) teardownLocked() {
	for _, slot := range s.slots {
		slot.sub.Stop()
	}
	s.slots = nil
	s.greeter = nil
	s.order = serverorder.New()
	s.taskExclude = make(map[string]bool)
	s.taskLeave = make(map[string]bool)
	s.justSynced = false
}

// runAutoKick proposes an Exclude greeting for every member pending
// exclusion, if the outer FSM is idle enough to start one. It takes its
// own lock and must be called with no lock held.
func (s *Session) runAutoKick() {
	s.mu.Lock()
	if s.order.Ongoing() || len(s.taskExclude) == 0 || s.greeter == nil || s.greeter.State() != greet.Ready {
		s.mu.Unlock()
		return
	}
	exclude := make([]string, 0, len(s.taskExclude))
	for m := range s.taskExclude {
		exclude = append(exclude, m)
	}
	sort.Strings(exclude)
	s.mu.Unlock()

	if _, err := s.runOwnOperation("greet:autokick:"+exclude[0], s.doGreetFn(nil, exclude)); err != nil {
		logger.Warn("hybrid: auto-kick exclude failed", logger.Error(err))
		return
	}

	s.mu.Lock()
	for _, m := range exclude {
		delete(s.taskExclude, m)
		s.taskLeave[m] = true
	}
	s.mu.Unlock()
}

// newGreeter creates a fresh Greeter backed by a new SKE member.
func (s *Session) newGreeter() *greet.Greeter {
	return greet.New(s.self, ske.NewMember(s.self, s.priv, s.dir))
}

// handlePayloadLocked routes one payload delivery: a greeting packet or
// a data-message ciphertext. It returns a packet to forward, if any.
// Called with s.mu held.
func (s *Session) handlePayloadLocked(in channel.Incoming) (*channel.Outgoing, error) {
	if pkt, err := greet.Decode(in.Pubtxt); err == nil {
		return s.handleGreetingPacketLocked(in.Sender, pkt, in.Pubtxt)
	}
	s.handleCiphertextLocked(in.Sender, in.Pubtxt)
	return nil, nil
}

func (s *Session) handleGreetingPacketLocked(sender string, pkt *greet.Packet, raw []byte) (*channel.Outgoing, error) {
	if sender == s.self {
		return nil, nil
	}

	if !s.order.Ongoing() {
		id := serverorder.MakePacketId(raw, sender, s.channelMembers)
		if err := s.order.AcceptInitial(id, s.order.PrevFinal(), sender, s.channelMembers, s.self); err != nil {
			return nil, nil // a concurrent proposal lost the race; silently dropped
		}
		s.opId = id
		if s.greeter == nil {
			s.greeter = s.newGreeter()
		}
		s.curOp = opLabel(pkt.Flags.Op)
		metrics.ObserveGreetingStarted(s.curOp)
	} else {
		if err := s.order.AcceptIntermediate(s.opId); err != nil {
			return nil, nil
		}
	}

	out, err := s.greeter.ProcessIncoming(pkt)
	if err != nil {
		s.order.Abort()
		return nil, err
	}

	s.afterGreeterAdvanceLocked()

	if out == nil {
		return nil, nil
	}
	wire, err := greet.Encode(out)
	if err != nil {
		return nil, err
	}
	var recipients []string
	if out.Dest != "" {
		recipients = []string{out.Dest}
	}
	return &channel.Outgoing{Pubtxt: wire, Recipients: recipients}, nil
}

// afterGreeterAdvanceLocked checks whether the current greeting just
// finished and, if so, closes out ServerOrder and rotates sub-sessions
// (or tears down, on a self-quit). Called with s.mu held.
func (s *Session) afterGreeterAdvanceLocked() {
	switch s.greeter.State() {
	case greet.Ready:
		if s.order.Ongoing() {
			_ = s.order.AcceptFinal(s.opId, s.opId, s.channelMembers)
		}
		s.rotateLocked()
		op := s.curOp
		if op == "" {
			op = "data"
		}
		metrics.ObserveGreetingCompleted(op)
	case greet.Quit:
		if s.order.Ongoing() {
			_ = s.order.AcceptFinal(s.opId, s.opId, s.channelMembers)
		}
		s.teardownLocked()
	}
}

// rotateLocked installs a fresh epoch slot from the just-completed
// greeting, retiring the oldest slot past maxEpochs. Called with s.mu
// held.
func (s *Session) rotateLocked() {
	g := s.greeter
	members := g.Members()
	pubKeys := g.EphemeralPublicKeys()

	signerKeys := make(map[string]ed25519.PublicKey, len(members))
	for i, m := range members {
		if i < len(pubKeys) {
			signerKeys[m] = pubKeys[i]
		}
	}

	sub := session.New(s.self, members, s.cfg)
	sub.Subscribe(s.forwardSessionEvent)

	slot := &epochSlot{
		epoch:      msgsec.NewEpoch(g.SessionId(), g.GroupKey()[:16]),
		members:    members,
		signerKeys: signerKeys,
		sub:        sub,
	}
	s.selfEphPriv = g.EphemeralPrivateKey()

	s.slots = append([]*epochSlot{slot}, s.slots...)
	if len(s.slots) > maxEpochs {
		for _, dropped := range s.slots[maxEpochs:] {
			dropped.sub.Stop()
		}
		s.slots = s.slots[:maxEpochs]
	}
	metrics.ActiveSubSessions.Set(float64(len(s.slots)))

	s.justSynced = true
	s.publishLocked(Event{Kind: StateChange, State: s.lettersLocked(), Members: members})
}

// forwardSessionEvent relays one sub-session Event out to this
// Session's own subscribers and to the metrics package.
//
// SessionBase.accept publishes MsgAccepted/MsgFullyAcked synchronously,
// on whatever goroutine is already driving handleCiphertextLocked or
// Send with s.mu held — so those two kinds must not re-lock here.
// NotAccepted/NotFullyAcked instead fire later from SessionBase's own
// time.AfterFunc timers, on a goroutine that holds no lock at all, so
// those do need to take s.mu themselves.
func (s *Session) forwardSessionEvent(e session.Event) {
	metrics.ObserveSessionEvent(e)
	out := Event{Kind: EventKind(e.Kind), Id: e.Id, Author: e.Author, Len: e.Len}

	switch e.Kind {
	case session.MsgAccepted, session.MsgFullyAcked:
		s.publishLocked(out)
	default:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.publishLocked(out)
	}
}

func opLabel(op greet.OpCode) string {
	switch op {
	case greet.OpStart:
		return "start"
	case greet.OpJoin:
		return "join"
	case greet.OpExclude:
		return "exclude"
	case greet.OpRefresh:
		return "refresh"
	case greet.OpQuit:
		return "quit"
	default:
		return "data"
	}
}

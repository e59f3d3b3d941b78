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
	"sort"
	"strings"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/greet"
	"github.com/sage-x-project/mpenc/internal/logger"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/serverorder"
)

// Action is one caller-initiated request: exactly one of Join, Part, a
// non-nil Contents, or a non-empty Include/Exclude pair should be set.
type Action struct {
	// Contents, if non-nil, is sent as a data message under the
	// current epoch.
	Contents []byte

	// Include/Exclude propose adding or removing members from the
	// group via a greeting operation.
	Include []string
	Exclude []string

	// Join has self enter the channel; Part has self leave it,
	// quitting any running greeting first.
	Join bool
	Part bool
}

// Execute dispatches a to the matching operation. Join/Part/Include/
// Exclude requests are serialized through runOwnOperation: only one of
// them may be outstanding at a time, per member. A plain Contents send
// is never serialized this way, since concurrent sends need no
// deduplication against each other.
func (s *Session) Execute(a Action) error {
	switch {
	case a.Join:
		_, err := s.runOwnOperation("join", s.doJoinFn())
		return err
	case a.Part:
		_, err := s.runOwnOperation("part", s.doPartFn())
		return err
	case len(a.Include) > 0 || len(a.Exclude) > 0:
		_, err := s.runOwnOperation(actionKey(a), s.doGreetFn(a.Include, a.Exclude))
		return err
	case a.Contents != nil:
		return s.Send(a.Contents)
	default:
		return mpencerr.New(mpencerr.KindProtocolDecode, "hybrid.Execute", "empty action")
	}
}

// runOwnOperation deduplicates identical concurrent own-operation calls
// via singleflight, and rejects a differing one while one is already
// running with KindOperationInProgress, per the engine's at-most-one-
// own-operation rule.
func (s *Session) runOwnOperation(key string, fn func() error) (interface{}, error) {
	s.mu.Lock()
	if s.ongoingKey != "" && s.ongoingKey != key {
		s.mu.Unlock()
		return nil, mpencerr.New(mpencerr.KindOperationInProgress, "hybrid.runOwnOperation", "a different own operation is already running")
	}
	s.ongoingKey = key
	s.mu.Unlock()

	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return nil, fn()
	})

	s.mu.Lock()
	if s.ongoingKey == key {
		s.ongoingKey = ""
	}
	s.mu.Unlock()
	return v, err
}

func (s *Session) doJoinFn() func() error { return s.doJoin }
func (s *Session) doPartFn() func() error { return s.doPart }
func (s *Session) doGreetFn(include, exclude []string) func() error {
	return func() error { return s.doGreet(include, exclude) }
}

// doJoin enters the channel. It is a no-op if self is already a member.
func (s *Session) doJoin() error {
	s.mu.Lock()
	if s.inChannel {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.ch.Send(channel.Outgoing{Enter: true})
}

// doPart quits any READY greeting (so peers learn to stop trusting
// self's epoch), tears down local state, then leaves the channel.
func (s *Session) doPart() error {
	s.mu.Lock()
	var quitWire []byte
	if s.greeter != nil && s.greeter.State() == greet.Ready {
		pkt := s.greeter.Quit()
		wire, err := greet.Encode(pkt)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		quitWire = wire
	}
	s.teardownLocked()
	s.mu.Unlock()

	if quitWire != nil {
		if err := s.ch.Send(channel.Outgoing{Pubtxt: quitWire}); err != nil {
			logger.Warn("hybrid: failed to broadcast quit notice", logger.Error(err))
		}
	}
	return s.ch.Send(channel.Outgoing{Leave: true})
}

// doGreet starts (from NULL) or extends (from READY) a greeting
// proposing to include or exclude members, and broadcasts the first
// packet of that operation.
func (s *Session) doGreet(include, exclude []string) error {
	s.mu.Lock()
	if s.order.Ongoing() {
		s.mu.Unlock()
		return mpencerr.New(mpencerr.KindOperationInProgress, "hybrid.doGreet", "a greeting is already in flight")
	}
	if s.greeter == nil {
		s.greeter = s.newGreeter()
	}

	var pkt *greet.Packet
	var err error
	switch {
	case len(include) > 0 && s.greeter.State() == greet.Null:
		pkt, err = s.greeter.Start(include)
		s.curOp = "start"
	case len(include) > 0:
		pkt, err = s.greeter.Join(include)
		s.curOp = "join"
	case len(exclude) > 0:
		pkt, err = s.greeter.Exclude(exclude)
		s.curOp = "exclude"
	default:
		pkt, err = s.greeter.Refresh()
		s.curOp = "refresh"
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	wire, err := greet.Encode(pkt)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	id := serverorder.MakePacketId(wire, s.self, s.channelMembers)
	if err := s.order.AcceptInitial(id, s.order.PrevFinal(), s.self, s.channelMembers, s.self); err != nil {
		s.mu.Unlock()
		return err
	}
	s.opId = id
	s.afterGreeterAdvanceLocked()
	s.mu.Unlock()

	var recipients []string
	if pkt.Dest != "" {
		recipients = []string{pkt.Dest}
	}
	return s.ch.Send(channel.Outgoing{Pubtxt: wire, Recipients: recipients})
}

// actionKey derives a dedup key for a greeting-shaped Action, so two
// Execute calls proposing the exact same membership change collapse
// into a single singleflight run instead of erroring each other out.
func actionKey(a Action) string {
	inc := append([]string(nil), a.Include...)
	exc := append([]string(nil), a.Exclude...)
	sort.Strings(inc)
	sort.Strings(exc)
	return "greet:" + strings.Join(inc, ",") + "|" + strings.Join(exc, ",")
}

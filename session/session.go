// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"time"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/transcript"
)

type bufferedMessage struct {
	msg     transcript.Message
	missing map[transcript.MessageId]bool
	timer   *time.Timer
}

// SessionBase is the per-sub-session engine: it accepts decrypted
// messages into a causal transcript, schedules consistency monitors and
// fin timers, and exposes the JOINED/PARTING/PARTED/PART_FAILED FSM. It
// is not safe for concurrent use; callers run it from a single event
// loop, matching the engine's single-threaded cooperative model.
type SessionBase struct {
	self    string
	members []string
	cfg     Config

	transcript *transcript.Transcript
	ctime      map[transcript.MessageId]time.Time
	ktime      map[transcript.MessageId]time.Time

	trial map[transcript.MessageId]*bufferedMessage

	monitors map[transcript.MessageId]*time.Timer

	state  State
	finId  transcript.MessageId
	hasFin bool
	onFin  func(State)
	hard   *time.Timer
	grace  *time.Timer

	subscribers []func(Event)
}

// New creates a SessionBase for self among members, in the JOINED state.
func New(self string, members []string, cfg Config) *SessionBase {
	return &SessionBase{
		self:       self,
		members:    append([]string(nil), members...),
		cfg:        cfg.WithDefaults(),
		transcript: transcript.New(),
		ctime:      make(map[transcript.MessageId]time.Time),
		ktime:      make(map[transcript.MessageId]time.Time),
		trial:      make(map[transcript.MessageId]*bufferedMessage),
		monitors:   make(map[transcript.MessageId]*time.Timer),
		state:      Joined,
	}
}

// State returns the current FSM state.
func (s *SessionBase) State() State {
	return s.state
}

// Transcript exposes the underlying causal DAG for read-only queries.
func (s *SessionBase) Transcript() *transcript.Transcript {
	return s.transcript
}

// Subscribe registers fn to be called, synchronously and in registration
// order, for every event this SessionBase publishes. It returns a
// canceller that removes the subscription.
func (s *SessionBase) Subscribe(fn func(Event)) func() {
	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1
	return func() {
		s.subscribers[idx] = nil
	}
}

func (s *SessionBase) publish(e Event) {
	for _, fn := range s.subscribers {
		if fn != nil {
			fn(e)
		}
	}
}

// Accept ingests a decrypted message. If any parent is not yet present
// it is held in the trial buffer until the parent arrives or
// BroadcastLatency elapses, whichever is first.
func (s *SessionBase) Accept(msg transcript.Message) error {
	missing := s.missingParents(msg)
	if len(missing) > 0 {
		s.bufferTrial(msg, missing)
		return nil
	}
	return s.accept(msg)
}

func (s *SessionBase) missingParents(msg transcript.Message) map[transcript.MessageId]bool {
	missing := make(map[transcript.MessageId]bool)
	for _, p := range msg.Parents {
		if _, ok := s.transcript.Get(p); !ok {
			missing[p] = true
		}
	}
	return missing
}

func (s *SessionBase) bufferTrial(msg transcript.Message, missing map[transcript.MessageId]bool) {
	entry := &bufferedMessage{msg: msg, missing: missing}
	entry.timer = time.AfterFunc(s.cfg.BroadcastLatency, func() {
		delete(s.trial, msg.Id)
		s.publish(Event{Kind: NotAccepted, Id: msg.Id, Author: msg.Author, Parents: idSlice(msg.Parents)})
	})
	s.trial[msg.Id] = entry
}

func (s *SessionBase) accept(msg transcript.Message) error {
	fullyAcked, err := s.transcript.Add(msg)
	if err != nil {
		return mpencerr.Wrap(mpencerr.KindStateViolation, "session.Accept", "transcript rejected message", err)
	}
	now := time.Now()
	s.ctime[msg.Id] = now

	s.monitors[msg.Id] = time.AfterFunc(s.cfg.FullAckInterval, func() {
		s.fireMonitor(msg.Id)
	})

	s.publish(Event{Kind: MsgAccepted, Id: msg.Id, Author: msg.Author, Parents: idSlice(msg.Parents), Len: 1})
	for _, id := range fullyAcked {
		s.ktime[id] = time.Now()
		if t, ok := s.monitors[id]; ok {
			t.Stop()
			delete(s.monitors, id)
		}
		s.publish(Event{Kind: MsgFullyAcked, Id: id})
		if s.hasFin && id == s.finId && s.state == Parting && s.grace == nil {
			s.grace = time.AfterFunc(time.Duration(s.cfg.FinConsistentRatio)*s.cfg.BroadcastLatency, s.finGraceExpire)
		}
	}

	s.drainTrialBuffer(msg.Id)
	return nil
}

func (s *SessionBase) drainTrialBuffer(arrived transcript.MessageId) {
	for id, entry := range s.trial {
		if !entry.missing[arrived] {
			continue
		}
		delete(entry.missing, arrived)
		if len(entry.missing) == 0 {
			entry.timer.Stop()
			delete(s.trial, id)
			_ = s.accept(entry.msg)
		}
	}
}

func (s *SessionBase) fireMonitor(id transcript.MessageId) {
	delete(s.monitors, id)
	unacked := s.transcript.Unackby(id)
	if len(unacked) == 0 {
		return
	}
	selfUnacked := false
	for _, r := range unacked {
		if r == s.self {
			selfUnacked = true
		}
	}
	if selfUnacked {
		s.publish(Event{Kind: NotFullyAcked, Id: id, Len: len(unacked)})
		return
	}
	s.publish(Event{Kind: NotFullyAcked, Id: id, Len: len(unacked)})
}

// IsConsistent reports whether every accepted Payload message is fully
// acked.
func (s *SessionBase) IsConsistent() bool {
	return s.transcript.IsConsistent()
}

func idSlice(ids []transcript.MessageId) [][20]byte {
	out := make([][20]byte, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

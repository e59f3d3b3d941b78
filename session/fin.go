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

// Fin begins the close-down sequence: it accepts the already-signed
// Consistency(close=true) message authored by self, enters PARTING, and
// arms the hard timeout and (once the fin is fully acked) the grace
// timer described by the component design. onFin is called exactly once
// with the final state (PARTED or PART_FAILED).
func (s *SessionBase) Fin(consistency transcript.Message, onFin func(State)) error {
	if s.state != Joined {
		return mpencerr.New(mpencerr.KindStateViolation, "session.Fin", "fin called outside JOINED state")
	}
	if consistency.Kind != transcript.Consistency || !consistency.Close {
		return mpencerr.New(mpencerr.KindStateViolation, "session.Fin", "fin requires a Consistency(close=true) message")
	}
	if err := s.Accept(consistency); err != nil {
		return err
	}

	s.state = Parting
	s.finId = consistency.Id
	s.hasFin = true
	s.onFin = onFin
	s.hard = time.AfterFunc(time.Duration(s.cfg.FinTimeoutRatio)*s.cfg.BroadcastLatency, s.finHardExpire)
	return nil
}

func (s *SessionBase) finHardExpire() {
	if s.state != Parting {
		return
	}
	s.resolveFin(s.IsConsistent())
}

func (s *SessionBase) finGraceExpire() {
	if s.state != Parting {
		return
	}
	s.resolveFin(true)
}

func (s *SessionBase) resolveFin(consistent bool) {
	if consistent {
		s.state = Parted
	} else {
		s.state = PartFailed
	}
	s.Stop()
	if s.onFin != nil {
		s.onFin(s.state)
	}
}

// Stop cancels every registered monitor and fin timer. It does not
// change the FSM state; a definite outcome comes only from Fin's own
// timers, which Stop cancels.
func (s *SessionBase) Stop() {
	for id, t := range s.monitors {
		t.Stop()
		delete(s.monitors, id)
	}
	for id, entry := range s.trial {
		entry.timer.Stop()
		delete(s.trial, id)
	}
	if s.hard != nil {
		s.hard.Stop()
		s.hard = nil
	}
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

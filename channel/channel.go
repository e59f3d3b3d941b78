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

// Package channel defines the transport boundary the hybrid session
// drives: a fire-and-forget broadcast primitive plus membership notice
// delivery. The engine treats the channel as an external collaborator,
// so this package only fixes the contract (Channel) and ships two
// implementations of it: an in-memory broadcast room for tests and
// local demos, and a gorilla/websocket-backed room for real use.
package channel

// Channel is the transport boundary a hybrid.Session drives. Callers
// never block on delivery: Send returns once the local side has handed
// the frame to the transport, not once peers have received it.
type Channel interface {
	// Send transmits out. It returns a non-nil error only for local
	// failures (not connected, codec failure); it never waits for
	// remote acknowledgement.
	Send(out Outgoing) error

	// OnRecv registers fn to be called for every delivered payload or
	// membership notice. Only one subscriber is supported; a later
	// call replaces the earlier one.
	OnRecv(fn func(Incoming))

	// CurMembers returns the channel's current membership, or
	// ok=false iff self is not currently a member of the channel.
	CurMembers() (members []string, ok bool)
}

// Outgoing is one fire-and-forget send. Set Enter or Leave for a
// membership control frame; otherwise Pubtxt/Recipients describe a
// greeting or data payload broadcast. An empty Recipients means
// "everyone currently in the channel".
type Outgoing struct {
	Pubtxt     []byte
	Recipients []string
	Enter      bool
	Leave      bool
}

// Incoming is one delivered event: either a payload from Sender, or a
// membership notice naming who entered/left and the resulting member
// set.
type Incoming struct {
	Pubtxt []byte
	Sender string

	Enter   []string
	Leave   []string
	Members []string
}

// IsNotice reports whether this delivery is a membership notice rather
// than a payload.
func (in Incoming) IsNotice() bool {
	return in.Enter != nil || in.Leave != nil
}

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

package greet

import (
	"crypto/ed25519"

	"github.com/sage-x-project/mpenc/gka"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/ske"
)

// State is the Greeter FSM state.
type State string

const (
	Null          State = "NULL"
	InitUpflow    State = "INIT_UPFLOW"
	InitDownflow  State = "INIT_DOWNFLOW"
	Ready         State = "READY"
	AuxUpflow     State = "AUX_UPFLOW"
	AuxDownflow   State = "AUX_DOWNFLOW"
	Quit          State = "QUIT"
)

// Greeter drives one member's combined GKA+SKE state through a single
// greeting operation at a time.
type Greeter struct {
	self string

	gkaMember *gka.Member
	skeMember *ske.Member

	state State

	// Latched once SKE.IsSessionAcknowledged() transitions true.
	sessionId        [32]byte
	members          []string
	ephemeralPubKeys []ed25519.PublicKey
	groupKey         []byte
}

// New creates a Greeter for self backed by a fresh GKA member and the
// given SKE member (already constructed with self's static identity).
func New(self string, skeMember *ske.Member) *Greeter {
	return &Greeter{
		self:      self,
		gkaMember: gka.NewMember(self),
		skeMember: skeMember,
		state:     Null,
	}
}

// State returns the current FSM state.
func (g *Greeter) State() State {
	return g.state
}

// GroupKey returns the latched group key, valid once State() == READY.
func (g *Greeter) GroupKey() []byte {
	return g.groupKey
}

// SessionId returns the latched session id, valid once State() == READY.
func (g *Greeter) SessionId() [32]byte {
	return g.sessionId
}

// Members returns the latched membership, valid once State() == READY.
func (g *Greeter) Members() []string {
	return append([]string(nil), g.members...)
}

// EphemeralPublicKeys returns every member's ephemeral signing public
// key, aligned index-for-index with Members().
func (g *Greeter) EphemeralPublicKeys() []ed25519.PublicKey {
	return g.skeMember.EphemeralPublicKeys()
}

// EphemeralPrivateKey returns self's ephemeral signing private key for
// the just-completed session, used to authenticate data messages.
func (g *Greeter) EphemeralPrivateKey() ed25519.PrivateKey {
	return g.skeMember.EphemeralPrivateKey()
}

// Start begins an initial key agreement with others, returning the
// first upflow packet (directed at the next member in the chain).
func (g *Greeter) Start(others []string) (*Packet, error) {
	if g.state != Null {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "greet.Start", "greeter is not in NULL state")
	}
	gkaMsg, err := g.gkaMember.Ika(others)
	if err != nil {
		return nil, err
	}
	skeMsg, err := g.skeMember.Commit(others)
	if err != nil {
		return nil, err
	}
	g.state = InitUpflow
	return g.mergeAndAdvance(gkaMsg, skeMsg, OpStart), nil
}

// Join proposes adding newMembers to an established group.
func (g *Greeter) Join(newMembers []string) (*Packet, error) {
	if g.state != Ready {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "greet.Join", "greeter is not READY")
	}
	gkaMsg, err := g.gkaMember.AkaJoin(newMembers)
	if err != nil {
		return nil, err
	}
	skeMsg, err := g.skeMember.AkaJoin(newMembers)
	if err != nil {
		return nil, err
	}
	g.state = AuxUpflow
	return g.mergeAndAdvanceState(gkaMsg, skeMsg, TypeFlags{Aux: true, Op: OpJoin}), nil
}

// Exclude proposes removing excludeMembers from the group.
func (g *Greeter) Exclude(excludeMembers []string) (*Packet, error) {
	if g.state != Ready {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "greet.Exclude", "greeter is not READY")
	}
	gkaMsg, err := g.gkaMember.AkaExclude(excludeMembers)
	if err != nil {
		return nil, err
	}
	skeMsg, err := g.skeMember.AkaExclude(excludeMembers)
	if err != nil {
		return nil, err
	}
	g.state = AuxDownflow
	g.checkReady()
	return g.mergeAndAdvanceState(gkaMsg, skeMsg, TypeFlags{Aux: true, Op: OpExclude}), nil
}

// Refresh rotates the group key among the current membership.
func (g *Greeter) Refresh() (*Packet, error) {
	if g.state != Ready {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "greet.Refresh", "greeter is not READY")
	}
	gkaMsg, err := g.gkaMember.AkaRefresh()
	if err != nil {
		return nil, err
	}
	skeMsg, err := g.skeMember.AkaRefresh()
	if err != nil {
		return nil, err
	}
	g.state = AuxDownflow
	g.checkReady()
	return g.mergeAndAdvanceState(gkaMsg, skeMsg, TypeFlags{Aux: true, Op: OpRefresh}), nil
}

// Quit leaves the group, revealing this member's ephemeral signing
// private key so peers can later audit the session; its GKA private
// scalars are wiped, not revealed.
func (g *Greeter) Quit() *Packet {
	g.gkaMember.AkaQuit()
	revealed := g.skeMember.AkaQuit()
	g.state = Quit
	return &Packet{Flags: TypeFlags{Aux: true, Down: true, Op: OpQuit}, Source: g.self, RevealedPrivateKey: revealed}
}

// ProcessIncoming handles one received packet, dispatching GKA/SKE
// fields to the respective sub-protocols and returning an outgoing
// packet to forward, if any.
func (g *Greeter) ProcessIncoming(p *Packet) (*Packet, error) {
	if g.state == Quit {
		return nil, nil
	}
	if !contains(p.Members, g.self) {
		return nil, nil
	}
	if p.Dest != "" && p.Dest != g.self {
		return nil, nil
	}
	if p.Source == g.self {
		return nil, nil
	}

	if p.Flags.Recover && !p.Flags.Down {
		g.skeMember.DiscardAuthentications()
	}

	if g.state == Null && !p.Flags.Down {
		if p.Flags.Aux {
			g.state = AuxUpflow
		} else {
			g.state = InitUpflow
		}
	}

	var outGka *gka.Message
	var outSke *ske.Message
	var err error

	if p.Flags.Gka {
		if p.Flags.Down {
			err = g.gkaMember.Downflow(&gka.Message{
				Source: p.Source, Members: p.Members, Down: true, Initial: p.Flags.Init,
				IntKeys: p.IntKeys, Cardinal: p.Cardinal,
			})
		} else {
			outGka, err = g.gkaMember.Upflow(&gka.Message{
				Source: p.Source, Dest: p.Dest, Members: p.Members, Initial: p.Flags.Init,
				IntKeys: p.IntKeys, Cardinal: p.Cardinal,
			})
		}
		if err != nil {
			return nil, err
		}
	}

	if p.Flags.Ske {
		skeMsg := &ske.Message{
			Source: p.Source, Dest: p.Dest, Members: p.Members, Down: p.Flags.Down, Initial: p.Flags.Init,
			Nonces: p.Nonces, PubKeys: p.PubKeys, SessionSignatures: p.SessionSignatures,
		}
		if p.Flags.Down {
			outSke, err = g.skeMember.Downflow(skeMsg)
		} else {
			outSke, err = g.skeMember.Upflow(skeMsg)
		}
		if err != nil {
			return nil, err
		}
	}

	if g.state == InitUpflow || g.state == AuxUpflow {
		if outGka != nil && outGka.Down || outSke != nil && outSke.Down || (outGka == nil && outSke == nil) {
			if g.state == InitUpflow {
				g.state = InitDownflow
			} else {
				g.state = AuxDownflow
			}
		}
	}

	g.checkReady()

	if outGka == nil && outSke == nil {
		return nil, nil
	}
	flags := TypeFlags{Op: p.Flags.Op, Init: p.Flags.Init, Aux: p.Flags.Aux}
	return g.mergeAndAdvanceState(outGka, outSke, flags), nil
}

func (g *Greeter) checkReady() {
	if g.skeMember.IsSessionAcknowledged() {
		g.state = Ready
		g.sessionId = g.skeMember.SessionId()
		g.members = g.gkaMember.Members()
		g.ephemeralPubKeys = nil
		g.groupKey = g.gkaMember.GroupKey()
	}
}

func (g *Greeter) mergeAndAdvance(gkaMsg *gka.Message, skeMsg *ske.Message, op OpCode) *Packet {
	flags := TypeFlags{Op: op, Init: true}
	return g.mergeAndAdvanceState(gkaMsg, skeMsg, flags)
}

func (g *Greeter) mergeAndAdvanceState(gkaMsg *gka.Message, skeMsg *ske.Message, flags TypeFlags) *Packet {
	p := fromGkaSke(gkaMsg, skeMsg, flags)
	if p.Dest == "" && (p.Flags.Gka || p.Flags.Ske) {
		p.Flags.Down = true
	}
	return p
}

func contains(set []string, target string) bool {
	for _, s := range set {
		if s == target {
			return true
		}
	}
	return false
}

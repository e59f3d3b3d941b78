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

// Package serverorder imposes one agreed total order on the channel's
// membership-relevant packets, so that concurrent greeting proposals
// from different members resolve to exactly one winner.
package serverorder

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// PacketId identifies one greeting proposal.
type PacketId [32]byte

// Order tracks the state needed to accept or reject incoming greeting
// packets in channel-delivery order.
type Order struct {
	prevPf   PacketId
	prevCh   []string
	synced   bool
	ongoing  bool
	ongoingId PacketId
}

// New returns an Order with no prior final packet and an empty channel.
func New() *Order {
	return &Order{}
}

// MakePacketId is deterministic over (pubtxt, sender, channelMembers).
func MakePacketId(pubtxt []byte, sender string, channelMembers []string) PacketId {
	members := append([]string(nil), channelMembers...)
	sort.Strings(members)

	h := sha256.New()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pubtxt)))
	h.Write(lenBuf[:])
	h.Write(pubtxt)
	h.Write([]byte(sender))
	for _, m := range members {
		binary.BigEndian.PutUint16(lenBuf[:2], uint16(len(m)))
		h.Write(lenBuf[:2])
		h.Write([]byte(m))
	}
	var id PacketId
	copy(id[:], h.Sum(nil))
	return id
}

// IsSynced reports whether the first packet has been accepted since the
// channel was last empty (the bootstrap case).
func (o *Order) IsSynced() bool {
	return o.synced
}

// AcceptInitial accepts an initial greeting packet iff prevPf matches,
// the sender is a member of the channel (or self, when bootstrapping an
// empty channel), and no operation is already ongoing.
func (o *Order) AcceptInitial(id PacketId, claimedPrevPf PacketId, sender string, channelMembers []string, self string) error {
	if o.ongoing {
		return mpencerr.New(mpencerr.KindOperationInProgress, "serverorder.AcceptInitial", "an operation is already ongoing")
	}
	if claimedPrevPf != o.prevPf {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptInitial", "prevPf does not match")
	}
	if len(channelMembers) == 0 {
		if sender != self {
			return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptInitial", "bootstrap sender must be self")
		}
	} else if !contains(channelMembers, sender) {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptInitial", "sender is not a channel member")
	}

	o.ongoing = true
	o.ongoingId = id
	if !o.synced {
		o.synced = true
	}
	return nil
}

// AcceptIntermediate accepts an intermediate or final packet only while
// an operation is ongoing and it matches the initial packet's id.
func (o *Order) AcceptIntermediate(id PacketId) error {
	if !o.ongoing {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptIntermediate", "no operation is ongoing")
	}
	if id != o.ongoingId {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptIntermediate", "packet does not match the ongoing operation")
	}
	return nil
}

// AcceptFinal closes out the ongoing operation, recording prevPf and the
// channel membership at the time of this final packet.
func (o *Order) AcceptFinal(id PacketId, claimedPrevPi PacketId, channelMembers []string) error {
	if !o.ongoing {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptFinal", "no operation is ongoing")
	}
	if id != o.ongoingId || claimedPrevPi != o.ongoingId {
		return mpencerr.New(mpencerr.KindStateViolation, "serverorder.AcceptFinal", "final packet does not reference the ongoing initial packet")
	}
	o.prevPf = id
	o.prevCh = append([]string(nil), channelMembers...)
	o.ongoing = false
	o.ongoingId = PacketId{}
	return nil
}

// Abort cancels the ongoing operation without advancing prevPf, used
// when the greeter rejects a packet of the ongoing operation.
func (o *Order) Abort() {
	o.ongoing = false
	o.ongoingId = PacketId{}
}

// Ongoing reports whether an operation is currently in flight.
func (o *Order) Ongoing() bool {
	return o.ongoing
}

// PrevFinal returns the last accepted final packet's id.
func (o *Order) PrevFinal() PacketId {
	return o.prevPf
}

// PrevChannelMembers returns the channel membership recorded at the last
// final packet.
func (o *Order) PrevChannelMembers() []string {
	return append([]string(nil), o.prevCh...)
}

func contains(set []string, target string) bool {
	for _, s := range set {
		if s == target {
			return true
		}
	}
	return false
}

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

// Package greet implements the Greeter: it merges one GKA message and
// one SKE message into a single TLV packet and drives the combined
// upflow/downflow FSM that brings a group to a shared, authenticated key.
package greet

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/sage-x-project/mpenc/gka"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/internal/tlv"
	"github.com/sage-x-project/mpenc/ske"
)

// OpCode is the 3-bit operation code carried in the message-type field.
type OpCode uint8

const (
	OpStart OpCode = iota
	OpJoin
	OpExclude
	OpRefresh
	OpQuit
	OpData
)

// TypeFlags is the bit layout of the 16-bit message-type field.
type TypeFlags struct {
	Aux     bool
	Down    bool
	Gka     bool
	Ske     bool
	Op      OpCode
	Init    bool
	Recover bool
}

// Encode packs the flags into their wire bit positions.
func (f TypeFlags) Encode() uint16 {
	var v uint16
	if f.Aux {
		v |= 1 << 0
	}
	if f.Down {
		v |= 1 << 1
	}
	if f.Gka {
		v |= 1 << 2
	}
	if f.Ske {
		v |= 1 << 3
	}
	v |= uint16(f.Op&0x7) << 4
	if f.Init {
		v |= 1 << 7
	}
	if f.Recover {
		v |= 1 << 8
	}
	return v
}

// DecodeTypeFlags unpacks a wire message-type field.
func DecodeTypeFlags(v uint16) TypeFlags {
	return TypeFlags{
		Aux:     v&(1<<0) != 0,
		Down:    v&(1<<1) != 0,
		Gka:     v&(1<<2) != 0,
		Ske:     v&(1<<3) != 0,
		Op:      OpCode((v >> 4) & 0x7),
		Init:    v&(1<<7) != 0,
		Recover: v&(1<<8) != 0,
	}
}

const ProtocolVersion byte = 1

// Packet is the merged GKA+SKE greeting, the unit exchanged on the wire.
type Packet struct {
	Source string
	Dest   string
	Flags  TypeFlags

	Members []string

	// GKA fields, present iff Flags.Gka.
	IntKeys  [][32]byte
	Cardinal [32]byte

	// SKE fields, present iff Flags.Ske.
	Nonces            [][32]byte
	PubKeys           []ed25519.PublicKey
	SessionSignatures [][]byte

	// RevealedPrivateKey is set only on a QUIT downflow.
	RevealedPrivateKey ed25519.PrivateKey
}

// Encode serializes p as a fixed-order TLV record sequence.
func Encode(p *Packet) ([]byte, error) {
	var records []tlv.Record
	records = append(records, tlv.Record{Type: tlv.ProtocolVersion, Value: []byte{ProtocolVersion}})

	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], p.Flags.Encode())
	records = append(records, tlv.Record{Type: tlv.MessageType, Value: typeBuf[:]})

	if p.Source != "" {
		records = append(records, tlv.Record{Type: tlv.Source, Value: []byte(p.Source)})
	}
	if p.Dest != "" {
		records = append(records, tlv.Record{Type: tlv.Dest, Value: []byte(p.Dest)})
	}
	for _, m := range p.Members {
		records = append(records, tlv.Record{Type: tlv.Member, Value: []byte(m)})
	}

	if p.Flags.Gka {
		for _, k := range p.IntKeys {
			records = append(records, tlv.Record{Type: tlv.IntKey, Value: append([]byte(nil), k[:]...)})
		}
	}
	if p.Flags.Ske {
		for _, n := range p.Nonces {
			records = append(records, tlv.Record{Type: tlv.Nonce, Value: append([]byte(nil), n[:]...)})
		}
		for _, pk := range p.PubKeys {
			records = append(records, tlv.Record{Type: tlv.PubKey, Value: append([]byte(nil), pk...)})
		}
		for _, sig := range p.SessionSignatures {
			records = append(records, tlv.Record{Type: tlv.SessionSignature, Value: sig})
		}
	}
	if p.RevealedPrivateKey != nil {
		records = append(records, tlv.Record{Type: tlv.SigningKey, Value: append([]byte(nil), p.RevealedPrivateKey...)})
	}

	return tlv.EncodeAll(records)
}

// Decode parses a wire packet back into a Packet.
func Decode(data []byte) (*Packet, error) {
	records, err := tlv.Decode(data, -1)
	if err != nil {
		return nil, err
	}

	version, ok := tlv.Find(records, tlv.ProtocolVersion)
	if !ok || len(version) != 1 || version[0] != ProtocolVersion {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "greet.Decode", "unsupported or missing protocol version")
	}
	typeVal, ok := tlv.Find(records, tlv.MessageType)
	if !ok || len(typeVal) != 2 {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "greet.Decode", "missing or malformed message type")
	}
	flags := DecodeTypeFlags(binary.BigEndian.Uint16(typeVal))

	p := &Packet{Flags: flags}
	if src, ok := tlv.Find(records, tlv.Source); ok {
		p.Source = string(src)
	}
	if dst, ok := tlv.Find(records, tlv.Dest); ok {
		p.Dest = string(dst)
	}
	for _, m := range tlv.FindAll(records, tlv.Member) {
		p.Members = append(p.Members, string(m))
	}

	if flags.Gka {
		for _, v := range tlv.FindAll(records, tlv.IntKey) {
			if len(v) != 32 {
				return nil, mpencerr.New(mpencerr.KindProtocolDecode, "greet.Decode", "malformed int key")
			}
			var k [32]byte
			copy(k[:], v)
			p.IntKeys = append(p.IntKeys, k)
		}
	}
	if flags.Ske {
		for _, v := range tlv.FindAll(records, tlv.Nonce) {
			if len(v) != 32 {
				return nil, mpencerr.New(mpencerr.KindProtocolDecode, "greet.Decode", "malformed nonce")
			}
			var n [32]byte
			copy(n[:], v)
			p.Nonces = append(p.Nonces, n)
		}
		for _, v := range tlv.FindAll(records, tlv.PubKey) {
			p.PubKeys = append(p.PubKeys, ed25519.PublicKey(append([]byte(nil), v...)))
		}
		for _, v := range tlv.FindAll(records, tlv.SessionSignature) {
			if v == nil {
				p.SessionSignatures = append(p.SessionSignatures, nil)
				continue
			}
			p.SessionSignatures = append(p.SessionSignatures, append([]byte(nil), v...))
		}
	}
	if v, ok := tlv.Find(records, tlv.SigningKey); ok {
		p.RevealedPrivateKey = ed25519.PrivateKey(append([]byte(nil), v...))
	}
	return p, nil
}

// fromGkaSke merges a GKA and/or SKE message into one outgoing Packet.
func fromGkaSke(gkaMsg *gka.Message, skeMsg *ske.Message, flags TypeFlags) *Packet {
	p := &Packet{Flags: flags}
	if gkaMsg != nil {
		p.Source = gkaMsg.Source
		p.Dest = gkaMsg.Dest
		p.Members = gkaMsg.Members
		p.IntKeys = gkaMsg.IntKeys
		p.Cardinal = gkaMsg.Cardinal
		p.Flags.Gka = true
		p.Flags.Down = gkaMsg.Down
		p.Flags.Init = gkaMsg.Initial
	}
	if skeMsg != nil {
		p.Source = skeMsg.Source
		p.Dest = skeMsg.Dest
		p.Members = skeMsg.Members
		p.Nonces = skeMsg.Nonces
		p.PubKeys = skeMsg.PubKeys
		p.SessionSignatures = skeMsg.SessionSignatures
		p.Flags.Ske = true
		p.Flags.Down = p.Flags.Down || skeMsg.Down
		p.Flags.Init = p.Flags.Init || skeMsg.Initial
	}
	return p
}

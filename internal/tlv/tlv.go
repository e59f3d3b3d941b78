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

// Package tlv implements the binary type-length-value codec the engine
// uses for every greeting and data-message record: type(u16 BE) ‖
// length(u16 BE) ‖ value(length bytes).
package tlv

import (
	"encoding/binary"
	"fmt"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// Type identifies a single TLV record kind.
type Type uint16

const (
	Padding          Type = 0
	ProtocolVersion  Type = 1
	DataMessage      Type = 2
	MessageSignature Type = 3
	MessageIV        Type = 4
	MessageType      Type = 5
	SidkeyHint       Type = 6

	Source            Type = 256
	Dest              Type = 257
	Member            Type = 258
	IntKey            Type = 259
	Nonce             Type = 260
	PubKey            Type = 261
	SessionSignature  Type = 262
	SigningKey        Type = 263
	MessageParent     Type = 264
	MessageBody       Type = 265
	MessagePayload    Type = 266

	RecoverySessionId Type = 267
	RecoveryGroupKey  Type = 268
)

// arrayTypes are the record kinds whose count must never exceed the
// member-list size of the enclosing greeting.
var arrayTypes = map[Type]bool{
	Member: true,
	IntKey: true,
	Nonce:  true,
	PubKey: true,
}

// Record is one decoded TLV entry.
type Record struct {
	Type  Type
	Value []byte
}

const headerSize = 4 // 2 bytes type + 2 bytes length

// Encode appends type(u16 BE) ‖ length(u16 BE) ‖ value to dst and returns
// the result. length must fit in 16 bits.
func Encode(dst []byte, t Type, value []byte) ([]byte, error) {
	if len(value) > 0xFFFF {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.Encode", fmt.Sprintf("value too long: %d bytes", len(value)))
	}
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(value)))
	dst = append(dst, buf...)
	dst = append(dst, value...)
	return dst, nil
}

// EncodeAll encodes a fixed-order sequence of records into one buffer.
func EncodeAll(records []Record) ([]byte, error) {
	var buf []byte
	var err error
	for _, r := range records {
		buf, err = Encode(buf, r.Type, r.Value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode parses every record in data in order, rejecting truncated
// headers/values. maxArrayCount bounds the count of array-typed records
// (MEMBER, INT_KEY, NONCE, PUB_KEY) that may appear among equal-typed
// siblings — callers pass the number of members known so far, or -1 to
// skip the check (e.g. while decoding the MEMBER list itself).
func Decode(data []byte, maxArrayCount int) ([]Record, error) {
	var records []Record
	counts := map[Type]int{}

	for len(data) > 0 {
		if len(data) < headerSize {
			return nil, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.Decode", "truncated record header")
		}
		t := Type(binary.BigEndian.Uint16(data[0:2]))
		length := int(binary.BigEndian.Uint16(data[2:4]))
		data = data[headerSize:]
		if length > len(data) {
			return nil, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.Decode", "record length exceeds remaining buffer")
		}
		value := data[:length]
		data = data[length:]

		if arrayTypes[t] {
			counts[t]++
			if maxArrayCount >= 0 && counts[t] > maxArrayCount {
				return nil, mpencerr.New(mpencerr.KindProtocolDecode, "tlv.Decode", fmt.Sprintf("too many %v records: exceeds member count", t))
			}
		}

		records = append(records, Record{Type: t, Value: value})
	}
	return records, nil
}

// Find returns the value of the first record of type t, and whether it was present.
func Find(records []Record, t Type) ([]byte, bool) {
	for _, r := range records {
		if r.Type == t {
			return r.Value, true
		}
	}
	return nil, false
}

// FindAll returns the values of every record of type t, in order.
func FindAll(records []Record, t Type) [][]byte {
	var out [][]byte
	for _, r := range records {
		if r.Type == t {
			out = append(out, r.Value)
		}
	}
	return out
}

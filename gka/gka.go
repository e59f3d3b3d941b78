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

// Package gka implements the Diffie-Hellman-tree group key agreement: the
// per-member state and upflow/downflow operations that let a dynamic set
// of participants derive a shared group key without a trusted third party.
package gka

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/mpenc/crypto/keys"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

const scalarSize = keys.ScalarSize

// groupKeyInfo is the HKDF context string for deriving the 32-byte group
// key from a DH-tree cardinal.
const groupKeyInfo = "mpenc group key"

// Message is the wire-level representation of a GKA upflow or downflow
// packet. Down=false (upflow) packets are directed at Dest; Down=true
// (downflow) packets are broadcast and Dest is empty.
type Message struct {
	Source   string
	Dest     string
	Down     bool
	Initial  bool // true for an IKA (not an auxiliary join)
	Members  []string
	IntKeys  [][scalarSize]byte
	Cardinal [scalarSize]byte
}

// Member holds one participant's group key agreement state.
type Member struct {
	self        string
	members     []string
	myPos       int
	intKeys     [][scalarSize]byte
	privScalars [][scalarSize]byte
	groupKey    []byte
}

// NewMember creates GKA state for the participant identified by self.
func NewMember(self string) *Member {
	return &Member{self: self}
}

// Members returns the current membership list.
func (m *Member) Members() []string {
	return append([]string(nil), m.members...)
}

// GroupKey returns the last derived 32-byte group key, or nil if none has
// been derived yet.
func (m *Member) GroupKey() []byte {
	return m.groupKey
}

// Ika starts an initial key agreement among self and others. It resets
// all prior state and returns the first upflow message, directed at the
// first of others.
func (m *Member) Ika(others []string) (*Message, error) {
	if len(others) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.Ika", "empty member set")
	}
	if err := checkNoDuplicates(append([]string{m.self}, others...)); err != nil {
		return nil, err
	}

	m.members = append([]string{m.self}, others...)
	m.intKeys = nil
	m.privScalars = nil
	m.groupKey = nil
	m.myPos = 0

	return m.upflowStep(nil, [scalarSize]byte{}, true)
}

// AkaJoin extends the membership with newMembers and returns an upflow
// message directed at the first of them.
func (m *Member) AkaJoin(newMembers []string) (*Message, error) {
	if len(newMembers) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaJoin", "empty member set")
	}
	combined := append(append([]string(nil), m.members...), newMembers...)
	if err := checkNoDuplicates(combined); err != nil {
		return nil, err
	}

	m.members = combined
	cardinal, err := m.renew()
	if err != nil {
		return nil, err
	}

	return &Message{
		Source:   m.self,
		Dest:     newMembers[0],
		Down:     false,
		Initial:  false,
		Members:  m.Members(),
		IntKeys:  copyIntKeys(m.intKeys),
		Cardinal: cardinal,
	}, nil
}

// AkaExclude removes excludeMembers from the group and returns a
// broadcast downflow message carrying the refreshed intermediate keys
// and a freshly derived group key.
func (m *Member) AkaExclude(excludeMembers []string) (*Message, error) {
	if len(excludeMembers) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaExclude", "empty exclude set")
	}
	for _, e := range excludeMembers {
		if e == m.self {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaExclude", "cannot exclude self")
		}
	}

	keep := make([]int, 0, len(m.members))
	for i, mem := range m.members {
		excluded := false
		for _, e := range excludeMembers {
			if mem == e {
				excluded = true
				break
			}
		}
		if !excluded {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(m.members) {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaExclude", "exclusion of non-member")
	}

	m.members = selectStrings(m.members, keep)
	m.intKeys = selectKeys(m.intKeys, keep)
	m.myPos = indexOf(m.members, m.self)
	if m.myPos < 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaExclude", "self excluded itself")
	}

	cardinal, err := m.renew()
	if err != nil {
		return nil, err
	}
	if err := m.deriveGroupKey(cardinal); err != nil {
		return nil, err
	}

	return &Message{
		Source:  m.self,
		Down:    true,
		Members: m.Members(),
		IntKeys: copyIntKeys(m.intKeys),
	}, nil
}

// AkaRefresh re-keys the current membership without changing it.
func (m *Member) AkaRefresh() (*Message, error) {
	if len(m.members) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.AkaRefresh", "no active membership")
	}
	cardinal, err := m.renew()
	if err != nil {
		return nil, err
	}
	if err := m.deriveGroupKey(cardinal); err != nil {
		return nil, err
	}
	return &Message{
		Source:  m.self,
		Down:    true,
		Members: m.Members(),
		IntKeys: copyIntKeys(m.intKeys),
	}, nil
}

// AkaQuit clears local state. It produces no packet; peers learn of the
// departure through an exclude driven by the channel membership notice.
func (m *Member) AkaQuit() {
	zeroScalars(m.privScalars)
	zeroScalars(m.intKeys)
	m.members = nil
	m.intKeys = nil
	m.privScalars = nil
	m.groupKey = nil
	m.myPos = -1
}

// Upflow processes an incoming directed upflow message. If self is the
// last member to contribute, it derives the group key and returns a
// broadcast downflow message; otherwise it returns the next upflow
// message addressed to the following member.
func (m *Member) Upflow(msg *Message) (*Message, error) {
	if msg == nil {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.Upflow", "nil message")
	}
	if msg.Initial || len(m.members) == 0 {
		m.members = append([]string(nil), msg.Members...)
	}
	pos := indexOf(m.members, m.self)
	if pos < 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.Upflow", "self is not a member")
	}
	if len(msg.IntKeys) != pos {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "gka.Upflow", "intermediate key count does not match position")
	}
	m.myPos = pos
	return m.upflowStep(msg.IntKeys, msg.Cardinal, msg.Initial)
}

// upflowStep runs one hop of the upflow chain: append the incoming
// running cardinal as this member's own slot, renew, and either forward
// or finish with a downflow broadcast.
func (m *Member) upflowStep(incoming [][scalarSize]byte, runningCardinal [scalarSize]byte, initial bool) (*Message, error) {
	m.intKeys = append(copyIntKeys(incoming), runningCardinal)
	if len(incoming) == 0 {
		// IKA bootstrap: the running cardinal for position 0 is the
		// fixed point ScalarBaseMult yields for the all-zero scalar,
		// representing "no contribution yet".
		m.intKeys[0] = keys.ScalarBaseMult([scalarSize]byte{})
	}

	cardinal, err := m.renew()
	if err != nil {
		return nil, err
	}

	if len(m.intKeys) > len(m.members) {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "gka.upflowStep", "intermediate key count exceeds member count")
	}

	if m.myPos == len(m.members)-1 {
		if err := m.deriveGroupKey(cardinal); err != nil {
			return nil, err
		}
		return &Message{
			Source:  m.self,
			Down:    true,
			Initial: initial,
			Members: m.Members(),
			IntKeys: copyIntKeys(m.intKeys),
		}, nil
	}

	return &Message{
		Source:   m.self,
		Dest:     m.members[m.myPos+1],
		Down:     false,
		Initial:  initial,
		Members:  m.Members(),
		IntKeys:  copyIntKeys(m.intKeys),
		Cardinal: cardinal,
	}, nil
}

// Downflow processes a broadcast downflow message: adopts its member
// list and intermediate keys and, if self is present, derives the group
// key by folding every retained private scalar through intKeys[myPos].
func (m *Member) Downflow(msg *Message) error {
	if msg == nil {
		return mpencerr.New(mpencerr.KindStateViolation, "gka.Downflow", "nil message")
	}
	if msg.Initial {
		if !sameMembers(msg.Members, m.members) {
			return mpencerr.New(mpencerr.KindStateViolation, "gka.Downflow", "initial downflow member list mismatch")
		}
	} else if !subsetOf(msg.Members, m.members) && !subsetOf(m.members, msg.Members) {
		return mpencerr.New(mpencerr.KindStateViolation, "gka.Downflow", "downflow membership change is neither a join nor an exclusion of self's members")
	}
	if len(msg.IntKeys) != len(msg.Members) {
		return mpencerr.New(mpencerr.KindProtocolDecode, "gka.Downflow", "intermediate key count mismatch")
	}

	m.members = append([]string(nil), msg.Members...)
	m.intKeys = copyIntKeys(msg.IntKeys)
	m.myPos = indexOf(m.members, m.self)

	if m.myPos < 0 {
		// We were excluded; drop sensitive state.
		m.AkaQuit()
		return nil
	}

	seed := m.intKeys[m.myPos]
	var err error
	for _, scalar := range m.privScalars {
		seed, err = keys.ScalarMult(scalar, seed)
		if err != nil {
			return mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.Downflow", "group key derivation failed", err)
		}
	}
	return m.deriveGroupKey(seed)
}

// renew implements the GKA "renew" procedure: patch the prior scalar
// into intKeys[myPos], generate a fresh scalar, fold it into every other
// position, and return the new cardinal.
func (m *Member) renew() ([scalarSize]byte, error) {
	var zero [scalarSize]byte
	if len(m.intKeys) <= m.myPos {
		return zero, mpencerr.New(mpencerr.KindStateViolation, "gka.renew", "no intermediate key slot for self")
	}

	if len(m.privScalars) > 0 {
		last := m.privScalars[len(m.privScalars)-1]
		patched, err := keys.ScalarMult(last, m.intKeys[m.myPos])
		if err != nil {
			return zero, mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.renew", "patch failed", err)
		}
		m.intKeys[m.myPos] = patched
		zeroScalars(m.privScalars)
		m.privScalars = nil
	}

	newPriv, err := keys.GenerateScalar()
	if err != nil {
		return zero, mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.renew", "scalar generation failed", err)
	}

	for i := range m.intKeys {
		if i == m.myPos {
			continue
		}
		folded, err := keys.ScalarMult(newPriv, m.intKeys[i])
		if err != nil {
			return zero, mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.renew", "fold failed", err)
		}
		m.intKeys[i] = folded
	}

	cardinal, err := keys.ScalarMult(newPriv, m.intKeys[m.myPos])
	if err != nil {
		return zero, mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.renew", "cardinal computation failed", err)
	}

	m.privScalars = append(m.privScalars, newPriv)
	return cardinal, nil
}

// deriveGroupKey runs HKDF-SHA-256 over the DH-tree cardinal with the
// fixed "mpenc group key" context and stores the 32-byte result.
func (m *Member) deriveGroupKey(cardinal [scalarSize]byte) error {
	h := hkdf.New(sha256.New, cardinal[:], nil, []byte(groupKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return mpencerr.Wrap(mpencerr.KindCryptoVerify, "gka.deriveGroupKey", "hkdf expand failed", err)
	}
	zeroScalars([][scalarSize]byte{cardinal})
	m.groupKey = key
	return nil
}

func checkNoDuplicates(members []string) error {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m] {
			return mpencerr.New(mpencerr.KindStateViolation, "gka", "duplicate member: "+m)
		}
		seen[m] = true
	}
	return nil
}

func indexOf(members []string, target string) int {
	for i, m := range members {
		if m == target {
			return i
		}
	}
	return -1
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func subsetOf(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, m := range b {
		set[m] = true
	}
	for _, m := range a {
		if !set[m] {
			return false
		}
	}
	return true
}

func selectStrings(src []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func selectKeys(src [][scalarSize]byte, idx []int) [][scalarSize]byte {
	out := make([][scalarSize]byte, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func copyIntKeys(src [][scalarSize]byte) [][scalarSize]byte {
	if src == nil {
		return nil
	}
	out := make([][scalarSize]byte, len(src))
	copy(out, src)
	return out
}

func zeroScalars(scalars [][scalarSize]byte) {
	for i := range scalars {
		for j := range scalars[i] {
			scalars[i][j] = 0
		}
	}
}

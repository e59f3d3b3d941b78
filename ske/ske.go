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

// Package ske implements the Authenticated Signature Key Exchange: the
// nonce-based session identifier, per-member ephemeral signing keys, and
// mutual session-signature acknowledgement that authenticates a GKA
// group key agreement to a shared, verified membership.
package ske

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
)

// Directory resolves a member's long-term (static) Ed25519 public key.
type Directory interface {
	StaticPublicKey(member string) (ed25519.PublicKey, error)
}

// Message is the wire-level representation of an SKE upflow or downflow
// packet, merged into the same greeting packet as the corresponding GKA
// message by the greet package.
type Message struct {
	Source  string
	Dest    string
	Down    bool
	Initial bool
	Members []string

	Nonces  [][32]byte
	PubKeys []ed25519.PublicKey

	// SessionSignatures is aligned with Members; a nil entry means that
	// member has not yet signed.
	SessionSignatures [][]byte

	// RevealedPrivateKey, set only on a QUIT downflow, lets peers later
	// verify the bound that the quitting member did not sign anything
	// after revealing it.
	RevealedPrivateKey ed25519.PrivateKey
}

// Member holds one participant's SKE state.
type Member struct {
	self       string
	staticPriv ed25519.PrivateKey
	dir        Directory

	members []string
	myPos   int

	nonce   [32]byte
	ephPriv ed25519.PrivateKey
	ephPub  ed25519.PublicKey

	nonces   [][32]byte
	pubKeys  []ed25519.PublicKey
	sessionSignatures [][]byte

	authenticatedMembers []bool
	sessionId            [32]byte
}

// NewMember creates SKE state for self, signing with staticPriv and
// resolving peers' static public keys through dir.
func NewMember(self string, staticPriv ed25519.PrivateKey, dir Directory) *Member {
	return &Member{self: self, staticPriv: staticPriv, dir: dir}
}

// SessionId returns the last computed 32-byte session identifier.
func (m *Member) SessionId() [32]byte {
	return m.sessionId
}

// EphemeralPublicKey returns this member's ephemeral signing public key.
func (m *Member) EphemeralPublicKey() ed25519.PublicKey {
	return m.ephPub
}

// EphemeralPrivateKey returns this member's current ephemeral signing
// private key, used to sign data messages under the running epoch.
func (m *Member) EphemeralPrivateKey() ed25519.PrivateKey {
	return m.ephPriv
}

// EphemeralPublicKeys returns every member's ephemeral signing public
// key, aligned index-for-index with Members(), once the session is
// acknowledged.
func (m *Member) EphemeralPublicKeys() []ed25519.PublicKey {
	return append([]ed25519.PublicKey(nil), m.pubKeys...)
}

// Commit starts a nonce/key exchange with others and returns the first
// upflow message, directed at the first of others.
func (m *Member) Commit(others []string) (*Message, error) {
	if len(others) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Commit", "empty member set")
	}
	m.members = append([]string{m.self}, others...)
	m.nonces = nil
	m.pubKeys = nil
	m.sessionSignatures = nil
	m.authenticatedMembers = nil
	m.myPos = 0
	return m.upflowStep(nil, nil, true)
}

// AkaJoin proposes extending the group with newMembers. It returns an
// upflow message directed at the first of newMembers, carrying the
// current members' nonces and ephemeral keys unchanged; the whole group
// re-authenticates under the extended membership once the chain of new
// members completes and broadcasts a downflow.
func (m *Member) AkaJoin(newMembers []string) (*Message, error) {
	if len(newMembers) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaJoin", "empty member set")
	}
	for _, nm := range newMembers {
		if indexOf(m.members, nm) >= 0 {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaJoin", "already a member: "+nm)
		}
	}
	extended := append(append([]string(nil), m.members...), newMembers...)
	return &Message{
		Source:  m.self,
		Dest:    newMembers[0],
		Down:    false,
		Initial: false,
		Members: extended,
		Nonces:  append([][32]byte(nil), m.nonces...),
		PubKeys: append([]ed25519.PublicKey(nil), m.pubKeys...),
	}, nil
}

// AkaExclude removes excludeMembers from the group. It updates self's
// state immediately (mirroring the final step of Downflow for self) and
// returns the downflow broadcast carrying self's fresh session signature
// under the reduced membership.
func (m *Member) AkaExclude(excludeMembers []string) (*Message, error) {
	if len(excludeMembers) == 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaExclude", "empty exclusion set")
	}
	for _, e := range excludeMembers {
		if e == m.self {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaExclude", "cannot exclude self")
		}
		if indexOf(m.members, e) < 0 {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaExclude", "not a member: "+e)
		}
	}
	excluded := make(map[string]bool, len(excludeMembers))
	for _, e := range excludeMembers {
		excluded[e] = true
	}

	var remaining []string
	var nonces [][32]byte
	var pubKeys []ed25519.PublicKey
	for i, mem := range m.members {
		if excluded[mem] {
			continue
		}
		remaining = append(remaining, mem)
		nonces = append(nonces, m.nonces[i])
		pubKeys = append(pubKeys, m.pubKeys[i])
	}

	m.members = remaining
	m.nonces = nonces
	m.pubKeys = pubKeys
	m.myPos = indexOf(remaining, m.self)
	m.sessionId = computeSid(remaining, nonces)
	m.authenticatedMembers = make([]bool, len(remaining))
	m.sessionSignatures = make([][]byte, len(remaining))
	sig := m.signSessionId()
	m.sessionSignatures[m.myPos] = sig
	m.authenticatedMembers[m.myPos] = true

	return &Message{
		Source:            m.self,
		Down:              true,
		Members:           m.Members(),
		Nonces:            append([][32]byte(nil), nonces...),
		PubKeys:           append([]ed25519.PublicKey(nil), pubKeys...),
		SessionSignatures: copySignatures(m.sessionSignatures),
	}, nil
}

// AkaRefresh generates a fresh nonce and ephemeral signing keypair for
// self, which changes sessionId and therefore requires everyone to
// re-authenticate.
func (m *Member) AkaRefresh() (*Message, error) {
	newNonce, err := randomNonce()
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "ske.AkaRefresh", "nonce generation failed", err)
	}
	newPub, newPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "ske.AkaRefresh", "ephemeral key generation failed", err)
	}

	m.nonce = newNonce
	m.ephPub = newPub
	m.ephPriv = newPriv
	if m.myPos < 0 || m.myPos >= len(m.nonces) {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.AkaRefresh", "self is not a member")
	}
	m.nonces[m.myPos] = newNonce
	m.pubKeys[m.myPos] = newPub
	m.sessionId = computeSid(m.members, m.nonces)
	m.authenticatedMembers = make([]bool, len(m.members))
	m.sessionSignatures = make([][]byte, len(m.members))
	sig := m.signSessionId()
	m.sessionSignatures[m.myPos] = sig
	m.authenticatedMembers[m.myPos] = true

	return &Message{
		Source:            m.self,
		Down:              true,
		Members:           m.Members(),
		Nonces:            append([][32]byte(nil), m.nonces...),
		PubKeys:           append([]ed25519.PublicKey(nil), m.pubKeys...),
		SessionSignatures: copySignatures(m.sessionSignatures),
	}, nil
}

// AkaQuit reveals self's ephemeral private signing key, letting peers
// later audit that nothing was signed under it after this point.
func (m *Member) AkaQuit() ed25519.PrivateKey {
	return append(ed25519.PrivateKey(nil), m.ephPriv...)
}

// Upflow processes an incoming directed upflow message.
func (m *Member) Upflow(msg *Message) (*Message, error) {
	if msg == nil {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Upflow", "nil message")
	}
	if msg.Initial || len(m.members) == 0 {
		m.members = append([]string(nil), msg.Members...)
	}
	pos := indexOf(m.members, m.self)
	if pos < 0 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Upflow", "self is not a member")
	}
	if len(msg.Nonces) != pos || len(msg.PubKeys) != pos {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "ske.Upflow", "nonce/pubkey count does not match position")
	}
	m.myPos = pos
	return m.upflowStep(msg.Nonces, msg.PubKeys, msg.Initial)
}

func (m *Member) upflowStep(nonces [][32]byte, pubKeys []ed25519.PublicKey, initial bool) (*Message, error) {
	var err error
	m.nonce, err = randomNonce()
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "ske.upflowStep", "nonce generation failed", err)
	}
	m.ephPub, m.ephPriv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "ske.upflowStep", "ephemeral key generation failed", err)
	}

	m.nonces = append(append([][32]byte(nil), nonces...), m.nonce)
	m.pubKeys = append(append([]ed25519.PublicKey(nil), pubKeys...), m.ephPub)

	if m.myPos == len(m.members)-1 {
		m.sessionId = computeSid(m.members, m.nonces)
		sig := m.signSessionId()
		m.sessionSignatures = make([][]byte, len(m.members))
		m.sessionSignatures[m.myPos] = sig
		m.authenticatedMembers = make([]bool, len(m.members))
		m.authenticatedMembers[m.myPos] = true

		return &Message{
			Source:            m.self,
			Down:              true,
			Initial:           initial,
			Members:           m.Members(),
			Nonces:            append([][32]byte(nil), m.nonces...),
			PubKeys:           append([]ed25519.PublicKey(nil), m.pubKeys...),
			SessionSignatures: copySignatures(m.sessionSignatures),
		}, nil
	}

	return &Message{
		Source:  m.self,
		Dest:    m.members[m.myPos+1],
		Down:    false,
		Initial: initial,
		Members: m.Members(),
		Nonces:  append([][32]byte(nil), m.nonces...),
		PubKeys: append([]ed25519.PublicKey(nil), m.pubKeys...),
	}, nil
}

// Downflow processes a broadcast downflow message, verifying any session
// signatures present and, if self has not yet signed, returning a
// re-broadcast message carrying self's own signature. It returns a nil
// message once nothing further needs to be sent.
func (m *Member) Downflow(msg *Message) (*Message, error) {
	if msg == nil {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Downflow", "nil message")
	}
	if err := checkNoDuplicates(msg.Members); err != nil {
		return nil, err
	}
	if msg.Initial {
		if !sameMembers(msg.Members, m.members) {
			return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Downflow", "initial downflow member list mismatch")
		}
	} else if !subsetOf(msg.Members, m.members) && !subsetOf(m.members, msg.Members) {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "ske.Downflow", "downflow membership change is neither a join nor an exclusion of self's members")
	}

	membershipChanged := !sameMembers(msg.Members, m.members)
	m.members = append([]string(nil), msg.Members...)
	m.nonces = append([][32]byte(nil), msg.Nonces...)
	m.pubKeys = append([]ed25519.PublicKey(nil), msg.PubKeys...)
	m.myPos = indexOf(m.members, m.self)
	newSid := computeSid(m.members, m.nonces)
	sidChanged := newSid != m.sessionId
	m.sessionId = newSid

	if membershipChanged || sidChanged {
		m.authenticatedMembers = nil
		m.sessionSignatures = nil
	}
	if m.authenticatedMembers == nil {
		m.authenticatedMembers = make([]bool, len(m.members))
	}
	if m.sessionSignatures == nil {
		m.sessionSignatures = make([][]byte, len(m.members))
	}

	for i, sig := range msg.SessionSignatures {
		if sig == nil || m.authenticatedMembers[i] {
			continue
		}
		peerKey, err := m.dir.StaticPublicKey(m.members[i])
		if err != nil {
			return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "ske.Downflow", "static key lookup failed", err)
		}
		if !ed25519.Verify(peerKey, signedPayload(m.sessionId, m.pubKeys[i], m.nonces[i]), sig) {
			return nil, mpencerr.New(mpencerr.KindCryptoVerify, "ske.Downflow", fmt.Sprintf("session authentication by member %s failed", m.members[i]))
		}
		m.sessionSignatures[i] = sig
		m.authenticatedMembers[i] = true
	}

	if m.myPos >= 0 && !m.authenticatedMembers[m.myPos] {
		sig := m.signSessionId()
		m.sessionSignatures[m.myPos] = sig
		m.authenticatedMembers[m.myPos] = true
		return &Message{
			Source:            m.self,
			Down:              true,
			Members:           m.Members(),
			Nonces:            append([][32]byte(nil), m.nonces...),
			PubKeys:           append([]ed25519.PublicKey(nil), m.pubKeys...),
			SessionSignatures: copySignatures(m.sessionSignatures),
		}, nil
	}
	return nil, nil
}

// IsSessionAcknowledged reports whether every member's session signature
// has been verified.
func (m *Member) IsSessionAcknowledged() bool {
	if len(m.authenticatedMembers) == 0 {
		return false
	}
	for _, ok := range m.authenticatedMembers {
		if !ok {
			return false
		}
	}
	return true
}

// DiscardAuthentications clears every acknowledgement except self's own,
// used when a recovery flow restarts the authentication round.
func (m *Member) DiscardAuthentications() {
	for i := range m.authenticatedMembers {
		if i != m.myPos {
			m.authenticatedMembers[i] = false
			m.sessionSignatures[i] = nil
		}
	}
}

// Members returns the current membership list.
func (m *Member) Members() []string {
	return append([]string(nil), m.members...)
}

func (m *Member) signSessionId() []byte {
	return ed25519.Sign(m.staticPriv, signedPayload(m.sessionId, m.ephPub, m.nonce))
}

func signedPayload(sid [32]byte, pub ed25519.PublicKey, nonce [32]byte) []byte {
	payload := make([]byte, 0, 32+len(pub)+32)
	payload = append(payload, sid[:]...)
	payload = append(payload, pub...)
	payload = append(payload, nonce[:]...)
	return payload
}

// computeSid hashes sorted (member, nonce) pairs: H(m1‖n1‖m2‖n2‖…).
// Members with an all-zero (absent) nonce are skipped, permitting
// nonce-only mid-protocol states to still hash deterministically.
func computeSid(members []string, nonces [][32]byte) [32]byte {
	type pair struct {
		member string
		nonce  [32]byte
		has    bool
	}
	pairs := make([]pair, len(members))
	var zero [32]byte
	for i, mem := range members {
		var n [32]byte
		has := false
		if i < len(nonces) {
			n = nonces[i]
			has = n != zero
		}
		pairs[i] = pair{member: mem, nonce: n, has: has}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].member < pairs[j].member })

	h := sha256.New()
	for _, p := range pairs {
		if !p.has {
			continue
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(p.member)))
		h.Write(lenBuf[:])
		h.Write([]byte(p.member))
		h.Write(p.nonce[:])
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func randomNonce() ([32]byte, error) {
	var n [32]byte
	_, err := io.ReadFull(rand.Reader, n[:])
	return n, err
}

func copySignatures(src [][]byte) [][]byte {
	out := make([][]byte, len(src))
	copy(out, src)
	return out
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

func checkNoDuplicates(members []string) error {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m] {
			return mpencerr.New(mpencerr.KindStateViolation, "ske", "duplicate member: "+m)
		}
		seen[m] = true
	}
	return nil
}

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

// Package recovery seals the catch-up bundle a rejoining or
// out-of-sync member needs — the current session id, membership, and
// group key — to that member's long-term Ed25519 identity key via
// HPKE, so a RECOVER-flow response can be handed to a single member
// over an otherwise public channel without leaking the group key to
// anyone else.
package recovery

import (
	"crypto/ed25519"

	"github.com/sage-x-project/mpenc/crypto/keys"
	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/internal/tlv"
)

var (
	hpkeInfo      = []byte("mpenc-recovery-hpke-v1")
	hpkeExportCtx = []byte("mpenc-recovery-export-v1")
)

// Bundle is the catch-up state sent to one member via RECOVER.
type Bundle struct {
	SessionId [32]byte
	Members   []string
	GroupKey  []byte // 16 bytes, AES-128 group key for the current epoch
}

// Seal encrypts bundle so that only the holder of recipientPriv (the
// X25519 conversion of recipientPub) can open it.
func Seal(recipientPub ed25519.PublicKey, bundle Bundle) ([]byte, error) {
	peer, err := keys.X25519PublicFromEd25519(recipientPub)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "recovery.Seal", "recipient key is not a valid Ed25519 point", err)
	}
	plaintext, err := encodeBundle(bundle)
	if err != nil {
		return nil, err
	}
	packet, _, err := keys.HPKESealAndExportToX25519Peer(peer, plaintext, hpkeInfo, hpkeExportCtx, 0)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "recovery.Seal", "hpke seal failed", err)
	}
	return packet, nil
}

// Open decrypts a bundle sealed by Seal using recipientPriv, the same
// long-term Ed25519 identity key the sender targeted.
func Open(recipientPriv ed25519.PrivateKey, packet []byte) (Bundle, error) {
	priv, err := keys.X25519PrivateFromEd25519(recipientPriv)
	if err != nil {
		return Bundle{}, mpencerr.Wrap(mpencerr.KindCryptoVerify, "recovery.Open", "recipient key is not a valid Ed25519 scalar", err)
	}
	plaintext, _, err := keys.HPKEOpenAndExportWithX25519Priv(priv, packet, hpkeInfo, hpkeExportCtx, 0)
	if err != nil {
		return Bundle{}, mpencerr.Wrap(mpencerr.KindCryptoVerify, "recovery.Open", "hpke open failed", err)
	}
	return decodeBundle(plaintext)
}

func encodeBundle(b Bundle) ([]byte, error) {
	records := []tlv.Record{
		{Type: tlv.RecoverySessionId, Value: append([]byte(nil), b.SessionId[:]...)},
		{Type: tlv.RecoveryGroupKey, Value: append([]byte(nil), b.GroupKey...)},
	}
	for _, m := range b.Members {
		records = append(records, tlv.Record{Type: tlv.Member, Value: []byte(m)})
	}
	return tlv.EncodeAll(records)
}

func decodeBundle(data []byte) (Bundle, error) {
	records, err := tlv.Decode(data, -1)
	if err != nil {
		return Bundle{}, err
	}
	var b Bundle
	sid, ok := tlv.Find(records, tlv.RecoverySessionId)
	if !ok || len(sid) != 32 {
		return Bundle{}, mpencerr.New(mpencerr.KindProtocolDecode, "recovery.decodeBundle", "missing or malformed session id")
	}
	copy(b.SessionId[:], sid)

	key, ok := tlv.Find(records, tlv.RecoveryGroupKey)
	if !ok {
		return Bundle{}, mpencerr.New(mpencerr.KindProtocolDecode, "recovery.decodeBundle", "missing group key")
	}
	b.GroupKey = append([]byte(nil), key...)

	for _, v := range tlv.FindAll(records, tlv.Member) {
		b.Members = append(b.Members, string(v))
	}
	return b, nil
}

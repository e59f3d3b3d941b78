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

// Package msgsec implements authenticated encryption for data messages:
// AES-128-CTR payload encryption bound to the running session by an
// Ed25519 signature over a sidkey hash, with a one-byte hint that lets a
// receiver select the right epoch among several in flight.
package msgsec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/sage-x-project/mpenc/internal/mpencerr"
	"github.com/sage-x-project/mpenc/internal/tlv"
)

const ProtocolVersion byte = 1

// MessageType values carried in the MESSAGE_TYPE record.
const (
	ParticipantData byte = 0
)

var (
	dataMagic    = []byte("datamsgsig")
	greetMagic   = []byte("greetmsgsig")
	errorMagic   = []byte("errormsgsig")
)

// Epoch bundles the keying material for one session that a decoder must
// try when trial-decrypting a packet.
type Epoch struct {
	SessionId   [32]byte
	GroupKey    []byte // 16 bytes, used as the AES-128 key directly
	SidkeyHash  [32]byte
}

// NewEpoch derives SidkeyHash = SHA-256(sessionId || groupKey).
func NewEpoch(sessionId [32]byte, groupKey []byte) Epoch {
	h := sha256.New()
	h.Write(sessionId[:])
	h.Write(groupKey)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return Epoch{SessionId: sessionId, GroupKey: groupKey, SidkeyHash: sum}
}

// Encoded is a fully-assembled authenticated data-message packet, ready
// for TLV framing by the caller.
type Encoded struct {
	SidkeyHint byte
	Signature  []byte
	Payload    []byte
}

// AuthEncrypt seals content under epoch's keys, signing with signerPriv.
// paddingSize, if > 0, pads the plaintext to the next power-of-two
// boundary (see padTo).
func AuthEncrypt(epoch Epoch, signerPriv ed25519.PrivateKey, content []byte, paddingSize int) (*Encoded, error) {
	if len(epoch.GroupKey) != 16 {
		return nil, mpencerr.New(mpencerr.KindStateViolation, "msgsec.AuthEncrypt", "group key must be 16 bytes for AES-128")
	}
	block, err := aes.NewCipher(epoch.GroupKey)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "msgsec.AuthEncrypt", "cipher init failed", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv[:12]); err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "msgsec.AuthEncrypt", "nonce generation failed", err)
	}

	plaintext := padTo(content, paddingSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	body, err := tlv.EncodeAll([]tlv.Record{
		{Type: tlv.ProtocolVersion, Value: []byte{ProtocolVersion}},
		{Type: tlv.MessageType, Value: []byte{ParticipantData}},
		{Type: tlv.MessageIV, Value: iv[:12]},
		{Type: tlv.MessagePayload, Value: ciphertext},
	})
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(signerPriv, signedPayload(dataMagic, epoch.SidkeyHash, body))

	return &Encoded{
		SidkeyHint: epoch.SidkeyHash[0],
		Signature:  sig,
		Payload:    body,
	}, nil
}

// DecryptVerify looks up the epoch whose SidkeyHash[0] matches hint among
// candidates, verifies signature under signerPub, and decrypts.
func DecryptVerify(candidates []Epoch, hint byte, signature []byte, body []byte, signerPub ed25519.PublicKey) ([]byte, error) {
	for _, epoch := range candidates {
		if epoch.SidkeyHash[0] != hint {
			continue
		}
		if !ed25519.Verify(signerPub, signedPayload(dataMagic, epoch.SidkeyHash, body), signature) {
			continue
		}
		return decryptBody(epoch, body)
	}
	return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.DecryptVerify", "no known epoch matches sidkey hint")
}

func decryptBody(epoch Epoch, body []byte) ([]byte, error) {
	records, err := tlv.Decode(body, -1)
	if err != nil {
		return nil, err
	}
	version, ok := tlv.Find(records, tlv.ProtocolVersion)
	if !ok || len(version) != 1 || version[0] != ProtocolVersion {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.decryptBody", "unsupported or missing protocol version")
	}
	iv, ok := tlv.Find(records, tlv.MessageIV)
	if !ok || len(iv) != 12 {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.decryptBody", "missing or malformed message IV")
	}
	payload, ok := tlv.Find(records, tlv.MessagePayload)
	if !ok {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.decryptBody", "missing message payload")
	}

	block, err := aes.NewCipher(epoch.GroupKey)
	if err != nil {
		return nil, mpencerr.Wrap(mpencerr.KindCryptoVerify, "msgsec.decryptBody", "cipher init failed", err)
	}
	fullIV := make([]byte, aes.BlockSize)
	copy(fullIV, iv)
	plaintext := make([]byte, len(payload))
	cipher.NewCTR(block, fullIV).XORKeyStream(plaintext, payload)
	return unpad(plaintext)
}

// MessageId is the first 20 bytes of SHA-256(signature || content).
func MessageId(signature, content []byte) [20]byte {
	h := sha256.New()
	h.Write(signature)
	h.Write(content)
	var id [20]byte
	copy(id[:], h.Sum(nil))
	return id
}

// SignGreeting signs a greeting packet body for inclusion in the wire
// error/greeting signature envelope described by the protocol.
func SignGreeting(signerPriv ed25519.PrivateKey, sidkeyHash [32]byte, body []byte) []byte {
	return ed25519.Sign(signerPriv, signedPayload(greetMagic, sidkeyHash, body))
}

// VerifyGreeting verifies a greeting signature produced by SignGreeting.
func VerifyGreeting(signerPub ed25519.PublicKey, sidkeyHash [32]byte, body, signature []byte) bool {
	return ed25519.Verify(signerPub, signedPayload(greetMagic, sidkeyHash, body), signature)
}

// SignError signs the text of a protocol error frame.
func SignError(signerPriv ed25519.PrivateKey, sidkeyHash [32]byte, text []byte) []byte {
	return ed25519.Sign(signerPriv, signedPayload(errorMagic, sidkeyHash, text))
}

// VerifyError verifies an error-frame signature produced by SignError.
func VerifyError(signerPub ed25519.PublicKey, sidkeyHash [32]byte, text, signature []byte) bool {
	return ed25519.Verify(signerPub, signedPayload(errorMagic, sidkeyHash, text), signature)
}

func signedPayload(magic []byte, sidkeyHash [32]byte, content []byte) []byte {
	buf := make([]byte, 0, len(magic)+32+len(content))
	buf = append(buf, magic...)
	buf = append(buf, sidkeyHash[:]...)
	buf = append(buf, content...)
	return buf
}

// padTo prepends a 2-byte big-endian length then appends zero padding so
// the total length is paddingSize * 2^ceil(log2(ceil(L/paddingSize))) + 1,
// per the protocol's padding rule. paddingSize <= 0 disables padding and
// just prepends the length prefix.
func padTo(content []byte, paddingSize int) []byte {
	prefixed := make([]byte, 2+len(content))
	binary.BigEndian.PutUint16(prefixed[:2], uint16(len(content)))
	copy(prefixed[2:], content)

	if paddingSize <= 0 {
		return prefixed
	}
	chunks := (len(prefixed) + paddingSize - 1) / paddingSize
	if chunks < 1 {
		chunks = 1
	}
	exp := bits.Len(uint(chunks - 1))
	target := paddingSize*(1<<exp) + 1
	if target < len(prefixed) {
		target = len(prefixed)
	}
	out := make([]byte, target)
	copy(out, prefixed)
	return out
}

func unpad(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.unpad", "plaintext too short for length prefix")
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if n > len(data)-2 {
		return nil, mpencerr.New(mpencerr.KindProtocolDecode, "msgsec.unpad", "declared content length exceeds plaintext")
	}
	return bytes.Clone(data[2 : 2+n]), nil
}

// EpochBySidkeyHash finds a candidate epoch by exact sidkey hash, used by
// callers that already know the epoch rather than trial-decrypting.
func EpochBySidkeyHash(candidates []Epoch, hash [32]byte) (Epoch, bool) {
	for _, e := range candidates {
		if e.SidkeyHash == hash {
			return e, true
		}
	}
	return Epoch{}, false
}

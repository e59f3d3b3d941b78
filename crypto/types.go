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

package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies the cryptographic primitive backing a KeyPair.
type KeyType string

const (
	// KeyTypeEd25519 identifies long-term signing identity keys.
	KeyTypeEd25519 KeyType = "Ed25519"
	// KeyTypeX25519 identifies ephemeral Diffie-Hellman keys used in the
	// group key agreement cardinal/intermediate tree.
	KeyTypeX25519 KeyType = "X25519"
)

// KeyPair is the common surface every member-held key exposes, whether it
// signs (Ed25519 identity keys) or only participates in ECDH (X25519
// ephemeral keys, which reject Sign/Verify).
type KeyPair interface {
	// PublicKey returns the public key.
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key.
	PrivateKey() crypto.PrivateKey

	// Type returns the key type.
	Type() KeyType

	// Sign signs the given message.
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature.
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair.
	ID() string
}

// Common errors returned by key pair implementations.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignNotSupported = errors.New("key agreement keys do not support signing")
	ErrVerifyNotSupported = errors.New("key agreement keys do not support signature verification")
)
